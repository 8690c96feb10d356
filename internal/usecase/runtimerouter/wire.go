package runtimerouter

import (
	"log/slog"

	"browsir/internal/domain"
	"browsir/internal/infra/config"
	"browsir/internal/usecase/infrahandler"
	"browsir/internal/usecase/loop"
	"browsir/internal/usecase/sessionstore"
)

// NewDefault wires the full dispatch table: config/bridge/lease/cdp
// forwarded to infra verbatim, brain.run/session/step handled directly,
// everything else a structured "unsupported" result.
func NewDefault(infra *infrahandler.Handler, loopCtrl *loop.Controller, dispatcher *loop.Dispatcher, sessions sessionstore.Store, bus domain.EventBus, cfg *config.Config, idGen func() string, logger *slog.Logger) *Router {
	r := New(logger)
	RegisterInfraHandlers(r, infra)
	RegisterBrainHandlers(r, Deps{
		Loop: loopCtrl, Dispatcher: dispatcher, Sessions: sessions, StepBuffer: NewStepBuffer(bus, cfg.Runtime.StepBuffer),
		Config: cfg, IDGen: idGen,
	})
	return r
}
