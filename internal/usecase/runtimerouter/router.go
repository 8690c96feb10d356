// Package runtimerouter implements the single inbound message dispatch
// point the rest of the runtime's components sit behind: it classifies a
// message by its type prefix, forwards config/bridge/lease/cdp messages to
// the infra handler verbatim, drives the agent loop controller for
// brain.run.* messages, and serves session/step-buffer reads directly.
package runtimerouter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"browsir/internal/domain"
	"browsir/internal/usecase/infrahandler"
)

// Envelope is one parsed inbound message: the routing header plus the
// original payload bytes, which each handler re-unmarshals into whatever
// shape it needs.
type Envelope struct {
	Type      string
	SessionID string
	Raw       json.RawMessage
}

type envelopeHead struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
}

// HandlerFunc resolves one envelope to a result. It never panics across the
// router boundary — Handle recovers and folds a panic into {ok:false}.
type HandlerFunc func(ctx context.Context, env Envelope) infrahandler.Result

// BeforeHook may rewrite or block an inbound envelope. Returning a non-nil
// error short-circuits dispatch with that error as the result.
type BeforeHook func(ctx context.Context, env Envelope) (Envelope, error)

// AfterHook may rewrite an outbound result before it reaches the caller.
type AfterHook func(ctx context.Context, env Envelope, result infrahandler.Result) infrahandler.Result

// ErrorHook observes a dispatch error before it's folded into a result
// envelope — used for logging/metrics, never to swallow the error itself.
type ErrorHook func(ctx context.Context, env Envelope, err error)

// HookRegistry holds the runtime.route.before/after/error hook chains.
type HookRegistry struct {
	Before []BeforeHook
	After  []AfterHook
	Error  []ErrorHook
}

func (h *HookRegistry) AddBefore(fn BeforeHook) { h.Before = append(h.Before, fn) }
func (h *HookRegistry) AddAfter(fn AfterHook)   { h.After = append(h.After, fn) }
func (h *HookRegistry) AddError(fn ErrorHook)   { h.Error = append(h.Error, fn) }

// Router is the map[string]HandlerFunc dispatch table keyed by the exact
// type string, with a secondary prefix table for the config./bridge./
// lease./cdp./brain. families so a new sub-type under an existing family
// doesn't need its own registration.
type Router struct {
	exact  map[string]HandlerFunc
	prefix map[string]HandlerFunc

	hooks  HookRegistry
	logger *slog.Logger
}

// New returns an empty router. Call the Register* methods (or use
// NewDefault to get the full default table) before serving traffic.
func New(logger *slog.Logger) *Router {
	return &Router{
		exact:  make(map[string]HandlerFunc),
		prefix: make(map[string]HandlerFunc),
		logger: logger,
	}
}

// Register binds an exact message type to a handler.
func (r *Router) Register(msgType string, h HandlerFunc) { r.exact[msgType] = h }

// RegisterPrefix binds every type beginning with prefix (e.g. "cdp.") to a
// handler, used when the exact table has no more specific match.
func (r *Router) RegisterPrefix(prefix string, h HandlerFunc) { r.prefix[prefix] = h }

// Hooks returns the registry so callers can add before/after/error hooks.
func (r *Router) Hooks() *HookRegistry { return &r.hooks }

// Handle classifies and dispatches one inbound message, running the
// before/after/error hook chain around it. It never returns a Go error:
// every failure — unknown type, a blocking before-hook, a panicking
// handler — comes back as Result{OK:false}.
func (r *Router) Handle(ctx context.Context, raw json.RawMessage) (result infrahandler.Result) {
	var head envelopeHead
	if err := json.Unmarshal(raw, &head); err != nil {
		return failf(domain.ErrArgs, "malformed message: %v", err)
	}
	env := Envelope{Type: head.Type, SessionID: head.SessionID, Raw: raw}

	for _, before := range r.hooks.Before {
		var err error
		env, err = before(ctx, env)
		if err != nil {
			r.fireError(ctx, env, err)
			return fail(err)
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("handler panic: %v", rec)
			r.fireError(ctx, env, err)
			result = fail(err)
		}
	}()

	result = r.dispatch(ctx, env)

	for _, after := range r.hooks.After {
		result = after(ctx, env, result)
	}
	return result
}

func (r *Router) dispatch(ctx context.Context, env Envelope) infrahandler.Result {
	if env.Type == "ping" {
		return infrahandler.Result{OK: true, Data: "pong"}
	}
	if h, ok := r.exact[env.Type]; ok {
		return h(ctx, env)
	}
	for prefix, h := range r.prefix {
		if strings.HasPrefix(env.Type, prefix) {
			return h(ctx, env)
		}
	}
	err := domain.NewDomainError(fmt.Sprintf("route(%s)", env.Type), domain.ErrInfraUnsupported, "unrecognized message type")
	r.fireError(ctx, env, err)
	return fail(err)
}

func (r *Router) fireError(ctx context.Context, env Envelope, err error) {
	if r.logger != nil {
		r.logger.Warn("runtime router dispatch error", "type", env.Type, "error", err)
	}
	for _, eh := range r.hooks.Error {
		eh(ctx, env, err)
	}
}

func fail(err error) infrahandler.Result {
	return infrahandler.Result{
		OK: false, Error: err.Error(),
		Code: domain.ErrorCodeOf(err), Retryable: domain.IsRetryableError(err),
	}
}

func failf(sentinel error, format string, args ...any) infrahandler.Result {
	return fail(domain.NewDomainError("route", sentinel, fmt.Sprintf(format, args...)))
}
