package gateway

import (
	"context"
	"net/http"
	"time"

	"browsir/internal/domain"
	"browsir/internal/usecase/sessionstore"
)

// HandlerDeps holds the dependencies the gateway's REST surface (status,
// metrics) reads. The RPC surface itself is not registered per-method here —
// every brain.*/config.*/bridge.*/lease.*/cdp.* message rides the server's
// dispatch fallback straight into the runtime router.
type HandlerDeps struct {
	Sessions sessionstore.Store
	Bus      domain.EventBus
}

// RegisterRESTHandlers registers the HTTP REST endpoints (status, metrics)
// on the gateway server.
func RegisterRESTHandlers(s *Server, deps HandlerDeps) *Metrics {
	startTime := time.Now()
	metrics := &Metrics{}

	if deps.Bus != nil {
		deps.Bus.Subscribe(domain.EventSessionCreated, func(_ context.Context, e domain.Event) {
			metrics.SessionsTotal.Add(1)
		})
		deps.Bus.Subscribe(domain.EventStepExecuteResult, func(_ context.Context, e domain.Event) {
			metrics.ToolCallsTotal.Add(1)
		})
		deps.Bus.Subscribe(domain.EventLoopError, func(_ context.Context, e domain.Event) {
			metrics.ToolErrorsTotal.Add(1)
		})
		deps.Bus.Subscribe(domain.EventLLMResponseParsed, func(_ context.Context, e domain.Event) {
			metrics.LLMCallsTotal.Add(1)
		})
	}

	authMiddleware := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("token")
			if token == "" {
				token = r.Header.Get("Authorization")
				if len(token) > 7 && token[:7] == "Bearer " {
					token = token[7:]
				}
			}
			if _, err := s.auth.Authenticate(token); err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	s.RegisterHTTPRoute("/api/v1/status", authMiddleware(statusHandler(deps, startTime, metrics)))
	s.RegisterHTTPRoute("/metrics", authMiddleware(metricsHandler(deps, startTime, metrics)))

	return metrics
}
