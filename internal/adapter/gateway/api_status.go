package gateway

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"browsir/internal/usecase/loop"
)

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	Agent    AgentStatus   `json:"agent"`
	Sessions SessionStatus `json:"sessions"`
	Tools    ToolStatus    `json:"tools"`
}

// AgentStatus holds agent overview info.
type AgentStatus struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// SessionStatus holds session counts.
type SessionStatus struct {
	Active int `json:"active"`
	Total  int `json:"total"`
}

// ToolStatus holds tool usage stats.
type ToolStatus struct {
	Registered  int   `json:"registered"`
	CallsTotal  int64 `json:"calls_total"`
	ErrorsTotal int64 `json:"errors_total"`
}

// toolCount is the size of the runtime's fixed tool set (see
// usecase/loop.ToolSchemas). Unlike the donor's dynamically-loaded plugin
// tools, this set never changes at runtime, so it's read once at package
// init rather than recomputed per request.
var toolCount = len(loop.ToolSchemas())

// Metrics tracks counters for the status API and Prometheus metrics.
type Metrics struct {
	ToolCallsTotal  atomic.Int64
	ToolErrorsTotal atomic.Int64
	LLMCallsTotal   atomic.Int64
	MessagesRecv    atomic.Int64
	MessagesSent    atomic.Int64
	SessionsTotal   atomic.Int64
}

// statusHandler returns an HTTP handler for GET /api/v1/status.
func statusHandler(deps HandlerDeps, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		sessions := deps.Sessions.List()

		resp := StatusResponse{
			Agent: AgentStatus{
				Name:          "browsir",
				Version:       "phase-3",
				UptimeSeconds: int64(time.Since(startTime).Seconds()),
			},
			Sessions: SessionStatus{
				Active: len(sessions),
				Total:  len(sessions),
			},
			Tools: ToolStatus{
				Registered:  toolCount,
				CallsTotal:  metrics.ToolCallsTotal.Load(),
				ErrorsTotal: metrics.ToolErrorsTotal.Load(),
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
