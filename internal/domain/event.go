package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published. Values match the
// names carried on the runtime's event stream verbatim.
type EventType string

const (
	// Loop lifecycle (C4).
	EventLoopStart   EventType = "loop_start"
	EventLoopDone    EventType = "loop_done"
	EventLoopError   EventType = "loop_error"
	EventNoProgress  EventType = "no_progress"
	EventLoopRestart EventType = "restart"

	// Tool-step lifecycle (C4).
	EventStepPlanned       EventType = "step_planned"
	EventStepExecute       EventType = "step_execute"
	EventStepExecuteResult EventType = "step_execute_result"
	EventStepFinished      EventType = "step_finished"

	// LLM request pipeline (C3).
	EventLLMRequest         EventType = "llm.request"
	EventLLMStreamStart     EventType = "llm.stream.start"
	EventLLMStreamDelta     EventType = "llm.stream.delta"
	EventLLMStreamEnd       EventType = "llm.stream.end"
	EventLLMResponseRaw     EventType = "llm.response.raw"
	EventLLMResponseParsed  EventType = "llm.response.parsed"
	EventLLMRouteSelected   EventType = "llm.route.selected"
	EventLLMRouteEscalated  EventType = "llm.route.escalated"
	EventLLMBlocked         EventType = "llm.blocked"
	EventLLMSkipped         EventType = "llm.skipped"

	// Retry/circuit bookkeeping (C3/C4).
	EventAutoRetryStart    EventType = "auto_retry_start"
	EventAutoRetryEnd      EventType = "auto_retry_end"
	EventRetryCircuitOpen  EventType = "retry_circuit_open"
	EventRetryBudgetExhaust EventType = "retry_budget_exhausted"

	// Inbound prompts / queueing (C4/C5).
	EventInputUser        EventType = "input.user"
	EventInputSteer       EventType = "input.steer"
	EventInputRegenerate  EventType = "input.regenerate"
	EventSharedTabs       EventType = "input.shared_tabs"
	EventTabIDsInferred   EventType = "input.tab_ids_inferred"
	EventMessageQueued    EventType = "message.queued"
	EventMessageDequeued  EventType = "message.dequeued"

	// Bridge transport (C1).
	EventBridgeStatus EventType = "bridge.status"
	EventBridgeEvent  EventType = "bridge.event"

	// Session/storage (out-of-scope collaborator notifications, forwarded
	// through the router so the UI layer can react to them).
	EventSessionCreated EventType = "session.created"
	EventSessionDeleted EventType = "session.deleted"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
