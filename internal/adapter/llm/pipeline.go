package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"browsir/internal/domain"
	"browsir/internal/usecase"
)

// Retry/backoff constants for the request pipeline. Delay grows
// exponentially from llmBaseRetryDelay, capped at llmMaxBackoffDelay before
// any provider-supplied hint is folded in.
const (
	llmBaseRetryDelay  = 500 * time.Millisecond
	llmMaxBackoffDelay = 4 * time.Second
)

// BeforeRequestHook runs immediately before a request is sent. Returning a
// non-nil error aborts the whole call (all profiles, no retry) with
// domain.ErrLLMHookBlocked — hooks are a policy gate, not a classified
// failure the retry loop should ever absorb.
type BeforeRequestHook func(ctx context.Context, req *domain.ChatRequest) error

// AfterResponseHook runs on every successful response before it's handed
// back to the caller. A non-nil error aborts with domain.ErrLLMHookInvalidPatch.
type AfterResponseHook func(ctx context.Context, resp *domain.ChatResponse) error

// ToolScopeBrowserOnly restricts tool-definition assembly to the browser
// tool set — used alongside tool_choice=required so a forced tool call
// can't land on bash/read_file/write_file/edit_file/list_tabs/open_tab
// when what's actually required is browser proof.
const ToolScopeBrowserOnly = "browser_only"

// browserOnlyToolNames is the CDP-backed tool set C1 exposes directly,
// matching the names loop.Dispatcher dispatches itself rather than
// forwarding to the bridge.
var browserOnlyToolNames = []string{"snapshot", "browser_action", "browser_verify"}

// RequestInput bundles everything one requestLlmWithRetry call needs.
type RequestInput struct {
	Route      domain.LLMRoute
	Messages   []domain.Message
	Tools      []domain.ToolSchema
	ToolChoice string // "auto", "required", or "" (provider default)
	ToolScope  string // "" (every registered tool) or ToolScopeBrowserOnly
	Step       int
	SessionID  string
}

// schemaToolExecutor adapts a flat tool-schema list to domain.ToolExecutor
// so tool-definition assembly can reuse usecase.NewScopedToolExecutor's
// filtering instead of re-implementing it here. Get is never actually
// called — the pipeline only dispatches schemas, not tool execution.
type schemaToolExecutor struct {
	schemas []domain.ToolSchema
}

func (s *schemaToolExecutor) Get(name string) (domain.Tool, error) {
	return nil, domain.ErrToolNotFound
}

func (s *schemaToolExecutor) Schemas() []domain.ToolSchema { return s.schemas }

// assembleTools implements tool-definition assembly (§4.3 step 1):
// restricts tools to the browser set when scope requests it.
func assembleTools(tools []domain.ToolSchema, scope string) []domain.ToolSchema {
	if scope != ToolScopeBrowserOnly {
		return tools
	}
	scoped := usecase.NewScopedToolExecutor(&schemaToolExecutor{schemas: tools}, browserOnlyToolNames)
	return scoped.Schemas()
}

// RequestOutput is what the agent loop controller consumes: the response,
// the route actually used (profile may have escalated), and how many
// send attempts it took across every profile tried.
type RequestOutput struct {
	Response *domain.ChatResponse
	Route    domain.LLMRoute
	Attempts int
}

// Pipeline is the single entry point the loop controller calls to talk to
// an LLM: it resolves a profile to a provider, runs hooks, sends the
// request (streaming when the provider supports it), classifies failures,
// retries with backoff bounded by the route's own limits, and escalates to
// the next profile in the chain when a profile's retry budget runs out.
type Pipeline struct {
	router     *PreferenceRouter
	classifier *usecase.ErrorClassifier
	bus        domain.EventBus
	logger     *slog.Logger

	beforeHooks []BeforeRequestHook
	afterHooks  []AfterResponseHook
}

// NewPipeline constructs a request pipeline around a profile router.
func NewPipeline(router *PreferenceRouter, bus domain.EventBus, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		router:     router,
		classifier: usecase.NewErrorClassifier(),
		bus:        bus,
		logger:     logger,
	}
}

// Use registers a before-request hook, run in registration order.
func (p *Pipeline) Use(h BeforeRequestHook) { p.beforeHooks = append(p.beforeHooks, h) }

// UseAfter registers an after-response hook, run in registration order.
func (p *Pipeline) UseAfter(h AfterResponseHook) { p.afterHooks = append(p.afterHooks, h) }

// RequestWithRetry runs the full pipeline for one LLM turn, escalating
// across route.OrderedProfiles when route.EscalationPolicy is
// EscalationUpgradeOnly and a profile exhausts its retry budget.
func (p *Pipeline) RequestWithRetry(ctx context.Context, in RequestInput) (RequestOutput, error) {
	route := in.Route
	totalAttempts := 0

	for {
		provider, err := p.router.Route(route.Profile)
		if err != nil {
			return RequestOutput{Route: route, Attempts: totalAttempts}, domain.WrapOp("llm pipeline: route", err)
		}

		p.publish(ctx, in.SessionID, domain.EventLLMRouteSelected, map[string]any{
			"profile": route.Profile, "provider": provider.Name(), "step": in.Step,
		})

		resp, attempts, sendErr := p.attemptProfile(ctx, provider, route, in)
		totalAttempts += attempts
		if sendErr == nil {
			return RequestOutput{Response: resp, Route: route, Attempts: totalAttempts}, nil
		}

		if errors.Is(sendErr, domain.ErrLLMHookBlocked) || errors.Is(sendErr, domain.ErrLLMHookInvalidPatch) {
			return RequestOutput{Route: route, Attempts: totalAttempts}, sendErr
		}

		if route.EscalationPolicy == domain.EscalationUpgradeOnly {
			if next, ok := route.NextProfile(); ok {
				p.publish(ctx, in.SessionID, domain.EventLLMRouteEscalated, map[string]any{
					"from": route.Profile, "to": next, "reason": sendErr.Error(),
				})
				route.Profile = next
				continue
			}
		}
		return RequestOutput{Route: route, Attempts: totalAttempts}, sendErr
	}
}

// attemptProfile runs the hook/send/classify/backoff loop for one profile,
// up to route.LLMRetryMaxAttempts attempts, bounded overall by
// route.LLMTimeout.
func (p *Pipeline) attemptProfile(ctx context.Context, provider domain.LLMProvider, route domain.LLMRoute, in RequestInput) (*domain.ChatResponse, int, error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, route.LLMTimeout)
	defer cancel()

	maxAttempts := route.LLMRetryMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	req := domain.ChatRequest{
		Model:      route.LLMModel,
		Messages:   in.Messages,
		Tools:      assembleTools(in.Tools, in.ToolScope),
		ToolChoice: in.ToolChoice,
		Stream:     true,
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		for _, h := range p.beforeHooks {
			if err := h(deadlineCtx, &req); err != nil {
				p.publish(ctx, in.SessionID, domain.EventLLMBlocked, map[string]any{"reason": err.Error(), "step": in.Step})
				return nil, attempt, domain.NewSubSystemError("llm", "before_hook", domain.ErrLLMHookBlocked, err.Error())
			}
		}

		p.publish(ctx, in.SessionID, domain.EventLLMRequest, map[string]any{
			"provider": provider.Name(), "model": req.Model, "step": in.Step, "attempt": attempt,
		})

		resp, sendErr := p.send(deadlineCtx, provider, req, in.SessionID, in.Step)
		if sendErr == nil {
			for _, h := range p.afterHooks {
				if err := h(deadlineCtx, resp); err != nil {
					p.publish(ctx, in.SessionID, domain.EventLLMBlocked, map[string]any{"reason": err.Error(), "step": in.Step})
					return nil, attempt, domain.NewSubSystemError("llm", "after_hook", domain.ErrLLMHookInvalidPatch, err.Error())
				}
			}
			p.publish(ctx, in.SessionID, domain.EventLLMResponseParsed, map[string]any{"step": in.Step, "tool_calls": len(resp.Message.ToolCalls)})
			return resp, attempt, nil
		}

		lastErr = sendErr
		classified := p.classifier.Classify(sendErr)
		if classified.Category == usecase.ErrorCategoryPermanent {
			return nil, attempt, sendErr
		}
		if attempt == maxAttempts {
			break
		}

		hint, _ := parseRetryHint(sendErr.Error())
		delay, delayErr := backoffDelay(attempt, hint, route.LLMMaxRetryDelay)
		if delayErr != nil {
			return nil, attempt, delayErr
		}

		p.publish(ctx, in.SessionID, domain.EventAutoRetryStart, map[string]any{
			"step": in.Step, "attempt": attempt, "delay_ms": delay.Milliseconds(), "error": sendErr.Error(),
		})
		select {
		case <-time.After(delay):
		case <-deadlineCtx.Done():
			return nil, attempt, domain.NewSubSystemError("llm", "attempt", domain.ErrLLMTimeout, deadlineCtx.Err().Error())
		}
		p.publish(ctx, in.SessionID, domain.EventAutoRetryEnd, map[string]any{"step": in.Step, "attempt": attempt})
	}

	p.publish(ctx, in.SessionID, domain.EventRetryBudgetExhaust, map[string]any{"step": in.Step, "attempts": maxAttempts})
	return nil, maxAttempts, lastErr
}

// backoffDelay computes the wait before the next attempt: exponential
// backoff from llmBaseRetryDelay capped at llmMaxBackoffDelay, raised to
// any provider-supplied hint, and rejected outright once it would exceed
// the route's configured hard ceiling.
func backoffDelay(attempt int, hint time.Duration, maxDelay time.Duration) (time.Duration, error) {
	backoff := llmBaseRetryDelay
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > llmMaxBackoffDelay {
			backoff = llmMaxBackoffDelay
			break
		}
	}
	delay := backoff
	if hint > delay {
		delay = hint
	}
	if maxDelay > 0 && delay > maxDelay {
		return 0, domain.NewSubSystemError("llm", "backoff", domain.ErrLLMRetryDelayExceeded,
			fmt.Sprintf("delay %s exceeds max %s", delay, maxDelay))
	}
	return delay, nil
}

// send dispatches one attempt, preferring the provider's streaming path
// when available so deltas can be published as they arrive; it falls back
// to a single Chat call for providers that only implement domain.LLMProvider.
func (p *Pipeline) send(ctx context.Context, provider domain.LLMProvider, req domain.ChatRequest, sessionID string, step int) (*domain.ChatResponse, error) {
	streaming, ok := provider.(domain.StreamingLLMProvider)
	if !ok || !req.Stream {
		resp, err := provider.Chat(ctx, req)
		if err != nil {
			return nil, err
		}
		p.publishRaw(ctx, sessionID, domain.EventLLMResponseRaw, resp)
		return resp, nil
	}
	return p.sendStream(ctx, streaming, req, sessionID, step)
}

func (p *Pipeline) sendStream(ctx context.Context, provider domain.StreamingLLMProvider, req domain.ChatRequest, sessionID string, step int) (*domain.ChatResponse, error) {
	deltas, err := provider.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}

	p.publish(ctx, sessionID, domain.EventLLMStreamStart, map[string]any{"step": step})

	var content, thinking string
	var toolCalls []domain.ToolCall
	var usage *domain.Usage
	toolCallIdx := make(map[string]int)

	for delta := range deltas {
		content += delta.Content
		thinking += delta.Thinking
		for _, tc := range delta.ToolCalls {
			if idx, ok := toolCallIdx[tc.ID]; ok {
				toolCalls[idx].Arguments = append(toolCalls[idx].Arguments, tc.Arguments...)
				continue
			}
			toolCallIdx[tc.ID] = len(toolCalls)
			toolCalls = append(toolCalls, tc)
		}
		if delta.Usage != nil {
			usage = delta.Usage
		}

		payload, _ := json.Marshal(domain.StreamDeltaPayload{
			Content: delta.Content, ToolCalls: delta.ToolCalls, Done: delta.Done, Step: step,
		})
		p.publishRawBytes(ctx, sessionID, domain.EventLLMStreamDelta, payload)

		if ctx.Err() != nil {
			return nil, domain.NewSubSystemError("llm", "stream", domain.ErrLLMTimeout, ctx.Err().Error())
		}
	}

	resp := &domain.ChatResponse{
		Message: domain.Message{Role: domain.RoleAssistant, Content: content, Thinking: thinking, ToolCalls: toolCalls},
	}
	if usage != nil {
		resp.Usage = *usage
	}

	endPayload, _ := json.Marshal(domain.StreamCompletedPayload{Content: content, Usage: usage})
	p.publishRawBytes(ctx, sessionID, domain.EventLLMStreamEnd, endPayload)
	p.publishRaw(ctx, sessionID, domain.EventLLMResponseRaw, resp)

	return resp, nil
}

func (p *Pipeline) publish(ctx context.Context, sessionID string, t domain.EventType, payload map[string]any) {
	if p.bus == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	p.bus.Publish(ctx, domain.Event{Type: t, Timestamp: time.Now(), SessionID: sessionID, Payload: raw})
}

func (p *Pipeline) publishRaw(ctx context.Context, sessionID string, t domain.EventType, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	p.publishRawBytes(ctx, sessionID, t, raw)
}

func (p *Pipeline) publishRawBytes(ctx context.Context, sessionID string, t domain.EventType, raw json.RawMessage) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(ctx, domain.Event{Type: t, Timestamp: time.Now(), SessionID: sessionID, Payload: raw})
}
