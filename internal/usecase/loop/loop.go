package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"browsir/internal/adapter/llm"
	"browsir/internal/domain"
	"browsir/internal/infra/tracer"
	"browsir/internal/usecase"

	"github.com/oklog/ulid/v2"
)

// pauseCheckInterval is how often a paused run re-checks for resume/stop.
const pauseCheckInterval = 120 * time.Millisecond

// maxConsecutiveNudges is how many "browser proof missing" nudges the loop
// tolerates before giving up with progress_uncertain.
const maxConsecutiveNudges = 3

// Deps bundles everything one Controller needs to run sessions.
type Deps struct {
	Pipeline       *llm.Pipeline
	Dispatcher     *Dispatcher
	Bus            domain.EventBus
	Logger         *slog.Logger
	Tools          []domain.ToolSchema
	SystemPrompt   string
	MaxSteps       int // 0 = default (40)
	RequireProof   bool
	GlobalRetryMax int // 0 = default (8)
	TargetRetryMax int // 0 = default (3)
	Approver       domain.ToolApprover // nil = every tool call runs unapproved
}

// Controller runs the per-session agent loop: one RunState per session id,
// guarding a state machine of Idle -> Running -> {Paused <-> Running} ->
// (Stopped | Done).
type Controller struct {
	deps   Deps
	locker *usecase.SessionLocker

	mu   sync.Mutex
	runs map[string]*RunState
}

// New constructs a loop controller. Submit serializes per-session via the
// same refcounted-mutex-per-key pattern the donor session locker uses for
// HandleMessage, so two concurrent Submit calls for one session can never
// both observe "not running" and start a second concurrent run.
func New(deps Deps) *Controller {
	if deps.MaxSteps <= 0 {
		deps.MaxSteps = 40
	}
	return &Controller{deps: deps, locker: usecase.NewSessionLocker(), runs: make(map[string]*RunState)}
}

// RunStateFor returns (creating if absent) the run state for a session —
// exposed so the runtime router can answer status/pause/stop/restart
// requests without routing them through a loop iteration.
func (c *Controller) RunStateFor(sessionID string) *RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	rs, ok := c.runs[sessionID]
	if !ok {
		rs = NewRunState()
		c.runs[sessionID] = rs
	}
	return rs
}

func newEntryID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)).String()
}

// Submit appends prompt to the session and either starts a new run or, if
// one is already in progress, enqueues it per behavior. It blocks for the
// lifetime of a freshly-started run (including any chained follow-ups);
// enqueueing into an already-running loop returns immediately.
func (c *Controller) Submit(ctx context.Context, session *domain.Session, route domain.LLMRoute, prompt string, behavior Behavior) (Status, error) {
	rs := c.RunStateFor(session.ID)

	// The decision window — "is a run already in flight for this session"
	// — is the only part that needs exclusion; a run itself can take
	// minutes and must stay steerable by concurrent Submit calls.
	unlock, lockErr := c.locker.Lock(ctx, session.ID)
	if lockErr != nil {
		return "", lockErr
	}
	alreadyRunning := rs.Snapshot().Running
	if alreadyRunning {
		rs.Enqueue(QueuedPrompt{Text: prompt, Behavior: behavior})
	} else {
		session.Append(domain.Entry{
			ID: newEntryID(), Variant: domain.EntryMessage, Role: domain.EntryRoleUser,
			Text: prompt, Timestamp: time.Now(),
		})
	}
	unlock()

	if alreadyRunning {
		c.publish(ctx, session.ID, domain.EventMessageQueued, map[string]any{"behavior": behavior})
		return "", nil
	}

	status, err := c.runOnce(ctx, session, route, rs)
	for err == nil && !rs.isStopped() {
		fp, ok := rs.dequeueFollowUp()
		if !ok {
			break
		}
		c.publish(ctx, session.ID, domain.EventMessageDequeued, map[string]any{"behavior": fp.Behavior})
		session.Append(domain.Entry{
			ID: newEntryID(), Variant: domain.EntryMessage, Role: domain.EntryRoleUser,
			Text: fp.Text, Timestamp: time.Now(),
		})
		status, err = c.runOnce(ctx, session, route, rs)
	}
	return status, err
}

// runOnce runs the loop's iteration sequence from Idle to a terminal
// status, for the history currently on session.
func (c *Controller) runOnce(ctx context.Context, session *domain.Session, route domain.LLMRoute, rs *RunState) (Status, error) {
	ctx, span := tracer.StartSpan(ctx, "loop.run", trace.WithAttributes(tracer.StringAttr("session.id", session.ID)))
	defer span.End()

	rs.setRunning(true)
	c.publish(ctx, session.ID, domain.EventLoopStart, nil)

	var (
		llmSteps, toolSteps int
		status              Status
		runErr              error
	)
	detector := &noProgressDetector{}
	budget := newRetryBudget(c.deps.GlobalRetryMax, c.deps.TargetRetryMax)
	repairAttempts, nudges := 0, 0

stepLoop:
	for step := 0; step < c.deps.MaxSteps; step++ {
		if rs.isStopped() {
			status = StatusStopped
			break
		}
		for rs.isPaused() {
			select {
			case <-time.After(pauseCheckInterval):
			case <-ctx.Done():
				status, runErr = StatusError, ctx.Err()
				break stepLoop
			}
			if rs.isStopped() {
				status = StatusStopped
				break stepLoop
			}
		}

		for _, p := range rs.drainSteer() {
			session.Append(domain.Entry{
				ID: newEntryID(), Variant: domain.EntryMessage, Role: domain.EntryRoleUser,
				Text: p.Text, Timestamp: time.Now(),
			})
			c.publish(ctx, session.ID, domain.EventInputSteer, nil)
		}

		session.Append(domain.Entry{
			ID: newEntryID(), Variant: domain.EntryMessage, Role: domain.EntryRoleSystem,
			Text: progressNote(step, c.deps.MaxSteps, toolSteps, rs.Snapshot().Retry),
			Timestamp: time.Now(),
		})

		messages := entriesToMessages(session.Context())

		toolChoice, toolScope := "auto", ""
		if c.deps.RequireProof && !hasBrowserProof(session) {
			toolChoice, toolScope = "required", llm.ToolScopeBrowserOnly
		}

		out, err := c.deps.Pipeline.RequestWithRetry(ctx, llm.RequestInput{
			Route: route, Messages: messages, Tools: c.deps.Tools, ToolChoice: toolChoice, ToolScope: toolScope,
			Step: step, SessionID: session.ID,
		})
		llmSteps++
		if err != nil {
			c.publish(ctx, session.ID, domain.EventLoopError, map[string]any{"error": err.Error()})
			status, runErr = StatusError, err
			break
		}
		route = out.Route

		msg := out.Response.Message
		session.Append(domain.Entry{
			ID: newEntryID(), Variant: domain.EntryMessage, Role: domain.EntryRoleAssistant,
			Text: msg.Content, ToolCalls: msg.ToolCalls, Timestamp: time.Now(),
		})

		if len(msg.ToolCalls) > 0 {
			sig := signature(msg.ToolCalls)
			detector.record(sig)
			if detector.stalled() {
				if repairAttempts == 0 {
					repairAttempts++
					session.Append(domain.Entry{
						ID: newEntryID(), Variant: domain.EntryMessage, Role: domain.EntryRoleSystem,
						Text:      "The last few tool calls repeated without making progress. Try a different approach.",
						Timestamp: time.Now(),
					})
					c.publish(ctx, session.ID, domain.EventNoProgress, map[string]any{"step": step})
					continue
				}
				status = StatusProgressUncertain
				break
			}
		}

		if len(msg.ToolCalls) == 0 {
			if c.deps.RequireProof && !hasBrowserProof(session) {
				nudges++
				if nudges > maxConsecutiveNudges {
					status = StatusProgressUncertain
					break
				}
				session.Append(domain.Entry{
					ID: newEntryID(), Variant: domain.EntryMessage, Role: domain.EntryRoleSystem,
					Text:      "Confirm the requested browser action actually took effect (snapshot or verify) before finishing.",
					Timestamp: time.Now(),
				})
				continue
			}
			status = StatusDone
			break
		}
		nudges = 0

		tabID := session.Meta.PrimaryTab
		for i, call := range msg.ToolCalls {
			c.publish(ctx, session.ID, domain.EventStepPlanned, map[string]any{"tool": call.Name, "step": step})
			outcome := c.runToolWithRetry(ctx, session, call, tabID, budget, &toolSteps)
			session.Append(domain.Entry{
				ID: newEntryID(), Variant: domain.EntryMessage, Role: domain.EntryRoleTool,
				Text: outcome.content, ToolName: call.Name, ToolCallID: call.ID, Timestamp: time.Now(),
			})
			c.publish(ctx, session.ID, domain.EventStepFinished, map[string]any{"tool": call.Name, "is_error": outcome.isError})

			if outcome.stopLoop {
				status = outcome.status
				break stepLoop
			}

			if i < len(msg.ToolCalls)-1 && rs.hasSteerQueued() {
				c.deps.Dispatcher.AbortSession(ctx)
				continue stepLoop
			}
		}
	}

	if status == "" {
		status = StatusMaxSteps
	}

	rs.setRunning(false)
	c.publish(ctx, session.ID, domain.EventLoopDone, map[string]any{
		"status": status, "llm_steps": llmSteps, "tool_steps": toolSteps,
	})
	return status, runErr
}

// toolOutcome is the result of one tool-call dispatch-and-retry cycle.
type toolOutcome struct {
	content  string
	isError  bool
	stopLoop bool
	status   Status
}

// runToolWithRetry dispatches call, classifying any failure into
// auto_replay (retried in place up to 2 extra times), llm_replan (handed
// back to the model as a failed tool entry), or fail_fast (stops the run).
func (c *Controller) runToolWithRetry(ctx context.Context, session *domain.Session, call domain.ToolCall, tabID string, budget *retryBudget, toolSteps *int) toolOutcome {
	sideEffecting := isSideEffecting(call.Name)

	if c.deps.Approver != nil && c.deps.Approver.NeedsApproval(call) {
		approved, err := c.deps.Approver.RequestApproval(ctx, call)
		if err != nil || !approved {
			msg := "tool call denied"
			if err != nil {
				msg = err.Error()
			}
			return toolOutcome{content: msg, isError: true}
		}
	}

	for attempt := 0; ; attempt++ {
		*toolSteps++
		c.publish(ctx, session.ID, domain.EventStepExecute, map[string]any{"tool": call.Name, "attempt": attempt})
		// hasLease is always false here: Dispatch re-acquires (or renews,
		// for the same owner) the tab lease itself on every attempt.
		result := c.deps.Dispatcher.Dispatch(ctx, session.ID, call, tabID, false)
		c.publish(ctx, session.ID, domain.EventStepExecuteResult, map[string]any{"tool": call.Name, "ok": result.OK})

		if result.OK {
			return toolOutcome{content: contentOf(result.Data)}
		}

		action := classifyToolRetry(result.Code, sideEffecting)
		sig := targetSignature(call.Name, result.Code, tabID)

		switch action {
		case actionAutoReplay:
			if attempt >= 2 || !budget.charge(sig) {
				c.publish(ctx, session.ID, domain.EventRetryBudgetExhaust, map[string]any{"tool": call.Name})
				return toolOutcome{content: result.Error, isError: true, stopLoop: true, status: statusForCode(result.Code)}
			}
			delay := toolRetryDelay(attempt)
			c.publish(ctx, session.ID, domain.EventAutoRetryStart, map[string]any{"tool": call.Name, "delay_ms": delay.Milliseconds()})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return toolOutcome{content: ctx.Err().Error(), isError: true, stopLoop: true, status: StatusError}
			}
			c.publish(ctx, session.ID, domain.EventAutoRetryEnd, map[string]any{"tool": call.Name})
			continue

		case actionLLMReplan:
			if !budget.charge(sig) {
				c.publish(ctx, session.ID, domain.EventRetryBudgetExhaust, map[string]any{"tool": call.Name})
				return toolOutcome{content: result.Error, isError: true, stopLoop: true, status: statusForCode(result.Code)}
			}
			return toolOutcome{content: result.Error, isError: true}

		default: // fail_fast
			return toolOutcome{content: result.Error, isError: true, stopLoop: true, status: statusForCode(result.Code)}
		}
	}
}

func statusForCode(code domain.ErrorCode) Status {
	if code == domain.CodeVerifyFailed {
		return StatusFailedVerify
	}
	return StatusFailedExecute
}

func contentOf(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

func progressNote(step, maxSteps, toolStepsDone int, retry RetryState) string {
	return fmt.Sprintf("loop_step=%d/%d tool_steps_done=%d retry_active=%v retry_attempt=%d",
		step, maxSteps, toolStepsDone, retry.Active, retry.Attempt)
}

// hasBrowserProof reports whether the branch contains at least one
// snapshot or verify tool entry since the last user message (a failed call
// counts as well) —
// the "browser proof" requirement that blocks a bare-text final answer
// when the session expects visible evidence of a browser-affecting task.
func hasBrowserProof(session *domain.Session) bool {
	branch := session.Context()
	for i := len(branch) - 1; i >= 0; i-- {
		e := branch[i]
		if e.Role == domain.EntryRoleUser {
			return false
		}
		if e.Role == domain.EntryRoleTool && (e.ToolName == toolSnapshot || e.ToolName == toolBrowserVerify) {
			return true
		}
	}
	return false
}

// entriesToMessages projects a session's in-context entry window onto the
// flat domain.Message list the LLM pipeline consumes: compaction entries
// become a system summary message, message/custom_message entries become
// role-tagged messages, and label/branch_summary/custom entries (opaque to
// the loop) are skipped.
func entriesToMessages(entries []domain.Entry) []domain.Message {
	msgs := make([]domain.Message, 0, len(entries))
	for _, e := range entries {
		switch {
		case e.Variant == domain.EntryCompaction:
			msgs = append(msgs, domain.Message{
				Role:      domain.RoleSystem,
				Content:   "Earlier conversation summary:\n" + e.Summary,
				Timestamp: e.Timestamp,
			})
		case e.IsMessage():
			m := domain.Message{Role: string(e.Role), Content: e.Text, Timestamp: e.Timestamp}
			if e.Role == domain.EntryRoleTool {
				m.Name = e.ToolName
				m.ToolCalls = []domain.ToolCall{{ID: e.ToolCallID, Name: e.ToolName}}
			} else if e.Role == domain.EntryRoleAssistant {
				m.ToolCalls = e.ToolCalls
			}
			msgs = append(msgs, m)
		}
	}
	// A no-progress repair or a resume after a crash can leave a tool call
	// without its result (or a result without its call) in the in-context
	// window; the pipeline's wire format requires every tool_call to be
	// paired, so repair before sending.
	return usecase.RepairTranscript(msgs)
}

func (c *Controller) publish(ctx context.Context, sessionID string, t domain.EventType, payload map[string]any) {
	if c.deps.Bus == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.deps.Bus.Publish(ctx, domain.Event{Type: t, Timestamp: time.Now(), SessionID: sessionID, Payload: raw})
}
