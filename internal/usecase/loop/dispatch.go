package loop

import (
	"context"
	"encoding/json"
	"time"

	"browsir/internal/domain"
	"browsir/internal/usecase/cdp"
	"browsir/internal/usecase/infrahandler"
)

// Browser tool names dispatch to C1's CDP messages directly; bash/
// read_file/write_file/edit_file are forwarded as opaque bridge invokes —
// the host bridge daemon, not this process, knows how to run those.
// list_tabs/open_tab dispatch to the platform tabs collaborator instead:
// the host bridge has no way to enumerate or open the extension's own
// browser tabs.
const (
	toolSnapshot      = "snapshot"
	toolBrowserAction = "browser_action"
	toolBrowserVerify = "browser_verify"
	toolBash          = "bash"
	toolReadFile      = "read_file"
	toolWriteFile     = "write_file"
	toolEditFile      = "edit_file"
	toolListTabs      = "list_tabs"
	toolOpenTab       = "open_tab"
)

// sideEffectingTools are tool calls that mutate state outside the model's
// own context — a retried call double-runs the side effect, so a timeout
// on one of these must go back to the model to replan rather than
// auto-replay blind.
var sideEffectingTools = map[string]bool{
	toolBash:          true,
	toolWriteFile:     true,
	toolEditFile:      true,
	toolOpenTab:       true,
	toolBrowserAction: true,
}

func isSideEffecting(tool string) bool { return sideEffectingTools[tool] }

// retryAction is the outcome of classifying one failed tool call.
type retryAction int

const (
	actionFailFast retryAction = iota
	actionAutoReplay
	actionLLMReplan
)

// classifyToolRetry maps a failure's error code to one of the three tool
// retry actions. Unlisted codes fail fast — only the codes a real tool
// dispatch path can actually produce fall into either retry bucket.
func classifyToolRetry(code domain.ErrorCode, sideEffecting bool) retryAction {
	switch code {
	case domain.CodeBusy, domain.CodeBridgeDisconnected:
		return actionAutoReplay
	case domain.CodeClientTimeout:
		if sideEffecting {
			return actionLLMReplan
		}
		return actionAutoReplay
	case domain.CodeTimeout, domain.CodeNoTab, domain.CodeVerifyFailed:
		return actionLLMReplan
	default:
		return actionFailFast
	}
}

// snapshotArgs is the tool-call argument shape for the "snapshot" tool.
type snapshotArgs struct {
	TabID     string `json:"tab_id"`
	Mode      string `json:"mode"`
	Filter    string `json:"filter"`
	Selector  string `json:"selector"`
	Depth     int    `json:"depth"`
	MaxTokens int    `json:"max_tokens"`
	MaxNodes  int    `json:"max_nodes"`
}

func (a snapshotArgs) key() domain.SnapshotKey {
	mode := domain.SnapshotMode(a.Mode)
	if mode == "" {
		mode = domain.SnapshotModeFull
	}
	filter := domain.SnapshotFilter(a.Filter)
	if filter == "" {
		filter = domain.SnapshotFilterInteractive
	}
	return domain.SnapshotKey{
		Mode: mode, Filter: filter, Selector: a.Selector,
		Depth: a.Depth, MaxTokens: a.MaxTokens, MaxNodes: a.MaxNodes,
	}
}

// browserActionArgs is the tool-call argument shape for "browser_action".
type browserActionArgs struct {
	TabID         string `json:"tab_id"`
	Kind          string `json:"kind"`
	BackendNodeID int64  `json:"backend_node_id"`
	Ref           string `json:"ref"`
	Selector      string `json:"selector"`
	Hint          string `json:"hint"`
	Value         string `json:"value"`
	URL           string `json:"url"`
	Key           string `json:"key"`
}

func (a browserActionArgs) request() cdp.ActionRequest {
	return cdp.ActionRequest{
		Kind:          cdp.ActionKind(a.Kind),
		BackendNodeID: a.BackendNodeID,
		Ref:           a.Ref,
		Selector:      a.Selector,
		Hint:          a.Hint,
		Value:         a.Value,
		URL:           a.URL,
		Key:           a.Key,
	}
}

// openTabArgs is the tool-call argument shape for "open_tab".
type openTabArgs struct {
	URL string `json:"url"`
}

// browserVerifyArgs is the tool-call argument shape for "browser_verify".
type browserVerifyArgs struct {
	TabID          string                      `json:"tab_id"`
	Before         domain.Observation          `json:"before"`
	Expect         []domain.VerifyExpectation  `json:"expect"`
	WaitForMs      int64                       `json:"wait_for_ms"`
	PollIntervalMs int64                       `json:"poll_interval_ms"`
}

// leaseAcquireTTL is the TTL requested when the dispatcher acquires a lease
// on behalf of a mutating browser_action call; short enough that a crashed
// owner doesn't wedge the tab for long, long enough to cover one action's
// CDP round-trip plus its verify poll.
const leaseAcquireTTL = 10 * time.Second

// Dispatcher resolves one LLM-issued tool call to an infra handler message
// and runs it. It owns no state of its own beyond the handler/lease-aware
// tab tracking the loop controller feeds it per call.
type Dispatcher struct {
	handler       *infrahandler.Handler
	bridgeTimeout time.Duration
	tabs          domain.PlatformTabs
}

// NewDispatcher wraps an infra handler for tool dispatch. bridgeTimeout is
// the hard-max client-side timeout applied to every bridge.invoke call;
// the spec's per-call hint clamping is left to the bridge client itself.
// tabs backs list_tabs/open_tab; a nil tabs falls back to
// domain.NoopPlatformTabs, which fails both calls with ErrInfraUnsupported.
func NewDispatcher(handler *infrahandler.Handler, bridgeTimeout time.Duration, tabs domain.PlatformTabs) *Dispatcher {
	if tabs == nil {
		tabs = domain.NoopPlatformTabs{}
	}
	return &Dispatcher{handler: handler, bridgeTimeout: bridgeTimeout, tabs: tabs}
}

// Dispatch runs one tool call and returns the infra handler's result
// envelope. tabID is the session's currently focused tab, used when the
// call's own arguments don't name one explicitly. A mutating browser
// action acquires its own lease (owned by sessionID) before dispatching,
// rather than requiring the loop controller to manage lease lifecycle
// itself — a failed acquire (locked_by_other) surfaces as the action's
// own failure result.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, call domain.ToolCall, tabID string, hasLease bool) infrahandler.Result {
	switch call.Name {
	case toolSnapshot:
		var args snapshotArgs
		_ = json.Unmarshal(call.Arguments, &args)
		tid := firstNonEmpty(args.TabID, tabID)
		return d.handler.Handle(ctx, infrahandler.Message{Type: infrahandler.MsgCDPSnapshot, TabID: tid, SnapshotKey: args.key()})

	case toolBrowserAction:
		var args browserActionArgs
		_ = json.Unmarshal(call.Arguments, &args)
		tid := firstNonEmpty(args.TabID, tabID)

		if cdp.ActionKind(args.Kind).Mutating() && !hasLease {
			acquire := d.handler.Handle(ctx, infrahandler.Message{
				Type: infrahandler.MsgLeaseAcquire, TabID: tid, Owner: sessionID, TTL: leaseAcquireTTL,
			})
			if !acquire.OK {
				return acquire
			}
			hasLease = true
		}

		return d.handler.Handle(ctx, infrahandler.Message{
			Type: infrahandler.MsgCDPAction, TabID: tid, Action: args.request(), HasLease: hasLease,
		})

	case toolBrowserVerify:
		var args browserVerifyArgs
		_ = json.Unmarshal(call.Arguments, &args)
		tid := firstNonEmpty(args.TabID, tabID)
		return d.handler.Handle(ctx, infrahandler.Message{
			Type: infrahandler.MsgCDPVerify, TabID: tid, Before: args.Before, Expect: args.Expect,
			WaitFor: time.Duration(args.WaitForMs) * time.Millisecond,
			PollInterval: time.Duration(args.PollIntervalMs) * time.Millisecond,
		})

	case toolListTabs:
		tabs, err := d.tabs.ListTabs(ctx)
		if err != nil {
			return resultFromErr(err)
		}
		return infrahandler.Result{OK: true, Data: tabs}

	case toolOpenTab:
		var args openTabArgs
		_ = json.Unmarshal(call.Arguments, &args)
		tab, err := d.tabs.OpenTab(ctx, args.URL)
		if err != nil {
			return resultFromErr(err)
		}
		return infrahandler.Result{OK: true, Data: tab}

	default:
		return d.handler.Handle(ctx, infrahandler.Message{
			Type: infrahandler.MsgBridgeInvoke, Tool: call.Name, Args: call.Arguments,
			SessionID: sessionID, BridgeTimeout: d.bridgeTimeout,
		})
	}
}

// AbortSession tells the infra handler to reject every pending bridge
// invoke — used on stop and on mid-iteration steer preemption.
func (d *Dispatcher) AbortSession(ctx context.Context) {
	d.handler.Handle(ctx, infrahandler.Message{Type: infrahandler.MsgBridgeAbort})
}

// resultFromErr builds an infra-handler-shaped failure result for a
// platform tabs error, the same envelope shape the handler itself returns
// so the retry classifier (classifyToolRetry) treats both uniformly.
func resultFromErr(err error) infrahandler.Result {
	return infrahandler.Result{
		OK:        false,
		Error:     err.Error(),
		Code:      domain.ErrorCodeOf(err),
		Retryable: domain.IsRetryableError(err),
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
