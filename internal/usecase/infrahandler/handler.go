// Package infrahandler implements the infra handler's single typed entry
// point: one Handle call per tagged message, dispatching to the bridge
// client, the lease table, or the CDP manager, and always returning a
// result envelope rather than a bare Go error — callers (the loop
// controller, the runtime router) decode ok/retryable off the envelope
// instead of type-switching on error values.
package infrahandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"browsir/internal/domain"
	"browsir/internal/infra/bridge"
	"browsir/internal/infra/config"
	"browsir/internal/usecase/cdp"
	"browsir/internal/usecase/lease"
)

// MessageType names one recognized infra handler message.
type MessageType string

const (
	MsgConfigGet      MessageType = "config.get"
	MsgConfigSave     MessageType = "config.save"
	MsgBridgeConnect  MessageType = "bridge.connect"
	MsgBridgeInvoke   MessageType = "bridge.invoke"
	MsgBridgeAbort    MessageType = "bridge.abort"
	MsgLeaseAcquire   MessageType = "lease.acquire"
	MsgLeaseHeartbeat MessageType = "lease.heartbeat"
	MsgLeaseRelease   MessageType = "lease.release"
	MsgLeaseStatus    MessageType = "lease.status"
	MsgCDPObserve     MessageType = "cdp.observe"
	MsgCDPSnapshot    MessageType = "cdp.snapshot"
	MsgCDPAction      MessageType = "cdp.action"
	MsgCDPExecute     MessageType = "cdp.execute"
	MsgCDPVerify      MessageType = "cdp.verify"
	MsgCDPDetach      MessageType = "cdp.detach"
)

// Message is the tagged union accepted by Handle. Only the fields the
// named Type cares about need to be populated; the rest are ignored.
type Message struct {
	Type MessageType

	// bridge.connect / bridge.invoke
	Force           bool
	Tool            string
	Args            []byte
	SessionID       string
	ParentSessionID string
	AgentID         string
	BridgeTimeout   time.Duration // caller-computed clamp(bridgeInvokeTimeoutMs, hint+2s, hardMax)

	// lease.*
	TabID   string
	Owner   string
	LeaseID string
	TTL     time.Duration

	// cdp.*
	SnapshotKey  domain.SnapshotKey
	Action       cdp.ActionRequest
	Selector     string
	Before       domain.Observation
	Expect       []domain.VerifyExpectation
	WaitFor      time.Duration
	PollInterval time.Duration
	HasLease     bool // whether Owner currently holds a live lease on TabID; checked by the caller before mutating actions

	// config.save
	Config *config.Config
}

// Result is the envelope every Handle call returns: either
// {ok:true, data} or {ok:false, error, code, details, retryable, reason}.
type Result struct {
	OK        bool             `json:"ok"`
	Data      any              `json:"data,omitempty"`
	Error     string           `json:"error,omitempty"`
	Code      domain.ErrorCode `json:"code,omitempty"`
	Details   string           `json:"details,omitempty"`
	Retryable bool             `json:"retryable,omitempty"`
	Reason    string           `json:"reason,omitempty"` // e.g. "locked_by_other", "not_locked"
}

func ok(data any) Result { return Result{OK: true, Data: data} }

func fail(err error) Result {
	return Result{
		OK:        false,
		Error:     err.Error(),
		Code:      domain.ErrorCodeOf(err),
		Retryable: domain.IsRetryableError(err),
	}
}

// ConfigStore is the persistence boundary config.get/config.save read and
// write through. A file-backed implementation wrapping config.Load/Save
// is the default; tests can substitute an in-memory stand-in.
type ConfigStore interface {
	Get() (*config.Config, error)
	Save(cfg *config.Config) error
}

// fileConfigStore is the default ConfigStore, backed by a single YAML file
// on disk via the existing config.Load/config.Save helpers.
type fileConfigStore struct{ path string }

// NewFileConfigStore returns a ConfigStore backed by the YAML file at path.
func NewFileConfigStore(path string) ConfigStore { return &fileConfigStore{path: path} }

func (f *fileConfigStore) Get() (*config.Config, error) { return config.Load(f.path) }
func (f *fileConfigStore) Save(cfg *config.Config) error { return config.Save(f.path, cfg) }

// Handler ties the bridge client, lease table, and CDP manager together
// behind one typed dispatch point.
type Handler struct {
	bridge *bridge.Client
	leases *lease.Table
	cdp    *cdp.Manager
	cfg    ConfigStore
	logger *slog.Logger
}

// New constructs an infra handler over its three subsystem collaborators.
func New(bridgeClient *bridge.Client, leases *lease.Table, cdpMgr *cdp.Manager, cfg ConfigStore, logger *slog.Logger) *Handler {
	return &Handler{bridge: bridgeClient, leases: leases, cdp: cdpMgr, cfg: cfg, logger: logger}
}

// Handle dispatches msg to its subsystem and returns a result envelope.
// It never returns a Go error — every failure, including an unrecognized
// message type, comes back as Result{OK:false}.
func (h *Handler) Handle(ctx context.Context, msg Message) Result {
	switch msg.Type {
	case MsgConfigGet:
		cfg, err := h.cfg.Get()
		if err != nil {
			return fail(domain.NewSubSystemError("config", "get", domain.ErrConfigLoad, err.Error()))
		}
		return ok(cfg)

	case MsgConfigSave:
		if msg.Config == nil {
			return fail(domain.NewSubSystemError("config", "save", domain.ErrArgs, "missing config payload"))
		}
		if err := h.cfg.Save(msg.Config); err != nil {
			return fail(domain.NewSubSystemError("config", "save", domain.ErrConfigLoad, err.Error()))
		}
		return ok(nil)

	case MsgBridgeConnect:
		if err := h.bridge.Connect(ctx, msg.Force); err != nil {
			return fail(err)
		}
		return ok(map[string]any{"connected": h.bridge.Connected()})

	case MsgBridgeInvoke:
		data, err := h.bridge.Invoke(ctx, msg.Tool, msg.Args, msg.SessionID, msg.BridgeTimeout)
		if err != nil {
			return fail(err)
		}
		return ok(data)

	case MsgBridgeAbort:
		h.bridge.AbortAll(domain.ErrBridgeInterrupted)
		return ok(nil)

	case MsgLeaseAcquire:
		res := h.leases.Acquire(msg.TabID, msg.Owner, msg.TTL, time.Now())
		if res.LockedByOther {
			return Result{OK: false, Reason: "locked_by_other", Data: res.CurrentOwner}
		}
		return ok(res.Lease)

	case MsgLeaseHeartbeat:
		res := h.leases.Heartbeat(msg.TabID, msg.Owner, msg.LeaseID, msg.TTL, time.Now())
		if res.LockedByOther {
			return Result{OK: false, Reason: "locked_by_other"}
		}
		if !res.OK {
			return Result{OK: false, Reason: "not_locked"}
		}
		return ok(res.Lease)

	case MsgLeaseRelease:
		res := h.leases.Release(msg.TabID, msg.Owner, msg.LeaseID, time.Now())
		return Result{OK: res.Released, Reason: res.Reason}

	case MsgLeaseStatus:
		l, held := h.leases.Status(msg.TabID, time.Now())
		return ok(map[string]any{"held": held, "lease": l})

	case MsgCDPObserve:
		obs, err := h.cdp.Observe(ctx, msg.TabID)
		if err != nil {
			return fail(err)
		}
		return ok(obs)

	case MsgCDPSnapshot:
		snap, err := h.cdp.Snapshot(ctx, msg.TabID, msg.SnapshotKey)
		if err != nil {
			return fail(err)
		}
		return ok(snap)

	case MsgCDPAction:
		if msg.Action.Kind.Mutating() && !msg.HasLease {
			return fail(domain.NewSubSystemError("cdp", "action", domain.ErrLeaseLockedByOther, "mutating action requires a live lease"))
		}
		outcome, err := h.cdp.Action(ctx, msg.TabID, msg.Action)
		if err != nil {
			return fail(err)
		}
		return ok(outcome)

	case MsgCDPExecute:
		content, err := h.cdp.GetContent(ctx, msg.Selector)
		if err != nil {
			return fail(err)
		}
		return ok(content)

	case MsgCDPVerify:
		result, err := h.cdp.Verify(ctx, msg.TabID, msg.Before, msg.Expect, msg.WaitFor, msg.PollInterval)
		if err != nil {
			return fail(err)
		}
		if !result.OK {
			return Result{OK: false, Data: result, Error: domain.ErrVerifyFailed.Error(),
				Code: domain.ErrorCodeOf(domain.ErrVerifyFailed), Retryable: true}
		}
		return ok(result)

	case MsgCDPDetach:
		h.cdp.Detach(msg.TabID)
		h.leases.ReleaseAllOwnedBy(msg.Owner, time.Now())
		return ok(nil)

	default:
		return fail(domain.NewDomainError(fmt.Sprintf("infra.handle(%s)", msg.Type), domain.ErrInfraUnsupported, string(msg.Type)))
	}
}
