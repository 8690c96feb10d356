package runtimerouter

import (
	"context"
	"encoding/json"
	"time"

	"browsir/internal/domain"
	"browsir/internal/infra/config"
	"browsir/internal/usecase/cdp"
	"browsir/internal/usecase/infrahandler"
)

// RegisterInfraHandlers binds the config./bridge./lease./cdp. families onto
// the infra handler verbatim — the router's only job for these is to turn
// wire JSON into the Go-typed infrahandler.Message the handler expects.
func RegisterInfraHandlers(r *Router, infra *infrahandler.Handler) {
	r.Register("config.get", func(ctx context.Context, env Envelope) infrahandler.Result {
		return infra.Handle(ctx, infrahandler.Message{Type: infrahandler.MsgConfigGet})
	})
	r.Register("config.save", func(ctx context.Context, env Envelope) infrahandler.Result {
		var body struct {
			Config *config.Config `json:"config"`
		}
		if err := json.Unmarshal(env.Raw, &body); err != nil {
			return failf(domain.ErrArgs, "config.save: %v", err)
		}
		return infra.Handle(ctx, infrahandler.Message{Type: infrahandler.MsgConfigSave, Config: body.Config})
	})

	r.Register("bridge.connect", func(ctx context.Context, env Envelope) infrahandler.Result {
		var body struct {
			Force bool `json:"force"`
		}
		_ = json.Unmarshal(env.Raw, &body)
		return infra.Handle(ctx, infrahandler.Message{Type: infrahandler.MsgBridgeConnect, Force: body.Force})
	})
	r.Register("bridge.invoke", func(ctx context.Context, env Envelope) infrahandler.Result {
		var body struct {
			Tool          string          `json:"tool"`
			Args          json.RawMessage `json:"args"`
			BridgeTimeout int64           `json:"bridgeTimeoutMs"`
		}
		if err := json.Unmarshal(env.Raw, &body); err != nil {
			return failf(domain.ErrArgs, "bridge.invoke: %v", err)
		}
		return infra.Handle(ctx, infrahandler.Message{
			Type: infrahandler.MsgBridgeInvoke, Tool: body.Tool, Args: body.Args,
			SessionID: env.SessionID, BridgeTimeout: time.Duration(body.BridgeTimeout) * time.Millisecond,
		})
	})
	r.Register("bridge.abort", func(ctx context.Context, env Envelope) infrahandler.Result {
		return infra.Handle(ctx, infrahandler.Message{Type: infrahandler.MsgBridgeAbort})
	})

	r.Register("lease.acquire", func(ctx context.Context, env Envelope) infrahandler.Result {
		var body leaseBody
		if err := json.Unmarshal(env.Raw, &body); err != nil {
			return failf(domain.ErrArgs, "lease.acquire: %v", err)
		}
		return infra.Handle(ctx, infrahandler.Message{
			Type: infrahandler.MsgLeaseAcquire, TabID: body.TabID, Owner: firstNonEmpty(body.Owner, env.SessionID),
			TTL: time.Duration(body.TTLMs) * time.Millisecond,
		})
	})
	r.Register("lease.heartbeat", func(ctx context.Context, env Envelope) infrahandler.Result {
		var body leaseBody
		if err := json.Unmarshal(env.Raw, &body); err != nil {
			return failf(domain.ErrArgs, "lease.heartbeat: %v", err)
		}
		return infra.Handle(ctx, infrahandler.Message{
			Type: infrahandler.MsgLeaseHeartbeat, TabID: body.TabID, Owner: firstNonEmpty(body.Owner, env.SessionID),
			LeaseID: body.LeaseID, TTL: time.Duration(body.TTLMs) * time.Millisecond,
		})
	})
	r.Register("lease.release", func(ctx context.Context, env Envelope) infrahandler.Result {
		var body leaseBody
		if err := json.Unmarshal(env.Raw, &body); err != nil {
			return failf(domain.ErrArgs, "lease.release: %v", err)
		}
		return infra.Handle(ctx, infrahandler.Message{
			Type: infrahandler.MsgLeaseRelease, TabID: body.TabID, Owner: firstNonEmpty(body.Owner, env.SessionID),
			LeaseID: body.LeaseID,
		})
	})
	r.Register("lease.status", func(ctx context.Context, env Envelope) infrahandler.Result {
		var body leaseBody
		if err := json.Unmarshal(env.Raw, &body); err != nil {
			return failf(domain.ErrArgs, "lease.status: %v", err)
		}
		return infra.Handle(ctx, infrahandler.Message{Type: infrahandler.MsgLeaseStatus, TabID: body.TabID})
	})

	r.Register("cdp.observe", func(ctx context.Context, env Envelope) infrahandler.Result {
		var body struct {
			TabID string `json:"tabId"`
		}
		_ = json.Unmarshal(env.Raw, &body)
		return infra.Handle(ctx, infrahandler.Message{Type: infrahandler.MsgCDPObserve, TabID: body.TabID})
	})
	r.Register("cdp.snapshot", func(ctx context.Context, env Envelope) infrahandler.Result {
		var body cdpSnapshotBody
		if err := json.Unmarshal(env.Raw, &body); err != nil {
			return failf(domain.ErrArgs, "cdp.snapshot: %v", err)
		}
		return infra.Handle(ctx, infrahandler.Message{Type: infrahandler.MsgCDPSnapshot, TabID: body.TabID, SnapshotKey: body.key()})
	})
	r.Register("cdp.action", func(ctx context.Context, env Envelope) infrahandler.Result {
		var body cdpActionBody
		if err := json.Unmarshal(env.Raw, &body); err != nil {
			return failf(domain.ErrArgs, "cdp.action: %v", err)
		}
		return infra.Handle(ctx, infrahandler.Message{
			Type: infrahandler.MsgCDPAction, TabID: body.TabID, Action: body.request(), HasLease: body.HasLease,
		})
	})
	r.Register("cdp.execute", func(ctx context.Context, env Envelope) infrahandler.Result {
		var body struct {
			Selector string `json:"selector"`
		}
		if err := json.Unmarshal(env.Raw, &body); err != nil {
			return failf(domain.ErrArgs, "cdp.execute: %v", err)
		}
		return infra.Handle(ctx, infrahandler.Message{Type: infrahandler.MsgCDPExecute, Selector: body.Selector})
	})
	r.Register("cdp.verify", func(ctx context.Context, env Envelope) infrahandler.Result {
		var body cdpVerifyBody
		if err := json.Unmarshal(env.Raw, &body); err != nil {
			return failf(domain.ErrArgs, "cdp.verify: %v", err)
		}
		return infra.Handle(ctx, infrahandler.Message{
			Type: infrahandler.MsgCDPVerify, TabID: body.TabID, Before: body.Before, Expect: body.Expect,
			WaitFor: time.Duration(body.WaitForMs) * time.Millisecond,
			PollInterval: time.Duration(body.PollIntervalMs) * time.Millisecond,
		})
	})
	r.Register("cdp.detach", func(ctx context.Context, env Envelope) infrahandler.Result {
		var body struct {
			TabID string `json:"tabId"`
			Owner string `json:"owner"`
		}
		_ = json.Unmarshal(env.Raw, &body)
		return infra.Handle(ctx, infrahandler.Message{
			Type: infrahandler.MsgCDPDetach, TabID: body.TabID, Owner: firstNonEmpty(body.Owner, env.SessionID),
		})
	})
}

type leaseBody struct {
	TabID   string `json:"tabId"`
	Owner   string `json:"owner,omitempty"`
	LeaseID string `json:"leaseId,omitempty"`
	TTLMs   int64  `json:"ttlMs,omitempty"`
}

type cdpSnapshotBody struct {
	TabID     string `json:"tabId"`
	Mode      string `json:"mode"`
	Filter    string `json:"filter"`
	Selector  string `json:"selector"`
	Depth     int    `json:"depth"`
	MaxTokens int    `json:"maxTokens"`
	MaxNodes  int    `json:"maxNodes"`
}

func (b cdpSnapshotBody) key() domain.SnapshotKey {
	mode := domain.SnapshotMode(b.Mode)
	if mode == "" {
		mode = domain.SnapshotModeFull
	}
	filter := domain.SnapshotFilter(b.Filter)
	if filter == "" {
		filter = domain.SnapshotFilterInteractive
	}
	return domain.SnapshotKey{
		Mode: mode, Filter: filter, Selector: b.Selector,
		Depth: b.Depth, MaxTokens: b.MaxTokens, MaxNodes: b.MaxNodes,
	}
}

type cdpActionBody struct {
	TabID         string `json:"tabId"`
	Kind          string `json:"kind"`
	BackendNodeID int64  `json:"backendNodeId"`
	Ref           string `json:"ref"`
	Selector      string `json:"selector"`
	Hint          string `json:"hint"`
	Value         string `json:"value"`
	URL           string `json:"url"`
	Key           string `json:"key"`
	HasLease      bool   `json:"hasLease"`
}

func (b cdpActionBody) request() cdp.ActionRequest {
	return cdp.ActionRequest{
		Kind: cdp.ActionKind(b.Kind), BackendNodeID: b.BackendNodeID, Ref: b.Ref,
		Selector: b.Selector, Hint: b.Hint, Value: b.Value, URL: b.URL, Key: b.Key,
	}
}

type cdpVerifyBody struct {
	TabID          string                     `json:"tabId"`
	Before         domain.Observation         `json:"before"`
	Expect         []domain.VerifyExpectation `json:"expect"`
	WaitForMs      int64                      `json:"waitForMs"`
	PollIntervalMs int64                      `json:"pollIntervalMs"`
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
