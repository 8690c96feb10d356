package runtimerouter

import (
	"context"
	"encoding/json"
	"time"

	"browsir/internal/domain"
	"browsir/internal/infra/config"
	"browsir/internal/usecase/infrahandler"
	"browsir/internal/usecase/loop"
	"browsir/internal/usecase/sessionstore"
)

// Deps bundles every collaborator the brain.* family dispatches into.
type Deps struct {
	Loop       *loop.Controller
	Dispatcher *loop.Dispatcher
	Sessions   sessionstore.Store
	StepBuffer *StepBuffer
	Config     *config.Config
	IDGen      func() string
}

// resolveRoute builds the domain.LLMRoute for a session from the runtime
// config's profile chain plus the session's own stored profile override —
// the route is resolved once per run, at brain.run.start/steer/follow_up,
// and then carried forward (with escalation) by the loop controller itself.
func resolveRoute(cfg *config.Config, session *domain.Session) domain.LLMRoute {
	profile := session.Meta.LLMProfile
	if profile == "" {
		profile = cfg.Runtime.LLMDefaultProfile
	}
	return domain.LLMRoute{
		Profile:             profile,
		LLMModel:            cfg.Runtime.LLMModel,
		LLMTimeout:          time.Duration(cfg.Runtime.LLMTimeoutMs) * time.Millisecond,
		LLMRetryMaxAttempts: cfg.Runtime.LLMRetryMaxAttempts,
		LLMMaxRetryDelay:    time.Duration(cfg.Runtime.LLMMaxRetryDelayMs) * time.Millisecond,
		OrderedProfiles:     cfg.Runtime.LLMProfiles,
		EscalationPolicy:    domain.EscalationPolicy(cfg.Runtime.LLMEscalationPolicy),
	}
}

type runBody struct {
	Prompt string `json:"prompt"`
}

// RegisterBrainHandlers binds the brain.run.*, brain.session.*, and
// brain.step.* families, plus handlers for the collaborators
// (storage/skill/debug/agent) this runtime doesn't implement, which fail
// with ErrInfraUnsupported.
func RegisterBrainHandlers(r *Router, d Deps) {
	r.Register("brain.run.start", runHandler(d, loop.BehaviorFollowUp))
	r.Register("brain.run.follow_up", runHandler(d, loop.BehaviorFollowUp))
	r.Register("brain.run.steer", runHandler(d, loop.BehaviorSteer))
	r.Register("brain.run.regenerate", runHandler(d, loop.BehaviorFollowUp))
	r.Register("brain.run.edit_rerun", runHandler(d, loop.BehaviorFollowUp))

	r.Register("brain.run.queue.promote", func(ctx context.Context, env Envelope) infrahandler.Result {
		return infrahandler.Result{OK: true}
	})

	r.Register("brain.run.pause", func(ctx context.Context, env Envelope) infrahandler.Result {
		d.Loop.RunStateFor(env.SessionID).Pause()
		return infrahandler.Result{OK: true}
	})
	r.Register("brain.run.resume", func(ctx context.Context, env Envelope) infrahandler.Result {
		d.Loop.RunStateFor(env.SessionID).Resume()
		return infrahandler.Result{OK: true}
	})
	r.Register("brain.run.stop", func(ctx context.Context, env Envelope) infrahandler.Result {
		d.Loop.RunStateFor(env.SessionID).Stop()
		return infrahandler.Result{OK: true}
	})

	r.Register("brain.session.list", func(ctx context.Context, env Envelope) infrahandler.Result {
		return infrahandler.Result{OK: true, Data: d.Sessions.List()}
	})
	r.Register("brain.session.get", sessionGetHandler(d))
	r.Register("brain.session.view", sessionGetHandler(d))
	r.Register("brain.session.delete", func(ctx context.Context, env Envelope) infrahandler.Result {
		if err := d.Sessions.Delete(env.SessionID); err != nil {
			return fail(err)
		}
		d.StepBuffer.Clear(env.SessionID)
		return infrahandler.Result{OK: true}
	})
	r.Register("brain.session.fork", func(ctx context.Context, env Envelope) infrahandler.Result {
		session, ok := d.Sessions.Get(env.SessionID)
		if !ok {
			return failf(domain.ErrArgs, "unknown session %q", env.SessionID)
		}
		newID := d.IDGen()
		forked := session.Fork(newID, time.Now(), d.IDGen)
		if err := d.Sessions.Save(forked); err != nil {
			return fail(err)
		}
		return infrahandler.Result{OK: true, Data: forked}
	})
	r.Register("brain.session.title.refresh", func(ctx context.Context, env Envelope) infrahandler.Result {
		return infrahandler.Result{OK: true}
	})

	r.Register("brain.step.stream", stepStreamHandler(d))
	r.Register("brain.step.execute", stepExecuteHandler(d))

	passthrough := func(ctx context.Context, env Envelope) infrahandler.Result {
		return failf(domain.ErrInfraUnsupported, "%s has no registered collaborator in this runtime", env.Type)
	}
	for _, prefix := range []string{"brain.storage.", "brain.skill.", "brain.debug.", "brain.agent."} {
		r.RegisterPrefix(prefix, passthrough)
	}
}

func runHandler(d Deps, behavior loop.Behavior) HandlerFunc {
	return func(ctx context.Context, env Envelope) infrahandler.Result {
		var body runBody
		if err := json.Unmarshal(env.Raw, &body); err != nil {
			return failf(domain.ErrArgs, "%s: %v", env.Type, err)
		}
		session, ok := d.Sessions.Get(env.SessionID)
		if !ok {
			session = d.Sessions.Create(env.SessionID, time.Now())
		}
		route := resolveRoute(d.Config, session)
		status, err := d.Loop.Submit(ctx, session, route, body.Prompt, behavior)
		if err != nil {
			return fail(err)
		}
		return infrahandler.Result{OK: true, Data: map[string]any{"status": status}}
	}
}

func sessionGetHandler(d Deps) HandlerFunc {
	return func(ctx context.Context, env Envelope) infrahandler.Result {
		session, ok := d.Sessions.Get(env.SessionID)
		if !ok {
			return failf(domain.ErrArgs, "unknown session %q", env.SessionID)
		}
		return infrahandler.Result{OK: true, Data: map[string]any{
			"id": session.ID, "leaf": session.Leaf, "meta": session.Meta,
			"branch": session.Branch(),
		}}
	}
}

func stepStreamHandler(d Deps) HandlerFunc {
	return func(ctx context.Context, env Envelope) infrahandler.Result {
		var body struct {
			After int `json:"after"`
		}
		_ = json.Unmarshal(env.Raw, &body)
		events, cursor, cutBy := d.StepBuffer.Since(env.SessionID, body.After)
		data := map[string]any{"events": events, "cursor": cursor}
		if cutBy != "" {
			data["cut_by"] = cutBy
		}
		return infrahandler.Result{OK: true, Data: data}
	}
}

// stepExecuteBody is the tool call a caller asks brain.step.execute to run
// directly, bypassing the agent loop entirely — e.g. a debug console or a
// non-LLM-driven control surface replaying one capability step.
type stepExecuteBody struct {
	Tool   string          `json:"tool"`
	Args   json.RawMessage `json:"args"`
	TabID  string          `json:"tab_id"`
}

// stepExecuteHandler runs exactly one explicit capability step through C4's
// dispatcher and returns its result synchronously. Unlike brain.step.stream,
// which only reads the buffered event tail a running loop already produced,
// this dispatches the named tool call itself — there is no loop iteration,
// no retry budget, no approval gate; the caller is expected to already know
// what it wants run.
func stepExecuteHandler(d Deps) HandlerFunc {
	return func(ctx context.Context, env Envelope) infrahandler.Result {
		var body stepExecuteBody
		if err := json.Unmarshal(env.Raw, &body); err != nil {
			return failf(domain.ErrArgs, "%s: %v", env.Type, err)
		}
		if body.Tool == "" {
			return failf(domain.ErrArgs, "%s: tool is required", env.Type)
		}
		if d.Dispatcher == nil {
			return failf(domain.ErrInfraUnsupported, "%s: no dispatcher wired", env.Type)
		}
		call := domain.ToolCall{ID: d.IDGen(), Name: body.Tool, Arguments: body.Args}
		return d.Dispatcher.Dispatch(ctx, env.SessionID, call, body.TabID, false)
	}
}
