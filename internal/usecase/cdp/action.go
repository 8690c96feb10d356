package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"browsir/internal/domain"

	cdpproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

const (
	elementWaitTimeout = 10 * time.Second
	elementWaitStep    = 80 * time.Millisecond
)

// Action resolves req's target and dispatches it against tabID. Mutating
// actions are the caller's responsibility to lease-check before calling.
func (m *Manager) Action(ctx context.Context, tabID string, req ActionRequest) (ActionOutcome, error) {
	m.mu.Lock()
	tab, ok := m.tabs[tabID]
	m.mu.Unlock()
	if !ok {
		return ActionOutcome{}, domain.NewSubSystemError("cdp", "action", domain.ErrNoTab, tabID)
	}
	m.touch(tabID)

	tctx, cancel := context.WithTimeout(tab.ctx, m.timeout)
	defer cancel()

	switch req.Kind {
	case ActionNavigate:
		if err := chromedp.Run(tctx, chromedp.Navigate(req.URL), chromedp.WaitReady("body")); err != nil {
			return ActionOutcome{}, domain.NewSubSystemError("cdp", "action.navigate", domain.ErrCDPTimeout, err.Error())
		}
		return ActionOutcome{OK: true, Method: "navigate"}, nil

	case ActionPress:
		if err := chromedp.Run(tctx, chromedp.KeyEvent(req.Key)); err != nil {
			return ActionOutcome{}, domain.NewSubSystemError("cdp", "action.press", domain.ErrCDPTimeout, err.Error())
		}
		return ActionOutcome{OK: true, Method: "press"}, nil
	}

	backendID, method, err := m.resolveTarget(tctx, tabID, req)
	if err != nil {
		return ActionOutcome{}, err
	}

	if backendID > 0 {
		if err := m.dispatchOnBackendNode(tctx, backendID, req); err != nil {
			return ActionOutcome{}, err
		}
		return ActionOutcome{OK: true, Method: method}, nil
	}

	if err := m.dispatchOnSelector(tctx, req); err != nil {
		return ActionOutcome{}, err
	}
	return ActionOutcome{OK: true, Method: "selector"}, nil
}

// resolveTarget picks the element to act on by priority: explicit backend
// node id, then snapshot ref, otherwise selector. req.Hint is not used to
// pick a candidate.
func (m *Manager) resolveTarget(ctx context.Context, tabID string, req ActionRequest) (int64, string, error) {
	if req.BackendNodeID > 0 {
		return req.BackendNodeID, "backend_node", nil
	}
	if req.Ref != "" {
		if id, ok := m.refs.resolve(tabID, req.Ref); ok && id > 0 {
			return id, "ref", nil
		}
		// Stale ref (not a real backend id, or not found): fall through to
		// selector resolution rather than failing outright.
	}
	return 0, "selector", nil
}

func (m *Manager) dispatchOnBackendNode(ctx context.Context, backendID int64, req ActionRequest) error {
	var remote *runtime.RemoteObject
	if err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var rerr error
		remote, rerr = dom.ResolveNode().WithBackendNodeID(cdpproto.BackendNodeID(backendID)).Do(ctx)
		return rerr
	})); err != nil || remote == nil {
		return domain.NewSubSystemError("cdp", "action.resolve_node", domain.ErrCDPResolveNode, fmt.Sprintf("backend node %d", backendID))
	}
	defer func() {
		_ = chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			return runtime.ReleaseObject(remote.ObjectID).Do(ctx)
		}))
	}()

	switch req.Kind {
	case ActionClick:
		return callOnObject(ctx, remote.ObjectID, clickFn)
	case ActionHover:
		return callOnObject(ctx, remote.ObjectID, hoverFn)
	case ActionType, ActionFill:
		return m.setValue(ctx, remote.ObjectID, req.Value, req.Kind == ActionFill)
	case ActionSelect:
		return callOnObjectWithArg(ctx, remote.ObjectID, selectFn, req.Value)
	default:
		return domain.NewSubSystemError("cdp", "action", domain.ErrToolUnsupported, string(req.Kind))
	}
}

// dispatchOnSelector is the fallback path: a plain Runtime.evaluate against
// document.querySelector, polling up to elementWaitTimeout in
// elementWaitStep increments until the element exists.
func (m *Manager) dispatchOnSelector(ctx context.Context, req ActionRequest) error {
	if req.Selector == "" {
		return domain.NewSubSystemError("cdp", "action", domain.ErrArgs, "no selector, ref, or backendNodeId resolved")
	}

	deadline := time.Now().Add(elementWaitTimeout)
	for {
		var exists bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(
			fmt.Sprintf("!!document.querySelector(%q)", req.Selector), &exists,
		)); err == nil && exists {
			break
		}
		if time.Now().After(deadline) {
			return domain.NewSubSystemError("cdp", "action.wait", domain.ErrNoTab, "selector never appeared: "+req.Selector)
		}
		time.Sleep(elementWaitStep)
	}

	var js string
	switch req.Kind {
	case ActionClick:
		js = fmt.Sprintf(`(function(){var el=document.querySelector(%q); el.dispatchEvent(new MouseEvent('mousedown',{bubbles:true})); el.click(); el.dispatchEvent(new MouseEvent('mouseup',{bubbles:true}));})()`, req.Selector)
	case ActionHover:
		js = fmt.Sprintf(`(function(){var el=document.querySelector(%q); el.dispatchEvent(new MouseEvent('mouseover',{bubbles:true}));})()`, req.Selector)
	case ActionType, ActionFill:
		js = selectorSetValueJS(req.Selector, req.Value, req.Kind == ActionFill)
	case ActionSelect:
		js = fmt.Sprintf(`(function(){var el=document.querySelector(%q); el.value=%q; el.dispatchEvent(new Event('change',{bubbles:true}));})()`, req.Selector, req.Value)
	default:
		return domain.NewSubSystemError("cdp", "action", domain.ErrToolUnsupported, string(req.Kind))
	}

	var ignore string
	return chromedp.Run(ctx, chromedp.Evaluate(js, &ignore))
}

const clickFn = `function() {
	this.dispatchEvent(new MouseEvent('mousedown', {bubbles: true}));
	this.click();
	this.dispatchEvent(new MouseEvent('mouseup', {bubbles: true}));
}`

const hoverFn = `function() {
	this.dispatchEvent(new MouseEvent('mouseover', {bubbles: true}));
}`

const selectFn = `function(value) {
	this.value = value;
	this.dispatchEvent(new Event('change', {bubbles: true}));
}`

func callOnObject(ctx context.Context, objectID runtime.RemoteObjectID, fn string) error {
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, err := runtime.CallFunctionOn(fn).WithObjectID(objectID).Do(ctx)
		return err
	}))
}

func callOnObjectWithArg(ctx context.Context, objectID runtime.RemoteObjectID, fn, arg string) error {
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		argJSON, _ := json.Marshal(arg)
		_, _, err := runtime.CallFunctionOn(fn).
			WithObjectID(objectID).
			WithArguments([]*runtime.CallArgument{{Value: argJSON}}).
			Do(ctx)
		return err
	}))
}

// setValue writes text into the resolved element, detecting Monaco editors
// (an ancestor `.monaco-editor` plus the `monaco` global) and setting the
// editor model directly, else using the native value setter to avoid
// framework-shadowed property assignment, else execCommand('insertText')
// for contenteditable regions. fill clears existing content first and
// fires a trailing change event; type appends without clearing.
func (m *Manager) setValue(ctx context.Context, objectID runtime.RemoteObjectID, text string, fill bool) error {
	argJSON, _ := json.Marshal(text)
	fn := fmt.Sprintf(`function(value) {
		var isFill = %t;
		var monacoRoot = this.closest && this.closest('.monaco-editor');
		if (monacoRoot && window.monaco && window.monaco.editor) {
			var editors = window.monaco.editor.getEditors ? window.monaco.editor.getEditors() : [];
			for (var i = 0; i < editors.length; i++) {
				var dom = editors[i].getDomNode && editors[i].getDomNode();
				if (dom && monacoRoot.contains(dom)) {
					var model = editors[i].getModel();
					var next = isFill ? value : (model.getValue() + value);
					model.setValue(next);
					return;
				}
			}
		}

		var tag = (this.tagName || '').toLowerCase();
		if (tag === 'input' || tag === 'textarea') {
			var proto = tag === 'input' ? window.HTMLInputElement.prototype : window.HTMLTextAreaElement.prototype;
			var setter = Object.getOwnPropertyDescriptor(proto, 'value').set;
			var next = isFill ? value : (this.value + value);
			this.dispatchEvent(new InputEvent('beforeinput', {bubbles: true}));
			setter.call(this, next);
			this.dispatchEvent(new InputEvent('input', {bubbles: true}));
			if (isFill) this.dispatchEvent(new Event('change', {bubbles: true}));
			return;
		}

		if (this.isContentEditable) {
			this.focus();
			if (isFill) {
				document.execCommand('selectAll');
				document.execCommand('delete');
			}
			this.dispatchEvent(new InputEvent('beforeinput', {bubbles: true}));
			document.execCommand('insertText', false, value);
			this.dispatchEvent(new InputEvent('input', {bubbles: true}));
		}
	}`, fill)

	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, err := runtime.CallFunctionOn(fn).
			WithObjectID(objectID).
			WithArguments([]*runtime.CallArgument{{Value: argJSON}}).
			Do(ctx)
		return err
	}))
}

func selectorSetValueJS(selector, value string, fill bool) string {
	return fmt.Sprintf(`(function(){
		var el = document.querySelector(%q);
		var isFill = %t;
		var tag = el.tagName.toLowerCase();
		if (tag === 'input' || tag === 'textarea') {
			var proto = tag === 'input' ? window.HTMLInputElement.prototype : window.HTMLTextAreaElement.prototype;
			var setter = Object.getOwnPropertyDescriptor(proto, 'value').set;
			var next = isFill ? %q : (el.value + %q);
			el.dispatchEvent(new InputEvent('beforeinput', {bubbles: true}));
			setter.call(el, next);
			el.dispatchEvent(new InputEvent('input', {bubbles: true}));
			if (isFill) el.dispatchEvent(new Event('change', {bubbles: true}));
		} else if (el.isContentEditable) {
			el.focus();
			if (isFill) { document.execCommand('selectAll'); document.execCommand('delete'); }
			document.execCommand('insertText', false, %q);
		}
	})()`, selector, fill, value, value, value)
}
