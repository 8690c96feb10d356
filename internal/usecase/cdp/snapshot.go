package cdp

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"browsir/internal/domain"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// interactiveRoles are the accessibility roles treated as actionable even
// without an explicit focusable flag.
var interactiveRoles = map[string]bool{
	"button": true, "link": true, "textbox": true, "checkbox": true,
	"radio": true, "combobox": true, "listbox": true, "menuitem": true,
	"tab": true, "switch": true, "slider": true, "searchbox": true,
}

// refStore keeps the most recent snapshot's stable-ref map per tab, so
// actions can resolve a ref back to a backend node id. Entries are wholly
// replaced on every new snapshot for that tab.
type refStore struct {
	mu    sync.Mutex
	byTab map[string]map[string]int64 // tabID -> ref -> backendNodeId
}

func newRefStore() *refStore {
	return &refStore{byTab: make(map[string]map[string]int64)}
}

func (s *refStore) put(tabID string, refs map[string]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTab[tabID] = refs
}

func (s *refStore) resolve(tabID, ref string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byTab[tabID]
	if !ok {
		return 0, false
	}
	id, ok := m[ref]
	return id, ok
}

func (s *refStore) clear(tabID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byTab, tabID)
}

// Snapshot captures the current page's interactive/textual structure for
// tabID, trying the accessibility-tree path first and falling back to a
// DOM-evaluate query when the AX tree comes back empty or errors.
func (m *Manager) Snapshot(ctx context.Context, tabID string, key domain.SnapshotKey) (domain.Snapshot, error) {
	m.mu.Lock()
	tab, ok := m.tabs[tabID]
	m.mu.Unlock()
	if !ok {
		return domain.Snapshot{}, domain.NewSubSystemError("cdp", "snapshot", domain.ErrNoTab, tabID)
	}
	m.touch(tabID)

	snap, err := m.snapshotAXTree(ctx, tab.ctx, key)
	if err == nil && len(snap.Nodes) > 0 {
		m.storeRefs(tabID, snap)
		return snap, nil
	}

	snap, derr := m.snapshotDOMEvaluate(ctx, tab.ctx, key)
	if derr != nil {
		if err != nil {
			return domain.Snapshot{}, domain.NewSubSystemError("cdp", "snapshot", domain.ErrCDPAXTreeEmpty, err.Error())
		}
		return domain.Snapshot{}, domain.WrapOp("snapshot", derr)
	}
	m.storeRefs(tabID, snap)
	return snap, nil
}

func (m *Manager) storeRefs(tabID string, snap domain.Snapshot) {
	refs := make(map[string]int64, len(snap.Nodes))
	for _, n := range snap.Nodes {
		if n.Ref != "" {
			refs[n.Ref] = n.BackendNodeID
		}
	}
	if m.refs == nil {
		m.refs = newRefStore()
	}
	m.refs.put(tabID, refs)
}

// snapshotAXTree walks the accessibility tree returned by GetFullAXTree (the
// main frame's subtree), keeping ignored-false nodes that carry a
// backendDOMNodeId; with the interactive filter, only nodes with an
// interactive role or that are independently focusable are kept. Each kept
// node is resolved through DOM.resolveNode + Runtime.callFunctionOn for
// selector/name/placeholder/aria-label/disabled/focused.
func (m *Manager) snapshotAXTree(ctx context.Context, tabCtx context.Context, key domain.SnapshotKey) (domain.Snapshot, error) {
	var frameTree *page.FrameTree
	var axNodes []*accessibility.Node

	tctx, cancel := context.WithTimeout(tabCtx, m.timeout)
	defer cancel()

	err := chromedp.Run(tctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var ferr error
			frameTree, ferr = page.GetFrameTree().Do(ctx)
			return ferr
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var aerr error
			axNodes, aerr = accessibility.GetFullAXTree().Do(ctx)
			return aerr
		}),
	)
	if err != nil {
		return domain.Snapshot{}, domain.NewSubSystemError("cdp", "snapshot.axtree", domain.ErrCDPAXTreeEmpty, err.Error())
	}
	_ = frameTree // frame enumeration is implicit: GetFullAXTree covers the main frame's subtree

	nodes := make([]domain.NodeDescriptor, 0, len(axNodes))
	seenFingerprint := make(map[string]int)

	for _, n := range axNodes {
		if n.Ignored {
			continue
		}
		if n.BackendDOMNodeID == 0 {
			continue
		}
		role := axValue(n.Role)
		focusable := hasAXProperty(n, "focusable")
		if !interactiveRoles[role] && !focusable {
			if key.Filter == domain.SnapshotFilterInteractive {
				continue
			}
		}

		desc, ok := m.resolveAXNode(tctx, n, role)
		if !ok {
			continue
		}
		if key.Selector != "" && desc.Selector != "" && !strings.Contains(desc.Selector, key.Selector) {
			continue
		}

		desc.Ref = stableRef(desc.BackendNodeID, desc, seenFingerprint)
		nodes = append(nodes, desc)

		if key.MaxNodes > 0 && len(nodes) >= key.MaxNodes {
			break
		}
	}

	return domain.Snapshot{
		Nodes: nodes,
		Stats: domain.SnapshotStats{Path: "axtree", Total: len(axNodes), Truncated: key.MaxNodes > 0 && len(axNodes) > len(nodes)},
	}, nil
}

func (m *Manager) resolveAXNode(ctx context.Context, n *accessibility.Node, role string) (domain.NodeDescriptor, bool) {
	var remote *runtime.RemoteObject
	var rerr error
	if err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		remote, rerr = dom.ResolveNode().WithBackendNodeID(n.BackendDOMNodeID).Do(ctx)
		return rerr
	})); err != nil || remote == nil {
		return domain.NodeDescriptor{}, false
	}
	defer func() {
		_ = chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			return runtime.ReleaseObject(remote.ObjectID).Do(ctx)
		}))
	}()

	const fn = `function() {
		function sel(el) {
			if (!el) return '';
			if (el.id) return '#' + el.id;
			var parts = [];
			while (el && el.nodeType === 1 && parts.length < 6) {
				var p = el.tagName.toLowerCase();
				if (el.className && typeof el.className === 'string') {
					p += '.' + el.className.trim().split(/\s+/).slice(0,2).join('.');
				}
				parts.unshift(p);
				el = el.parentElement;
			}
			return parts.join(' > ');
		}
		return JSON.stringify({
			selector: sel(this),
			tag: this.tagName ? this.tagName.toLowerCase() : '',
			name: (this.innerText || this.value || '').slice(0, 180),
			placeholder: this.placeholder || '',
			ariaLabel: this.getAttribute ? (this.getAttribute('aria-label') || '') : '',
			disabled: !!this.disabled,
			focused: document.activeElement === this,
		});
	}`

	var raw string
	if err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		res, _, cerr := runtime.CallFunctionOn(fn).
			WithObjectID(remote.ObjectID).
			WithReturnByValue(true).
			Do(ctx)
		if cerr != nil {
			return cerr
		}
		return json.Unmarshal(res.Value, &raw)
	})); err != nil {
		return domain.NodeDescriptor{}, false
	}

	var parsed struct {
		Selector    string `json:"selector"`
		Tag         string `json:"tag"`
		Name        string `json:"name"`
		Placeholder string `json:"placeholder"`
		AriaLabel   string `json:"ariaLabel"`
		Disabled    bool   `json:"disabled"`
		Focused     bool   `json:"focused"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return domain.NodeDescriptor{}, false
	}

	return domain.NodeDescriptor{
		BackendNodeID: int64(n.BackendDOMNodeID),
		Selector:      parsed.Selector,
		Role:          role,
		Tag:           parsed.Tag,
		Name:          parsed.Name,
		Placeholder:   parsed.Placeholder,
		AriaLabel:     parsed.AriaLabel,
		Disabled:      parsed.Disabled,
		Focused:       parsed.Focused,
	}, true
}

// snapshotDOMEvaluate is the fallback path when the AX tree comes back
// empty or throws: a plain DOM query for descendants, filtered to the
// interactive CSS selector set when the caller asked for an interactive
// filter, capped at key.MaxNodes.
func (m *Manager) snapshotDOMEvaluate(ctx context.Context, tabCtx context.Context, key domain.SnapshotKey) (domain.Snapshot, error) {
	tctx, cancel := context.WithTimeout(tabCtx, m.timeout)
	defer cancel()

	selector := "*"
	if key.Filter == domain.SnapshotFilterInteractive {
		selector = "a[href],button,input,select,textarea,[role],[tabindex],[contenteditable]"
	}
	if key.Selector != "" {
		selector = key.Selector
	}

	js := fmt.Sprintf(domEvaluateJS, selector, capOr(key.MaxNodes, 300))

	var raw string
	if err := chromedp.Run(tctx, chromedp.Evaluate(js, &raw)); err != nil {
		return domain.Snapshot{}, domain.NewSubSystemError("cdp", "snapshot.domevaluate", domain.ErrCDPResolveNode, err.Error())
	}

	var parsed []struct {
		Selector    string `json:"selector"`
		Tag         string `json:"tag"`
		Name        string `json:"name"`
		Placeholder string `json:"placeholder"`
		AriaLabel   string `json:"ariaLabel"`
		Disabled    bool   `json:"disabled"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return domain.Snapshot{}, domain.WrapOp("snapshot.domevaluate decode", err)
	}

	seenFingerprint := make(map[string]int)
	nodes := make([]domain.NodeDescriptor, 0, len(parsed))
	for i, p := range parsed {
		desc := domain.NodeDescriptor{
			Selector:    p.Selector,
			Tag:         p.Tag,
			Name:        p.Name,
			Placeholder: p.Placeholder,
			AriaLabel:   p.AriaLabel,
			Disabled:    p.Disabled,
			BackendNodeID: int64(-(i + 1)), // no backend node id on this path; negative sentinel
		}
		desc.Ref = stableRef(desc.BackendNodeID, desc, seenFingerprint)
		nodes = append(nodes, desc)
	}

	return domain.Snapshot{
		Nodes: nodes,
		Stats: domain.SnapshotStats{Path: "dom-evaluate", Total: len(parsed), Truncated: len(parsed) >= capOr(key.MaxNodes, 300)},
	}, nil
}

const domEvaluateJS = `(function() {
	function sel(el) {
		if (el.id) return '#' + el.id;
		var parts = [];
		while (el && el.nodeType === 1 && parts.length < 6) {
			var p = el.tagName.toLowerCase();
			parts.unshift(p);
			el = el.parentElement;
		}
		return parts.join(' > ');
	}
	var nodes = Array.prototype.slice.call(document.querySelectorAll(%q)).slice(0, %d);
	return JSON.stringify(nodes.map(function(el) {
		return {
			selector: sel(el),
			tag: el.tagName.toLowerCase(),
			name: (el.innerText || el.value || '').slice(0, 180),
			placeholder: el.placeholder || '',
			ariaLabel: el.getAttribute('aria-label') || '',
			disabled: !!el.disabled,
		};
	}));
})()`

func capOr(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

// stableRef produces a "bn-<backendNodeId>" ref, or when the id is not a
// real backend node id (the DOM-evaluate fallback path), a content
// fingerprint hash — deduping repeats with a "-2"/"-3" suffix.
func stableRef(backendNodeID int64, n domain.NodeDescriptor, seen map[string]int) string {
	var base string
	if backendNodeID > 0 {
		base = fmt.Sprintf("bn-%d", backendNodeID)
	} else {
		h := sha1.Sum([]byte(n.Selector + "|" + n.Tag + "|" + n.Name))
		base = "fp-" + hex.EncodeToString(h[:])[:12]
	}
	seen[base]++
	if seen[base] == 1 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, seen[base])
}

func axValue(v *accessibility.AXValue) string {
	if v == nil {
		return ""
	}
	var s string
	_ = json.Unmarshal(v.Value, &s)
	return s
}

func hasAXProperty(n *accessibility.Node, name string) bool {
	for _, p := range n.Properties {
		if string(p.Name) == name {
			var b bool
			if err := json.Unmarshal(p.Value.Value, &b); err == nil && b {
				return true
			}
		}
	}
	return false
}
