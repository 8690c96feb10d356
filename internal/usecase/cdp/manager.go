package cdp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"browsir/internal/domain"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// Config holds configuration for the chromedp-backed manager.
type Config struct {
	// RemoteURL is the CDP WebSocket endpoint for connecting to a remote
	// Chrome. If empty, a local Chrome instance is launched.
	RemoteURL string
	// Headless controls whether a locally launched Chrome runs headless.
	Headless bool
	// Timeout is the per-call timeout applied to chromedp.Run invocations.
	Timeout time.Duration
	// IdleDetachAfter is the idle window ReapIdle uses: ReapIdle closes
	// non-active tabs that have seen no cdp call for this long. The manager
	// does not call ReapIdle itself. Zero or negative selects 30s.
	IdleDetachAfter time.Duration
}

type cdpTab struct {
	ctx          context.Context
	cancel       context.CancelFunc
	lastActivity time.Time
}

// Manager owns one browser's worth of chromedp targets and serializes all
// CDP calls against them. It is the concrete implementation behind the
// infra handler's cdp.* message family.
type Manager struct {
	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	activeID      string
	tabs          map[string]*cdpTab
	timeout       time.Duration
	idleDetach    time.Duration
	logger        *slog.Logger
	connected     bool
	refs          *refStore
}

func (m *Manager) activeTab() *cdpTab { return m.tabs[m.activeID] }

func (m *Manager) withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(m.activeTab().ctx, m.timeout)
}

func (m *Manager) touch(tabID string) {
	if t, ok := m.tabs[tabID]; ok {
		t.lastActivity = time.Now()
	}
}

// NewManager launches or attaches to a browser per cfg.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.IdleDetachAfter <= 0 {
		cfg.IdleDetachAfter = 30 * time.Second
	}

	m := &Manager{
		tabs:       make(map[string]*cdpTab),
		timeout:    cfg.Timeout,
		idleDetach: cfg.IdleDetachAfter,
		logger:     logger,
		refs:       newRefStore(),
	}

	var allocCtx context.Context
	if cfg.RemoteURL != "" {
		allocCtx, m.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
		logger.Info("cdp manager attaching to remote browser", "url", cfg.RemoteURL)
	} else {
		opts := make([]chromedp.ExecAllocatorOption, len(chromedp.DefaultExecAllocatorOptions))
		copy(opts, chromedp.DefaultExecAllocatorOptions[:])
		opts = append(opts,
			chromedp.Flag("headless", cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.WindowSize(1280, 720),
		)
		allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
		logger.Info("cdp manager launching local browser", "headless", cfg.Headless)
	}

	m.browserCtx, m.browserCancel = chromedp.NewContext(allocCtx)

	tabCtx, tabCancel := chromedp.NewContext(m.browserCtx)

	// chromedp binds the CDP session to the context passed to the first
	// Run; a derived timeout context here would kill the session on expiry
	// rather than just this call.
	startDone := make(chan error, 1)
	go func() { startDone <- chromedp.Run(tabCtx) }()
	select {
	case err := <-startDone:
		if err != nil {
			tabCancel()
			m.Close()
			return nil, domain.NewSubSystemError("cdp", "attach", domain.ErrCDPAttach, err.Error())
		}
	case <-time.After(cfg.Timeout):
		tabCancel()
		m.Close()
		return nil, domain.NewSubSystemError("cdp", "attach", domain.ErrCDPAttach, "timed out starting browser")
	}

	ct := chromedp.FromContext(tabCtx)
	initialID := string(ct.Target.TargetID)
	m.tabs[initialID] = &cdpTab{ctx: tabCtx, cancel: tabCancel, lastActivity: time.Now()}
	m.activeID = initialID
	m.connected = true

	logger.Info("cdp manager attached")
	return m, nil
}

func (m *Manager) Name() string { return "chromedp" }

// ReapIdle detaches (closes) any tab whose last CDP activity is older than
// the configured idle window, except the one remaining active tab.
func (m *Manager) ReapIdle(now time.Time) {
	m.mu.Lock()
	stale := make([]string, 0)
	for id, t := range m.tabs {
		if id == m.activeID {
			continue
		}
		if now.Sub(t.lastActivity) > m.idleDetach {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		_ = m.TabClose(context.Background(), id)
	}
}

func (m *Manager) Navigate(ctx context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch(m.activeID)

	tctx, cancel := m.withTimeout()
	defer cancel()

	if err := chromedp.Run(tctx, chromedp.Navigate(url), chromedp.WaitReady("body")); err != nil {
		return domain.NewSubSystemError("cdp", "navigate", domain.ErrCDPTimeout, err.Error())
	}
	return nil
}

func (m *Manager) GetContent(ctx context.Context, selector string) (*PageContent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch(m.activeID)

	tctx, cancel := m.withTimeout()
	defer cancel()

	domTarget := "document.body"
	if selector != "" {
		domTarget = fmt.Sprintf("document.querySelector(%q)", selector)
	}

	var result string
	if err := chromedp.Run(tctx, chromedp.Evaluate(contentExtractionJS(domTarget), &result)); err != nil {
		return nil, domain.NewSubSystemError("cdp", "read", domain.ErrCDPResolveNode, err.Error())
	}

	var pc PageContent
	if err := json.Unmarshal([]byte(result), &pc); err != nil {
		pc.Text = result
	}
	return &pc, nil
}

// screenshotQualities is the sequence of JPEG quality levels tried when a
// screenshot exceeds maxScreenshotBase64.
var screenshotQualities = []int{80, 60, 40, 20}

func (m *Manager) captureJPEG(ctx context.Context, fullPage bool, quality int) ([]byte, error) {
	var buf []byte
	var action chromedp.Action
	if fullPage {
		action = chromedp.FullScreenshot(&buf, quality)
	} else {
		q := int64(quality)
		action = chromedp.ActionFunc(func(actx context.Context) error {
			data, err := page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatJpeg).
				WithQuality(q).
				Do(actx)
			if err != nil {
				return err
			}
			buf = data
			return nil
		})
	}
	if err := chromedp.Run(ctx, action); err != nil {
		return nil, err
	}
	return buf, nil
}

func (m *Manager) Screenshot(ctx context.Context, fullPage bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch(m.activeID)

	tctx, cancel := m.withTimeout()
	defer cancel()

	var encoded string
	for _, quality := range screenshotQualities {
		buf, err := m.captureJPEG(tctx, fullPage, quality)
		if err != nil {
			return "", domain.WrapOp("screenshot", err)
		}
		encoded = base64.StdEncoding.EncodeToString(buf)
		if len(encoded) <= maxScreenshotBase64 {
			return encoded, nil
		}
		m.logger.Debug("screenshot too large, reducing quality",
			"quality", quality, "base64_len", len(encoded), "max", maxScreenshotBase64)
	}
	return encoded, nil
}

func (m *Manager) TabList(ctx context.Context) ([]TabInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	targets, err := chromedp.Targets(m.browserCtx)
	if err != nil {
		return nil, domain.WrapOp("tab list", err)
	}

	var tabs []TabInfo
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		tabs = append(tabs, TabInfo{
			TargetID: string(t.TargetID),
			Title:    t.Title,
			URL:      t.URL,
			Active:   string(t.TargetID) == m.activeID,
		})
	}
	return tabs, nil
}

func (m *Manager) TabOpen(ctx context.Context, url string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if url == "" {
		url = "about:blank"
	}

	var newTargetID target.ID
	if err := chromedp.Run(m.browserCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			newTargetID, err = target.CreateTarget(url).Do(ctx)
			return err
		}),
	); err != nil {
		return "", domain.WrapOp("tab open", err)
	}

	newCtx, newCancel := chromedp.NewContext(m.browserCtx, chromedp.WithTargetID(newTargetID))
	if err := chromedp.Run(newCtx); err != nil {
		newCancel()
		return "", domain.WrapOp("tab open attach", err)
	}

	newID := string(newTargetID)
	m.tabs[newID] = &cdpTab{ctx: newCtx, cancel: newCancel, lastActivity: time.Now()}
	m.activeID = newID

	return newID, nil
}

// TabClose closes targetID and clears any lease/snapshot state a caller
// holds keyed by that tab — the caller (infra handler) is responsible for
// actually clearing those tables; this only tears down the CDP session.
func (m *Manager) TabClose(ctx context.Context, targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tab, ok := m.tabs[targetID]
	if !ok {
		return domain.NewSubSystemError("cdp", "tab_close", domain.ErrNoTab, targetID)
	}

	closingActive := targetID == m.activeID

	tab.cancel()
	delete(m.tabs, targetID)
	if m.refs != nil {
		m.refs.clear(targetID)
	}

	if closingActive {
		m.activeID = ""
		for id := range m.tabs {
			m.activeID = id
			break
		}
		if m.activeID == "" {
			newCtx, newCancel := chromedp.NewContext(m.browserCtx)
			if err := chromedp.Run(newCtx); err != nil {
				return domain.WrapOp("tab close: create replacement", err)
			}
			ct := chromedp.FromContext(newCtx)
			newID := string(ct.Target.TargetID)
			m.tabs[newID] = &cdpTab{ctx: newCtx, cancel: newCancel, lastActivity: time.Now()}
			m.activeID = newID
		}
	}

	return nil
}

func (m *Manager) TabFocus(ctx context.Context, targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tabs[targetID]; !ok {
		return domain.NewSubSystemError("cdp", "tab_focus", domain.ErrNoTab, targetID)
	}

	m.activeID = targetID
	m.touch(targetID)

	return chromedp.Run(m.browserCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return target.ActivateTarget(target.ID(targetID)).Do(ctx)
		}),
	)
}

func (m *Manager) Status(ctx context.Context) (*BrowserStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := &BrowserStatus{Connected: m.connected, Backend: m.Name()}

	if m.connected {
		targets, err := chromedp.Targets(m.browserCtx)
		if err == nil {
			for _, t := range targets {
				if t.Type == "page" {
					status.TabCount++
				}
			}
		}

		tctx, cancel := m.withTimeout()
		defer cancel()
		var url string
		if err := chromedp.Run(tctx, chromedp.Location(&url)); err == nil {
			status.ActiveTabURL = url
		}
	}

	return status, nil
}

// Detach tears down tabID's CDP session and drops its snapshot refs without
// closing the whole manager — used by the cdp.detach handler.
func (m *Manager) Detach(tabID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tabs[tabID]; ok {
		t.cancel()
		delete(m.tabs, tabID)
	}
	if m.refs != nil {
		m.refs.clear(tabID)
	}
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connected = false
	for _, tab := range m.tabs {
		tab.cancel()
	}
	m.tabs = nil
	if m.browserCancel != nil {
		m.browserCancel()
	}
	if m.allocCancel != nil {
		m.allocCancel()
	}
	m.logger.Info("cdp manager closed")
	return nil
}
