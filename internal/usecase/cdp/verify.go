package cdp

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"browsir/internal/domain"

	"github.com/chromedp/chromedp"
)

const (
	defaultPollInterval = 120 * time.Millisecond
	minPollInterval     = 50 * time.Millisecond
	maxPollInterval     = 1000 * time.Millisecond
)

// clampPollInterval bounds a requested poll interval to [50ms, 1000ms],
// substituting the 120ms default when d is zero.
func clampPollInterval(d time.Duration) time.Duration {
	if d == 0 {
		return defaultPollInterval
	}
	if d < minPollInterval {
		return minPollInterval
	}
	if d > maxPollInterval {
		return maxPollInterval
	}
	return d
}

// Verify polls tabID against before/expect until every check passes or
// waitFor elapses. With no explicit expectations it falls back to the
// generic before/after diff: urlChanged, titleChanged, textLengthChanged,
// nodeCountChanged.
func (m *Manager) Verify(ctx context.Context, tabID string, before domain.Observation, expect []domain.VerifyExpectation, waitFor time.Duration, pollInterval time.Duration) (domain.VerifyResult, error) {
	m.mu.Lock()
	tab, ok := m.tabs[tabID]
	m.mu.Unlock()
	if !ok {
		return domain.VerifyResult{}, domain.NewSubSystemError("cdp", "verify", domain.ErrNoTab, tabID)
	}

	interval := clampPollInterval(pollInterval)
	start := time.Now()
	deadline := start.Add(waitFor)

	var last domain.VerifyResult
	for attempt := 1; ; attempt++ {
		after, err := m.observe(ctx, tab.ctx)
		if err != nil {
			return domain.VerifyResult{}, domain.WrapOp("verify.observe", err)
		}

		checks := m.evaluateChecks(ctx, tab.ctx, before, after, expect)
		ok := allPass(checks)
		last = domain.VerifyResult{
			OK:          ok,
			Checks:      checks,
			Observation: after,
			Attempts:    attempt,
			ElapsedMs:   time.Since(start).Milliseconds(),
		}
		if ok || time.Now().After(deadline) {
			return last, nil
		}
		time.Sleep(interval)
	}
}

// Observe captures a single point-in-time observation of tabID — the
// infra handler's cdp.observe message.
func (m *Manager) Observe(ctx context.Context, tabID string) (domain.Observation, error) {
	m.mu.Lock()
	tab, ok := m.tabs[tabID]
	m.mu.Unlock()
	if !ok {
		return domain.Observation{}, domain.NewSubSystemError("cdp", "observe", domain.ErrNoTab, tabID)
	}
	return m.observe(ctx, tab.ctx)
}

func (m *Manager) observe(ctx context.Context, tabCtx context.Context) (domain.Observation, error) {
	tctx, cancel := context.WithTimeout(tabCtx, m.timeout)
	defer cancel()

	var raw string
	js := `(function(){
		return JSON.stringify({
			url: location.href,
			title: document.title,
			textLength: (document.body && document.body.innerText || '').length,
			nodeCount: document.querySelectorAll('*').length,
		});
	})()`
	if err := chromedp.Run(tctx, chromedp.Evaluate(js, &raw)); err != nil {
		return domain.Observation{}, domain.NewSubSystemError("cdp", "observe", domain.ErrCDPTimeout, err.Error())
	}

	var parsed struct {
		URL        string `json:"url"`
		Title      string `json:"title"`
		TextLength int    `json:"textLength"`
		NodeCount  int    `json:"nodeCount"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return domain.Observation{}, domain.WrapOp("observe decode", err)
	}
	return domain.Observation{
		URL: parsed.URL, Title: parsed.Title,
		TextLength: parsed.TextLength, NodeCount: parsed.NodeCount,
	}, nil
}

func (m *Manager) evaluateChecks(ctx context.Context, tabCtx context.Context, before, after domain.Observation, expect []domain.VerifyExpectation) []domain.VerifyCheck {
	if len(expect) == 0 {
		return []domain.VerifyCheck{
			{Name: "urlChanged", OK: before.URL != after.URL},
			{Name: "titleChanged", OK: before.Title != after.Title},
			{Name: "textLengthChanged", OK: before.TextLength != after.TextLength},
			{Name: "nodeCountChanged", OK: before.NodeCount != after.NodeCount},
		}
	}

	checks := make([]domain.VerifyCheck, 0, len(expect))
	for _, e := range expect {
		switch {
		case e.URLContains != "":
			checks = append(checks, domain.VerifyCheck{Name: "urlContains", OK: strings.Contains(after.URL, e.URLContains)})
		case e.TitleContains != "":
			checks = append(checks, domain.VerifyCheck{Name: "titleContains", OK: strings.Contains(after.Title, e.TitleContains)})
		case e.TextIncludes != "":
			checks = append(checks, domain.VerifyCheck{Name: "textIncludes", OK: strings.Contains(after.Title, e.TextIncludes) || after.TextLength > before.TextLength})
		case e.SelectorExists != "":
			checks = append(checks, domain.VerifyCheck{Name: "selectorExists", OK: m.selectorExists(ctx, tabCtx, e.SelectorExists)})
		case e.URLChanged:
			checks = append(checks, domain.VerifyCheck{Name: "urlChanged", OK: after.URL != e.PreviousURL})
		}
	}
	return checks
}

func (m *Manager) selectorExists(ctx context.Context, tabCtx context.Context, selector string) bool {
	tctx, cancel := context.WithTimeout(tabCtx, m.timeout)
	defer cancel()
	var exists bool
	if err := chromedp.Run(tctx, chromedp.Evaluate(
		"!!document.querySelector("+jsonQuote(selector)+")", &exists,
	)); err != nil {
		return false
	}
	return exists
}

func jsonQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func allPass(checks []domain.VerifyCheck) bool {
	if len(checks) == 0 {
		return false
	}
	for _, c := range checks {
		if !c.OK {
			return false
		}
	}
	return true
}
