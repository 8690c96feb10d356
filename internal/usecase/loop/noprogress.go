package loop

import (
	"encoding/json"
	"sort"
	"strings"

	"browsir/internal/domain"
)

// signature canonicalizes one LLM turn's tool-call set into a string stable
// under argument key reordering, so two turns asking for the same calls in
// a different key order still compare equal.
func signature(calls []domain.ToolCall) string {
	parts := make([]string, len(calls))
	for i, c := range calls {
		parts[i] = c.Name + ":" + canonicalizeArgs(c.Arguments)
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

func canonicalizeArgs(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// noProgressDetector watches the sequence of per-turn tool-call signatures
// for two stall patterns: the same signature repeating, or two signatures
// alternating back and forth.
type noProgressDetector struct {
	history []string
}

const noProgressHistoryCap = 8

func (d *noProgressDetector) record(sig string) {
	d.history = append(d.history, sig)
	if len(d.history) > noProgressHistoryCap {
		d.history = d.history[len(d.history)-noProgressHistoryCap:]
	}
}

// sameRepeated reports whether the last 3 recorded signatures are identical
// and non-empty.
func (d *noProgressDetector) sameRepeated() bool {
	n := len(d.history)
	if n < 3 {
		return false
	}
	a, b, c := d.history[n-1], d.history[n-2], d.history[n-3]
	return a != "" && a == b && b == c
}

// pingPong reports whether the last 4 signatures alternate ABAB.
func (d *noProgressDetector) pingPong() bool {
	n := len(d.history)
	if n < 4 {
		return false
	}
	a, b, c, e := d.history[n-1], d.history[n-2], d.history[n-3], d.history[n-4]
	return a != "" && b != "" && a != b && a == c && b == e
}

// stalled reports whether either stall pattern currently holds.
func (d *noProgressDetector) stalled() bool {
	return d.sameRepeated() || d.pingPong()
}
