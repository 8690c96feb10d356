// Package compaction implements the pure cut-point and summary-prompt
// functions that keep a session's in-context history within budget:
// shouldCompact decides whether to run at all, findCutPoint and
// prepareCompaction decide the split, and compact renders the summary
// prompts a caller-supplied generator turns into new entries.
package compaction

import (
	"fmt"
	"strings"

	"browsir/internal/domain"
)

// charsPerToken is the fixed token estimator used throughout the engine:
// every token budget decision works off len(text)/charsPerToken.
const charsPerToken = 4

// EstimateTokens approximates token count from byte length.
func EstimateTokens(text string) int {
	return len(text) / charsPerToken
}

func estimateEntries(entries []domain.Entry) int {
	total := 0
	for _, e := range entries {
		total += EstimateTokens(e.Text) + EstimateTokens(e.Summary)
	}
	return total
}

// ShouldCompactInput bundles the signals the decision depends on.
type ShouldCompactInput struct {
	Overflow         bool // the LLM pipeline reported a context-length error
	Entries          []domain.Entry
	PreviousSummary  string
	ThresholdTokens  int
}

// ShouldCompactResult is the decision plus the reason, for logging/events.
type ShouldCompactResult struct {
	ShouldCompact bool
	Reason        domain.CompactionReason // "" when ShouldCompact is false
	TokensBefore  int
}

// ShouldCompact decides whether a compaction pass should run: always on an
// explicit overflow signal, otherwise when the estimated token count of
// entries plus any carried-forward summary exceeds ThresholdTokens.
func ShouldCompact(in ShouldCompactInput) ShouldCompactResult {
	tokens := estimateEntries(in.Entries) + EstimateTokens(in.PreviousSummary)

	if in.Overflow {
		return ShouldCompactResult{ShouldCompact: true, Reason: domain.CompactionOverflow, TokensBefore: tokens}
	}
	if in.ThresholdTokens > 0 && tokens > in.ThresholdTokens {
		return ShouldCompactResult{ShouldCompact: true, Reason: domain.CompactionThreshold, TokensBefore: tokens}
	}
	return ShouldCompactResult{ShouldCompact: false, TokensBefore: tokens}
}

// isValidCut reports whether entries[i] may serve as a cut boundary: a
// message entry that is neither a tool result nor a branch/custom summary.
func isValidCut(e domain.Entry) bool {
	if !e.IsMessage() {
		return false
	}
	if e.Role == domain.EntryRoleTool {
		return false
	}
	if e.Variant == domain.EntryBranchSummary || e.Variant == domain.EntryCustomMessage {
		return false
	}
	return true
}

// isTurnBoundary reports whether entry e starts a new conversational turn.
func isTurnBoundary(e domain.Entry) bool {
	return e.IsMessage() && (e.Role == domain.EntryRoleUser || e.Role == domain.EntryRoleSystem)
}

// FindCutPointInput parameterizes the cut search.
type FindCutPointInput struct {
	Entries   []domain.Entry
	KeepTail  int  // token budget to preserve verbatim at the tail; 0 starts the search at the last entry, so the latest valid cut is taken
	SplitTurn bool // if the natural cut lands mid-turn, also return the turn-start index
}

// CutPoint is the result of the search: Index is the entry cut offset,
// and when the natural cut landed mid-turn and SplitTurn was requested,
// TurnStartIndex marks where the interrupted turn began.
type CutPoint struct {
	Index          int
	Split          bool
	TurnStartIndex int
}

// FindCutPoint accumulates token budget from the end of Entries until
// KeepTail is reached, then returns the first valid cut at or after that
// index. Valid cuts are message entries excluding tool results and
// branch/custom-message summaries; a turn boundary is a user or system
// message. When the natural cut doesn't land on a turn boundary and
// SplitTurn is set, the result also carries the index where that turn
// began so the caller can summarize the still-open turn prefix separately.
func FindCutPoint(in FindCutPointInput) (CutPoint, bool) {
	entries := in.Entries
	if len(entries) == 0 {
		return CutPoint{}, false
	}

	tailBudget := in.KeepTail
	accumulated := 0
	cutCandidate := -1

	for i := len(entries) - 1; i >= 0; i-- {
		accumulated += EstimateTokens(entries[i].Text) + EstimateTokens(entries[i].Summary)
		if accumulated >= tailBudget {
			// Walk forward from here to the first valid cut.
			for j := i; j < len(entries); j++ {
				if isValidCut(entries[j]) {
					cutCandidate = j
					break
				}
			}
			break
		}
	}

	if cutCandidate < 0 {
		// Entire history fits within the tail budget, or no valid cut
		// exists after the budget point: fall back to the earliest valid
		// cut so compaction still makes progress.
		for j := 0; j < len(entries); j++ {
			if isValidCut(entries[j]) {
				cutCandidate = j
				break
			}
		}
	}
	if cutCandidate < 0 {
		return CutPoint{}, false
	}

	if isTurnBoundary(entries[cutCandidate]) || !in.SplitTurn {
		return CutPoint{Index: cutCandidate}, true
	}

	turnStart := cutCandidate
	for turnStart > 0 && !isTurnBoundary(entries[turnStart]) {
		turnStart--
	}
	return CutPoint{Index: cutCandidate, Split: true, TurnStartIndex: turnStart}, true
}

// Preparation is the partitioned result of PrepareCompaction, handed to
// Compact once a summary generator is available.
type Preparation struct {
	Dropped             []domain.Entry
	Kept                []domain.Entry
	MessagesToSummarize []domain.Entry
	TurnPrefixMessages  []domain.Entry // non-nil only when the cut split a turn
	FirstKeptEntryID    string
}

// PrepareCompaction ignores any entry before the session's last compaction
// (it is already accounted for in that compaction's summary), runs
// FindCutPoint over the remaining window, and partitions the result into
// dropped/kept plus the message slices a summary generator will consume.
func PrepareCompaction(entries []domain.Entry, keepTail int, splitTurn bool) (Preparation, bool) {
	windowStart := 0
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Variant == domain.EntryCompaction {
			for j, e := range entries {
				if e.ID == entries[i].FirstKeptEntryID {
					windowStart = j
					break
				}
			}
			break
		}
	}
	window := entries[windowStart:]

	cp, ok := FindCutPoint(FindCutPointInput{Entries: window, KeepTail: keepTail, SplitTurn: splitTurn})
	if !ok {
		return Preparation{}, false
	}

	cutIdx := windowStart + cp.Index
	dropped := entries[:cutIdx]
	kept := entries[cutIdx:]
	if len(kept) == 0 {
		return Preparation{}, false
	}

	prep := Preparation{
		Dropped:             dropped,
		Kept:                kept,
		MessagesToSummarize: dropped,
		FirstKeptEntryID:    kept[0].ID,
	}
	if cp.Split {
		turnStart := windowStart + cp.TurnStartIndex
		prep.TurnPrefixMessages = entries[turnStart:cutIdx]
	}
	return prep, true
}

// SummaryGenerator renders a prompt into a new summary string — the sole
// hook point for compaction's actual LLM call, kept outside this package
// so cut-point math stays a pure function of the session DAG.
type SummaryGenerator func(prompt string) (string, error)

const historySummaryTemplate = `Summarize the conversation below, preserving key facts, decisions, and pending work.
%s
<conversation>
%s
</conversation>%s`

const turnPrefixTemplate = `Summarize the still-open turn below so it can be resumed after the rest of the history is compacted.
<conversation>
%s
</conversation>`

const previousSummarySlot = `
<previous-summary>
%s
</previous-summary>`

// Compact renders the history and (if the cut split a turn) turn-prefix
// summaries through generate, producing the new compaction entry's fields.
// customInstructions, if non-empty, is inlined into the history prompt.
func Compact(prep Preparation, previousSummary string, generate SummaryGenerator, customInstructions string) (domain.Entry, error) {
	tokensBefore := estimateEntries(prep.Dropped) + estimateEntries(prep.Kept) + EstimateTokens(previousSummary)

	convo := renderConversation(prep.MessagesToSummarize)
	prevSlot := ""
	if previousSummary != "" {
		prevSlot = fmt.Sprintf(previousSummarySlot, previousSummary)
	}
	historyPrompt := fmt.Sprintf(historySummaryTemplate, customInstructions, convo, prevSlot)
	historyPrompt += renderToolSections(prep.MessagesToSummarize)

	historySummary, err := generate(historyPrompt)
	if err != nil {
		return domain.Entry{}, domain.WrapOp("compact: history summary", err)
	}

	summary := historySummary
	if len(prep.TurnPrefixMessages) > 0 {
		turnPrompt := fmt.Sprintf(turnPrefixTemplate, renderConversation(prep.TurnPrefixMessages))
		turnSummary, err := generate(turnPrompt)
		if err != nil {
			return domain.Entry{}, domain.WrapOp("compact: turn-prefix summary", err)
		}
		summary = historySummary + "\n\nTurn Context (split turn):\n\n" + turnSummary
	}

	tokensAfter := EstimateTokens(summary) + estimateEntries(prep.Kept)

	return domain.Entry{
		Variant:          domain.EntryCompaction,
		Summary:          summary,
		PreviousSummary:  previousSummary,
		FirstKeptEntryID: prep.FirstKeptEntryID,
		TokensBefore:     tokensBefore,
		TokensAfter:      tokensAfter,
	}, nil
}

func renderConversation(entries []domain.Entry) string {
	var sb strings.Builder
	for _, e := range entries {
		if !e.IsMessage() {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", e.Role, e.Text)
	}
	return sb.String()
}

// renderToolSections extracts <read-files>/<modified-files> sections from
// tool-role entries whose ToolName names a filesystem operation, so the
// summary retains which files were touched even after the raw tool output
// is dropped.
func renderToolSections(entries []domain.Entry) string {
	var reads, writes []string
	for _, e := range entries {
		if e.Role != domain.EntryRoleTool {
			continue
		}
		switch e.ToolName {
		case "read_file":
			reads = append(reads, firstLine(e.Text))
		case "write_file", "edit_file":
			writes = append(writes, firstLine(e.Text))
		}
	}

	var sb strings.Builder
	if len(reads) > 0 {
		fmt.Fprintf(&sb, "\n\n<read-files>\n%s\n</read-files>", strings.Join(reads, "\n"))
	}
	if len(writes) > 0 {
		fmt.Fprintf(&sb, "\n\n<modified-files>\n%s\n</modified-files>", strings.Join(writes, "\n"))
	}
	return sb.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
