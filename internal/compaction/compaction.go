// Package compaction implements the content-aware session-shrinking
// algorithm: deciding when a session is due for compaction, finding a cut
// point that doesn't split a conversational turn, and assembling the
// dropped-entries summary draft. Every function here is pure — no I/O, no
// clock, no randomness — grounded on the keep-percent/min-messages/
// turn-boundary-walkback algorithm of a retrieved CompactionManager
// reference, adapted from message-count-and-percent accounting to the
// kernel's keepTail-entry-count accounting.
package compaction

import (
	"strings"

	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

const (
	DefaultKeepTail       = 30
	DefaultMaxSummaryChars = 1800
)

// Reason names why ShouldCompact returned true.
type Reason string

const (
	ReasonOverflow  Reason = "overflow"
	ReasonThreshold Reason = "threshold"
)

// ShouldCompactInput bundles ShouldCompact's arguments.
type ShouldCompactInput struct {
	Overflow        bool
	Entries         []kerntypes.SessionEntry
	PreviousSummary string
	ThresholdTokens int
}

// ShouldCompactResult is ShouldCompact's verdict.
type ShouldCompactResult struct {
	ShouldCompact bool
	Reason        Reason
	TokensBefore  int
}

// entryTexts extracts each entry's rendered text, in order.
func entryTexts(entries []kerntypes.SessionEntry) []string {
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Text()
	}
	return texts
}

// ShouldCompact decides whether a session is due for compaction. Overflow
// always wins over the token threshold, regardless of the computed token
// count.
func ShouldCompact(in ShouldCompactInput) ShouldCompactResult {
	tokensBefore := kerntypes.ApproxTokenCount(in.PreviousSummary) + kerntypes.ApproxTokenCountJoined(entryTexts(in.Entries))

	if in.Overflow {
		return ShouldCompactResult{ShouldCompact: true, Reason: ReasonOverflow, TokensBefore: tokensBefore}
	}
	if tokensBefore >= in.ThresholdTokens {
		return ShouldCompactResult{ShouldCompact: true, Reason: ReasonThreshold, TokensBefore: tokensBefore}
	}
	return ShouldCompactResult{TokensBefore: tokensBefore}
}

// FindCutPointInput bundles FindCutPoint's arguments.
type FindCutPointInput struct {
	Entries   []kerntypes.SessionEntry
	KeepTail  int
	SplitTurn bool // default true; callers pass the resolved value explicitly
}

// CutPoint is the result of FindCutPoint.
type CutPoint struct {
	CutIndex         int
	FirstKeptEntryID string
}

// isNonTurnBoundaryMessage reports whether entry is a message whose role
// is neither user nor system — i.e. a message that must not become the
// start of the kept tail, because it isn't a turn boundary.
func isNonTurnBoundaryMessage(entry kerntypes.SessionEntry) bool {
	if entry.Kind != kerntypes.EntryMessage || entry.Message == nil {
		return false
	}
	role := entry.Message.Role
	return role != kerntypes.RoleUser && role != kerntypes.RoleSystem
}

// FindCutPoint computes the initial cut at max(0, len-max(1,keepTail)),
// then — when SplitTurn is set and the cut is non-zero — walks the cut
// backward while the entry at the cut is a non-turn-boundary message, so
// the kept tail always begins at a conversational turn boundary.
func FindCutPoint(in FindCutPointInput) CutPoint {
	entries := in.Entries
	n := len(entries)

	keep := in.KeepTail
	if keep < 1 {
		keep = 1
	}
	cut := n - keep
	if cut < 0 {
		cut = 0
	}

	if in.SplitTurn {
		for cut > 0 && isNonTurnBoundaryMessage(entries[cut]) {
			cut--
		}
	}

	var firstKeptID string
	if cut < n {
		firstKeptID = entries[cut].ID
	}
	return CutPoint{CutIndex: cut, FirstKeptEntryID: firstKeptID}
}

// Draft is the outcome of PrepareCompaction: everything runCompaction
// needs to persist a compaction entry, before the (possibly model-backed)
// summary callback runs.
type Draft struct {
	Summary          string
	FirstKeptEntryID string
	PreviousSummary  string
	KeptEntries      []kerntypes.SessionEntry
	DroppedEntries   []kerntypes.SessionEntry
	TokensBefore     int
	TokensAfter      int
}

// PrepareCompactionInput bundles PrepareCompaction's arguments.
type PrepareCompactionInput struct {
	Entries         []kerntypes.SessionEntry
	PreviousSummary string
	KeepTail        int
	SplitTurn       bool
	MaxSummaryChars int
}

// PrepareCompaction splits entries at the cut point, renders the dropped
// block, concatenates it onto PreviousSummary (bounded by
// MaxSummaryChars), and returns the draft. With zero entries the draft is
// the identity over PreviousSummary.
func PrepareCompaction(in PrepareCompactionInput) Draft {
	maxChars := in.MaxSummaryChars
	if maxChars <= 0 {
		maxChars = DefaultMaxSummaryChars
	}
	keepTail := in.KeepTail
	if keepTail <= 0 {
		keepTail = DefaultKeepTail
	}

	if len(in.Entries) == 0 {
		normalized := normalizeSummary(in.PreviousSummary)
		return Draft{
			Summary:         normalized,
			PreviousSummary: in.PreviousSummary,
			TokensBefore:    kerntypes.ApproxTokenCount(in.PreviousSummary),
			TokensAfter:     kerntypes.ApproxTokenCount(normalized),
		}
	}

	cut := FindCutPoint(FindCutPointInput{Entries: in.Entries, KeepTail: keepTail, SplitTurn: in.SplitTurn})
	dropped := in.Entries[:cut.CutIndex]
	kept := in.Entries[cut.CutIndex:]

	droppedBlock := renderDroppedBlock(dropped, maxChars)
	summary := normalizeSummary(joinNonEmpty(in.PreviousSummary, droppedBlock))

	tokensBefore := kerntypes.ApproxTokenCount(in.PreviousSummary) + kerntypes.ApproxTokenCountJoined(entryTexts(in.Entries))
	tokensAfter := kerntypes.ApproxTokenCount(summary) + kerntypes.ApproxTokenCountJoined(entryTexts(kept))

	return Draft{
		Summary:          summary,
		FirstKeptEntryID:  cut.FirstKeptEntryID,
		PreviousSummary:   in.PreviousSummary,
		KeptEntries:       kept,
		DroppedEntries:    dropped,
		TokensBefore:      tokensBefore,
		TokensAfter:       tokensAfter,
	}
}

func joinNonEmpty(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

// renderDroppedBlock serialises dropped entries into a bounded text block.
func renderDroppedBlock(dropped []kerntypes.SessionEntry, maxChars int) string {
	if len(dropped) == 0 {
		return ""
	}
	lines := make([]string, 0, len(dropped))
	for _, e := range dropped {
		text := strings.TrimSpace(e.Text())
		if text == "" {
			continue
		}
		lines = append(lines, text)
	}
	block := strings.Join(lines, "\n")
	if len(block) > maxChars {
		block = block[:maxChars]
	}
	return block
}

// normalizeSummary trims and collapses runs of blank lines.
func normalizeSummary(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		trimmed := strings.TrimRight(l, " \t\r")
		if strings.TrimSpace(trimmed) == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, trimmed)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
