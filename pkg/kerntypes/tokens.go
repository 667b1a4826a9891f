package kerntypes

import "strings"

// charsPerToken is the ratio used by ApproxTokenCount: a rough
// 4-characters-per-token approximation. It is deliberately crude but
// deterministic, which is all the compaction engine's accounting needs.
const charsPerToken = 4

// ApproxTokenCount is a pure, deterministic token estimator. It never calls
// a real tokenizer — the compaction engine only needs a stable ordering and
// a threshold comparison, not tokenizer-exact counts.
func ApproxTokenCount(text string) int {
	if text == "" {
		return 0
	}
	n := len([]rune(text))
	tokens := (n + charsPerToken - 1) / charsPerToken
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// ApproxTokenCountJoined estimates tokens for entries joined the way the
// compaction engine serialises a transcript slice: one line per entry.
func ApproxTokenCountJoined(lines []string) int {
	return ApproxTokenCount(strings.Join(lines, "\n"))
}
