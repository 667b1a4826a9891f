package kernel

import (
	"regexp"
	"strings"
)

// InputGuardAction controls how InputGuard reacts to a suspected
// prompt-injection match ("log", "warn", "block", "off").
type InputGuardAction string

const (
	InputGuardLog   InputGuardAction = "log"
	InputGuardWarn  InputGuardAction = "warn"
	InputGuardBlock InputGuardAction = "block"
	InputGuardOff   InputGuardAction = "off"
)

// defaultInjectionPatterns are a small, deliberately conservative set of
// prompt-injection heuristics — phrasing that tries to override prior
// instructions or impersonate the system role.
var defaultInjectionPatterns = []string{
	`(?i)ignore (all|any|the) (previous|prior|above) instructions`,
	`(?i)disregard (all|any|the) (previous|prior|above)`,
	`(?i)you are now`,
	`(?i)system prompt`,
	`(?i)new instructions?:`,
	`(?i)act as (if you were|a) `,
}

// InputGuard scans user-supplied text for prompt-injection patterns and
// carries a configured log/warn/block/off action. It only reports matches
// (Check, Describe); the Orchestrator holds one but does not call it.
type InputGuard struct {
	action   InputGuardAction
	patterns []*regexp.Regexp
}

// NewInputGuard compiles the default pattern set with the given action.
// An unrecognised action defaults to "warn".
func NewInputGuard(action InputGuardAction) *InputGuard {
	switch action {
	case InputGuardLog, InputGuardWarn, InputGuardBlock, InputGuardOff:
	default:
		action = InputGuardWarn
	}
	compiled := make([]*regexp.Regexp, 0, len(defaultInjectionPatterns))
	for _, p := range defaultInjectionPatterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return &InputGuard{action: action, patterns: compiled}
}

// Action returns the guard's configured action.
func (g *InputGuard) Action() InputGuardAction { return g.action }

// Check scans text and reports whether it matched an injection pattern,
// and which one (empty if none, or if the guard is off).
func (g *InputGuard) Check(text string) (flagged bool, pattern string) {
	if g.action == InputGuardOff {
		return false, ""
	}
	for _, re := range g.patterns {
		if re.MatchString(text) {
			return true, re.String()
		}
	}
	return false, ""
}

// Describe renders a short human-readable note for logging, regardless of
// action — useful for "log" mode where no blocking decision follows.
func (g *InputGuard) Describe(text string) string {
	flagged, pattern := g.Check(text)
	if !flagged {
		return ""
	}
	snippet := text
	if len(snippet) > 80 {
		snippet = snippet[:80] + "…"
	}
	return "possible prompt injection (" + strings.TrimSpace(pattern) + "): " + snippet
}
