package kernel

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
)

// LoopLevel classifies how concerning a repeated tool-call streak is.
type LoopLevel string

const (
	LoopLevelNone     LoopLevel = ""
	LoopLevelWarn     LoopLevel = "warn"
	LoopLevelCritical LoopLevel = "critical"
)

// LoopGuard tracks (capability|mode, action, argsHash) repetition per
// session and flags a streak once it crosses a warn/critical threshold.
// The guard only classifies; Orchestrator.ExecuteStep emits a
// loop_detected event when a streak reaches critical and does not act on
// warn.
type LoopGuard struct {
	mu                sync.Mutex
	last              map[string]string // sessionID -> last call key
	streak            map[string]int    // sessionID -> consecutive repeat count
	warnThreshold     int
	criticalThreshold int
}

// NewLoopGuard builds a guard with the given warn/critical streak
// thresholds (count of consecutive identical calls, counting the first
// call of the run).
func NewLoopGuard(warnThreshold, criticalThreshold int) *LoopGuard {
	if warnThreshold <= 0 {
		warnThreshold = 3
	}
	if criticalThreshold <= 0 {
		criticalThreshold = 6
	}
	return &LoopGuard{
		last:              make(map[string]string),
		streak:            make(map[string]int),
		warnThreshold:     warnThreshold,
		criticalThreshold: criticalThreshold,
	}
}

// HashArgs produces a stable hash of a call's arguments, independent of
// map key iteration order.
func HashArgs(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make(map[string]any, len(args))
	for _, k := range keys {
		ordered[k] = args[k]
	}
	encoded, _ := json.Marshal(ordered)
	sum := sha1.Sum(encoded)
	return hex.EncodeToString(sum[:])
}

// Record registers one call (identified by key — typically
// "<capability-or-mode>:<action>:<argsHash>") for sessionID and reports
// the level the resulting streak crosses, if any. A call that differs
// from the previous one resets the streak to 1 and reports LoopLevelNone.
func (g *LoopGuard) Record(sessionID, key string) LoopLevel {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.last[sessionID] == key {
		g.streak[sessionID]++
	} else {
		g.last[sessionID] = key
		g.streak[sessionID] = 1
	}

	streak := g.streak[sessionID]
	switch {
	case streak >= g.criticalThreshold:
		return LoopLevelCritical
	case streak >= g.warnThreshold:
		return LoopLevelWarn
	default:
		return LoopLevelNone
	}
}

// Reset clears sessionID's tracked streak. The orchestrator does not call
// it; without a Reset, a streak ends only when a different key is recorded.
func (g *LoopGuard) Reset(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.last, sessionID)
	delete(g.streak, sessionID)
}
