package plugins

import (
	"sync"

	"github.com/nextlevelbuilder/goclaw/internal/tools"
	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

// Lifecycle names the plugin's current stage. The runtime tracks three:
// loaded, enabled (after a successful Enable) and disabled (after Disable,
// including Enable's rollback).
type Lifecycle string

const (
	LifecycleLoaded   Lifecycle = "loaded"
	LifecycleEnabled  Lifecycle = "enabled"
	LifecycleDisabled Lifecycle = "disabled"
)

// replacedMode snapshots whatever occupied a mode slot before this plugin
// replaced it, so Disable can reinstate it.
type replacedMode struct {
	mode               kerntypes.Mode
	registeredProviderID string
	previousProvider   tools.StepToolProvider
	hadPrevious        bool
}

// replacedPolicy snapshots a capability's previous override (not its
// builtin — only override state is ever snapshotted).
type replacedPolicy struct {
	policy tools.CapabilityExecutionPolicy
	had    bool
}

type capabilityRegKey struct {
	capability string
	providerID string
}

// State tracks one plugin's runtime bookkeeping: its lifecycle stage, the
// hook-wrapper error counters the enable algorithm updates, and the
// previous-registration snapshots rollback/disable needs.
type State struct {
	mu sync.Mutex

	Manifest  Manifest
	Lifecycle Lifecycle

	ErrorCount int
	LastError  string

	hookUnregisters  []func()
	replacedModes    map[kerntypes.Mode]replacedMode
	capabilityKeys   []capabilityRegKey
	replacedPolicies map[string]replacedPolicy
	policyKeys       []string
	contractNames    []string
	llmAdapterIDs    []string
}

func newState(m Manifest) *State {
	return &State{
		Manifest:         m,
		Lifecycle:        LifecycleLoaded,
		replacedModes:    make(map[kerntypes.Mode]replacedMode),
		replacedPolicies: make(map[string]replacedPolicy),
	}
}

func (s *State) recordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ErrorCount++
	s.LastError = err.Error()
}

// Snapshot is a read-only copy of a plugin's bookkeeping, safe to hand to
// callers (get/list).
type Snapshot struct {
	Manifest   Manifest
	Lifecycle  Lifecycle
	ErrorCount int
	LastError  string
}

func (s *State) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Manifest: s.Manifest, Lifecycle: s.Lifecycle, ErrorCount: s.ErrorCount, LastError: s.LastError}
}
