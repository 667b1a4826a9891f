// Package plugins implements the kernel's plugin runtime: manifest-driven
// registration of hooks, mode/capability providers, capability policies,
// tool contracts, and LLM provider adapters, with timeout-wrapped hook
// handlers and rollback-on-failure — grounded on a retrieved plugin
// runtime's lifecycle (Discovery → Installation → Loading → OnLoad →
// Enabling → OnEnable → Runtime → Disabling → OnUnload → Unloading) and
// its goroutine-per-event, panic-isolated concurrency model.
package plugins

import (
	"github.com/nextlevelbuilder/goclaw/internal/hooks"
	"github.com/nextlevelbuilder/goclaw/internal/llm"
	"github.com/nextlevelbuilder/goclaw/internal/tools"
	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

const wildcard = "*"

// Permissions lists what a manifest's plugin is allowed to touch. Any list
// may contain the wildcard "*".
type Permissions struct {
	Hooks            []string `json:"hooks,omitempty"`
	Modes            []string `json:"modes,omitempty"`
	Capabilities     []string `json:"capabilities,omitempty"`
	ReplaceProviders bool     `json:"replaceProviders,omitempty"`
}

func permits(allowed []string, name string) bool {
	for _, a := range allowed {
		if a == wildcard || a == name {
			return true
		}
	}
	return false
}

// Manifest declares a plugin's identity and permissions.
type Manifest struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Version     string      `json:"version"`
	TimeoutMs   int         `json:"timeoutMs,omitempty"`
	Permissions Permissions `json:"permissions"`
}

const (
	minHookTimeoutMs     = 50
	maxHookTimeoutMs     = 10_000
	defaultHookTimeoutMs = 1500
)

// ClampedTimeoutMs returns the manifest's declared timeout clamped to
// [50, 10000]ms, defaulting to 1500ms when unset.
func (m Manifest) ClampedTimeoutMs() int {
	t := m.TimeoutMs
	if t == 0 {
		t = defaultHookTimeoutMs
	}
	if t < minHookTimeoutMs {
		t = minHookTimeoutMs
	}
	if t > maxHookTimeoutMs {
		t = maxHookTimeoutMs
	}
	return t
}

// HookEntry is one hook registration a plugin definition declares.
type HookEntry struct {
	ID       string
	Hook     string
	Priority int
	Handler  hooks.Handler
}

// ModeProviderEntry is one mode-provider registration a plugin declares.
type ModeProviderEntry struct {
	Mode     kerntypes.Mode
	Provider tools.StepToolProvider
}

// CapabilityProviderEntry is one capability-provider registration.
type CapabilityProviderEntry struct {
	Capability string
	Provider   tools.StepToolProvider
}

// PolicyEntry is one capability-policy override a plugin declares.
type PolicyEntry struct {
	Capability string
	Policy     tools.CapabilityExecutionPolicy
}

// ContractEntry is one tool contract a plugin declares.
type ContractEntry struct {
	Contract tools.ToolContract
}

// LLMAdapterEntry is one LLM provider adapter a plugin declares.
type LLMAdapterEntry struct {
	Adapter llm.ProviderAdapter
}

// Definition packages everything a plugin wants registered, gated by its
// Manifest's Permissions at Enable time.
type Definition struct {
	Manifest             Manifest
	Hooks                []HookEntry
	ModeProviders        []ModeProviderEntry
	CapabilityProviders  []CapabilityProviderEntry
	Policies             []PolicyEntry
	Contracts            []ContractEntry
	LLMAdapters          []LLMAdapterEntry
}
