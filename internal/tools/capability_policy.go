package tools

import (
	"sync"

	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

// LeasePolicy controls whether a capability invocation must hold an
// exclusive lease before running (relevant to shared resources like a
// single browser tab).
type LeasePolicy string

const (
	LeaseAuto     LeasePolicy = "auto"
	LeaseRequired LeasePolicy = "required"
	LeaseNone     LeasePolicy = "none"
)

// CapabilityExecutionPolicy carries per-capability execution defaults.
// Every field is a pointer so a partial override can shadow a builtin
// field-by-field without clobbering the rest.
type CapabilityExecutionPolicy struct {
	FallbackMode        *kerntypes.Mode
	DefaultVerifyPolicy *kerntypes.VerifyPolicy
	LeasePolicy         *LeasePolicy
	AllowScriptFallback *bool
}

func clonePolicy(p CapabilityExecutionPolicy) CapabilityExecutionPolicy {
	out := CapabilityExecutionPolicy{}
	if p.FallbackMode != nil {
		m := *p.FallbackMode
		out.FallbackMode = &m
	}
	if p.DefaultVerifyPolicy != nil {
		v := *p.DefaultVerifyPolicy
		out.DefaultVerifyPolicy = &v
	}
	if p.LeasePolicy != nil {
		l := *p.LeasePolicy
		out.LeasePolicy = &l
	}
	if p.AllowScriptFallback != nil {
		b := *p.AllowScriptFallback
		out.AllowScriptFallback = &b
	}
	return out
}

// merge overrides onto base, field by field, present fields in overrides
// winning.
func mergePolicy(base, overrides CapabilityExecutionPolicy) CapabilityExecutionPolicy {
	out := clonePolicy(base)
	if overrides.FallbackMode != nil {
		out.FallbackMode = overrides.FallbackMode
	}
	if overrides.DefaultVerifyPolicy != nil {
		out.DefaultVerifyPolicy = overrides.DefaultVerifyPolicy
	}
	if overrides.LeasePolicy != nil {
		out.LeasePolicy = overrides.LeasePolicy
	}
	if overrides.AllowScriptFallback != nil {
		out.AllowScriptFallback = overrides.AllowScriptFallback
	}
	return out
}

// CapabilityPolicySource tells a caller whether a resolved policy came
// from an override, a builtin, or neither.
type CapabilityPolicySource string

const (
	PolicySourceOverride CapabilityPolicySource = "override"
	PolicySourceBuiltin  CapabilityPolicySource = "builtin"
	PolicySourceNone     CapabilityPolicySource = "none"
)

// CapabilityPolicyEntry is what Get/Resolve hand back: the resolved
// policy plus provenance.
type CapabilityPolicyEntry struct {
	Capability string
	Source     CapabilityPolicySource
	ID         string
	Policy     CapabilityExecutionPolicy
}

// CapabilityPolicyRegistry holds a builtins table (seeded for
// process.exec, fs.{read,write,edit}, browser.{snapshot,action,verify})
// plus a mutable overrides table.
type CapabilityPolicyRegistry struct {
	mu        sync.RWMutex
	builtins  map[string]CapabilityExecutionPolicy
	overrides map[string]CapabilityExecutionPolicy
	overrideIDs map[string]string
}

func boolPtr(b bool) *bool                                 { return &b }
func modePtr(m kerntypes.Mode) *kerntypes.Mode              { return &m }
func verifyPtr(v kerntypes.VerifyPolicy) *kerntypes.VerifyPolicy { return &v }
func leasePtr(l LeasePolicy) *LeasePolicy                   { return &l }

// NewCapabilityPolicyRegistry builds the registry with its builtin table
// seeded.
func NewCapabilityPolicyRegistry() *CapabilityPolicyRegistry {
	r := &CapabilityPolicyRegistry{
		builtins:    make(map[string]CapabilityExecutionPolicy),
		overrides:   make(map[string]CapabilityExecutionPolicy),
		overrideIDs: make(map[string]string),
	}

	r.builtins["process.exec"] = CapabilityExecutionPolicy{
		DefaultVerifyPolicy: verifyPtr(kerntypes.VerifyOff),
		LeasePolicy:         leasePtr(LeaseNone),
		AllowScriptFallback: boolPtr(false),
	}
	for _, cap := range []string{"fs.read", "fs.write", "fs.edit"} {
		r.builtins[cap] = CapabilityExecutionPolicy{
			DefaultVerifyPolicy: verifyPtr(kerntypes.VerifyOff),
			LeasePolicy:         leasePtr(LeaseNone),
			AllowScriptFallback: boolPtr(false),
		}
	}
	for _, cap := range []string{"browser.snapshot", "browser.action", "browser.verify"} {
		r.builtins[cap] = CapabilityExecutionPolicy{
			FallbackMode:        modePtr(kerntypes.ModeCDP),
			DefaultVerifyPolicy: verifyPtr(kerntypes.VerifyOnCritical),
			LeasePolicy:         leasePtr(LeaseAuto),
			AllowScriptFallback: boolPtr(true),
		}
	}
	return r
}

// SetOverride installs an override policy for capability under id,
// returning the previous override (if any) for rollback bookkeeping.
func (r *CapabilityPolicyRegistry) SetOverride(capability, id string, policy CapabilityExecutionPolicy) (CapabilityExecutionPolicy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, had := r.overrides[capability]
	r.overrides[capability] = clonePolicy(policy)
	r.overrideIDs[capability] = id
	return prev, had
}

// ClearOverride removes capability's override iff it is still owned by
// id (so a later registrant's override is never clobbered by a stale
// rollback).
func (r *CapabilityPolicyRegistry) ClearOverride(capability, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.overrideIDs[capability] == id {
		delete(r.overrides, capability)
		delete(r.overrideIDs, capability)
	}
}

// Get returns the raw (unmerged) entry for capability: override if
// present, else builtin, else PolicySourceNone.
func (r *CapabilityPolicyRegistry) Get(capability string) CapabilityPolicyEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.overrides[capability]; ok {
		return CapabilityPolicyEntry{Capability: capability, Source: PolicySourceOverride, ID: r.overrideIDs[capability], Policy: clonePolicy(p)}
	}
	if p, ok := r.builtins[capability]; ok {
		return CapabilityPolicyEntry{Capability: capability, Source: PolicySourceBuiltin, Policy: clonePolicy(p)}
	}
	return CapabilityPolicyEntry{Capability: capability, Source: PolicySourceNone}
}

// Resolve returns builtin ⊕ override: override wins field-by-field over
// the builtin, present fields only.
func (r *CapabilityPolicyRegistry) Resolve(capability string) CapabilityExecutionPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	base := r.builtins[capability]
	if override, ok := r.overrides[capability]; ok {
		return mergePolicy(base, override)
	}
	return clonePolicy(base)
}
