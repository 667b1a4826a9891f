package plugins

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/hooks"
	"github.com/nextlevelbuilder/goclaw/internal/llm"
	"github.com/nextlevelbuilder/goclaw/internal/tools"
	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

// Runtime owns the enable/disable lifecycle over the kernel's shared
// registries, gating every registration by the plugin's declared
// permissions and rolling back cleanly on any failure.
type Runtime struct {
	hookRunner *hooks.Runner
	providers  *tools.ProviderRegistry
	policies   *tools.CapabilityPolicyRegistry
	contracts  *tools.ContractRegistry
	llmReg     *llm.Registry

	mu      sync.RWMutex
	plugins map[string]*State
	defs    map[string]Definition
}

// NewRuntime wires the plugin runtime to the kernel's shared registries.
func NewRuntime(hookRunner *hooks.Runner, providers *tools.ProviderRegistry, policies *tools.CapabilityPolicyRegistry, contracts *tools.ContractRegistry, llmReg *llm.Registry) *Runtime {
	return &Runtime{
		hookRunner: hookRunner,
		providers:  providers,
		policies:   policies,
		contracts:  contracts,
		llmReg:     llmReg,
		plugins:    make(map[string]*State),
		defs:       make(map[string]Definition),
	}
}

// Load registers a plugin definition without activating it (Discovery +
// Installation + Loading, collapsed — this runtime has no on-disk catalog
// to separate them from).
func (r *Runtime) Load(def Definition) error {
	if def.Manifest.ID == "" {
		return fmt.Errorf("plugins: manifest id must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[def.Manifest.ID]; exists {
		return fmt.Errorf("plugins: %q already loaded", def.Manifest.ID)
	}
	r.plugins[def.Manifest.ID] = newState(def.Manifest)
	r.defs[def.Manifest.ID] = def
	return nil
}

// Get returns a snapshot of a loaded plugin's state.
func (r *Runtime) Get(id string) (Snapshot, bool) {
	r.mu.RLock()
	st, ok := r.plugins[id]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return st.snapshot(), true
}

// List returns snapshots of every loaded plugin.
func (r *Runtime) List() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.plugins))
	for _, st := range r.plugins {
		out = append(out, st.snapshot())
	}
	return out
}

// timeoutWrap races handler against a clamped timeout; a timeout or a
// handler error is swallowed to Continue and recorded on the plugin's
// state, so one misbehaving hook never blocks the chain or the caller.
func timeoutWrap(st *State, timeoutMs int, handler hooks.Handler) hooks.Handler {
	return func(ctx context.Context, value map[string]any) (hooks.Action, error) {
		done := make(chan struct{})
		var action hooks.Action
		var err error

		go func() {
			defer close(done)
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("panic: %v", rec)
				}
			}()
			action, err = handler(ctx, value)
		}()

		select {
		case <-done:
			if err != nil {
				st.recordError(err)
				return hooks.Continue(), nil
			}
			return action, nil
		case <-time.After(time.Duration(timeoutMs) * time.Millisecond):
			st.recordError(fmt.Errorf("hook timed out after %dms", timeoutMs))
			return hooks.Continue(), nil
		}
	}
}

// Enable activates a loaded plugin: for each declared hook, verifies
// permission and registers a timeout-wrapped wrapper under a namespaced
// id; for each provider/policy declaration, verifies permission, snapshots
// the prior mode occupant or policy override, and registers; contracts and
// adapters are registered without a permission check. The ReplaceProviders
// permission is not consulted. Any failure rolls back via Disable.
func (r *Runtime) Enable(id string) (err error) {
	r.mu.Lock()
	st, ok := r.plugins[id]
	def := r.defs[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("plugins: %q not loaded", id)
	}

	defer func() {
		if err != nil {
			_ = r.Disable(id)
		}
	}()

	timeoutMs := def.Manifest.ClampedTimeoutMs()
	perms := def.Manifest.Permissions

	for _, h := range def.Hooks {
		if !permits(perms.Hooks, h.Hook) {
			return fmt.Errorf("plugins: %q not permitted to register hook %q", id, h.Hook)
		}
		wrapped := timeoutWrap(st, timeoutMs, h.Handler)
		namespacedID := fmt.Sprintf("%s:%s:%s", id, h.Hook, h.ID)
		unregister := r.hookRunner.On(h.Hook, namespacedID, h.Priority, wrapped)
		st.hookUnregisters = append(st.hookUnregisters, unregister)
	}

	for _, mp := range def.ModeProviders {
		if !permits(perms.Modes, string(mp.Mode)) {
			return fmt.Errorf("plugins: %q not permitted to register mode %q", id, mp.Mode)
		}
		prev := r.providers.RegisterMode(mp.Mode, mp.Provider)
		st.replacedModes[mp.Mode] = replacedMode{
			mode:                 mp.Mode,
			registeredProviderID: mp.Provider.ID(),
			previousProvider:     prev,
			hadPrevious:          prev != nil,
		}
	}

	for _, cp := range def.CapabilityProviders {
		if !permits(perms.Capabilities, cp.Capability) {
			return fmt.Errorf("plugins: %q not permitted to register capability %q", id, cp.Capability)
		}
		r.providers.RegisterCapability(cp.Capability, cp.Provider)
		st.capabilityKeys = append(st.capabilityKeys, capabilityRegKey{capability: cp.Capability, providerID: cp.Provider.ID()})
	}

	for _, pe := range def.Policies {
		if !permits(perms.Capabilities, pe.Capability) {
			return fmt.Errorf("plugins: %q not permitted to override policy for %q", id, pe.Capability)
		}
		prevEntry := r.policies.Get(pe.Capability)
		prev, had := prevEntry.Policy, prevEntry.Source == tools.PolicySourceOverride
		r.policies.SetOverride(pe.Capability, id, pe.Policy)
		st.replacedPolicies[pe.Capability] = replacedPolicy{policy: prev, had: had}
		st.policyKeys = append(st.policyKeys, pe.Capability)
	}

	for _, ce := range def.Contracts {
		if regErr := r.contracts.Register(ce.Contract, tools.RegisterOptions{Replace: true}); regErr != nil {
			return fmt.Errorf("plugins: %q register contract %q: %w", id, ce.Contract.Name, regErr)
		}
		st.contractNames = append(st.contractNames, ce.Contract.Name)
	}

	for _, ae := range def.LLMAdapters {
		r.llmReg.Install(ae.Adapter)
		st.llmAdapterIDs = append(st.llmAdapterIDs, ae.Adapter.ID())
	}

	st.mu.Lock()
	st.Lifecycle = LifecycleEnabled
	st.mu.Unlock()
	return nil
}

// Disable deactivates a plugin: unregisters every hook wrapper, then for
// providers/policies reinstates whatever was snapshotted, but only if no
// one else has registered something in the interim (the registries'
// Unregister*/ClearOverride only remove this plugin's own entry, and a
// snapshot is not reinstated over another registrant's entry).
func (r *Runtime) Disable(id string) error {
	r.mu.Lock()
	st, ok := r.plugins[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("plugins: %q not loaded", id)
	}

	for i := len(st.hookUnregisters) - 1; i >= 0; i-- {
		st.hookUnregisters[i]()
	}
	st.hookUnregisters = nil

	for mode, snap := range st.replacedModes {
		r.providers.UnregisterMode(mode, snap.registeredProviderID)
		if snap.hadPrevious {
			// A non-nil occupant was registered by someone else in the
			// interim: put it back instead of the snapshot.
			if cur := r.providers.RegisterMode(mode, snap.previousProvider); cur != nil {
				r.providers.RegisterMode(mode, cur)
			}
		}
	}
	st.replacedModes = make(map[kerntypes.Mode]replacedMode)

	for _, k := range st.capabilityKeys {
		r.providers.UnregisterCapability(k.capability, k.providerID)
	}
	st.capabilityKeys = nil

	for _, cap := range st.policyKeys {
		r.policies.ClearOverride(cap, id)
		if snap, ok := st.replacedPolicies[cap]; ok && snap.had &&
			r.policies.Get(cap).Source != tools.PolicySourceOverride {
			r.policies.SetOverride(cap, id+":restored", snap.policy)
		}
	}
	st.policyKeys = nil
	st.replacedPolicies = make(map[string]replacedPolicy)

	// Tool contracts and LLM adapters have no unregister path (the
	// registries are additive catalogues, not per-owner leases); a
	// disabled plugin's contracts/adapters stay registered until another
	// plugin replaces them by name. st.contractNames/llmAdapterIDs remain
	// only as a record of what this plugin contributed.

	st.mu.Lock()
	st.Lifecycle = LifecycleDisabled
	st.mu.Unlock()
	return nil
}
