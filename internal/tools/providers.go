package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

// StepToolProvider executes one resolved step. CanHandle is consulted only
// for capability-bound dispatch; a mode-only dispatch invokes the mode's
// provider without calling it.
type StepToolProvider interface {
	ID() string
	Mode() kerntypes.Mode // "" for capability-only providers with no fixed mode
	Priority() int
	CanHandle(ctx context.Context, input kerntypes.ExecuteStepInput) bool
	Invoke(ctx context.Context, input kerntypes.ExecuteStepInput) (any, error)
}

type capabilityBinding struct {
	provider StepToolProvider
	seq      int
}

// ProviderRegistry holds the mode→single-provider map and the
// capability→ranked-provider-list map that drive resolveMode/invoke.
type ProviderRegistry struct {
	mu           sync.RWMutex
	seq          int
	byMode       map[kerntypes.Mode]StepToolProvider
	byCapability map[string][]capabilityBinding
}

// NewProviderRegistry returns an empty registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		byMode:       make(map[kerntypes.Mode]StepToolProvider),
		byCapability: make(map[string][]capabilityBinding),
	}
}

// RegisterMode installs provider as the single provider for mode,
// returning the previous occupant (nil if none) so callers (the plugin
// runtime) can snapshot-and-restore.
func (r *ProviderRegistry) RegisterMode(mode kerntypes.Mode, provider StepToolProvider) StepToolProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.byMode[mode]
	r.byMode[mode] = provider
	return prev
}

// UnregisterMode removes whatever provider occupies mode, iff it is
// current (identity-equal via ID). Used by plugin rollback/disable.
func (r *ProviderRegistry) UnregisterMode(mode kerntypes.Mode, expectedID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byMode[mode]; ok && cur.ID() == expectedID {
		delete(r.byMode, mode)
	}
}

// RegisterCapability appends provider to capability's ranked list. Ranking
// is priority DESC, registration order ASC as tie-break — recomputed on
// every registration so callers always see a consistently sorted list.
func (r *ProviderRegistry) RegisterCapability(capability string, provider StepToolProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	list := append(r.byCapability[capability], capabilityBinding{provider: provider, seq: r.seq})
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].provider.Priority() != list[j].provider.Priority() {
			return list[i].provider.Priority() > list[j].provider.Priority()
		}
		return list[i].seq < list[j].seq
	})
	r.byCapability[capability] = list
}

// UnregisterCapability removes the provider with expectedID from
// capability's list, if present.
func (r *ProviderRegistry) UnregisterCapability(capability, expectedID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.byCapability[capability]
	for i, b := range list {
		if b.provider.ID() == expectedID {
			r.byCapability[capability] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// ResolveMode implements the mode resolution rule:
//  1. capability present with bound providers: explicit input.Mode wins;
//     else the first ranked provider's declared mode (possibly "").
//  2. else if input.Mode has a registered mode provider, return it.
//  3. else return input.Mode unchanged (possibly "").
func (r *ProviderRegistry) ResolveMode(input kerntypes.ExecuteStepInput) kerntypes.Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if input.Capability != "" {
		if list := r.byCapability[input.Capability]; len(list) > 0 {
			if input.Mode != "" {
				return input.Mode
			}
			return list[0].provider.Mode()
		}
	}
	if input.Mode != "" {
		if _, ok := r.byMode[input.Mode]; ok {
			return input.Mode
		}
	}
	return input.Mode
}

// InvokeResult is the outcome of a successful provider invocation.
type InvokeResult struct {
	Data           any
	ModeUsed       kerntypes.Mode
	ProviderID     string
	CapabilityUsed string
}

// Invoke dispatches input at the given mode: capability-bound
// inputs pick the first ranked provider whose CanHandle accepts (with
// Mode patched to the provider's declared mode, falling back to the
// passed mode); mode-only inputs look up a single registered provider.
func (r *ProviderRegistry) Invoke(ctx context.Context, mode kerntypes.Mode, input kerntypes.ExecuteStepInput) (InvokeResult, error) {
	if input.Capability != "" {
		r.mu.RLock()
		list := append([]capabilityBinding(nil), r.byCapability[input.Capability]...)
		r.mu.RUnlock()

		for _, b := range list {
			providerMode := b.provider.Mode()
			if providerMode == "" {
				providerMode = mode
			}
			candidate := input.WithMode(providerMode)
			if b.provider.CanHandle(ctx, candidate) {
				data, err := b.provider.Invoke(ctx, candidate)
				if err != nil {
					return InvokeResult{}, err
				}
				return InvokeResult{
					Data:           data,
					ModeUsed:       providerMode,
					ProviderID:     b.provider.ID(),
					CapabilityUsed: input.Capability,
				}, nil
			}
		}
		return InvokeResult{}, fmt.Errorf("未找到 capability provider")
	}

	r.mu.RLock()
	provider, ok := r.byMode[mode]
	r.mu.RUnlock()
	if !ok {
		return InvokeResult{}, fmt.Errorf("%s adapter 未配置", mode)
	}
	data, err := provider.Invoke(ctx, input.WithMode(mode))
	if err != nil {
		return InvokeResult{}, err
	}
	return InvokeResult{Data: data, ModeUsed: mode, ProviderID: provider.ID()}, nil
}
