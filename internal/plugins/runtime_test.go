package plugins

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/goclaw/internal/hooks"
	"github.com/nextlevelbuilder/goclaw/internal/llm"
	"github.com/nextlevelbuilder/goclaw/internal/tools"
	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

type stubProvider struct {
	id   string
	mode kerntypes.Mode
}

func (s *stubProvider) ID() string       { return s.id }
func (s *stubProvider) Mode() kerntypes.Mode { return s.mode }
func (s *stubProvider) Priority() int     { return 0 }
func (s *stubProvider) CanHandle(context.Context, kerntypes.ExecuteStepInput) bool { return true }
func (s *stubProvider) Invoke(context.Context, kerntypes.ExecuteStepInput) (any, error) {
	return s.id, nil
}

func newTestRuntime() (*Runtime, *tools.ProviderRegistry, *tools.CapabilityPolicyRegistry) {
	providerReg := tools.NewProviderRegistry()
	policyReg := tools.NewCapabilityPolicyRegistry()
	rt := NewRuntime(hooks.NewRunner(), providerReg, policyReg, tools.NewContractRegistry(), llm.NewRegistry())
	return rt, providerReg, policyReg
}

func TestRuntime_EnableRejectsUnpermittedHook(t *testing.T) {
	rt, _, _ := newTestRuntime()
	def := Definition{
		Manifest: Manifest{ID: "p1", Permissions: Permissions{Hooks: []string{"tool.before_call"}}},
		Hooks: []HookEntry{
			{ID: "h1", Hook: "agent_end.before", Handler: func(ctx context.Context, v map[string]any) (hooks.Action, error) {
				return hooks.Continue(), nil
			}},
		},
	}
	require.NoError(t, rt.Load(def))
	err := rt.Enable("p1")
	assert.Error(t, err)

	snap, ok := rt.Get("p1")
	require.True(t, ok)
	assert.Equal(t, LifecycleDisabled, snap.Lifecycle)
}

func TestRuntime_EnableWildcardPermission(t *testing.T) {
	rt, _, _ := newTestRuntime()
	ran := false
	def := Definition{
		Manifest: Manifest{ID: "p1", Permissions: Permissions{Hooks: []string{"*"}}},
		Hooks: []HookEntry{
			{ID: "h1", Hook: "tool.before_call", Handler: func(ctx context.Context, v map[string]any) (hooks.Action, error) {
				ran = true
				return hooks.Continue(), nil
			}},
		},
	}
	require.NoError(t, rt.Load(def))
	require.NoError(t, rt.Enable("p1"))

	snap, _ := rt.Get("p1")
	assert.Equal(t, LifecycleEnabled, snap.Lifecycle)
	_ = ran
}

func TestRuntime_DisableRestoresPreviousModeProvider(t *testing.T) {
	rt, providerReg, _ := newTestRuntime()
	original := &stubProvider{id: "original", mode: kerntypes.ModeScript}
	providerReg.RegisterMode(kerntypes.ModeScript, original)

	def := Definition{
		Manifest: Manifest{ID: "p1", Permissions: Permissions{Modes: []string{"script"}}},
		ModeProviders: []ModeProviderEntry{
			{Mode: kerntypes.ModeScript, Provider: &stubProvider{id: "plugin-provider", mode: kerntypes.ModeScript}},
		},
	}
	require.NoError(t, rt.Load(def))
	require.NoError(t, rt.Enable("p1"))

	res, err := providerReg.Invoke(context.Background(), kerntypes.ModeScript, kerntypes.ExecuteStepInput{Mode: kerntypes.ModeScript})
	require.NoError(t, err)
	assert.Equal(t, "plugin-provider", res.Data)

	require.NoError(t, rt.Disable("p1"))

	res, err = providerReg.Invoke(context.Background(), kerntypes.ModeScript, kerntypes.ExecuteStepInput{Mode: kerntypes.ModeScript})
	require.NoError(t, err)
	assert.Equal(t, "original", res.Data)
}

func TestRuntime_HookPanicIsIsolatedAndCounted(t *testing.T) {
	rt, _, _ := newTestRuntime()
	runner := hooks.NewRunner()
	rt.hookRunner = runner

	def := Definition{
		Manifest: Manifest{ID: "p1", Permissions: Permissions{Hooks: []string{"*"}}},
		Hooks: []HookEntry{
			{ID: "h1", Hook: "tool.before_call", Handler: func(ctx context.Context, v map[string]any) (hooks.Action, error) {
				panic("boom")
			}},
		},
	}
	require.NoError(t, rt.Load(def))
	require.NoError(t, rt.Enable("p1"))

	res := runner.Run(context.Background(), "tool.before_call", map[string]any{})
	assert.False(t, res.Blocked)

	snap, _ := rt.Get("p1")
	assert.Equal(t, 1, snap.ErrorCount)
}
