package tools

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

type fakeProvider struct {
	id       string
	mode     kerntypes.Mode
	priority int
	canHandle func(kerntypes.ExecuteStepInput) bool
	invoke    func(kerntypes.ExecuteStepInput) (any, error)
}

func (f *fakeProvider) ID() string       { return f.id }
func (f *fakeProvider) Mode() kerntypes.Mode { return f.mode }
func (f *fakeProvider) Priority() int     { return f.priority }
func (f *fakeProvider) CanHandle(_ context.Context, input kerntypes.ExecuteStepInput) bool {
	if f.canHandle == nil {
		return true
	}
	return f.canHandle(input)
}
func (f *fakeProvider) Invoke(_ context.Context, input kerntypes.ExecuteStepInput) (any, error) {
	if f.invoke == nil {
		return "ok", nil
	}
	return f.invoke(input)
}

func TestProviderRegistry_ResolveMode_CapabilityWins(t *testing.T) {
	r := NewProviderRegistry()
	r.RegisterCapability("browser.action", &fakeProvider{id: "p1", mode: kerntypes.ModeCDP})

	mode := r.ResolveMode(kerntypes.ExecuteStepInput{Capability: "browser.action"})
	assert.Equal(t, kerntypes.ModeCDP, mode)
}

func TestProviderRegistry_ResolveMode_ExplicitModeOverridesCapabilityDefault(t *testing.T) {
	r := NewProviderRegistry()
	r.RegisterCapability("browser.action", &fakeProvider{id: "p1", mode: kerntypes.ModeCDP})

	mode := r.ResolveMode(kerntypes.ExecuteStepInput{Capability: "browser.action", Mode: kerntypes.ModeScript})
	assert.Equal(t, kerntypes.ModeScript, mode)
}

func TestProviderRegistry_ResolveMode_FallsBackToModeProvider(t *testing.T) {
	r := NewProviderRegistry()
	r.RegisterMode(kerntypes.ModeScript, &fakeProvider{id: "script-provider", mode: kerntypes.ModeScript})

	mode := r.ResolveMode(kerntypes.ExecuteStepInput{Mode: kerntypes.ModeScript})
	assert.Equal(t, kerntypes.ModeScript, mode)
}

func TestProviderRegistry_CapabilityRanking_HigherPriorityFirst(t *testing.T) {
	r := NewProviderRegistry()
	var called []string
	r.RegisterCapability("browser.action", &fakeProvider{id: "low", priority: 0, invoke: func(kerntypes.ExecuteStepInput) (any, error) {
		called = append(called, "low")
		return "low", nil
	}})
	r.RegisterCapability("browser.action", &fakeProvider{id: "high", priority: 10, invoke: func(kerntypes.ExecuteStepInput) (any, error) {
		called = append(called, "high")
		return "high", nil
	}})

	res, err := r.Invoke(context.Background(), "", kerntypes.ExecuteStepInput{Capability: "browser.action"})
	require.NoError(t, err)
	assert.Equal(t, "high", res.Data)
	assert.Equal(t, []string{"high"}, called)
}

func TestProviderRegistry_Invoke_CapabilityNotFound(t *testing.T) {
	r := NewProviderRegistry()
	_, err := r.Invoke(context.Background(), "", kerntypes.ExecuteStepInput{Capability: "missing.capability"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capability provider")
}

func TestProviderRegistry_Invoke_ModeNotConfigured(t *testing.T) {
	r := NewProviderRegistry()
	_, err := r.Invoke(context.Background(), kerntypes.ModeScript, kerntypes.ExecuteStepInput{Mode: kerntypes.ModeScript})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adapter 未配置")
}

func TestProviderRegistry_Invoke_SkipsProvidersThatCannotHandle(t *testing.T) {
	r := NewProviderRegistry()
	r.RegisterCapability("browser.action", &fakeProvider{
		id: "rejects", priority: 10,
		canHandle: func(kerntypes.ExecuteStepInput) bool { return false },
	})
	r.RegisterCapability("browser.action", &fakeProvider{
		id: "accepts", priority: 5,
		invoke: func(kerntypes.ExecuteStepInput) (any, error) { return "accepted", nil },
	})

	res, err := r.Invoke(context.Background(), "", kerntypes.ExecuteStepInput{Capability: "browser.action"})
	require.NoError(t, err)
	assert.Equal(t, "accepted", res.Data)
	assert.Equal(t, "accepts", res.ProviderID)
}

func TestProviderRegistry_Invoke_PropagatesProviderError(t *testing.T) {
	r := NewProviderRegistry()
	r.RegisterMode(kerntypes.ModeScript, &fakeProvider{
		id: "failing", mode: kerntypes.ModeScript,
		invoke: func(kerntypes.ExecuteStepInput) (any, error) { return nil, fmt.Errorf("boom") },
	})

	_, err := r.Invoke(context.Background(), kerntypes.ModeScript, kerntypes.ExecuteStepInput{Mode: kerntypes.ModeScript})
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
}
