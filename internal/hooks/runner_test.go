package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_PriorityOrdering(t *testing.T) {
	r := NewRunner()
	var order []string

	r.On("phase", "low", 1, func(ctx context.Context, v map[string]any) (Action, error) {
		order = append(order, "low")
		return Continue(), nil
	})
	r.On("phase", "high", 10, func(ctx context.Context, v map[string]any) (Action, error) {
		order = append(order, "high")
		return Continue(), nil
	})
	r.On("phase", "mid", 5, func(ctx context.Context, v map[string]any) (Action, error) {
		order = append(order, "mid")
		return Continue(), nil
	})

	res := r.Run(context.Background(), "phase", map[string]any{})
	require.Empty(t, res.Errors)
	assert.Equal(t, []string{"high", "mid", "low"}, order)
}

func TestRunner_RegistrationOrderTiebreak(t *testing.T) {
	r := NewRunner()
	var order []string
	r.On("phase", "first", 5, func(ctx context.Context, v map[string]any) (Action, error) {
		order = append(order, "first")
		return Continue(), nil
	})
	r.On("phase", "second", 5, func(ctx context.Context, v map[string]any) (Action, error) {
		order = append(order, "second")
		return Continue(), nil
	})

	r.Run(context.Background(), "phase", map[string]any{})
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestRunner_PatchThreadsThrough(t *testing.T) {
	r := NewRunner()
	r.On("phase", "a", 10, func(ctx context.Context, v map[string]any) (Action, error) {
		return Patch(map[string]any{"x": 1}), nil
	})
	r.On("phase", "b", 5, func(ctx context.Context, v map[string]any) (Action, error) {
		x, _ := v["x"].(int)
		return Patch(map[string]any{"x": x + 1}), nil
	})

	res := r.Run(context.Background(), "phase", map[string]any{})
	assert.Equal(t, 2, res.Value["x"])
	assert.Equal(t, 2, res.PatchCount)
}

func TestRunner_PatchCountExcludesContinueAndBlock(t *testing.T) {
	r := NewRunner()
	r.On("phase", "patch", 10, func(ctx context.Context, v map[string]any) (Action, error) {
		return Patch(map[string]any{"x": 1}), nil
	})
	r.On("phase", "continue", 5, func(ctx context.Context, v map[string]any) (Action, error) {
		return Continue(), nil
	})

	res := r.Run(context.Background(), "phase", map[string]any{})
	assert.Equal(t, 1, res.PatchCount)
}

func TestRunner_BlockStopsChain(t *testing.T) {
	r := NewRunner()
	ran := false
	r.On("phase", "blocker", 10, func(ctx context.Context, v map[string]any) (Action, error) {
		return Block("nope"), nil
	})
	r.On("phase", "never", 5, func(ctx context.Context, v map[string]any) (Action, error) {
		ran = true
		return Continue(), nil
	})

	res := r.Run(context.Background(), "phase", map[string]any{})
	assert.True(t, res.Blocked)
	assert.Equal(t, "nope", res.Reason)
	assert.False(t, ran)
}

func TestRunner_OneBadHookDoesNotBreakChain(t *testing.T) {
	r := NewRunner()
	r.On("phase", "bad", 10, func(ctx context.Context, v map[string]any) (Action, error) {
		return Continue(), errors.New("boom")
	})
	ran := false
	r.On("phase", "good", 5, func(ctx context.Context, v map[string]any) (Action, error) {
		ran = true
		return Continue(), nil
	})

	res := r.Run(context.Background(), "phase", map[string]any{})
	assert.True(t, ran)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Error(), "bad")
}

func TestRunner_OffRemovesHandler(t *testing.T) {
	r := NewRunner()
	ran := false
	unregister := r.On("phase", "h", 1, func(ctx context.Context, v map[string]any) (Action, error) {
		ran = true
		return Continue(), nil
	})
	unregister()

	r.Run(context.Background(), "phase", map[string]any{})
	assert.False(t, ran)
}
