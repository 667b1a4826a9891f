package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/goclaw/internal/llm"
)

// KernelLlmProfile mirrors llm.Profile's JSON shape for config-file
// loading (kept distinct from llm.Profile itself so the llm package has
// no dependency on internal/config).
type KernelLlmProfile struct {
	ID                  string `json:"id"`
	LlmBase             string `json:"llmBase"`
	LlmKey              string `json:"llmKey"`
	Model               string `json:"model,omitempty"`
	Role                string `json:"role,omitempty"`
	LlmTimeoutMs        int    `json:"llmTimeoutMs,omitempty"`
	LlmRetryMaxAttempts int    `json:"llmRetryMaxAttempts,omitempty"`
	LlmMaxRetryDelayMs  int    `json:"llmMaxRetryDelayMs,omitempty"`
}

// CompactionConfig configures the kernel's compaction engine defaults.
type CompactionConfig struct {
	ThresholdTokens int  `json:"thresholdTokens,omitempty"`
	KeepTail        int  `json:"keepTail,omitempty"`
	SplitTurn       *bool `json:"splitTurn,omitempty"`
	MaxSummaryChars int  `json:"maxSummaryChars,omitempty"`
}

// RetryConfig configures handleAgentEnd's retry backoff.
type RetryConfig struct {
	MaxAttempts int `json:"maxAttempts,omitempty"`
	BaseDelayMs int `json:"baseDelayMs,omitempty"`
	CapDelayMs  int `json:"capDelayMs,omitempty"`
}

// TraceConfig configures the per-session trace ring/chunking.
type TraceConfig struct {
	RingCapacity int `json:"ringCapacity,omitempty"`
	ChunkSize    int `json:"chunkSize,omitempty"`
	ReplayChunks int `json:"replayChunks,omitempty"`
}

// PluginsConfig points the plugin runtime at its manifest directory.
type PluginsConfig struct {
	ManifestDir string `json:"manifestDir,omitempty"`
	WatchReload bool   `json:"watchReload,omitempty"`
}

// KernelConfig is the orchestration kernel's own root configuration:
// a JSON5 file, RWMutex-guarded in place, with env overrides layered on
// top.
type KernelConfig struct {
	LlmProfilesList   []KernelLlmProfile  `json:"llmProfiles,omitempty"`
	LlmProfileChains  map[string][]string `json:"llmProfileChains,omitempty"`
	EscalationPolicy  string              `json:"escalationPolicy,omitempty"`
	Compaction        CompactionConfig    `json:"compaction,omitempty"`
	Retry             RetryConfig         `json:"retry,omitempty"`
	Trace             TraceConfig         `json:"trace,omitempty"`
	Plugins           PluginsConfig       `json:"plugins,omitempty"`
	DequeueMode       string              `json:"dequeueMode,omitempty"`

	// Legacy top-level fields: when LlmProfilesList is empty, these are
	// synthesised into a single profile with FromLegacy=true.
	LegacyLlmBase             string `json:"llmBase,omitempty"`
	LegacyLlmKey              string `json:"llmKey,omitempty"`
	LegacyModel               string `json:"model,omitempty"`
	LegacyLlmTimeoutMs        int    `json:"llmTimeoutMs,omitempty"`
	LegacyLlmRetryMaxAttempts int    `json:"llmRetryMaxAttempts,omitempty"`
	LegacyLlmMaxRetryDelayMs  int    `json:"llmMaxRetryDelayMs,omitempty"`

	mu sync.RWMutex
}

// DefaultKernelConfig returns sane defaults for every section.
func DefaultKernelConfig() *KernelConfig {
	return &KernelConfig{
		Compaction: CompactionConfig{
			ThresholdTokens: 1800,
			KeepTail:        30,
			MaxSummaryChars: 1800,
		},
		Retry: RetryConfig{
			MaxAttempts: 2,
			BaseDelayMs: 500,
			CapDelayMs:  5000,
		},
		Trace: TraceConfig{
			RingCapacity: 240,
			ChunkSize:    80,
			ReplayChunks: 64,
		},
		DequeueMode: "one-at-a-time",
	}
}

// LoadKernelConfig reads a JSON5 config file, falling back to defaults
// when the file does not exist.
func LoadKernelConfig(path string) (*KernelConfig, error) {
	cfg := DefaultKernelConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("kernel config: read %q: %w", path, err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("kernel config: parse %q: %w", path, err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *KernelConfig) applyEnvOverrides() {
	if v := os.Getenv("KERNEL_LLM_KEY"); v != "" {
		c.LegacyLlmKey = v
		for i := range c.LlmProfilesList {
			if c.LlmProfilesList[i].LlmKey == "" {
				c.LlmProfilesList[i].LlmKey = v
			}
		}
	}
}

// LlmProfiles implements llm.ProfileSource: returns the configured
// profile set, or — when none are configured — a single legacy profile
// synthesised from the top-level fields (FromLegacy=true).
func (c *KernelConfig) LlmProfiles() []llm.Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.LlmProfilesList) == 0 {
		if c.LegacyLlmBase == "" && c.LegacyLlmKey == "" {
			return nil
		}
		return []llm.Profile{{
			ID:                  "default",
			LlmBase:             c.LegacyLlmBase,
			LlmKey:              c.LegacyLlmKey,
			Model:               c.LegacyModel,
			LlmTimeoutMs:        c.LegacyLlmTimeoutMs,
			LlmRetryMaxAttempts: c.LegacyLlmRetryMaxAttempts,
			LlmMaxRetryDelayMs:  c.LegacyLlmMaxRetryDelayMs,
			FromLegacy:          true,
		}}
	}

	out := make([]llm.Profile, len(c.LlmProfilesList))
	for i, p := range c.LlmProfilesList {
		out[i] = llm.Profile{
			ID:                  p.ID,
			LlmBase:             p.LlmBase,
			LlmKey:              p.LlmKey,
			Model:               p.Model,
			Role:                p.Role,
			LlmTimeoutMs:        p.LlmTimeoutMs,
			LlmRetryMaxAttempts: p.LlmRetryMaxAttempts,
			LlmMaxRetryDelayMs:  p.LlmMaxRetryDelayMs,
		}
	}
	return out
}

// LlmProfileChain implements llm.ProfileSource.
func (c *KernelConfig) LlmProfileChain(role string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LlmProfileChains[role]
}

// SplitTurnOrDefault returns Compaction.SplitTurn, defaulting to true
// when unset.
func (c *KernelConfig) SplitTurnOrDefault() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Compaction.SplitTurn == nil {
		return true
	}
	return *c.Compaction.SplitTurn
}

// The accessors below give internal/kernel a narrow, read-only view of
// KernelConfig without needing direct field access (and without internal/
// kernel reaching past the mutex).

func (c *KernelConfig) CompactionThresholdTokens() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Compaction.ThresholdTokens
}

func (c *KernelConfig) CompactionKeepTail() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Compaction.KeepTail
}

func (c *KernelConfig) CompactionMaxSummaryChars() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Compaction.MaxSummaryChars
}

func (c *KernelConfig) RetryMaxAttempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Retry.MaxAttempts
}

func (c *KernelConfig) RetryBaseDelayMs() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Retry.BaseDelayMs
}

func (c *KernelConfig) RetryCapDelayMs() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Retry.CapDelayMs
}

func (c *KernelConfig) TraceRingCapacity() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Trace.RingCapacity
}

func (c *KernelConfig) TraceChunkSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Trace.ChunkSize
}

func (c *KernelConfig) TraceReplayChunks() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Trace.ReplayChunks
}

func (c *KernelConfig) QueueDequeueMode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.DequeueMode == "" {
		return "one-at-a-time"
	}
	return c.DequeueMode
}
