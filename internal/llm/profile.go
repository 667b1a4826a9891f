package llm

import "fmt"

// EscalationPolicy controls whether resolveLlmRoute may walk the ordered
// profile chain forward on repeated failure.
type EscalationPolicy string

const (
	EscalationUpgradeOnly EscalationPolicy = "upgrade_only"
	EscalationDisabled    EscalationPolicy = "disabled"
)

// NormalizeEscalationPolicy maps anything other than the literal
// "disabled" to "upgrade_only", per the profile resolver's rule.
func NormalizeEscalationPolicy(raw string) EscalationPolicy {
	if EscalationPolicy(raw) == EscalationDisabled {
		return EscalationDisabled
	}
	return EscalationUpgradeOnly
}

const (
	minTimeoutMs      = 1_000
	maxTimeoutMs      = 300_000
	maxRetryAttempts  = 6
	maxRetryDelayMs   = 300_000
	defaultModel      = "gpt-5.3-codex"
	defaultRole       = "worker"
)

// Profile is one named LLM configuration: base URL, key, model, retry and
// timeout budgets, and a role used for escalation-chain grouping.
type Profile struct {
	ID                  string `json:"id"`
	LlmBase             string `json:"llmBase"`
	LlmKey              string `json:"llmKey"`
	Model               string `json:"model,omitempty"`
	Role                string `json:"role,omitempty"`
	LlmTimeoutMs        int    `json:"llmTimeoutMs,omitempty"`
	LlmRetryMaxAttempts int    `json:"llmRetryMaxAttempts,omitempty"`
	LlmMaxRetryDelayMs  int    `json:"llmMaxRetryDelayMs,omitempty"`
	FromLegacy          bool   `json:"-"`
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// normalize clamps timeout/retry budgets and defaults model/role,
// returning a new Profile (the input is left untouched).
func normalize(p Profile) Profile {
	out := p
	if out.LlmTimeoutMs == 0 {
		out.LlmTimeoutMs = maxTimeoutMs
	}
	out.LlmTimeoutMs = clampInt(out.LlmTimeoutMs, minTimeoutMs, maxTimeoutMs)
	out.LlmRetryMaxAttempts = clampInt(out.LlmRetryMaxAttempts, 0, maxRetryAttempts)
	out.LlmMaxRetryDelayMs = clampInt(out.LlmMaxRetryDelayMs, 0, maxRetryDelayMs)
	if out.Model == "" {
		out.Model = defaultModel
	}
	if out.Role == "" {
		out.Role = defaultRole
	}
	return out
}

// ProfileSource is anything that can hand back the configured profile set
// and per-role escalation chains. internal/config's KernelConfig
// implements this.
type ProfileSource interface {
	LlmProfiles() []Profile
	LlmProfileChain(role string) []string
}

// Route is the resolved outcome of picking a profile: the profile itself
// plus the ordered escalation chain of profile ids sharing its role, and
// the normalised escalation policy.
type Route struct {
	Profile          Profile
	OrderedProfiles  []string
	EscalationPolicy EscalationPolicy
}

// RouteRequest parameterises ResolveLlmRoute.
type RouteRequest struct {
	Config           ProfileSource
	Profile          string // requested profile id, optional
	Role             string // optional, informational only (chain grouping uses the resolved profile's role)
	EscalationPolicy string
}

// RouteError is a typed resolution failure (profile_not_found /
// missing_llm_config) so callers can branch without string matching.
type RouteError struct {
	Code    string
	Message string
}

func (e *RouteError) Error() string { return e.Message }

func newRouteError(code, msg string) *RouteError {
	return &RouteError{Code: code, Message: msg}
}

// ResolveLlmRoute implements the six-step resolution:
//  1. collect profiles from req.Config (internal/config's KernelConfig
//     reads them from the llmProfiles array, or synthesises one legacy
//     profile; an object map under llmProfiles is not accepted);
//  2. normalise each;
//  3. pick requested → "default" → first available;
//  4. require non-empty llmBase/llmKey;
//  5. compute the ordered escalation chain for the selected profile's role;
//  6. normalise the escalation policy.
func ResolveLlmRoute(req RouteRequest) (Route, error) {
	raw := req.Config.LlmProfiles()
	if len(raw) == 0 {
		return Route{}, newRouteError("profile_not_found", "no llm profiles configured")
	}

	profiles := make([]Profile, len(raw))
	for i, p := range raw {
		profiles[i] = normalize(p)
	}

	selected, ok := pickProfile(profiles, req.Profile)
	if !ok {
		return Route{}, newRouteError("profile_not_found", "no llm profiles configured")
	}

	if selected.LlmBase == "" || selected.LlmKey == "" {
		return Route{}, newRouteError("missing_llm_config", fmt.Sprintf("profile %q missing llmBase/llmKey", selected.ID))
	}

	ordered := orderedProfilesForRole(profiles, selected, req.Config.LlmProfileChain(selected.Role))

	return Route{
		Profile:          selected,
		OrderedProfiles:  ordered,
		EscalationPolicy: NormalizeEscalationPolicy(req.EscalationPolicy),
	}, nil
}

// pickProfile implements step 3: requested id → "default" → first
// available.
func pickProfile(profiles []Profile, requested string) (Profile, bool) {
	if requested != "" {
		for _, p := range profiles {
			if p.ID == requested {
				return p, true
			}
		}
	}
	for _, p := range profiles {
		if p.ID == "default" {
			return p, true
		}
	}
	if len(profiles) > 0 {
		return profiles[0], true
	}
	return Profile{}, false
}

// orderedProfilesForRole implements step 5: an explicit chain (filtered to
// known ids) wins; otherwise every profile sharing selected's role; the
// selected id is prepended if missing; empty falls back to [selected.ID].
func orderedProfilesForRole(profiles []Profile, selected Profile, explicitChain []string) []string {
	known := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		known[p.ID] = true
	}

	var ordered []string
	if len(explicitChain) > 0 {
		for _, id := range explicitChain {
			if known[id] {
				ordered = append(ordered, id)
			}
		}
	} else {
		for _, p := range profiles {
			if p.Role == selected.Role {
				ordered = append(ordered, p.ID)
			}
		}
	}

	if len(ordered) == 0 {
		return []string{selected.ID}
	}

	found := false
	for _, id := range ordered {
		if id == selected.ID {
			found = true
			break
		}
	}
	if !found {
		ordered = append([]string{selected.ID}, ordered...)
	}
	return ordered
}
