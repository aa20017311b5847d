package canopy

import "fmt"

// Level configures one tier of the chunk tree, coarsest first.
// TargetTokens is the size a chunk at this level aims for; a trailing
// fragment below MinTokens is merged into its preceding sibling instead of
// standing alone.
type Level struct {
	TargetTokens int `json:"target_tokens" toml:"target_tokens"`
	MinTokens    int `json:"min_tokens" toml:"min_tokens"`
}

// DefaultLevels returns a three-tier configuration: section-scale roots,
// paragraph-scale intermediates, and sentence-cluster leaves.
func DefaultLevels() []Level {
	return []Level{
		{TargetTokens: 2048, MinTokens: 512},
		{TargetTokens: 512, MinTokens: 128},
		{TargetTokens: 128, MinTokens: 32},
	}
}

// ValidateLevels checks a level configuration. Levels must go from coarse to
// fine (strictly decreasing targets) and every MinTokens must be positive and
// no larger than its TargetTokens. An invalid configuration is a startup
// failure, never silently corrected.
func ValidateLevels(levels []Level) error {
	if len(levels) == 0 {
		return &ConfigError{Field: "levels", Reason: "at least one level required"}
	}
	for i, l := range levels {
		if l.TargetTokens < 1 {
			return &ConfigError{Field: fmt.Sprintf("levels[%d].target_tokens", i), Reason: "must be >= 1"}
		}
		if l.MinTokens < 1 || l.MinTokens > l.TargetTokens {
			return &ConfigError{Field: fmt.Sprintf("levels[%d].min_tokens", i), Reason: "must be in [1, target_tokens]"}
		}
		if i > 0 && l.TargetTokens >= levels[i-1].TargetTokens {
			return &ConfigError{Field: fmt.Sprintf("levels[%d].target_tokens", i), Reason: "levels must be strictly decreasing (coarsest first)"}
		}
	}
	return nil
}
