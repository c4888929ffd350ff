package pipeline

import (
	"fmt"

	"github.com/thumbforge/preview-processor/internal/configure"
)

// Tier names a preview derivative. The three tiers trade fidelity for size
// in a strict order: every thumbnail is smaller than its blur preview, which
// is smaller than the low-quality preview, which is smaller than the input.
type Tier string

const (
	TierThumbnail  Tier = "thumbnail"
	TierBlur       Tier = "blur"
	TierLowQuality Tier = "low_quality"
)

// Tiers lists every tier in ascending size order.
var Tiers = []Tier{TierThumbnail, TierBlur, TierLowQuality}

func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierThumbnail, TierBlur, TierLowQuality:
		return Tier(s), nil
	}

	return "", fmt.Errorf("pipeline: unknown tier %q", s)
}

// TierPolicy fixes the rendering parameters of one tier.
type TierPolicy struct {
	MaxDimension int
	BlurRadius   int
	Quality      int
}

type PolicySet map[Tier]TierPolicy

func DefaultPolicies() PolicySet {
	cfg := configure.DefaultConfig()
	return PoliciesFromConfig(&cfg)
}

func PoliciesFromConfig(cfg *configure.Config) PolicySet {
	fromTier := func(t configure.TierConfig) TierPolicy {
		return TierPolicy{
			MaxDimension: t.MaxDimension,
			BlurRadius:   t.BlurRadius,
			Quality:      t.Quality,
		}
	}

	return PolicySet{
		TierThumbnail:  fromTier(cfg.Tiers.Thumbnail),
		TierBlur:       fromTier(cfg.Tiers.Blur),
		TierLowQuality: fromTier(cfg.Tiers.LowQuality),
	}
}

// Validate rejects policy sets that would break the tier size ordering or
// produce unencodable output. It runs once at pipeline construction, never
// per task.
func (p PolicySet) Validate() error {
	for _, tier := range Tiers {
		policy, ok := p[tier]
		if !ok {
			return fmt.Errorf("pipeline: tier %q has no policy", tier)
		}

		if policy.MaxDimension <= 0 {
			return fmt.Errorf("pipeline: tier %q has non-positive max dimension %d", tier, policy.MaxDimension)
		}

		if policy.BlurRadius < 0 {
			return fmt.Errorf("pipeline: tier %q has negative blur radius %d", tier, policy.BlurRadius)
		}

		if policy.Quality < 1 || policy.Quality > 100 {
			return fmt.Errorf("pipeline: tier %q has quality %d outside [1, 100]", tier, policy.Quality)
		}
	}

	for _, tier := range []Tier{TierThumbnail, TierLowQuality} {
		if p[tier].BlurRadius != 0 {
			return fmt.Errorf("pipeline: tier %q must not blur (radius %d)", tier, p[tier].BlurRadius)
		}
	}

	// Dimension and quality both increase strictly across the tiers; this
	// is what keeps the output size ordering monotone.
	for i := 1; i < len(Tiers); i++ {
		prev, cur := Tiers[i-1], Tiers[i]

		if p[prev].MaxDimension >= p[cur].MaxDimension {
			return fmt.Errorf("pipeline: tier %q dimension %d must be below tier %q dimension %d",
				prev, p[prev].MaxDimension, cur, p[cur].MaxDimension)
		}

		if p[prev].Quality >= p[cur].Quality {
			return fmt.Errorf("pipeline: tier %q quality %d must be below tier %q quality %d",
				prev, p[prev].Quality, cur, p[cur].Quality)
		}
	}

	return nil
}
