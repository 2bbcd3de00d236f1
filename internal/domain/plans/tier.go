package plans

import "strings"

// Tier labels a plan can carry. Every live price maps to premium today;
// free exists for zero-cost display rows on the pricing page.
const (
	TierFree    = "free"
	TierPremium = "premium"
)

// NormalizeTier maps a price's tier metadata onto a recognised label.
// Casing and surrounding whitespace are tolerated; empty and unknown
// values count as premium, so the plans table never carries a tier the
// access layer does not know.
func NormalizeTier(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case TierFree:
		return TierFree
	default:
		return TierPremium
	}
}
