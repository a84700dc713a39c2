// Package payrate computes the payment rate for a submission from its tier
// and bonus flags. Stateless; the amounts live here and nowhere else.
package payrate

// Rates are in cents.
const (
	TierStandard   = "standard"
	TierFeature    = "feature"
	TierPhotoEssay = "photo-essay"
)

const (
	BonusFrontPage  = "front-page"
	BonusRush       = "rush"
	BonusMultimedia = "multimedia"
)

var tierRates = map[string]int{
	TierStandard:   2500,
	TierFeature:    6000,
	TierPhotoEssay: 4500,
}

var bonusRates = map[string]int{
	BonusFrontPage:  1500,
	BonusRush:       1000,
	BonusMultimedia: 750,
}

// Rate returns the total rate in cents. Unknown tiers fall back to standard,
// unknown bonus flags contribute nothing, and a repeated flag counts once.
func Rate(tier string, bonuses []string) int {
	total, ok := tierRates[tier]
	if !ok {
		total = tierRates[TierStandard]
	}
	seen := make(map[string]bool, len(bonuses))
	for _, bonus := range bonuses {
		if seen[bonus] {
			continue
		}
		seen[bonus] = true
		total += bonusRates[bonus]
	}
	return total
}
