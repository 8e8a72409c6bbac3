package export

import "github.com/lubepos/lubepos/internal/catalog"

// substitution lists, per target tier, the source tiers a request may draw from
// in priority order. The first entry is the primary source; any other is a borrow.
var substitution = map[catalog.Tier][]catalog.Tier{
	catalog.TierRetail:    {catalog.TierRetail},
	catalog.TierWholesale: {catalog.TierWholesale, catalog.TierRetail},
	catalog.TierVIP:       {catalog.TierVIP, catalog.TierWholesale, catalog.TierRetail},
}

// SourceTiers returns the substitution order for a target tier.
func SourceTiers(target catalog.Tier) []catalog.Tier {
	return append([]catalog.Tier(nil), substitution[target]...)
}

// requiresThreshold reports whether a target tier demands the wholesale floor.
func requiresThreshold(target catalog.Tier) bool {
	return target == catalog.TierWholesale
}
