package points

type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierDiamond  Tier = "diamond"
	TierPlatinum Tier = "platinum"
)

var tierRank = map[Tier]int{
	TierBronze:   0,
	TierSilver:   1,
	TierGold:     2,
	TierDiamond:  3,
	TierPlatinum: 4,
}

// TierFor derives the achievement tier from lifetime earned points.
func TierFor(totalEarned int64) Tier {
	switch {
	case totalEarned >= 50000:
		return TierPlatinum
	case totalEarned >= 20000:
		return TierDiamond
	case totalEarned >= 5000:
		return TierGold
	case totalEarned >= 1000:
		return TierSilver
	default:
		return TierBronze
	}
}

// ParseTier returns false for unknown names. The empty string is bronze.
func ParseTier(s string) (Tier, bool) {
	if s == "" {
		return TierBronze, true
	}
	t := Tier(s)
	_, ok := tierRank[t]
	return t, ok
}

// AtLeast reports whether t ranks at or above other.
func (t Tier) AtLeast(other Tier) bool {
	return tierRank[t] >= tierRank[other]
}
