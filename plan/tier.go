package plan

import "strings"

// Tier is the reversibility classification of a proposed action.
// Ordering is GREEN < YELLOW < RED.
type Tier string

const (
	TierGreen  Tier = "GREEN"
	TierYellow Tier = "YELLOW"
	TierRed    Tier = "RED"
)

var tierRank = map[Tier]int{
	TierGreen:  0,
	TierYellow: 1,
	TierRed:    2,
}

// ParseTier normalizes a model-supplied classification string. Unknown or
// empty values come back as GREEN with ok=false so callers can decide how
// to treat an unclassified action.
func ParseTier(s string) (Tier, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GREEN", "":
		return TierGreen, strings.TrimSpace(s) != ""
	case "YELLOW":
		return TierYellow, true
	case "RED":
		return TierRed, true
	default:
		return TierGreen, false
	}
}

// MaxTier returns the stricter of the two tiers.
func MaxTier(a, b Tier) Tier {
	if tierRank[b] > tierRank[a] {
		return b
	}
	return a
}

// AtLeast reports whether t is as strict as min or stricter.
func (t Tier) AtLeast(min Tier) bool {
	return tierRank[t] >= tierRank[min]
}
