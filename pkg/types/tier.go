package types

import (
	"fmt"
	"strings"
)

// Tier is a popularity bucket. Lower values are more valuable and are
// searched first.
type Tier int

const (
	TierHot Tier = iota
	TierWarm
	TierCool
	TierCold
	TierFrozen
)

// NumTiers is the number of defined tiers.
const NumTiers = 5

var tierNames = [NumTiers]string{"hot", "warm", "cool", "cold", "frozen"}

// String returns the lowercase tier label.
func (t Tier) String() string {
	if !t.Valid() {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t]
}

// Valid reports whether t is one of the defined tiers.
func (t Tier) Valid() bool {
	return t >= TierHot && t <= TierFrozen
}

// MoreValuableThan reports whether t ranks above other.
func (t Tier) MoreValuableThan(other Tier) bool {
	return t < other
}

// ParseTier maps a label back to its Tier.
func ParseTier(s string) (Tier, error) {
	label := strings.ToLower(strings.TrimSpace(s))
	for i, name := range tierNames {
		if name == label {
			return Tier(i), nil
		}
	}
	return TierFrozen, fmt.Errorf("unknown tier %q", s)
}

// DefaultTierPriority returns every tier from hot to frozen.
func DefaultTierPriority() []Tier {
	return []Tier{TierHot, TierWarm, TierCool, TierCold, TierFrozen}
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid tier %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
