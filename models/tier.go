package models

import (
	"fmt"
	"strings"
)

// Tier is the complexity classification of a case. Higher is more complex.
type Tier int

const (
	TierUnknown        Tier = 0
	TierAdministrative Tier = 1
	TierStandard       Tier = 2
	TierComplex        Tier = 3
)

// Tiers lists the valid tiers in ascending order
var Tiers = []Tier{TierAdministrative, TierStandard, TierComplex}

// IsValid reports whether t is one of the three ordered tiers
func (t Tier) IsValid() bool {
	return t >= TierAdministrative && t <= TierComplex
}

func (t Tier) String() string {
	switch t {
	case TierAdministrative:
		return "administrative"
	case TierStandard:
		return "standard"
	case TierComplex:
		return "complex"
	default:
		return "unknown"
	}
}

// ParseTier accepts a tier name or its number
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "administrative", "1", "tier1":
		return TierAdministrative, nil
	case "standard", "2", "tier2":
		return TierStandard, nil
	case "complex", "3", "tier3":
		return TierComplex, nil
	}
	return TierUnknown, fmt.Errorf("unknown tier: %q", s)
}

// UnmarshalText lets tiers be decoded from names in JSON and YAML
func (t *Tier) UnmarshalText(text []byte) error {
	if s := string(text); s == "" || s == "unknown" {
		*t = TierUnknown
		return nil
	}
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalText encodes tiers by name
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}
