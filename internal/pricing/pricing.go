// Package pricing holds the subscription tier and token package catalogues.
//
// The catalogue is the single lookup for package → token amount and
// tier → validity window; callers never hardcode amounts.
package pricing

import (
	"errors"
	"time"
)

var (
	ErrUnknownPackage = errors.New("pricing: unknown token package")
	ErrUnknownTier    = errors.New("pricing: unknown tier")
)

// Tier defines a subscription tier.
type Tier struct {
	ID         string
	Name       string
	Duration   time.Duration // 0 = open-ended (no endDate)
	PriceMinor int64         // price in minor currency units
	Currency   string
}

// TokenPackage defines a purchasable token bundle.
type TokenPackage struct {
	ID         string
	Tokens     string // fixed-point token amount credited on purchase
	PriceMinor int64
	Currency   string
}

// Tiers is the subscription tier catalogue.
var Tiers = map[string]Tier{
	"trial": {
		ID:       "trial",
		Name:     "Trial",
		Duration: 14 * 24 * time.Hour,
		Currency: "KES",
	},
	"monthly": {
		ID:         "monthly",
		Name:       "Monthly",
		Duration:   30 * 24 * time.Hour,
		PriceMinor: 150_000,
		Currency:   "KES",
	},
	"annual": {
		ID:         "annual",
		Name:       "Annual",
		Duration:   365 * 24 * time.Hour,
		PriceMinor: 1_500_000,
		Currency:   "KES",
	},
	"enterprise": {
		ID:       "enterprise",
		Name:     "Enterprise",
		Duration: 0, // negotiated, no automatic expiry
		Currency: "KES",
	},
}

// Packages is the token package catalogue.
var Packages = map[string]TokenPackage{
	"starter": {
		ID:         "starter",
		Tokens:     "50.00",
		PriceMinor: 50_000,
		Currency:   "KES",
	},
	"standard": {
		ID:         "standard",
		Tokens:     "200.00",
		PriceMinor: 180_000,
		Currency:   "KES",
	},
	"bulk": {
		ID:         "bulk",
		Tokens:     "1000.00",
		PriceMinor: 800_000,
		Currency:   "KES",
	},
}

// TierByID looks up a tier. Unknown tiers are a rejected operation, never
// a silent default.
func TierByID(id string) (Tier, error) {
	t, ok := Tiers[id]
	if !ok {
		return Tier{}, ErrUnknownTier
	}
	return t, nil
}

// PackageTokens returns the token amount a package credits.
func PackageTokens(id string) (string, error) {
	p, ok := Packages[id]
	if !ok {
		return "", ErrUnknownPackage
	}
	return p.Tokens, nil
}

// ValidTier reports whether the tier id is in the catalogue.
func ValidTier(id string) bool {
	_, ok := Tiers[id]
	return ok
}
