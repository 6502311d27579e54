package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kivuli/bizsync/internal/tokens"
)

func TestTierByID(t *testing.T) {
	tier, err := TierByID("monthly")
	require.NoError(t, err)
	assert.Equal(t, "Monthly", tier.Name)
	assert.NotZero(t, tier.Duration)

	_, err = TierByID("platinum")
	assert.ErrorIs(t, err, ErrUnknownTier)
}

func TestEnterpriseTierHasNoExpiry(t *testing.T) {
	tier, err := TierByID("enterprise")
	require.NoError(t, err)
	assert.Zero(t, tier.Duration)
}

func TestPackageTokens(t *testing.T) {
	amt, err := PackageTokens("standard")
	require.NoError(t, err)
	assert.Equal(t, "200.00", amt)

	_, err = PackageTokens("mega")
	assert.ErrorIs(t, err, ErrUnknownPackage)
}

func TestPackageAmountsParse(t *testing.T) {
	// Every catalogue amount must be a valid positive fixed-point decimal.
	for id, pkg := range Packages {
		amt, ok := tokens.Parse(pkg.Tokens)
		require.True(t, ok, "package %s amount %q must parse", id, pkg.Tokens)
		assert.Positive(t, amt.Sign(), "package %s amount must be positive", id)
	}
}

func TestValidTier(t *testing.T) {
	assert.True(t, ValidTier("trial"))
	assert.False(t, ValidTier(""))
}
