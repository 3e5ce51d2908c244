package sso

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrategySet_CoversAllProviderTypes(t *testing.T) {
	set := NewStrategySet(StrategyOptions{EntityID: "urn:test:sp"})

	for _, providerType := range []ProviderType{ProviderTypeSAML, ProviderTypeOAuth2, ProviderTypeOIDC} {
		strategy, err := set.For(providerType)
		require.NoError(t, err)
		assert.Equal(t, providerType, strategy.Type())
	}
}

func TestStrategySet_UnknownType(t *testing.T) {
	set := NewStrategySet(StrategyOptions{EntityID: "urn:test:sp"})

	_, err := set.For(ProviderType("LDAP"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestProviderType_Valid(t *testing.T) {
	assert.True(t, ProviderTypeSAML.Valid())
	assert.True(t, ProviderTypeOAuth2.Valid())
	assert.True(t, ProviderTypeOIDC.Valid())
	assert.False(t, ProviderType("saml").Valid())
	assert.False(t, ProviderType("").Valid())
}

func TestRandomHex(t *testing.T) {
	first, err := randomHex(32)
	require.NoError(t, err)
	assert.Len(t, first, 64)

	second, err := randomHex(32)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}
