package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSealer(t *testing.T) *TokenSealer {
	t.Helper()

	key, err := GenerateKey()
	require.NoError(t, err)

	sealer, err := NewTokenSealer(key)
	require.NoError(t, err)
	return sealer
}

func TestTokenSealer_SealOpen(t *testing.T) {
	sealer := newTestSealer(t)

	sealed, err := sealer.Seal("ya29.access-token", "u1|google")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, sealedPrefix))
	assert.NotContains(t, sealed, "access-token")

	again, err := sealer.Seal("ya29.access-token", "u1|google")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per seal")

	opened, err := sealer.Open(sealed, "u1|google")
	require.NoError(t, err)
	assert.Equal(t, "ya29.access-token", opened)
}

func TestTokenSealer_WrongAssociatedData(t *testing.T) {
	sealer := newTestSealer(t)

	sealed, err := sealer.Seal("secret", "u1|google")
	require.NoError(t, err)

	_, err = sealer.Open(sealed, "u2|google")
	assert.Error(t, err)
}

func TestTokenSealer_PassThrough(t *testing.T) {
	sealer := newTestSealer(t)

	sealed, err := sealer.Seal("", "u1|google")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	opened, err := sealer.Open("legacy-plaintext", "u1|google")
	require.NoError(t, err)
	assert.Equal(t, "legacy-plaintext", opened)

	_, err = sealer.Open(sealedPrefix+"AAAA", "u1|google")
	assert.ErrorIs(t, err, ErrMalformedSealedValue)
}

func TestNewTokenSealer_InvalidKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"not base64", "%%%"},
		{"too short", "c2hvcnQ="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTokenSealer(tt.key)
			assert.Error(t, err)
		})
	}
}
