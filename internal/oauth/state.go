package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// StateBytes is the entropy of a generated state token (256 bits).
const StateBytes = 32

// StateGenerator produces URL-safe, single-use OAuth state tokens.
type StateGenerator func() (string, error)

// GenerateState returns a base64url encoded random token.
func GenerateState() (string, error) {
	buf := make([]byte, StateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}
