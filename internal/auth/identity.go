package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/inboxpilot/provisioner/internal/domain"
)

// IdentityVerifier checks a caller's bearer token signature and returns the
// subject claim as the user id.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

type ClaimExpectations struct {
	Issuer   string
	Audience string
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", fmt.Errorf("%w: missing bearer token", domain.ErrAuth)
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: missing bearer token", domain.ErrAuth)
	}

	return token, nil
}

func requireSubject(subject string, ok bool) (string, error) {
	if !ok || subject == "" {
		return "", fmt.Errorf("%w: token has no subject", domain.ErrAuth)
	}
	return subject, nil
}
