package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/inboxpilot/provisioner/internal/domain"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// SecretVerifier validates HS256 tokens signed with a shared secret.
type SecretVerifier struct {
	secret []byte
	parser *gojwt.Parser
}

func NewSecretVerifier(secret string, claims ClaimExpectations) (*SecretVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret cannot be empty")
	}

	opts := []gojwt.ParserOption{
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithExpirationRequired(),
	}

	if claims.Issuer != "" {
		opts = append(opts, gojwt.WithIssuer(claims.Issuer))
	}

	if claims.Audience != "" {
		opts = append(opts, gojwt.WithAudience(claims.Audience))
	}

	return &SecretVerifier{
		secret: []byte(secret),
		parser: gojwt.NewParser(opts...),
	}, nil
}

func (v *SecretVerifier) Verify(ctx context.Context, token string) (string, error) {
	claims := &gojwt.RegisteredClaims{}

	_, err := v.parser.ParseWithClaims(token, claims, func(t *gojwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrAuth, err)
	}

	return requireSubject(claims.Subject, true)
}
