package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/inboxpilot/provisioner/internal/domain"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/rs/zerolog/log"
)

const (
	DefaultJWKSRefreshInterval = 15 * time.Minute
	jwksMinRefetchInterval     = 30 * time.Second
	jwksAcceptableSkew         = 30 * time.Second
)

type JWKSVerifierConfig struct {
	URL             string
	Claims          ClaimExpectations
	RefreshInterval time.Duration
}

// JWKSVerifier validates asymmetric tokens against a remote key set. The set
// is refetched on a fixed interval and once when a token fails verification,
// rate limited so a flood of bad tokens cannot hammer the issuer.
type JWKSVerifier struct {
	url             string
	claims          ClaimExpectations
	refreshInterval time.Duration

	mu          sync.Mutex
	set         jwk.Set
	fetchedAt   time.Time
	lastAttempt time.Time
	now         func() time.Time
}

func NewJWKSVerifier(cfg JWKSVerifierConfig) *JWKSVerifier {
	refresh := cfg.RefreshInterval
	if refresh <= 0 {
		refresh = DefaultJWKSRefreshInterval
	}

	return &JWKSVerifier{
		url:             cfg.URL,
		claims:          cfg.Claims,
		refreshInterval: refresh,
		now:             time.Now,
	}
}

func (v *JWKSVerifier) Verify(ctx context.Context, token string) (string, error) {
	set, err := v.keySet(ctx, false)
	if err != nil {
		return "", err
	}

	parsed, err := v.parse(token, set)
	if err != nil {
		refreshed, refreshErr := v.keySet(ctx, true)
		if refreshErr != nil || refreshed == set {
			return "", fmt.Errorf("%w: %w", domain.ErrAuth, err)
		}

		parsed, err = v.parse(token, refreshed)
		if err != nil {
			return "", fmt.Errorf("%w: %w", domain.ErrAuth, err)
		}
	}

	return requireSubject(parsed.Subject())
}

func (v *JWKSVerifier) parse(token string, set jwk.Set) (jwt.Token, error) {
	opts := []jwt.ParseOption{
		jwt.WithKeySet(set),
		jwt.WithAcceptableSkew(jwksAcceptableSkew),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
	}

	if v.claims.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.claims.Issuer))
	}

	if v.claims.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.claims.Audience))
	}

	return jwt.Parse([]byte(token), opts...)
}

func (v *JWKSVerifier) keySet(ctx context.Context, force bool) (jwk.Set, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()

	stale := v.set == nil || now.Sub(v.fetchedAt) >= v.refreshInterval
	if !stale && !force {
		return v.set, nil
	}

	if v.set != nil && now.Sub(v.lastAttempt) < jwksMinRefetchInterval {
		return v.set, nil
	}

	v.lastAttempt = now

	set, err := jwk.Fetch(ctx, v.url)
	if err != nil {
		if v.set != nil {
			log.Warn().Err(err).Str("url", v.url).Msg("Failed to refresh JWKS, keeping cached keys")
			return v.set, nil
		}
		return nil, fmt.Errorf("%w: failed to fetch JWKS: %w", domain.ErrAuth, err)
	}

	v.set = set
	v.fetchedAt = now

	return set, nil
}
