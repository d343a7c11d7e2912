package stores

import (
	"context"
	"fmt"

	"github.com/inboxpilot/provisioner/internal/domain"
)

type Sealer interface {
	Seal(plaintext, associatedData string) (string, error)
	Open(value, associatedData string) (string, error)
}

// SealedStore encrypts access and refresh tokens before they reach the
// wrapped store. The ciphertext is bound to the (user, provider) pair.
type SealedStore struct {
	domain.StateStore
	sealer Sealer
}

func NewSealedStore(store domain.StateStore, sealer Sealer) *SealedStore {
	return &SealedStore{
		StateStore: store,
		sealer:     sealer,
	}
}

func associatedData(userID string, provider domain.OAuthProvider) string {
	return userID + "|" + string(provider)
}

func (s *SealedStore) UpsertIntegrationTokens(ctx context.Context, tokens domain.IntegrationTokens) error {
	aad := associatedData(tokens.UserID, tokens.Provider)

	access, err := s.sealer.Seal(tokens.AccessToken, aad)
	if err != nil {
		return fmt.Errorf("failed to seal access token: %w", err)
	}

	refresh, err := s.sealer.Seal(tokens.RefreshToken, aad)
	if err != nil {
		return fmt.Errorf("failed to seal refresh token: %w", err)
	}

	tokens.AccessToken = access
	tokens.RefreshToken = refresh

	return s.StateStore.UpsertIntegrationTokens(ctx, tokens)
}

func (s *SealedStore) GetLatestIntegrationTokens(ctx context.Context, userID string, provider domain.OAuthProvider) (domain.IntegrationTokens, error) {
	tokens, err := s.StateStore.GetLatestIntegrationTokens(ctx, userID, provider)
	if err != nil {
		return domain.IntegrationTokens{}, err
	}

	aad := associatedData(tokens.UserID, tokens.Provider)

	if tokens.AccessToken, err = s.sealer.Open(tokens.AccessToken, aad); err != nil {
		return domain.IntegrationTokens{}, fmt.Errorf("failed to open access token: %w", err)
	}

	if tokens.RefreshToken, err = s.sealer.Open(tokens.RefreshToken, aad); err != nil {
		return domain.IntegrationTokens{}, fmt.Errorf("failed to open refresh token: %w", err)
	}

	return tokens, nil
}
