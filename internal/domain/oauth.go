package domain

import "time"

type OAuthProvider string

const (
	OAuthProviderGoogle OAuthProvider = "google"
)

// OAuthState is a single-use consent correlation token. It binds a consent
// round-trip to the user and template that started it.
type OAuthState struct {
	State      string
	UserID     string
	TemplateID string
	CreatedAt  time.Time
}

// IntegrationTokens is the provider token bundle stored per (user, provider).
// Writes overwrite every field.
type IntegrationTokens struct {
	UserID       string
	Provider     OAuthProvider
	AccessToken  string
	RefreshToken string
	Scope        string
	Expiry       time.Time
	Email        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TokenBundle is the result of an authorization code exchange.
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	TokenType    string
	Expiry       time.Time
}

func (b TokenBundle) ToIntegrationTokens(userID string, provider OAuthProvider) IntegrationTokens {
	return IntegrationTokens{
		UserID:       userID,
		Provider:     provider,
		AccessToken:  b.AccessToken,
		RefreshToken: b.RefreshToken,
		Scope:        b.Scope,
		Expiry:       b.Expiry,
	}
}
