package oauth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/inboxpilot/provisioner/internal/domain"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// DefaultTokenLifetime applies when the token response omits expires_in.
const DefaultTokenLifetime = 3600 * time.Second

// GoogleScopes is the fixed scope set requested on every consent.
var GoogleScopes = []string{
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/gmail.compose",
	"https://www.googleapis.com/auth/gmail.readonly",
	"openid",
	"email",
	"profile",
}

type BrokerConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// AuthURL and TokenURL override the Google endpoints when set.
	AuthURL  string
	TokenURL string

	Scopes     []string
	HTTPClient *http.Client
}

// Broker builds consent URLs and exchanges authorization codes.
type Broker struct {
	config     *oauth2.Config
	httpClient *http.Client
	now        func() time.Time
}

func NewBroker(cfg BrokerConfig) *Broker {
	endpoint := google.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = GoogleScopes
	}

	return &Broker{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		httpClient: cfg.HTTPClient,
		now:        time.Now,
	}
}

// AuthCodeURL requests offline access and forces the consent screen so the
// provider issues a refresh token on every grant.
func (b *Broker) AuthCodeURL(state string) string {
	return b.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

func (b *Broker) Exchange(ctx context.Context, code string) (domain.TokenBundle, error) {
	if code == "" {
		return domain.TokenBundle{}, fmt.Errorf("%w: missing authorization code", domain.ErrValidation)
	}

	if b.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
	}

	tok, err := b.config.Exchange(ctx, code)
	if err != nil {
		return domain.TokenBundle{}, fmt.Errorf("%w: exchange authorization code: %w", domain.ErrUpstreamOAuth, err)
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = b.now().Add(DefaultTokenLifetime)
	}

	scope, _ := tok.Extra("scope").(string)

	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return domain.TokenBundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scope:        scope,
		TokenType:    tokenType,
		Expiry:       expiry,
	}, nil
}
