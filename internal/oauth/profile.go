package oauth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/inboxpilot/provisioner/internal/domain"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailProfiler looks up the mailbox address a token grants access to.
type GmailProfiler struct {
	endpoint   string
	httpClient *http.Client
}

type GmailProfilerOption func(*GmailProfiler)

// WithGmailEndpoint points the profiler at a different API root.
func WithGmailEndpoint(endpoint string) GmailProfilerOption {
	return func(p *GmailProfiler) {
		p.endpoint = endpoint
	}
}

// WithGmailHTTPClient sets the base transport used under the OAuth client.
func WithGmailHTTPClient(httpClient *http.Client) GmailProfilerOption {
	return func(p *GmailProfiler) {
		p.httpClient = httpClient
	}
}

func NewGmailProfiler(opts ...GmailProfilerOption) *GmailProfiler {
	p := &GmailProfiler{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *GmailProfiler) MailboxAddress(ctx context.Context, tokens domain.IntegrationTokens) (string, error) {
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: tokens.AccessToken,
		TokenType:   "Bearer",
	}))

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if p.endpoint != "" {
		opts = append(opts, option.WithEndpoint(p.endpoint))
	}

	service, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create gmail service: %w", err)
	}

	profile, err := service.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to get gmail profile: %w", err)
	}

	return profile.EmailAddress, nil
}
