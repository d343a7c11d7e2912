package credentials

import (
	"context"
	"fmt"
	"sync"

	"github.com/inboxpilot/provisioner/internal/domain"

	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// NameGenerator derives a credential name that is never reused.
type NameGenerator interface {
	Generate(baseName, userID string) string
}

type xidNameGenerator struct{}

func NewNameGenerator() NameGenerator {
	return xidNameGenerator{}
}

// Generate appends an xid, which sorts by creation time.
func (xidNameGenerator) Generate(baseName, userID string) string {
	return fmt.Sprintf("%s-%s-%s", baseName, userID, xid.New().String())
}

type IssuerDependencies struct {
	Engine        domain.WorkflowEngine
	OAuthClient   OAuthClient
	APIKeys       map[domain.Capability]string
	NameGenerator NameGenerator
}

// Issuer creates fresh engine credentials for every provisioning run. It never
// updates an existing credential, so repeated installs accumulate objects in
// the engine.
type Issuer struct {
	engine      domain.WorkflowEngine
	oauthClient OAuthClient
	apiKeys     map[domain.Capability]string
	names       NameGenerator
}

func NewIssuer(deps IssuerDependencies) *Issuer {
	names := deps.NameGenerator
	if names == nil {
		names = NewNameGenerator()
	}

	apiKeys := make(map[domain.Capability]string, len(deps.APIKeys))
	for capability, key := range deps.APIKeys {
		apiKeys[capability] = key
	}

	return &Issuer{
		engine:      deps.Engine,
		oauthClient: deps.OAuthClient,
		apiKeys:     apiKeys,
		names:       names,
	}
}

type IssueParams struct {
	UserID       string
	Capabilities []domain.Capability
	Tokens       domain.IntegrationTokens
}

// Issue creates one credential per capability. Every request is built before
// any engine call starts. AI capabilities without a configured API key are
// skipped and left out of the result; the first failed creation cancels the
// rest.
func (i *Issuer) Issue(ctx context.Context, p IssueParams) (domain.CredentialBindings, error) {
	var (
		mu       sync.Mutex
		bindings = make(domain.CredentialBindings, len(p.Capabilities))
	)

	requests := make(map[domain.Capability]domain.CreateCredentialRequest, len(p.Capabilities))

	for _, capability := range p.Capabilities {
		req, ok, err := i.buildRequest(capability, p)
		if err != nil {
			return nil, err
		}

		if !ok {
			log.Warn().
				Str("user_id", p.UserID).
				Str("capability", string(capability)).
				Msg("No API key configured, leaving template placeholder in place")
			continue
		}

		requests[capability] = req
	}

	g, gctx := errgroup.WithContext(ctx)

	for capability, req := range requests {
		g.Go(func() error {
			ref, err := i.engine.CreateCredential(gctx, req)
			if err != nil {
				return fmt.Errorf("%w: create %s credential: %w", domain.ErrUpstreamEngine, capability, err)
			}

			log.Info().
				Str("user_id", p.UserID).
				Str("capability", string(capability)).
				Str("credential_id", ref.ID).
				Str("credential_name", ref.Name).
				Msg("Issued credential")

			mu.Lock()
			bindings[capability] = ref
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return bindings, nil
}

func (i *Issuer) buildRequest(capability domain.Capability, p IssueParams) (domain.CreateCredentialRequest, bool, error) {
	k, ok := kinds[capability]
	if !ok {
		return domain.CreateCredentialRequest{}, false, fmt.Errorf("unsupported capability %q", capability)
	}

	var data map[string]any

	if capability == domain.CapabilityMailbox {
		if p.Tokens.AccessToken == "" {
			return domain.CreateCredentialRequest{}, false, fmt.Errorf("%w: mailbox tokens missing access token", domain.ErrValidation)
		}
		data = mailboxPayload(i.oauthClient, p.Tokens)
	} else {
		apiKey := i.apiKeys[capability]
		if apiKey == "" {
			return domain.CreateCredentialRequest{}, false, nil
		}

		var err error
		data, err = apiKeyPayload(capability, apiKey)
		if err != nil {
			return domain.CreateCredentialRequest{}, false, err
		}
	}

	return domain.CreateCredentialRequest{
		Name: i.names.Generate(k.BaseName, p.UserID),
		Type: k.Type,
		Data: data,
	}, true, nil
}
