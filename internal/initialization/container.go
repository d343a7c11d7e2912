package initialization

import (
	"context"
	"fmt"
	"net/http"

	"github.com/inboxpilot/provisioner/internal/auth"
	"github.com/inboxpilot/provisioner/internal/config"
	"github.com/inboxpilot/provisioner/internal/controllers"
	"github.com/inboxpilot/provisioner/internal/credentials"
	"github.com/inboxpilot/provisioner/internal/domain"
	"github.com/inboxpilot/provisioner/internal/managers"
	"github.com/inboxpilot/provisioner/internal/oauth"
	"github.com/inboxpilot/provisioner/internal/providers"
	"github.com/inboxpilot/provisioner/internal/provisioning"
	"github.com/inboxpilot/provisioner/internal/server"
	"github.com/inboxpilot/provisioner/internal/templates"
	"github.com/inboxpilot/provisioner/internal/version"
	"github.com/inboxpilot/provisioner/pkg/clients/n8n"

	"github.com/rs/zerolog/log"
)

type Container struct {
	config *config.Config
}

func NewContainer(cfg *config.Config) *Container {
	return &Container{config: cfg}
}

func (c *Container) Config() *config.Config {
	return c.config
}

type Dependencies struct {
	Catalog                *templates.Catalog
	Store                  domain.StateStore
	Engine                 managers.WorkflowEngine
	Orchestrator           *provisioning.Orchestrator
	ProvisioningController *controllers.ProvisioningController
	IdentityVerifier       auth.IdentityVerifier
	HealthChecks           map[string]server.HealthChecker

	closers []func(ctx context.Context) error
}

// Close releases store connections in reverse construction order.
func (d *Dependencies) Close(ctx context.Context) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to close dependency")
		}
	}
}

func (c *Container) LoadCatalog() (*templates.Catalog, error) {
	catalog, err := templates.LoadCatalogFromPath(c.config.TemplatesManifest)
	if err != nil {
		return nil, fmt.Errorf("failed to load template catalog: %w", err)
	}

	log.Info().Int("templates", len(catalog.List())).Msg("Template catalog loaded")

	return catalog, nil
}

func (c *Container) BuildEngine() managers.WorkflowEngine {
	client := n8n.NewClient(
		n8n.WithBaseURL(c.config.N8NBaseURL),
		n8n.WithAPIKey(c.config.N8NAPIKey),
		n8n.WithTimeout(c.config.N8NTimeout),
		n8n.WithUserAgent("inboxpilot-provisioner/"+version.GetVersion()),
	)

	return managers.NewWorkflowEngine(managers.WorkflowEngineDependencies{
		Client:      client,
		CallTimeout: c.config.CallTimeout,
	})
}

func (c *Container) ProviderVerifiers() map[domain.Capability]providers.KeyVerifier {
	return providers.NewVerifiers(c.config.ProviderAPIKeys(), providers.BaseURLs{})
}

func (c *Container) BuildIdentityVerifier() (auth.IdentityVerifier, error) {
	claims := auth.ClaimExpectations{
		Issuer:   c.config.AuthIssuer,
		Audience: c.config.AuthAudience,
	}

	if c.config.AuthJWKSURL != "" {
		log.Info().Str("jwks_url", c.config.AuthJWKSURL).Msg("Verifying caller identity against JWKS")

		return auth.NewJWKSVerifier(auth.JWKSVerifierConfig{
			URL:    c.config.AuthJWKSURL,
			Claims: claims,
		}), nil
	}

	log.Info().Msg("Verifying caller identity with shared secret")

	return auth.NewSecretVerifier(c.config.AuthJWTSecret, claims)
}

func (c *Container) BuildDependencies(ctx context.Context) (*Dependencies, error) {
	log.Info().Msg("Building provisioner dependencies")

	deps := &Dependencies{
		HealthChecks: make(map[string]server.HealthChecker),
	}

	catalog, err := c.LoadCatalog()
	if err != nil {
		return nil, err
	}
	deps.Catalog = catalog

	if err := c.buildStore(ctx, deps); err != nil {
		deps.Close(ctx)
		return nil, err
	}

	identity, err := c.BuildIdentityVerifier()
	if err != nil {
		deps.Close(ctx)
		return nil, fmt.Errorf("failed to build identity verifier: %w", err)
	}
	deps.IdentityVerifier = identity

	deps.Engine = c.BuildEngine()
	deps.HealthChecks["n8n"] = deps.Engine

	apiKeys := c.config.ProviderAPIKeys()
	if c.config.VerifyProviderKeys {
		apiKeys = providers.FilterVerifiedKeys(ctx, apiKeys, c.ProviderVerifiers())
	}

	for _, capability := range providers.SortedCapabilities(apiKeys) {
		log.Info().Str("capability", string(capability)).Msg("AI provider key configured")
	}

	issuer := credentials.NewIssuer(credentials.IssuerDependencies{
		Engine: deps.Engine,
		OAuthClient: credentials.OAuthClient{
			ClientID:     c.config.GoogleClientID,
			ClientSecret: c.config.GoogleClientSecret,
		},
		APIKeys: apiKeys,
	})

	broker := oauth.NewBroker(oauth.BrokerConfig{
		ClientID:     c.config.GoogleClientID,
		ClientSecret: c.config.GoogleClientSecret,
		RedirectURL:  c.config.GoogleRedirectURI,
		AuthURL:      c.config.GoogleAuthURL,
		TokenURL:     c.config.GoogleTokenURL,
		HTTPClient:   &http.Client{Timeout: c.config.CallTimeout},
	})

	orchestratorDeps := provisioning.OrchestratorDependencies{
		Catalog:     catalog,
		Store:       deps.Store,
		Broker:      broker,
		Issuer:      issuer,
		Engine:      deps.Engine,
		FrontendURL: c.config.FrontendURL(),
		CallTimeout: c.config.CallTimeout,
	}

	if c.config.GoogleVerifyMailbox {
		orchestratorDeps.Profiler = oauth.NewGmailProfiler()
	}

	deps.Orchestrator = provisioning.NewOrchestrator(orchestratorDeps)

	deps.ProvisioningController = controllers.NewProvisioningController(controllers.ProvisioningControllerDependencies{
		Service: deps.Orchestrator,
	})

	return deps, nil
}
