package provisioning

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/inboxpilot/provisioner/internal/credentials"
	"github.com/inboxpilot/provisioner/internal/domain"
	"github.com/inboxpilot/provisioner/internal/oauth"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const stateAttempts = 3

type TemplateCatalog interface {
	Get(id string) (domain.WorkflowTemplate, error)
	List() []domain.WorkflowTemplate
}

type OAuthBroker interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (domain.TokenBundle, error)
}

type CredentialIssuer interface {
	Issue(ctx context.Context, p credentials.IssueParams) (domain.CredentialBindings, error)
}

type MailboxProfiler interface {
	MailboxAddress(ctx context.Context, tokens domain.IntegrationTokens) (string, error)
}

type OrchestratorDependencies struct {
	Catalog TemplateCatalog
	Store   domain.StateStore
	Broker  OAuthBroker
	Issuer  CredentialIssuer
	Engine  domain.WorkflowEngine

	// Profiler is optional. When set, the mailbox address is recorded on the
	// token row.
	Profiler MailboxProfiler

	// FrontendURL is where Callback sends the browser, e.g.
	// http://localhost:3000/dashboard.
	FrontendURL string

	// CallTimeout bounds every store and OAuth call. Zero disables it.
	CallTimeout time.Duration

	GenerateState oauth.StateGenerator
	Now           func() time.Time
	NewID         func() string
}

// Orchestrator drives consent, credential issuance, materialization and
// workflow activation for one user and template at a time. It holds no
// per-request state.
type Orchestrator struct {
	catalog       TemplateCatalog
	store         domain.StateStore
	broker        OAuthBroker
	issuer        CredentialIssuer
	engine        domain.WorkflowEngine
	profiler      MailboxProfiler
	frontendURL   string
	callTimeout   time.Duration
	generateState oauth.StateGenerator
	now           func() time.Time
	newID         func() string
}

func NewOrchestrator(deps OrchestratorDependencies) *Orchestrator {
	generateState := deps.GenerateState
	if generateState == nil {
		generateState = oauth.GenerateState
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	newID := deps.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	return &Orchestrator{
		catalog:       deps.Catalog,
		store:         deps.Store,
		broker:        deps.Broker,
		issuer:        deps.Issuer,
		engine:        deps.Engine,
		profiler:      deps.Profiler,
		frontendURL:   deps.FrontendURL,
		callTimeout:   deps.CallTimeout,
		generateState: generateState,
		now:           now,
		newID:         newID,
	}
}

// InstallResult is either a consent request or a provisioned workflow.
type InstallResult struct {
	NeedsAuth  bool   `json:"needsAuth,omitempty"`
	AuthURL    string `json:"authUrl,omitempty"`
	State      string `json:"state,omitempty"`
	TemplateID string `json:"templateId,omitempty"`
	Activated  bool   `json:"activated,omitempty"`
	WorkflowID string `json:"workflowId,omitempty"`
}

type ProvisionResult struct {
	Activated  bool
	WorkflowID string
}

type CallbackParams struct {
	Code  string
	State string
	// Error is the provider's error code when the user declined consent.
	Error string
}

type CallbackResult struct {
	TemplateID string
	WorkflowID string
}

// Install provisions immediately when the user already has mailbox tokens,
// otherwise it persists a fresh OAuth state and returns the consent URL.
func (o *Orchestrator) Install(ctx context.Context, userID, templateID string) (InstallResult, error) {
	if userID == "" {
		return InstallResult{}, fmt.Errorf("%w: missing caller identity", domain.ErrAuth)
	}

	if templateID == "" {
		return InstallResult{}, fmt.Errorf("%w: templateId is required", domain.ErrValidation)
	}

	tpl, err := o.catalog.Get(templateID)
	if err != nil {
		return InstallResult{}, err
	}

	tokens, err := o.latestTokens(ctx, userID)
	if errors.Is(err, domain.ErrIntegrationTokensNotFound) {
		return o.startConsent(ctx, userID, templateID)
	}
	if err != nil {
		return InstallResult{}, err
	}

	log.Info().
		Str("user_id", userID).
		Str("template_id", templateID).
		Msg("Existing mailbox tokens found, provisioning without consent")

	result, err := o.Provision(ctx, userID, tpl, tokens)
	if err != nil {
		return InstallResult{}, err
	}

	return InstallResult{
		Activated:  result.Activated,
		WorkflowID: result.WorkflowID,
	}, nil
}

func (o *Orchestrator) startConsent(ctx context.Context, userID, templateID string) (InstallResult, error) {
	for attempt := 0; attempt < stateAttempts; attempt++ {
		state, err := o.generateState()
		if err != nil {
			return InstallResult{}, fmt.Errorf("failed to generate oauth state: %w", err)
		}

		err = o.withTimeout(ctx, func(ctx context.Context) error {
			return o.store.CreateOAuthState(ctx, domain.OAuthState{
				State:      state,
				UserID:     userID,
				TemplateID: templateID,
				CreatedAt:  o.now().UTC(),
			})
		})
		if errors.Is(err, domain.ErrOAuthStateExists) {
			log.Warn().Str("user_id", userID).Msg("Generated oauth state collided, retrying")
			continue
		}
		if err != nil {
			return InstallResult{}, storeError("create oauth state", err)
		}

		log.Info().
			Str("user_id", userID).
			Str("template_id", templateID).
			Msg("Consent required, oauth state created")

		return InstallResult{
			NeedsAuth:  true,
			AuthURL:    o.broker.AuthCodeURL(state),
			State:      state,
			TemplateID: templateID,
		}, nil
	}

	return InstallResult{}, fmt.Errorf("%w: could not allocate a unique oauth state", domain.ErrUpstreamStore)
}

// CompleteConsent consumes the state before any other side effect, so a
// replayed or concurrent callback for the same state never reaches the token
// exchange.
func (o *Orchestrator) CompleteConsent(ctx context.Context, p CallbackParams) (CallbackResult, error) {
	if p.State == "" {
		return CallbackResult{}, fmt.Errorf("%w: missing state", domain.ErrInvalidState)
	}

	var row domain.OAuthState
	err := o.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		row, err = o.store.ConsumeOAuthState(ctx, p.State)
		return err
	})
	if errors.Is(err, domain.ErrOAuthStateNotFound) {
		return CallbackResult{}, fmt.Errorf("%w: unknown or already used state", domain.ErrInvalidState)
	}
	if err != nil {
		return CallbackResult{}, storeError("consume oauth state", err)
	}

	logger := log.With().
		Str("user_id", row.UserID).
		Str("template_id", row.TemplateID).
		Logger()

	if p.Error != "" {
		return CallbackResult{}, fmt.Errorf("%w: consent denied: %s", domain.ErrUpstreamOAuth, p.Error)
	}

	var bundle domain.TokenBundle
	err = o.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		bundle, err = o.broker.Exchange(ctx, p.Code)
		return err
	})
	if err != nil {
		return CallbackResult{}, err
	}

	tokens := bundle.ToIntegrationTokens(row.UserID, domain.OAuthProviderGoogle)
	tokens.Email = o.mailboxAddress(ctx, tokens)

	err = o.withTimeout(ctx, func(ctx context.Context) error {
		return o.store.UpsertIntegrationTokens(ctx, tokens)
	})
	if err != nil {
		return CallbackResult{}, storeError("upsert integration tokens", err)
	}

	logger.Info().Msg("Stored mailbox tokens")

	latest, err := o.latestTokens(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrIntegrationTokensNotFound) {
			return CallbackResult{}, storeError("read back integration tokens", err)
		}
		return CallbackResult{}, err
	}

	tpl, err := o.catalog.Get(row.TemplateID)
	if err != nil {
		return CallbackResult{}, err
	}

	result, err := o.Provision(ctx, row.UserID, tpl, latest)
	if err != nil {
		return CallbackResult{}, err
	}

	return CallbackResult{
		TemplateID: row.TemplateID,
		WorkflowID: result.WorkflowID,
	}, nil
}

// Callback completes the consent round-trip and returns the frontend URL to
// redirect to. It never fails: errors and panics become an oauth_error
// redirect.
func (o *Orchestrator) Callback(ctx context.Context, p CallbackParams) (redirectURL string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered panic in oauth callback")
			redirectURL = o.redirectURL(url.Values{"oauth_error": {string(domain.ErrorKindInternal)}})
		}
	}()

	result, err := o.CompleteConsent(ctx, p)
	if err != nil {
		kind := domain.KindOf(err)

		log.Error().
			Err(err).
			Str("kind", string(kind)).
			Msg("OAuth callback failed")

		return o.redirectURL(url.Values{"oauth_error": {string(kind)}})
	}

	return o.redirectURL(url.Values{
		"installed":  {result.TemplateID},
		"workflowId": {result.WorkflowID},
	})
}

func (o *Orchestrator) redirectURL(query url.Values) string {
	target, err := url.Parse(o.frontendURL)
	if err != nil {
		return o.frontendURL + "?" + query.Encode()
	}

	merged := target.Query()
	for key, values := range query {
		merged[key] = values
	}
	target.RawQuery = merged.Encode()

	return target.String()
}

func (o *Orchestrator) mailboxAddress(ctx context.Context, tokens domain.IntegrationTokens) string {
	if o.profiler == nil {
		return ""
	}

	var email string
	err := o.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		email, err = o.profiler.MailboxAddress(ctx, tokens)
		return err
	})
	if err != nil {
		log.Warn().Err(err).Str("user_id", tokens.UserID).Msg("Failed to look up mailbox address")
		return ""
	}

	return email
}

func (o *Orchestrator) latestTokens(ctx context.Context, userID string) (domain.IntegrationTokens, error) {
	var tokens domain.IntegrationTokens
	err := o.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		tokens, err = o.store.GetLatestIntegrationTokens(ctx, userID, domain.OAuthProviderGoogle)
		return err
	})
	if errors.Is(err, domain.ErrIntegrationTokensNotFound) {
		return domain.IntegrationTokens{}, err
	}
	if err != nil {
		return domain.IntegrationTokens{}, storeError("get integration tokens", err)
	}

	return tokens, nil
}

func (o *Orchestrator) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	if o.callTimeout <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	return fn(ctx)
}

func storeError(operation string, err error) error {
	if errors.Is(err, domain.ErrUpstreamStore) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrUpstreamStore, operation, err)
}

func engineError(operation string, err error) error {
	if errors.Is(err, domain.ErrUpstreamEngine) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrUpstreamEngine, operation, err)
}
