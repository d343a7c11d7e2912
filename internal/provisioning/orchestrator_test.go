package provisioning

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inboxpilot/provisioner/internal/credentials"
	"github.com/inboxpilot/provisioner/internal/domain"
	"github.com/inboxpilot/provisioner/internal/oauth"
	"github.com/inboxpilot/provisioner/internal/stores/memory"
	"github.com/inboxpilot/provisioner/internal/templates"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const frontendURL = "http://localhost:3000/dashboard"

type mockWorkflow struct {
	Name       string
	Definition domain.WorkflowDefinition
	Active     bool
}

type mockEngine struct {
	mu             sync.Mutex
	credentials    []domain.CreateCredentialRequest
	workflows      map[string]*mockWorkflow
	order          []string
	failActivate   bool
	failCreate     bool
	failCredential bool
}

func newMockEngine() *mockEngine {
	return &mockEngine{workflows: make(map[string]*mockWorkflow)}
}

func (e *mockEngine) CreateCredential(ctx context.Context, req domain.CreateCredentialRequest) (domain.CredentialRef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failCredential {
		return domain.CredentialRef{}, fmt.Errorf("%w: credential rejected", domain.ErrUpstreamEngine)
	}

	e.credentials = append(e.credentials, req)
	return domain.CredentialRef{ID: fmt.Sprintf("cred-%d", len(e.credentials)), Name: req.Name}, nil
}

func (e *mockEngine) CreateWorkflow(ctx context.Context, name string, definition domain.WorkflowDefinition) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failCreate {
		return "", errors.New("engine unavailable")
	}

	id := fmt.Sprintf("wf-%d", len(e.order)+1)
	e.workflows[id] = &mockWorkflow{Name: name, Definition: definition}
	e.order = append(e.order, id)
	return id, nil
}

func (e *mockEngine) ActivateWorkflow(ctx context.Context, workflowID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failActivate {
		return errors.New("workflow has no trigger")
	}

	workflow, ok := e.workflows[workflowID]
	if !ok {
		return fmt.Errorf("workflow %s not found", workflowID)
	}

	workflow.Active = true
	return nil
}

func (e *mockEngine) workflowCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.order)
}

func (e *mockEngine) credentialCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.credentials)
}

func (e *mockEngine) workflow(id string) (mockWorkflow, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, ok := e.workflows[id]
	if !ok {
		return mockWorkflow{}, false
	}
	return *w, true
}

type tokenEndpoint struct {
	server *httptest.Server
	calls  atomic.Int32
}

func newTokenEndpoint(t *testing.T, status int, body string) *tokenEndpoint {
	t.Helper()

	endpoint := &tokenEndpoint{}
	endpoint.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint.calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(endpoint.server.Close)

	return endpoint
}

type harness struct {
	orchestrator *Orchestrator
	store        *memory.Store
	engine       *mockEngine
	tokens       *tokenEndpoint
}

type harnessOption func(*OrchestratorDependencies)

func newHarness(t *testing.T, tokenStatus int, tokenBody string, opts ...harnessOption) *harness {
	t.Helper()

	catalog, err := templates.LoadCatalogFromPath("")
	require.NoError(t, err)

	store := memory.New()
	engine := newMockEngine()
	tokens := newTokenEndpoint(t, tokenStatus, tokenBody)

	broker := oauth.NewBroker(oauth.BrokerConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:8000/oauth/google/callback",
		AuthURL:      "https://accounts.example.com/auth",
		TokenURL:     tokens.server.URL,
	})

	issuer := credentials.NewIssuer(credentials.IssuerDependencies{
		Engine:      engine,
		OAuthClient: credentials.OAuthClient{ClientID: "client-id", ClientSecret: "client-secret"},
		APIKeys: map[domain.Capability]string{
			domain.CapabilityOpenAI: "sk-openai",
			domain.CapabilityGemini: "gm-key",
		},
	})

	deps := OrchestratorDependencies{
		Catalog:     catalog,
		Store:       store,
		Broker:      broker,
		Issuer:      issuer,
		Engine:      engine,
		FrontendURL: frontendURL,
		CallTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	return &harness{
		orchestrator: NewOrchestrator(deps),
		store:        store,
		engine:       engine,
		tokens:       tokens,
	}
}

const validTokenResponse = `{"access_token":"a","refresh_token":"b","expires_in":3600,"token_type":"Bearer","scope":"openid email"}`

func newDefaultHarness(t *testing.T, opts ...harnessOption) *harness {
	return newHarness(t, http.StatusOK, validTokenResponse, opts...)
}

func (h *harness) seedTokens(t *testing.T, userID string) {
	t.Helper()

	require.NoError(t, h.store.UpsertIntegrationTokens(context.Background(), domain.IntegrationTokens{
		UserID:       userID,
		Provider:     domain.OAuthProviderGoogle,
		AccessToken:  "existing-access",
		RefreshToken: "existing-refresh",
		Expiry:       time.Now().Add(time.Hour),
	}))
}

func redirectQuery(t *testing.T, raw string) url.Values {
	t.Helper()

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "localhost:3000", parsed.Host)
	assert.Equal(t, "/dashboard", parsed.Path)

	return parsed.Query()
}

func TestInstall_WithoutTokensRequestsConsent(t *testing.T) {
	h := newDefaultHarness(t)

	result, err := h.orchestrator.Install(context.Background(), "u1", "gmail-ai-responder")
	require.NoError(t, err)

	assert.True(t, result.NeedsAuth)
	assert.False(t, result.Activated)
	assert.Equal(t, "gmail-ai-responder", result.TemplateID)

	raw, err := base64.RawURLEncoding.DecodeString(result.State)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(raw)*8, 128)

	authURL, err := url.Parse(result.AuthURL)
	require.NoError(t, err)
	assert.Equal(t, result.State, authURL.Query().Get("state"))
	assert.Equal(t, "offline", authURL.Query().Get("access_type"))
	assert.Equal(t, "consent", authURL.Query().Get("prompt"))

	assert.Equal(t, 1, h.store.OAuthStateCount())
	assert.True(t, h.store.HasOAuthState(result.State))
	assert.Zero(t, h.engine.credentialCount())
}

func TestInstall_TwoRequestsMintDistinctStates(t *testing.T) {
	h := newDefaultHarness(t)
	ctx := context.Background()

	first, err := h.orchestrator.Install(ctx, "u1", "gmail-summary")
	require.NoError(t, err)
	second, err := h.orchestrator.Install(ctx, "u1", "gmail-summary")
	require.NoError(t, err)

	assert.NotEqual(t, first.State, second.State)
	assert.Equal(t, 2, h.store.OAuthStateCount())
	assert.True(t, h.store.HasOAuthState(first.State))
	assert.True(t, h.store.HasOAuthState(second.State))
}

func TestInstall_RetriesStateCollision(t *testing.T) {
	states := []string{"dup", "dup", "fresh"}
	var next int

	h := newDefaultHarness(t, func(deps *OrchestratorDependencies) {
		deps.GenerateState = func() (string, error) {
			s := states[next]
			next++
			return s, nil
		}
	})
	ctx := context.Background()

	first, err := h.orchestrator.Install(ctx, "u1", "gmail-summary")
	require.NoError(t, err)
	assert.Equal(t, "dup", first.State)

	second, err := h.orchestrator.Install(ctx, "u2", "gmail-summary")
	require.NoError(t, err)
	assert.Equal(t, "fresh", second.State)
}

func TestInstall_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		userID     string
		templateID string
		sentinel   error
		kind       domain.ErrorKind
	}{
		{"unknown template", "u1", "does-not-exist", domain.ErrTemplateNotFound, domain.ErrorKindValidation},
		{"empty template", "u1", "", domain.ErrValidation, domain.ErrorKindValidation},
		{"missing identity", "", "gmail-summary", domain.ErrAuth, domain.ErrorKindAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newDefaultHarness(t)

			_, err := h.orchestrator.Install(context.Background(), tt.userID, tt.templateID)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.kind, domain.KindOf(err))
			assert.Zero(t, h.store.OAuthStateCount())
		})
	}
}

func TestInstall_WithTokensProvisionsDirectly(t *testing.T) {
	h := newDefaultHarness(t)
	ctx := context.Background()
	h.seedTokens(t, "u1")

	result, err := h.orchestrator.Install(ctx, "u1", "gmail-ai-responder")
	require.NoError(t, err)

	assert.False(t, result.NeedsAuth)
	assert.True(t, result.Activated)
	assert.Equal(t, "wf-1", result.WorkflowID)
	assert.Zero(t, h.store.OAuthStateCount())
	assert.Zero(t, h.tokens.calls.Load())

	// mailbox, openai and gemini
	assert.Equal(t, 3, h.engine.credentialCount())

	workflow, ok := h.engine.workflow("wf-1")
	require.True(t, ok)
	assert.True(t, workflow.Active)
	assert.Equal(t, "gmail-ai-responder-u1", workflow.Name)

	for _, node := range workflow.Definition.Nodes {
		for slot := range node.Credentials {
			ref, ok := node.Credential(slot)
			require.True(t, ok)
			assert.NotEqual(t, "PLACEHOLDER", ref.ID, "node %q slot %q left unbound", node.Name, slot)
		}
	}

	records, err := h.orchestrator.ListWorkflows(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "wf-1", records[0].ExternalWorkflowID)
	assert.Equal(t, "gmail-ai-responder", records[0].TemplateID)
	assert.Equal(t, domain.WorkflowStatusActive, records[0].Status)
	assert.NotEmpty(t, records[0].ID)
}

func TestInstall_RepeatCreatesNewCredentialsAndWorkflow(t *testing.T) {
	h := newDefaultHarness(t)
	ctx := context.Background()
	h.seedTokens(t, "u1")

	first, err := h.orchestrator.Install(ctx, "u1", "gmail-summary")
	require.NoError(t, err)
	second, err := h.orchestrator.Install(ctx, "u1", "gmail-summary")
	require.NoError(t, err)

	assert.NotEqual(t, first.WorkflowID, second.WorkflowID)
	assert.Equal(t, 2, h.engine.workflowCount())

	records, err := h.orchestrator.ListWorkflows(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestProvision_ActivationFailureLeavesOrphan(t *testing.T) {
	h := newDefaultHarness(t)
	ctx := context.Background()
	h.seedTokens(t, "u1")
	h.engine.failActivate = true

	_, err := h.orchestrator.Install(ctx, "u1", "gmail-summary")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamEngine)

	require.Equal(t, 1, h.engine.workflowCount())
	orphan, ok := h.engine.workflow("wf-1")
	require.True(t, ok)
	assert.False(t, orphan.Active)

	records, err := h.orchestrator.ListWorkflows(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestProvision_StepFailuresAbortPipeline(t *testing.T) {
	tests := []struct {
		name          string
		setup         func(*mockEngine)
		wantWorkflows int
	}{
		{"credential issuance", func(e *mockEngine) { e.failCredential = true }, 0},
		{"workflow creation", func(e *mockEngine) { e.failCreate = true }, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newDefaultHarness(t)
			ctx := context.Background()
			h.seedTokens(t, "u1")
			tt.setup(h.engine)

			_, err := h.orchestrator.Install(ctx, "u1", "gmail-summary")
			require.Error(t, err)
			assert.Equal(t, domain.ErrorKindUpstreamEngine, domain.KindOf(err))
			assert.Equal(t, tt.wantWorkflows, h.engine.workflowCount())

			records, err := h.orchestrator.ListWorkflows(ctx, "u1")
			require.NoError(t, err)
			assert.Empty(t, records)
		})
	}
}

func TestCallback_UnknownStateIsInvalid(t *testing.T) {
	h := newDefaultHarness(t)

	_, err := h.orchestrator.CompleteConsent(context.Background(), CallbackParams{Code: "c", State: "never-issued"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	assert.Zero(t, h.store.IntegrationTokenCount())
	assert.Zero(t, h.tokens.calls.Load())

	redirect := h.orchestrator.Callback(context.Background(), CallbackParams{Code: "c", State: "never-issued"})
	q := redirectQuery(t, redirect)
	assert.Equal(t, string(domain.ErrorKindInvalidState), q.Get("oauth_error"))
	assert.Empty(t, q.Get("installed"))
}

func TestCallback_ValidStateProvisions(t *testing.T) {
	h := newDefaultHarness(t)
	ctx := context.Background()

	install, err := h.orchestrator.Install(ctx, "u1", "gmail-ai-responder")
	require.NoError(t, err)

	before := time.Now()
	redirect := h.orchestrator.Callback(ctx, CallbackParams{Code: "the-code", State: install.State})

	q := redirectQuery(t, redirect)
	assert.Empty(t, q.Get("oauth_error"))
	assert.Equal(t, "gmail-ai-responder", q.Get("installed"))
	assert.Equal(t, "wf-1", q.Get("workflowId"))

	assert.False(t, h.store.HasOAuthState(install.State))
	assert.Equal(t, 1, h.store.IntegrationTokenCount())

	tokens, err := h.store.GetLatestIntegrationTokens(ctx, "u1", domain.OAuthProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "a", tokens.AccessToken)
	assert.Equal(t, "b", tokens.RefreshToken)
	assert.WithinDuration(t, before.Add(3600*time.Second), tokens.Expiry, time.Second)

	workflow, ok := h.engine.workflow("wf-1")
	require.True(t, ok)
	assert.True(t, workflow.Active)
}

func TestCallback_ReplayedStateIsRejected(t *testing.T) {
	h := newDefaultHarness(t)
	ctx := context.Background()

	install, err := h.orchestrator.Install(ctx, "u1", "gmail-summary")
	require.NoError(t, err)

	_, err = h.orchestrator.CompleteConsent(ctx, CallbackParams{Code: "the-code", State: install.State})
	require.NoError(t, err)

	_, err = h.orchestrator.CompleteConsent(ctx, CallbackParams{Code: "the-code", State: install.State})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	assert.Equal(t, 1, h.engine.workflowCount())
	assert.Equal(t, int32(1), h.tokens.calls.Load())
}

func TestCallback_ConcurrentSameStateProvisionsOnce(t *testing.T) {
	h := newDefaultHarness(t)
	ctx := context.Background()

	install, err := h.orchestrator.Install(ctx, "u1", "gmail-summary")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.orchestrator.CompleteConsent(ctx, CallbackParams{Code: "the-code", State: install.State}); err == nil {
				successes.Add(1)
			} else {
				assert.ErrorIs(t, err, domain.ErrInvalidState)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, 1, h.engine.workflowCount())
}

func TestCallback_UsesUserAndTemplateFromState(t *testing.T) {
	h := newDefaultHarness(t)
	ctx := context.Background()

	install, err := h.orchestrator.Install(ctx, "owner", "gmail-summary")
	require.NoError(t, err)

	result, err := h.orchestrator.CompleteConsent(ctx, CallbackParams{Code: "the-code", State: install.State})
	require.NoError(t, err)
	assert.Equal(t, "gmail-summary", result.TemplateID)

	_, err = h.store.GetLatestIntegrationTokens(ctx, "owner", domain.OAuthProviderGoogle)
	require.NoError(t, err)

	records, err := h.orchestrator.ListWorkflows(ctx, "owner")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "gmail-summary", records[0].TemplateID)
}

func TestCallback_Failures(t *testing.T) {
	tests := []struct {
		name        string
		tokenStatus int
		tokenBody   string
		params      func(state string) CallbackParams
		wantKind    domain.ErrorKind
		wantCalls   int32
	}{
		{
			name:        "consent denied",
			tokenStatus: http.StatusOK,
			tokenBody:   validTokenResponse,
			params:      func(state string) CallbackParams { return CallbackParams{State: state, Error: "access_denied"} },
			wantKind:    domain.ErrorKindUpstreamOAuth,
			wantCalls:   0,
		},
		{
			name:        "exchange rejected",
			tokenStatus: http.StatusBadRequest,
			tokenBody:   `{"error":"invalid_grant"}`,
			params:      func(state string) CallbackParams { return CallbackParams{Code: "bad", State: state} },
			wantKind:    domain.ErrorKindUpstreamOAuth,
			wantCalls:   1,
		},
		{
			name:        "missing code",
			tokenStatus: http.StatusOK,
			tokenBody:   validTokenResponse,
			params:      func(state string) CallbackParams { return CallbackParams{State: state} },
			wantKind:    domain.ErrorKindValidation,
			wantCalls:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.tokenStatus, tt.tokenBody)
			ctx := context.Background()

			install, err := h.orchestrator.Install(ctx, "u1", "gmail-summary")
			require.NoError(t, err)

			redirect := h.orchestrator.Callback(ctx, tt.params(install.State))

			q := redirectQuery(t, redirect)
			assert.Equal(t, string(tt.wantKind), q.Get("oauth_error"))
			assert.Empty(t, q.Get("workflowId"))

			assert.False(t, h.store.HasOAuthState(install.State), "state must be consumed")
			assert.Zero(t, h.store.IntegrationTokenCount())
			assert.Zero(t, h.engine.workflowCount())
			assert.Equal(t, tt.wantCalls, h.tokens.calls.Load())
		})
	}
}

type panickingBroker struct{}

func (panickingBroker) AuthCodeURL(state string) string { return "https://accounts.example.com/auth" }

func (panickingBroker) Exchange(ctx context.Context, code string) (domain.TokenBundle, error) {
	panic("boom")
}

func TestCallback_RecoversPanics(t *testing.T) {
	h := newDefaultHarness(t, func(deps *OrchestratorDependencies) {
		deps.Broker = panickingBroker{}
	})
	ctx := context.Background()

	install, err := h.orchestrator.Install(ctx, "u1", "gmail-summary")
	require.NoError(t, err)

	var redirect string
	require.NotPanics(t, func() {
		redirect = h.orchestrator.Callback(ctx, CallbackParams{Code: "c", State: install.State})
	})

	q := redirectQuery(t, redirect)
	assert.Equal(t, string(domain.ErrorKindInternal), q.Get("oauth_error"))
}

type staticProfiler struct {
	email string
	err   error
}

func (p staticProfiler) MailboxAddress(ctx context.Context, tokens domain.IntegrationTokens) (string, error) {
	return p.email, p.err
}

func TestCallback_RecordsMailboxAddress(t *testing.T) {
	tests := []struct {
		name     string
		profiler staticProfiler
		want     string
	}{
		{"lookup succeeds", staticProfiler{email: "someone@example.com"}, "someone@example.com"},
		{"lookup fails", staticProfiler{err: errors.New("forbidden")}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newDefaultHarness(t, func(deps *OrchestratorDependencies) {
				deps.Profiler = tt.profiler
			})
			ctx := context.Background()

			install, err := h.orchestrator.Install(ctx, "u1", "gmail-summary")
			require.NoError(t, err)

			_, err = h.orchestrator.CompleteConsent(ctx, CallbackParams{Code: "the-code", State: install.State})
			require.NoError(t, err)

			tokens, err := h.store.GetLatestIntegrationTokens(ctx, "u1", domain.OAuthProviderGoogle)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tokens.Email)
		})
	}
}

func TestRedirectURL_KeepsExistingQuery(t *testing.T) {
	o := NewOrchestrator(OrchestratorDependencies{FrontendURL: "https://app.example.com/settings?tab=workflows"})

	raw := o.redirectURL(url.Values{"oauth_error": {"invalid_state"}})
	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "workflows", parsed.Query().Get("tab"))
	assert.Equal(t, "invalid_state", parsed.Query().Get("oauth_error"))
}

func TestListTemplates(t *testing.T) {
	h := newDefaultHarness(t)

	summaries := h.orchestrator.ListTemplates()
	require.Len(t, summaries, 3)
	assert.Equal(t, "gmail-ai-responder", summaries[0].ID)
	assert.Equal(t,
		[]domain.Capability{domain.CapabilityMailbox, domain.CapabilityOpenAI, domain.CapabilityGemini},
		summaries[0].Capabilities,
	)
}

func TestWorkflowName(t *testing.T) {
	assert.Equal(t, "gmail-summary-user-42", workflowName("gmail-summary", "User 42"))
}
