package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/inboxpilot/provisioner/internal/domain"
)

type tokenKey struct {
	userID   string
	provider domain.OAuthProvider
}

// Store is an in-process domain.StateStore. It backs tests and single-node
// development setups; nothing survives a restart.
type Store struct {
	mu        sync.Mutex
	states    map[string]domain.OAuthState
	tokens    map[tokenKey]domain.IntegrationTokens
	workflows []domain.ProvisionedWorkflow
	now       func() time.Time
}

func New() *Store {
	return &Store{
		states: make(map[string]domain.OAuthState),
		tokens: make(map[tokenKey]domain.IntegrationTokens),
		now:    time.Now,
	}
}

func (s *Store) CreateOAuthState(ctx context.Context, state domain.OAuthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.states[state.State]; exists {
		return domain.ErrOAuthStateExists
	}

	if state.CreatedAt.IsZero() {
		state.CreatedAt = s.now()
	}

	s.states[state.State] = state
	return nil
}

func (s *Store) ConsumeOAuthState(ctx context.Context, state string) (domain.OAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.states[state]
	if !ok {
		return domain.OAuthState{}, domain.ErrOAuthStateNotFound
	}

	delete(s.states, state)
	return row, nil
}

func (s *Store) UpsertIntegrationTokens(ctx context.Context, tokens domain.IntegrationTokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tokenKey{userID: tokens.UserID, provider: tokens.Provider}
	now := s.now()

	tokens.CreatedAt = now
	if existing, ok := s.tokens[key]; ok {
		tokens.CreatedAt = existing.CreatedAt
	}
	tokens.UpdatedAt = now

	s.tokens[key] = tokens
	return nil
}

func (s *Store) GetLatestIntegrationTokens(ctx context.Context, userID string, provider domain.OAuthProvider) (domain.IntegrationTokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, ok := s.tokens[tokenKey{userID: userID, provider: provider}]
	if !ok {
		return domain.IntegrationTokens{}, domain.ErrIntegrationTokensNotFound
	}

	return tokens, nil
}

func (s *Store) CreateProvisionedWorkflow(ctx context.Context, workflow domain.ProvisionedWorkflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = s.now()
	}

	s.workflows = append(s.workflows, workflow)
	return nil
}

func (s *Store) ListProvisionedWorkflows(ctx context.Context, userID string) ([]domain.ProvisionedWorkflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ProvisionedWorkflow
	for i := len(s.workflows) - 1; i >= 0; i-- {
		if s.workflows[i].UserID == userID {
			out = append(out, s.workflows[i])
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return out, nil
}

// OAuthStateCount reports the number of unconsumed states.
func (s *Store) OAuthStateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.states)
}

// HasOAuthState reports whether state is still unconsumed.
func (s *Store) HasOAuthState(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.states[state]
	return ok
}

// IntegrationTokenCount reports the number of stored token rows.
func (s *Store) IntegrationTokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.tokens)
}
