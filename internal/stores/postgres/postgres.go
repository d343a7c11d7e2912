package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/inboxpilot/provisioner/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Store implements domain.StateStore on PostgreSQL.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

type Opts struct {
	DatabaseURL string
	TablePrefix string
	MaxConns    int32
}

func New(ctx context.Context, opts Opts) (*Store, error) {
	config, err := pgxpool.ParseConfig(opts.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	store := &Store{
		pool:        pool,
		tablePrefix: opts.TablePrefix,
	}

	if err := store.ensureTables(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure tables: %w", err)
	}

	return store, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) table(name string) string {
	if s.tablePrefix != "" {
		return fmt.Sprintf("%s_%s", s.tablePrefix, name)
	}
	return name
}

func (s *Store) statesTable() string    { return s.table("oauth_states") }
func (s *Store) tokensTable() string    { return s.table("integration_tokens") }
func (s *Store) workflowsTable() string { return s.table("workflows") }

func (s *Store) ensureTables(ctx context.Context) error {
	statements := []struct {
		name string
		sql  string
	}{
		{"oauth states table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				state TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				template_id TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)
		`, s.statesTable())},
		{"integration tokens table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				user_id TEXT NOT NULL,
				provider TEXT NOT NULL,
				access_token TEXT NOT NULL,
				refresh_token TEXT NOT NULL DEFAULT '',
				scope TEXT NOT NULL DEFAULT '',
				expiry TIMESTAMPTZ,
				email TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				PRIMARY KEY (user_id, provider)
			)
		`, s.tokensTable())},
		{"workflows table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				template_id TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				n8n_workflow_id TEXT NOT NULL,
				status TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)
		`, s.workflowsTable())},
		{"workflows index", fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS idx_%s_user ON %s(user_id, created_at DESC)
		`, s.workflowsTable(), s.workflowsTable())},
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt.sql); err != nil {
			return fmt.Errorf("failed to create %s: %w", stmt.name, err)
		}
	}

	return nil
}

func (s *Store) CreateOAuthState(ctx context.Context, state domain.OAuthState) error {
	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now().UTC()
	}

	insertSQL := fmt.Sprintf(`
		INSERT INTO %s (state, user_id, template_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, s.statesTable())

	_, err := s.pool.Exec(ctx, insertSQL, state.State, state.UserID, state.TemplateID, state.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrOAuthStateExists
		}
		return fmt.Errorf("failed to insert oauth state: %w", err)
	}

	return nil
}

// ConsumeOAuthState deletes the row and returns it in one statement, so
// concurrent callers cannot both observe it.
func (s *Store) ConsumeOAuthState(ctx context.Context, state string) (domain.OAuthState, error) {
	deleteSQL := fmt.Sprintf(`
		DELETE FROM %s WHERE state = $1
		RETURNING state, user_id, template_id, created_at
	`, s.statesTable())

	var row domain.OAuthState
	err := s.pool.QueryRow(ctx, deleteSQL, state).Scan(&row.State, &row.UserID, &row.TemplateID, &row.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OAuthState{}, domain.ErrOAuthStateNotFound
		}
		return domain.OAuthState{}, fmt.Errorf("failed to consume oauth state: %w", err)
	}

	return row, nil
}

func (s *Store) UpsertIntegrationTokens(ctx context.Context, tokens domain.IntegrationTokens) error {
	var expiry *time.Time
	if !tokens.Expiry.IsZero() {
		e := tokens.Expiry.UTC()
		expiry = &e
	}

	upsertSQL := fmt.Sprintf(`
		INSERT INTO %s (user_id, provider, access_token, refresh_token, scope, expiry, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			scope = EXCLUDED.scope,
			expiry = EXCLUDED.expiry,
			email = EXCLUDED.email,
			updated_at = now()
	`, s.tokensTable())

	_, err := s.pool.Exec(ctx, upsertSQL,
		tokens.UserID,
		string(tokens.Provider),
		tokens.AccessToken,
		tokens.RefreshToken,
		tokens.Scope,
		expiry,
		tokens.Email,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert integration tokens: %w", err)
	}

	return nil
}

func (s *Store) GetLatestIntegrationTokens(ctx context.Context, userID string, provider domain.OAuthProvider) (domain.IntegrationTokens, error) {
	selectSQL := fmt.Sprintf(`
		SELECT user_id, provider, access_token, refresh_token, scope, expiry, email, created_at, updated_at
		FROM %s WHERE user_id = $1 AND provider = $2
		ORDER BY updated_at DESC
		LIMIT 1
	`, s.tokensTable())

	var (
		tokens       domain.IntegrationTokens
		providerName string
		expiry       *time.Time
	)

	err := s.pool.QueryRow(ctx, selectSQL, userID, string(provider)).Scan(
		&tokens.UserID,
		&providerName,
		&tokens.AccessToken,
		&tokens.RefreshToken,
		&tokens.Scope,
		&expiry,
		&tokens.Email,
		&tokens.CreatedAt,
		&tokens.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.IntegrationTokens{}, domain.ErrIntegrationTokensNotFound
		}
		return domain.IntegrationTokens{}, fmt.Errorf("failed to get integration tokens: %w", err)
	}

	tokens.Provider = domain.OAuthProvider(providerName)
	if expiry != nil {
		tokens.Expiry = *expiry
	}

	return tokens, nil
}

func (s *Store) CreateProvisionedWorkflow(ctx context.Context, workflow domain.ProvisionedWorkflow) error {
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = time.Now().UTC()
	}

	insertSQL := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, template_id, name, description, n8n_workflow_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.workflowsTable())

	_, err := s.pool.Exec(ctx, insertSQL,
		workflow.ID,
		workflow.UserID,
		workflow.TemplateID,
		workflow.Name,
		workflow.Description,
		workflow.ExternalWorkflowID,
		string(workflow.Status),
		workflow.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert workflow: %w", err)
	}

	return nil
}

func (s *Store) ListProvisionedWorkflows(ctx context.Context, userID string) ([]domain.ProvisionedWorkflow, error) {
	selectSQL := fmt.Sprintf(`
		SELECT id, user_id, template_id, name, description, n8n_workflow_id, status, created_at
		FROM %s WHERE user_id = $1
		ORDER BY created_at DESC
	`, s.workflowsTable())

	rows, err := s.pool.Query(ctx, selectSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []domain.ProvisionedWorkflow
	for rows.Next() {
		var (
			w      domain.ProvisionedWorkflow
			status string
		)

		if err := rows.Scan(&w.ID, &w.UserID, &w.TemplateID, &w.Name, &w.Description, &w.ExternalWorkflowID, &status, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		w.Status = domain.WorkflowStatus(status)
		workflows = append(workflows, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workflows: %w", err)
	}

	return workflows, nil
}
