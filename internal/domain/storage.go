package domain

import "context"

type OAuthStateStore interface {
	// CreateOAuthState returns ErrOAuthStateExists when the state is taken.
	CreateOAuthState(ctx context.Context, state OAuthState) error

	// ConsumeOAuthState atomically reads and deletes a state row. Only one
	// concurrent caller observes the row; the rest get ErrOAuthStateNotFound.
	ConsumeOAuthState(ctx context.Context, state string) (OAuthState, error)
}

type IntegrationTokenStore interface {
	UpsertIntegrationTokens(ctx context.Context, tokens IntegrationTokens) error

	// GetLatestIntegrationTokens returns ErrIntegrationTokensNotFound when the
	// user has no row for provider.
	GetLatestIntegrationTokens(ctx context.Context, userID string, provider OAuthProvider) (IntegrationTokens, error)
}

type ProvisionedWorkflowStore interface {
	CreateProvisionedWorkflow(ctx context.Context, workflow ProvisionedWorkflow) error

	// ListProvisionedWorkflows returns the user's records, newest first.
	ListProvisionedWorkflows(ctx context.Context, userID string) ([]ProvisionedWorkflow, error)
}

type StateStore interface {
	OAuthStateStore
	IntegrationTokenStore
	ProvisionedWorkflowStore
}

// WorkflowEngine creates credentials and workflows in the automation engine.
type WorkflowEngine interface {
	CreateCredential(ctx context.Context, req CreateCredentialRequest) (CredentialRef, error)
	CreateWorkflow(ctx context.Context, name string, definition WorkflowDefinition) (string, error)
	ActivateWorkflow(ctx context.Context, workflowID string) error
}
