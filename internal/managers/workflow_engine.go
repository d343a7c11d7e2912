package managers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/inboxpilot/provisioner/internal/domain"
	"github.com/inboxpilot/provisioner/pkg/clients/n8n"
)

type WorkflowEngineDependencies struct {
	Client      n8n.ClientInterface
	CallTimeout time.Duration
}

type workflowEngine struct {
	client      n8n.ClientInterface
	callTimeout time.Duration
}

type WorkflowEngine interface {
	domain.WorkflowEngine
	Ping(ctx context.Context) error
}

// NewWorkflowEngine adapts the n8n client to domain.WorkflowEngine. Each call
// gets its own deadline when CallTimeout is set.
func NewWorkflowEngine(deps WorkflowEngineDependencies) WorkflowEngine {
	return &workflowEngine{
		client:      deps.Client,
		callTimeout: deps.CallTimeout,
	}
}

func (e *workflowEngine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.callTimeout)
}

func (e *workflowEngine) CreateCredential(ctx context.Context, req domain.CreateCredentialRequest) (domain.CredentialRef, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	credential, err := e.client.CreateCredential(ctx, &n8n.CreateCredentialRequest{
		Name: req.Name,
		Type: string(req.Type),
		Data: req.Data,
	})
	if err != nil {
		return domain.CredentialRef{}, engineError("create credential", err)
	}

	if credential.ID == "" {
		return domain.CredentialRef{}, fmt.Errorf("%w: create credential: response carried no id", domain.ErrUpstreamEngine)
	}

	name := credential.Name
	if name == "" {
		name = req.Name
	}

	return domain.CredentialRef{
		ID:   credential.ID.String(),
		Name: name,
	}, nil
}

func (e *workflowEngine) CreateWorkflow(ctx context.Context, name string, definition domain.WorkflowDefinition) (string, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	workflow, err := e.client.CreateWorkflow(ctx, &n8n.CreateWorkflowRequest{
		Name:        name,
		Nodes:       definition.Nodes,
		Connections: definition.Connections,
		Settings:    definition.Settings,
	})
	if err != nil {
		return "", engineError("create workflow", err)
	}

	if workflow.ID == "" {
		return "", fmt.Errorf("%w: create workflow: response carried no id", domain.ErrUpstreamEngine)
	}

	return workflow.ID.String(), nil
}

func (e *workflowEngine) ActivateWorkflow(ctx context.Context, workflowID string) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if _, err := e.client.ActivateWorkflow(ctx, workflowID); err != nil {
		return engineError("activate workflow", err)
	}

	return nil
}

// Ping checks that the engine is reachable and accepts the API key.
func (e *workflowEngine) Ping(ctx context.Context) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if _, err := e.client.ListWorkflows(ctx, &n8n.ListWorkflowsRequest{Limit: 1}); err != nil {
		return engineError("list workflows", err)
	}

	return nil
}

func engineError(operation string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s timed out: %w", domain.ErrUpstreamEngine, operation, err)
	}

	if apiErr, ok := n8n.AsError(err); ok {
		switch {
		case apiErr.IsAuthError():
			return fmt.Errorf("%w: %s: engine rejected the API key: %w", domain.ErrUpstreamEngine, operation, err)
		case apiErr.IsNotFound():
			return fmt.Errorf("%w: %s: resource not found: %w", domain.ErrUpstreamEngine, operation, err)
		}
		return fmt.Errorf("%w: %s: status %d: %w", domain.ErrUpstreamEngine, operation, apiErr.StatusCode, err)
	}

	return fmt.Errorf("%w: %s: %w", domain.ErrUpstreamEngine, operation, err)
}
