package provisioning

import (
	"context"
	"fmt"

	"github.com/inboxpilot/provisioner/internal/credentials"
	"github.com/inboxpilot/provisioner/internal/domain"
	"github.com/inboxpilot/provisioner/internal/templates"

	"github.com/gosimple/slug"
	"github.com/rs/zerolog/log"
)

// Provision issues fresh credentials, materializes the template, creates and
// activates the workflow and records it. The first failing step aborts the
// rest. A workflow that fails activation stays in the engine inactive and is
// not recorded.
func (o *Orchestrator) Provision(ctx context.Context, userID string, tpl domain.WorkflowTemplate, tokens domain.IntegrationTokens) (ProvisionResult, error) {
	logger := log.With().
		Str("user_id", userID).
		Str("template_id", tpl.ID).
		Logger()

	bindings, err := o.issuer.Issue(ctx, credentials.IssueParams{
		UserID:       userID,
		Capabilities: templates.RequiredCapabilities(tpl),
		Tokens:       tokens,
	})
	if err != nil {
		return ProvisionResult{}, fmt.Errorf("issue credentials: %w", err)
	}

	definition := templates.Materialize(tpl, bindings)

	workflowID, err := o.engine.CreateWorkflow(ctx, workflowName(tpl.ID, userID), definition)
	if err != nil {
		return ProvisionResult{}, engineError("create workflow", err)
	}

	logger.Info().Str("workflow_id", workflowID).Msg("Created workflow")

	if err := o.engine.ActivateWorkflow(ctx, workflowID); err != nil {
		logger.Warn().
			Err(err).
			Str("workflow_id", workflowID).
			Msg("Workflow activation failed, leaving inactive workflow in engine")

		return ProvisionResult{}, engineError(fmt.Sprintf("activate workflow %s", workflowID), err)
	}

	record := domain.ProvisionedWorkflow{
		ID:                 o.newID(),
		UserID:             userID,
		TemplateID:         tpl.ID,
		Name:               tpl.Name,
		Description:        tpl.Description,
		ExternalWorkflowID: workflowID,
		Status:             domain.WorkflowStatusActive,
		CreatedAt:          o.now().UTC(),
	}

	err = o.withTimeout(ctx, func(ctx context.Context) error {
		return o.store.CreateProvisionedWorkflow(ctx, record)
	})
	if err != nil {
		return ProvisionResult{}, storeError("record provisioned workflow", err)
	}

	logger.Info().Str("workflow_id", workflowID).Msg("Workflow provisioned and active")

	return ProvisionResult{
		Activated:  true,
		WorkflowID: workflowID,
	}, nil
}

func workflowName(templateID, userID string) string {
	return slug.Make(templateID + "-" + userID)
}
