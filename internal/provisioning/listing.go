package provisioning

import (
	"context"
	"fmt"

	"github.com/inboxpilot/provisioner/internal/domain"
	"github.com/inboxpilot/provisioner/internal/templates"
)

type TemplateSummary struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Description  string              `json:"description,omitempty"`
	Capabilities []domain.Capability `json:"capabilities"`
}

func (o *Orchestrator) ListTemplates() []TemplateSummary {
	list := o.catalog.List()

	summaries := make([]TemplateSummary, 0, len(list))
	for _, tpl := range list {
		summaries = append(summaries, TemplateSummary{
			ID:           tpl.ID,
			Name:         tpl.Name,
			Description:  tpl.Description,
			Capabilities: templates.RequiredCapabilities(tpl),
		})
	}

	return summaries
}

func (o *Orchestrator) ListWorkflows(ctx context.Context, userID string) ([]domain.ProvisionedWorkflow, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing caller identity", domain.ErrAuth)
	}

	var workflows []domain.ProvisionedWorkflow
	err := o.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		workflows, err = o.store.ListProvisionedWorkflows(ctx, userID)
		return err
	})
	if err != nil {
		return nil, storeError("list provisioned workflows", err)
	}

	if workflows == nil {
		workflows = []domain.ProvisionedWorkflow{}
	}

	return workflows, nil
}
