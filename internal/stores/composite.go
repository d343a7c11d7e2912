package stores

import (
	"github.com/inboxpilot/provisioner/internal/domain"
)

// Composite routes OAuth states to a dedicated store and everything else to
// the primary store.
type Composite struct {
	domain.OAuthStateStore
	domain.IntegrationTokenStore
	domain.ProvisionedWorkflowStore
}

// NewComposite returns primary unchanged when states is nil.
func NewComposite(primary domain.StateStore, states domain.OAuthStateStore) domain.StateStore {
	if states == nil {
		return primary
	}

	return &Composite{
		OAuthStateStore:          states,
		IntegrationTokenStore:    primary,
		ProvisionedWorkflowStore: primary,
	}
}
