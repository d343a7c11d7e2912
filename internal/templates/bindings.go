package templates

import (
	"github.com/inboxpilot/provisioner/internal/domain"
)

const (
	NodeTypeGmail        = "n8n-nodes-base.gmail"
	NodeTypeGmailTrigger = "n8n-nodes-base.gmailTrigger"
	NodeTypeGmailTool    = "n8n-nodes-base.gmailTool"
	NodeTypeOpenAIChat   = "@n8n/n8n-nodes-langchain.lmChatOpenAi"
	NodeTypeGeminiChat   = "@n8n/n8n-nodes-langchain.lmChatGoogleGemini"
	NodeTypeClaudeChat   = "@n8n/n8n-nodes-langchain.lmChatAnthropic"
)

// capabilityOrder fixes the issuance and logging order of capabilities.
var capabilityOrder = []domain.Capability{
	domain.CapabilityMailbox,
	domain.CapabilityOpenAI,
	domain.CapabilityGemini,
	domain.CapabilityAnthropic,
}

// DefaultBindings is the node type to credential slot table shared by every
// workflow kind unless the catalog overrides a capability.
func DefaultBindings() []domain.SlotBinding {
	return []domain.SlotBinding{
		{
			NodeTypes:  []string{NodeTypeGmail, NodeTypeGmailTrigger, NodeTypeGmailTool},
			Capability: domain.CapabilityMailbox,
			Slot:       string(domain.CredentialTypeGmailOAuth2),
		},
		{
			NodeTypes:  []string{NodeTypeOpenAIChat},
			Capability: domain.CapabilityOpenAI,
			Slot:       string(domain.CredentialTypeOpenAIAPI),
		},
		{
			NodeTypes:             []string{NodeTypeGeminiChat},
			Capability:            domain.CapabilityGemini,
			Slot:                  string(domain.CredentialTypeGooglePalm),
			PrunePlaceholderSlots: true,
		},
		{
			NodeTypes:  []string{NodeTypeClaudeChat},
			Capability: domain.CapabilityAnthropic,
			Slot:       string(domain.CredentialTypeAnthropicAPI),
		},
	}
}

// MergeBindings replaces the default binding of every capability named in
// overrides and keeps the rest.
func MergeBindings(defaults, overrides []domain.SlotBinding) []domain.SlotBinding {
	if len(overrides) == 0 {
		return defaults
	}

	overridden := make(map[domain.Capability]bool, len(overrides))
	for _, o := range overrides {
		overridden[o.Capability] = true
	}

	merged := make([]domain.SlotBinding, 0, len(defaults)+len(overrides))
	merged = append(merged, overrides...)

	for _, d := range defaults {
		if !overridden[d.Capability] {
			merged = append(merged, d)
		}
	}

	return merged
}

func findBinding(bindings []domain.SlotBinding, nodeType string) (domain.SlotBinding, bool) {
	for _, b := range bindings {
		if b.Matches(nodeType) {
			return b, true
		}
	}

	return domain.SlotBinding{}, false
}

// RequiredCapabilities lists the capabilities a template needs credentials for.
func RequiredCapabilities(tpl domain.WorkflowTemplate) []domain.Capability {
	bindings := bindingsFor(tpl)
	needed := make(map[domain.Capability]bool)

	for _, node := range tpl.Definition.Nodes {
		b, ok := findBinding(bindings, node.Type)
		if !ok {
			continue
		}

		if b.RequireExistingSlot {
			if _, has := node.Credentials[b.Slot]; !has {
				continue
			}
		}

		needed[b.Capability] = true
	}

	var capabilities []domain.Capability
	for _, c := range capabilityOrder {
		if needed[c] {
			capabilities = append(capabilities, c)
		}
	}

	return capabilities
}

func bindingsFor(tpl domain.WorkflowTemplate) []domain.SlotBinding {
	if len(tpl.Bindings) > 0 {
		return tpl.Bindings
	}

	return DefaultBindings()
}
