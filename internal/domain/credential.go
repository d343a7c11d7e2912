package domain

// Capability is something a workflow needs a credential for.
type Capability string

const (
	CapabilityMailbox   Capability = "mailbox"
	CapabilityOpenAI    Capability = "openai"
	CapabilityGemini    Capability = "gemini"
	CapabilityAnthropic Capability = "anthropic"
)

func (c Capability) IsValid() bool {
	switch c {
	case CapabilityMailbox, CapabilityOpenAI, CapabilityGemini, CapabilityAnthropic:
		return true
	}

	return false
}

// CredentialType is the engine-side type name of a credential object.
type CredentialType string

const (
	CredentialTypeGmailOAuth2  CredentialType = "gmailOAuth2"
	CredentialTypeOpenAIAPI    CredentialType = "openAiApi"
	CredentialTypeGooglePalm   CredentialType = "googlePalmApi"
	CredentialTypeAnthropicAPI CredentialType = "anthropicApi"
)

// SlotBinding maps a set of node types to the credential slot filled with the
// credential issued for Capability.
type SlotBinding struct {
	NodeTypes  []string   `yaml:"nodeTypes" json:"nodeTypes"`
	Capability Capability `yaml:"capability" json:"capability"`
	Slot       string     `yaml:"slot" json:"slot"`

	// RequireExistingSlot binds only when the node already declares the slot.
	RequireExistingSlot bool `yaml:"requireExistingSlot" json:"requireExistingSlot,omitempty"`

	// PrunePlaceholderSlots removes credential keys containing PLACEHOLDER
	// once a real credential is bound.
	PrunePlaceholderSlots bool `yaml:"prunePlaceholderSlots" json:"prunePlaceholderSlots,omitempty"`
}

func (b SlotBinding) Matches(nodeType string) bool {
	for _, t := range b.NodeTypes {
		if t == nodeType {
			return true
		}
	}

	return false
}

// CredentialBindings holds the credentials issued for one provisioning run.
type CredentialBindings map[Capability]CredentialRef

type CreateCredentialRequest struct {
	Name string
	Type CredentialType
	Data map[string]any
}
