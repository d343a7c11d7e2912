package templates

import (
	"encoding/json"
	"strings"

	"github.com/inboxpilot/provisioner/internal/domain"

	"github.com/rs/zerolog/log"
)

const placeholderMarker = "PLACEHOLDER"

// Materialize binds issued credentials into a fresh copy of the template
// definition. The template itself is never modified, so a cached catalog entry
// can be shared between concurrent provisionings.
//
// Nodes whose type has no binding are copied as-is. A node whose capability has
// no issued credential keeps its existing credential entry.
func Materialize(tpl domain.WorkflowTemplate, credentials domain.CredentialBindings) domain.WorkflowDefinition {
	definition := tpl.Definition.Clone()
	bindings := bindingsFor(tpl)

	for i := range definition.Nodes {
		node := &definition.Nodes[i]

		binding, ok := findBinding(bindings, node.Type)
		if !ok {
			continue
		}

		ref, issued := credentials[binding.Capability]
		if !issued {
			log.Debug().
				Str("template_id", tpl.ID).
				Str("node", node.Name).
				Str("capability", string(binding.Capability)).
				Msg("No credential issued for node, keeping placeholder")
			continue
		}

		if binding.RequireExistingSlot {
			if _, has := node.Credentials[binding.Slot]; !has {
				continue
			}
		}

		bindSlot(node, binding, ref)
	}

	return definition
}

func bindSlot(node *domain.Node, binding domain.SlotBinding, ref domain.CredentialRef) {
	if node.Credentials == nil {
		node.Credentials = make(map[string]json.RawMessage)
	}

	// Marshalling a struct of two strings cannot fail.
	raw, _ := json.Marshal(ref)
	node.Credentials[binding.Slot] = raw

	if !binding.PrunePlaceholderSlots {
		return
	}

	for key := range node.Credentials {
		if key != binding.Slot && strings.Contains(key, placeholderMarker) {
			delete(node.Credentials, key)
		}
	}
}
