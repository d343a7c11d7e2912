package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type WorkflowStatus string

const (
	WorkflowStatusActive WorkflowStatus = "active"
)

// CredentialRef identifies one credential object issued by the workflow engine.
type CredentialRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Node is one workflow engine node. Only the type, name and credential map are
// interpreted; every other field is carried verbatim in Extra.
type Node struct {
	Type        string
	Name        string
	Credentials map[string]json.RawMessage
	Extra       map[string]json.RawMessage

	// nullCredentials records an explicit "credentials": null so that it
	// survives a round trip while Credentials stays nil.
	nullCredentials bool
}

var nodeKnownKeys = map[string]struct{}{
	"type":        {},
	"name":        {},
	"credentials": {},
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*n = Node{}

	if v, ok := raw["type"]; ok {
		if err := json.Unmarshal(v, &n.Type); err != nil {
			return fmt.Errorf("node type: %w", err)
		}
	}

	if v, ok := raw["name"]; ok {
		if err := json.Unmarshal(v, &n.Name); err != nil {
			return fmt.Errorf("node name: %w", err)
		}
	}

	if v, ok := raw["credentials"]; ok {
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			n.nullCredentials = true
		} else if err := json.Unmarshal(v, &n.Credentials); err != nil {
			return fmt.Errorf("node %q credentials: %w", n.Name, err)
		}
	}

	for key, value := range raw {
		if _, known := nodeKnownKeys[key]; known {
			continue
		}
		if n.Extra == nil {
			n.Extra = make(map[string]json.RawMessage)
		}
		n.Extra[key] = value
	}

	return nil
}

func (n Node) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(n.Extra)+3)
	for key, value := range n.Extra {
		out[key] = value
	}

	out["type"] = n.Type
	out["name"] = n.Name

	switch {
	case n.Credentials != nil:
		out["credentials"] = n.Credentials
	case n.nullCredentials:
		out["credentials"] = nil
	}

	return json.Marshal(out)
}

// Credential decodes the credential reference held in slot, if any.
func (n Node) Credential(slot string) (CredentialRef, bool) {
	raw, ok := n.Credentials[slot]
	if !ok {
		return CredentialRef{}, false
	}

	var ref CredentialRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return CredentialRef{}, false
	}

	return ref, true
}

func (n Node) Clone() Node {
	return Node{
		Type:        n.Type,
		Name:        n.Name,
		Credentials: cloneRawMap(n.Credentials),
		Extra:       cloneRawMap(n.Extra),

		nullCredentials: n.nullCredentials,
	}
}

// WorkflowDefinition is the node graph sent to the workflow engine.
type WorkflowDefinition struct {
	Nodes       []Node          `json:"nodes"`
	Connections json.RawMessage `json:"connections"`
	Settings    json.RawMessage `json:"settings"`
}

func (d WorkflowDefinition) Clone() WorkflowDefinition {
	var nodes []Node
	if d.Nodes != nil {
		nodes = make([]Node, len(d.Nodes))
		for i, node := range d.Nodes {
			nodes[i] = node.Clone()
		}
	}

	return WorkflowDefinition{
		Nodes:       nodes,
		Connections: cloneRaw(d.Connections),
		Settings:    cloneRaw(d.Settings),
	}
}

// WorkflowTemplate is an immutable catalog entry. Callers must clone the
// definition before changing it.
type WorkflowTemplate struct {
	ID          string
	Name        string
	Description string
	Definition  WorkflowDefinition
	Bindings    []SlotBinding
}

// ProvisionedWorkflow is the append-only record of one provisioning.
type ProvisionedWorkflow struct {
	ID                 string
	UserID             string
	TemplateID         string
	Name               string
	Description        string
	ExternalWorkflowID string
	Status             WorkflowStatus
	CreatedAt          time.Time
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}

	return append(json.RawMessage(nil), raw...)
}

func cloneRawMap(m map[string]json.RawMessage) map[string]json.RawMessage {
	if m == nil {
		return nil
	}

	out := make(map[string]json.RawMessage, len(m))
	for key, value := range m {
		out[key] = cloneRaw(value)
	}

	return out
}
