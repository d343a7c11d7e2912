package n8n

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FlexibleID accepts both string and numeric identifiers. Older n8n versions
// return numeric workflow ids.
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexibleID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", string(data), err)
	}

	*id = FlexibleID(n.String())
	return nil
}

func (id FlexibleID) String() string {
	return string(id)
}

type CreateCredentialRequest struct {
	Name string         `json:"name"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

type Credential struct {
	ID        FlexibleID `json:"id"`
	Name      string     `json:"name"`
	Type      string     `json:"type"`
	CreatedAt string     `json:"createdAt,omitempty"`
	UpdatedAt string     `json:"updatedAt,omitempty"`
}

type CreateWorkflowRequest struct {
	Name        string          `json:"name"`
	Nodes       any             `json:"nodes"`
	Connections json.RawMessage `json:"connections"`
	Settings    json.RawMessage `json:"settings"`
}

type Workflow struct {
	ID        FlexibleID `json:"id"`
	Name      string     `json:"name"`
	Active    bool       `json:"active"`
	CreatedAt string     `json:"createdAt,omitempty"`
	UpdatedAt string     `json:"updatedAt,omitempty"`
}

type ListWorkflowsRequest struct {
	Active *bool
	Limit  int
	Cursor string
}

type ListWorkflowsResponse struct {
	Data       []Workflow `json:"data"`
	NextCursor *string    `json:"nextCursor"`
}
