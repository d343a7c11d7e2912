package n8n

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ClientInterface defines the subset of the n8n public API used for provisioning
type ClientInterface interface {
	CreateCredential(ctx context.Context, req *CreateCredentialRequest) (*Credential, error)
	CreateWorkflow(ctx context.Context, req *CreateWorkflowRequest) (*Workflow, error)
	ActivateWorkflow(ctx context.Context, workflowID string) (*Workflow, error)
	ListWorkflows(ctx context.Context, req *ListWorkflowsRequest) (*ListWorkflowsResponse, error)
}

// Client talks to the n8n public REST API (/api/v1)
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a new n8n client with the given options
func NewClient(options ...ClientOption) *Client {
	config := DefaultConfig()

	for _, option := range options {
		option(config)
	}

	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: config.Timeout,
		}
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
	}
}

// CreateCredential creates a new credential object. n8n never deduplicates by name.
func (c *Client) CreateCredential(ctx context.Context, req *CreateCredentialRequest) (*Credential, error) {
	if req == nil {
		return nil, fmt.Errorf("credential request cannot be nil")
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1/credentials", req)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential: %w", err)
	}

	var result Credential
	if err := c.handleResponse(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to process create credential response: %w", err)
	}

	if result.ID == "" {
		return nil, fmt.Errorf("create credential response carried no id")
	}

	if result.Name == "" {
		result.Name = req.Name
	}

	return &result, nil
}

// CreateWorkflow creates an inactive workflow
func (c *Client) CreateWorkflow(ctx context.Context, req *CreateWorkflowRequest) (*Workflow, error) {
	if req == nil {
		return nil, fmt.Errorf("workflow request cannot be nil")
	}

	body := *req
	if len(body.Connections) == 0 {
		body.Connections = json.RawMessage(`{}`)
	}
	if len(body.Settings) == 0 {
		body.Settings = json.RawMessage(`{}`)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1/workflows", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	var result Workflow
	if err := c.handleResponse(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to process create workflow response: %w", err)
	}

	if result.ID == "" {
		return nil, fmt.Errorf("create workflow response carried no id")
	}

	return &result, nil
}

// ActivateWorkflow activates a previously created workflow
func (c *Client) ActivateWorkflow(ctx context.Context, workflowID string) (*Workflow, error) {
	if workflowID == "" {
		return nil, fmt.Errorf("workflow ID cannot be empty")
	}

	path := fmt.Sprintf("/api/v1/workflows/%s/activate", url.PathEscape(workflowID))

	resp, err := c.doRequest(ctx, http.MethodPost, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to activate workflow: %w", err)
	}

	var result Workflow
	if err := c.handleResponse(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to process activate workflow response: %w", err)
	}

	return &result, nil
}

// ListWorkflows lists workflows visible to the API key
func (c *Client) ListWorkflows(ctx context.Context, req *ListWorkflowsRequest) (*ListWorkflowsResponse, error) {
	query := url.Values{}
	if req != nil {
		if req.Active != nil {
			query.Set("active", strconv.FormatBool(*req.Active))
		}
		if req.Limit > 0 {
			query.Set("limit", strconv.Itoa(req.Limit))
		}
		if req.Cursor != "" {
			query.Set("cursor", req.Cursor)
		}
	}

	path := "/api/v1/workflows"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	var result ListWorkflowsResponse
	if err := c.handleResponse(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to process list workflows response: %w", err)
	}

	return &result, nil
}

// doRequest performs an HTTP request against the n8n API
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyBytes []byte

	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	endpoint := c.config.BaseURL + path

	var lastErr error
	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		var requestBody io.Reader
		if bodyBytes != nil {
			requestBody = bytes.NewReader(bodyBytes)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, requestBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		for key, value := range c.config.DefaultHeaders {
			req.Header.Set(key, value)
		}

		if c.config.APIKey != "" {
			req.Header.Set("X-N8N-API-KEY", c.config.APIKey)
		}

		if c.config.UserAgent != "" {
			req.Header.Set("User-Agent", c.config.UserAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 && attempt < c.config.RetryAttempts {
			log.Warn().
				Int("status_code", resp.StatusCode).
				Str("method", method).
				Str("path", path).
				Int("attempt", attempt+1).
				Msg("n8n server error, retrying")

			resp.Body.Close()
			lastErr = &Error{
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("server error: %d", resp.StatusCode),
			}
			continue
		}

		return resp, nil
	}

	if c.config.RetryAttempts == 0 {
		return nil, lastErr
	}

	return nil, fmt.Errorf("request failed after %d retries: %w", c.config.RetryAttempts, lastErr)
}

// handleResponse processes the HTTP response and unmarshals JSON if successful
func (c *Client) handleResponse(resp *http.Response, result interface{}) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errorResponse struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}

		message := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if json.Unmarshal(body, &errorResponse) == nil {
			if errorResponse.Message != "" {
				message = errorResponse.Message
			} else if errorResponse.Error != "" {
				message = errorResponse.Error
			}
		}

		return &Error{
			StatusCode: resp.StatusCode,
			Message:    message,
			Body:       string(body),
			RequestID:  resp.Header.Get("X-Request-ID"),
		}
	}

	if result != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
