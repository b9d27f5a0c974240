package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nodeflow/nodeflow/core/infra/queue"
	"github.com/nodeflow/nodeflow/core/users"
	wf "github.com/nodeflow/nodeflow/core/workflow"
)

// Client is a minimal HTTP client for the API gateway.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// New returns a client with a default HTTP timeout.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx gateway response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the gateway.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// MenuItem is one navigation entry.
type MenuItem struct {
	Label    string     `json:"label"`
	Href     string     `json:"href"`
	Children []MenuItem `json:"children,omitempty"`
}

// ExecuteResult is the synchronous execute response.
type ExecuteResult struct {
	ExecutionID string
	Context     wf.ExecutionContext
}

// AsyncRun is the response of an async execute.
type AsyncRun struct {
	JobID      string `json:"jobId"`
	WorkflowID string `json:"workflowId"`
}

// CreateUserRequest mirrors the gateway create payload.
type CreateUserRequest struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// UpdateUserRequest is a partial profile update.
type UpdateUserRequest struct {
	Name      *string `json:"name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	Role      *string `json:"role,omitempty"`
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) (http.Header, error) {
	var payload io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		payload = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), payload)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return resp.Header, &APIError{Status: resp.StatusCode, Message: errorMessage(data, resp.Status)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return resp.Header, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.Header, fmt.Errorf("decode json: %w", err)
	}
	return resp.Header, nil
}

func errorMessage(data []byte, status string) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return body.Error
	}
	if msg := strings.TrimSpace(string(data)); msg != "" {
		return msg
	}
	return status
}

func limitQuery(limit int) string {
	if limit <= 0 {
		return ""
	}
	return "?limit=" + strconv.Itoa(limit)
}

// Menu returns the navigation tree.
func (c *Client) Menu(ctx context.Context) ([]MenuItem, error) {
	var out struct {
		Items []MenuItem `json:"items"`
	}
	_, err := c.doJSON(ctx, http.MethodGet, "/api/menu", nil, &out)
	return out.Items, err
}

// SaveWorkflow creates or replaces a workflow and returns the stored copy.
func (c *Client) SaveWorkflow(ctx context.Context, def *wf.Workflow) (*wf.Workflow, error) {
	if def == nil {
		return nil, errors.New("workflow is nil")
	}
	var out wf.Workflow
	if _, err := c.doJSON(ctx, http.MethodPost, "/api/workflows", def, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListWorkflows(ctx context.Context, limit int) ([]*wf.Workflow, error) {
	var out []*wf.Workflow
	_, err := c.doJSON(ctx, http.MethodGet, "/api/workflows"+limitQuery(limit), nil, &out)
	return out, err
}

func (c *Client) GetWorkflow(ctx context.Context, id string) (*wf.Workflow, error) {
	var out wf.Workflow
	if _, err := c.doJSON(ctx, http.MethodGet, "/api/workflows/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteWorkflow(ctx context.Context, id string) error {
	_, err := c.doJSON(ctx, http.MethodDelete, "/api/workflows/"+url.PathEscape(id), nil, nil)
	return err
}

// Execute runs a workflow synchronously.
func (c *Client) Execute(ctx context.Context, id string, input map[string]any) (*ExecuteResult, error) {
	var out ExecuteResult
	hdr, err := c.doJSON(ctx, http.MethodPost, "/api/workflows/"+url.PathEscape(id)+"/execute", map[string]any{"input": input}, &out.Context)
	if err != nil {
		return nil, err
	}
	out.ExecutionID = hdr.Get("X-Execution-ID")
	return &out, nil
}

// ExecuteAsync enqueues a workflows job and returns its id.
func (c *Client) ExecuteAsync(ctx context.Context, id string, input map[string]any) (*AsyncRun, error) {
	var out AsyncRun
	if _, err := c.doJSON(ctx, http.MethodPost, "/api/workflows/"+url.PathEscape(id)+"/execute?async=true", map[string]any{"input": input}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListExecutions(ctx context.Context, workflowID string, limit int) ([]*wf.Execution, error) {
	var out []*wf.Execution
	_, err := c.doJSON(ctx, http.MethodGet, "/api/workflows/"+url.PathEscape(workflowID)+"/executions"+limitQuery(limit), nil, &out)
	return out, err
}

func (c *Client) GetExecution(ctx context.Context, id string) (*wf.Execution, error) {
	var out wf.Execution
	if _, err := c.doJSON(ctx, http.MethodGet, "/api/executions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetJob(ctx context.Context, id string) (*queue.Job, error) {
	var out queue.Job
	if _, err := c.doJSON(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListFailedJobs returns dead-lettered jobs. Admin only.
func (c *Client) ListFailedJobs(ctx context.Context, limit int) ([]queue.DLQEntry, error) {
	var out []queue.DLQEntry
	_, err := c.doJSON(ctx, http.MethodGet, "/api/jobs/failed"+limitQuery(limit), nil, &out)
	return out, err
}

func (c *Client) ListUsers(ctx context.Context, limit int) ([]users.Profile, error) {
	var out []users.Profile
	_, err := c.doJSON(ctx, http.MethodGet, "/api/users"+limitQuery(limit), nil, &out)
	return out, err
}

func (c *Client) GetUser(ctx context.Context, id string) (*users.Profile, error) {
	var out users.Profile
	if _, err := c.doJSON(ctx, http.MethodGet, "/api/users/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateUser(ctx context.Context, req *CreateUserRequest) (*users.Profile, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	var out users.Profile
	if _, err := c.doJSON(ctx, http.MethodPost, "/api/users", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateUser(ctx context.Context, id string, req *UpdateUserRequest) (*users.Profile, error) {
	if req == nil {
		req = &UpdateUserRequest{}
	}
	var out users.Profile
	if _, err := c.doJSON(ctx, http.MethodPut, "/api/users/"+url.PathEscape(id), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	_, err := c.doJSON(ctx, http.MethodDelete, "/api/users/"+url.PathEscape(id), nil, nil)
	return err
}
