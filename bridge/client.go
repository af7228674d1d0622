package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client is the typed HTTP client for the broker, used by the permission
// gate and the operator CLI. Registration gets a slightly generous timeout;
// polls stay short so a wedged broker surfaces quickly.
type Client struct {
	BaseURL string

	// RegisterTimeout bounds registration calls (default 5s).
	RegisterTimeout time.Duration
	// PollTimeout bounds poll/lookup calls (default 3s).
	PollTimeout time.Duration

	HTTPClient *http.Client
	Log        *slog.Logger
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:         strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		RegisterTimeout: 5 * time.Second,
		PollTimeout:     3 * time.Second,
		HTTPClient:      &http.Client{},
	}
}

// RegisterPermission submits an action-permission registration and returns
// the assigned task id and the registration status (queued | auto_allowed).
func (c *Client) RegisterPermission(ctx context.Context, req PermissionRequest) (string, string, error) {
	var resp struct {
		Status string `json:"status"`
		TaskID string `json:"task_id"`
	}
	err := c.do(ctx, http.MethodPost, "/permission/request", c.registerTimeout(), req, &resp)
	if err != nil {
		return "", "", err
	}
	return resp.TaskID, resp.Status, nil
}

// PollDecision fetches the current decision for a permission task id.
func (c *Client) PollDecision(ctx context.Context, taskID string) (DecisionResult, error) {
	var resp DecisionResult
	err := c.do(ctx, http.MethodGet, "/permission/result/"+taskID, c.pollTimeout(), nil, &resp)
	if err != nil {
		return DecisionResult{}, err
	}
	if resp.Decision == "" {
		resp.Decision = DecisionPending
	}
	return resp, nil
}

// PendingPermissions lists undecided permission requests, oldest first.
func (c *Client) PendingPermissions(ctx context.Context) ([]PermissionRequest, error) {
	var resp []PermissionRequest
	if err := c.do(ctx, http.MethodGet, "/permission/pending", c.pollTimeout(), nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SubmitDecision posts the operator's decision for a permission request.
func (c *Client) SubmitDecision(ctx context.Context, taskID string, decision PermissionDecision, edit json.RawMessage) error {
	body := map[string]any{
		"task_id":  taskID,
		"decision": string(decision),
	}
	if len(edit) > 0 {
		body["edit_data"] = edit
	}
	return c.do(ctx, http.MethodPost, "/permission/result", c.registerTimeout(), body, nil)
}

// AllowAllStatus mirrors GET /permission/allow_all_status.
type AllowAllStatus struct {
	Active               bool   `json:"active"`
	ExpiresAt            string `json:"expires_at,omitempty"`
	TimeRemainingSeconds int    `json:"time_remaining_seconds"`
}

// SetAllowAll opens (or, with minutes <= 0, revokes) the broker-side
// blanket-approval window.
func (c *Client) SetAllowAll(ctx context.Context, minutes int) error {
	body := map[string]any{"duration_minutes": minutes}
	return c.do(ctx, http.MethodPost, "/permission/set_allow_all", c.registerTimeout(), body, nil)
}

// GetAllowAllStatus queries the broker-side window state.
func (c *Client) GetAllowAllStatus(ctx context.Context) (AllowAllStatus, error) {
	var resp AllowAllStatus
	err := c.do(ctx, http.MethodGet, "/permission/allow_all_status", c.pollTimeout(), nil, &resp)
	return resp, err
}

// RegisterTask queues a content task for the remote UI overlay.
func (c *Client) RegisterTask(ctx context.Context, taskType, contentPreview, actionLabel string) (string, error) {
	body := map[string]any{
		"task_type":       taskType,
		"content_preview": contentPreview,
		"action_label":    actionLabel,
	}
	var resp struct {
		TaskID string `json:"task_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/extension/register_task", c.registerTimeout(), body, &resp); err != nil {
		return "", err
	}
	return resp.TaskID, nil
}

// NextTask fetches the task the remote UI should display next. ok is false
// when the queue has nothing pending.
func (c *Client) NextTask(ctx context.Context) (TaskRecord, bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/extension/get_task", nil)
	if err != nil {
		return TaskRecord{}, false, err
	}
	data, err := c.roundTrip(req, c.pollTimeout())
	if err != nil {
		return TaskRecord{}, false, err
	}
	if strings.TrimSpace(string(data)) == "null" {
		return TaskRecord{}, false, nil
	}
	var rec TaskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return TaskRecord{}, false, err
	}
	return rec, rec.TaskID != "", nil
}

// PendingTasks lists undecided content tasks, oldest first.
func (c *Client) PendingTasks(ctx context.Context) ([]TaskRecord, error) {
	var resp []TaskRecord
	if err := c.do(ctx, http.MethodGet, "/extension/tasks", c.pollTimeout(), nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetTask looks up one content task including its decision.
func (c *Client) GetTask(ctx context.Context, taskID string) (TaskRecord, error) {
	var resp TaskRecord
	err := c.do(ctx, http.MethodGet, "/extension/tasks/"+taskID, c.pollTimeout(), nil, &resp)
	return resp, err
}

// SubmitTaskDecision posts approve/cancel/edit for a content task.
func (c *Client) SubmitTaskDecision(ctx context.Context, taskID string, act TaskAction, editedContent string) error {
	body := map[string]any{
		"task_id":        taskID,
		"action":         string(act),
		"edited_content": editedContent,
	}
	return c.do(ctx, http.MethodPost, "/extension/approval", c.registerTimeout(), body, nil)
}

// Status fetches the broker's queue statistics.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	var resp map[string]any
	err := c.do(ctx, http.MethodGet, "/extension/status", c.pollTimeout(), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, timeout time.Duration, body any, out any) error {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, payload)
	if err != nil {
		return err
	}
	data, err := c.roundTrip(req, timeout)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("missing bridge base url")
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) roundTrip(req *http.Request, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		ctx, cancel := context.WithTimeout(req.Context(), timeout)
		defer cancel()
		req = req.WithContext(ctx)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && strings.TrimSpace(apiErr.Error) != "" {
			msg = apiErr.Error
		}
		return nil, fmt.Errorf("bridge returned %d: %s", resp.StatusCode, msg)
	}
	return data, nil
}

func (c *Client) registerTimeout() time.Duration {
	if c.RegisterTimeout > 0 {
		return c.RegisterTimeout
	}
	return 5 * time.Second
}

func (c *Client) pollTimeout() time.Duration {
	if c.PollTimeout > 0 {
		return c.PollTimeout
	}
	return 3 * time.Second
}
