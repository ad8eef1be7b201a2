// Package client talks to the task API and keeps a local view of the list
// reconciled with the server's authoritative order.
package client

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"todo-sync/domain"
)

// APIError carries a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// Client is an HTTP client for the task API.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// New creates a client for the given base URL and bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, want int) error {
	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	return sonic.ConfigStd.NewDecoder(resp.Body).Decode(out)
}

// CreateTaskRequest holds the fields accepted by the create endpoint.
type CreateTaskRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Priority    domain.Priority `json:"priority,omitempty"`
	DueDate     *time.Time      `json:"dueDate,omitempty"`
	Order       *int            `json:"order,omitempty"`
}

type reorderRequest struct {
	TaskIDs []string `json:"taskIds"`
}

// Tasks fetches the authoritative task list, sorted by order.
func (c *Client) Tasks(ctx context.Context) ([]domain.Task, error) {
	var tasks []domain.Task
	if err := c.do(ctx, http.MethodGet, "/api/tasks", nil, &tasks, http.StatusOK); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CreateTask creates a new task and returns the stored record.
func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (domain.Task, error) {
	var task domain.Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks", req, &task, http.StatusCreated); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

// UpdateTask applies a partial update and returns the updated record.
func (c *Client) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	var task domain.Task
	if err := c.do(ctx, http.MethodPatch, "/api/tasks/"+id, patch, &task, http.StatusOK); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

// DeleteTask removes a task by id.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+id, nil, nil, http.StatusNoContent)
}

// Reorder submits the full desired ordering of the caller's tasks.
func (c *Client) Reorder(ctx context.Context, taskIDs []string) error {
	return c.do(ctx, http.MethodPut, "/api/tasks/order", reorderRequest{TaskIDs: taskIDs}, nil, http.StatusNoContent)
}

// Subscription is a live change feed. Events are pure invalidation signals;
// subscribers re-fetch rather than trusting any embedded snapshot.
type Subscription struct {
	events chan domain.ChangeEvent
	done   chan struct{}
	err    error
}

// Events returns the channel change events arrive on. It is closed when the
// stream ends; Err reports why.
func (s *Subscription) Events() <-chan domain.ChangeEvent {
	return s.events
}

// Err returns the terminal stream error, if any, once Events is closed.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Subscribe opens the SSE change feed. The subscription ends when ctx is
// cancelled or the server closes the stream; missed events are not replayed,
// so a resubscribing client must re-fetch the full list unconditionally.
func (c *Client) Subscribe(ctx context.Context) (*Subscription, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/stream", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives any client-level request timeout.
	httpClient := &http.Client{Transport: c.transport()}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		resp.Body.Close()
		return nil, &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	sub := &Subscription{
		events: make(chan domain.ChangeEvent, 8),
		done:   make(chan struct{}),
	}
	go sub.read(ctx, resp.Body)
	return sub, nil
}

func (c *Client) transport() http.RoundTripper {
	if c.HTTPClient != nil && c.HTTPClient.Transport != nil {
		return c.HTTPClient.Transport
	}
	return http.DefaultTransport
}

func (s *Subscription) read(ctx context.Context, body io.ReadCloser) {
	defer close(s.events)
	defer close(s.done)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		// Comment lines (":ok", ":keepalive") carry no payload.
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev domain.ChangeEvent
		if err := sonic.UnmarshalString(strings.TrimPrefix(line, "data: "), &ev); err != nil {
			continue
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			s.err = ctx.Err()
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		s.err = err
	}
}
