package ideaforgesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal ideaforge HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

type Routing struct {
	Domain     string  `json:"domain"`
	Mode       string  `json:"mode"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

type CommandResult struct {
	Success          bool           `json:"success"`
	Message          string         `json:"message"`
	NextSteps        []string       `json:"next_steps"`
	Data             map[string]any `json:"data,omitempty"`
	SuggestedActions []string       `json:"suggested_actions,omitempty"`
}

type CommandResponse struct {
	Result  CommandResult `json:"result"`
	Routing Routing       `json:"routing"`
}

type Idea struct {
	ID          string            `json:"id"`
	ProjectID   string            `json:"project_id"`
	Content     string            `json:"content"`
	UserID      string            `json:"user_id,omitempty"`
	Source      string            `json:"source"`
	SubmittedAt string            `json:"submitted_at"`
	Priority    int               `json:"priority"`
	Context     map[string]string `json:"context,omitempty"`
}

type Project struct {
	Name         string   `json:"name"`
	FilesCreated []string `json:"files_created"`
}

type IdeaStatus struct {
	ID            string   `json:"id"`
	Phase         string   `json:"phase"`
	Progress      float64  `json:"progress"`
	Project       *Project `json:"project"`
	Error         *string  `json:"error"`
	MissingInputs []string `json:"missing_inputs,omitempty"`
	UpdatedAt     string   `json:"updated_at,omitempty"`
}

// Terminal reports whether the idea will not change again.
func (s IdeaStatus) Terminal() bool {
	return s.Phase == "completed" || s.Phase == "failed"
}

type IdeaView struct {
	Idea   Idea       `json:"idea"`
	Status IdeaStatus `json:"status"`
}

type SubmitIdeaRequest struct {
	Content  string            `json:"content"`
	Priority int               `json:"priority,omitempty"`
	Context  map[string]string `json:"context,omitempty"`
	UserID   string            `json:"user_id,omitempty"`
}

type DailyBudget struct {
	ProjectID      string  `json:"project_id"`
	Day            string  `json:"day"`
	TotalCost      float64 `json:"total_cost"`
	Limit          float64 `json:"limit"`
	CallCount      int     `json:"call_count"`
	Remaining      float64 `json:"remaining"`
	PercentageUsed float64 `json:"percentage_used"`
	Reserved       float64 `json:"reserved,omitempty"`
}

type Budget struct {
	Today   DailyBudget   `json:"today"`
	History []DailyBudget `json:"history"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "v0/health", nil, nil)
}

// Command sends free-form text through the gateway.
func (c *Client) Command(ctx context.Context, text string) (CommandResponse, error) {
	body := map[string]any{"project_id": c.ProjectID, "text": text}
	var resp CommandResponse
	err := c.do(ctx, http.MethodPost, "v0/commands", body, &resp)
	return resp, err
}

// SubmitIdea queues an idea for background incubation.
func (c *Client) SubmitIdea(ctx context.Context, in SubmitIdeaRequest) (IdeaView, error) {
	body := map[string]any{"project_id": c.ProjectID, "content": in.Content}
	if in.Priority != 0 {
		body["priority"] = in.Priority
	}
	if len(in.Context) > 0 {
		body["context"] = in.Context
	}
	if in.UserID != "" {
		body["user_id"] = in.UserID
	}
	var resp IdeaView
	err := c.do(ctx, http.MethodPost, "v0/ideas", body, &resp)
	return resp, err
}

// Idea fetches an idea and its status.
func (c *Client) Idea(ctx context.Context, id string) (IdeaView, error) {
	var resp IdeaView
	err := c.do(ctx, http.MethodGet, "v0/ideas/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Ideas lists the project's recent ideas. An empty phase lists all.
func (c *Client) Ideas(ctx context.Context, phase string, limit int) ([]IdeaView, error) {
	q := url.Values{}
	q.Set("project_id", c.ProjectID)
	if phase != "" {
		q.Set("phase", phase)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var resp struct {
		Items []IdeaView `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/ideas?"+q.Encode(), nil, &resp)
	return resp.Items, err
}

// ProvideInput answers the inputs an idea in needs_input asked for.
func (c *Client) ProvideInput(ctx context.Context, id string, values map[string]string) (IdeaView, error) {
	var resp IdeaView
	err := c.do(ctx, http.MethodPost, "v0/ideas/"+url.PathEscape(id)+"/input", map[string]any{"values": values}, &resp)
	return resp, err
}

// WaitIdea polls until the idea reaches a terminal phase or wantPhase.
func (c *Client) WaitIdea(ctx context.Context, id, wantPhase string, every time.Duration) (IdeaView, error) {
	if every <= 0 {
		every = 500 * time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		view, err := c.Idea(ctx, id)
		if err != nil {
			return view, err
		}
		if view.Status.Phase == wantPhase || view.Status.Terminal() {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return view, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Budget returns today's spend and up to days of history.
func (c *Client) Budget(ctx context.Context, days int) (Budget, error) {
	endpoint := fmt.Sprintf("v0/projects/%s/budget", url.PathEscape(c.ProjectID))
	if days > 0 {
		endpoint = fmt.Sprintf("%s?days=%d", endpoint, days)
	}
	var resp Budget
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// EventsPage returns a page of audit events, newest first.
func (c *Client) EventsPage(ctx context.Context, ideaID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	q.Set("project_id", c.ProjectID)
	if ideaID != "" {
		q.Set("idea_id", ideaID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, "v0/events?"+q.Encode(), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
