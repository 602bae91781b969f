package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"ideaforge/internal/domain"
	"ideaforge/internal/engine"
	"ideaforge/internal/gateway"
	"ideaforge/internal/repo"
)

type Handlers struct {
	commands  Commands
	ideas     Ideas
	budget    Budget
	projectID string
	clientID  string
}

func NewHandlers(cfg Config) *Handlers {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "mcp"
	}
	return &Handlers{
		commands:  cfg.Commands,
		ideas:     cfg.Ideas,
		budget:    cfg.Budget,
		projectID: cfg.ProjectID,
		clientID:  clientID,
	}
}

type CommandRequest struct {
	Text      string `json:"text"`
	ProjectID string `json:"project_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

type IdeaRequest struct {
	ID string `json:"id"`
}

type InputRequest struct {
	ID     string            `json:"id"`
	Values map[string]string `json:"values"`
}

type BudgetRequest struct {
	ProjectID string `json:"project_id,omitempty"`
}

type IdeaOutput struct {
	Idea   domain.Idea       `json:"idea"`
	Status domain.IdeaStatus `json:"status"`
}

// toolError is a caller mistake reported back with a stable code.
type toolError struct {
	code    string
	status  int
	message string
}

func (e *toolError) Error() string { return e.message }

func invalid(msg string) error {
	return &toolError{code: "INVALID_REQUEST", status: http.StatusBadRequest, message: msg}
}

func (h *Handlers) project(requested string) string {
	if p := strings.TrimSpace(requested); p != "" {
		return p
	}
	return h.projectID
}

func (h *Handlers) HandleProcessCommand(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CommandRequest](req)
	if err != nil {
		return errorResult(invalid(err.Error())), nil
	}
	projectID := h.project(input.ProjectID)
	if projectID == "" {
		return errorResult(invalid("project_id required")), nil
	}
	userID := input.UserID
	if userID == "" {
		userID = h.clientID
	}
	out := h.commands.ProcessCommand(ctx, gateway.Command{ProjectID: projectID, UserID: userID, Text: input.Text})
	return successResult(out)
}

func (h *Handlers) HandleIdeaStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IdeaRequest](req)
	if err != nil {
		return errorResult(invalid(err.Error())), nil
	}
	if strings.TrimSpace(input.ID) == "" {
		return errorResult(invalid("id required")), nil
	}
	return h.ideaOutput(ctx, input.ID, nil)
}

func (h *Handlers) HandleIdeaInput(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[InputRequest](req)
	if err != nil {
		return errorResult(invalid(err.Error())), nil
	}
	if strings.TrimSpace(input.ID) == "" {
		return errorResult(invalid("id required")), nil
	}
	if len(input.Values) == 0 {
		return errorResult(invalid("values required")), nil
	}
	idea, err := h.ideas.ProvideInput(ctx, input.ID, input.Values, h.clientID)
	if err != nil {
		return errorResult(err), nil
	}
	return h.ideaOutput(ctx, input.ID, &idea)
}

func (h *Handlers) HandleBudgetSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[BudgetRequest](req)
	if err != nil {
		return errorResult(invalid(err.Error())), nil
	}
	projectID := h.project(input.ProjectID)
	if projectID == "" {
		return errorResult(invalid("project_id required")), nil
	}
	sum, err := h.budget.DailySummary(ctx, projectID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(sum)
}

func (h *Handlers) ideaOutput(ctx context.Context, id string, idea *domain.Idea) (*mcp.CallToolResult, error) {
	if idea == nil {
		got, err := h.ideas.Idea(ctx, id)
		if err != nil {
			return errorResult(err), nil
		}
		idea = &got
	}
	st, err := h.ideas.Status(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(IdeaOutput{Idea: *idea, Status: st})
}

// errorResult reports err with IsError set. Unexpected errors are reported
// as INTERNAL without their text.
func errorResult(err error) *mcp.CallToolResult {
	code, status, msg := "INTERNAL", http.StatusInternalServerError, "an internal error occurred"
	var te *toolError
	switch {
	case errors.As(err, &te):
		code, status, msg = te.code, te.status, te.message
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, repo.ErrNotFound):
		code, status, msg = "NOT_FOUND", http.StatusNotFound, err.Error()
	case errors.Is(err, engine.ErrNotAwaitingInput):
		code, status, msg = "CONFLICT", http.StatusConflict, err.Error()
	case errors.Is(err, engine.ErrStopped):
		code, status, msg = "UNAVAILABLE", http.StatusServiceUnavailable, err.Error()
	}
	content, _ := json.Marshal(map[string]any{
		"error": map[string]any{"code": code, "message": msg, "status": status},
	})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
