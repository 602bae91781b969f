// Package mcp exposes the gateway and idea lifecycle as MCP tools over stdio.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"ideaforge/internal/domain"
	"ideaforge/internal/gateway"
)

type Commands interface {
	ProcessCommand(ctx context.Context, cmd gateway.Command) gateway.Outcome
}

type Ideas interface {
	Status(ctx context.Context, id string) (domain.IdeaStatus, error)
	Idea(ctx context.Context, id string) (domain.Idea, error)
	ProvideInput(ctx context.Context, id string, values map[string]string, actorID string) (domain.Idea, error)
}

type Budget interface {
	DailySummary(ctx context.Context, projectID string) (domain.DailyBudget, error)
}

// Config wires the tools to the running system. ProjectID is used when a
// call names no project; ClientID is recorded as the acting user.
type Config struct {
	Commands  Commands
	Ideas     Ideas
	Budget    Budget
	ProjectID string
	ClientID  string
	Version   string
}

var (
	processCommandTool = mcp.NewTool("process_command",
		mcp.WithDescription("Route a free-form request (tasks, calendar, messages, search, project ideas, budget) and run it."),
		mcp.WithString("text", mcp.Required(), mcp.Description("What the user asked for, verbatim")),
		mcp.WithString("project_id", mcp.Description("Project the command applies to; defaults to the configured project")),
		mcp.WithString("user_id", mcp.Description("Acting user; defaults to the MCP client")),
	)
	ideaStatusTool = mcp.NewTool("idea_status",
		mcp.WithDescription("Report an idea's phase, progress, generated files and failure reason."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Idea id returned when it was submitted")),
	)
	ideaInputTool = mcp.NewTool("idea_input",
		mcp.WithDescription("Answer the inputs an idea in needs_input is waiting for so generation can resume."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Idea id")),
		mcp.WithObject("values", mcp.Required(), mcp.Description("Input name to value, e.g. {\"template\": \"web\"}")),
	)
	budgetSummaryTool = mcp.NewTool("budget_summary",
		mcp.WithDescription("Today's spend, limit and remaining budget for a project."),
		mcp.WithString("project_id", mcp.Description("Project to report on; defaults to the configured project")),
	)
)

type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

var toolRegistry = []toolEntry{
	{def: processCommandTool, handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProcessCommand }},
	{def: ideaStatusTool, handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleIdeaStatus }},
	{def: ideaInputTool, handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleIdeaInput }},
	{def: budgetSummaryTool, handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBudgetSummary }},
}

// ToolNames lists the registered tools in registration order.
func ToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for _, t := range toolRegistry {
		names = append(names, t.def.Name)
	}
	return names
}

func NewServer(cfg Config) *server.MCPServer {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer("ideaforge", version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	h := NewHandlers(cfg)
	for _, t := range toolRegistry {
		s.AddTool(t.def, t.handler(h))
	}
	return s
}

// Run serves the tools on stdin/stdout until the client disconnects.
func Run(cfg Config) error {
	return server.ServeStdio(NewServer(cfg))
}
