package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"ideaforge/internal/engine"
	"ideaforge/internal/gateway"
	"ideaforge/internal/repo"
)

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerCommands(api huma.API, commands Commands) {
	huma.Register(api, huma.Operation{
		OperationID: "process-command",
		Method:      http.MethodPost,
		Path:        "/commands",
		Summary:     "Classify and run a free-form command",
		Description: "Always answers 200; unrecognised commands come back with success=false and suggested actions.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CommandRequest `json:"body"`
	}) (*struct {
		Body CommandResponse `json:"body"`
	}, error) {
		userID, authErr := userFor(ctx, input.Body.UserID)
		if authErr != nil {
			return nil, authErr
		}
		out := commands.ProcessCommand(ctx, gateway.Command{
			ProjectID: strings.TrimSpace(input.Body.ProjectID),
			UserID:    userID,
			Text:      input.Body.Text,
		})
		return &struct {
			Body CommandResponse `json:"body"`
		}{Body: CommandResponse{Result: out.Result, Routing: out.Routing}}, nil
	})
}

func registerIdeas(api huma.API, ideas Ideas) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-idea",
		Method:      http.MethodPost,
		Path:        "/ideas",
		Summary:     "Submit an idea for background incubation",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body SubmitIdeaRequest `json:"body"`
	}) (*struct {
		Body IdeaResponse `json:"body"`
	}, error) {
		userID, authErr := userFor(ctx, input.Body.UserID)
		if authErr != nil {
			return nil, authErr
		}
		idea, err := ideas.Submit(ctx, engine.NewIdea{
			ProjectID: strings.TrimSpace(input.Body.ProjectID),
			Content:   input.Body.Content,
			UserID:    userID,
			Source:    "api",
			Priority:  input.Body.Priority,
			Context:   input.Body.Context,
		})
		if err != nil {
			return nil, handleError(err)
		}
		st, err := ideas.Status(ctx, idea.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IdeaResponse `json:"body"`
		}{Body: ideaResponse(repo.IdeaRecord{Idea: idea, Status: st})}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-ideas",
		Method:      http.MethodGet,
		Path:        "/ideas",
		Summary:     "List recent ideas with their status",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		Phase     string `query:"phase" enum:"queued,analyzing,generating,needs_input,completed,failed"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body IdeaListResponse `json:"body"`
	}, error) {
		recs, err := ideas.ListStatuses(ctx, repo.StatusFilters{
			ProjectID: input.ProjectID,
			Phase:     input.Phase,
			Limit:     normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := IdeaListResponse{Items: make([]IdeaResponse, 0, len(recs))}
		for _, rec := range recs {
			resp.Items = append(resp.Items, ideaResponse(rec))
		}
		return &struct {
			Body IdeaListResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-idea",
		Method:      http.MethodGet,
		Path:        "/ideas/{id}",
		Summary:     "Get an idea and its current status",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body IdeaResponse `json:"body"`
	}, error) {
		idea, err := ideas.Idea(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		st, err := ideas.Status(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IdeaResponse `json:"body"`
		}{Body: ideaResponse(repo.IdeaRecord{Idea: idea, Status: st})}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "provide-idea-input",
		Method:      http.MethodPost,
		Path:        "/ideas/{id}/input",
		Summary:     "Supply the inputs an idea in needs_input is waiting for",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body ProvideInputRequest `json:"body"`
	}) (*struct {
		Body IdeaResponse `json:"body"`
	}, error) {
		if len(input.Body.Values) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "values required", nil)
		}
		clientID, authErr := clientIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		idea, err := ideas.ProvideInput(ctx, input.ID, input.Body.Values, clientID)
		if err != nil {
			return nil, handleError(err)
		}
		st, err := ideas.Status(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IdeaResponse `json:"body"`
		}{Body: ideaResponse(repo.IdeaRecord{Idea: idea, Status: st})}, nil
	})
}

func registerBudget(api huma.API, b Budget) {
	huma.Register(api, huma.Operation{
		OperationID: "get-budget",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/budget",
		Summary:     "Today's spend against the daily limit, with recent history",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Days      int    `query:"days" default:"7" minimum:"0" maximum:"90"`
	}) (*struct {
		Body BudgetResponse `json:"body"`
	}, error) {
		today, err := b.DailySummary(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		history, err := b.History(ctx, input.ProjectID, input.Days)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BudgetResponse `json:"body"`
		}{Body: BudgetResponse{Today: today, History: nonNilSlice(history)}}, nil
	})
}

func registerEvents(api huma.API, events Events) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		IdeaID    string `query:"idea_id"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursor int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursor = parsed
		}
		kind := ""
		if input.IdeaID != "" {
			kind = "idea"
		}
		items, err := events.LatestEvents(ctx, limit+1, cursor, input.ProjectID, kind, input.IdeaID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

// userFor defaults the acting user to the authenticated client.
func userFor(ctx context.Context, requested string) (string, huma.StatusError) {
	clientID, authErr := clientIDFromContext(ctx)
	if authErr != nil {
		return "", authErr
	}
	if u := strings.TrimSpace(requested); u != "" {
		return u, nil
	}
	return clientID, nil
}
