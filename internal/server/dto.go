package server

import (
	"encoding/json"

	"ideaforge/internal/domain"
	"ideaforge/internal/repo"
)

// Request payloads

type CommandRequest struct {
	ProjectID string `json:"project_id" minLength:"1"`
	Text      string `json:"text"`
	UserID    string `json:"user_id,omitempty"`
}

type SubmitIdeaRequest struct {
	ProjectID string            `json:"project_id" minLength:"1"`
	Content   string            `json:"content" minLength:"1"`
	UserID    string            `json:"user_id,omitempty"`
	Priority  int               `json:"priority,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
}

type ProvideInputRequest struct {
	Values map[string]string `json:"values"`
}

// Response payloads

type CommandResponse struct {
	Result  domain.CommandResult `json:"result"`
	Routing domain.RoutingResult `json:"routing"`
}

type IdeaResponse struct {
	Idea   domain.Idea       `json:"idea"`
	Status domain.IdeaStatus `json:"status"`
}

type IdeaListResponse struct {
	Items []IdeaResponse `json:"items"`
}

type BudgetResponse struct {
	Today   domain.DailyBudget   `json:"today"`
	History []domain.DailyBudget `json:"history"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func ideaResponse(rec repo.IdeaRecord) IdeaResponse {
	return IdeaResponse{Idea: rec.Idea, Status: statusResponse(rec.Status)}
}

// statusResponse keeps files_created an array when a project is present.
func statusResponse(st domain.IdeaStatus) domain.IdeaStatus {
	if st.Project != nil && st.Project.FilesCreated == nil {
		st.Project.FilesCreated = []string{}
	}
	return st
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"raw": raw}
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
