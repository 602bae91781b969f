package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ideaforge/internal/domain"
	"ideaforge/internal/events"
	"ideaforge/internal/repo"
)

// Store is the durable side of the engine. Every method is atomic: the status
// record and its audit event commit together or not at all.
type Store interface {
	CreateIdea(ctx context.Context, idea domain.Idea, st domain.IdeaStatus) (domain.Idea, error)
	SaveStatus(ctx context.Context, idea domain.Idea, from domain.Phase, st domain.IdeaStatus, evtType string) error
	SaveInput(ctx context.Context, idea domain.Idea, values map[string]string, actorID string) error
	GetIdea(ctx context.Context, id string) (domain.Idea, error)
	GetStatus(ctx context.Context, id string) (domain.IdeaStatus, error)
	List(ctx context.Context, f repo.StatusFilters) ([]repo.IdeaRecord, error)
	Unfinished(ctx context.Context) ([]repo.IdeaRecord, error)
}

// SQLStore persists ideas through repo and the audit event writer.
type SQLStore struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
}

func NewSQLStore(db *sql.DB) SQLStore {
	return SQLStore{DB: db, Repo: repo.Repo{DB: db}, Events: events.Writer{}}
}

func (s SQLStore) CreateIdea(ctx context.Context, idea domain.Idea, st domain.IdeaStatus) (domain.Idea, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return idea, err
	}
	defer tx.Rollback()
	idea, err = s.Repo.InsertIdeaTx(ctx, tx, idea)
	if err != nil {
		return idea, err
	}
	if err := s.Repo.UpsertStatusTx(ctx, tx, st); err != nil {
		return idea, err
	}
	if err := s.Events.Append(ctx, tx, events.Event{
		Type:       events.IdeaSubmitted,
		ProjectID:  idea.ProjectID,
		EntityKind: "idea",
		EntityID:   idea.ID,
		ActorID:    actorOrSource(idea),
		Payload:    events.Payload{"source": idea.Source, "priority": idea.Priority},
	}); err != nil {
		return idea, err
	}
	if err := tx.Commit(); err != nil {
		return idea, err
	}
	return idea, nil
}

func (s SQLStore) SaveStatus(ctx context.Context, idea domain.Idea, from domain.Phase, st domain.IdeaStatus, evtType string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.Repo.UpsertStatusTx(ctx, tx, st); err != nil {
		return err
	}
	payload := events.Payload{"from": string(from), "to": string(st.Phase), "progress": st.Progress}
	if st.Error != nil {
		payload["error"] = *st.Error
	}
	if len(st.Missing) > 0 {
		payload["missing_inputs"] = st.Missing
	}
	if err := s.Events.Append(ctx, tx, events.Event{
		Type:       evtType,
		ProjectID:  idea.ProjectID,
		EntityKind: "idea",
		EntityID:   idea.ID,
		Payload:    payload,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s SQLStore) SaveInput(ctx context.Context, idea domain.Idea, values map[string]string, actorID string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.Repo.UpdateIdeaContextTx(ctx, tx, idea.ID, idea.Context); err != nil {
		return err
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	if err := s.Events.Append(ctx, tx, events.Event{
		Type:       events.IdeaInput,
		ProjectID:  idea.ProjectID,
		EntityKind: "idea",
		EntityID:   idea.ID,
		ActorID:    actorID,
		Payload:    events.Payload{"keys": keys},
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s SQLStore) GetIdea(ctx context.Context, id string) (domain.Idea, error) {
	idea, err := s.Repo.GetIdea(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return idea, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return idea, err
}

func (s SQLStore) GetStatus(ctx context.Context, id string) (domain.IdeaStatus, error) {
	st, err := s.Repo.GetStatus(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return st, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return st, err
}

func (s SQLStore) List(ctx context.Context, f repo.StatusFilters) ([]repo.IdeaRecord, error) {
	return s.Repo.ListRecords(ctx, f)
}

func (s SQLStore) Unfinished(ctx context.Context) ([]repo.IdeaRecord, error) {
	return s.Repo.Unfinished(ctx)
}

func actorOrSource(idea domain.Idea) string {
	if idea.UserID != "" {
		return idea.UserID
	}
	return idea.Source
}
