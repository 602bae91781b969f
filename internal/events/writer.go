package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	IdeaSubmitted  = "idea.submitted"
	IdeaTransition = "idea.transition"
	IdeaInput      = "idea.input"
	IdeaRecovered  = "idea.recovered"
)

// ActorEngine tags events produced by the scheduling loop itself.
const ActorEngine = "engine"

type Payload map[string]any

type Event struct {
	Type       string
	ProjectID  string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    Payload
}

type Writer struct {
	Now func() time.Time
}

// Append writes evt inside tx so it commits or rolls back with the state
// change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evt Event) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if evt.Payload == nil {
		evt.Payload = Payload{}
	}
	if evt.ActorID == "" {
		evt.ActorID = ActorEngine
	}
	data, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339Nano), evt.Type, nullable(evt.ProjectID), evt.EntityKind, nullable(evt.EntityID), evt.ActorID, string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", evt.Type, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
