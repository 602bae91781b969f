package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ideaforge/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// IdeaRecord pairs an Idea with its persisted status.
type IdeaRecord struct {
	Idea   domain.Idea
	Status domain.IdeaStatus
}

const ideaColumns = `i.id,i.seq,i.project_id,i.content,i.user_id,i.source,i.priority,i.context_json,i.submitted_at`
const statusColumns = `s.idea_id,s.phase,s.progress,s.project_json,s.error,s.updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanIdea(row scanner, extra ...any) (domain.Idea, error) {
	var i domain.Idea
	var ctxJSON string
	dest := append([]any{&i.ID, &i.Seq, &i.ProjectID, &i.Content, &i.UserID, &i.Source, &i.Priority, &ctxJSON, &i.SubmittedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return i, ErrNotFound
		}
		return i, err
	}
	if ctxJSON != "" && ctxJSON != "{}" {
		if err := json.Unmarshal([]byte(ctxJSON), &i.Context); err != nil {
			return i, fmt.Errorf("decode idea context %s: %w", i.ID, err)
		}
	}
	return i, nil
}

type statusScan struct {
	id, phase   string
	progress    float64
	projectJSON sql.NullString
	errMsg      sql.NullString
	updatedAt   string
}

func (s *statusScan) dest() []any {
	return []any{&s.id, &s.phase, &s.progress, &s.projectJSON, &s.errMsg, &s.updatedAt}
}

func (s *statusScan) status() (domain.IdeaStatus, error) {
	st := domain.IdeaStatus{
		ID:        s.id,
		Phase:     domain.Phase(s.phase),
		Progress:  s.progress,
		UpdatedAt: s.updatedAt,
	}
	if s.projectJSON.Valid && s.projectJSON.String != "" {
		var stored storedProject
		if err := json.Unmarshal([]byte(s.projectJSON.String), &stored); err != nil {
			return st, fmt.Errorf("decode project summary %s: %w", s.id, err)
		}
		st.Project = stored.Project
		st.Missing = stored.Missing
	}
	if s.errMsg.Valid {
		msg := s.errMsg.String
		st.Error = &msg
	}
	return st, nil
}

// storedProject is the project_json column: the summary plus any inputs a
// needs_input idea is waiting on.
type storedProject struct {
	Project *domain.ProjectSummary `json:"project,omitempty"`
	Missing []string               `json:"missing_inputs,omitempty"`
}

// InsertIdeaTx stores a new idea and assigns its submission sequence.
func (r Repo) InsertIdeaTx(ctx context.Context, tx *sql.Tx, idea domain.Idea) (domain.Idea, error) {
	if idea.ID == "" {
		return idea, errors.New("idea id required")
	}
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM ideas`).Scan(&idea.Seq); err != nil {
		return idea, fmt.Errorf("next idea seq: %w", err)
	}
	ctxJSON, err := marshalContext(idea.Context)
	if err != nil {
		return idea, err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO ideas(id,seq,project_id,content,user_id,source,priority,context_json,submitted_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		idea.ID, idea.Seq, idea.ProjectID, idea.Content, idea.UserID, idea.Source, idea.Priority, ctxJSON, idea.SubmittedAt)
	if err != nil {
		return idea, fmt.Errorf("insert idea: %w", err)
	}
	return idea, nil
}

// UpdateIdeaContextTx replaces the context bag; content stays immutable.
func (r Repo) UpdateIdeaContextTx(ctx context.Context, tx *sql.Tx, id string, values map[string]string) error {
	ctxJSON, err := marshalContext(values)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE ideas SET context_json=? WHERE id=?`, ctxJSON, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetIdea(ctx context.Context, id string) (domain.Idea, error) {
	return scanIdea(r.DB.QueryRowContext(ctx, `SELECT `+ideaColumns+` FROM ideas i WHERE i.id=?`, id))
}

// ListIdeas returns a project's ideas, newest first.
func (r Repo) ListIdeas(ctx context.Context, projectID string, limit int) ([]domain.Idea, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ideaColumns+` FROM ideas i WHERE i.project_id=? ORDER BY i.seq DESC LIMIT ?`, projectID, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Idea
	for rows.Next() {
		idea, err := scanIdea(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, idea)
	}
	return res, rows.Err()
}

// SearchIdeas matches idea content case-insensitively.
func (r Repo) SearchIdeas(ctx context.Context, projectID, query string, limit int) ([]domain.Idea, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ideaColumns+` FROM ideas i WHERE i.project_id=? AND i.content LIKE ? ESCAPE '\' ORDER BY i.seq DESC LIMIT ?`,
		projectID, likePattern(query), normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Idea
	for rows.Next() {
		idea, err := scanIdea(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, idea)
	}
	return res, rows.Err()
}

// UpsertStatusTx writes the one status record kept per idea.
func (r Repo) UpsertStatusTx(ctx context.Context, tx *sql.Tx, st domain.IdeaStatus) error {
	var projectJSON any
	if st.Project != nil || len(st.Missing) > 0 {
		b, err := json.Marshal(storedProject{Project: st.Project, Missing: st.Missing})
		if err != nil {
			return fmt.Errorf("marshal project summary: %w", err)
		}
		projectJSON = string(b)
	}
	var errMsg any
	if st.Error != nil {
		errMsg = *st.Error
	}
	if st.UpdatedAt == "" {
		st.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO idea_status(idea_id,phase,progress,project_json,error,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(idea_id) DO UPDATE SET phase=excluded.phase, progress=excluded.progress, project_json=excluded.project_json, error=excluded.error, updated_at=excluded.updated_at`,
		st.ID, string(st.Phase), st.Progress, projectJSON, errMsg, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert idea status: %w", err)
	}
	return nil
}

func (r Repo) GetStatus(ctx context.Context, id string) (domain.IdeaStatus, error) {
	var s statusScan
	err := r.DB.QueryRowContext(ctx, `SELECT `+statusColumns+` FROM idea_status s WHERE s.idea_id=?`, id).Scan(s.dest()...)
	if err == sql.ErrNoRows {
		return domain.IdeaStatus{}, ErrNotFound
	}
	if err != nil {
		return domain.IdeaStatus{}, err
	}
	return s.status()
}

type StatusFilters struct {
	ProjectID string
	Phase     string
	Limit     int
}

// ListRecords returns ideas with their statuses, most recently updated first.
func (r Repo) ListRecords(ctx context.Context, f StatusFilters) ([]IdeaRecord, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "i.project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Phase != "" {
		clauses = append(clauses, "s.phase=?")
		args = append(args, f.Phase)
	}
	args = append(args, normalizeLimit(f.Limit))
	query := fmt.Sprintf(`SELECT %s,%s FROM ideas i JOIN idea_status s ON s.idea_id=i.id WHERE %s ORDER BY s.updated_at DESC, i.seq DESC LIMIT ?`,
		ideaColumns, statusColumns, strings.Join(clauses, " AND "))
	return r.queryRecords(ctx, query, args...)
}

// Unfinished returns every idea not yet completed or failed, in submission order.
func (r Repo) Unfinished(ctx context.Context) ([]IdeaRecord, error) {
	query := fmt.Sprintf(`SELECT %s,%s FROM ideas i JOIN idea_status s ON s.idea_id=i.id WHERE s.phase NOT IN (?,?) ORDER BY i.seq ASC`, ideaColumns, statusColumns)
	return r.queryRecords(ctx, query, string(domain.PhaseCompleted), string(domain.PhaseFailed))
}

func (r Repo) queryRecords(ctx context.Context, query string, args ...any) ([]IdeaRecord, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []IdeaRecord
	for rows.Next() {
		var s statusScan
		idea, err := scanIdea(rows, s.dest()...)
		if err != nil {
			return nil, err
		}
		st, err := s.status()
		if err != nil {
			return nil, err
		}
		res = append(res, IdeaRecord{Idea: idea, Status: st})
	}
	return res, rows.Err()
}

func marshalContext(values map[string]string) (string, error) {
	if len(values) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshal idea context: %w", err)
	}
	return string(b), nil
}

func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(q)) + "%"
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
