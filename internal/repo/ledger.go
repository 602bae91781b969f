package repo

import (
	"context"

	"ideaforge/internal/budget"
	"ideaforge/internal/domain"
)

// AppendCost stores one metered call under its calendar day.
func (r Repo) AppendCost(ctx context.Context, day string, e domain.CostLedgerEntry) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO cost_ledger(project_id,day,cost,tokens,ts) VALUES (?,?,?,?,?)`,
		e.ProjectID, day, e.Cost, e.Tokens, e.Timestamp)
	return err
}

func (r Repo) CostTotals(ctx context.Context, projectID, day string) (budget.DayTotal, error) {
	t := budget.DayTotal{Day: day}
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(cost),0), COALESCE(SUM(tokens),0), COUNT(*) FROM cost_ledger WHERE project_id=? AND day=?`,
		projectID, day).Scan(&t.Cost, &t.Tokens, &t.Calls)
	return t, err
}

func (r Repo) CostHistory(ctx context.Context, projectID string, limit int) ([]budget.DayTotal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT day, SUM(cost), SUM(tokens), COUNT(*) FROM cost_ledger WHERE project_id=? GROUP BY day ORDER BY day DESC LIMIT ?`,
		projectID, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []budget.DayTotal
	for rows.Next() {
		var t budget.DayTotal
		if err := rows.Scan(&t.Day, &t.Cost, &t.Tokens, &t.Calls); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CostEntries lists a day's raw ledger entries in insertion order.
func (r Repo) CostEntries(ctx context.Context, projectID, day string) ([]domain.CostLedgerEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,cost,tokens,ts FROM cost_ledger WHERE project_id=? AND day=? ORDER BY id ASC`, projectID, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CostLedgerEntry
	for rows.Next() {
		var e domain.CostLedgerEntry
		if err := rows.Scan(&e.ProjectID, &e.Cost, &e.Tokens, &e.Timestamp); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
