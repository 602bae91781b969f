package repo

import (
	"context"

	"ideaforge/internal/domain"
)

func (r Repo) InsertGatewayItem(ctx context.Context, item domain.GatewayItem) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO gateway_items(id,project_id,domain,content,created_at) VALUES (?,?,?,?,?)`,
		item.ID, item.ProjectID, item.Domain, item.Content, item.CreatedAt)
	return err
}

// ListGatewayItems returns a domain's items, newest first. An empty domain
// lists every domain.
func (r Repo) ListGatewayItems(ctx context.Context, projectID, domainName string, limit int) ([]domain.GatewayItem, error) {
	query := `SELECT id,project_id,domain,content,created_at FROM gateway_items WHERE project_id=?`
	args := []any{projectID}
	if domainName != "" {
		query += ` AND domain=?`
		args = append(args, domainName)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, normalizeLimit(limit))
	return r.queryItems(ctx, query, args...)
}

// SearchGatewayItems matches item content across every domain.
func (r Repo) SearchGatewayItems(ctx context.Context, projectID, query string, limit int) ([]domain.GatewayItem, error) {
	return r.queryItems(ctx, `SELECT id,project_id,domain,content,created_at FROM gateway_items WHERE project_id=? AND content LIKE ? ESCAPE '\' ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		projectID, likePattern(query), normalizeLimit(limit))
}

func (r Repo) queryItems(ctx context.Context, query string, args ...any) ([]domain.GatewayItem, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.GatewayItem
	for rows.Next() {
		var it domain.GatewayItem
		if err := rows.Scan(&it.ID, &it.ProjectID, &it.Domain, &it.Content, &it.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}
