package generate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ideaforge/internal/domain"
	"ideaforge/internal/engine"
)

// DirSink writes artifacts under Root/<project_id>/<plan name>/ and reports
// each file relative to Root/<project_id>.
type DirSink struct {
	Root string
}

func (s DirSink) Write(ctx context.Context, idea domain.Idea, plan engine.Plan, step engine.Step, content string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rel, err := safeJoin(plan.Name, step.Artifact)
	if err != nil {
		return "", err
	}
	project, err := safeJoin(idea.ProjectID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.Root, project, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// safeJoin joins relative path parts and refuses anything escaping the base.
func safeJoin(parts ...string) (string, error) {
	joined := filepath.Clean(filepath.Join(parts...))
	if joined == "." || filepath.IsAbs(joined) || joined == ".." || strings.HasPrefix(joined, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid artifact path %q", filepath.Join(parts...))
	}
	return joined, nil
}
