package daemon

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"ideaforge/internal/domain"
)

// Mirror writes each idea's status to <dir>/<id>.status.json whenever it
// changes, and <dir>/<id>.result.json once the idea completes.
type Mirror struct {
	Dir string

	seen   map[string]string
	result map[string]bool
}

func NewMirror(dir string) *Mirror {
	return &Mirror{Dir: dir, seen: map[string]string{}, result: map[string]bool{}}
}

// Sync writes the records that changed since the previous call and
// returns how many files it wrote.
func (m *Mirror) Sync(statuses []domain.IdeaStatus) (int, error) {
	written := 0
	for _, st := range statuses {
		key := fmt.Sprintf("%s|%g|%s", st.Phase, st.Progress, st.UpdatedAt)
		if m.seen[st.ID] != key {
			if err := m.write(st.ID+".status.json", st); err != nil {
				return written, err
			}
			m.seen[st.ID] = key
			written++
		}
		if st.Phase == domain.PhaseCompleted && !m.result[st.ID] {
			if err := m.write(st.ID+".result.json", st); err != nil {
				return written, err
			}
			m.result[st.ID] = true
			written++
		}
	}
	return written, nil
}

func (m *Mirror) write(name string, st domain.IdeaStatus) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(m.Dir, name), append(data, '\n'))
}

// StatusPath is where the status record for id is written.
func (m *Mirror) StatusPath(id string) string {
	return filepath.Join(m.Dir, id+".status.json")
}

// ResultPath is where the result record for id is written.
func (m *Mirror) ResultPath(id string) string {
	return filepath.Join(m.Dir, id+".result.json")
}
