package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Entry is one complete line read from a source. End is the offset just
// past the line, which Commit records.
type Entry struct {
	Text string
	End  int64
}

// Source yields entries added since the last committed one.
type Source interface {
	ReadNew(ctx context.Context) ([]Entry, error)
	Commit(ctx context.Context, e Entry) error
}

// Watcher is implemented by sources that can signal new data before the
// next poll.
type Watcher interface {
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// FileSource reads newline-terminated entries appended to a text file. Its
// read offset is kept in OffsetPath so a restart resumes after the last
// committed line. A final line without a newline is left for a later poll.
type FileSource struct {
	Path       string
	OffsetPath string
	Logger     *zap.Logger

	mu     sync.Mutex
	offset int64
	loaded bool
}

func NewFileSource(path, stateDir string, logger *zap.Logger) *FileSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSource{Path: path, OffsetPath: filepath.Join(stateDir, ".offset"), Logger: logger}
}

func (s *FileSource) ReadNew(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < s.offset {
		s.Logger.Warn("input file shrank; reading from the start", zap.String("path", s.Path), zap.Int64("offset", s.offset), zap.Int64("size", info.Size()))
		s.offset = 0
	}
	if _, err := f.Seek(s.offset, io.SeekStart); err != nil {
		return nil, err
	}
	var out []Entry
	pos := s.offset
	r := bufio.NewReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		line, err := r.ReadString('\n')
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, err
		}
		pos += int64(len(line))
		out = append(out, Entry{Text: strings.TrimRight(line, "\r\n"), End: pos})
	}
	return out, nil
}

func (s *FileSource) Commit(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.End <= s.offset {
		return nil
	}
	s.offset = e.End
	return writeAtomic(s.OffsetPath, []byte(strconv.FormatInt(e.End, 10)+"\n"))
}

// Offset is the committed read position.
func (s *FileSource) Offset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.load()
	return s.offset
}

func (s *FileSource) load() error {
	if s.loaded {
		return nil
	}
	data, err := os.ReadFile(s.OffsetPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.offset = 0
	case err != nil:
		return err
	default:
		v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		if err != nil || v < 0 {
			return fmt.Errorf("corrupt offset file %s", s.OffsetPath)
		}
		s.offset = v
	}
	s.loaded = true
	return nil
}

// Watch signals writes to the input file. It watches the parent directory
// so the file may be created after the daemon starts.
func (s *FileSource) Watch(ctx context.Context) (<-chan struct{}, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(s.Path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	name := filepath.Clean(s.Path)
	out := make(chan struct{}, 1)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != name || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.Logger.Warn("input watch error", zap.Error(err))
			}
		}
	}()
	return out, nil
}

// writeAtomic replaces path with data through a temp file and rename so
// readers never observe a partial file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
