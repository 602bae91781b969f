package daemon

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ideaforge/internal/domain"
	"ideaforge/internal/engine"
)

// Engine is the part of the background engine the daemon drives.
type Engine interface {
	Submit(ctx context.Context, in engine.NewIdea) (domain.Idea, error)
	Snapshot() []domain.IdeaStatus
}

type Options struct {
	ProjectID string
	Interval  time.Duration
	Logger    *zap.Logger
}

// Daemon polls a Source on a fixed interval, submits every new entry as an
// idea with source "daemon", and mirrors engine status to files. Stopping
// the daemon never stops the engine.
type Daemon struct {
	source    Source
	engine    Engine
	mirror    *Mirror
	projectID string
	interval  time.Duration
	logger    *zap.Logger

	running  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
}

func New(source Source, eng Engine, mirror *Mirror, opts Options) *Daemon {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Daemon{
		source:    source,
		engine:    eng,
		mirror:    mirror,
		projectID: opts.ProjectID,
		interval:  opts.Interval,
		logger:    opts.Logger,
		stop:      make(chan struct{}),
	}
}

// Running reports the run flag.
func (d *Daemon) Running() bool { return d.running.Load() }

// RequestStop clears the run flag; Run returns after the current poll. A
// stop requested before Run starts makes Run return immediately.
func (d *Daemon) RequestStop() {
	d.running.Store(false)
	d.stopOnce.Do(func() { close(d.stop) })
}

// Run polls until ctx ends or RequestStop is called.
func (d *Daemon) Run(ctx context.Context) error {
	select {
	case <-d.stop:
		d.logger.Info("daemon stop requested before start")
		return nil
	default:
	}
	d.running.Store(true)
	defer d.running.Store(false)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wake <-chan struct{}
	if w, ok := d.source.(Watcher); ok {
		ch, err := w.Watch(ctx)
		if err != nil {
			d.logger.Warn("input watch unavailable; polling only", zap.Error(err))
		} else {
			wake = ch
		}
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	d.logger.Info("daemon started", zap.String("project_id", d.projectID), zap.Duration("interval", d.interval))
	for d.running.Load() {
		if _, err := d.Poll(ctx); err != nil && ctx.Err() == nil {
			d.logger.Warn("daemon poll failed", zap.Error(err))
		}
		d.SyncMirror()
		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopped", zap.Error(ctx.Err()))
			return nil
		case <-d.stop:
			d.running.Store(false)
		case <-ticker.C:
		case <-wake:
		}
	}
	d.SyncMirror()
	d.logger.Info("daemon stopped")
	return nil
}

// Poll submits every new entry and returns how many ideas it created. An
// entry is committed only after its idea is durably submitted, so a failed
// submit is retried on the next poll. Delivery is at-least-once: when the
// commit fails after a successful submit, the next poll submits the entry
// again as a new idea.
func (d *Daemon) Poll(ctx context.Context) (int, error) {
	entries, err := d.source.ReadNew(ctx)
	if err != nil {
		return 0, err
	}
	d.logger.Debug("daemon poll", zap.Int("entries", len(entries)))
	n := 0
	for _, e := range entries {
		submitted := ""
		if text := strings.TrimSpace(e.Text); text != "" {
			idea, err := d.engine.Submit(ctx, engine.NewIdea{
				ProjectID: d.projectID,
				Content:   text,
				Source:    "daemon",
			})
			if err != nil {
				return n, err
			}
			n++
			submitted = idea.ID
			d.logger.Info("daemon submitted idea", zap.String("idea_id", idea.ID))
		}
		if err := d.source.Commit(ctx, e); err != nil {
			if submitted != "" {
				d.logger.Warn("idea submitted but entry not committed; it will be submitted again",
					zap.String("idea_id", submitted), zap.Int64("end", e.End), zap.Error(err))
			}
			return n, err
		}
	}
	return n, nil
}

// SyncMirror writes changed status records.
func (d *Daemon) SyncMirror() {
	if d.mirror == nil {
		return
	}
	if _, err := d.mirror.Sync(d.engine.Snapshot()); err != nil {
		d.logger.Warn("mirror status files", zap.Error(err))
	}
}
