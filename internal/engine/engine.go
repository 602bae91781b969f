package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ideaforge/internal/budget"
	"ideaforge/internal/domain"
	"ideaforge/internal/events"
	"ideaforge/internal/repo"
)

// Step is one metered artifact in a build plan.
type Step struct {
	Artifact string
	Prompt   string
	Estimate float64
}

// Plan is what analysis decided to build for an idea. A non-empty Missing
// sends the idea to needs_input instead of generation.
type Plan struct {
	Name     string
	Template string
	Steps    []Step
	Missing  []string
}

type Planner interface {
	Plan(ctx context.Context, idea domain.Idea) (Plan, error)
}

// Generation is the outcome of one executed metered call.
type Generation struct {
	Content string
	Cost    float64
	Tokens  int
}

type Generator interface {
	Generate(ctx context.Context, idea domain.Idea, plan Plan, step Step) (Generation, error)
}

// Sink stores generated artifacts and returns the identifier reported in
// the project summary.
type Sink interface {
	Write(ctx context.Context, idea domain.Idea, plan Plan, step Step, content string) (string, error)
}

// Gate admits metered spend. *budget.Tracker satisfies it.
type Gate interface {
	Reserve(ctx context.Context, projectID string, estimate float64) (*budget.Reservation, error)
}

type Settings struct {
	MaxConcurrent   int
	CallTimeout     time.Duration
	PersistRetries  int
	RetryBackoff    time.Duration
	Tick            time.Duration
	DefaultEstimate float64
}

func (s Settings) withDefaults() Settings {
	if s.MaxConcurrent <= 0 {
		s.MaxConcurrent = 1
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = 60 * time.Second
	}
	if s.PersistRetries < 0 {
		s.PersistRetries = 0
	}
	if s.RetryBackoff <= 0 {
		s.RetryBackoff = 200 * time.Millisecond
	}
	if s.Tick <= 0 {
		s.Tick = 500 * time.Millisecond
	}
	return s
}

type Deps struct {
	Store     Store
	Planner   Planner
	Generator Generator
	Sink      Sink
	Gate      Gate
	Logger    *zap.Logger
	Now       func() time.Time
}

// NewIdea is the caller-supplied part of an Idea.
type NewIdea struct {
	ProjectID string
	Content   string
	UserID    string
	Source    string
	Priority  int
	Context   map[string]string
}

// Engine runs submitted ideas through the phase state machine. One loop
// goroutine owns admission and every status write; a fixed pool of workers
// performs the planning and generation calls.
type Engine struct {
	store    Store
	planner  Planner
	gen      Generator
	sink     Sink
	gate     Gate
	settings Settings
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.RWMutex
	statuses map[string]domain.IdeaStatus
	ideas    map[string]domain.Idea
	awaiting map[string]bool

	inboxMu sync.Mutex
	inbox   []inboxEntry
	wake    chan struct{}

	jobs    chan job
	results chan result
	stopCh  chan struct{}
	abort   chan struct{}
	done    chan struct{}
	workers sync.WaitGroup
	runCtx  context.Context
	cancel  context.CancelFunc

	started   atomic.Bool
	stopped   atomic.Bool
	stopOnce  sync.Once
	abortOnce sync.Once
	closeOnce sync.Once

	// loop-owned
	queue   ideaQueue
	active  map[string]bool
	latest  map[string]domain.IdeaStatus
	pending map[string][]op
}

type inboxEntry struct {
	idea    domain.Idea
	status  domain.IdeaStatus
	enqueue bool
	resume  bool
}

func New(deps Deps, settings Settings) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	s := settings.withDefaults()
	runCtx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:    deps.Store,
		planner:  deps.Planner,
		gen:      deps.Generator,
		sink:     deps.Sink,
		gate:     deps.Gate,
		settings: s,
		logger:   logger,
		now:      now,
		statuses: map[string]domain.IdeaStatus{},
		ideas:    map[string]domain.Idea{},
		awaiting: map[string]bool{},
		wake:     make(chan struct{}, 1),
		jobs:     make(chan job, s.MaxConcurrent),
		results:  make(chan result, s.MaxConcurrent),
		stopCh:   make(chan struct{}),
		abort:    make(chan struct{}),
		done:     make(chan struct{}),
		runCtx:   runCtx,
		cancel:   cancel,
		active:   map[string]bool{},
		latest:   map[string]domain.IdeaStatus{},
		pending:  map[string][]op{},
	}
}

func (e *Engine) Settings() Settings { return e.settings }

func (e *Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}

// Submit durably records a new idea in queued and hands it to the loop.
// Ideas submitted before Start wait until the loop runs.
func (e *Engine) Submit(ctx context.Context, in NewIdea) (domain.Idea, error) {
	if e.stopped.Load() {
		return domain.Idea{}, ErrStopped
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return domain.Idea{}, fmt.Errorf("%w: content required", ErrInvalidIdea)
	}
	if strings.TrimSpace(in.ProjectID) == "" {
		return domain.Idea{}, fmt.Errorf("%w: project id required", ErrInvalidIdea)
	}
	source := in.Source
	if source == "" {
		source = "api"
	}
	idea := domain.Idea{
		ID:          uuid.NewString(),
		ProjectID:   in.ProjectID,
		Content:     content,
		UserID:      in.UserID,
		Source:      source,
		SubmittedAt: e.timestamp(),
		Priority:    in.Priority,
		Context:     copyContext(in.Context),
	}
	st := domain.IdeaStatus{ID: idea.ID, Phase: domain.PhaseQueued, UpdatedAt: idea.SubmittedAt}
	idea, err := e.store.CreateIdea(ctx, idea, st)
	if err != nil {
		return domain.Idea{}, fmt.Errorf("persist idea: %w", err)
	}
	e.mu.Lock()
	e.statuses[idea.ID] = st
	e.ideas[idea.ID] = idea
	e.mu.Unlock()
	e.push(inboxEntry{idea: idea, status: st, enqueue: true})
	e.logger.Info("idea submitted",
		zap.String("idea_id", idea.ID),
		zap.String("project_id", idea.ProjectID),
		zap.String("source", idea.Source),
		zap.Int("priority", idea.Priority))
	return idea, nil
}

// ProvideInput merges values into the context of an idea waiting in
// needs_input and queues it to re-enter generating.
func (e *Engine) ProvideInput(ctx context.Context, id string, values map[string]string, actorID string) (domain.Idea, error) {
	if e.stopped.Load() {
		return domain.Idea{}, ErrStopped
	}
	e.mu.Lock()
	st, ok := e.statuses[id]
	idea, known := e.ideas[id]
	if !ok || !known {
		e.mu.Unlock()
		if _, err := e.store.GetStatus(ctx, id); err != nil {
			return domain.Idea{}, err
		}
		return domain.Idea{}, fmt.Errorf("%w: %s", ErrNotAwaitingInput, id)
	}
	if st.Phase != domain.PhaseNeedsInput || !e.awaiting[id] {
		e.mu.Unlock()
		return domain.Idea{}, fmt.Errorf("%w: %s is %s", ErrNotAwaitingInput, id, st.Phase)
	}
	delete(e.awaiting, id)
	e.mu.Unlock()

	merged := copyContext(idea.Context)
	if merged == nil {
		merged = map[string]string{}
	}
	for k, v := range values {
		merged[k] = v
	}
	idea.Context = merged
	if err := e.store.SaveInput(ctx, idea, values, actorID); err != nil {
		e.mu.Lock()
		e.awaiting[id] = true
		e.mu.Unlock()
		return domain.Idea{}, fmt.Errorf("persist input: %w", err)
	}
	e.mu.Lock()
	e.ideas[id] = idea
	e.mu.Unlock()
	e.push(inboxEntry{idea: idea, resume: true})
	e.logger.Info("idea input provided", zap.String("idea_id", id), zap.Strings("keys", sortedKeys(values)))
	return idea, nil
}

// Status returns a snapshot of the idea's status.
func (e *Engine) Status(ctx context.Context, id string) (domain.IdeaStatus, error) {
	e.mu.RLock()
	st, ok := e.statuses[id]
	if ok {
		st = st.Clone()
	}
	e.mu.RUnlock()
	if ok {
		return st, nil
	}
	return e.store.GetStatus(ctx, id)
}

// Idea returns the stored idea, including context merged by ProvideInput.
func (e *Engine) Idea(ctx context.Context, id string) (domain.Idea, error) {
	e.mu.RLock()
	idea, ok := e.ideas[id]
	e.mu.RUnlock()
	if ok {
		idea.Context = copyContext(idea.Context)
		return idea, nil
	}
	return e.store.GetIdea(ctx, id)
}

// ListStatuses reads recent ideas and their statuses from the store.
func (e *Engine) ListStatuses(ctx context.Context, f repo.StatusFilters) ([]repo.IdeaRecord, error) {
	return e.store.List(ctx, f)
}

// Snapshot copies every status the engine has seen since it was created,
// ordered by id.
func (e *Engine) Snapshot() []domain.IdeaStatus {
	e.mu.RLock()
	out := make([]domain.IdeaStatus, 0, len(e.statuses))
	for _, st := range e.statuses {
		out = append(out, st.Clone())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start recovers unfinished ideas from the store and launches the loop and
// worker pool.
func (e *Engine) Start(ctx context.Context) error {
	if e.stopped.Load() {
		return ErrStopped
	}
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("engine already started")
	}
	if err := e.recover(ctx); err != nil {
		e.started.Store(false)
		return err
	}
	for i := 0; i < e.settings.MaxConcurrent; i++ {
		e.workers.Add(1)
		go e.worker()
	}
	go e.loop()
	e.logger.Info("engine started", zap.Int("max_concurrent_ideas", e.settings.MaxConcurrent))
	return nil
}

func (e *Engine) recover(ctx context.Context) error {
	recs, err := e.store.Unfinished(ctx)
	if err != nil {
		return fmt.Errorf("load unfinished ideas: %w", err)
	}
	for _, rec := range recs {
		e.mu.RLock()
		_, seen := e.statuses[rec.Idea.ID]
		e.mu.RUnlock()
		if seen {
			continue
		}
		st := rec.Status
		entry := inboxEntry{idea: rec.Idea}
		switch st.Phase {
		case domain.PhaseQueued:
			entry.enqueue = true
		case domain.PhaseAnalyzing, domain.PhaseGenerating:
			from := st.Phase
			st.Phase = domain.PhaseQueued
			st.Progress = 0
			st.Missing = nil
			st.UpdatedAt = e.timestamp()
			if err := e.store.SaveStatus(ctx, rec.Idea, from, st, events.IdeaRecovered); err != nil {
				return fmt.Errorf("requeue idea %s: %w", rec.Idea.ID, err)
			}
			entry.enqueue = true
			e.logger.Warn("requeued interrupted idea", zap.String("idea_id", rec.Idea.ID), zap.String("from", string(from)))
		case domain.PhaseNeedsInput:
			entry.resume = hasAll(rec.Idea.Context, st.Missing)
		default:
			continue
		}
		entry.status = st
		e.mu.Lock()
		e.statuses[rec.Idea.ID] = st
		e.ideas[rec.Idea.ID] = rec.Idea
		if st.Phase == domain.PhaseNeedsInput && !entry.resume {
			e.awaiting[rec.Idea.ID] = true
		}
		e.mu.Unlock()
		e.push(entry)
	}
	if len(recs) > 0 {
		e.logger.Info("recovered unfinished ideas", zap.Int("count", len(recs)))
	}
	return nil
}

// Stop stops admitting work and waits for every admitted idea to reach a
// terminal phase or needs_input. Queued ideas stay queued in the store.
// When ctx ends first, in-flight calls are cancelled and their outcomes are
// not applied; the next Start recovers those ideas.
func (e *Engine) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() {
		e.stopped.Store(true)
		close(e.stopCh)
	})
	if !e.started.Load() {
		e.cancel()
		return nil
	}
	var err error
	select {
	case <-e.done:
	case <-ctx.Done():
		err = ctx.Err()
		e.abortOnce.Do(func() {
			close(e.abort)
			e.cancel()
		})
		<-e.done
	}
	e.closeOnce.Do(func() { close(e.jobs) })
	e.workers.Wait()
	e.cancel()
	if err != nil {
		e.logger.Warn("engine stop interrupted", zap.Error(err))
		return err
	}
	e.logger.Info("engine stopped")
	return nil
}

func (e *Engine) push(entry inboxEntry) {
	e.inboxMu.Lock()
	e.inbox = append(e.inbox, entry)
	e.inboxMu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func copyContext(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func hasAll(values map[string]string, keys []string) bool {
	if len(keys) == 0 {
		return false
	}
	for _, k := range keys {
		if strings.TrimSpace(values[k]) == "" {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
