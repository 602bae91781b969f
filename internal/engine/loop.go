package engine

import (
	"container/heap"
	"context"
	"time"

	"go.uber.org/zap"

	"ideaforge/internal/domain"
	"ideaforge/internal/events"
)

// op is one status write waiting to become durable. after runs once the
// write has committed and the snapshot shows it.
type op struct {
	idea  domain.Idea
	from  domain.Phase
	st    domain.IdeaStatus
	after func()
}

func (e *Engine) loop() {
	defer close(e.done)
	ticker := time.NewTicker(e.settings.Tick)
	defer ticker.Stop()
	stopCh := e.stopCh
	stopping := false
	for {
		e.drainInbox()
		if !stopping {
			e.admit()
		}
		if stopping && len(e.active) == 0 {
			e.logger.Debug("scheduling loop drained", zap.Int("queued", e.queue.Len()))
			return
		}
		select {
		case <-e.wake:
		case r := <-e.results:
			e.handle(r)
		case <-ticker.C:
			e.flushPending()
		case <-stopCh:
			stopping = true
			stopCh = nil
		case <-e.abort:
			return
		}
	}
}

func (e *Engine) drainInbox() {
	e.inboxMu.Lock()
	entries := e.inbox
	e.inbox = nil
	e.inboxMu.Unlock()
	for _, entry := range entries {
		id := entry.idea.ID
		// Input resumes carry no status; the loop already tracks them.
		if entry.status.ID != "" {
			e.latest[id] = entry.status
		}
		if entry.enqueue || entry.resume {
			heap.Push(&e.queue, &queueItem{id: id, priority: entry.idea.Priority, seq: entry.idea.Seq, resume: entry.resume})
		}
	}
}

// admit moves the best waiting ideas into free worker slots.
func (e *Engine) admit() {
	for len(e.active) < e.settings.MaxConcurrent && e.queue.Len() > 0 {
		it := heap.Pop(&e.queue).(*queueItem)
		id := it.id
		e.active[id] = true
		var ok bool
		if it.resume {
			ok = e.transition(id, func(st *domain.IdeaStatus) {
				st.Phase = domain.PhaseGenerating
				st.Progress = 0
				st.Missing = nil
			}, func() { e.dispatch(job{kind: jobGenerate, id: id}) })
		} else {
			ok = e.transition(id, func(st *domain.IdeaStatus) {
				st.Phase = domain.PhaseAnalyzing
				st.Progress = 0
			}, func() { e.dispatch(job{kind: jobAnalyze, id: id}) })
		}
		if !ok {
			delete(e.active, id)
		}
	}
}

func (e *Engine) handle(r result) {
	id := r.id
	switch r.kind {
	case resultPlanned:
		plan := r.plan
		e.transition(id, func(st *domain.IdeaStatus) {
			st.Phase = domain.PhaseGenerating
			st.Progress = 0
		}, func() {
			if len(plan.Missing) > 0 {
				e.needsInput(id, plan.Missing)
				return
			}
			e.dispatch(job{kind: jobGenerate, id: id, plan: &plan})
		})
	case resultProgress:
		e.transition(id, func(st *domain.IdeaStatus) {
			st.Progress = r.progress
		}, nil)
	case resultNeedsInput:
		e.needsInput(id, r.missing)
	case resultDone:
		e.transition(id, func(st *domain.IdeaStatus) {
			st.Phase = domain.PhaseCompleted
			st.Progress = 1
			st.Project = r.project
		}, func() {
			delete(e.active, id)
			e.logger.Info("idea completed", zap.String("idea_id", id), zap.Int("files", len(r.project.FilesCreated)))
		})
	case resultFailed:
		msg := failureMessage(r.cause, r.err.Error())
		e.transition(id, func(st *domain.IdeaStatus) {
			st.Phase = domain.PhaseFailed
			st.Error = &msg
			st.Missing = nil
		}, func() {
			delete(e.active, id)
			e.logger.Warn("idea failed", zap.String("idea_id", id), zap.String("cause", string(r.cause)), zap.Error(r.err))
		})
	}
}

func (e *Engine) needsInput(id string, missing []string) {
	missing = append([]string(nil), missing...)
	e.transition(id, func(st *domain.IdeaStatus) {
		st.Phase = domain.PhaseNeedsInput
		st.Missing = missing
	}, func() {
		delete(e.active, id)
		e.logger.Info("idea needs input", zap.String("idea_id", id), zap.Strings("missing", missing))
	})
}

// transition validates and persists one status change. The snapshot only
// changes after the write commits; a write that keeps failing parks the
// change, and every later change for the same idea, until a tick flushes it.
func (e *Engine) transition(id string, mutate func(*domain.IdeaStatus), after func()) bool {
	cur, ok := e.latest[id]
	if !ok {
		e.logger.Error("transition for unknown idea", zap.String("idea_id", id))
		return false
	}
	next := cur.Clone()
	mutate(&next)
	if err := ensureTransition(cur.Phase, next.Phase, cur.Progress, next.Progress); err != nil {
		e.logger.Error("rejected transition", zap.String("idea_id", id), zap.Error(err))
		return false
	}
	next.UpdatedAt = e.timestamp()
	e.latest[id] = next
	o := op{idea: e.ideaFor(id), from: cur.Phase, st: next, after: after}
	if len(e.pending[id]) > 0 {
		e.pending[id] = append(e.pending[id], o)
		return true
	}
	if !e.persist(o) {
		e.pending[id] = []op{o}
		return true
	}
	e.commit(o)
	return true
}

func (e *Engine) persist(o op) bool {
	var err error
	for attempt := 0; attempt <= e.settings.PersistRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(e.settings.RetryBackoff):
			case <-e.abort:
				return false
			}
		}
		if err = e.save(o); err == nil {
			return true
		}
		e.logger.Error("persist idea status",
			zap.String("idea_id", o.st.ID),
			zap.String("to", string(o.st.Phase)),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return false
}

func (e *Engine) save(o op) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.settings.CallTimeout)
	defer cancel()
	return e.store.SaveStatus(ctx, o.idea, o.from, o.st, events.IdeaTransition)
}

// flushPending retries parked writes in order, one attempt per idea.
func (e *Engine) flushPending() {
	for id := range e.pending {
		for len(e.pending[id]) > 0 {
			o := e.pending[id][0]
			if err := e.save(o); err != nil {
				e.logger.Error("persist parked idea status", zap.String("idea_id", id), zap.Error(err))
				break
			}
			e.pending[id] = e.pending[id][1:]
			e.commit(o)
		}
		if len(e.pending[id]) == 0 {
			delete(e.pending, id)
		}
	}
}

func (e *Engine) commit(o op) {
	id := o.st.ID
	e.mu.Lock()
	e.statuses[id] = o.st.Clone()
	if o.st.Phase == domain.PhaseNeedsInput {
		e.awaiting[id] = true
	}
	if o.st.Phase.Terminal() {
		delete(e.ideas, id)
	}
	e.mu.Unlock()
	if o.st.Phase.Terminal() {
		delete(e.latest, id)
	}
	e.logger.Debug("idea transition",
		zap.String("idea_id", id),
		zap.String("from", string(o.from)),
		zap.String("to", string(o.st.Phase)),
		zap.Float64("progress", o.st.Progress))
	if o.after != nil {
		o.after()
	}
}

func (e *Engine) ideaFor(id string) domain.Idea {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idea := e.ideas[id]
	idea.Context = copyContext(idea.Context)
	return idea
}

func (e *Engine) dispatch(j job) {
	j.idea = e.ideaFor(j.id)
	e.jobs <- j
}
