package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ideaforge/internal/budget"
	"ideaforge/internal/domain"
)

type jobKind int

const (
	jobAnalyze jobKind = iota
	jobGenerate
)

type job struct {
	kind jobKind
	id   string
	idea domain.Idea
	// nil when resuming from needs_input; the worker plans again
	plan *Plan
}

type resultKind int

const (
	resultPlanned resultKind = iota
	resultProgress
	resultNeedsInput
	resultDone
	resultFailed
)

type result struct {
	id       string
	kind     resultKind
	plan     Plan
	progress float64
	missing  []string
	project  *domain.ProjectSummary
	cause    FailureCause
	err      error
}

var errCallTimeout = errors.New("call timed out")

func (e *Engine) worker() {
	defer e.workers.Done()
	for j := range e.jobs {
		select {
		case <-e.abort:
			continue
		default:
		}
		e.send(e.run(j))
	}
}

func (e *Engine) send(r result) {
	select {
	case e.results <- r:
	case <-e.abort:
	}
}

func (e *Engine) run(j job) (r result) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("worker panic", zap.String("idea_id", j.id), zap.Any("panic", p))
			r = failed(j.id, CauseGenerationFailed, fmt.Errorf("panic: %v", p))
		}
	}()
	switch j.kind {
	case jobAnalyze:
		plan, err := e.plan(j.idea)
		if err != nil {
			return failed(j.id, planCause(err), err)
		}
		return result{id: j.id, kind: resultPlanned, plan: plan}
	default:
		plan := j.plan
		if plan == nil {
			p, err := e.plan(j.idea)
			if err != nil {
				return failed(j.id, planCause(err), err)
			}
			if len(p.Missing) > 0 {
				return result{id: j.id, kind: resultNeedsInput, missing: p.Missing}
			}
			plan = &p
		}
		return e.generate(j.idea, *plan)
	}
}

func (e *Engine) plan(idea domain.Idea) (Plan, error) {
	return callWithTimeout(e.runCtx, e.settings.CallTimeout, func(ctx context.Context) (Plan, error) {
		return e.planner.Plan(ctx, idea)
	})
}

// generate runs every step of plan. Each step reserves its estimate before
// the metered call and commits the actual cost only after the call returned.
func (e *Engine) generate(idea domain.Idea, plan Plan) result {
	total := len(plan.Steps)
	files := make([]string, 0, total)
	for i, step := range plan.Steps {
		estimate := step.Estimate
		if estimate <= 0 {
			estimate = e.settings.DefaultEstimate
		}
		res, err := e.gate.Reserve(e.runCtx, idea.ProjectID, estimate)
		if err != nil {
			if errors.Is(err, budget.ErrBudgetExceeded) {
				return failed(idea.ID, CauseBudgetExceeded, err)
			}
			return failed(idea.ID, CauseGenerationFailed, fmt.Errorf("reserve budget: %w", err))
		}
		out, err := callWithTimeout(e.runCtx, e.settings.CallTimeout, func(ctx context.Context) (Generation, error) {
			return e.gen.Generate(ctx, idea, plan, step)
		})
		if err != nil {
			res.Release()
			if errors.Is(err, errCallTimeout) {
				return failed(idea.ID, CauseTimeout, fmt.Errorf("%s: %w", step.Artifact, err))
			}
			return failed(idea.ID, CauseGenerationFailed, fmt.Errorf("%s: %w", step.Artifact, err))
		}
		if err := res.Commit(e.runCtx, out.Cost, out.Tokens); err != nil {
			return failed(idea.ID, CauseGenerationFailed, fmt.Errorf("record spend for %s: %w", step.Artifact, err))
		}
		artifact := step.Artifact
		if e.sink != nil {
			artifact, err = e.sink.Write(e.runCtx, idea, plan, step, out.Content)
			if err != nil {
				return failed(idea.ID, CauseGenerationFailed, fmt.Errorf("store %s: %w", step.Artifact, err))
			}
		}
		files = append(files, artifact)
		if i+1 < total {
			e.send(result{id: idea.ID, kind: resultProgress, progress: float64(i+1) / float64(total)})
		}
	}
	return result{id: idea.ID, kind: resultDone, project: &domain.ProjectSummary{Name: plan.Name, FilesCreated: files}}
}

func failed(id string, cause FailureCause, err error) result {
	return result{id: id, kind: resultFailed, cause: cause, err: err}
}

func planCause(err error) FailureCause {
	if errors.Is(err, errCallTimeout) {
		return CauseTimeout
	}
	return CausePlanningFailed
}

// callWithTimeout bounds fn by d. It returns when the deadline passes even
// if fn ignores its context.
func callWithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		v, err := fn(ctx)
		ch <- outcome{v: v, err: err}
	}()
	select {
	case o := <-ch:
		if o.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return o.v, fmt.Errorf("%w after %s", errCallTimeout, d)
		}
		return o.v, o.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", errCallTimeout, d)
		}
		return zero, ctx.Err()
	}
}
