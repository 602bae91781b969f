// Package budget enforces the per-project daily spend ceiling on metered calls.
package budget

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"ideaforge/internal/domain"
)

// ErrBudgetExceeded reports an admission denied by the daily ceiling.
var ErrBudgetExceeded = errors.New("budget exceeded")

// epsilon absorbs float summation noise so that spend landing exactly on the
// limit is admitted.
const epsilon = 1e-9

const dayLayout = "2006-01-02"

type Tracker struct {
	ledger Ledger
	limit  float64
	loc    *time.Location
	logger *zap.Logger
	Now    func() time.Time

	mu       sync.Mutex
	projects map[string]*projectState
}

// projectState serializes admission and recording for one project.
type projectState struct {
	mu       sync.Mutex
	reserved float64
}

type Option func(*Tracker)

func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) {
		if loc != nil {
			t.loc = loc
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.Now = now
		}
	}
}

func NewTracker(ledger Ledger, dailyLimit float64, opts ...Option) *Tracker {
	t := &Tracker{
		ledger:   ledger,
		limit:    dailyLimit,
		loc:      time.UTC,
		logger:   zap.NewNop(),
		Now:      time.Now,
		projects: map[string]*projectState{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Limit is the daily ceiling applied to every project.
func (t *Tracker) Limit() float64 { return t.limit }

func (t *Tracker) state(projectID string) *projectState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.projects[projectID]
	if !ok {
		st = &projectState{}
		t.projects[projectID] = st
	}
	return st
}

func (t *Tracker) today() string {
	return t.Now().In(t.loc).Format(dayLayout)
}

func (t *Tracker) admits(total, reserved, cost float64) bool {
	return total+reserved+cost <= t.limit+epsilon
}

// CheckCanProceed reports whether cost fits under today's ceiling once
// recorded spend and in-flight reservations are counted. It never mutates the
// ledger.
func (t *Tracker) CheckCanProceed(ctx context.Context, projectID string, cost float64) (bool, error) {
	if err := validateCost(cost); err != nil {
		return false, err
	}
	st := t.state(projectID)
	st.mu.Lock()
	defer st.mu.Unlock()
	totals, err := t.ledger.CostTotals(ctx, projectID, t.today())
	if err != nil {
		return false, fmt.Errorf("read ledger: %w", err)
	}
	return t.admits(totals.Cost, st.reserved, cost), nil
}

// RecordAPICall appends a ledger entry for a call that actually executed.
// There is no dedup key: recording twice counts twice.
func (t *Tracker) RecordAPICall(ctx context.Context, projectID string, cost float64, tokens int) error {
	if err := validateCost(cost); err != nil {
		return err
	}
	st := t.state(projectID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return t.append(ctx, projectID, t.today(), cost, tokens)
}

// append records spend under day, the ledger day the call was admitted on.
func (t *Tracker) append(ctx context.Context, projectID, day string, cost float64, tokens int) error {
	now := t.Now()
	entry := domain.CostLedgerEntry{
		ProjectID: projectID,
		Cost:      cost,
		Tokens:    tokens,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
	if err := t.ledger.AppendCost(ctx, day, entry); err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	t.logger.Debug("recorded spend", zap.String("project_id", projectID), zap.Float64("cost", cost), zap.Int("tokens", tokens))
	return nil
}

// Reserve admits estimate against today's ceiling and holds it until the
// reservation is committed or released. Concurrent callers for the same
// project can never jointly overrun the ceiling with their estimates.
func (t *Tracker) Reserve(ctx context.Context, projectID string, estimate float64) (*Reservation, error) {
	if err := validateCost(estimate); err != nil {
		return nil, err
	}
	st := t.state(projectID)
	st.mu.Lock()
	defer st.mu.Unlock()
	day := t.today()
	totals, err := t.ledger.CostTotals(ctx, projectID, day)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if !t.admits(totals.Cost, st.reserved, estimate) {
		t.logger.Info("spend denied",
			zap.String("project_id", projectID),
			zap.Float64("estimate", estimate),
			zap.Float64("spent", totals.Cost),
			zap.Float64("reserved", st.reserved),
			zap.Float64("limit", t.limit))
		return nil, fmt.Errorf("%w: %.4f spent + %.4f pending + %.4f requested > %.4f daily limit",
			ErrBudgetExceeded, totals.Cost, st.reserved, estimate, t.limit)
	}
	st.reserved += estimate
	return &Reservation{tracker: t, state: st, projectID: projectID, day: day, amount: estimate}, nil
}

// DailySummary reports today's spend for projectID.
func (t *Tracker) DailySummary(ctx context.Context, projectID string) (domain.DailyBudget, error) {
	st := t.state(projectID)
	st.mu.Lock()
	reserved := st.reserved
	st.mu.Unlock()
	totals, err := t.ledger.CostTotals(ctx, projectID, t.today())
	if err != nil {
		return domain.DailyBudget{}, fmt.Errorf("read ledger: %w", err)
	}
	s := t.summary(projectID, totals)
	s.Reserved = round(reserved)
	return s, nil
}

// History reports up to days recent daily summaries, newest first.
func (t *Tracker) History(ctx context.Context, projectID string, days int) ([]domain.DailyBudget, error) {
	totals, err := t.ledger.CostHistory(ctx, projectID, days)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	out := make([]domain.DailyBudget, 0, len(totals))
	for _, d := range totals {
		out = append(out, t.summary(projectID, d))
	}
	return out, nil
}

func (t *Tracker) summary(projectID string, d DayTotal) domain.DailyBudget {
	s := domain.DailyBudget{
		ProjectID: projectID,
		Day:       d.Day,
		TotalCost: round(d.Cost),
		Limit:     t.limit,
		CallCount: d.Calls,
		Remaining: round(t.limit - d.Cost),
	}
	if t.limit > 0 {
		s.PercentageUsed = round(d.Cost / t.limit * 100)
	}
	return s
}

// Reservation is spend admitted but not yet recorded.
type Reservation struct {
	tracker   *Tracker
	state     *projectState
	projectID string
	day       string
	amount    float64
	done      bool
}

// Amount is the reserved estimate.
func (r *Reservation) Amount() float64 { return r.amount }

// Commit records the actual cost of the executed call and frees the hold.
// The actual cost may differ from the estimate. Spend is charged to the day
// the reservation was admitted on, even when Commit runs after midnight.
func (r *Reservation) Commit(ctx context.Context, cost float64, tokens int) error {
	if err := validateCost(cost); err != nil {
		r.Release()
		return err
	}
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	if r.done {
		return errors.New("reservation already settled")
	}
	r.settle()
	return r.tracker.append(ctx, r.projectID, r.day, cost, tokens)
}

// Release frees the hold without recording anything. Safe to call after
// Commit.
func (r *Reservation) Release() {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	if !r.done {
		r.settle()
	}
}

func (r *Reservation) settle() {
	r.done = true
	r.state.reserved -= r.amount
	if r.state.reserved < epsilon {
		r.state.reserved = 0
	}
}

func validateCost(cost float64) error {
	if cost < 0 || math.IsNaN(cost) || math.IsInf(cost, 0) {
		return fmt.Errorf("invalid cost %v", cost)
	}
	return nil
}

func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
