package budget

import (
	"context"
	"sort"
	"sync"

	"ideaforge/internal/domain"
)

// DayTotal aggregates one project's ledger entries for one calendar day.
type DayTotal struct {
	Day    string
	Cost   float64
	Tokens int
	Calls  int
}

// Ledger is the append-only store behind a Tracker.
type Ledger interface {
	AppendCost(ctx context.Context, day string, entry domain.CostLedgerEntry) error
	CostTotals(ctx context.Context, projectID, day string) (DayTotal, error)
	// CostHistory returns up to limit most recent days, newest first.
	CostHistory(ctx context.Context, projectID string, limit int) ([]DayTotal, error)
}

// MemoryLedger keeps entries in process memory.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string][]dayEntry
}

type dayEntry struct {
	day string
	domain.CostLedgerEntry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: map[string][]dayEntry{}}
}

func (l *MemoryLedger) AppendCost(_ context.Context, day string, entry domain.CostLedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[entry.ProjectID] = append(l.entries[entry.ProjectID], dayEntry{day: day, CostLedgerEntry: entry})
	return nil
}

func (l *MemoryLedger) CostTotals(_ context.Context, projectID, day string) (DayTotal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := DayTotal{Day: day}
	for _, e := range l.entries[projectID] {
		if e.day != day {
			continue
		}
		total.Cost += e.Cost
		total.Tokens += e.Tokens
		total.Calls++
	}
	return total, nil
}

func (l *MemoryLedger) CostHistory(_ context.Context, projectID string, limit int) ([]DayTotal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	byDay := map[string]*DayTotal{}
	for _, e := range l.entries[projectID] {
		t, ok := byDay[e.day]
		if !ok {
			t = &DayTotal{Day: e.day}
			byDay[e.day] = t
		}
		t.Cost += e.Cost
		t.Tokens += e.Tokens
		t.Calls++
	}
	out := make([]DayTotal, 0, len(byDay))
	for _, t := range byDay {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day > out[j].Day })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
