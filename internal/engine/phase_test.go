package engine

import (
	"container/heap"
	"errors"
	"testing"

	"ideaforge/internal/domain"
)

func TestEnsureTransition(t *testing.T) {
	allowed := []struct{ from, to domain.Phase }{
		{domain.PhaseQueued, domain.PhaseAnalyzing},
		{domain.PhaseAnalyzing, domain.PhaseGenerating},
		{domain.PhaseAnalyzing, domain.PhaseFailed},
		{domain.PhaseGenerating, domain.PhaseNeedsInput},
		{domain.PhaseGenerating, domain.PhaseCompleted},
		{domain.PhaseGenerating, domain.PhaseFailed},
		{domain.PhaseNeedsInput, domain.PhaseGenerating},
	}
	for _, tc := range allowed {
		if err := ensureTransition(tc.from, tc.to, 0.5, 0); err != nil {
			t.Fatalf("%s -> %s: %v", tc.from, tc.to, err)
		}
	}

	all := []domain.Phase{domain.PhaseQueued, domain.PhaseAnalyzing, domain.PhaseGenerating, domain.PhaseNeedsInput, domain.PhaseCompleted, domain.PhaseFailed}
	for _, from := range []domain.Phase{domain.PhaseCompleted, domain.PhaseFailed} {
		for _, to := range all {
			if err := ensureTransition(from, to, 1, 1); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected %s -> %s to be rejected, got %v", from, to, err)
			}
		}
	}
	if err := ensureTransition(domain.PhaseQueued, domain.PhaseCompleted, 0, 1); err == nil {
		t.Fatalf("queued must not skip to completed")
	}
	if err := ensureTransition(domain.PhaseNeedsInput, domain.PhaseFailed, 0, 0); err == nil {
		t.Fatalf("needs_input only resumes into generating")
	}
}

func TestProgressNeverMovesBackWithinPhase(t *testing.T) {
	if err := ensureTransition(domain.PhaseGenerating, domain.PhaseGenerating, 0.25, 0.5); err != nil {
		t.Fatalf("forward progress: %v", err)
	}
	if err := ensureTransition(domain.PhaseGenerating, domain.PhaseGenerating, 0.5, 0.5); err != nil {
		t.Fatalf("same progress: %v", err)
	}
	if err := ensureTransition(domain.PhaseGenerating, domain.PhaseGenerating, 0.5, 0.25); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected rollback rejection, got %v", err)
	}
}

func TestCauseOf(t *testing.T) {
	msg := failureMessage(CauseBudgetExceeded, "budget exceeded: 0.9 spent")
	if msg != "budget exceeded: 0.9 spent" {
		t.Fatalf("unexpected message %q", msg)
	}
	cause, ok := CauseOf(domain.IdeaStatus{Phase: domain.PhaseFailed, Error: &msg})
	if !ok || cause != CauseBudgetExceeded {
		t.Fatalf("expected budget cause, got %q %v", cause, ok)
	}
	other := failureMessage(CauseTimeout, "call timed out after 1s")
	if cause, _ := CauseOf(domain.IdeaStatus{Phase: domain.PhaseFailed, Error: &other}); cause != CauseTimeout {
		t.Fatalf("expected timeout, got %q", cause)
	}
	if _, ok := CauseOf(domain.IdeaStatus{Phase: domain.PhaseCompleted}); ok {
		t.Fatalf("completed ideas carry no cause")
	}
}

func TestIdeaQueueOrder(t *testing.T) {
	q := &ideaQueue{}
	heap.Push(q, &queueItem{id: "a", priority: 0, seq: 1})
	heap.Push(q, &queueItem{id: "b", priority: 2, seq: 2})
	heap.Push(q, &queueItem{id: "c", priority: 2, seq: 3})
	heap.Push(q, &queueItem{id: "d", priority: 1, seq: 4})
	var got []string
	for q.Len() > 0 {
		got = append(got, heap.Pop(q).(*queueItem).id)
	}
	want := []string{"b", "c", "d", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order %v, want %v", got, want)
		}
	}
}
