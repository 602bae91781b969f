package engine

import (
	"errors"
	"fmt"
	"strings"

	"ideaforge/internal/domain"
)

var (
	ErrNotFound          = errors.New("idea not found")
	ErrStopped           = errors.New("engine stopped")
	ErrInvalidTransition = errors.New("invalid idea transition")
	ErrNotAwaitingInput  = errors.New("idea is not awaiting input")
	ErrInvalidIdea       = errors.New("invalid idea")
)

// FailureCause classifies why an idea landed in failed.
type FailureCause string

const (
	CauseBudgetExceeded   FailureCause = "budget exceeded"
	CauseGenerationFailed FailureCause = "generation failed"
	CauseTimeout          FailureCause = "timeout"
	CausePlanningFailed   FailureCause = "planning failed"
)

var causes = []FailureCause{CauseBudgetExceeded, CauseGenerationFailed, CauseTimeout, CausePlanningFailed}

// CauseOf recovers the failure cause recorded in a failed status.
func CauseOf(st domain.IdeaStatus) (FailureCause, bool) {
	if st.Phase != domain.PhaseFailed || st.Error == nil {
		return "", false
	}
	for _, c := range causes {
		if strings.HasPrefix(*st.Error, string(c)+":") {
			return c, true
		}
	}
	return "", false
}

func failureMessage(cause FailureCause, detail string) string {
	return fmt.Sprintf("%s: %s", cause, strings.TrimPrefix(detail, string(cause)+": "))
}

// ensureTransition enforces the idea state machine. Staying in the same
// phase is a progress update and must never move progress backwards.
func ensureTransition(from, to domain.Phase, oldProgress, newProgress float64) error {
	if from == to && !from.Terminal() {
		if newProgress < oldProgress {
			return fmt.Errorf("%w: progress %.2f -> %.2f in %s", ErrInvalidTransition, oldProgress, newProgress, from)
		}
		return nil
	}
	switch from {
	case domain.PhaseQueued:
		if to == domain.PhaseAnalyzing {
			return nil
		}
	case domain.PhaseAnalyzing:
		if to == domain.PhaseGenerating || to == domain.PhaseFailed {
			return nil
		}
	case domain.PhaseGenerating:
		if to == domain.PhaseNeedsInput || to == domain.PhaseCompleted || to == domain.PhaseFailed {
			return nil
		}
	case domain.PhaseNeedsInput:
		if to == domain.PhaseGenerating {
			return nil
		}
	}
	return fmt.Errorf("%w %s -> %s", ErrInvalidTransition, from, to)
}
