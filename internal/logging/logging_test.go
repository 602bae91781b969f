package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	for _, tc := range []struct {
		level string
		want  zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
	} {
		logger, err := New(tc.level, true)
		if err != nil {
			t.Fatalf("%q: %v", tc.level, err)
		}
		if !logger.Core().Enabled(tc.want) || (tc.want > zapcore.DebugLevel && logger.Core().Enabled(tc.want-1)) {
			t.Fatalf("%q: wrong level", tc.level)
		}
	}
	if _, err := New("loud", false); err == nil {
		t.Fatalf("expected invalid level error")
	}
}
