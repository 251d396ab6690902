package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level, format string
		enabled       zapcore.Level
		disabled      zapcore.Level
	}{
		{"info", "json", zapcore.InfoLevel, zapcore.DebugLevel},
		{"debug", "console", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"warn", "json", zapcore.WarnLevel, zapcore.InfoLevel},
	}
	for _, tt := range tests {
		l, err := New(tt.level, tt.format)
		if err != nil {
			t.Fatalf("New(%q, %q): %v", tt.level, tt.format, err)
		}
		if !l.Core().Enabled(tt.enabled) {
			t.Errorf("%s logger should enable %s", tt.level, tt.enabled)
		}
		if l.Core().Enabled(tt.disabled) {
			t.Errorf("%s logger should not enable %s", tt.level, tt.disabled)
		}
	}
}

func TestNew_BadLevel(t *testing.T) {
	if _, err := New("loud", "json"); err == nil {
		t.Error("expected error for unknown level")
	}
}
