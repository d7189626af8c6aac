package logger

import (
	"bytes"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestToZapLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zapcore.Level
	}{
		{DebugLevel, zapcore.DebugLevel},
		{InfoLevel, zapcore.InfoLevel},
		{WarnLevel, zapcore.WarnLevel},
		{ErrorLevel, zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}

	for _, tc := range cases {
		if got := toZapLevel(tc.in); got != tc.want {
			t.Fatalf("toZapLevel(%q)=%v want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewWithWriter_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, WarnLevel)

	log.Infow("hidden", "k", 1)
	log.Warnw("shown", "serial", "1084135")
	_ = log.Sync()

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info entry should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "1084135") {
		t.Fatalf("expected warn entry with fields, got %s", out)
	}
	if !strings.Contains(out, "WARN") {
		t.Fatalf("expected capitalised level, got %s", out)
	}
}
