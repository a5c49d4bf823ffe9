package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestNewLoggerLevel(t *testing.T) {
	buf := new(bytes.Buffer)
	l := NewLogger("volprobe", ParseLevel("warn"), buf)
	l.Infof("dropped %d", 1)
	l.Warnf("kept %d", 2)
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "[WARN]")
	assert.Contains(t, buf.String(), "[volprobe]")
	assert.Contains(t, buf.String(), "kept 2")
}
