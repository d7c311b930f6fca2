package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"loud", InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatMessage(t *testing.T) {
	assert.Equal(t, "built", formatMessage("built"))
	assert.Equal(t, "built method=a.B.run()V blocks=4", formatMessage("built", "method", "a.B.run()V", "blocks", 4))
	assert.Equal(t, "built extra k=v", formatMessage("built", "extra", "k", "v"))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(LoggerConfig{Level: WarnLevel, Stderr: &buf})

	l.Info("hidden")
	l.Warn("shown", "id", 3)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WARN: shown id=3")
}

func TestWithFieldsJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(LoggerConfig{Level: DebugLevel, JSONOutput: true, Stderr: &buf})

	l.With("method", "a.B.run()V").Error("inference failed", "err", errors.New("boom"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "inference failed", entry["message"])
	assert.Equal(t, "a.B.run()V", entry["method"])
	assert.Equal(t, "boom", entry["err"])
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Error("nothing")
	assert.NotNil(t, OrDefault(nil))
	assert.Equal(t, Logger(l), OrDefault(l))
}
