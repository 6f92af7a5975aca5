package logging

import (
	"bytes"
	"errors"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuffered(level Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := New()
	l.SetOutput(log.New(&buf, "", 0))
	l.SetLevel(level)
	return l, &buf
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newBuffered(LevelWarn)
	l.Info("capture: hidden")
	l.Warn("capture: shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "WARN capture: shown")
}

func TestFieldsAreSortedAndFormatted(t *testing.T) {
	l, buf := newBuffered(LevelDebug)
	l.With("target", "horizon_3").Info("capture: frame stored", "yaw", 12.5, "err", errors.New("a b"))
	assert.Equal(t, "INFO capture: frame stored | err=\"a b\" target=horizon_3 yaw=12.50\n", buf.String())
}

func TestDerivedLoggerSharesLevel(t *testing.T) {
	l, buf := newBuffered(LevelInfo)
	child := l.With("component", "stitch")
	l.SetLevel(LevelError)
	child.Warn("stitch: suppressed")
	assert.Empty(t, buf.String())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		ok   bool
	}{
		{"debug", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{"", LevelInfo, true},
		{"warning", LevelWarn, true},
		{"error", LevelError, true},
		{"loud", LevelInfo, false},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseLevel(tc.in)
			if !tc.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
