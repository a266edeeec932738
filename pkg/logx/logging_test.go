package logx

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "tracker"))
	log.Info("probe done", Int64("chat_id", 42), Err(errors.New("boom")))

	out := buf.String()
	require.Contains(t, out, `"comp":"tracker"`)
	require.Contains(t, out, `"chat_id":42`)
	require.Contains(t, out, `"err":"boom"`)
	require.Contains(t, out, `"message":"probe done"`)
}

func TestLoggerLevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("hidden")
	log.Warn("shown")

	require.False(t, strings.Contains(buf.String(), "hidden"))
	require.Contains(t, buf.String(), "shown")
	require.True(t, log.Enabled(LevelError))
	require.False(t, log.Enabled(LevelDebug))
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()

	var l Logger
	require.True(t, l.IsZero())
	l.Info("nothing happens")
	require.False(t, Nop().IsZero())
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	require.Equal(t, LevelWarn, parseLevel("warning", LevelInfo))
	require.Equal(t, LevelInfo, parseLevel("bogus", LevelInfo))
	require.Equal(t, LevelTrace, parseLevel(" TRACE ", LevelInfo))
}
