package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLeveledLogger(t *testing.T) {
	t.Run("verbose off", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLeveledLogger(false)
		l.SetOutput(&buf)
		l.Verbose().Log("hidden %d", 1)
		require.Empty(t, buf.String())
		l.Log("shown %d", 2)
		require.Contains(t, buf.String(), "shown 2")
	})

	t.Run("verbose on", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLeveledLogger(true)
		l.SetOutput(&buf)
		l.Verbose().Log("debug %s", "line")
		require.Contains(t, buf.String(), "debug line")
	})

	t.Run("json with fields", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLeveledLogger(false)
		l.SetOutput(&buf)
		l.SetJSON()
		l.WithField("workspace", "ws1").Warn("careful")
		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		require.Equal(t, "ws1", line["workspace"])
		require.Equal(t, "warning", line["level"])
		require.Equal(t, "careful", line["msg"])
	})
}
