package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/grafana/amgctl/logger"
)

func testSummary() *Summary {
	s := NewSummary("migrate", false)
	s.Add(KindDashboard, OutcomeCreated, "Team A", "CPU")
	s.Add(KindDashboard, OutcomeCreated, "Team A", "Alpha")
	s.Add(KindDashboard, OutcomeSkipped, "General", "Home")
	s.Add(KindFolder, OutcomeOverwritten, "", "Team A")
	s.Fail(KindSnapshot, "", "snap1", errors.New("boom"))
	s.FolderCreated("Team B")
	s.AddMissingDatasources("Z", "C", "Z")
	return s
}

func TestSummary(t *testing.T) {
	s := testSummary()
	require.Equal(t, 2, s.Count(KindDashboard, OutcomeCreated))
	require.Equal(t, 0, s.Count(KindDashboard, OutcomeFailed))
	require.Equal(t, []string{"Alpha", "CPU"}, s.ByFolder(KindDashboard, OutcomeCreated)["Team A"])
	require.Equal(t, []string{"Team A"}, s.Names(KindFolder, OutcomeOverwritten))
	require.Equal(t, []string{"C", "Z"}, s.MissingDatasources)
	require.True(t, s.Failed())
}

func TestOutputters(t *testing.T) {
	t.Run("readable", func(t *testing.T) {
		var buf bytes.Buffer
		log := logger.NewLeveledLogger(false)
		log.SetOutput(&buf)
		require.NoError(t, NewLoggerReadableOutput(log).Output(testSummary()))
		out := buf.String()
		require.Contains(t, out, `dashboards created in folder \"Team A\": Alpha, CPU`)
		require.Contains(t, out, "folders overwritten: Team A")
		require.Contains(t, out, "boom")
		require.Contains(t, out, "C, Z")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		o, err := New(FormatJSON, logger.Discard(), &buf)
		require.NoError(t, err)
		require.NoError(t, o.Output(testSummary()))
		var got Summary
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		require.Equal(t, "migrate", got.Operation)
		require.Len(t, got.Entries, 5)
		require.Equal(t, []string{"Team B"}, got.FoldersCreated)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		o, err := New(FormatYAML, logger.Discard(), &buf)
		require.NoError(t, err)
		require.NoError(t, o.Output(testSummary()))
		var got Summary
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
		require.Equal(t, OutcomeFailed, got.Entries[4].Outcome)
		require.Equal(t, "boom", got.Entries[4].Error)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := New("xml", logger.Discard(), &bytes.Buffer{})
		require.Error(t, err)
	})
}
