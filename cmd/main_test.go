package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"githubtriage/models"
	"githubtriage/service"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		repo    string
		number  int
		wantErr bool
	}{
		{name: "valid", input: "acme/widgets#12", repo: "acme/widgets", number: 12},
		{name: "missing number", input: "acme/widgets", wantErr: true},
		{name: "bad repo", input: "widgets#12", wantErr: true},
		{name: "zero", input: "acme/widgets#0", wantErr: true},
		{name: "not a number", input: "acme/widgets#abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, number, err := parseTarget(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.repo, repo)
			assert.Equal(t, tt.number, number)
		})
	}
}

func newAnnotateFlags(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "annotate"}
	cmd.Flags().Bool("triage", false, "")
	cmd.Flags().Int("priority", models.PriorityUnset, "")
	cmd.Flags().String("comments", "", "")
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestAnnotationFromFlags(t *testing.T) {
	t.Run("only changed flags", func(t *testing.T) {
		a, err := annotationFromFlags(newAnnotateFlags(t, "--priority", "2"))
		require.NoError(t, err)
		require.NotNil(t, a.Priority)
		assert.Equal(t, 2, *a.Priority)
		assert.Nil(t, a.Triage)
		assert.Nil(t, a.Comments)
	})

	t.Run("clearing comments", func(t *testing.T) {
		a, err := annotationFromFlags(newAnnotateFlags(t, "--comments", "", "--triage"))
		require.NoError(t, err)
		require.NotNil(t, a.Comments)
		assert.Equal(t, "", *a.Comments)
		require.NotNil(t, a.Triage)
		assert.True(t, *a.Triage)
	})

	t.Run("priority out of range", func(t *testing.T) {
		_, err := annotationFromFlags(newAnnotateFlags(t, "--priority", "9"))
		assert.Error(t, err)
	})
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, &service.Summary{
		SessionID:    "abc",
		Duration:     1500 * time.Millisecond,
		Repositories: 2,
		Stats:        models.MergeStats{New: 1200, Updated: 3, Unchanged: 7},
		Closed:       1,
		Errors:       1,
		Results: []models.SyncHistory{
			{Repo: "acme/widgets", SyncType: models.KindIssues, Status: models.StatusSuccess, NewCount: 1200},
			{Repo: "acme/gadgets", SyncType: models.KindIssues, Status: models.StatusError, ErrorMessage: "boom"},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "Session abc: 2 repositories in 1.5s")
	assert.Contains(t, out, "new 1,200, updated 3, unchanged 7, closed 1")
	assert.Contains(t, out, "errors 1")
	assert.Contains(t, out, "acme/gadgets")
	assert.Contains(t, out, "boom")
}

func TestPrintStatus(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	last := now.Add(-2 * time.Hour)

	t.Run("never synced", func(t *testing.T) {
		var buf bytes.Buffer
		printStatus(&buf, now, nil, nil, nil, nil)
		assert.Contains(t, buf.String(), "Last sync: never")
	})

	t.Run("with metadata", func(t *testing.T) {
		var buf bytes.Buffer
		printStatus(&buf, now, &last,
			[]models.SyncMetadata{{Repo: "acme/widgets", SyncType: models.KindIssues, Status: models.StatusSuccess, Cursor: &last, ItemsSynced: 4321}},
			[]models.ItemCount{{Repo: "acme/widgets", SyncType: models.KindIssues, State: models.StateOpen, Count: 12}},
			[]models.SyncHistory{{Repo: "acme/gadgets", SyncType: models.KindPullRequests, ErrorMessage: "rate limited", StartedAt: last}})

		out := buf.String()
		assert.Contains(t, out, "2 hours ago")
		assert.Contains(t, out, "4,321")
		assert.Contains(t, out, "Recent errors:")
		assert.Contains(t, out, "rate limited")
	})
}
