package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/repoloop/internal/session"
)

func TestBuilder_Defaults(t *testing.T) {
	s := NewBuilder().Build()

	require.NotEmpty(t, s.ID)
	require.Equal(t, session.StatusRunning, s.Status)
	require.Equal(t, session.RedactedCredential, s.Config.Credential)
	require.Equal(t, "demo", s.Config.NamePrefix)
	require.Equal(t, BaseTime, s.StartTime)
	require.Nil(t, s.EndTime)
	require.Empty(t, s.Records)
}

func TestBuilder_WithRecord(t *testing.T) {
	s := NewBuilder(NamePrefix("lab")).
		WithRecord(1).
		WithRecord(2, Created()).
		Build()

	require.Len(t, s.Records, 2)

	pending := s.Records[0]
	require.Equal(t, 1, pending.IterationNumber)
	require.Equal(t, "lab-1-abc123", pending.RepoName)
	require.Equal(t, session.RecordPending, pending.Status)
	require.Nil(t, pending.RepoURL)

	created := s.Records[1]
	require.Equal(t, session.RecordCreated, created.Status)
	require.NotNil(t, created.RepoURL)
	require.Equal(t, "https://github.com/octocat/lab-2-abc123", *created.RepoURL)
	require.Equal(t, BaseTime.Add(2*time.Minute), *created.CreatedAt)
	require.NotEqual(t, pending.ID, created.ID)
}

func TestBuilder_RecordOptions(t *testing.T) {
	s := NewBuilder().
		WithRecord(1,
			RepoName("custom"),
			Content("# Custom"),
			Technique("tables"),
			Theme("parser"),
			Created(),
			RepoURL("https://example.com/custom"),
		).
		WithRecord(2, Failed("boom")).
		Build()

	rec := s.Records[0]
	require.Equal(t, "custom", rec.RepoName)
	require.Equal(t, "# Custom", rec.Content)
	require.Equal(t, "tables", rec.Technique)
	require.Equal(t, "parser", rec.Theme)
	require.Equal(t, "https://example.com/custom", *rec.RepoURL)

	require.Equal(t, session.RecordError, s.Records[1].Status)
	require.Equal(t, "boom", s.Records[1].Error)
}

func TestBuilder_BuildReturnsCopies(t *testing.T) {
	b := NewBuilder().WithRecord(1, Created())

	first := b.Build()
	*first.Records[0].RepoURL = "mutated"
	first.Records[0].Status = session.RecordError

	second := b.Build()
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, session.RecordCreated, second.Records[0].Status)
	require.Equal(t, "https://github.com/octocat/demo-1-abc123", *second.Records[0].RepoURL)
}

func TestBuilder_WithOutcomes(t *testing.T) {
	s := NewBuilder().
		WithRecord(1, Created()).
		WithOutcomes(false, true, false).
		Build()

	require.Len(t, s.Records, 4)
	require.Equal(t, 4, s.Records[3].IterationNumber)

	sum := s.Summary()
	require.Equal(t, 2, sum.Created)
	require.Equal(t, 2, sum.Errors)
}
