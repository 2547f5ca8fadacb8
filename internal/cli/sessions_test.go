package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/duofusion/internal/engine"
	"github.com/roach88/duofusion/internal/store"
)

func seedCatalog(t *testing.T, root string, sessions ...store.Session) {
	t.Helper()
	catalog, err := store.Open(store.CatalogPath(root))
	require.NoError(t, err)
	defer catalog.Close()
	for _, s := range sessions {
		require.NoError(t, catalog.RecordSession(t.Context(), s))
	}
}

func catalogSession(id string, start time.Time, migrated bool) store.Session {
	return store.Session{
		ID:         id,
		RunToken:   "run-" + id,
		StartedAt:  start,
		EndedAt:    start.Add(time.Minute),
		TargetRate: 12,
		Status:     "completed",
		Frames:     engine.Counts{Total: 1200, OnTime: 1190, Late: 4, Dropped: 6},
		Quality:    store.Quality{Samples: 1194, MeanDeltaMS: 3.2, WorstDeltaMS: 9.8, Class: "excellent"},
		Migrated:   migrated,
	}
}

func TestSessions_JSON(t *testing.T) {
	root := t.TempDir()
	start := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	seedCatalog(t, root,
		catalogSession("20250314_100000", start.Add(time.Hour), true),
		catalogSession("20250314_090000", start, true),
	)

	cmd := NewSessionsCommand(&RootOptions{Format: "json"})
	out, err := execute(t, cmd, "--root", root)
	require.NoError(t, err)

	var sessions []store.Session
	resp := jsonResponse(t, out, &sessions)
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, sessions, 2)
	assert.Equal(t, "20250314_090000", sessions[0].ID)
	assert.Equal(t, "20250314_100000", sessions[1].ID)
}

func TestSessions_Text(t *testing.T) {
	root := t.TempDir()
	seedCatalog(t, root, catalogSession("20250314_090000", time.Now(), false))

	cmd := NewSessionsCommand(&RootOptions{Format: "text"})
	out, err := execute(t, cmd, "--root", root)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "ID")
	assert.Contains(t, out.String(), "20250314_090000")
	assert.Contains(t, out.String(), "1,200")
	assert.Contains(t, out.String(), "99.5%")
}

func TestSessions_Empty(t *testing.T) {
	cmd := NewSessionsCommand(&RootOptions{Format: "text"})
	out, err := execute(t, cmd, "--root", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "No sessions recorded.")
}

func TestSessions_DefaultsToConfiguredRoot(t *testing.T) {
	_, durable := testEnv(t)
	seedCatalog(t, durable, catalogSession("20250314_090000", time.Now(), true))

	cmd := NewSessionsCommand(&RootOptions{Format: "json"})
	out, err := execute(t, cmd)
	require.NoError(t, err)

	var sessions []store.Session
	jsonResponse(t, out, &sessions)
	assert.Len(t, sessions, 1)
}
