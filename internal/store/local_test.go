package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irislikesuall/Luna-Calendar-Todo/internal/model"
)

// newTestStore creates an in-memory SQLite store for testing.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestLoadTasksEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.LoadTasks(ctx)
	require.NoError(t, err)
	assert.NotNil(t, m)
	assert.Empty(t, m)
}

func TestSaveAndLoadTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved := model.TaskMap{
		"2024-03-01": {
			{ID: "a1", Text: "buy milk", Done: false},
			{ID: "a2", Text: "call mom", Done: true},
		},
		"2024-03-15": {
			{ID: "b1", Text: "dentist", Done: false},
		},
	}
	require.NoError(t, s.SaveTasks(ctx, saved))

	loaded, err := s.LoadTasks(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Len(t, loaded["2024-03-01"], 2)
	assert.Equal(t, "buy milk", loaded["2024-03-01"][0].Text)
	assert.True(t, loaded["2024-03-01"][1].Done)
	assert.Equal(t, "b1", loaded["2024-03-15"][0].ID)
}

func TestSaveTasksReplacesWholesale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveTasks(ctx, model.TaskMap{
		"2024-03-01": {{ID: "a1", Text: "first"}},
	}))
	require.NoError(t, s.SaveTasks(ctx, model.TaskMap{
		"2024-04-02": {{ID: "b1", Text: "second"}},
	}))

	loaded, err := s.LoadTasks(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Contains(t, loaded, "2024-04-02")
}

func TestClearTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveTasks(ctx, model.TaskMap{
		"2024-03-01": {{ID: "a1", Text: "gone soon"}},
	}))
	require.NoError(t, s.ClearTasks(ctx))

	loaded, err := s.LoadTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestMigratedFlagMakesStoreInert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveTasks(ctx, model.TaskMap{
		"2024-03-01": {{ID: "a1", Text: "pre-migration"}},
	}))

	migrated, err := s.Migrated(ctx)
	require.NoError(t, err)
	assert.False(t, migrated)

	require.NoError(t, s.SetMigrated(ctx))

	migrated, err = s.Migrated(ctx)
	require.NoError(t, err)
	assert.True(t, migrated)

	// Reads return empty even though the row still exists.
	loaded, err := s.LoadTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)

	// Writes are silently dropped.
	require.NoError(t, s.SaveTasks(ctx, model.TaskMap{
		"2024-05-05": {{ID: "z1", Text: "too late"}},
	}))

	var raw string
	err = s.db.Get(&raw, "SELECT value FROM local_state WHERE key = ?", taskMapKey)
	require.NoError(t, err)
	var m model.TaskMap
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	assert.Contains(t, m, "2024-03-01")
	assert.NotContains(t, m, "2024-05-05")
}

func TestTaskMappingWireFormat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, s.SaveTasks(ctx, model.TaskMap{
		"2024-03-01": {{ID: "a1", Text: "wire check", Done: true, CreatedAt: created}},
	}))

	var raw string
	require.NoError(t, s.db.Get(&raw,
		"SELECT value FROM local_state WHERE key = ?", taskMapKey,
	))

	// The stored value is the same JSON mapping shape the v1 web client
	// kept in localStorage.
	var decoded map[string][]map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	require.Len(t, decoded["2024-03-01"], 1)
	entry := decoded["2024-03-01"][0]
	assert.Equal(t, "a1", entry["id"])
	assert.Equal(t, "wire check", entry["text"])
	assert.Equal(t, true, entry["done"])
}

func TestGroupRows(t *testing.T) {
	rows := []TaskRow{
		{ID: "r1", Date: "2024-03-01", Text: "oldest", CreatedAt: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)},
		{ID: "r2", Date: "2024-03-02", Text: "other day"},
		{ID: "r3", Date: "2024-03-01", Text: "newest", Done: true, CreatedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
	}

	m := GroupRows(rows)
	require.Len(t, m, 2)
	require.Len(t, m["2024-03-01"], 2)
	assert.Equal(t, "oldest", m["2024-03-01"][0].Text)
	assert.Equal(t, "newest", m["2024-03-01"][1].Text)
	assert.True(t, m["2024-03-01"][1].Done)
	assert.Equal(t, "r2", m["2024-03-02"][0].ID)
}
