package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/db"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	database, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	store, err := NewSQLStore(database)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestSQLStore_SessionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	rec := &SessionRecord{
		ID:        "agent-1",
		SessionID: "sess-1",
		Name:      "Bot",
		Role:      "dev",
		WorkDir:   "/tmp/x",
		Patterns:  `["**/*"]`,
		Status:    "running",
		PID:       1234,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.SaveSession(ctx, rec))

	sessions, err := store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "agent-1", sessions[0].ID)
	assert.Equal(t, "sess-1", sessions[0].SessionID)
	assert.Equal(t, "running", sessions[0].Status)
	assert.Equal(t, 1234, sessions[0].PID)
}

func TestSQLStore_SaveSessionUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	rec := &SessionRecord{
		ID: "agent-1", SessionID: "sess-1", Name: "Bot", Role: "dev",
		WorkDir: "/tmp/x", Patterns: "[]", Status: "running",
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.SaveSession(ctx, rec))

	rec.Status = "stopped"
	rec.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, store.SaveSession(ctx, rec))

	sessions, err := store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "stopped", sessions[0].Status)
}

func TestSQLStore_DeleteSessionRemovesOutput(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, store.SaveSession(ctx, &SessionRecord{
		ID: "agent-1", SessionID: "sess-1", Name: "Bot", Role: "dev",
		WorkDir: "/tmp/x", Patterns: "[]", Status: "running",
		CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, store.AppendOutput(ctx, &OutputRecord{
		AgentID: "agent-1", SessionID: "sess-1", Text: "hello",
		Stream: "stdout", Timestamp: now,
	}))

	require.NoError(t, store.DeleteSession(ctx, "agent-1"))

	sessions, err := store.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	output, err := store.RecentOutput(ctx, "agent-1", 10)
	require.NoError(t, err)
	assert.Empty(t, output)
}

func TestSQLStore_ChangeRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &ChangeRecord{
		ID: "change-1", SessionID: "sess-1", AgentID: "agent-1",
		AgentName: "Bot", FilePath: "a.go", Before: "old", After: "new",
		Status: "pending", Timestamp: time.Now().UTC(),
	}
	require.NoError(t, store.SaveChange(ctx, rec))

	rec.Status = "accepted"
	rec.Instruction = "also update the tests"
	require.NoError(t, store.SaveChange(ctx, rec))

	changes, err := store.ListChanges(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "accepted", changes[0].Status)
	assert.Equal(t, "a.go", changes[0].FilePath)
	assert.Equal(t, "also update the tests", changes[0].Instruction)
}

func TestSQLStore_RecentOutputHonorsLimitAndOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendOutput(ctx, &OutputRecord{
			AgentID: "agent-1", SessionID: "sess-1",
			Text: string(rune('a' + i)), Stream: "stdout",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	recent, err := store.RecentOutput(ctx, "agent-1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "c", recent[0].Text)
	assert.Equal(t, "e", recent[2].Text)
}
