package repository

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-audit-trail/internal/model"
)

func newSteppedRepo() *MemoryAuditRepository {
	repo := NewMemoryAuditRepository()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	repo.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
	return repo
}

func appendDelete(t *testing.T, repo *MemoryAuditRepository, entityType string, entityID int64) model.LogEntry {
	t.Helper()

	entry, err := repo.Append(context.Background(), model.LogEntry{
		ActorID:    7,
		Action:     model.ActionDelete,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    model.DeletePayload{OriginalData: map[string]any{"id": entityID}, IsDeleted: true, DeletedBy: 7, CanRecover: true},
	})
	require.NoError(t, err)
	return entry
}

func recoverEntry(actorID int64) model.LogEntry {
	return model.LogEntry{ActorID: actorID, Payload: model.RecoverPayload{RecoveredBy: actorID}}
}

func TestMemoryAuditRepository_AppendRecovery(t *testing.T) {
	ctx := context.Background()
	repo := newSteppedRepo()
	del := appendDelete(t, repo, "Product", 123)

	recovered, ok, err := repo.AppendRecovery(ctx, del.ID, recoverEntry(9))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.ActionRecover, recovered.Action)
	assert.Equal(t, "Product", recovered.EntityType)
	assert.Equal(t, int64(123), recovered.EntityID)
	assert.Equal(t, del.ID, recovered.Payload.(model.RecoverPayload).RecoveredLogID)

	_, ok, err = repo.AppendRecovery(ctx, del.ID, recoverEntry(9))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = repo.AppendRecovery(ctx, 999, recoverEntry(9))
	assert.ErrorIs(t, err, model.ErrLogEntryNotFound)
	assert.False(t, ok)
}

func TestMemoryAuditRepository_AppendRecoveryRefusesSupersededDelete(t *testing.T) {
	ctx := context.Background()
	repo := newSteppedRepo()
	older := appendDelete(t, repo, "Invoice", 5)
	newer := appendDelete(t, repo, "Invoice", 5)

	_, ok, err := repo.AppendRecovery(ctx, older.ID, recoverEntry(7))
	assert.ErrorIs(t, err, model.ErrNotRecoverable)
	assert.False(t, ok)

	deleted, err := repo.IsDeleted(ctx, "Invoice", 5)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err = repo.AppendRecovery(ctx, newer.ID, recoverEntry(7))
	require.NoError(t, err)
	assert.True(t, ok)

	// Once the entity is live again the older delete counts as recovered.
	_, ok, err = repo.AppendRecovery(ctx, older.ID, recoverEntry(7))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryAuditRepository_Liveness(t *testing.T) {
	ctx := context.Background()
	repo := newSteppedRepo()

	first := appendDelete(t, repo, "Product", 1)
	appendDelete(t, repo, "Product", 2)
	appendDelete(t, repo, "Invoice", 1)

	_, ok, err := repo.AppendRecovery(ctx, first.ID, recoverEntry(7))
	require.NoError(t, err)
	require.True(t, ok)

	ids, err := repo.DeletedEntityIDs(ctx, "Product")
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)

	deleted, err := repo.IsDeleted(ctx, "Product", 1)
	require.NoError(t, err)
	assert.False(t, deleted)

	// A delete after the recovery is outstanding again.
	appendDelete(t, repo, "Product", 1)
	ids, err = repo.DeletedEntityIDs(ctx, "Product")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	items, total, err := repo.ListDeleted(ctx, model.DeletedQuery{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 2)
	assert.Equal(t, int64(1), items[0].EntityID)
	assert.Equal(t, "Product", items[0].EntityType)
	assert.Equal(t, "Invoice", items[1].EntityType)
}

func TestMemoryAuditRepository_HistoryAndQuery(t *testing.T) {
	ctx := context.Background()
	repo := newSteppedRepo()

	_, err := repo.Append(ctx, model.LogEntry{ActorID: 7, Action: model.ActionCreate, EntityType: "Customer", EntityID: 5, Payload: model.CreatePayload{}})
	require.NoError(t, err)
	_, err = repo.Append(ctx, model.LogEntry{ActorID: 8, Action: model.ActionUpdate, EntityType: "Customer", EntityID: 5, Payload: model.UpdatePayload{}})
	require.NoError(t, err)
	appendDelete(t, repo, "Customer", 5)

	history, err := repo.History(ctx, "Customer", 5)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, model.ActionDelete, history[0].Action)
	assert.Equal(t, model.ActionCreate, history[2].Action)

	entries, total, err := repo.Query(ctx, model.AuditQuery{Action: "update", Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, int64(8), entries[0].ActorID)

	entries, total, err = repo.Query(ctx, model.AuditQuery{From: "2024-01-01T00:00:02Z", Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, entries, 2)

	_, _, err = repo.Query(ctx, model.AuditQuery{To: "yesterday"})
	assert.Error(t, err)
}

func TestPaginate(t *testing.T) {
	entries := make([]model.LogEntry, 5)
	for i := range entries {
		entries[i].ID = int64(i + 1)
	}

	assert.Len(t, paginate(entries, 1, 2), 2)
	assert.Equal(t, int64(5), paginate(entries, 3, 2)[0].ID)
	assert.Empty(t, paginate(entries, 4, 2))
	assert.Len(t, paginate(entries, 0, 0), 5)
	assert.Empty(t, paginate(entries, math.MaxInt, 2))
}

func TestMemoryAuditRepository_HonorsContext(t *testing.T) {
	repo := NewMemoryAuditRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.Append(ctx, model.LogEntry{Action: model.ActionCreate, Payload: model.CreatePayload{}})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = repo.FindByID(context.Background(), 1)
	assert.ErrorIs(t, err, model.ErrLogEntryNotFound)
}
