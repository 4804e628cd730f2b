package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go-audit-trail/internal/model"
)

// MemoryAuditRepository is an in-process log store with the same liveness
// semantics as AuditRepository. It backs tests and local runs without
// PostgreSQL.
type MemoryAuditRepository struct {
	mu      sync.RWMutex
	entries []model.LogEntry
	nextID  int64
	now     func() time.Time
}

func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{now: func() time.Time { return time.Now().UTC() }}
}

// SetClock replaces the timestamp source; used by tests to pin ordering.
func (r *MemoryAuditRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *MemoryAuditRepository) Append(ctx context.Context, entry model.LogEntry) (model.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return model.LogEntry{}, err
	}
	if _, err := model.EncodePayload(entry.Payload); err != nil {
		return model.LogEntry{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.appendLocked(entry), nil
}

func (r *MemoryAuditRepository) AppendRecovery(ctx context.Context, deleteLogID int64, entry model.LogEntry) (model.LogEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.LogEntry{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.findLocked(deleteLogID)
	if !ok || target.Action != model.ActionDelete {
		return model.LogEntry{}, false, model.ErrLogEntryNotFound
	}
	if !r.outstandingLocked(target) {
		return model.LogEntry{}, false, nil
	}
	if r.supersededLocked(target) {
		return model.LogEntry{}, false, fmt.Errorf("%w: superseded by a later delete", model.ErrNotRecoverable)
	}
	for _, existing := range r.entries {
		if p, isRecover := existing.Payload.(model.RecoverPayload); isRecover && p.RecoveredLogID == deleteLogID {
			return model.LogEntry{}, false, nil
		}
	}

	entry.Action = model.ActionRecover
	entry.EntityType = target.EntityType
	entry.EntityID = target.EntityID
	if p, isRecover := entry.Payload.(model.RecoverPayload); isRecover {
		p.RecoveredLogID = deleteLogID
		entry.Payload = p
	}

	return r.appendLocked(entry), true, nil
}

func (r *MemoryAuditRepository) FindByID(ctx context.Context, id int64) (model.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return model.LogEntry{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.findLocked(id)
	if !ok {
		return model.LogEntry{}, model.ErrLogEntryNotFound
	}
	return entry, nil
}

func (r *MemoryAuditRepository) ListDeleted(ctx context.Context, query model.DeletedQuery) ([]model.LogEntry, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	entityType := strings.TrimSpace(query.EntityType)

	r.mu.RLock()
	matched := make([]model.LogEntry, 0)
	for _, entry := range r.entries {
		if entry.Action != model.ActionDelete {
			continue
		}
		if entityType != "" && entry.EntityType != entityType {
			continue
		}
		if r.outstandingLocked(entry) {
			matched = append(matched, entry)
		}
	}
	r.mu.RUnlock()

	sortNewestFirst(matched)
	return paginate(matched, query.Page, query.Limit), len(matched), nil
}

func (r *MemoryAuditRepository) DeletedEntityIDs(ctx context.Context, entityType string) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := map[int64]struct{}{}
	ids := make([]int64, 0)
	for _, entry := range r.entries {
		if entry.Action != model.ActionDelete || entry.EntityType != entityType {
			continue
		}
		if _, dup := seen[entry.EntityID]; dup || !r.outstandingLocked(entry) {
			continue
		}
		seen[entry.EntityID] = struct{}{}
		ids = append(ids, entry.EntityID)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *MemoryAuditRepository) IsDeleted(ctx context.Context, entityType string, entityID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.entries {
		if entry.Action == model.ActionDelete && entry.EntityType == entityType &&
			entry.EntityID == entityID && r.outstandingLocked(entry) {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryAuditRepository) History(ctx context.Context, entityType string, entityID int64) ([]model.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	out := make([]model.LogEntry, 0)
	for _, entry := range r.entries {
		if entry.EntityType == entityType && entry.EntityID == entityID {
			out = append(out, entry)
		}
	}
	r.mu.RUnlock()

	sortNewestFirst(out)
	return out, nil
}

func (r *MemoryAuditRepository) Query(ctx context.Context, query model.AuditQuery) ([]model.LogEntry, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	from, err := parseOptionalTime(query.From)
	if err != nil {
		return nil, 0, err
	}
	to, err := parseOptionalTime(query.To)
	if err != nil {
		return nil, 0, err
	}
	action := strings.ToUpper(strings.TrimSpace(query.Action))
	entityType := strings.TrimSpace(query.EntityType)

	r.mu.RLock()
	matched := make([]model.LogEntry, 0)
	for _, entry := range r.entries {
		if action != "" && string(entry.Action) != action {
			continue
		}
		if query.ActorID > 0 && entry.ActorID != query.ActorID {
			continue
		}
		if entityType != "" && entry.EntityType != entityType {
			continue
		}
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && entry.CreatedAt.After(to) {
			continue
		}
		matched = append(matched, entry)
	}
	r.mu.RUnlock()

	sortNewestFirst(matched)
	return paginate(matched, query.Page, query.Limit), len(matched), nil
}

func (r *MemoryAuditRepository) appendLocked(entry model.LogEntry) model.LogEntry {
	r.nextID++
	entry.ID = r.nextID
	entry.CreatedAt = r.now().UTC()
	r.entries = append(r.entries, entry)
	return entry
}

func (r *MemoryAuditRepository) findLocked(id int64) (model.LogEntry, bool) {
	for _, entry := range r.entries {
		if entry.ID == id {
			return entry, true
		}
	}
	return model.LogEntry{}, false
}

func (r *MemoryAuditRepository) outstandingLocked(deleteEntry model.LogEntry) bool {
	for _, entry := range r.entries {
		if entry.Action == model.ActionRecover &&
			entry.EntityType == deleteEntry.EntityType &&
			entry.EntityID == deleteEntry.EntityID &&
			deleteEntry.Before(entry) {
			return false
		}
	}
	return true
}

func (r *MemoryAuditRepository) supersededLocked(deleteEntry model.LogEntry) bool {
	for _, entry := range r.entries {
		if entry.Action == model.ActionDelete &&
			entry.EntityType == deleteEntry.EntityType &&
			entry.EntityID == deleteEntry.EntityID &&
			deleteEntry.Before(entry) {
			return true
		}
	}
	return false
}

func sortNewestFirst(entries []model.LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[j].Before(entries[i])
	})
}

func paginate(entries []model.LogEntry, page int, limit int) []model.LogEntry {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		return entries
	}

	if page-1 > len(entries)/limit {
		return entries[:0]
	}
	start := (page - 1) * limit
	if start > len(entries) {
		start = len(entries)
	}
	end := start + limit
	if end > len(entries) {
		end = len(entries)
	}
	return entries[start:end]
}

func parseOptionalTime(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, nil
	}

	if value, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
		return value.UTC(), nil
	}
	value, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, err
	}
	return value.UTC(), nil
}
