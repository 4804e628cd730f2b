package service

import (
	"context"

	"go-audit-trail/internal/model"
)

// DeletedIDsSource is satisfied by AuditService and AuditTrail.
type DeletedIDsSource interface {
	DeletedIDs(ctx context.Context, entityType string) model.IDSet
}

// FilterLive drops every item whose id is currently soft-deleted. Listing
// code that loads business rows without the SQL anti-join runs its result
// through this before returning it.
func FilterLive[T any](ctx context.Context, source DeletedIDsSource, entityType string, items []T, idOf func(T) int64) []T {
	deleted := source.DeletedIDs(ctx, entityType)
	if len(deleted) == 0 {
		return items
	}

	live := make([]T, 0, len(items))
	for _, item := range items {
		if deleted.Contains(idOf(item)) {
			continue
		}
		live = append(live, item)
	}
	return live
}
