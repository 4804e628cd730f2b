package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"go-audit-trail/internal/event"
	"go-audit-trail/internal/metrics"
	"go-audit-trail/internal/model"
	"go-audit-trail/pkg/apierror"
)

const maxEntityTypeLength = 64

// LogStore is the append-only persistence behind AuditService.
type LogStore interface {
	Append(ctx context.Context, entry model.LogEntry) (model.LogEntry, error)
	AppendRecovery(ctx context.Context, deleteLogID int64, entry model.LogEntry) (model.LogEntry, bool, error)
	FindByID(ctx context.Context, id int64) (model.LogEntry, error)
	ListDeleted(ctx context.Context, query model.DeletedQuery) ([]model.LogEntry, int, error)
	DeletedEntityIDs(ctx context.Context, entityType string) ([]int64, error)
	IsDeleted(ctx context.Context, entityType string, entityID int64) (bool, error)
	History(ctx context.Context, entityType string, entityID int64) ([]model.LogEntry, error)
	Query(ctx context.Context, query model.AuditQuery) ([]model.LogEntry, int, error)
}

// ActorDirectory resolves actor ids to display identities.
type ActorDirectory interface {
	LookupActors(ctx context.Context, ids []int64) (map[int64]model.Actor, error)
}

// AuditTrail is the surface entity handlers write through.
type AuditTrail interface {
	Record(ctx context.Context, in model.RecordInput)
	SoftDelete(ctx context.Context, entityType string, entityID int64, snapshot map[string]any, actorID int64, opts ...SoftDeleteOption)
	DeletedIDs(ctx context.Context, entityType string) model.IDSet
}

type SoftDeleteOption func(*model.DeletePayload)

// WithCanRecover marks the delete as (non-)recoverable. Deletes are
// recoverable unless this option says otherwise.
func WithCanRecover(canRecover bool) SoftDeleteOption {
	return func(p *model.DeletePayload) {
		p.CanRecover = canRecover
	}
}

type AuditService struct {
	store        LogStore
	directory    ActorDirectory
	publisher    event.Publisher
	metrics      *metrics.Metrics
	now          func() time.Time
	defaultLimit int
	maxLimit     int
}

func NewAuditService(store LogStore, directory ActorDirectory, publisher event.Publisher, m *metrics.Metrics) *AuditService {
	if m == nil {
		m = metrics.New()
	}

	return &AuditService{
		store:        store,
		directory:    directory,
		publisher:    publisher,
		metrics:      m,
		now:          func() time.Time { return time.Now().UTC() },
		defaultLimit: 20,
		maxLimit:     200,
	}
}

func (s *AuditService) SetPageLimits(defaultLimit int, maxLimit int) {
	if defaultLimit > 0 {
		s.defaultLimit = defaultLimit
	}
	if maxLimit > 0 {
		s.maxLimit = maxLimit
	}
	if s.defaultLimit > s.maxLimit {
		s.defaultLimit = s.maxLimit
	}
}

// Record appends one entry. Failures are logged and counted, never returned:
// the business operation that triggered the audit must not fail because of it.
func (s *AuditService) Record(ctx context.Context, in model.RecordInput) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.reportWriteFailure(in, fmt.Errorf("%w: panic: %v", model.ErrPersistence, recovered))
		}
	}()

	if _, err := s.Append(ctx, in); err != nil {
		s.reportWriteFailure(in, err)
	}
}

// Append is the strict form of Record for callers that need the stored entry.
func (s *AuditService) Append(ctx context.Context, in model.RecordInput) (model.LogEntry, error) {
	entry, err := s.buildEntry(in)
	if err != nil {
		return model.LogEntry{}, err
	}

	stored, err := s.store.Append(ctx, entry)
	if err != nil {
		return model.LogEntry{}, err
	}

	s.metrics.EntriesWritten.WithLabelValues(string(stored.Action)).Inc()
	s.publish(stored)
	return stored, nil
}

func (s *AuditService) SoftDelete(ctx context.Context, entityType string, entityID int64, snapshot map[string]any, actorID int64, opts ...SoftDeleteOption) {
	payload := model.DeletePayload{
		OriginalData: model.CloneData(snapshot),
		IsDeleted:    true,
		DeletedAt:    s.now(),
		DeletedBy:    actorID,
		CanRecover:   true,
	}
	for _, opt := range opts {
		opt(&payload)
	}

	s.Record(ctx, model.RecordInput{
		ActorID:    actorID,
		Action:     model.ActionDelete,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
	})
}

func (s *AuditService) LogCreate(ctx context.Context, entityType string, entityID int64, details map[string]any, actorID int64) {
	s.Record(ctx, model.RecordInput{
		ActorID:    actorID,
		Action:     model.ActionCreate,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    model.CreatePayload{Details: model.CloneData(details)},
	})
}

func (s *AuditService) LogUpdate(ctx context.Context, entityType string, entityID int64, details map[string]any, actorID int64) {
	s.Record(ctx, model.RecordInput{
		ActorID:    actorID,
		Action:     model.ActionUpdate,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    model.UpdatePayload{Details: model.CloneData(details)},
	})
}

// DeletedIDs returns the ids of entityType that are currently soft-deleted.
// Every listing of that entity type must exclude them.
func (s *AuditService) DeletedIDs(ctx context.Context, entityType string) model.IDSet {
	entityType = strings.TrimSpace(entityType)
	if entityType == "" {
		return model.NewIDSet()
	}

	ids, err := s.store.DeletedEntityIDs(ctx, entityType)
	if err != nil {
		s.reportReadFailure("deleted_ids", err, "entity_type", entityType)
		return model.NewIDSet()
	}
	return model.NewIDSet(ids...)
}

func (s *AuditService) IsDeleted(ctx context.Context, entityType string, entityID int64) bool {
	deleted, err := s.store.IsDeleted(ctx, strings.TrimSpace(entityType), entityID)
	if err != nil {
		s.reportReadFailure("is_deleted", err, "entity_type", entityType, "entity_id", entityID)
		return false
	}
	return deleted
}

func (s *AuditService) ListDeleted(ctx context.Context, query model.DeletedQuery) model.Page[model.RecycleBinItem] {
	query.Page, query.Limit = s.normalizePage(query.Page, query.Limit)
	query.EntityType = strings.TrimSpace(query.EntityType)

	result := model.Page[model.RecycleBinItem]{Items: []model.RecycleBinItem{}, Page: query.Page, Limit: query.Limit}

	entries, total, err := s.store.ListDeleted(ctx, query)
	if err != nil {
		s.reportReadFailure("list_deleted", err, "entity_type", query.EntityType)
		return result
	}

	items := make([]model.RecycleBinItem, 0, len(entries))
	actorIDs := make([]int64, 0, len(entries))
	for _, entry := range entries {
		payload, ok := entry.Payload.(model.DeletePayload)
		if !ok {
			continue
		}

		deletedBy := payload.DeletedBy
		if deletedBy == 0 {
			deletedBy = entry.ActorID
		}
		deletedAt := payload.DeletedAt
		if deletedAt.IsZero() {
			deletedAt = entry.CreatedAt
		}

		items = append(items, model.RecycleBinItem{
			LogID:        entry.ID,
			EntityType:   entry.EntityType,
			EntityID:     entry.EntityID,
			OriginalData: payload.OriginalData,
			DeletedAt:    deletedAt,
			DeletedBy:    deletedBy,
			CanRecover:   payload.CanRecover,
		})
		actorIDs = append(actorIDs, deletedBy)
	}

	actors := s.resolveActors(ctx, actorIDs)
	for i := range items {
		if actor, ok := actors[items[i].DeletedBy]; ok {
			items[i].DeletedByActor = &actor
		}
	}

	result.Items = items
	result.Total = total
	return result
}

func (s *AuditService) History(ctx context.Context, entityType string, entityID int64) model.Page[model.HistoryEntry] {
	entityType = strings.TrimSpace(entityType)
	result := model.Page[model.HistoryEntry]{Items: []model.HistoryEntry{}}
	if entityType == "" || entityID <= 0 {
		return result
	}

	entries, err := s.store.History(ctx, entityType, entityID)
	if err != nil {
		s.reportReadFailure("history", err, "entity_type", entityType, "entity_id", entityID)
		return result
	}

	result.Items = markRecoveredDeletes(s.withActors(ctx, entries))
	result.Total = len(result.Items)
	return result
}

// markRecoveredDeletes derives liveness for the DELETE entries of one entity's
// history. items must be newest first.
func markRecoveredDeletes(items []model.HistoryEntry) []model.HistoryEntry {
	recoveredLater := false
	for i := range items {
		switch items[i].Action {
		case model.ActionRecover:
			recoveredLater = true
		case model.ActionDelete:
			recovered := recoveredLater
			items[i].Recovered = &recovered
		}
	}
	return items
}

// Query lists the whole log with optional filters, newest first.
func (s *AuditService) Query(ctx context.Context, query model.AuditQuery) (model.Page[model.HistoryEntry], error) {
	query.Page, query.Limit = s.normalizePage(query.Page, query.Limit)

	if raw := strings.TrimSpace(query.Action); raw != "" {
		action, err := model.ParseAction(raw)
		if err != nil {
			return model.Page[model.HistoryEntry]{}, apierror.New("BAD_REQUEST", "invalid 'action' filter", raw, http.StatusBadRequest)
		}
		query.Action = string(action)
	}
	if _, err := parseOptionalAuditTime(query.From); err != nil {
		return model.Page[model.HistoryEntry]{}, apierror.New("BAD_REQUEST", "invalid 'from' datetime format", query.From, http.StatusBadRequest)
	}
	if _, err := parseOptionalAuditTime(query.To); err != nil {
		return model.Page[model.HistoryEntry]{}, apierror.New("BAD_REQUEST", "invalid 'to' datetime format", query.To, http.StatusBadRequest)
	}

	result := model.Page[model.HistoryEntry]{Items: []model.HistoryEntry{}, Page: query.Page, Limit: query.Limit}

	entries, total, err := s.store.Query(ctx, query)
	if err != nil {
		s.reportReadFailure("query", err)
		return result, nil
	}

	result.Items = s.withActors(ctx, entries)
	result.Total = total
	return result, nil
}

// Recover revives the entity deleted by the DELETE entry logID. Outcomes are
// reported in the result, never as an error. Recovering an entity that is
// already live succeeds without writing a second RECOVER entry.
func (s *AuditService) Recover(ctx context.Context, logID int64, actorID int64) model.RecoverResult {
	if actorID <= 0 {
		return s.recoverFailed(model.RecoverCodeInvalidInput, "actor is required", logID)
	}
	if logID <= 0 {
		return s.recoverFailed(model.RecoverCodeNotFound, "log entry not found", logID)
	}

	entry, err := s.store.FindByID(ctx, logID)
	if errors.Is(err, model.ErrLogEntryNotFound) {
		return s.recoverFailed(model.RecoverCodeNotFound, "log entry not found", logID)
	}
	if err != nil {
		slog.Error("recover lookup failed", "log_id", logID, "error", err)
		return s.recoverFailed(model.RecoverCodeInternal, "server error", logID)
	}

	payload, ok := entry.Payload.(model.DeletePayload)
	if entry.Action != model.ActionDelete || !ok {
		return s.recoverFailed(model.RecoverCodeNotFound, "log entry is not a delete", logID)
	}
	if err := checkRecoverable(payload); err != nil {
		return s.recoverFailed(model.RecoverCodeNotRecoverable, "this item cannot be recovered", logID)
	}

	recovery := model.LogEntry{
		ActorID:    actorID,
		Action:     model.ActionRecover,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Payload: model.RecoverPayload{
			RecoveredAt:    s.now(),
			RecoveredBy:    actorID,
			RecoveredLogID: logID,
		},
	}

	// The conditional insert is the only source of truth for "already
	// recovered"; no earlier read decides it.
	stored, inserted, err := s.store.AppendRecovery(ctx, logID, recovery)
	switch {
	case errors.Is(err, model.ErrNotRecoverable):
		slog.Warn("recover refused", "log_id", logID, "entity_type", entry.EntityType, "entity_id", entry.EntityID, "error", err)
		return s.recoverFailed(model.RecoverCodeNotRecoverable, "a later delete of this item must be recovered instead", logID)
	case errors.Is(err, model.ErrLogEntryNotFound):
		return s.recoverFailed(model.RecoverCodeNotFound, "log entry not found", logID)
	}
	if err != nil {
		slog.Error("recover append failed", "log_id", logID, "entity_type", entry.EntityType, "entity_id", entry.EntityID, "error", err)
		s.metrics.WriteFailures.WithLabelValues(string(model.ActionRecover)).Inc()
		return s.recoverFailed(model.RecoverCodeInternal, "server error", logID)
	}
	if !inserted {
		return s.recoverSucceeded("already_recovered", "item already recovered", logID)
	}

	s.metrics.EntriesWritten.WithLabelValues(string(model.ActionRecover)).Inc()
	s.publish(stored)
	slog.Info("entity recovered", "log_id", logID, "entity_type", stored.EntityType, "entity_id", stored.EntityID, "actor_id", actorID)

	return s.recoverSucceeded("recovered", "item recovered", logID)
}

func checkRecoverable(payload model.DeletePayload) error {
	if !payload.CanRecover {
		return fmt.Errorf("%w: delete was marked non-recoverable", model.ErrNotRecoverable)
	}
	return nil
}

func (s *AuditService) buildEntry(in model.RecordInput) (model.LogEntry, error) {
	if !in.Action.Valid() {
		return model.LogEntry{}, fmt.Errorf("%w: %q", model.ErrInvalidAction, in.Action)
	}
	if in.Action == model.ActionRecover {
		return model.LogEntry{}, fmt.Errorf("%w: recover entries are written by Recover", model.ErrInvalidAction)
	}
	if in.ActorID <= 0 {
		return model.LogEntry{}, fmt.Errorf("%w: actor id is required", model.ErrInvalidInput)
	}

	entityType := strings.TrimSpace(in.EntityType)
	if entityType == "" || len(entityType) > maxEntityTypeLength {
		return model.LogEntry{}, fmt.Errorf("%w: entity type must be 1-%d characters", model.ErrInvalidInput, maxEntityTypeLength)
	}
	if in.EntityID <= 0 {
		return model.LogEntry{}, fmt.Errorf("%w: entity id is required", model.ErrInvalidInput)
	}
	if in.Payload == nil || in.Payload.Action() != in.Action {
		return model.LogEntry{}, fmt.Errorf("%w: payload does not match action %s", model.ErrInvalidInput, in.Action)
	}

	payload := in.Payload
	if p, ok := payload.(model.DeletePayload); ok {
		p.IsDeleted = true
		p.OriginalData = model.CloneData(p.OriginalData)
		if p.DeletedBy == 0 {
			p.DeletedBy = in.ActorID
		}
		if p.DeletedAt.IsZero() {
			p.DeletedAt = s.now()
		}
		payload = p
	}

	return model.LogEntry{
		ActorID:    in.ActorID,
		Action:     in.Action,
		EntityType: entityType,
		EntityID:   in.EntityID,
		Payload:    payload,
	}, nil
}

func (s *AuditService) withActors(ctx context.Context, entries []model.LogEntry) []model.HistoryEntry {
	ids := make([]int64, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ActorID)
	}
	actors := s.resolveActors(ctx, ids)

	out := make([]model.HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		item := model.HistoryEntry{LogEntry: entry}
		if actor, ok := actors[entry.ActorID]; ok {
			item.Actor = &actor
		}
		out = append(out, item)
	}
	return out
}

// resolveActors never fails: unknown ids and directory errors just leave
// the display identity out.
func (s *AuditService) resolveActors(ctx context.Context, ids []int64) map[int64]model.Actor {
	if s.directory == nil || len(ids) == 0 {
		return map[int64]model.Actor{}
	}

	unique := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || id <= 0 {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	actors, err := s.directory.LookupActors(ctx, unique)
	if err != nil {
		slog.Warn("actor lookup failed", "actor_count", len(unique), "error", err)
		return map[int64]model.Actor{}
	}
	return actors
}

func (s *AuditService) normalizePage(page int, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}
	// Keeps the (page-1)*limit offset within int.
	if maxPage := math.MaxInt / limit; page > maxPage {
		page = maxPage
	}
	return page, limit
}

func (s *AuditService) publish(entry model.LogEntry) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(event.FromEntry(entry))
}

func (s *AuditService) recoverFailed(code string, message string, logID int64) model.RecoverResult {
	s.metrics.Recoveries.WithLabelValues(strings.ToLower(code)).Inc()
	return model.RecoverResult{Success: false, Code: code, Message: message, LogID: logID}
}

func (s *AuditService) recoverSucceeded(outcome string, message string, logID int64) model.RecoverResult {
	s.metrics.Recoveries.WithLabelValues(outcome).Inc()
	return model.RecoverResult{Success: true, Message: message, LogID: logID}
}

func (s *AuditService) reportWriteFailure(in model.RecordInput, err error) {
	s.metrics.WriteFailures.WithLabelValues(string(in.Action)).Inc()
	slog.Error("audit record failed",
		"action", in.Action,
		"entity_type", in.EntityType,
		"entity_id", in.EntityID,
		"actor_id", in.ActorID,
		"error", err,
	)
}

func (s *AuditService) reportReadFailure(operation string, err error, attrs ...any) {
	s.metrics.ReadFailures.WithLabelValues(operation).Inc()
	slog.Error("audit read failed", append([]any{"operation", operation, "error", err}, attrs...)...)
}

func parseOptionalAuditTime(raw string) (time.Time, error) {
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
