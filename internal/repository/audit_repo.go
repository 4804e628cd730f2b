package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-audit-trail/internal/model"
)

// recoveredDelete is true for a DELETE row d when a RECOVER of the same entity
// was written after it.
const recoveredDelete = `EXISTS (
	SELECT 1 FROM audit_log r
	WHERE r.action = 'RECOVER'
	  AND r.entity_type = d.entity_type
	  AND r.entity_id = d.entity_id
	  AND (r.created_at, r.id) > (d.created_at, d.id))`

// outstandingDelete is true for a DELETE row d that has not been recovered.
const outstandingDelete = `NOT ` + recoveredDelete

// supersededDelete is true for a DELETE row d when a newer DELETE of the same
// entity exists. Only the newest delete may be recovered.
const supersededDelete = `EXISTS (
	SELECT 1 FROM audit_log n
	WHERE n.action = 'DELETE'
	  AND n.entity_type = d.entity_type
	  AND n.entity_id = d.entity_id
	  AND (n.created_at, n.id) > (d.created_at, d.id))`

const logEntryColumns = `id, actor_id, action, entity_type, entity_id, payload, created_at`

type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Append(ctx context.Context, entry model.LogEntry) (model.LogEntry, error) {
	payload, err := model.EncodePayload(entry.Payload)
	if err != nil {
		return model.LogEntry{}, err
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO audit_log (actor_id, action, entity_type, entity_id, payload)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		entry.ActorID, string(entry.Action), entry.EntityType, entry.EntityID, payload).
		Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return model.LogEntry{}, fmt.Errorf("%w: insert log entry: %w", model.ErrPersistence, err)
	}

	entry.CreatedAt = entry.CreatedAt.UTC()
	return entry, nil
}

// AppendRecovery inserts the RECOVER entry for deleteLogID in one statement.
// It inserts nothing and reports false when the entity was already recovered
// after that delete, or when another caller recovered the same entry first.
// A delete superseded by a newer delete of the same entity is refused with
// ErrNotRecoverable.
func (r *AuditRepository) AppendRecovery(ctx context.Context, deleteLogID int64, entry model.LogEntry) (model.LogEntry, bool, error) {
	payload, err := model.EncodePayload(entry.Payload)
	if err != nil {
		return model.LogEntry{}, false, err
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO audit_log (actor_id, action, entity_type, entity_id, payload, recovers_log_id)
		 SELECT $1, 'RECOVER', d.entity_type, d.entity_id, $2, d.id
		 FROM audit_log d
		 WHERE d.id = $3 AND d.action = 'DELETE'
		   AND `+outstandingDelete+`
		   AND NOT `+supersededDelete+`
		 ON CONFLICT (recovers_log_id) WHERE recovers_log_id IS NOT NULL DO NOTHING
		 RETURNING id, entity_type, entity_id, created_at`,
		entry.ActorID, payload, deleteLogID).
		Scan(&entry.ID, &entry.EntityType, &entry.EntityID, &entry.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.LogEntry{}, false, r.classifySkippedRecovery(ctx, deleteLogID)
	}
	if err != nil {
		return model.LogEntry{}, false, fmt.Errorf("%w: insert recovery: %w", model.ErrPersistence, err)
	}

	entry.Action = model.ActionRecover
	entry.CreatedAt = entry.CreatedAt.UTC()
	return entry, true, nil
}

// classifySkippedRecovery explains why AppendRecovery inserted nothing. The
// log only grows, so facts read here cannot be undone by a concurrent writer.
func (r *AuditRepository) classifySkippedRecovery(ctx context.Context, deleteLogID int64) error {
	var recovered, superseded bool
	err := r.pool.QueryRow(ctx,
		`SELECT `+recoveredDelete+`, `+supersededDelete+`
		 FROM audit_log d
		 WHERE d.id = $1 AND d.action = 'DELETE'`, deleteLogID).
		Scan(&recovered, &superseded)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrLogEntryNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: classify recovery: %w", model.ErrPersistence, err)
	}

	if !recovered && superseded {
		return fmt.Errorf("%w: superseded by a later delete", model.ErrNotRecoverable)
	}
	return nil
}

func (r *AuditRepository) FindByID(ctx context.Context, id int64) (model.LogEntry, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+logEntryColumns+` FROM audit_log WHERE id = $1`, id)

	entry, err := scanLogEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.LogEntry{}, model.ErrLogEntryNotFound
	}
	if err != nil {
		return model.LogEntry{}, fmt.Errorf("%w: find log entry: %w", model.ErrPersistence, err)
	}
	return entry, nil
}

func (r *AuditRepository) ListDeleted(ctx context.Context, query model.DeletedQuery) ([]model.LogEntry, int, error) {
	where := "d.action = 'DELETE' AND " + outstandingDelete
	args := make([]any, 0, 3)
	if entityType := strings.TrimSpace(query.EntityType); entityType != "" {
		args = append(args, entityType)
		where += fmt.Sprintf(" AND d.entity_type = $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM audit_log d WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count deleted entries: %w", model.ErrPersistence, err)
	}

	offset := (query.Page - 1) * query.Limit
	dataQuery := fmt.Sprintf(
		`SELECT d.id, d.actor_id, d.action, d.entity_type, d.entity_id, d.payload, d.created_at
		 FROM audit_log d
		 WHERE %s
		 ORDER BY d.created_at DESC, d.id DESC
		 LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, query.Limit, offset)

	entries, err := r.queryEntries(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *AuditRepository) DeletedEntityIDs(ctx context.Context, entityType string) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT d.entity_id
		 FROM audit_log d
		 WHERE d.action = 'DELETE' AND d.entity_type = $1 AND `+outstandingDelete+`
		 ORDER BY d.entity_id`, entityType)
	if err != nil {
		return nil, fmt.Errorf("%w: query deleted ids: %w", model.ErrPersistence, err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("%w: scan deleted ids: %w", model.ErrPersistence, err)
	}
	return ids, nil
}

func (r *AuditRepository) IsDeleted(ctx context.Context, entityType string, entityID int64) (bool, error) {
	var deleted bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM audit_log d
			WHERE d.action = 'DELETE' AND d.entity_type = $1 AND d.entity_id = $2 AND `+outstandingDelete+`
		)`, entityType, entityID).Scan(&deleted)
	if err != nil {
		return false, fmt.Errorf("%w: check deleted: %w", model.ErrPersistence, err)
	}
	return deleted, nil
}

func (r *AuditRepository) History(ctx context.Context, entityType string, entityID int64) ([]model.LogEntry, error) {
	return r.queryEntries(ctx,
		`SELECT `+logEntryColumns+`
		 FROM audit_log
		 WHERE entity_type = $1 AND entity_id = $2
		 ORDER BY created_at DESC, id DESC`, entityType, entityID)
}

func (r *AuditRepository) Query(ctx context.Context, query model.AuditQuery) ([]model.LogEntry, int, error) {
	where := make([]string, 0)
	args := make([]any, 0)
	argIdx := 1

	if action := strings.TrimSpace(query.Action); action != "" {
		where = append(where, fmt.Sprintf("action = upper($%d)", argIdx))
		args = append(args, action)
		argIdx++
	}
	if query.ActorID > 0 {
		where = append(where, fmt.Sprintf("actor_id = $%d", argIdx))
		args = append(args, query.ActorID)
		argIdx++
	}
	if entityType := strings.TrimSpace(query.EntityType); entityType != "" {
		where = append(where, fmt.Sprintf("entity_type = $%d", argIdx))
		args = append(args, entityType)
		argIdx++
	}
	if from := strings.TrimSpace(query.From); from != "" {
		where = append(where, fmt.Sprintf("created_at >= $%d::timestamptz", argIdx))
		args = append(args, from)
		argIdx++
	}
	if to := strings.TrimSpace(query.To); to != "" {
		where = append(where, fmt.Sprintf("created_at <= $%d::timestamptz", argIdx))
		args = append(args, to)
		argIdx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_log "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count log entries: %w", model.ErrPersistence, err)
	}

	offset := (query.Page - 1) * query.Limit
	dataQuery := fmt.Sprintf(
		`SELECT `+logEntryColumns+`
		 FROM audit_log %s
		 ORDER BY created_at DESC, id DESC
		 LIMIT $%d OFFSET $%d`, whereClause, argIdx, argIdx+1)
	args = append(args, query.Limit, offset)

	entries, err := r.queryEntries(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *AuditRepository) queryEntries(ctx context.Context, sql string, args ...any) ([]model.LogEntry, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query log entries: %w", model.ErrPersistence, err)
	}
	defer rows.Close()

	entries := make([]model.LogEntry, 0)
	for rows.Next() {
		entry, err := scanLogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan log entry: %w", model.ErrPersistence, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate log entries: %w", model.ErrPersistence, err)
	}
	return entries, nil
}

func scanLogEntry(row pgx.Row) (model.LogEntry, error) {
	var e model.LogEntry
	var action string
	var payload []byte
	var createdAt time.Time

	if err := row.Scan(&e.ID, &e.ActorID, &action, &e.EntityType, &e.EntityID, &payload, &createdAt); err != nil {
		return model.LogEntry{}, err
	}

	e.Action = model.Action(action)
	e.CreatedAt = createdAt.UTC()

	decoded, err := model.DecodePayload(e.Action, payload)
	if err != nil {
		return model.LogEntry{}, err
	}
	e.Payload = decoded
	return e, nil
}
