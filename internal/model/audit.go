package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Action string

const (
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionDelete  Action = "DELETE"
	ActionRecover Action = "RECOVER"
)

// ParseAction normalizes raw (case-insensitive) into one of the four known actions.
func ParseAction(raw string) (Action, error) {
	action := Action(strings.ToUpper(strings.TrimSpace(raw)))
	if !action.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, raw)
	}
	return action, nil
}

func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionRecover:
		return true
	default:
		return false
	}
}

// LogEntry is one immutable row of the audit log.
type LogEntry struct {
	ID         int64     `json:"id"`
	ActorID    int64     `json:"actorId"`
	Action     Action    `json:"action"`
	EntityType string    `json:"entityType"`
	EntityID   int64     `json:"entityId"`
	Payload    Payload   `json:"payload"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Before reports whether e was written before other. CreatedAt orders
// entries and ID breaks ties.
func (e LogEntry) Before(other LogEntry) bool {
	if e.CreatedAt.Equal(other.CreatedAt) {
		return e.ID < other.ID
	}
	return e.CreatedAt.Before(other.CreatedAt)
}

// Payload is the action-specific body of a LogEntry. It is implemented only by
// CreatePayload, UpdatePayload, DeletePayload and RecoverPayload.
type Payload interface {
	Action() Action
	sealed()
}

type CreatePayload struct {
	Details map[string]any `json:"details,omitempty"`
}

type UpdatePayload struct {
	Details map[string]any `json:"details,omitempty"`
}

// DeletePayload carries the snapshot needed to rebuild the deleted row.
// IsDeleted is written as true and never rewritten; liveness is derived
// from later RECOVER entries.
type DeletePayload struct {
	OriginalData map[string]any `json:"originalData"`
	IsDeleted    bool           `json:"isDeleted"`
	DeletedAt    time.Time      `json:"deletedAt"`
	DeletedBy    int64          `json:"deletedBy"`
	CanRecover   bool           `json:"canRecover"`
}

type RecoverPayload struct {
	RecoveredAt    time.Time `json:"recoveredAt"`
	RecoveredBy    int64     `json:"recoveredBy"`
	RecoveredLogID int64     `json:"recoveredLogId"`
}

func (CreatePayload) Action() Action  { return ActionCreate }
func (UpdatePayload) Action() Action  { return ActionUpdate }
func (DeletePayload) Action() Action  { return ActionDelete }
func (RecoverPayload) Action() Action { return ActionRecover }

func (CreatePayload) sealed()  {}
func (UpdatePayload) sealed()  {}
func (DeletePayload) sealed()  {}
func (RecoverPayload) sealed() {}

// EncodePayload serializes p into the stored JSON document for its action.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: payload is required", ErrInvalidInput)
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.Action(), err)
	}
	return data, nil
}

// DecodePayload parses a stored JSON document into the variant selected by action.
func DecodePayload(action Action, raw []byte) (Payload, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	switch action {
	case ActionCreate:
		var p CreatePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("unmarshal create payload: %w", err)
		}
		return p, nil
	case ActionUpdate:
		var p UpdatePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("unmarshal update payload: %w", err)
		}
		return p, nil
	case ActionDelete:
		var p DeletePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("unmarshal delete payload: %w", err)
		}
		return p, nil
	case ActionRecover:
		var p RecoverPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("unmarshal recover payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
}

// CloneData deep-copies a snapshot map so the stored copy cannot be mutated
// through the caller's reference.
func CloneData(src map[string]any) map[string]any {
	if src == nil {
		return map[string]any{}
	}

	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return CloneData(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
