package model

import (
	"sort"
	"time"
)

// Actor is the display identity of a principal resolved from the user directory.
type Actor struct {
	ID    int64  `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// RecycleBinItem is the read-only projection of an outstanding DELETE entry.
type RecycleBinItem struct {
	LogID          int64          `json:"logId"`
	EntityType     string         `json:"entityType"`
	EntityID       int64          `json:"entityId"`
	OriginalData   map[string]any `json:"originalData"`
	DeletedAt      time.Time      `json:"deletedAt"`
	DeletedBy      int64          `json:"deletedBy"`
	DeletedByActor *Actor         `json:"deletedByActor,omitempty"`
	CanRecover     bool           `json:"canRecover"`
}

// HistoryEntry is a LogEntry with its actor resolved where possible.
// Recovered is set on DELETE entries of an entity history and reports whether
// a later RECOVER undid them; the stored isDeleted flag never changes.
type HistoryEntry struct {
	LogEntry
	Actor     *Actor `json:"actor,omitempty"`
	Recovered *bool  `json:"recovered,omitempty"`
}

type RecordInput struct {
	ActorID    int64
	Action     Action
	EntityType string
	EntityID   int64
	Payload    Payload
}

type DeletedQuery struct {
	EntityType string
	Page       int
	Limit      int
}

type AuditQuery struct {
	Action     string
	ActorID    int64
	EntityType string
	From       string
	To         string
	Page       int
	Limit      int
}

type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
}

const (
	RecoverCodeNotFound       = "NOT_FOUND"
	RecoverCodeNotRecoverable = "NOT_RECOVERABLE"
	RecoverCodeInternal       = "INTERNAL_ERROR"
	RecoverCodeInvalidInput   = "BAD_REQUEST"
)

// RecoverResult is returned by recover instead of an error so the HTTP layer
// can map every outcome consistently.
type RecoverResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	LogID   int64  `json:"logId,omitempty"`
}

type RecoverRequest struct {
	LogID int64 `json:"logId"`
}

type DeletedIDsResponse struct {
	EntityType string  `json:"entityType"`
	IDs        []int64 `json:"ids"`
}

// IDSet is a set of entity ids.
type IDSet map[int64]struct{}

func NewIDSet(ids ...int64) IDSet {
	set := make(IDSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (s IDSet) Contains(id int64) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in ascending order.
func (s IDSet) Sorted() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
