package event

import (
	"time"

	"github.com/google/uuid"

	"go-audit-trail/internal/model"
)

type Type string

const (
	TypeEntryRecorded   Type = "audit.recorded"
	TypeEntityDeleted   Type = "audit.deleted"
	TypeEntityRecovered Type = "audit.recovered"
)

type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	EntityType string         `json:"entity_type"`
	EntityID   int64          `json:"entity_id"`
	Entry      model.LogEntry `json:"entry"`
	Timestamp  string         `json:"timestamp"`
	ActorID    int64          `json:"actor_id,omitempty"` // Who triggered the event
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(e Event)
}

type Bus interface {
	Publisher
	Subscribe() (<-chan Event, func()) // Returns channel and unsubscribe function
}

// FromEntry builds the event announcing a freshly appended log entry.
func FromEntry(entry model.LogEntry) Event {
	typ := TypeEntryRecorded
	switch entry.Action {
	case model.ActionDelete:
		typ = TypeEntityDeleted
	case model.ActionRecover:
		typ = TypeEntityRecovered
	}

	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Entry:      entry,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		ActorID:    entry.ActorID,
	}
}
