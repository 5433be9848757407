// Package history journals completed craftctl actions to an external
// audit or analytics store. Journaling is best-effort: a failed send is
// logged by the caller and never fails the action itself.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action identifies the kind of completed action.
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionBackup  Action = "backup"
	ActionRestore Action = "restore"
	ActionSend    Action = "send"
)

// Event is one completed action, successful or not.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Action     Action    `json:"action"`
	Detail     string    `json:"detail,omitempty"`
	OK         bool      `json:"ok"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New stamps an event with a fresh ID and the current UTC time.
func New(action Action, detail string, ok bool) Event {
	return Event{
		ID:         uuid.New(),
		Action:     action,
		Detail:     detail,
		OK:         ok,
		OccurredAt: time.Now().UTC(),
	}
}

// Sink is a destination for journal events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
