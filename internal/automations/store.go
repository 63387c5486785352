package automations

import (
	"context"
	"encoding/json"
	"time"
)

// DequeuedTask is one task row claimed by DequeueEligible: eligible means
// wake_at <= NOW() and the heartbeat is older than the lease, per spec.md
// section 4.6's opening paragraph. Dequeuing atomically assigns a fresh
// heartbeat token, returned here so the caller can present it back for the
// optimistic-lock checks in RefreshHeartbeat/PersistOutcome.
type DequeuedTask struct {
	TaskID    TaskID
	Type      TaskType
	ParentID  *TaskID
	State     json.RawMessage
	Inbox     []InboxMessage
	Heartbeat string
}

// Store is the relational backing store of spec.md section 4.6/6:
// dequeue-with-lease, heartbeat refresh, and durable outcome persistence
// (state + inbox + spawn/send, all in one transaction).
type Store interface {
	// DequeueEligible claims one eligible task for kind, or returns nil,
	// nil if none are eligible right now.
	DequeueEligible(ctx context.Context, kind TaskType, leaseTTL time.Duration) (*DequeuedTask, error)

	// RefreshHeartbeat extends a held lease, failing if expectHeartbeat no
	// longer matches the row -- meaning the lease was lost (spec.md
	// section 4.5's "Automations single-owner" invariant).
	RefreshHeartbeat(ctx context.Context, taskID TaskID, expectHeartbeat string) (string, error)

	// PersistOutcome commits outcome's effects: the re-encoded state and
	// inbox tail, any Spawn/Send/Yield's durable message in the same
	// transaction as the state update, and -- for Done -- row deletion
	// once suspension succeeds.
	PersistOutcome(ctx context.Context, taskID TaskID, parentID *TaskID, outcome PollOutcome, state json.RawMessage, inbox []InboxMessage) error

	// CreateTask inserts a new task row directly (outside of Spawn),
	// used to seed a session's first tasks.
	CreateTask(ctx context.Context, taskID TaskID, kind TaskType, parentID *TaskID) error

	// SendToTask enqueues msg into to's inbox outside of a poll's own
	// PersistOutcome, used by callers external to the scheduler loop.
	SendToTask(ctx context.Context, to, from TaskID, msg json.RawMessage) error
}
