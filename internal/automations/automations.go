// Package automations implements the cooperative task scheduler of spec.md
// section 4.6: long-lived tasks stored as rows in a relational "tasks"
// table, each carrying a durable inbox, opaque state, and a heartbeat
// lease, polled by workers that race an executor's Poll against a
// heartbeat-refresh loop so that a lost lease cancels the poll and its
// commit alike.
//
// Grounded on original_source/crates/automations/src/executors.rs
// (poll_task/update_heartbeat/persist_outcome), translated from a
// per-executor generic trait over a typed state/message pair into Go's
// narrower idiom of a single Executor interface working over
// json.RawMessage, with callers responsible for their own (de)serialization
// into a concrete state type.
package automations

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskID identifies a task row, per spec.md section 3's "(task_id,
// parent_id?, type, inbox[], state, heartbeat_ts, wake_at)".
type TaskID = uuid.UUID

// TaskType names an executor kind, matching a Postgres enum value in the
// tasks table.
type TaskType string

// InboxMessage is one entry of a task's inbox: a message received from
// From, or a nil Body denoting EOF -- "None denotes EOF from the sender"
// per spec.md section 4.6 step 1.
type InboxMessage struct {
	From TaskID
	Body json.RawMessage
}

// outcomeKind tags which PollOutcome variant is populated, since Go has no
// sum type -- the idiomatic translation of the Rust executors.rs
// PollOutcome<Raw> enum.
type outcomeKind int

const (
	outcomeDone outcomeKind = iota
	outcomeSleep
	outcomeSuspend
	outcomeSpawn
	outcomeSend
	outcomeYield
)

// PollOutcome is the result of one Executor.Poll call, constructed via the
// Done/Sleep/Suspend/Spawn/Send/Yield functions below -- never built
// directly, since the field set that's meaningful depends on kind.
type PollOutcome struct {
	kind      outcomeKind
	sleepFor  time.Duration
	spawnID   TaskID
	spawnType TaskType
	peer      TaskID
	msg       json.RawMessage
}

// Done ends the task: an EOF is sent to its parent (if any) and the row is
// deleted once the persisted outcome also suspends successfully.
func Done() PollOutcome { return PollOutcome{kind: outcomeDone} }

// Sleep re-enqueues the task to wake after d.
func Sleep(d time.Duration) PollOutcome { return PollOutcome{kind: outcomeSleep, sleepFor: d} }

// Suspend re-enqueues the task with no wake deadline; it wakes only when a
// message is delivered to its inbox.
func Suspend() PollOutcome { return PollOutcome{kind: outcomeSuspend} }

// Spawn creates a child task of the given type and sends it msg as its
// first inbox message.
func Spawn(childID TaskID, childType TaskType, msg json.RawMessage) PollOutcome {
	return PollOutcome{kind: outcomeSpawn, spawnID: childID, spawnType: childType, msg: msg}
}

// Send enqueues msg into peer's inbox. A nil msg is a bare wake-up.
func Send(peer TaskID, msg json.RawMessage) PollOutcome {
	return PollOutcome{kind: outcomeSend, peer: peer, msg: msg}
}

// Yield is sugar for Send(parentID, msg); PersistOutcome fails it if the
// task has no parent.
func Yield(msg json.RawMessage) PollOutcome {
	return PollOutcome{kind: outcomeYield, msg: msg}
}

// Executor implements one task type's poll handler.
type Executor interface {
	// TaskType names the kind of task this Executor drives.
	TaskType() TaskType

	// Poll advances one task a single step. state and inbox are mutated
	// in place: state is replaced with the handler's updated state (or
	// left nil if the task is Done), and inbox is truncated to its
	// unconsumed tail.
	Poll(taskID TaskID, parentID *TaskID, state *json.RawMessage, inbox *[]InboxMessage) (PollOutcome, error)
}
