package automations

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over the `internal.tasks` table, per
// spec.md section 6's "Automations rows" column list and the RPCs
// `create_task`/`send_to_task`. Grounded directly on
// original_source/crates/automations/src/executors.rs's
// update_heartbeat/persist_outcome queries, translated from sqlx's
// compile-time-checked macros to pgx/v5's Query/Exec.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already-configured pool. Callers own the
// pool's lifecycle (pgxpool.New/Close).
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// inboxRow is the wire shape of one jsonb inbox array element: a
// (from_task_id, message?) pair, matching the Rust side's
// `SqlJson<(models::Id, Option<BoxedRaw>)>`.
type inboxRow struct {
	From TaskID          `json:"from"`
	Msg  json.RawMessage `json:"msg,omitempty"`
}

func encodeInbox(msgs []InboxMessage) []byte {
	var rows = make([]inboxRow, len(msgs))
	for i, m := range msgs {
		rows[i] = inboxRow{From: m.From, Msg: m.Body}
	}
	b, _ := json.Marshal(rows)
	return b
}

func decodeInbox(raw []byte) ([]InboxMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rows []inboxRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decoding task inbox: %w", err)
	}
	var out = make([]InboxMessage, len(rows))
	for i, r := range rows {
		out[i] = InboxMessage{From: r.From, Body: r.Msg}
	}
	return out, nil
}

// DequeueEligible claims one eligible row (wake_at <= NOW() and heartbeat
// older than leaseTTL), using SELECT ... FOR UPDATE SKIP LOCKED so
// concurrent workers never block on each other's candidate scan, then
// stamps a fresh heartbeat token as the dequeue's lease claim.
func (p *PostgresStore) DequeueEligible(ctx context.Context, kind TaskType, leaseTTL time.Duration) (*DequeuedTask, error) {
	const q = `
		UPDATE internal.tasks SET heartbeat = clock_timestamp()::TEXT
		WHERE task_id = (
			SELECT task_id FROM internal.tasks
			WHERE type = $1
			  AND wake_at <= NOW()
			  AND heartbeat::TIMESTAMPTZ <= NOW() - $2::INTERVAL
			ORDER BY wake_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING task_id, parent_id, inner_state, inbox, heartbeat`

	var row = p.pool.QueryRow(ctx, q, kind, leaseTTL)

	var task DequeuedTask
	var state, inbox []byte
	var parentID *TaskID
	task.Type = kind

	switch err := row.Scan(&task.TaskID, &parentID, &state, &inbox, &task.Heartbeat); err {
	case nil:
	case pgx.ErrNoRows:
		return nil, nil
	default:
		return nil, fmt.Errorf("dequeuing eligible %s task: %w", kind, err)
	}

	task.ParentID = parentID
	task.State = state

	decoded, err := decodeInbox(inbox)
	if err != nil {
		return nil, err
	}
	task.Inbox = decoded

	return &task, nil
}

// RefreshHeartbeat extends the lease by stamping a fresh heartbeat token,
// failing if expectHeartbeat no longer matches -- meaning another worker
// has since claimed the row, per spec.md section 4.5's single-owner
// invariant. Grounded on executors.rs's update_heartbeat, which guards the
// same optimistic check via `WHERE heartbeat::TEXT = $2`.
func (p *PostgresStore) RefreshHeartbeat(ctx context.Context, taskID TaskID, expectHeartbeat string) (string, error) {
	const q = `
		UPDATE internal.tasks
		SET heartbeat = clock_timestamp()::TEXT
		WHERE task_id = $1 AND heartbeat = $2
		RETURNING heartbeat`

	var next string
	switch err := p.pool.QueryRow(ctx, q, taskID, expectHeartbeat).Scan(&next); err {
	case nil:
		return next, nil
	case pgx.ErrNoRows:
		return "", fmt.Errorf("task %s heartbeat lease was lost to another worker", taskID)
	default:
		return "", fmt.Errorf("refreshing task %s heartbeat: %w", taskID, err)
	}
}

// PersistOutcome commits outcome's effects in a single transaction:
// Spawn's child row creation, any Send/Spawn/Yield/Done-EOF inbox
// delivery, and the task row's own state/inbox/wake_at update (deleting
// the row outright when a Done task successfully suspends) -- mirroring
// executors.rs's persist_outcome exactly, including its wake_at cases.
//
// The row's own UPDATE folds `inbox_next` -- spec.md section 6's
// "in-flight tail" -- into the freshly-written `inbox` rather than
// overwriting it, per
// executors.rs:271-291 (`inbox = $3::JSON[] || inbox_next, inbox_next =
// NULL`). `inbox_next` exists because a Send/Spawn/Yield routed to this
// task via internal.send_to_task while it was out being polled writes
// into inbox_next, not inbox, specifically so this UPDATE can't clobber
// it with the stale pre-poll inbox snapshot it's working from. The
// wake_at CASE checks inbox_next's live length for the same reason: a
// message that lands mid-poll must force an immediate rewake even if
// the outcome itself (e.g. Suspend) would otherwise sleep forever.
func (p *PostgresStore) PersistOutcome(ctx context.Context, taskID TaskID, parentID *TaskID, outcome PollOutcome, state json.RawMessage, inbox []InboxMessage) error {
	if outcome.kind == outcomeYield && parentID == nil {
		return fmt.Errorf("task %s yielded but has no parent", taskID)
	}

	txn, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning outcome transaction for task %s: %w", taskID, err)
	}
	defer txn.Rollback(ctx)

	if outcome.kind == outcomeSpawn {
		if _, err := txn.Exec(ctx, `SELECT internal.create_task($1, $2, $3)`, outcome.spawnID, outcome.spawnType, taskID); err != nil {
			return fmt.Errorf("spawning child task from %s: %w", taskID, err)
		}
	}

	if to, msg, ok := sendTarget(taskID, parentID, outcome); ok {
		if _, err := txn.Exec(ctx, `SELECT internal.send_to_task($1, $2, $3::JSON)`, to, taskID, jsonOrNull(msg)); err != nil {
			return fmt.Errorf("sending outcome message from %s to %s: %w", taskID, to, err)
		}
	}

	var wakeInterval = wakeAtInterval(outcome, len(inbox) > 0)

	const q = `
		UPDATE internal.tasks SET
			heartbeat = '0001-01-01T00:00:00Z',
			inbox = $3::JSONB || COALESCE(inbox_next, '[]'::JSONB),
			inbox_next = '[]'::JSONB,
			inner_state = $2::JSONB,
			wake_at = CASE
				WHEN jsonb_array_length(COALESCE(inbox_next, '[]'::JSONB)) > 0 THEN NOW()
				ELSE NOW() + $4::INTERVAL
			END
		WHERE task_id = $1
		RETURNING wake_at IS NULL AS suspended`

	var suspended bool
	if err := txn.QueryRow(ctx, q, taskID, jsonOrNull(state), encodeInbox(inbox), wakeInterval).Scan(&suspended); err != nil {
		return fmt.Errorf("updating task %s row: %w", taskID, err)
	}

	if outcome.kind == outcomeDone && suspended {
		if _, err := txn.Exec(ctx, `DELETE FROM internal.tasks WHERE task_id = $1`, taskID); err != nil {
			return fmt.Errorf("deleting completed task %s: %w", taskID, err)
		}
	}

	return txn.Commit(ctx)
}

// sendTarget resolves the (to, message) pair an outcome durably sends, if
// any -- the same dispatch executors.rs's persist_outcome performs inline.
func sendTarget(taskID TaskID, parentID *TaskID, outcome PollOutcome) (TaskID, json.RawMessage, bool) {
	switch outcome.kind {
	case outcomeSpawn:
		return outcome.spawnID, outcome.msg, true
	case outcomeDone:
		if parentID != nil {
			return *parentID, nil, true
		}
	case outcomeSend:
		return outcome.peer, outcome.msg, true
	case outcomeYield:
		if parentID != nil {
			return *parentID, outcome.msg, true
		}
	}
	return TaskID{}, nil, false
}

// wakeAtInterval returns the interval to add to NOW() for the next
// wake_at, or nil for Done/Suspend's indefinite suspension. An unconsumed
// inbox always forces an immediate rewake regardless of the outcome.
func wakeAtInterval(outcome PollOutcome, inboxRemains bool) *time.Duration {
	if inboxRemains {
		var zero time.Duration
		return &zero
	}
	switch outcome.kind {
	case outcomeSleep:
		return &outcome.sleepFor
	case outcomeSpawn, outcomeSend, outcomeYield:
		var zero time.Duration
		return &zero
	default: // Done, Suspend
		return nil
	}
}

func jsonOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// CreateTask inserts a new task row directly, used to seed a session's
// first tasks rather than via a Spawn outcome.
func (p *PostgresStore) CreateTask(ctx context.Context, taskID TaskID, kind TaskType, parentID *TaskID) error {
	if _, err := p.pool.Exec(ctx, `SELECT internal.create_task($1, $2, $3)`, taskID, kind, parentID); err != nil {
		return fmt.Errorf("creating task %s: %w", taskID, err)
	}
	return nil
}

// SendToTask enqueues msg into to's inbox outside of a poll's own
// PersistOutcome.
func (p *PostgresStore) SendToTask(ctx context.Context, to, from TaskID, msg json.RawMessage) error {
	if _, err := p.pool.Exec(ctx, `SELECT internal.send_to_task($1, $2, $3::JSON)`, to, from, jsonOrNull(msg)); err != nil {
		return fmt.Errorf("sending message to task %s: %w", to, err)
	}
	return nil
}
