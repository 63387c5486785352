package automations

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Registry resolves an Executor by task type, letting a single worker loop
// drive many task kinds against one Store.
type Registry map[TaskType]Executor

// RunWorker repeatedly dequeues and polls eligible tasks of the types in
// registry until ctx is cancelled, sleeping idlePoll between empty scans so
// an idle worker doesn't spin. Each dequeued task is polled to completion
// before the worker dequeues again -- a single-concurrency loop, matching
// one worker goroutine per registered task type being the caller's own
// choice of parallelism.
func RunWorker(ctx context.Context, store Store, registry Registry, leaseTTL, idlePoll time.Duration) error {
	for {
		var anyClaimed bool
		for kind, executor := range registry {
			task, err := store.DequeueEligible(ctx, kind, leaseTTL)
			if err != nil {
				return fmt.Errorf("dequeuing %s task: %w", kind, err)
			}
			if task == nil {
				continue
			}
			anyClaimed = true

			if err := PollTask(ctx, store, executor, *task, leaseTTL); err != nil {
				log.WithError(err).WithField("task", task.TaskID).Error("polling task failed")
			}
		}

		if !anyClaimed {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idlePoll):
			}
		}
	}
}

// PollTask drives one claimed task through a single poll/persist cycle:
// it races executor.Poll against a heartbeat-refresh loop ticking at
// leaseTTL/2, so a lost lease (another worker having reclaimed the row)
// cancels the poll outright, then does the same for the commit that
// persists its outcome -- guaranteeing that a successful commit implies
// the worker held the lease the entire time. Grounded directly on
// original_source/crates/automations/src/executors.rs's poll_task, with
// tokio::select! translated to a context-cancellation race between two
// goroutines.
func PollTask(ctx context.Context, store Store, executor Executor, task DequeuedTask, leaseTTL time.Duration) error {
	var pollStart = time.Now()
	defer func() { pollDuration.WithLabelValues(string(task.Type)).Observe(time.Since(pollStart).Seconds()) }()

	var pollCtx, cancelPoll = context.WithCancel(ctx)
	defer cancelPoll()

	var heartbeatErr = make(chan error, 1)
	go runHeartbeat(pollCtx, store, task.TaskID, leaseTTL, task.Heartbeat, heartbeatErr)

	var outcome PollOutcome
	var pollErr error
	var pollDone = make(chan struct{})
	var state = task.State
	var inbox = task.Inbox

	go func() {
		defer close(pollDone)
		outcome, pollErr = executor.Poll(task.TaskID, task.ParentID, &state, &inbox)
	}()

	select {
	case <-pollDone:
		if pollErr != nil {
			return fmt.Errorf("polling task %s: %w", task.TaskID, pollErr)
		}
	case err := <-heartbeatErr:
		cancelPoll()
		heartbeatMissTotal.WithLabelValues(string(task.Type)).Inc()
		return fmt.Errorf("task %s lost its heartbeat lease mid-poll: %w", task.TaskID, err)
	case <-ctx.Done():
		return ctx.Err()
	}

	if outcome.kind == outcomeDone {
		state = nil
	}

	// Persist races the same heartbeat loop: a lease lost between the
	// poll finishing and the commit landing must still fail the commit.
	var persistErr = make(chan error, 1)
	go func() {
		persistErr <- store.PersistOutcome(ctx, task.TaskID, task.ParentID, outcome, state, inbox)
	}()

	select {
	case err := <-persistErr:
		if err != nil {
			return fmt.Errorf("persisting outcome for task %s: %w", task.TaskID, err)
		}
		return nil
	case err := <-heartbeatErr:
		heartbeatMissTotal.WithLabelValues(string(task.Type)).Inc()
		return fmt.Errorf("task %s lost its heartbeat lease before commit: %w", task.TaskID, err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runHeartbeat refreshes task's lease every leaseTTL/2 until ctx is
// cancelled, reporting the first refresh failure on errCh. A failure here
// must cancel the paired poll/commit, since it means another worker may
// now hold the row.
func runHeartbeat(ctx context.Context, store Store, taskID TaskID, leaseTTL time.Duration, lastHeartbeat string, errCh chan<- error) {
	var ticker = time.NewTicker(leaseTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			next, err := store.RefreshHeartbeat(ctx, taskID, lastHeartbeat)
			if err != nil {
				select {
				case errCh <- err:
				default:
				}
				return
			}
			log.WithFields(log.Fields{"task": taskID, "last": lastHeartbeat, "next": next}).Debug("refreshed task heartbeat")
			lastHeartbeat = next
		}
	}
}

// MarshalState is a convenience for Executors that keep a typed state
// struct rather than working with json.RawMessage directly.
func MarshalState(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding task state: %w", err)
	}
	return b, nil
}

// UnmarshalState decodes raw into v, leaving v at its zero value if raw is
// empty -- the "default if NULL" rule of spec.md section 4.6 step 1.
func UnmarshalState(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding task state: %w", err)
	}
	return nil
}
