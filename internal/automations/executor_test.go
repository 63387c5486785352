package automations

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store sufficient to exercise PollTask's
// heartbeat-race and outcome-persistence contract without a database.
type fakeStore struct {
	heartbeats map[TaskID]string
	persisted  []persistedCall
	spawned    []DequeuedTask
	sent       map[TaskID][]InboxMessage
}

type persistedCall struct {
	TaskID TaskID
	Kind   outcomeKind
	State  json.RawMessage
	Inbox  []InboxMessage
}

func newFakeStore() *fakeStore {
	return &fakeStore{heartbeats: map[TaskID]string{}, sent: map[TaskID][]InboxMessage{}}
}

func (f *fakeStore) DequeueEligible(ctx context.Context, kind TaskType, leaseTTL time.Duration) (*DequeuedTask, error) {
	panic("not used")
}

func (f *fakeStore) RefreshHeartbeat(ctx context.Context, taskID TaskID, expect string) (string, error) {
	if f.heartbeats[taskID] != expect {
		return "", errors.New("heartbeat lease lost") // unreachable in this test
	}
	var next = expect + "+"
	f.heartbeats[taskID] = next
	return next, nil
}

func (f *fakeStore) PersistOutcome(ctx context.Context, taskID TaskID, parentID *TaskID, outcome PollOutcome, state json.RawMessage, inbox []InboxMessage) error {
	f.persisted = append(f.persisted, persistedCall{TaskID: taskID, Kind: outcome.kind, State: state, Inbox: inbox})

	if to, msg, ok := sendTarget(taskID, parentID, outcome); ok {
		f.sent[to] = append(f.sent[to], InboxMessage{From: taskID, Body: msg})
	}
	return nil
}

func (f *fakeStore) CreateTask(ctx context.Context, taskID TaskID, kind TaskType, parentID *TaskID) error {
	return nil
}

func (f *fakeStore) SendToTask(ctx context.Context, to, from TaskID, msg json.RawMessage) error {
	f.sent[to] = append(f.sent[to], InboxMessage{From: from, Body: msg})
	return nil
}

// sleepOnceExecutor sleeps on its first poll, then is Done -- exercising
// the state round-trip across two polls.
type sleepOnceExecutor struct{}

func (sleepOnceExecutor) TaskType() TaskType { return "sleep-once" }

func (sleepOnceExecutor) Poll(taskID TaskID, parentID *TaskID, state *json.RawMessage, inbox *[]InboxMessage) (PollOutcome, error) {
	var slept bool
	_ = UnmarshalState(*state, &slept)

	if !slept {
		next, err := MarshalState(true)
		if err != nil {
			return PollOutcome{}, err
		}
		*state = next
		return Sleep(10 * time.Millisecond), nil
	}
	return Done(), nil
}

func TestPollTaskSleepThenDone(t *testing.T) {
	var store = newFakeStore()
	var taskID = uuid.New()
	store.heartbeats[taskID] = "h0"

	var task = DequeuedTask{TaskID: taskID, Type: "sleep-once", Heartbeat: "h0"}
	var ctx = context.Background()

	require.NoError(t, PollTask(ctx, store, sleepOnceExecutor{}, task, time.Second))
	require.Len(t, store.persisted, 1)
	require.Equal(t, outcomeSleep, store.persisted[0].Kind)

	var slept bool
	require.NoError(t, UnmarshalState(store.persisted[0].State, &slept))
	require.True(t, slept)

	task.State = store.persisted[0].State
	require.NoError(t, PollTask(ctx, store, sleepOnceExecutor{}, task, time.Second))
	require.Len(t, store.persisted, 2)
	require.Equal(t, outcomeDone, store.persisted[1].Kind)
	require.Nil(t, store.persisted[1].State)
}

// yieldingExecutor immediately yields a message to its parent.
type yieldingExecutor struct{}

func (yieldingExecutor) TaskType() TaskType { return "yielder" }

func (yieldingExecutor) Poll(taskID TaskID, parentID *TaskID, state *json.RawMessage, inbox *[]InboxMessage) (PollOutcome, error) {
	return Yield(json.RawMessage(`{"done":true}`)), nil
}

func TestPollTaskYieldSendsToParent(t *testing.T) {
	var store = newFakeStore()
	var childID, parentID = uuid.New(), uuid.New()
	store.heartbeats[childID] = "h0"

	var task = DequeuedTask{TaskID: childID, Type: "yielder", ParentID: &parentID, Heartbeat: "h0"}
	require.NoError(t, PollTask(context.Background(), store, yieldingExecutor{}, task, time.Second))

	require.Len(t, store.sent[parentID], 1)
	require.JSONEq(t, `{"done":true}`, string(store.sent[parentID][0].Body))
	require.Equal(t, childID, store.sent[parentID][0].From)
}
