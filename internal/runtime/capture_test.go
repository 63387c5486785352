package runtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/estuary/flow-sub009/internal/connector"
	"github.com/estuary/flow-sub009/internal/doc/reduce"
	"github.com/estuary/flow-sub009/internal/doc/shape"
	"github.com/estuary/flow-sub009/internal/statestore"
	"github.com/stretchr/testify/require"
)

// fakeCaptureTransport drives a scripted connector side of the Capture
// RPC: it replies Opened, then emits the given responses in order, then
// reads and ignores the client's later Acknowledge/StartCommit requests
// without replying to them.
type fakeCaptureTransport struct {
	scripted []connector.CaptureResponse
}

func (f *fakeCaptureTransport) Capture(ctx context.Context, reqs <-chan connector.CaptureRequest) (<-chan connector.CaptureResponse, error) {
	var out = make(chan connector.CaptureResponse)
	go func() {
		defer close(out)

		var open, ok = <-reqs
		if !ok || open.Open == nil {
			return
		}
		select {
		case out <- connector.CaptureResponse{Opened: &connector.RespOpened{}}:
		case <-ctx.Done():
			return
		}

		for _, resp := range f.scripted {
			select {
			case out <- resp:
			case <-ctx.Done():
				return
			}
		}

		// Drain and ignore any further requests (Acknowledge/StartCommit)
		// until the client closes its side.
		for range reqs {
		}
	}()
	return out, nil
}

func (f *fakeCaptureTransport) Derive(ctx context.Context, reqs <-chan connector.DeriveRequest) (<-chan connector.DeriveResponse, error) {
	panic("not used")
}

func (f *fakeCaptureTransport) Materialize(ctx context.Context, reqs <-chan connector.MaterializeRequest) (<-chan connector.MaterializeResponse, error) {
	panic("not used")
}

func openTestCaptureStore(t *testing.T) *statestore.Store {
	t.Helper()
	store, err := statestore.Open(&statestore.Descriptor{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestCaptureSessionOneTransactionRoundTrip(t *testing.T) {
	var transport = &fakeCaptureTransport{
		scripted: []connector.CaptureResponse{
			{Captured: &connector.RespCaptured{Binding: 0, DocJSON: json.RawMessage(`{"k":"a","v":1}`)}},
			{Captured: &connector.RespCaptured{Binding: 0, DocJSON: json.RawMessage(`{"k":"a","v":2}`)}},
			{Checkpoint: &connector.RespCheckpoint{State: json.RawMessage(`{"cursor":1}`), MergePatch: true}},
		},
	}
	var store = openTestCaptureStore(t)
	shapes, err := shape.NewCache(0)
	require.NoError(t, err)

	var bindings = []BindingConfig{{
		Collection: "acmeCo/widgets",
		KeyPtrs:    []string{"/k"},
		UUIDPtr:    "/_meta/uuid",
		Schema: &reduce.Schema{
			Reduce: &reduce.Annotation{Strategy: reduce.Merge},
			Properties: map[string]*reduce.Schema{
				"v": {Reduce: &reduce.Annotation{Strategy: reduce.Sum}},
			},
		},
	}}

	var cfg = SessionConfig{Shard: "capture/test/0000", ByteThreshold: 1, LongPollTimeout: 50 * time.Millisecond}
	var session = NewCaptureSession(cfg, bindings, transport, store, shapes)

	var ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var clientReqs = make(chan connector.CaptureRequest, 4)
	clientReqs <- connector.CaptureRequest{Open: &connector.ReqOpen{}}

	resp, err := session.Run(ctx, clientReqs)
	require.NoError(t, err)

	var opened = <-resp
	require.NotNil(t, opened.Opened)

	clientReqs <- connector.CaptureRequest{Acknowledge: &connector.ReqAcknowledge{}}

	var captured connector.CaptureResponse
	select {
	case captured = <-resp:
	case <-ctx.Done():
		t.Fatal("timed out waiting for captured document")
	}
	require.NotNil(t, captured.Captured)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(captured.Captured.DocJSON, &doc))
	require.Equal(t, "a", doc["k"])
	require.Equal(t, float64(3), doc["v"]) // 1 + 2 summed by the reduce annotation.
	require.NotEmpty(t, captured.Captured.KeyPacked)

	clientReqs <- connector.CaptureRequest{StartCommit: &connector.ReqStartCommit{RuntimeCheckpoint: []byte("ck-1")}}

	var startedCommit connector.CaptureResponse
	select {
	case startedCommit = <-resp:
	case <-ctx.Done():
		t.Fatal("timed out waiting for StartedCommit")
	}
	require.NotNil(t, startedCommit.StartedCommit)

	checkpoint, err := store.LoadCheckpoint()
	require.NoError(t, err)
	require.Equal(t, []byte("ck-1"), checkpoint)

	connState, err := store.LoadConnectorState()
	require.NoError(t, err)
	require.JSONEq(t, `{"cursor":1}`, string(connState))

	close(clientReqs)
}
