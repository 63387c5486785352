package runtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/estuary/flow-sub009/internal/connector"
	"github.com/estuary/flow-sub009/internal/doc/reduce"
	"github.com/estuary/flow-sub009/internal/doc/shape"
	"github.com/stretchr/testify/require"
)

// fakeMaterializeTransport answers every Load, whatever its key, with the
// same pre-seeded document for key "a", replies Acknowledged
// to Acknowledge, and records every Store it receives for the test to
// inspect after the session completes.
type fakeMaterializeTransport struct {
	stores []*connector.ReqStore
}

func (f *fakeMaterializeTransport) Capture(ctx context.Context, reqs <-chan connector.CaptureRequest) (<-chan connector.CaptureResponse, error) {
	panic("not used")
}

func (f *fakeMaterializeTransport) Derive(ctx context.Context, reqs <-chan connector.DeriveRequest) (<-chan connector.DeriveResponse, error) {
	panic("not used")
}

func (f *fakeMaterializeTransport) Materialize(ctx context.Context, reqs <-chan connector.MaterializeRequest) (<-chan connector.MaterializeResponse, error) {
	var out = make(chan connector.MaterializeResponse)
	go func() {
		defer close(out)
		for req := range reqs {
			switch {
			case req.Open != nil:
				select {
				case out <- connector.MaterializeResponse{Opened: &connector.RespOpened{}}:
				case <-ctx.Done():
					return
				}
			case req.Load != nil:
				var docJSON = json.RawMessage(`{"k":"a","v":5}`)
				select {
				case out <- connector.MaterializeResponse{Loaded: &connector.RespLoaded{Binding: req.Load.Binding, DocJSON: docJSON}}:
				case <-ctx.Done():
					return
				}
			case req.Acknowledge != nil:
				select {
				case out <- connector.MaterializeResponse{Acknowledged: &connector.RespAcknowledged{}}:
				case <-ctx.Done():
					return
				}
			case req.Store != nil:
				f.stores = append(f.stores, req.Store)
			case req.StartCommit != nil:
				select {
				case out <- connector.MaterializeResponse{StartedCommit: &connector.RespStartedCommit{}}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func TestMaterializeSessionOneTransactionRoundTrip(t *testing.T) {
	var store = openTestCaptureStore(t)
	shapes, err := shape.NewCache(0)
	require.NoError(t, err)

	var transport = &fakeMaterializeTransport{}
	var bindings = []BindingConfig{{
		Collection: "acmeCo/widgets",
		KeyPtrs:    []string{"/k"},
		Schema: &reduce.Schema{
			Reduce: &reduce.Annotation{Strategy: reduce.Merge},
			Properties: map[string]*reduce.Schema{
				"v": {Reduce: &reduce.Annotation{Strategy: reduce.Sum}},
			},
		},
	}}

	var cfg = SessionConfig{Shard: "materialize/test/0000"}
	var session = NewMaterializeSession(cfg, bindings, transport, store, shapes)

	var ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var clientReqs = make(chan connector.MaterializeRequest, 8)
	clientReqs <- connector.MaterializeRequest{Open: &connector.ReqOpen{}}

	resp, err := session.Run(ctx, clientReqs)
	require.NoError(t, err)

	var opened = <-resp
	require.NotNil(t, opened.Opened)

	clientReqs <- connector.MaterializeRequest{Load: &connector.ReqLoad{Binding: 0, KeyPacked: []byte("a")}}

	var loaded connector.MaterializeResponse
	select {
	case loaded = <-resp:
	case <-ctx.Done():
		t.Fatal("timed out waiting for Loaded")
	}
	require.NotNil(t, loaded.Loaded)

	clientReqs <- connector.MaterializeRequest{Acknowledge: &connector.ReqAcknowledge{}}

	var acked connector.MaterializeResponse
	select {
	case acked = <-resp:
	case <-ctx.Done():
		t.Fatal("timed out waiting for Acknowledged")
	}
	require.NotNil(t, acked.Acknowledged)

	clientReqs <- connector.MaterializeRequest{StartCommit: &connector.ReqStartCommit{RuntimeCheckpoint: []byte("ck-1")}}

	var startedCommit connector.MaterializeResponse
	select {
	case startedCommit = <-resp:
	case <-ctx.Done():
		t.Fatal("timed out waiting for StartedCommit")
	}
	require.NotNil(t, startedCommit.StartedCommit)

	close(clientReqs)

	require.Len(t, transport.stores, 1)
	require.True(t, transport.stores[0].Exists) // loaded FRONT entry existed.

	var out map[string]any
	require.NoError(t, json.Unmarshal(transport.stores[0].DocJSON, &out))
	require.Equal(t, float64(5), out["v"]) // no Store document folded on top, so the loaded value passes through.

	checkpoint, err := store.LoadCheckpoint()
	require.NoError(t, err)
	require.Equal(t, []byte("ck-1"), checkpoint)
}
