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

// fakeDeriveTransport replies to every Read with one Published document
// (the input doubled) followed by Flushed, then to StartCommit with a
// StartedCommit carrying no further state update.
type fakeDeriveTransport struct{}

func (f *fakeDeriveTransport) Capture(ctx context.Context, reqs <-chan connector.CaptureRequest) (<-chan connector.CaptureResponse, error) {
	panic("not used")
}

func (f *fakeDeriveTransport) Materialize(ctx context.Context, reqs <-chan connector.MaterializeRequest) (<-chan connector.MaterializeResponse, error) {
	panic("not used")
}

func (f *fakeDeriveTransport) Derive(ctx context.Context, reqs <-chan connector.DeriveRequest) (<-chan connector.DeriveResponse, error) {
	var out = make(chan connector.DeriveResponse)
	go func() {
		defer close(out)
		for req := range reqs {
			switch {
			case req.Open != nil:
				select {
				case out <- connector.DeriveResponse{Opened: &connector.RespOpened{}}:
				case <-ctx.Done():
					return
				}
			case req.Read != nil:
				var in map[string]any
				_ = json.Unmarshal(req.Read.DocJSON, &in)
				var doubled = map[string]any{"k": in["k"], "v": in["v"].(float64) * 2}
				docJSON, _ := json.Marshal(doubled)
				select {
				case out <- connector.DeriveResponse{Published: &connector.RespPublished{DocJSON: docJSON}}:
				case <-ctx.Done():
					return
				}
				select {
				case out <- connector.DeriveResponse{Flushed: &connector.RespFlushed{}}:
				case <-ctx.Done():
					return
				}
			case req.StartCommit != nil:
				select {
				case out <- connector.DeriveResponse{StartedCommit: &connector.RespStartedCommit{}}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func TestDeriveSessionOneTransactionRoundTrip(t *testing.T) {
	var store = openTestCaptureStore(t)
	shapes, err := shape.NewCache(0)
	require.NoError(t, err)

	var derived = BindingConfig{
		Collection: "acmeCo/doubled",
		KeyPtrs:    []string{"/k"},
		UUIDPtr:    "/_meta/uuid",
		Schema:     &reduce.Schema{},
	}
	var cfg = SessionConfig{Shard: "derive/test/0000"}
	var session = NewDeriveSession(cfg, derived, &fakeDeriveTransport{}, store, shapes)

	var ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var clientReqs = make(chan connector.DeriveRequest, 4)
	clientReqs <- connector.DeriveRequest{Open: &connector.ReqOpen{}}

	resp, err := session.Run(ctx, clientReqs)
	require.NoError(t, err)

	var opened = <-resp
	require.NotNil(t, opened.Opened)

	clientReqs <- connector.DeriveRequest{Read: &connector.ReqRead{Transform: 0, DocJSON: json.RawMessage(`{"k":"a","v":5}`)}}
	clientReqs <- connector.DeriveRequest{StartCommit: &connector.ReqStartCommit{RuntimeCheckpoint: []byte("ck-1")}}

	var published connector.DeriveResponse
	select {
	case published = <-resp:
	case <-ctx.Done():
		t.Fatal("timed out waiting for published document")
	}
	require.NotNil(t, published.Published)

	var out map[string]any
	require.NoError(t, json.Unmarshal(published.Published.DocJSON, &out))
	require.Equal(t, float64(10), out["v"])
	require.NotEmpty(t, published.Published.KeyPacked)

	var startedCommit connector.DeriveResponse
	select {
	case startedCommit = <-resp:
	case <-ctx.Done():
		t.Fatal("timed out waiting for StartedCommit")
	}
	require.NotNil(t, startedCommit.StartedCommit)

	checkpoint, err := store.LoadCheckpoint()
	require.NoError(t, err)
	require.Equal(t, []byte("ck-1"), checkpoint)

	close(clientReqs)
}
