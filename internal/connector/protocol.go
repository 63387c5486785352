// Package connector implements the bi-directional connector transport of
// spec.md section 4.4: a direct (in-process) variant and a proxied
// variant dialed through a data-plane reactor.
package connector

import "encoding/json"

// Request and Response messages use a single struct per RPC kind with
// one populated "kind" field at a time, mirroring the proto_flow
// request/response message shapes the teacher's generated protocol code
// exposes (see go/protocols/capture/pull_client.go's `rx.Captured` /
// `rx.Checkpoint` dispatch).

// CaptureRequest is one message of the Capture RPC's request stream.
type CaptureRequest struct {
	Open        *ReqOpen        `json:"open,omitempty"`
	Acknowledge *ReqAcknowledge `json:"acknowledge,omitempty"`
	StartCommit *ReqStartCommit `json:"startCommit,omitempty"`
}

// CaptureResponse is one message of the Capture RPC's response stream.
type CaptureResponse struct {
	Opened        *RespOpened        `json:"opened,omitempty"`
	Captured      *RespCaptured      `json:"captured,omitempty"`
	Checkpoint    *RespCheckpoint    `json:"checkpoint,omitempty"`
	StartedCommit *RespStartedCommit `json:"startedCommit,omitempty"`
}

// DeriveRequest is one message of the Derive RPC's request stream.
type DeriveRequest struct {
	Open        *ReqOpen        `json:"open,omitempty"`
	Read        *ReqRead        `json:"read,omitempty"`
	StartCommit *ReqStartCommit `json:"startCommit,omitempty"`
}

// DeriveResponse is one message of the Derive RPC's response stream.
type DeriveResponse struct {
	Opened        *RespOpened        `json:"opened,omitempty"`
	Published     *RespPublished     `json:"published,omitempty"`
	Flushed       *RespFlushed       `json:"flushed,omitempty"`
	StartedCommit *RespStartedCommit `json:"startedCommit,omitempty"`
}

// MaterializeRequest is one message of the Materialize RPC's request
// stream. Store is sent only on the connector leg -- the combiner's
// drained output, never forwarded to the client.
type MaterializeRequest struct {
	Open        *ReqOpen        `json:"open,omitempty"`
	Load        *ReqLoad        `json:"load,omitempty"`
	Acknowledge *ReqAcknowledge `json:"acknowledge,omitempty"`
	Store       *ReqStore       `json:"store,omitempty"`
	StartCommit *ReqStartCommit `json:"startCommit,omitempty"`
}

// MaterializeResponse is one message of the Materialize RPC's response
// stream.
type MaterializeResponse struct {
	Opened        *RespOpened        `json:"opened,omitempty"`
	Loaded        *RespLoaded        `json:"loaded,omitempty"`
	Acknowledged  *RespAcknowledged  `json:"acknowledged,omitempty"`
	StartedCommit *RespStartedCommit `json:"startedCommit,omitempty"`
}

type ReqOpen struct {
	EndpointSpec    json.RawMessage `json:"endpointSpecJson"`
	ExplicitAcks    bool            `json:"explicitAcknowledgements"`
	RestartInterval string          `json:"restartInterval,omitempty"`
	// Internal carries state the runtime loads from its own C3 state store
	// before forwarding Open to the connector, kept in its own field rather
	// than flattened onto ReqOpen since it's runtime-only bookkeeping, not
	// part of the connector-facing endpoint configuration.
	Internal *ReqOpenInternal `json:"internal,omitempty"`
}

// ReqOpenInternal is the internal extension a session attaches to a
// client's first Open before dialing the connector, mirroring
// recv_client_open's `open.state_json = state` (original_source's
// crates/runtime/src/capture/protocol.rs): the connector resumes from its
// own last-committed driver checkpoint instead of starting cold, and the
// accompanying runtime checkpoint is what a restarted session's caller
// checks against to confirm spec.md section 4.3/9's commit-atomicity
// property ("subsequent open MUST load a checkpoint >= the committed
// one").
type ReqOpenInternal struct {
	// DriverCheckpoint is the connector's persisted CONNECTOR_STATE_KEY
	// value, attached so the connector can resume rather than cold-start.
	DriverCheckpoint json.RawMessage `json:"driverCheckpointJson,omitempty"`
	// RuntimeCheckpoint is the shard's persisted CHECKPOINT_KEY value.
	RuntimeCheckpoint []byte `json:"runtimeCheckpoint,omitempty"`
}

type ReqAcknowledge struct {
	Checkpoints int `json:"checkpoints"`
}

// ReqRead is one shuffled input message. AckTxn marks an acknowledgement
// placeholder from an upstream journal rather than a document to derive
// from -- it carries no Transform/DocJSON, only a Clock to fold into the
// transaction's max_clock (spec.md section 4.5.2).
type ReqRead struct {
	Transform int             `json:"transform"`
	DocJSON   json.RawMessage `json:"docJson"`
	UUID      string          `json:"uuid"`
	AckTxn    bool            `json:"ackTxn,omitempty"`
	Clock     uint64          `json:"clock"`
}

type ReqLoad struct {
	Binding   int    `json:"binding"`
	KeyPacked []byte `json:"keyPacked"`
}

type ReqStartCommit struct {
	RuntimeCheckpoint []byte `json:"runtimeCheckpoint"`
}

// ReqStore is the runtime's per-document upsert/delete instruction to a
// materialize connector, emitted while draining the combiner (spec.md
// section 4.5.3). Exists mirrors the drained document's FRONT bit, telling
// the connector whether to INSERT or UPDATE.
type ReqStore struct {
	Binding   int             `json:"binding"`
	KeyPacked []byte          `json:"keyPacked"`
	DocJSON   json.RawMessage `json:"docJson"`
	Exists    bool            `json:"exists"`
	Deleted   bool            `json:"deleted,omitempty"`
}

type RespOpened struct {
	ExplicitAcksAccepted bool `json:"explicitAcknowledgementsAccepted"`
}

type RespCaptured struct {
	Binding   int             `json:"binding"`
	DocJSON   json.RawMessage `json:"docJson"`
	KeyPacked []byte          `json:"keyPacked,omitempty"`
}

type RespCheckpoint struct {
	State      json.RawMessage `json:"state,omitempty"`
	MergePatch bool            `json:"mergePatch"`
}

type RespStartedCommit struct {
	State      json.RawMessage `json:"state,omitempty"`
	MergePatch bool            `json:"mergePatch"`
}

type RespPublished struct {
	DocJSON   json.RawMessage `json:"docJson"`
	KeyPacked []byte          `json:"keyPacked,omitempty"`
	MaxClock  uint64          `json:"maxClock,omitempty"`
}

type RespFlushed struct{}

type RespLoaded struct {
	Binding int             `json:"binding"`
	DocJSON json.RawMessage `json:"docJson"`
}

type RespAcknowledged struct{}
