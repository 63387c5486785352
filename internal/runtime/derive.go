package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/estuary/flow-sub009/internal/connector"
	"github.com/estuary/flow-sub009/internal/doc"
	"github.com/estuary/flow-sub009/internal/doc/shape"
	"github.com/estuary/flow-sub009/internal/statestore"
	"github.com/estuary/flow-sub009/internal/taxonomy"
	log "github.com/sirupsen/logrus"
)

// DeriveSession drives one derivation task's transaction lifecycle, per
// spec.md section 4.5.2's diffs from Capture: the transaction boundary is
// client-controlled (a StartCommit ends the read phase, rather than a
// byte/long-poll readiness decision), inputs are shuffled Read messages
// forwarded one at a time in lockstep with the connector's Published*
// and Flushed replies, and output is combined into a single derived
// binding.
type DeriveSession struct {
	cfg       SessionConfig
	derived   BindingConfig
	transport connector.Transport
	store     *statestore.Store
	shapes    *shape.Cache
}

// NewDeriveSession returns a DeriveSession for the single derived
// collection binding.
func NewDeriveSession(cfg SessionConfig, derived BindingConfig, transport connector.Transport, store *statestore.Store, shapes *shape.Cache) *DeriveSession {
	cfg.setDefaults()
	return &DeriveSession{cfg: cfg, derived: derived, transport: transport, store: store, shapes: shapes}
}

func (s *DeriveSession) combineSpec() doc.CombineSpec {
	return doc.CombineSpec{Bindings: []doc.BindingSpec{{KeyPtrs: s.derived.KeyPtrs, Schema: s.derived.Schema}}}
}

// Run dials the connector on the client's Open and returns a response
// channel driven by an internal state machine goroutine.
func (s *DeriveSession) Run(ctx context.Context, clientReqs <-chan connector.DeriveRequest) (<-chan connector.DeriveResponse, error) {
	first, ok := <-clientReqs
	if !ok || first.Open == nil {
		return nil, &taxonomy.ProtocolViolation{Shard: s.cfg.Shard, Expected: "Open", Got: fmt.Sprintf("%+v", first)}
	}
	if err := loadOpenState(s.store, s.cfg.Shard, first.Open); err != nil {
		return nil, err
	}

	var connReqs = make(chan connector.DeriveRequest)
	connResp, err := s.transport.Derive(ctx, connReqs)
	if err != nil {
		return nil, err
	}

	select {
	case connReqs <- connector.DeriveRequest{Open: first.Open}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	opened, ok := <-connResp
	if !ok || opened.Opened == nil {
		return nil, &taxonomy.ProtocolViolation{Shard: s.cfg.Shard, Expected: "Opened", Got: fmt.Sprintf("%+v", opened)}
	}

	var out = make(chan connector.DeriveResponse)
	go s.drive(ctx, clientReqs, out, connReqs, connResp, opened.Opened)
	return out, nil
}

func (s *DeriveSession) drive(
	ctx context.Context,
	clientReqs <-chan connector.DeriveRequest,
	out chan<- connector.DeriveResponse,
	connReqs chan<- connector.DeriveRequest,
	connResp <-chan connector.DeriveResponse,
	opened *connector.RespOpened,
) {
	defer close(out)
	defer close(connReqs)

	select {
	case out <- connector.DeriveResponse{Opened: opened}:
	case <-ctx.Done():
		return
	}

	for {
		tmp, err := tempSpillFile(s.cfg.TmpDir, "derive-spill-*")
		if err != nil {
			log.WithError(err).WithField("shard", s.cfg.Shard).Error("creating spill file")
			return
		}
		var acc = doc.NewAccumulator(s.combineSpec(), tmp)
		var txn = newTransaction(1)

		commitReq, err := s.readInputs(ctx, clientReqs, connReqs, connResp, acc, txn)
		if err != nil {
			log.WithError(err).WithField("shard", s.cfg.Shard).Error("reading derive transaction failed")
			return
		}
		if commitReq == nil {
			return // client closed the request stream.
		}

		if err := s.drainAndEmit(ctx, acc, txn, out); err != nil {
			log.WithError(err).WithField("shard", s.cfg.Shard).Error("drain failed")
			return
		}

		select {
		case connReqs <- connector.DeriveRequest{StartCommit: commitReq}:
		case <-ctx.Done():
			return
		}
		connStarted, ok := <-connResp
		if !ok || connStarted.StartedCommit == nil {
			log.WithField("shard", s.cfg.Shard).Error("protocol violation: expected connector StartedCommit")
			return
		}

		var batch = stageCommit(s.store, s.cfg.Shard, commitReq.RuntimeCheckpoint, txn, s.shapes)
		if connStarted.StartedCommit.State != nil {
			value, err := doc.ParseJSON(connStarted.StartedCommit.State)
			if err != nil {
				log.WithError(err).WithField("shard", s.cfg.Shard).Error("parsing connector commit state")
				return
			}
			txn.OverwriteConnectorState = !connStarted.StartedCommit.MergePatch
			if err := stageConnectorState(batch, txn, value); err != nil {
				log.WithError(err).WithField("shard", s.cfg.Shard).Error("staging connector state failed")
				return
			}
		}
		if err := s.store.Write(batch); err != nil {
			log.WithError(&taxonomy.StateStoreIO{Shard: s.cfg.Shard, Cause: err}).Error("commit failed")
			return
		}

		select {
		case out <- connector.DeriveResponse{StartedCommit: &connector.RespStartedCommit{}}:
		case <-ctx.Done():
			return
		}
	}
}

// readInputs pumps client Read messages (forwarding each to the connector
// in lockstep with its Published*/Flushed reply) until the client sends
// StartCommit, which ends the transaction's read phase and is returned for
// the caller to forward once the drain has emitted. A nil, nil return
// means the client closed the stream.
func (s *DeriveSession) readInputs(
	ctx context.Context,
	clientReqs <-chan connector.DeriveRequest,
	connReqs chan<- connector.DeriveRequest,
	connResp <-chan connector.DeriveResponse,
	acc *doc.Accumulator,
	txn *Transaction,
) (*connector.ReqStartCommit, error) {
	for {
		req, ok := <-clientReqs
		if !ok {
			return nil, nil
		}
		switch {
		case req.StartCommit != nil:
			return req.StartCommit, nil

		case req.Read != nil:
			txn.observeClock(req.Read.Clock)
			if req.Read.AckTxn {
				continue
			}
			if err := s.forwardRead(ctx, connReqs, connResp, acc, txn, req.Read); err != nil {
				return nil, err
			}

		default:
			return nil, &taxonomy.ProtocolViolation{Shard: s.cfg.Shard, Expected: "Read or StartCommit", Got: "empty message"}
		}
	}
}

func (s *DeriveSession) forwardRead(
	ctx context.Context,
	connReqs chan<- connector.DeriveRequest,
	connResp <-chan connector.DeriveResponse,
	acc *doc.Accumulator,
	txn *Transaction,
	read *connector.ReqRead,
) error {
	select {
	case connReqs <- connector.DeriveRequest{Read: read}:
	case <-ctx.Done():
		return ctx.Err()
	}

	txn.recordInput(0, len(read.DocJSON))

	for {
		resp, ok := <-connResp
		if !ok {
			return &taxonomy.ProtocolViolation{Shard: s.cfg.Shard, Expected: "Published or Flushed", Got: "EOF"}
		}
		switch {
		case resp.Published != nil:
			value, err := doc.ParseJSON(resp.Published.DocJSON)
			if err != nil {
				return &taxonomy.SchemaValidationFailed{Shard: s.cfg.Shard, Collection: s.derived.Collection, Detail: err.Error()}
			}
			if s.derived.UUIDPtr != "" {
				value = doc.SetAtPointer(s.derived.UUIDPtr, value, uuidPlaceholder)
			}
			mt, err := acc.MemTable()
			if err != nil {
				return err
			}
			if err := mt.Add(0, value, false); err != nil {
				return err
			}
			s.shapes.Widen(0, value)
			txn.markWidened(0)

		case resp.Flushed != nil:
			return nil

		default:
			return &taxonomy.ProtocolViolation{Shard: s.cfg.Shard, Expected: "Published or Flushed", Got: "empty message"}
		}
	}
}

func (s *DeriveSession) drainAndEmit(ctx context.Context, acc *doc.Accumulator, txn *Transaction, out chan<- connector.DeriveResponse) error {
	drainer, err := acc.IntoDrainer()
	if err != nil {
		return fmt.Errorf("finalizing accumulator: %w", err)
	}
	for {
		d, ok, err := drainer.DrainNext()
		if err != nil {
			return fmt.Errorf("draining combiner: %w", err)
		}
		if !ok {
			return nil
		}
		if d.Deleted {
			continue
		}
		docBytes, err := json.Marshal(d.Value)
		if err != nil {
			return fmt.Errorf("encoding published document: %w", err)
		}
		txn.recordOutput(0, len(docBytes))
		select {
		case out <- connector.DeriveResponse{Published: &connector.RespPublished{
			DocJSON:   docBytes,
			KeyPacked: doc.PackKey(d.Key),
			MaxClock:  txn.MaxClock,
		}}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
