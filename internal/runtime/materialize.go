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

// MaterializeSession drives one materialization task's transaction
// lifecycle, per spec.md section 4.5.3's diffs from Capture: Load/
// Acknowledge/Store/StartCommit phases within a transaction, Load
// deduplication by (binding, key_packed), FRONT-marked reduction fold of
// loaded state against drained Stores, and an `exists` flag mirroring the
// FRONT bit so the connector chooses INSERT vs UPDATE.
type MaterializeSession struct {
	cfg       SessionConfig
	bindings  []BindingConfig
	transport connector.Transport
	store     *statestore.Store
	shapes    *shape.Cache
}

// NewMaterializeSession returns a MaterializeSession ready to Run.
func NewMaterializeSession(cfg SessionConfig, bindings []BindingConfig, transport connector.Transport, store *statestore.Store, shapes *shape.Cache) *MaterializeSession {
	cfg.setDefaults()
	return &MaterializeSession{cfg: cfg, bindings: bindings, transport: transport, store: store, shapes: shapes}
}

func (s *MaterializeSession) combineSpec() doc.CombineSpec {
	var bs = make([]doc.BindingSpec, len(s.bindings))
	for i, b := range s.bindings {
		bs[i] = doc.BindingSpec{KeyPtrs: b.KeyPtrs, Schema: b.Schema}
	}
	return doc.CombineSpec{Bindings: bs}
}

// Run dials the connector on the client's Open and returns a response
// channel driven by an internal state machine goroutine.
func (s *MaterializeSession) Run(ctx context.Context, clientReqs <-chan connector.MaterializeRequest) (<-chan connector.MaterializeResponse, error) {
	first, ok := <-clientReqs
	if !ok || first.Open == nil {
		return nil, &taxonomy.ProtocolViolation{Shard: s.cfg.Shard, Expected: "Open", Got: fmt.Sprintf("%+v", first)}
	}
	if err := loadOpenState(s.store, s.cfg.Shard, first.Open); err != nil {
		return nil, err
	}

	var connReqs = make(chan connector.MaterializeRequest)
	connResp, err := s.transport.Materialize(ctx, connReqs)
	if err != nil {
		return nil, err
	}

	select {
	case connReqs <- connector.MaterializeRequest{Open: first.Open}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	opened, ok := <-connResp
	if !ok || opened.Opened == nil {
		return nil, &taxonomy.ProtocolViolation{Shard: s.cfg.Shard, Expected: "Opened", Got: fmt.Sprintf("%+v", opened)}
	}

	var out = make(chan connector.MaterializeResponse)
	go s.drive(ctx, clientReqs, out, connReqs, connResp, opened.Opened)
	return out, nil
}

func (s *MaterializeSession) drive(
	ctx context.Context,
	clientReqs <-chan connector.MaterializeRequest,
	out chan<- connector.MaterializeResponse,
	connReqs chan<- connector.MaterializeRequest,
	connResp <-chan connector.MaterializeResponse,
	opened *connector.RespOpened,
) {
	defer close(out)
	defer close(connReqs)

	select {
	case out <- connector.MaterializeResponse{Opened: opened}:
	case <-ctx.Done():
		return
	}

	for {
		tmp, err := tempSpillFile(s.cfg.TmpDir, "materialize-spill-*")
		if err != nil {
			log.WithError(err).WithField("shard", s.cfg.Shard).Error("creating spill file")
			return
		}
		var acc = doc.NewAccumulator(s.combineSpec(), tmp)
		var txn = newTransaction(len(s.bindings))
		var loaded = map[loadKey]bool{}

		commitReq, err := s.loadPhase(ctx, clientReqs, out, connReqs, connResp, acc, txn, loaded)
		if err != nil {
			log.WithError(err).WithField("shard", s.cfg.Shard).Error("load phase failed")
			return
		}
		if commitReq == nil {
			return // client closed the request stream.
		}

		if err := s.storePhase(ctx, acc, txn, connReqs); err != nil {
			log.WithError(err).WithField("shard", s.cfg.Shard).Error("store phase failed")
			return
		}

		select {
		case connReqs <- connector.MaterializeRequest{StartCommit: commitReq}:
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
		case out <- connector.MaterializeResponse{StartedCommit: &connector.RespStartedCommit{}}:
		case <-ctx.Done():
			return
		}
	}
}

type loadKey struct {
	binding int
	key     string
}

// loadPhase pumps client Load requests -- deduplicating by (binding,
// key_packed) -- forwarding each new one to the connector and relaying its
// Loaded reply back to the client while seeding the combiner with a FRONT
// entry, until the client sends Acknowledge (forwarded and relayed in
// turn) followed by StartCommit, which ends the phase.
func (s *MaterializeSession) loadPhase(
	ctx context.Context,
	clientReqs <-chan connector.MaterializeRequest,
	out chan<- connector.MaterializeResponse,
	connReqs chan<- connector.MaterializeRequest,
	connResp <-chan connector.MaterializeResponse,
	acc *doc.Accumulator,
	txn *Transaction,
	loaded map[loadKey]bool,
) (*connector.ReqStartCommit, error) {
	for {
		req, ok := <-clientReqs
		if !ok {
			return nil, nil
		}
		switch {
		case req.StartCommit != nil:
			return req.StartCommit, nil

		case req.Load != nil:
			var lk = loadKey{binding: req.Load.Binding, key: string(req.Load.KeyPacked)}
			if loaded[lk] {
				continue
			}
			loaded[lk] = true

			select {
			case connReqs <- connector.MaterializeRequest{Load: req.Load}:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			resp, ok := <-connResp
			if !ok || resp.Loaded == nil {
				continue // key not found; nothing to fold, exists stays false.
			}
			if err := s.foldLoaded(acc, req.Load.Binding, resp.Loaded); err != nil {
				return nil, err
			}
			select {
			case out <- connector.MaterializeResponse{Loaded: resp.Loaded}:
			case <-ctx.Done():
				return nil, ctx.Err()
			}

		case req.Acknowledge != nil:
			select {
			case connReqs <- connector.MaterializeRequest{Acknowledge: req.Acknowledge}:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			resp, ok := <-connResp
			if !ok || resp.Acknowledged == nil {
				return nil, &taxonomy.ProtocolViolation{Shard: s.cfg.Shard, Expected: "Acknowledged", Got: "EOF"}
			}
			select {
			case out <- connector.MaterializeResponse{Acknowledged: resp.Acknowledged}:
			case <-ctx.Done():
				return nil, ctx.Err()
			}

		default:
			return nil, &taxonomy.ProtocolViolation{Shard: s.cfg.Shard, Expected: "Load, Acknowledge, or StartCommit", Got: "empty message"}
		}
	}
}

func (s *MaterializeSession) foldLoaded(acc *doc.Accumulator, binding int, loaded *connector.RespLoaded) error {
	value, err := doc.ParseJSON(loaded.DocJSON)
	if err != nil {
		return &taxonomy.SchemaValidationFailed{Shard: s.cfg.Shard, Collection: s.bindings[binding].Collection, Detail: err.Error()}
	}
	mt, err := acc.MemTable()
	if err != nil {
		return err
	}
	return mt.Add(binding, value, true) // FRONT: this is the pre-existing LHS.
}

// storePhase drains the combiner and emits each result to the connector
// as Store, the materialize analogue of Capture's emit loop: documents
// reduced against a loaded FRONT entry have Exists=true.
func (s *MaterializeSession) storePhase(
	ctx context.Context,
	acc *doc.Accumulator,
	txn *Transaction,
	connReqs chan<- connector.MaterializeRequest,
) error {
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

		docBytes, err := json.Marshal(d.Value)
		if err != nil {
			return fmt.Errorf("encoding store document: %w", err)
		}
		txn.recordOutput(d.Binding, len(docBytes))
		s.shapes.Widen(d.Binding, d.Value)
		txn.markWidened(d.Binding)

		select {
		case connReqs <- connector.MaterializeRequest{Store: &connector.ReqStore{
			Binding:   d.Binding,
			KeyPacked: doc.PackKey(d.Key),
			DocJSON:   docBytes,
			Exists:    d.Reduced,
			Deleted:   d.Deleted,
		}}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
