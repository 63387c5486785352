package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/estuary/flow-sub009/internal/connector"
	"github.com/estuary/flow-sub009/internal/doc"
	"github.com/estuary/flow-sub009/internal/doc/reduce"
	"github.com/estuary/flow-sub009/internal/doc/shape"
	"github.com/estuary/flow-sub009/internal/statestore"
	"github.com/estuary/flow-sub009/internal/taxonomy"
	log "github.com/sirupsen/logrus"
)

// uuidPlaceholder is stamped into a captured document's UUID pointer
// before combining, per spec.md section 4.5.1; the consumer fabric
// overwrites it with the journal-assigned UUID on append.
const uuidPlaceholder = "00000000-0000-0000-0000-000000000000"

// BindingConfig configures one capture binding: its key extraction and
// reduce schema for the combiner, and the document-UUID pointer to stamp.
type BindingConfig struct {
	Collection string
	KeyPtrs    []string
	UUIDPtr    string
	Schema     *reduce.Schema
}

// CaptureSession drives one capture task's transaction lifecycle
// (INIT/OPENED/LEASED/DRAINING/READY/STREAMING/COMMIT_REQUESTED/COMMITTED),
// proxying between a client request stream and a dialed connector
// Transport while folding Captured/Checkpoint messages through a combiner,
// per spec.md section 4.5.1.
type CaptureSession struct {
	cfg       SessionConfig
	bindings  []BindingConfig
	transport connector.Transport
	store     *statestore.Store
	shapes    *shape.Cache

	state        State
	explicitAcks bool
}

// NewCaptureSession returns a CaptureSession ready to Run.
func NewCaptureSession(cfg SessionConfig, bindings []BindingConfig, transport connector.Transport, store *statestore.Store, shapes *shape.Cache) *CaptureSession {
	cfg.setDefaults()
	return &CaptureSession{cfg: cfg, bindings: bindings, transport: transport, store: store, shapes: shapes, state: StateInit}
}

func (s *CaptureSession) checkpointBinding() int { return len(s.bindings) }

func (s *CaptureSession) combineSpec() doc.CombineSpec {
	var bs = make([]doc.BindingSpec, len(s.bindings)+1)
	for i, b := range s.bindings {
		bs[i] = doc.BindingSpec{KeyPtrs: b.KeyPtrs, Schema: b.Schema}
	}
	// The virtual checkpoint binding: a singleton key (no extractors),
	// merging connector state recursively across folds within a
	// transaction, per spec.md section 3/4.5.1.
	bs[len(s.bindings)] = doc.BindingSpec{
		KeyPtrs: nil,
		Schema:  &reduce.Schema{Reduce: &reduce.Annotation{Strategy: reduce.Merge}},
	}
	return doc.CombineSpec{Bindings: bs}
}

// Run drains the session's first message (which must be Open), dials the
// connector, and returns a response channel driven by an internal state
// machine goroutine until the client request stream closes or a fatal
// error ends the session.
func (s *CaptureSession) Run(ctx context.Context, clientReqs <-chan connector.CaptureRequest) (<-chan connector.CaptureResponse, error) {
	first, ok := <-clientReqs
	if !ok || first.Open == nil {
		return nil, &taxonomy.ProtocolViolation{Shard: s.cfg.Shard, Expected: "Open", Got: fmt.Sprintf("%+v", first)}
	}
	if err := loadOpenState(s.store, s.cfg.Shard, first.Open); err != nil {
		return nil, err
	}

	var connReqs = make(chan connector.CaptureRequest)
	connResp, err := s.transport.Capture(ctx, connReqs)
	if err != nil {
		return nil, err
	}

	select {
	case connReqs <- connector.CaptureRequest{Open: first.Open}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	opened, ok := <-connResp
	if !ok || opened.Opened == nil {
		return nil, &taxonomy.ProtocolViolation{Shard: s.cfg.Shard, Expected: "Opened", Got: fmt.Sprintf("%+v", opened)}
	}
	s.state = StateOpened
	s.explicitAcks = first.Open.ExplicitAcks && opened.Opened.ExplicitAcksAccepted

	var out = make(chan connector.CaptureResponse)
	go s.drive(ctx, clientReqs, out, connReqs, connResp, opened.Opened)
	return out, nil
}

func (s *CaptureSession) drive(
	ctx context.Context,
	clientReqs <-chan connector.CaptureRequest,
	out chan<- connector.CaptureResponse,
	connReqs chan<- connector.CaptureRequest,
	connResp <-chan connector.CaptureResponse,
	opened *connector.RespOpened,
) {
	defer close(out)
	defer close(connReqs)

	select {
	case out <- connector.CaptureResponse{Opened: opened}:
	case <-ctx.Done():
		return
	}

	var yield = newYieldSignal()
	var pending = s.backgroundReader(ctx, connResp, yield)
	var lastCheckpoints int

	for {
		// OPENED/COMMITTED -> LEASED: wait for the client's Acknowledge
		// gating this lease round.
		req, ok := <-clientReqs
		if !ok {
			s.state = StateClosed
			return
		}
		if req.Acknowledge == nil {
			log.WithFields(log.Fields{"shard": s.cfg.Shard, "state": s.state.String()}).
				Error("protocol violation: expected Acknowledge")
			return
		}
		s.state = StateLeased

		if s.explicitAcks {
			var ackCtx, cancel = context.WithTimeout(ctx, s.cfg.AcknowledgeTimeout)
			select {
			case connReqs <- connector.CaptureRequest{Acknowledge: &connector.ReqAcknowledge{Checkpoints: lastCheckpoints}}:
			case <-ackCtx.Done():
				cancel()
				log.WithField("shard", s.cfg.Shard).Error("timed out sending connector acknowledge")
				return
			}
			cancel()
		}
		yield.signal()

		s.state = StateDraining
		var r pendingTxn
		select {
		case r, ok = <-pending:
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		}
		if r.err != nil {
			log.WithError(r.err).WithField("shard", s.cfg.Shard).Error("reading transaction failed")
			return
		}
		if r.outcome == Restart {
			log.WithField("shard", s.cfg.Shard).
				Warn("connector exited with no checkpoints past the restart interval; ending session for restart")
			return
		}
		s.state = StateReady

		s.state = StateStreaming
		lastCheckpoints = r.txn.Checkpoints
		checkpointValue, err := s.drainAndEmit(ctx, r.acc, out)
		if err != nil {
			log.WithError(err).WithField("shard", s.cfg.Shard).Error("drain failed")
			return
		}
		s.state = StateCommitRequested

		commitReq, ok := <-clientReqs
		if !ok || commitReq.StartCommit == nil {
			log.WithField("shard", s.cfg.Shard).Error("protocol violation: expected StartCommit")
			return
		}

		var batch = stageCommit(s.store, s.cfg.Shard, commitReq.StartCommit.RuntimeCheckpoint, r.txn, s.shapes)
		if err := stageConnectorState(batch, r.txn, checkpointValue); err != nil {
			log.WithError(err).WithField("shard", s.cfg.Shard).Error("staging connector state failed")
			return
		}
		if err := s.store.Write(batch); err != nil {
			log.WithError(&taxonomy.StateStoreIO{Shard: s.cfg.Shard, Cause: err}).Error("commit failed")
			return
		}
		s.state = StateCommitted

		select {
		case out <- connector.CaptureResponse{StartedCommit: &connector.RespStartedCommit{}}:
		case <-ctx.Done():
			return
		}
		s.state = StateLeased
	}
}

type pendingTxn struct {
	txn     *Transaction
	acc     *doc.Accumulator
	outcome ReadyOutcome
	err     error
}

// backgroundReader continuously reads connector responses into a sequence
// of accumulators, reporting each transaction once it's Ready -- the
// double-buffering of spec.md section 4.5.1: the next transaction's
// reading starts as soon as the previous one is reported, overlapping with
// its drain/emit/commit on the main session goroutine.
func (s *CaptureSession) backgroundReader(ctx context.Context, connResp <-chan connector.CaptureResponse, yield yieldSignal) <-chan pendingTxn {
	var out = make(chan pendingTxn)
	go func() {
		defer close(out)
		for {
			var txn = newTransaction(len(s.bindings) + 1)
			f, err := tempSpillFile(s.cfg.TmpDir, "capture-spill-*")
			if err != nil {
				select {
				case out <- pendingTxn{err: fmt.Errorf("creating spill file: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			var acc = doc.NewAccumulator(s.combineSpec(), f)

			outcome, err := s.readTransaction(ctx, connResp, acc, txn, yield)
			if err != nil {
				os.Remove(f.Name())
				select {
				case out <- pendingTxn{err: err}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case out <- pendingTxn{txn: txn, acc: acc, outcome: outcome}:
			case <-ctx.Done():
				return
			}
			if outcome == Restart {
				return
			}
		}
	}()
	return out
}

// readTransaction folds connector responses into acc until the
// transaction is Ready (DRAINING -> READY of spec.md section 4.5.1), the
// connector EOFs, or ctx is cancelled.
func (s *CaptureSession) readTransaction(ctx context.Context, connResp <-chan connector.CaptureResponse, acc *doc.Accumulator, txn *Transaction, yield yieldSignal) (ReadyOutcome, error) {
	var longPoll *time.Timer
	defer func() {
		if longPoll != nil {
			longPoll.Stop()
		}
	}()

	for {
		var longPollCh <-chan time.Time
		if txn.Checkpoints > 0 {
			if longPoll == nil {
				longPoll = time.NewTimer(s.cfg.LongPollTimeout)
			}
			longPollCh = longPoll.C
		}

		select {
		case <-ctx.Done():
			return notReady, ctx.Err()

		case <-yield:
			if txn.Checkpoints > 0 {
				return Ready, nil
			}
			// Nothing buffered yet -- the client's Acknowledge can't force
			// a readiness decision out of zero checkpoints.

		case <-longPollCh:
			return Ready, nil

		case resp, ok := <-connResp:
			if !ok {
				txn.ConnectorEOF = true
				if txn.Checkpoints > 0 {
					return Ready, nil
				}
				if wait := s.cfg.RestartInterval - time.Since(txn.StartedAt); wait > 0 {
					select {
					case <-time.After(wait):
					case <-ctx.Done():
						return notReady, ctx.Err()
					}
				}
				return Restart, nil
			}

			switch {
			case resp.Captured != nil:
				if err := s.foldCaptured(acc, txn, resp.Captured); err != nil {
					return notReady, err
				}
			case resp.Checkpoint != nil:
				if err := s.foldCheckpoint(acc, txn, resp.Checkpoint); err != nil {
					return notReady, err
				}
				txn.Checkpoints++
			default:
				return notReady, &taxonomy.ProtocolViolation{Shard: s.cfg.Shard, Expected: "Captured or Checkpoint", Got: "empty message"}
			}

			mt, err := acc.MemTable()
			if err != nil {
				return notReady, err
			}
			if txn.Checkpoints > 0 && mt.UsedBytes() >= s.cfg.ByteThreshold {
				return Ready, nil
			}
		}
	}
}

func (s *CaptureSession) foldCaptured(acc *doc.Accumulator, txn *Transaction, c *connector.RespCaptured) error {
	if c.Binding < 0 || c.Binding >= len(s.bindings) {
		return &taxonomy.ProtocolViolation{Shard: s.cfg.Shard, Expected: "valid binding index", Got: fmt.Sprintf("%d", c.Binding)}
	}
	var binding = s.bindings[c.Binding]

	value, err := doc.ParseJSON(c.DocJSON)
	if err != nil {
		return &taxonomy.SchemaValidationFailed{Shard: s.cfg.Shard, Collection: binding.Collection, Detail: err.Error()}
	}
	if binding.UUIDPtr != "" {
		value = doc.SetAtPointer(binding.UUIDPtr, value, uuidPlaceholder)
	}

	mt, err := acc.MemTable()
	if err != nil {
		return err
	}
	if err := mt.Add(c.Binding, value, false); err != nil {
		return err
	}

	txn.recordInput(c.Binding, len(c.DocJSON))
	s.shapes.Widen(c.Binding, value)
	txn.markWidened(c.Binding)
	return nil
}

func (s *CaptureSession) foldCheckpoint(acc *doc.Accumulator, txn *Transaction, c *connector.RespCheckpoint) error {
	value, err := doc.ParseJSON(c.State)
	if err != nil {
		return fmt.Errorf("parsing connector checkpoint state: %w", err)
	}
	mt, err := acc.MemTable()
	if err != nil {
		return err
	}
	txn.OverwriteConnectorState = !c.MergePatch
	// FRONT on an overwrite checkpoint discards anything folded onto the
	// virtual checkpoint binding earlier this transaction -- the
	// in-memory equivalent of "clear prior state, then apply update".
	return mt.Add(s.checkpointBinding(), value, !c.MergePatch)
}

// drainAndEmit drains acc in (binding, key) order, forwarding each
// non-virtual document to the client as Captured and returning the
// virtual checkpoint binding's merged value (if any) for the commit step.
func (s *CaptureSession) drainAndEmit(ctx context.Context, acc *doc.Accumulator, out chan<- connector.CaptureResponse) (any, error) {
	drainer, err := acc.IntoDrainer()
	if err != nil {
		return nil, fmt.Errorf("finalizing accumulator: %w", err)
	}

	var checkpointValue any
	for {
		d, ok, err := drainer.DrainNext()
		if err != nil {
			return nil, fmt.Errorf("draining combiner: %w", err)
		}
		if !ok {
			return checkpointValue, nil
		}
		if d.Binding == s.checkpointBinding() {
			checkpointValue = d.Value
			continue
		}
		if d.Deleted {
			continue
		}

		docBytes, err := json.Marshal(d.Value)
		if err != nil {
			return nil, fmt.Errorf("encoding captured document: %w", err)
		}
		select {
		case out <- connector.CaptureResponse{Captured: &connector.RespCaptured{
			Binding:   d.Binding,
			DocJSON:   docBytes,
			KeyPacked: doc.PackKey(d.Key),
		}}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
