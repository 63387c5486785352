// Package statestore implements the per-shard embedded key-value store
// backing checkpoints, connector state, and inferred schemas (spec.md
// section 4.3/6). It is a thin, idiomatic wrapper over gorocksdb, in the
// same library the teacher reaches for in its cgo bindings package, but
// opened directly rather than through a recovery-log-hooked Env, since
// the recovery-log integration is Gazette-internal plumbing out of
// scope here.
package statestore

import (
	"encoding/json"
	"fmt"

	"github.com/jgraettinger/gorocksdb"
)

var (
	keyCheckpoint     = []byte("checkpoint")
	keyConnectorState = []byte("connector-state")
	inferredShapePfx  = []byte("inferred-shape/")
)

// Descriptor names the on-disk directory a Store opens.
type Descriptor struct {
	// Path is the local directory housing the RocksDB database files for
	// one shard.
	Path string
}

// Store is a shard's embedded key-value store.
type Store struct {
	db  *gorocksdb.DB
	ro  *gorocksdb.ReadOptions
	wo  *gorocksdb.WriteOptions
	mop *connectorStateMergeOperator
}

// Open opens (creating if absent) the RocksDB database at descriptor.Path,
// installing the connector-state merge operator.
func Open(descriptor *Descriptor) (*Store, error) {
	var mop = &connectorStateMergeOperator{}

	var opts = gorocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)
	opts.SetMergeOperator(mop)

	var db, err = gorocksdb.OpenDb(opts, descriptor.Path)
	if err != nil {
		return nil, fmt.Errorf("opening state store at %q: %w", descriptor.Path, err)
	}

	return &Store{
		db:  db,
		ro:  gorocksdb.NewDefaultReadOptions(),
		wo:  gorocksdb.NewDefaultWriteOptions(),
		mop: mop,
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() {
	s.db.Close()
}

// LoadCheckpoint returns the shard's last-committed consumer checkpoint,
// or nil if none has ever been written.
func (s *Store) LoadCheckpoint() ([]byte, error) {
	return s.get(keyCheckpoint)
}

// LoadConnectorState returns the connector's persisted driver
// checkpoint, or nil if none has ever been written.
func (s *Store) LoadConnectorState() (json.RawMessage, error) {
	v, err := s.get(keyConnectorState)
	if err != nil || v == nil {
		return nil, err
	}
	return json.RawMessage(v), nil
}

// LoadInferredShape returns binding's persisted inferred-schema snapshot,
// or nil if none has ever been written.
func (s *Store) LoadInferredShape(binding int) (json.RawMessage, error) {
	v, err := s.get(inferredShapeKey(binding))
	if err != nil || v == nil {
		return nil, err
	}
	return json.RawMessage(v), nil
}

func (s *Store) get(key []byte) ([]byte, error) {
	var slice, err = s.db.Get(s.ro, key)
	if err != nil {
		return nil, fmt.Errorf("reading state store key %q: %w", key, err)
	}
	defer slice.Free()
	if !slice.Exists() {
		return nil, nil
	}
	var out = make([]byte, slice.Size())
	copy(out, slice.Data())
	return out, nil
}

func inferredShapeKey(binding int) []byte {
	return append(append([]byte{}, inferredShapePfx...), []byte(fmt.Sprintf("%d", binding))...)
}

// WriteBatch accumulates the writes a single transaction commit applies
// atomically, per spec.md section 4.3/9's "exactly one WriteBatch per
// commit" invariant.
type WriteBatch struct {
	batch *gorocksdb.WriteBatch
}

// NewWriteBatch returns an empty WriteBatch for s.
func (s *Store) NewWriteBatch() *WriteBatch {
	return &WriteBatch{batch: gorocksdb.NewWriteBatch()}
}

// PutCheckpoint stages the shard's consumer checkpoint for the next
// commit.
func (b *WriteBatch) PutCheckpoint(checkpoint []byte) {
	b.batch.Put(keyCheckpoint, checkpoint)
}

// PutConnectorStateMergePatch stages an RFC-7396 merge-patch of the
// connector's persisted state, applied by connectorStateMergeOperator at
// flush time rather than read-modify-write, so concurrent batches never
// need to load the prior state to update it.
func (b *WriteBatch) PutConnectorStateMergePatch(patch json.RawMessage) {
	b.batch.Merge(keyConnectorState, patch)
}

// PutConnectorStateOverwrite stages a full replacement of the
// connector's persisted state (the `overwrite` update mode of
// spec.md section 4.5.1), bypassing the merge operator entirely.
func (b *WriteBatch) PutConnectorStateOverwrite(state json.RawMessage) {
	b.batch.Put(keyConnectorState, state)
}

// PutInferredShape stages binding's widened inferred-schema snapshot.
func (b *WriteBatch) PutInferredShape(binding int, shape json.RawMessage) {
	b.batch.Put(inferredShapeKey(binding), shape)
}

// Write commits batch atomically. Spec.md section 4.3/9 requires this be
// called exactly once per transaction commit.
func (s *Store) Write(batch *WriteBatch) error {
	if err := s.db.Write(s.wo, batch.batch); err != nil {
		return fmt.Errorf("writing state store batch: %w", err)
	}
	return nil
}
