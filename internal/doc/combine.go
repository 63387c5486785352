package doc

import (
	"container/heap"
	"fmt"
	"os"
	"sort"

	"github.com/estuary/flow-sub009/internal/doc/reduce"
	"github.com/estuary/flow-sub009/internal/doc/spill"
	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
)

// MemTableByteThreshold is the approximate memtable size at which the
// active memtable is spilled and a fresh one installed, per spec.md
// section 3 ("~256 MB").
const MemTableByteThreshold = 256 * 1024 * 1024

// BindingSpec is the per-binding configuration a combiner needs: its key
// extractors and reduce schema.
type BindingSpec struct {
	KeyPtrs []string
	Schema  *reduce.Schema
}

// CombineSpec configures an Accumulator: one BindingSpec per document
// binding, per spec.md section 3's "combiner spec (one per binding)".
type CombineSpec struct {
	Bindings []BindingSpec
}

type tableEntry struct {
	meta  Meta
	key   Key
	value any
}

// MemTable is the in-RAM combiner table of spec.md section 3: a sequence
// of (meta, doc) pairs, not yet sorted or grouped by key. Add appends in
// call order; sorting happens only when the table is drained or spilled.
type MemTable struct {
	spec    CombineSpec
	entries []tableEntry
	bytes   int
}

// NewMemTable returns an empty MemTable for spec.
func NewMemTable(spec CombineSpec) *MemTable {
	return &MemTable{spec: spec}
}

// Add inserts doc at the given binding. If isFront is set, the entry is
// marked FRONT -- used to seed a previously reduced LHS ahead of new RHS
// additions, per spec.md section 4.2.
func (m *MemTable) Add(binding int, value any, isFront bool) error {
	if binding < 0 || binding >= len(m.spec.Bindings) {
		return fmt.Errorf("binding %d out of range (have %d bindings)", binding, len(m.spec.Bindings))
	}
	var key = ExtractKey(m.spec.Bindings[binding].KeyPtrs, value)
	var meta = NewMeta(binding, 0).WithFront(isFront)

	m.entries = append(m.entries, tableEntry{meta: meta, key: key, value: value})
	m.bytes += estimateSize(value) + 32
	return nil
}

// AddDeleted inserts a tombstone for the given binding and key, per
// spec.md section 3's DELETED meta flag.
func (m *MemTable) AddDeleted(binding int, key Key, isFront bool) {
	var meta = NewMeta(binding, FlagDeleted).WithFront(isFront)
	m.entries = append(m.entries, tableEntry{meta: meta, key: key, value: nil})
	m.bytes += 32
}

// UsedBytes returns an estimate of the memtable's arena usage, compared
// against MemTableByteThreshold to decide when to spill.
func (m *MemTable) UsedBytes() int { return m.bytes }

// Len returns the number of entries currently held.
func (m *MemTable) Len() int { return len(m.entries) }

func estimateSize(v any) int {
	switch t := v.(type) {
	case string:
		return len(t)
	case map[string]any:
		var n = 16
		for k, vv := range t {
			n += len(k) + estimateSize(vv)
		}
		return n
	case []any:
		var n = 16
		for _, vv := range t {
			n += estimateSize(vv)
		}
		return n
	default:
		return 16
	}
}

// sortedEntries returns the memtable's entries sorted by (binding, key),
// the order spec.md section 4.2/5 requires for draining.
func (m *MemTable) sortedEntries() []tableEntry {
	var out = append([]tableEntry(nil), m.entries...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].meta.Binding() != out[j].meta.Binding() {
			return out[i].meta.Binding() < out[j].meta.Binding()
		}
		return CompareKeys(out[i].key, out[j].key) < 0
	})
	return out
}

// Accumulator owns a scratch spill file and the chain of memtables and
// spilled segments that make up one combiner's in-flight state, per
// spec.md section 3/4.2.
type Accumulator struct {
	spec     CombineSpec
	tmp      *os.File
	writer   *spill.Writer
	current  *MemTable
	segments []spill.SegmentRange
}

// NewAccumulator returns an Accumulator configured by spec, spilling into
// tmp as needed.
func NewAccumulator(spec CombineSpec, tmp *os.File) *Accumulator {
	return &Accumulator{
		spec:    spec,
		tmp:     tmp,
		writer:  spill.NewWriter(tmp),
		current: NewMemTable(spec),
	}
}

// MemTable returns the current memtable, spilling the active one first and
// installing a fresh one if its used bytes already cross
// MemTableByteThreshold, per spec.md section 3/4.2.
func (a *Accumulator) MemTable() (*MemTable, error) {
	if a.current.UsedBytes() >= MemTableByteThreshold {
		if err := a.spillCurrent(); err != nil {
			return nil, err
		}
	}
	return a.current, nil
}

func (a *Accumulator) spillCurrent() error {
	if a.current.Len() == 0 {
		return nil
	}
	var sorted = a.current.sortedEntries()
	var records = make([]spill.Record, len(sorted))
	for i, e := range sorted {
		doc, err := encodeEntry(e)
		if err != nil {
			return err
		}
		records[i] = doc
	}
	var rng, err = a.writer.WriteSegment(records)
	if err != nil {
		return fmt.Errorf("spilling memtable: %w", err)
	}
	log.WithFields(log.Fields{
		"records": rng.Records,
		"bytes":   humanize.Bytes(uint64(a.current.UsedBytes())),
		"chunks":  len(rng.ChunkOffsets),
	}).Debug("spilled memtable segment")

	spillTotal.Inc()
	spillBytesHistogram.Observe(float64(a.current.UsedBytes()))

	a.segments = append(a.segments, rng)
	a.current = NewMemTable(a.spec)
	return nil
}

func encodeEntry(e tableEntry) (spill.Record, error) {
	var packedKey = packKey(e.key)
	var docBytes, err = encodeValue(e.value)
	if err != nil {
		return spill.Record{}, err
	}
	return spill.Record{
		Binding:   e.meta.Binding(),
		Flags:     byte(e.meta),
		KeyPacked: packedKey,
		Doc:       docBytes,
	}, nil
}

// IntoDrainer finalizes the Accumulator for reading: if no segments were
// ever written, the drainer sorts and yields the in-memory table directly;
// otherwise the final memtable is spilled and a multi-way merge drainer is
// constructed, per spec.md section 4.2.
func (a *Accumulator) IntoDrainer() (*Drainer, error) {
	if len(a.segments) == 0 {
		return &Drainer{
			spec:    a.spec,
			memOnly: a.current.sortedEntries(),
		}, nil
	}

	if err := a.spillCurrent(); err != nil {
		return nil, err
	}
	var reader = spill.NewReader(a.tmp)
	var cursors = make([]*segmentCursor, len(a.segments))
	for i, seg := range a.segments {
		cursors[i] = &segmentCursor{reader: reader, chunkOffsets: seg.ChunkOffsets}
		if err := cursors[i].advance(); err != nil {
			return nil, err
		}
	}
	var h = &mergeHeap{cursors: cursors}
	heap.Init(h)
	return &Drainer{spec: a.spec, heap: h}, nil
}

// DrainedDoc is one document yielded by Drainer.DrainNext, fully reduced
// across every entry sharing its (binding, key), per spec.md section 4.2.
type DrainedDoc struct {
	Binding int
	Key     Key
	Value   any
	// Reduced is true when the run's head was FRONT, meaning the output
	// is a complete reduction; otherwise it's a partial combine still to
	// be reduced against an unseen LHS.
	Reduced bool
	// Associative is false if a non-associative strategy was used anywhere
	// in the reduction, per spec.md section 8's commutativity property.
	Associative bool
	// Deleted is true when the drained output is a DELETED-FRONT
	// tombstone the caller may skip.
	Deleted bool
}

// Drainer yields documents in (binding, key) order, reducing runs of
// same-keyed entries left-to-right as it goes.
type Drainer struct {
	spec    CombineSpec
	memOnly []tableEntry
	memPos  int
	heap    *mergeHeap
}

// DrainNext returns the next distinct (binding, key) group's reduced
// document, or ok=false once exhausted.
func (d *Drainer) DrainNext() (*DrainedDoc, bool, error) {
	if d.heap != nil {
		return d.drainNextMerged()
	}
	return d.drainNextMemOnly()
}

func (d *Drainer) drainNextMemOnly() (*DrainedDoc, bool, error) {
	if d.memPos >= len(d.memOnly) {
		return nil, false, nil
	}
	var first = d.memOnly[d.memPos]
	var out = DrainedDoc{
		Binding:     first.meta.Binding(),
		Key:         first.key,
		Value:       first.value,
		Reduced:     first.meta.Front(),
		Associative: true,
		Deleted:     first.meta.Deleted(),
	}
	d.memPos++
	for d.memPos < len(d.memOnly) {
		var next = d.memOnly[d.memPos]
		if next.meta.Binding() != out.Binding || CompareKeys(next.key, out.Key) != 0 {
			break
		}
		if err := foldInto(&out, d.spec.Bindings[out.Binding].Schema, next); err != nil {
			return nil, false, err
		}
		d.memPos++
	}
	return &out, true, nil
}

func (d *Drainer) drainNextMerged() (*DrainedDoc, bool, error) {
	if d.heap.Len() == 0 {
		return nil, false, nil
	}

	var first = heap.Pop(d.heap).(*segmentCursor)
	var rec = first.current()
	key, err := unpackKey(rec.KeyPacked)
	if err != nil {
		return nil, false, err
	}
	value, err := decodeValue(rec.Doc)
	if err != nil {
		return nil, false, err
	}
	var meta = Meta(rec.Flags)
	var out = DrainedDoc{
		Binding:     rec.Binding,
		Key:         key,
		Value:       value,
		Reduced:     meta.Front(),
		Associative: true,
		Deleted:     meta.Deleted(),
	}
	if err := advanceAndRequeue(d.heap, first); err != nil {
		return nil, false, err
	}

	for d.heap.Len() > 0 {
		var top = d.heap.cursors[0]
		var topRec = top.current()
		if topRec.Binding != out.Binding {
			break
		}
		topKey, err := unpackKey(topRec.KeyPacked)
		if err != nil {
			return nil, false, err
		}
		if CompareKeys(topKey, out.Key) != 0 {
			break
		}

		var next = heap.Pop(d.heap).(*segmentCursor)
		var nextRec = next.current()
		nextValue, err := decodeValue(nextRec.Doc)
		if err != nil {
			return nil, false, err
		}
		if err := foldInto(&out, d.spec.Bindings[out.Binding].Schema, tableEntry{
			meta:  Meta(nextRec.Flags),
			key:   topKey,
			value: nextValue,
		}); err != nil {
			return nil, false, err
		}
		if err := advanceAndRequeue(d.heap, next); err != nil {
			return nil, false, err
		}
	}

	return &out, true, nil
}

func advanceAndRequeue(h *mergeHeap, c *segmentCursor) error {
	if err := c.advance(); err != nil {
		return err
	}
	if !c.exhausted() {
		heap.Push(h, c)
	}
	return nil
}

func foldInto(out *DrainedDoc, schema *reduce.Schema, next tableEntry) error {
	if next.meta.Deleted() {
		out.Deleted = true
		out.Value = nil
	} else {
		merged, assoc, err := reduce.Reduce(schema, out.Value, !out.Deleted, next.value, next.meta.Front())
		if err != nil {
			return err
		}
		out.Value = merged
		out.Associative = out.Associative && assoc
		out.Deleted = false
	}
	out.Reduced = out.Reduced || next.meta.Front()
	return nil
}
