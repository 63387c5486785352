package doc

import (
	"encoding/json"
	"fmt"

	"github.com/estuary/flow-sub009/internal/doc/spill"
)

// packKey serializes an extracted Key as a JSON array. The bytes are not
// order-preserving (byte-wise, [10] sorts before [9]), so spilled segments
// are merged by decoding KeyPacked and calling CompareKeys again, never by
// comparing KeyPacked bytes directly.
func packKey(k Key) []byte {
	b, err := json.Marshal([]any(k))
	if err != nil {
		// Keys are always built from already-decoded JSON values, so this
		// cannot fail in practice.
		panic(fmt.Sprintf("packing combiner key: %v", err))
	}
	return b
}

func unpackKey(b []byte) (Key, error) {
	var k Key
	if err := json.Unmarshal(b, &k); err != nil {
		return nil, fmt.Errorf("unpacking combiner key: %w", err)
	}
	return k, nil
}

func encodeValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding combiner document: %w", err)
	}
	return b, nil
}

func decodeValue(b []byte) (any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("decoding combiner document: %w", err)
	}
	return v, nil
}

// segmentCursor walks one spilled segment's chunks in order, yielding its
// records one at a time for the merge heap.
type segmentCursor struct {
	reader       *spill.Reader
	chunkOffsets []int64
	chunkIdx     int
	records      []spill.Record
	pos          int
}

func (c *segmentCursor) advance() error {
	c.pos++
	for c.pos >= len(c.records) {
		if c.chunkIdx >= len(c.chunkOffsets) {
			c.records = nil
			return nil
		}
		var recs, err = c.reader.ReadChunk(c.chunkOffsets[c.chunkIdx])
		if err != nil {
			return fmt.Errorf("reading spill chunk: %w", err)
		}
		c.chunkIdx++
		c.records = recs
		c.pos = 0
	}
	return nil
}

func (c *segmentCursor) exhausted() bool {
	return c.pos >= len(c.records)
}

func (c *segmentCursor) current() spill.Record {
	return c.records[c.pos]
}

// mergeHeap is a container/heap.Interface over a set of segment cursors,
// ordered by (binding, unpacked key) so the drainer can pop entries in
// global sorted order across all spilled segments.
type mergeHeap struct {
	cursors []*segmentCursor
	keys    []Key
}

func (h *mergeHeap) Len() int { return len(h.cursors) }

func (h *mergeHeap) keyFor(i int) Key {
	for len(h.keys) <= i {
		h.keys = append(h.keys, nil)
	}
	if h.keys[i] == nil {
		k, err := unpackKey(h.cursors[i].current().KeyPacked)
		if err != nil {
			panic(err)
		}
		h.keys[i] = k
	}
	return h.keys[i]
}

func (h *mergeHeap) Less(i, j int) bool {
	var bi, bj = h.cursors[i].current().Binding, h.cursors[j].current().Binding
	if bi != bj {
		return bi < bj
	}
	return CompareKeys(h.keyFor(i), h.keyFor(j)) < 0
}

func (h *mergeHeap) Swap(i, j int) {
	h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i]
	if len(h.keys) > i && len(h.keys) > j {
		h.keys[i], h.keys[j] = h.keys[j], h.keys[i]
	}
}

func (h *mergeHeap) Push(x any) {
	h.cursors = append(h.cursors, x.(*segmentCursor))
	h.keys = append(h.keys, nil)
}

func (h *mergeHeap) Pop() any {
	var n = len(h.cursors)
	var c = h.cursors[n-1]
	h.cursors = h.cursors[:n-1]
	if len(h.keys) == n {
		h.keys = h.keys[:n-1]
	}
	return c
}
