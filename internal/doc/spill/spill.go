// Package spill implements the on-disk sorted-run codec that a combiner's
// memtable is written through once its arena crosses the spill threshold
// (spec.md section 3/4.2): records are grouped into segments, each segment
// streamed as varint-length-prefixed entries into LZ4-compressed chunks
// capped at roughly 256KB, with an in-memory range table recording chunk
// offsets per segment so a later merge can seek directly to any segment's
// first chunk.
package spill

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/lz4"
)

// ChunkTargetBytes is the approximate uncompressed size of one spill chunk,
// per spec.md section 3 ("~256 KB").
const ChunkTargetBytes = 256 * 1024

// Record is one (binding, key_packed, doc) entry written to a segment,
// encoded as a 4-byte big-endian binding, one flags byte, and then the
// varint-length-prefixed KeyPacked and Doc. KeyPacked and Doc are opaque
// byte strings to the spill codec;
// callers (the memtable/drainer) are responsible for their encoding.
type Record struct {
	Binding   int
	Flags     byte
	KeyPacked []byte
	Doc       []byte
}

// Writer appends segments to a single spill file shared by a combiner's
// Accumulator/Drainer chain. Each call to WriteSegment produces one sorted
// run; the returned SegmentRange records where to find it again.
type Writer struct {
	file *os.File
	off  int64
}

// NewWriter wraps tmp for segment writing. The Accumulator owns tmp's
// lifetime; Writer never closes it.
func NewWriter(tmp *os.File) *Writer {
	return &Writer{file: tmp}
}

// SegmentRange locates one segment's chunks within the spill file.
type SegmentRange struct {
	// ChunkOffsets are byte offsets of each compressed chunk within the
	// spill file, in file order.
	ChunkOffsets []int64
	// Records is the total number of records across all chunks of this
	// segment, used to size merge-heap bookkeeping.
	Records int
}

// WriteSegment writes records (assumed already sorted by the caller) as a
// sequence of LZ4-compressed, length-prefixed chunks, returning the
// resulting SegmentRange.
func (w *Writer) WriteSegment(records []Record) (SegmentRange, error) {
	var rng SegmentRange
	var i = 0
	for i < len(records) {
		var buf = make([]byte, 0, ChunkTargetBytes)
		var n = 0
		for i < len(records) && len(buf) < ChunkTargetBytes {
			buf = appendRecord(buf, records[i])
			i++
			n++
		}

		var compressed, err = compressChunk(buf)
		if err != nil {
			return rng, fmt.Errorf("compressing spill chunk: %w", err)
		}

		var header [12]byte
		binary.BigEndian.PutUint64(header[0:8], uint64(len(compressed)))
		binary.BigEndian.PutUint32(header[8:12], uint32(n))

		rng.ChunkOffsets = append(rng.ChunkOffsets, w.off)
		if _, err := w.file.WriteAt(header[:], w.off); err != nil {
			return rng, fmt.Errorf("writing spill chunk header: %w", err)
		}
		if _, err := w.file.WriteAt(compressed, w.off+int64(len(header))); err != nil {
			return rng, fmt.Errorf("writing spill chunk body: %w", err)
		}
		w.off += int64(len(header)) + int64(len(compressed))
		rng.Records += n
	}
	return rng, nil
}

func appendRecord(buf []byte, r Record) []byte {
	var head [5]byte
	binary.BigEndian.PutUint32(head[0:4], uint32(r.Binding))
	head[4] = r.Flags
	buf = append(buf, head[:]...)
	buf = appendVarintBytes(buf, r.KeyPacked)
	buf = appendVarintBytes(buf, r.Doc)
	return buf
}

func appendVarintBytes(buf []byte, b []byte) []byte {
	var lenBuf [binary.MaxVarintLen64]byte
	var n = binary.PutUvarint(lenBuf[:], uint64(len(b)))
	buf = append(buf, lenBuf[:n]...)
	buf = append(buf, b...)
	return buf
}

func compressChunk(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	var zw = lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Reader reads back chunks previously written by Writer.
type Reader struct {
	file *os.File
}

// NewReader wraps tmp for reading spilled chunks back.
func NewReader(tmp *os.File) *Reader {
	return &Reader{file: tmp}
}

// ReadChunk reads and decompresses the chunk at the given file offset,
// returning its decoded records. Chunk offsets come from the
// SegmentRange.ChunkOffsets that WriteSegment returned.
func (r *Reader) ReadChunk(offset int64) ([]Record, error) {
	var header [12]byte
	if _, err := r.file.ReadAt(header[:], offset); err != nil {
		return nil, fmt.Errorf("reading spill chunk header: %w", err)
	}
	var compressedLen = binary.BigEndian.Uint64(header[0:8])
	var count = binary.BigEndian.Uint32(header[8:12])

	var compressed = make([]byte, compressedLen)
	if _, err := r.file.ReadAt(compressed, offset+int64(len(header))); err != nil {
		return nil, fmt.Errorf("reading spill chunk body: %w", err)
	}

	var zr = lz4.NewReader(bytes.NewReader(compressed))
	var raw, err = io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompressing spill chunk: %w", err)
	}

	var records = make([]Record, 0, count)
	var pos = 0
	for uint32(len(records)) < count {
		if pos+5 > len(raw) {
			return nil, fmt.Errorf("corrupt spill chunk: truncated record header")
		}
		var binding = int(binary.BigEndian.Uint32(raw[pos : pos+4]))
		var flags = raw[pos+4]
		pos += 5

		key, n, err := readVarintBytes(raw, pos)
		if err != nil {
			return nil, err
		}
		pos = n

		docBytes, n2, err := readVarintBytes(raw, pos)
		if err != nil {
			return nil, err
		}
		pos = n2

		records = append(records, Record{Binding: binding, Flags: flags, KeyPacked: key, Doc: docBytes})
	}
	return records, nil
}

func readVarintBytes(raw []byte, pos int) ([]byte, int, error) {
	var length, n = binary.Uvarint(raw[pos:])
	if n <= 0 {
		return nil, 0, fmt.Errorf("corrupt spill chunk: invalid varint length")
	}
	pos += n
	if pos+int(length) > len(raw) {
		return nil, 0, fmt.Errorf("corrupt spill chunk: truncated payload")
	}
	return raw[pos : pos+int(length)], pos + int(length), nil
}
