package spill

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSegmentRoundTrip(t *testing.T) {
	var tmp, err = os.CreateTemp(t.TempDir(), "spill-*")
	require.NoError(t, err)
	defer tmp.Close()

	var w = NewWriter(tmp)
	var records = []Record{
		{Binding: 0, Flags: 0, KeyPacked: []byte("k1"), Doc: []byte(`{"k":1,"v":3}`)},
		{Binding: 0, Flags: 0, KeyPacked: []byte("k2"), Doc: []byte(`{"k":2,"v":7}`)},
		{Binding: 1, Flags: 1, KeyPacked: []byte("k1"), Doc: []byte(`{"a":"b"}`)},
	}
	var rng, werr = w.WriteSegment(records)
	require.NoError(t, werr)
	require.Len(t, rng.ChunkOffsets, 1)
	require.Equal(t, 3, rng.Records)

	var r = NewReader(tmp)
	var got, rerr = r.ReadChunk(rng.ChunkOffsets[0])
	require.NoError(t, rerr)
	require.Equal(t, records, got)
}

func TestMultipleChunksWhenOverThreshold(t *testing.T) {
	var tmp, err = os.CreateTemp(t.TempDir(), "spill-*")
	require.NoError(t, err)
	defer tmp.Close()

	var w = NewWriter(tmp)
	var big = make([]byte, ChunkTargetBytes)
	var records []Record
	for i := 0; i < 3; i++ {
		records = append(records, Record{Binding: 0, KeyPacked: []byte{byte(i)}, Doc: big})
	}
	var rng, werr = w.WriteSegment(records)
	require.NoError(t, werr)
	require.Greater(t, len(rng.ChunkOffsets), 1)
	require.Equal(t, 3, rng.Records)
}
