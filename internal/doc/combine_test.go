package doc

import (
	"os"
	"testing"

	"github.com/estuary/flow-sub009/internal/doc/reduce"
	"github.com/stretchr/testify/require"
)

func sumSchema() CombineSpec {
	return CombineSpec{
		Bindings: []BindingSpec{
			{
				KeyPtrs: []string{"/k"},
				Schema: &reduce.Schema{
					Reduce: &reduce.Annotation{Strategy: reduce.Merge, Associative: true},
					Properties: map[string]*reduce.Schema{
						"v": {Reduce: &reduce.Annotation{Strategy: reduce.Sum, Associative: true}},
					},
				},
			},
		},
	}
}

func parse(t *testing.T, s string) any {
	t.Helper()
	v, err := ParseJSON([]byte(s))
	require.NoError(t, err)
	return v
}

// TestCombineThreeDocsMemOnly exercises the in-memory-only drain path.
func TestCombineThreeDocsMemOnly(t *testing.T) {
	var spec = sumSchema()
	var tmp, err = os.CreateTemp(t.TempDir(), "combine-*")
	require.NoError(t, err)
	defer tmp.Close()

	var acc = NewAccumulator(spec, tmp)
	var mt, merr = acc.MemTable()
	require.NoError(t, merr)

	require.NoError(t, mt.Add(0, parse(t, `{"k":1,"v":3}`), true))
	require.NoError(t, mt.Add(0, parse(t, `{"k":2,"v":7}`), true))
	require.NoError(t, mt.Add(0, parse(t, `{"k":1,"v":4}`), true))

	var drainer, derr = acc.IntoDrainer()
	require.NoError(t, derr)

	var got []DrainedDoc
	for {
		doc, ok, err := drainer.DrainNext()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, *doc)
	}

	require.Len(t, got, 2)
	require.Equal(t, Key{float64(1)}, got[0].Key)
	require.Equal(t, float64(7), got[0].Value.(map[string]any)["v"])
	require.Equal(t, Key{float64(2)}, got[1].Key)
	require.Equal(t, float64(7), got[1].Value.(map[string]any)["v"])
}

// TestCombineAcrossSpill forces a spill between additions and verifies the
// merged drain produces the same reduction as the mem-only path.
func TestCombineAcrossSpill(t *testing.T) {
	var spec = sumSchema()
	var tmp, err = os.CreateTemp(t.TempDir(), "combine-*")
	require.NoError(t, err)
	defer tmp.Close()

	var acc = NewAccumulator(spec, tmp)

	mt, merr := acc.MemTable()
	require.NoError(t, merr)
	require.NoError(t, mt.Add(0, parse(t, `{"k":1,"v":3}`), true))
	require.NoError(t, mt.Add(0, parse(t, `{"k":2,"v":7}`), true))

	require.NoError(t, acc.spillCurrent())

	mt2, merr2 := acc.MemTable()
	require.NoError(t, merr2)
	require.NoError(t, mt2.Add(0, parse(t, `{"k":1,"v":4}`), true))

	drainer, derr := acc.IntoDrainer()
	require.NoError(t, derr)

	var got []DrainedDoc
	for {
		doc, ok, err := drainer.DrainNext()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, *doc)
	}

	require.Len(t, got, 2)
	require.Equal(t, Key{float64(1)}, got[0].Key)
	require.Equal(t, float64(7), got[0].Value.(map[string]any)["v"])
	require.Equal(t, Key{float64(2)}, got[1].Key)
	require.Equal(t, float64(7), got[1].Value.(map[string]any)["v"])
}

// TestCombineDeletedTombstone verifies a tombstone added after a value
// drains as Deleted.
func TestCombineDeletedTombstone(t *testing.T) {
	var spec = sumSchema()
	var tmp, err = os.CreateTemp(t.TempDir(), "combine-*")
	require.NoError(t, err)
	defer tmp.Close()

	var acc = NewAccumulator(spec, tmp)
	mt, merr := acc.MemTable()
	require.NoError(t, merr)
	require.NoError(t, mt.Add(0, parse(t, `{"k":9,"v":1}`), true))
	mt.AddDeleted(0, Key{float64(9)}, true)

	drainer, derr := acc.IntoDrainer()
	require.NoError(t, derr)

	doc, ok, err := drainer.DrainNext()
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, doc.Deleted)

	_, ok, err = drainer.DrainNext()
	require.NoError(t, err)
	require.False(t, ok)
}
