package reduce

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSumStrategy(t *testing.T) {
	var schema = &Schema{Reduce: &Annotation{Strategy: Sum}}

	out, assoc, err := Reduce(schema, float64(3), true, float64(4), false)
	require.NoError(t, err)
	require.True(t, assoc)
	require.Equal(t, float64(7), out)
}

func TestSumTypeMismatch(t *testing.T) {
	var schema = &Schema{Reduce: &Annotation{Strategy: Sum}}
	var _, _, err = Reduce(schema, float64(3), true, "not-a-number", false)
	require.Error(t, err)
	var mismatch *TypeMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, Sum, mismatch.Strategy)
}

func TestLastWriteWinsIsDefault(t *testing.T) {
	out, assoc, err := Reduce(nil, "lhs", true, "rhs", false)
	require.NoError(t, err)
	require.True(t, assoc)
	require.Equal(t, "rhs", out)
}

func TestFirstWriteWinsNotAssociative(t *testing.T) {
	var schema = &Schema{Reduce: &Annotation{Strategy: FirstWriteWins}}
	out, assoc, err := Reduce(schema, "lhs", true, "rhs", false)
	require.NoError(t, err)
	require.False(t, assoc)
	require.Equal(t, "lhs", out)
}

func TestAppendStrategy(t *testing.T) {
	var schema = &Schema{Reduce: &Annotation{Strategy: Append}}
	out, _, err := Reduce(schema, []any{"a"}, true, []any{"b", "c"}, false)
	require.NoError(t, err)
	require.Equal(t, []any{"a", "b", "c"}, out)
}

// TestMergeWithNestedSum mirrors spec.md section 8, scenario 1: merge
// of {k,v} objects where v reduces by sum.
func TestMergeWithNestedSum(t *testing.T) {
	var schema = &Schema{
		Reduce: &Annotation{Strategy: Merge},
		Properties: map[string]*Schema{
			"v": {Reduce: &Annotation{Strategy: Sum}},
		},
	}

	var lhs any = map[string]any{"k": float64(1), "v": float64(3)}
	var rhs any = map[string]any{"k": float64(1), "v": float64(4)}

	out, _, err := Reduce(schema, lhs, true, rhs, false)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"k": float64(1), "v": float64(7)}, out)
}

func TestSetAddRemove(t *testing.T) {
	var schema = &Schema{Reduce: &Annotation{Strategy: Set}}

	lhs, _, err := Reduce(schema, nil, false, []any{"a", "b"}, false)
	require.NoError(t, err)

	lhs, _, err = Reduce(schema, lhs, true,
		map[string]any{"add": []any{"c"}, "remove": []any{"a"}}, false)
	require.NoError(t, err)
	require.ElementsMatch(t, []any{"b", "c"}, lhs)
}

func TestJSONPointerRecursesStructurally(t *testing.T) {
	var schema = &Schema{Reduce: &Annotation{Strategy: JSONPointer}}
	var lhs any = map[string]any{"a": "1"}
	var rhs any = map[string]any{"b": "2"}
	out, _, err := Reduce(schema, lhs, true, rhs, false)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": "1", "b": "2"}, out)
}
