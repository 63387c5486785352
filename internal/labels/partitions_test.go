package labels

import (
	"testing"

	"github.com/stretchr/testify/require"
	pb "go.gazette.dev/core/broker/protocol"
)

func TestFieldValueRoundTrip(t *testing.T) {
	for _, v := range []any{
		nil, true, false,
		int64(-1234), uint64(1234), uint64(0),
		"hello world", "Ba+z!", "bye! \U0001F44B", "a~b",
	} {
		var enc = string(EncodeFieldValue(nil, v))
		var dec, err = DecodeFieldValue(enc)
		require.NoError(t, err)
		require.Equal(t, v, dec)
	}
}

func TestFieldValueEncodings(t *testing.T) {
	require.Equal(t, "%_null", string(EncodeFieldValue(nil, nil)))
	require.Equal(t, "%_true", string(EncodeFieldValue(nil, true)))
	require.Equal(t, "%_false", string(EncodeFieldValue(nil, false)))
	require.Equal(t, "%_-123", string(EncodeFieldValue(nil, int64(-123))))
	require.Equal(t, "%_123", string(EncodeFieldValue(nil, uint64(123))))
	require.Equal(t, "Ba%2Bz%21", string(EncodeFieldValue(nil, "Ba+z!")))
	require.Equal(t, "bye%21%20%F0%9F%91%8B", string(EncodeFieldValue(nil, "bye! \U0001F44B")))
	// `~` must be percent-encoded too: it's left unescaped by net/url's
	// query-escaping but is not in the retained `-_.` set.
	require.Equal(t, "a%7Eb", string(EncodeFieldValue(nil, "a~b")))
}

func TestFieldValueInvalidPanics(t *testing.T) {
	require.Panics(t, func() { EncodeFieldValue(nil, 3.14) })
	require.Panics(t, func() { EncodeFieldValue(nil, []byte("x")) })
}

// TestPartitionLabelingScenario is the worked example from spec.md section 8,
// scenario 2.
func TestPartitionLabelingScenario(t *testing.T) {
	var fields = []string{"Loo", "bar", "foo", "z"}
	var values = []any{"Ba+z!", int64(-123), true, "bye! \U0001F44B"}

	var set = EncodeFieldRange(0x12341234, 0x56785678, fields, values, pb.LabelSet{})

	var suffix, err = NameSuffix(set)
	require.NoError(t, err)
	require.Equal(t,
		"Loo=Ba%2Bz%21/bar=%_-123/foo=%_true/z=bye%21%20%F0%9F%91%8B/pivot=12341234",
		suffix)

	var gotValues, keyBegin, keyEnd, derr = DecodeFieldRange(fields, set)
	require.NoError(t, derr)
	require.Equal(t, values, gotValues)
	require.Equal(t, uint32(0x12341234), keyBegin)
	require.Equal(t, uint32(0x56785678), keyEnd)
}

func TestNameSuffixKeyBeginMinPrettified(t *testing.T) {
	var set = EncodeFieldRange(0, 0x10, nil, nil, pb.LabelSet{})
	var suffix, err = NameSuffix(set)
	require.NoError(t, err)
	require.Equal(t, "pivot=00", suffix)
}

func TestIDSuffixScenario(t *testing.T) {
	// spec.md section 8, scenario 3.
	var set = EncodeKeyRange(0x00000100, 0x10000000, pb.LabelSet{})
	set = EncodeRClockRange(0x00000000, 0x10000000, set)

	var suffix, err = IDSuffix(set)
	require.NoError(t, err)
	require.Equal(t, "00000100-00000000", suffix)
}

func TestIsDataPlaneLabel(t *testing.T) {
	require.True(t, IsDataPlaneLabel(FieldPrefix+"region"))
	require.True(t, IsDataPlaneLabel(KeyBegin))
	require.True(t, IsDataPlaneLabel(KeyEnd))
	require.True(t, IsDataPlaneLabel(RClockBegin))
	require.True(t, IsDataPlaneLabel(RClockEnd))
	require.True(t, IsDataPlaneLabel(SplitSource))
	require.True(t, IsDataPlaneLabel(SplitTarget))
	require.False(t, IsDataPlaneLabel(TaskType))
	require.False(t, IsDataPlaneLabel(LogLevel))
	require.False(t, IsDataPlaneLabel(Collection))
}
