package labels

import (
	"testing"

	"github.com/stretchr/testify/require"
	pb "go.gazette.dev/core/broker/protocol"
)

func TestShardLabelingRoundTrip(t *testing.T) {
	var l = ShardLabeling{
		Range: RangeSpec{
			KeyBegin: 0xaaaaaaaa, KeyEnd: 0xbbbbbbbb,
			RClockBegin: 0xcccccccc, RClockEnd: 0xdddddddd,
		},
		LogLevel:    LogLevelDebug,
		TaskType:    TaskTypeCapture,
		SplitSource: "a-source",
	}
	var set = EncodeLabeling(l, pb.LabelSet{})

	var out, err = DecodeLabeling(set)
	require.NoError(t, err)
	require.Equal(t, l, out)
}

func TestShardLabelingInvalidLogLevel(t *testing.T) {
	var set = EncodeLabeling(ShardLabeling{
		Range:    RangeSpec{KeyBegin: 1, KeyEnd: 2, RClockBegin: 1, RClockEnd: 2},
		LogLevel: "whoops",
		TaskType: TaskTypeCapture,
	}, pb.LabelSet{})

	var _, err = DecodeLabeling(set)
	require.EqualError(t, err, `"whoops" is not a valid log level`)
}

func TestShardLabelingBothSplitsSet(t *testing.T) {
	var set = EncodeLabeling(ShardLabeling{
		Range:       RangeSpec{KeyBegin: 1, KeyEnd: 2, RClockBegin: 1, RClockEnd: 2},
		LogLevel:    LogLevelInfo,
		TaskType:    TaskTypeDerivation,
		SplitSource: "a-source",
		SplitTarget: "a-target",
	}, pb.LabelSet{})

	var _, err = DecodeLabeling(set)
	require.EqualError(t, err,
		`both split-source "a-source" and split-target "a-target" are set but shouldn't be`)
}

func TestShardLabelingUnknownTaskType(t *testing.T) {
	var set = EncodeLabeling(ShardLabeling{
		Range:    RangeSpec{KeyBegin: 1, KeyEnd: 2, RClockBegin: 1, RClockEnd: 2},
		LogLevel: LogLevelInfo,
		TaskType: "whoops",
	}, pb.LabelSet{})

	var _, err = DecodeLabeling(set)
	require.EqualError(t, err, `unknown task type "whoops"`)
}

func TestShardLabelingMissingRequired(t *testing.T) {
	var _, err = DecodeLabeling(pb.LabelSet{})
	require.Error(t, err)
}

func TestShardLabelingNonHexRange(t *testing.T) {
	var set = pb.MustLabelSet(
		LogLevel, LogLevelInfo,
		TaskType, TaskTypeCapture,
		KeyBegin, "zz",
		KeyEnd, "bbbbbbbb",
		RClockBegin, "cccccccc",
		RClockEnd, "dddddddd",
	)
	var _, err = DecodeLabeling(set)
	require.Error(t, err)
}
