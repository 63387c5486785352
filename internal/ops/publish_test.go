package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/flow-sub009/internal/labels"
)

func TestLogPublishing(t *testing.T) {
	var publisher = &appendPublisher{}

	PublishLog(publisher, labels.LogLevelInfo,
		"the log message",
		"an-int", 42,
		"a-float", 3.14159,
		"a-str", "the string",
		"nested", map[string]interface{}{
			"one": 1,
			"two": 2,
		},
		"error", fmt.Errorf("failed to frobulate: %w",
			fmt.Errorf("squince doesn't look ship-shape")),
		"cancelled", context.Canceled,
	)
	PublishLog(publisher, labels.LogLevelTrace, "my trace level is filtered out")

	require.Len(t, publisher.logs, 1)
	require.Equal(t, Log{
		Timestamp: publisher.logs[0].Timestamp,
		Level:     labels.LogLevelInfo,
		Message:   "the log message",
		Fields: json.RawMessage(`{"a-float":3.14159,` +
			`"a-str":"the string",` +
			`"an-int":42,` +
			`"cancelled":"context canceled",` +
			`"error":"failed to frobulate: squince doesn't look ship-shape",` +
			`"nested":{"one":1,"two":2}}`),
		Shard: ShardRef{
			Name:        "task/name",
			Kind:        "capture",
			KeyBegin:    "00001111",
			RClockBegin: "00003333",
		},
	}, publisher.logs[0])
}
