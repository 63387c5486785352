// Package ops adapts the runtime's internal logrus logging into the
// structured per-task log records a supervising data plane collects,
// grounded on estuary-flow's go/ops package.
package ops

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/estuary/flow-sub009/internal/labels"
)

// Log is the canonical shape of an operations log record. See also
// spec.md section 6's ops-log document shape.
type Log struct {
	Meta struct {
		UUID string `json:"uuid"`
	} `json:"_meta"`
	Timestamp time.Time       `json:"ts"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Fields    json.RawMessage `json:"fields,omitempty"`
	Shard     ShardRef        `json:"shard,omitempty"`
	Spans     []Log           `json:"spans,omitempty"`
}

// ShardRef identifies the task shard that produced a Log or Stats record.
type ShardRef struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	KeyBegin    string `json:"keyBegin"`
	RClockBegin string `json:"rClockBegin"`
}

// NewShardRef builds a ShardRef from a task name and its shard labeling.
// taskName is carried separately from labels.ShardLabeling because the
// wire label set (spec.md section 6) has no task-name label of its own --
// the task name instead comes from the shard ID a labeling was decoded
// alongside.
func NewShardRef(taskName string, l labels.ShardLabeling) ShardRef {
	return ShardRef{
		Name:        taskName,
		Kind:        l.TaskType,
		KeyBegin:    fmt.Sprintf("%08x", l.Range.KeyBegin),
		RClockBegin: fmt.Sprintf("%08x", l.Range.RClockBegin),
	}
}

// logLevelRank orders log levels from least to most verbose, so a
// configured level can be compared against a candidate message's level.
var logLevelRank = map[string]int{
	labels.LogLevelOff:   0,
	labels.LogLevelError: 1,
	labels.LogLevelWarn:  2,
	labels.LogLevelInfo:  3,
	labels.LogLevelDebug: 4,
	labels.LogLevelTrace: 5,
}
