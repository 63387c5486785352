package ops

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/estuary/flow-sub009/internal/labels"
)

// Publisher emits operation Logs on behalf of a single task shard.
type Publisher interface {
	// PublishLog publishes a Log instance.
	PublishLog(Log)
	// TaskName is the task this Publisher logs on behalf of.
	TaskName() string
	// Labels are the shard labeling context of this Publisher.
	Labels() labels.ShardLabeling
}

// PublishLog constructs and publishes a Log through publisher, dropping it
// if level is more verbose than the publisher's configured LogLevel.
// Fields must be pairs of a string key followed by a JSON-encodable value.
// PublishLog panics if fields are odd, a key isn't a string, or a value
// cannot be JSON-encoded -- these are implementation errors, not user or
// input errors.
func PublishLog(publisher Publisher, level string, message string, fields ...interface{}) {
	if logLevelRank[publisher.Labels().LogLevel] < logLevelRank[level] {
		return
	}
	if len(fields)%2 != 0 {
		panic(fmt.Sprintf("fields must be of even length: %#v", fields))
	}

	var m = make(map[string]interface{}, len(fields)/2)
	for i := 0; i != len(fields); i += 2 {
		var key = fields[i].(string)
		var value = fields[i+1]

		if err, ok := value.(error); ok {
			value = err.Error()
		}
		m[key] = value
	}

	fieldsRaw, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}

	publisher.PublishLog(Log{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		Fields:    json.RawMessage(fieldsRaw),
		Shard:     NewShardRef(publisher.TaskName(), publisher.Labels()),
	})
}
