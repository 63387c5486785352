package ops

import (
	"bytes"
	"encoding/json"
	"io"

	log "github.com/sirupsen/logrus"
)

// maxLogSize is the maximum allowable length of a single log line this
// adapter will try to parse; a longer sequence without a newline is
// discarded rather than buffered without bound.
const maxLogSize = 1 << 20 // 1MB.

// NewLogWriteAdapter returns an io.Writer into which canonical
// newline-delimited, JSON-encoded Logs may be written -- the shape a
// connector subprocess's own stderr framing uses (spec.md section 4.3).
// As each line is written it's parsed and dispatched to publisher. Read
// logs are not expected to carry a Shard field; this adapter attaches one
// from publisher's own labeling.
func NewLogWriteAdapter(publisher Publisher) io.Writer {
	return &logWriteAdapter{
		publisher: publisher,
		shard:     NewShardRef(publisher.TaskName(), publisher.Labels()),
	}
}

type logWriteAdapter struct {
	publisher Publisher
	shard     ShardRef
	rem       []byte
}

func (o *logWriteAdapter) Write(p []byte) (int, error) {
	var n = len(p)

	for {
		var newlineIndex = bytes.IndexByte(p, '\n')
		if newlineIndex < 0 {
			break
		}
		var line = p[:newlineIndex]
		if len(o.rem) > 0 {
			line = append(o.rem, line...)
		}

		var entry Log
		if err := json.Unmarshal(line, &entry); err != nil {
			log.WithFields(log.Fields{
				"error": err,
				"line":  string(line),
			}).Error("failed to unmarshal operations log")
		} else {
			entry.Shard = o.shard
			if len(entry.Fields) == 0 {
				entry.Fields = json.RawMessage("{}")
			}
			o.publisher.PublishLog(entry)
		}

		p = p[newlineIndex+1:]
		o.rem = o.rem[:0]
	}

	if len(o.rem)+len(p) > maxLogSize {
		log.WithField("length", len(o.rem)+len(p)).Error("operations log line is too long (discarding)")
		o.rem = o.rem[:0]
	} else if len(p) > 0 {
		o.rem = append(o.rem, p...)
	}

	return n, nil
}
