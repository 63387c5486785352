package ops

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/estuary/flow-sub009/internal/labels"
)

// LocalPublisher publishes ops Logs to the local process's own logrus
// standard logger. It does not color output itself; level tags are
// colorized only when that logger's formatter is a ConsoleFormatter.
type LocalPublisher struct {
	taskName string
	labeling labels.ShardLabeling
}

var _ Publisher = (*LocalPublisher)(nil)

// NewLocalPublisher builds a LocalPublisher for taskName and labeling. If
// labeling.LogLevel is empty, the current logrus standard logger level is
// used instead.
func NewLocalPublisher(taskName string, labeling labels.ShardLabeling) *LocalPublisher {
	if labeling.LogLevel == "" {
		labeling.LogLevel = logrusLevelName(log.StandardLogger().Level)
	}
	return &LocalPublisher{taskName: taskName, labeling: labeling}
}

func (p *LocalPublisher) TaskName() string            { return p.taskName }
func (p *LocalPublisher) Labels() labels.ShardLabeling { return p.labeling }

func (p *LocalPublisher) PublishLog(entry Log) {
	var level = logrusLevel(entry.Level)

	var fields log.Fields
	if len(entry.Fields) != 0 {
		if err := json.Unmarshal(entry.Fields, &fields); err != nil {
			log.WithFields(log.Fields{
				"error":  err,
				"fields": string(entry.Fields),
			}).Error("failed to unmarshal log fields")
		}
	}

	log.WithFields(fields).WithField("shard", entry.Shard.Name).Log(level, entry.Message)
}

func logrusLevel(level string) log.Level {
	switch level {
	case labels.LogLevelTrace:
		return log.TraceLevel
	case labels.LogLevelDebug:
		return log.DebugLevel
	case labels.LogLevelInfo:
		return log.InfoLevel
	case labels.LogLevelWarn:
		return log.WarnLevel
	default:
		return log.ErrorLevel
	}
}

func logrusLevelName(level log.Level) string {
	switch level {
	case log.TraceLevel:
		return labels.LogLevelTrace
	case log.DebugLevel:
		return labels.LogLevelDebug
	case log.InfoLevel:
		return labels.LogLevelInfo
	case log.WarnLevel:
		return labels.LogLevelWarn
	default:
		return labels.LogLevelError
	}
}
