package ops

import (
	"bytes"
	"fmt"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
)

var (
	traceColor = color.New(color.FgHiBlack).SprintFunc()
	debugColor = color.New(color.FgCyan).SprintFunc()
	infoColor  = color.New(color.FgGreen).SprintFunc()
	warnColor  = color.New(color.FgYellow).SprintFunc()
	errorColor = color.New(color.FgRed).SprintFunc()
)

// ConsoleFormatter is a logrus.Formatter that colorizes the level tag the
// way flowctl's own test-runner output does (green/yellow/red SprintFunc),
// for local/interactive use of LocalPublisher.
type ConsoleFormatter struct{}

var _ log.Formatter = ConsoleFormatter{}

func (ConsoleFormatter) Format(e *log.Entry) ([]byte, error) {
	var tag string
	switch e.Level {
	case log.TraceLevel:
		tag = traceColor("TRACE")
	case log.DebugLevel:
		tag = debugColor("DEBUG")
	case log.InfoLevel:
		tag = infoColor("INFO")
	case log.WarnLevel:
		tag = warnColor("WARN")
	default:
		tag = errorColor("ERROR")
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s", tag, e.Message)
	for k, v := range e.Data {
		fmt.Fprintf(&buf, " %s=%v", k, v)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
