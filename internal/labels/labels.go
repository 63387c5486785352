// Package labels encodes and decodes the logical partition, key-range, and
// r-clock-range identity that anchors journal and shard naming.
package labels

import "strings"

// Label names, stable on the wire (spec.md section 6).
const (
	// Collection is the name of the collection a journal or shard belongs to.
	Collection = "estuary.dev/collection"
	// FieldPrefix prefixes a partition field label, e.g. "estuary.dev/field/region".
	FieldPrefix = "estuary.dev/field/"
	// KeyBegin and KeyEnd bound a shard or journal's owned key range, as 8
	// lowercase-hex characters.
	KeyBegin = "estuary.dev/key-begin"
	KeyEnd   = "estuary.dev/key-end"
	// RClockBegin and RClockEnd bound a shard's owned r-clock range, as 8
	// lowercase-hex characters.
	RClockBegin = "estuary.dev/rclock-begin"
	RClockEnd   = "estuary.dev/rclock-end"
	// TaskType names the kind of task driving a shard.
	TaskType = "estuary.dev/task-type"
	// LogLevel is the configured logging verbosity of a task.
	LogLevel = "estuary.dev/log-level"
	// SplitSource and SplitTarget record shard-split lineage.
	SplitSource = "estuary.dev/split-source"
	SplitTarget = "estuary.dev/split-target"
)

// Task type label values.
const (
	TaskTypeCapture         = "capture"
	TaskTypeDerivation      = "derivation"
	TaskTypeMaterialization = "materialization"
)

// Log level label values.
const (
	LogLevelError = "error"
	LogLevelWarn  = "warn"
	LogLevelInfo  = "info"
	LogLevelDebug = "debug"
	LogLevelTrace = "trace"
	LogLevelOff   = "off"
)

var validLogLevels = map[string]bool{
	LogLevelError: true,
	LogLevelWarn:  true,
	LogLevelInfo:  true,
	LogLevelDebug: true,
	LogLevelTrace: true,
	LogLevelOff:   true,
}

// KeyBeginMin is the special all-zeros key-begin value, which NameSuffix
// renders using the legacy "00" prettification instead of "00000000".
const KeyBeginMin = "00000000"

// IsDataPlaneLabel reports whether |name| is one of the data-plane labels
// that the runtime reads and writes, as opposed to a control-plane label
// that only the catalog/publications pipeline cares about.
func IsDataPlaneLabel(name string) bool {
	switch {
	case strings.HasPrefix(name, FieldPrefix):
		return true
	case name == KeyBegin, name == KeyEnd:
		return true
	case name == RClockBegin, name == RClockEnd:
		return true
	case name == SplitSource, name == SplitTarget:
		return true
	default:
		return false
	}
}
