package labels

import (
	"fmt"

	pb "go.gazette.dev/core/broker/protocol"
)

// ShardLabeling is a parsed and validated representation of the labels
// attached to a shard, which the runtime reads to drive its behavior.
type ShardLabeling struct {
	// Range is the key and r-clock range owned by this shard.
	Range RangeSpec
	// LogLevel is the configured logging verbosity.
	LogLevel string
	// TaskType is one of TaskTypeCapture, TaskTypeDerivation, TaskTypeMaterialization.
	TaskType string
	// SplitSource, if non-empty, is the shard this one is splitting from.
	SplitSource string
	// SplitTarget, if non-empty, is the shard this one is splitting into.
	SplitTarget string
}

// EncodeLabeling encodes |l| into |set|, which is returned.
func EncodeLabeling(l ShardLabeling, set pb.LabelSet) pb.LabelSet {
	set = EncodeRange(l.Range, set)
	set.SetValue(LogLevel, l.LogLevel)
	set.SetValue(TaskType, l.TaskType)
	if l.SplitSource != "" {
		set.SetValue(SplitSource, l.SplitSource)
	}
	if l.SplitTarget != "" {
		set.SetValue(SplitTarget, l.SplitTarget)
	}
	return set
}

// EncodeRange encodes a RangeSpec into |set|, which is returned.
func EncodeRange(r RangeSpec, set pb.LabelSet) pb.LabelSet {
	set = EncodeKeyRange(r.KeyBegin, r.KeyEnd, set)
	set = EncodeRClockRange(r.RClockBegin, r.RClockEnd, set)
	return set
}

// DecodeLabeling parses and validates a ShardLabeling from |set|. It fails
// if required labels are missing or duplicated, key/rclock values are not
// exactly 8 lowercase-hex characters, both split-source and split-target
// are set, or the log-level or task-type is unknown.
func DecodeLabeling(set pb.LabelSet) (ShardLabeling, error) {
	var out ShardLabeling
	var err error

	if out.LogLevel, err = ExpectOne(set, LogLevel); err != nil {
		return out, err
	}
	if !validLogLevels[out.LogLevel] {
		return out, fmt.Errorf("%q is not a valid log level", out.LogLevel)
	}

	var kb, ke, err1 = DecodeKeyRange(set)
	if err1 != nil {
		return out, err1
	}
	var cb, ce, err2 = DecodeRClockRange(set)
	if err2 != nil {
		return out, err2
	}
	out.Range = RangeSpec{KeyBegin: kb, KeyEnd: ke, RClockBegin: cb, RClockEnd: ce}
	if err = out.Range.Validate(); err != nil {
		return out, err
	}

	if out.SplitSource, err = maybeOne(set, SplitSource); err != nil {
		return out, err
	}
	if out.SplitTarget, err = maybeOne(set, SplitTarget); err != nil {
		return out, err
	}
	if out.SplitSource != "" && out.SplitTarget != "" {
		return out, fmt.Errorf(
			"both split-source %q and split-target %q are set but shouldn't be",
			out.SplitSource, out.SplitTarget)
	}

	if out.TaskType, err = ExpectOne(set, TaskType); err != nil {
		return out, err
	}
	switch out.TaskType {
	case TaskTypeCapture, TaskTypeDerivation, TaskTypeMaterialization:
		// Pass.
	default:
		return out, fmt.Errorf("unknown task type %q", out.TaskType)
	}

	return out, nil
}

// ExpectOne extracts label |name| from |set|, which must have exactly one
// non-empty value.
func ExpectOne(set pb.LabelSet, name string) (string, error) {
	var v = set.ValuesOf(name)
	if len(v) != 1 {
		return "", fmt.Errorf("expected exactly one label for %q (got %v)", name, v)
	}
	if len(v[0]) == 0 {
		return "", fmt.Errorf("label %q value is empty but shouldn't be", name)
	}
	return v[0], nil
}

func maybeOne(set pb.LabelSet, name string) (string, error) {
	var v = set.ValuesOf(name)
	switch {
	case len(v) > 1:
		return "", fmt.Errorf("expected at most one label for %q (got %v)", name, v)
	case len(v) == 0:
		return "", nil
	case len(v[0]) == 0:
		return "", fmt.Errorf("label %q value is empty but shouldn't be", name)
	default:
		return v[0], nil
	}
}
