// Package taxonomy defines the uniform error kinds the runtime session
// machines surface, per spec.md section 7. Each variant carries the
// offending shard and, where relevant, a document or connector message
// for diagnosis.
package taxonomy

import "fmt"

// ProtocolViolation is a non-recoverable wrong/missing message kind
// error.
type ProtocolViolation struct {
	Shard    string
	Expected string
	Got      string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("shard %s: protocol violation: expected %s, got %s", e.Shard, e.Expected, e.Got)
}

// SchemaValidationFailed rejects a single document; the session still
// fails.
type SchemaValidationFailed struct {
	Shard      string
	Collection string
	Detail     string
}

func (e *SchemaValidationFailed) Error() string {
	return fmt.Sprintf("shard %s: schema validation failed for collection %s: %s", e.Shard, e.Collection, e.Detail)
}

// ReductionFailed names the location and both sides of a failed reduce.
type ReductionFailed struct {
	Shard   string
	Pointer string
	LHS, RHS any
}

func (e *ReductionFailed) Error() string {
	return fmt.Sprintf("shard %s: reduction failed at %s (lhs=%#v, rhs=%#v)", e.Shard, e.Pointer, e.LHS, e.RHS)
}

// TransportTimeout names the timed-out resource and the limit that was
// exceeded; the session driver retries.
type TransportTimeout struct {
	Shard    string
	Resource string
	Limit    string
}

func (e *TransportTimeout) Error() string {
	return fmt.Sprintf("shard %s: transport timeout on %s (limit %s)", e.Shard, e.Resource, e.Limit)
}

// ConnectorExited wraps a non-zero connector exit with its stderr tail;
// the session driver retries.
type ConnectorExited struct {
	Shard      string
	ExitCode   int
	StderrTail string
}

func (e *ConnectorExited) Error() string {
	return fmt.Sprintf("shard %s: connector exited with code %d: %s", e.Shard, e.ExitCode, e.StderrTail)
}

// StateStoreIO is fatal to the session; the shard driver restarts and
// replays from the last durable checkpoint.
type StateStoreIO struct {
	Shard string
	Cause error
}

func (e *StateStoreIO) Error() string {
	return fmt.Sprintf("shard %s: state store IO error: %v", e.Shard, e.Cause)
}

func (e *StateStoreIO) Unwrap() error { return e.Cause }

// HeartbeatLost is fatal to one automations poll; the poll is cancelled
// without committing and another worker picks up the task.
type HeartbeatLost struct {
	TaskID string
}

func (e *HeartbeatLost) Error() string {
	return fmt.Sprintf("task %s: heartbeat lost, poll cancelled", e.TaskID)
}
