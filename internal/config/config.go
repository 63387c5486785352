// Package config resolves the shard driver's flag/environment-configured
// tunables: the connector-response and transaction long-poll timeouts of
// spec.md section 4.4/5 (the dial-proxy timeout is the fixed
// connector.DialProxyTimeout) and the combiner /
// schema-complexity thresholds of section 3-4.2, grounded on the
// `long`/`env`/`default`-tagged flag structs used throughout
// go/runtime/flow_consumer.go and parsed with go-flags the way
// flowctl-go's commands are.
package config

import (
	"time"

	"github.com/estuary/flow-sub009/internal/connector"
	"github.com/estuary/flow-sub009/internal/doc"
	"github.com/estuary/flow-sub009/internal/doc/shape"
	"github.com/estuary/flow-sub009/internal/runtime"
)

// RuntimeConfig is the shard driver's resolved configuration, populated
// by go-flags from CLI flags and FLOW_-prefixed environment variables
// and then handed to session/transport constructors as plain values --
// nothing downstream re-reads the environment itself.
type RuntimeConfig struct {
	Flow struct {
		// ConnectorTimeout bounds each individual connector response
		// (spec.md section 4.4 step 4). Dial-proxy's own timeout is
		// fixed at connector.DialProxyTimeout and isn't configurable,
		// matching the teacher's "dial timeout is fixed" language.
		ConnectorTimeout time.Duration `long:"connector-timeout" env:"CONNECTOR_TIMEOUT" default:"300s" description:"Maximum time to wait for a single connector response"`
		// TransactionLongPoll bounds how long a transaction waits
		// after its first checkpoint before becoming Ready regardless
		// of byte volume (spec.md section 4.5.1).
		TransactionLongPoll time.Duration `long:"transaction-long-poll" env:"TRANSACTION_LONG_POLL" default:"1s" description:"Maximum time a transaction waits after its first checkpoint before committing"`
		// RestartInterval bounds how long an EOF'd connector with zero
		// checkpoints is given before the session is torn down for
		// the shard driver to restart it.
		RestartInterval time.Duration `long:"restart-interval" env:"RESTART_INTERVAL" default:"30s" description:"Delay before restarting a connector that EOFs without any checkpoints"`
		// AcknowledgeTimeout bounds the explicit request::Acknowledge
		// round-trip to the connector.
		AcknowledgeTimeout time.Duration `long:"acknowledge-timeout" env:"ACKNOWLEDGE_TIMEOUT" default:"10s" description:"Maximum time to wait for a connector's explicit acknowledgement"`
		// ByteThreshold bounds the captured-byte counter that makes a
		// transaction Ready regardless of the long-poll timeout.
		ByteThreshold int `long:"byte-threshold" env:"BYTE_THRESHOLD" default:"16777216" description:"Captured bytes after which a transaction becomes ready to commit"`
		// MemTableByteThreshold bounds the accumulator's in-memory
		// arena before it spills to disk (spec.md section 3/4.2).
		MemTableByteThreshold int `long:"memtable-byte-threshold" env:"MEMTABLE_BYTE_THRESHOLD" default:"268435456" description:"In-memory combiner arena size at which it spills to disk"`
		// SchemaComplexityLimit bounds the number of distinct
		// locations a single inferred Shape may track before
		// widening stops adding new sub-shapes.
		SchemaComplexityLimit int `long:"schema-complexity-limit" env:"SCHEMA_COMPLEXITY_LIMIT" default:"1000" description:"Maximum number of distinct schema locations tracked per inferred shape"`
	} `group:"flow" namespace:"flow" env-namespace:"FLOW"`
}

// ConnectorTransportConfig derives the subset of RuntimeConfig that
// internal/connector's transports consume.
func (c *RuntimeConfig) ConnectorTransportConfig() connector.ProxyConfig {
	return connector.ProxyConfig{ConnectorTimeout: c.Flow.ConnectorTimeout}
}

// SessionConfig derives the subset of RuntimeConfig that a Capture/
// Derive/Materialize session's skeleton consumes.
func (c *RuntimeConfig) SessionConfig(shard string) runtime.SessionConfig {
	return runtime.SessionConfig{
		Shard:              shard,
		ByteThreshold:      c.Flow.ByteThreshold,
		LongPollTimeout:    c.Flow.TransactionLongPoll,
		RestartInterval:    c.Flow.RestartInterval,
		AcknowledgeTimeout: c.Flow.AcknowledgeTimeout,
	}
}

// ShapeComplexityLimit returns the configured per-Shape location bound, or
// shape.DEFAULT_SCHEMA_COMPLEXITY_LIMIT when unset. The shape package does
// not take this value: widening always applies its own package constant.
func (c *RuntimeConfig) ShapeComplexityLimit() int {
	if c.Flow.SchemaComplexityLimit == 0 {
		return shape.DEFAULT_SCHEMA_COMPLEXITY_LIMIT
	}
	return c.Flow.SchemaComplexityLimit
}

// setDefaults fills zero-valued fields with the package's own defaults,
// used by callers that build a RuntimeConfig directly rather than
// through go-flags (e.g. tests).
func (c *RuntimeConfig) setDefaults() {
	if c.Flow.ConnectorTimeout == 0 {
		c.Flow.ConnectorTimeout = connector.DefaultConnectorTimeout
	}
	if c.Flow.TransactionLongPoll == 0 {
		c.Flow.TransactionLongPoll = time.Second
	}
	if c.Flow.RestartInterval == 0 {
		c.Flow.RestartInterval = 30 * time.Second
	}
	if c.Flow.AcknowledgeTimeout == 0 {
		c.Flow.AcknowledgeTimeout = 10 * time.Second
	}
	if c.Flow.ByteThreshold == 0 {
		c.Flow.ByteThreshold = 16 << 20
	}
	if c.Flow.MemTableByteThreshold == 0 {
		c.Flow.MemTableByteThreshold = doc.MemTableByteThreshold
	}
	if c.Flow.SchemaComplexityLimit == 0 {
		c.Flow.SchemaComplexityLimit = shape.DEFAULT_SCHEMA_COMPLEXITY_LIMIT
	}
}

// New returns a RuntimeConfig with every field at its documented default,
// as if go-flags had parsed an empty argument list and environment.
func New() *RuntimeConfig {
	var c = new(RuntimeConfig)
	c.setDefaults()
	return c
}
