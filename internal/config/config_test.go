package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	var c = New()

	require.Equal(t, 300*time.Second, c.Flow.ConnectorTimeout)
	require.Equal(t, time.Second, c.Flow.TransactionLongPoll)
	require.Equal(t, 30*time.Second, c.Flow.RestartInterval)
	require.Equal(t, 10*time.Second, c.Flow.AcknowledgeTimeout)
	require.Equal(t, 16<<20, c.Flow.ByteThreshold)
	require.Equal(t, 1000, c.ShapeComplexityLimit())

	var sc = c.SessionConfig("my/shard")
	require.Equal(t, "my/shard", sc.Shard)
	require.Equal(t, c.Flow.ByteThreshold, sc.ByteThreshold)
	require.Equal(t, c.Flow.TransactionLongPoll, sc.LongPollTimeout)

	var pc = c.ConnectorTransportConfig()
	require.Equal(t, c.Flow.ConnectorTimeout, pc.ConnectorTimeout)
}

func TestSchemaComplexityLimitOverrideIsHonored(t *testing.T) {
	var c = New()
	c.Flow.SchemaComplexityLimit = 42
	require.Equal(t, 42, c.ShapeComplexityLimit())
}
