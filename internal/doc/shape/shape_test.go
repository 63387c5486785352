package shape

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWidenScalarTypes(t *testing.T) {
	var s = NewShape()
	s.Widen(float64(3))
	s.Widen("hello")
	s.Widen(nil)
	s.Widen(true)

	require.True(t, s.Types&TypeInteger != 0)
	require.True(t, s.Types&TypeString != 0)
	require.True(t, s.Types&TypeNull != 0)
	require.True(t, s.Types&TypeBool != 0)
	require.Equal(t, 5, s.StringMaxLen)
}

func TestWidenNumericRange(t *testing.T) {
	var s = NewShape()
	s.Widen(float64(-2))
	s.Widen(float64(10))
	s.Widen(float64(3.5))

	require.Equal(t, float64(-2), s.NumMin)
	require.Equal(t, float64(10), s.NumMax)
	require.True(t, s.Types&TypeNumber != 0)
	require.True(t, s.Types&TypeInteger != 0)
}

func TestWidenObjectProperties(t *testing.T) {
	var s = NewShape()
	s.Widen(map[string]any{"a": float64(1), "b": "x"})
	s.Widen(map[string]any{"a": float64(2), "c": true})

	require.True(t, s.Types&TypeObject != 0)
	require.Contains(t, s.Properties, "a")
	require.Contains(t, s.Properties, "b")
	require.Contains(t, s.Properties, "c")
	require.True(t, s.Properties["a"].Types&TypeInteger != 0)
	require.Equal(t, float64(1), s.Properties["a"].NumMin)
	require.Equal(t, float64(2), s.Properties["a"].NumMax)
}

func TestWidenArrayItems(t *testing.T) {
	var s = NewShape()
	s.Widen([]any{float64(1), "two", float64(3)})

	require.True(t, s.Types&TypeArray != 0)
	require.NotNil(t, s.Items)
	require.True(t, s.Items.Types&TypeInteger != 0)
	require.True(t, s.Items.Types&TypeString != 0)
}

func TestComplexityBudgetStopsTrackingNewProperties(t *testing.T) {
	var s = NewShape()
	for i := 0; i < DEFAULT_SCHEMA_COMPLEXITY_LIMIT+10; i++ {
		s.Widen(map[string]any{string(rune('a' + i%26)) + string(rune(i)): float64(i)})
	}
	require.LessOrEqual(t, len(s.Properties), DEFAULT_SCHEMA_COMPLEXITY_LIMIT+1)
}

func TestCacheEvictsLRU(t *testing.T) {
	var c, err = NewCache(2)
	require.NoError(t, err)

	c.Widen(0, float64(1))
	c.Widen(1, "x")
	c.Widen(2, true) // evicts binding 0

	_, ok := c.Get(0)
	require.False(t, ok)
	_, ok = c.Get(1)
	require.True(t, ok)
	_, ok = c.Get(2)
	require.True(t, ok)
}

func TestCacheSeedThenWiden(t *testing.T) {
	var c, err = NewCache(4)
	require.NoError(t, err)

	var seeded = NewShape()
	seeded.Widen(map[string]any{"k": float64(1)})
	c.Seed(0, seeded)

	var widened = c.Widen(0, map[string]any{"k": float64(2), "v": "new"})
	require.Contains(t, widened.Properties, "k")
	require.Contains(t, widened.Properties, "v")
}
