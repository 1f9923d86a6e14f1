package wrap

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewContentCopiesSeed(t *testing.T) {
	seed := map[string]interface{}{"a": 1}
	c := NewContent(seed)
	c.Set("b", 2)

	assert.Len(t, seed, 1)
	assert.Equal(t, 2, c.Len())
}

func TestMergeFillsMissingOnly(t *testing.T) {
	c := NewContent(map[string]interface{}{"a": 1})

	skipped := c.Merge(map[string]interface{}{"a": 2, "b": 3})

	assert.Equal(t, []string{"a"}, skipped)
	if diff := cmp.Diff(map[string]interface{}{"a": 1, "b": 3}, c.Snapshot()); diff != "" {
		t.Errorf("content mismatch (-want +got):\n%s", diff)
	}
}

func TestFold(t *testing.T) {
	t.Run("keyed result overwrites", func(t *testing.T) {
		c := NewContent(map[string]interface{}{"x": "seed"})
		value, skipped, err := c.fold("x", 42)
		require.NoError(t, err)
		assert.Nil(t, skipped)
		assert.Equal(t, 42, value)

		got, ok := c.Get("x")
		require.True(t, ok)
		assert.Equal(t, 42, got)
	})

	t.Run("keyless map merges", func(t *testing.T) {
		c := NewContent(map[string]interface{}{"a": 1})
		value, skipped, err := c.fold("", map[string]interface{}{"a": 9, "b": 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, skipped)
		assert.Equal(t, map[string]interface{}{"a": 9, "b": 2}, value)
		assert.Equal(t, map[string]interface{}{"a": 1, "b": 2}, c.Snapshot())
	})

	t.Run("keyless content merges its snapshot", func(t *testing.T) {
		c := NewContent(nil)
		_, _, err := c.fold("", NewContent(map[string]interface{}{"n": true}))
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"n": true}, c.Snapshot())
	})

	t.Run("keyless nil is ignored", func(t *testing.T) {
		c := NewContent(nil)
		_, _, err := c.fold("", nil)
		require.NoError(t, err)
		assert.Equal(t, 0, c.Len())
	})

	t.Run("keyless scalar is rejected", func(t *testing.T) {
		c := NewContent(nil)
		_, _, err := c.fold("", "text")
		require.ErrorIs(t, err, ErrUnmergeableResult)
		assert.Equal(t, 0, c.Len())
	})
}

func TestContentMarshalJSON(t *testing.T) {
	c := NewContent(map[string]interface{}{"x": 1, "y": "two"})

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1,"y":"two"}`, string(data))
}
