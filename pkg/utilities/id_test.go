package utilities

import (
	"testing"

	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDGeneratorUnique(t *testing.T) {
	g, err := NewIDGenerator(1)
	require.NoError(t, err)

	seen := make(map[int64]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := g.Next()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %d", id)
		seen[id] = struct{}{}
	}
}

func TestIDGeneratorRejectsBadNode(t *testing.T) {
	_, err := NewIDGenerator(4096)
	assert.Error(t, err)
}

func TestNewKSUIDParses(t *testing.T) {
	id := NewKSUID()
	_, err := ksuid.Parse(id)
	assert.NoError(t, err)
	assert.NotEqual(t, id, NewKSUID())
}
