package mlengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusLifecycle(t *testing.T) {
	s := NewStatus("localhost:50051")

	snap := s.Snapshot()
	assert.False(t, snap.Connected)
	assert.Equal(t, "localhost:50051", snap.Target)
	assert.Nil(t, snap.LastSuccess)

	s.RecordSuccess()
	snap = s.Snapshot()
	assert.True(t, snap.Connected)
	require.NotNil(t, snap.LastSuccess)
	first := *snap.LastSuccess

	s.RecordFailure()
	snap = s.Snapshot()
	assert.False(t, snap.Connected)
	// last success survives a later failure
	require.NotNil(t, snap.LastSuccess)
	assert.Equal(t, first, *snap.LastSuccess)
}
