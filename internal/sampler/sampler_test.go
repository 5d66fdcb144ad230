package sampler

import (
	"context"
	"testing"

	"github.com/bobmcallan/piiscan/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampler_Snapshot(t *testing.T) {
	s := New(common.NewSilentLogger())
	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Greater(t, snap.CPUCount, 0)
	assert.GreaterOrEqual(t, snap.CPUPercent, 0.0)
	assert.GreaterOrEqual(t, snap.MemoryPercent, 0.0)
	assert.GreaterOrEqual(t, snap.LoadFactor, 0.0)
}
