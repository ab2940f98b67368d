package multidispatch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlanChunksLastAbsorbsRemainder(t *testing.T) {
	chunks := planChunks(650, 300)
	require.Len(t, chunks, 2)
	require.Equal(t, 0.0, chunks[0].startSec)
	require.Equal(t, 300.0, chunks[0].durSec)
	require.Equal(t, 300.0, chunks[1].startSec)
	require.Equal(t, 350.0, chunks[1].durSec)
}

func TestPlanChunksExactMultiple(t *testing.T) {
	chunks := planChunks(600, 300)
	require.Len(t, chunks, 2)
	require.Equal(t, 300.0, chunks[1].durSec)
}

func TestPlanFallsBackBelowTwoChunks(t *testing.T) {
	_, err := plan(200, 300)
	require.ErrorIs(t, err, ErrFallbackSingle)
}

func TestPlanTwoChunksSucceeds(t *testing.T) {
	chunks, err := plan(650, 300)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
}
