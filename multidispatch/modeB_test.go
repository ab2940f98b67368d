package multidispatch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWeightSplitProportional(t *testing.T) {
	shares := weightSplit(1000, []int{10, 30}, 30)
	require.InDelta(t, 250.0, shares[0], 0.5)
	require.InDelta(t, 750.0, shares[1], 0.5)
}

func TestWeightSplitFloorsSlowWorker(t *testing.T) {
	// Worker 0 is so much slower that its raw proportional share would
	// fall under the floor; it should be bumped up to the floor and the
	// remainder redistributed to worker 1.
	shares := weightSplit(100, []int{1, 100}, 30)
	require.Equal(t, 30.0, shares[0])
	require.InDelta(t, 70.0, shares[1], 0.1)
}

func TestWeightSplitEqualFPSEvenSplit(t *testing.T) {
	shares := weightSplit(600, []int{50, 50, 50}, 30)
	require.InDelta(t, 200.0, shares[0], 0.5)
	require.InDelta(t, 200.0, shares[1], 0.5)
	require.InDelta(t, 200.0, shares[2], 0.5)
}

func TestBuildWeightedChunksConsecutiveAndOrdered(t *testing.T) {
	chunks := buildWeightedChunks(1000, []int{10, 30}, 30)
	require.Len(t, chunks, 2)
	require.Equal(t, 0, chunks[0].index)
	require.Equal(t, 0.0, chunks[0].startSec)
	require.Equal(t, 0, chunks[0].workerIdx)
	require.Equal(t, 1, chunks[1].index)
	require.Equal(t, chunks[0].durSec, chunks[1].startSec)
	require.Equal(t, 1, chunks[1].workerIdx)
	// last chunk absorbs any rounding remainder so the split covers the
	// full duration exactly
	require.InDelta(t, 1000.0, chunks[0].durSec+chunks[1].durSec, 1e-9)
}
