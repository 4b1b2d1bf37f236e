package progress_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chrisodt/georef/progress"
)

func TestTrackerCounters(t *testing.T) {
	t.Parallel()

	tracker := progress.New(nil)

	tracker.IncrFeaturesRead(100)
	tracker.IncrNormalized(90)
	tracker.IncrDiscarded(10)
	tracker.IncrClassified(90)
	tracker.IncrSkipped(2)
	tracker.IncrRecords(40)
	tracker.IncrRecords(5)

	snap := tracker.Snapshot()
	require.Equal(t, 100, snap.FeaturesRead)
	require.Equal(t, 90, snap.Normalized)
	require.Equal(t, 10, snap.Discarded)
	require.Equal(t, 90, snap.Classified)
	require.Equal(t, 2, snap.Skipped)
	require.Equal(t, 45, snap.Records)
}

func TestTrackerConcurrentIncrements(t *testing.T) {
	t.Parallel()

	tracker := progress.New(nil)

	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for j := 0; j < 1000; j++ {
				tracker.IncrFeaturesRead(1)
			}
		}()
	}

	wg.Wait()

	require.Equal(t, 8000, tracker.Snapshot().FeaturesRead)
}
