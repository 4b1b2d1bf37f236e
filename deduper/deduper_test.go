package deduper_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chrisodt/georef/deduper"
)

func TestAddIfNotExists(t *testing.T) {
	t.Parallel()

	d := deduper.New()
	ctx := context.Background()

	require.True(t, d.AddIfNotExists(ctx, "relation/123"))
	require.False(t, d.AddIfNotExists(ctx, "relation/123"))
	require.True(t, d.AddIfNotExists(ctx, "relation/124"))
}

func TestAddIfNotExistsConcurrent(t *testing.T) {
	t.Parallel()

	d := deduper.New()
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for i := 0; i < 16; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if d.AddIfNotExists(ctx, "way/42") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	require.Equal(t, 1, wins)
}
