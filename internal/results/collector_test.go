package results

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/batchscrape/internal/scrape"
)

func TestCollectorConcurrentAppend(t *testing.T) {
	t.Parallel()

	c := NewCollector(0)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			target := scrape.Target(fmt.Sprintf("t-%d", i))
			if err := c.Append(scrape.Failed(target, scrape.FailureTimeout, "slow")); err != nil {
				t.Errorf("Append() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 100, c.Len())
	require.Len(t, c.Freeze(), 100)
}

func TestCollectorFreezeRejectsAppends(t *testing.T) {
	t.Parallel()

	c := NewCollector(1)
	require.NoError(t, c.Append(scrape.Succeeded("a", scrape.FetchResult{StatusCode: 200}, 0)))

	first := c.Freeze()
	require.Len(t, first, 1)
	require.ErrorIs(t, c.Append(scrape.Succeeded("b", scrape.FetchResult{StatusCode: 200}, 0)), ErrFrozen)

	// The frozen copy is detached from the collector.
	first[0].Target = "mutated"
	second := c.Freeze()
	require.Equal(t, scrape.Target("a"), second[0].Target)
}
