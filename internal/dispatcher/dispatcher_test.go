package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/batchscrape/internal/scrape"
	"github.com/JakeFAU/batchscrape/internal/worker"
)

func TestRunBatch_MixedOutcomes(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{
		ok:   map[scrape.Target]bool{"a": true, "c": true},
		body: []byte("body"),
		err:  errors.New("dial tcp: connection refused"),
	}
	d := New(fetcher, nil, nil, nil, Config{}, zap.NewNop())

	outcomes, err := d.RunBatch(context.Background(), []scrape.Target{"a", "b", "c", "d"}, 2)
	require.NoError(t, err)
	require.Len(t, outcomes, 4)

	var succeeded, failed []scrape.Target
	for _, o := range outcomes {
		if o.OK() {
			require.Equal(t, http.StatusOK, o.Code)
			require.Equal(t, "body", o.Excerpt)
			succeeded = append(succeeded, o.Target)
		} else {
			require.Equal(t, "dial tcp: connection refused", o.Reason)
			failed = append(failed, o.Target)
		}
	}
	require.ElementsMatch(t, []scrape.Target{"a", "c"}, succeeded)
	require.ElementsMatch(t, []scrape.Target{"b", "d"}, failed)
}

func TestRunBatch_EmptyTargets(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{}
	d := New(fetcher, nil, nil, nil, Config{}, zap.NewNop())

	for _, workers := range []int{1, 8, 1000} {
		outcomes, err := d.RunBatch(context.Background(), nil, workers)
		require.NoError(t, err)
		require.NotNil(t, outcomes)
		require.Empty(t, outcomes)
	}
	require.Zero(t, fetcher.callCount())
}

func TestRunBatch_RejectsBadPool(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{}
	d := New(fetcher, nil, nil, nil, Config{MaxWorkers: 4}, zap.NewNop())

	_, err := d.RunBatch(context.Background(), []scrape.Target{"a"}, 0)
	require.ErrorIs(t, err, ErrInvalidWorkerCount)

	_, err = d.RunBatch(context.Background(), []scrape.Target{"a"}, 5)
	require.ErrorIs(t, err, ErrPoolTooLarge)
	require.Zero(t, fetcher.callCount())

	_, err = New(nil, nil, nil, nil, Config{}, zap.NewNop()).RunBatch(context.Background(), []scrape.Target{"a"}, 1)
	require.ErrorIs(t, err, ErrNoFetcher)
}

func TestRunBatch_ExactlyOneOutcomePerTarget(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		targets int
		workers int
	}{
		{1, 1}, {7, 1}, {7, 3}, {7, 7}, {3, 10}, {100, 16},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("n=%d/w=%d", tc.targets, tc.workers), func(t *testing.T) {
			t.Parallel()

			targets := makeTargets(tc.targets)
			fetcher := &scriptedFetcher{allOK: true}
			d := New(fetcher, nil, nil, nil, Config{}, zap.NewNop())

			outcomes, err := d.RunBatch(context.Background(), targets, tc.workers)
			require.NoError(t, err)
			require.Len(t, outcomes, tc.targets)

			seen := make(map[scrape.Target]int, len(outcomes))
			for _, o := range outcomes {
				seen[o.Target]++
				require.True(t, o.OK())
			}
			for _, target := range targets {
				require.Equalf(t, 1, seen[target], "target %s", target)
			}
			require.Equal(t, tc.targets, fetcher.callCount())
		})
	}
}

func TestRunBatch_RespectsWorkerBound(t *testing.T) {
	t.Parallel()

	var current, peak atomic.Int32
	fetcher := fetchFunc(func(context.Context, scrape.Target) (scrape.FetchResult, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return scrape.FetchResult{StatusCode: http.StatusOK}, nil
	})
	d := New(fetcher, nil, nil, nil, Config{}, zap.NewNop())

	outcomes, err := d.RunBatch(context.Background(), makeTargets(40), 3)
	require.NoError(t, err)
	require.Len(t, outcomes, 40)
	require.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRunBatch_AllTimeoutsFinishInBoundedTime(t *testing.T) {
	t.Parallel()

	const timeout = 30 * time.Millisecond
	fetcher := fetchFunc(func(ctx context.Context, _ scrape.Target) (scrape.FetchResult, error) {
		<-ctx.Done()
		return scrape.FetchResult{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	})
	d := New(fetcher, nil, nil, nil, Config{Worker: worker.Config{Timeout: timeout}}, zap.NewNop())

	start := time.Now()
	outcomes, err := d.RunBatch(context.Background(), makeTargets(6), 3)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Len(t, outcomes, 6)
	for _, o := range outcomes {
		require.Equal(t, scrape.StatusFailure, o.Status)
		require.Equal(t, scrape.FailureTimeout, o.Kind)
	}
	// ceil(6/3) rounds of one timeout each, plus scheduling slack.
	require.Less(t, elapsed, 2*timeout+time.Second)
}

func TestRunBatch_FailuresAreIsolated(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{
		ok:   map[scrape.Target]bool{"t-0": true, "t-2": true, "t-4": true},
		body: []byte("fine"),
		err:  errors.New("protocol error"),
	}
	d := New(fetcher, nil, nil, nil, Config{}, zap.NewNop())

	outcomes, err := d.RunBatch(context.Background(), makeTargets(5), 2)
	require.NoError(t, err)
	for _, o := range outcomes {
		if fetcher.ok[o.Target] {
			require.Truef(t, o.OK(), "target %s", o.Target)
			require.Equal(t, "fine", o.Excerpt)
		} else {
			require.Falsef(t, o.OK(), "target %s", o.Target)
		}
	}
}

func TestRunBatch_Idempotent(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{
		ok:   map[scrape.Target]bool{"t-1": true, "t-3": true},
		body: []byte("same"),
		err:  errors.New("boom"),
	}
	d := New(fetcher, nil, nil, nil, Config{}, zap.NewNop())
	targets := makeTargets(6)

	first, err := d.RunBatch(context.Background(), targets, 3)
	require.NoError(t, err)
	second, err := d.RunBatch(context.Background(), targets, 2)
	require.NoError(t, err)

	require.ElementsMatch(t, stripTiming(first), stripTiming(second))
}

func TestRunBatch_InterruptedReturnsPartialWithError(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{}, 1)
	fetcher := fetchFunc(func(ctx context.Context, target scrape.Target) (scrape.FetchResult, error) {
		if target == "fast" {
			return scrape.FetchResult{StatusCode: http.StatusOK}, nil
		}
		entered <- struct{}{}
		<-ctx.Done()
		return scrape.FetchResult{}, ctx.Err()
	})
	d := New(fetcher, nil, nil, nil, Config{Worker: worker.Config{Timeout: 5 * time.Second}}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-entered
		cancel()
	}()

	outcomes, err := d.RunBatch(ctx, []scrape.Target{"fast", "hang"}, 1)
	var interrupted *InterruptedError
	require.ErrorAs(t, err, &interrupted)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 2, interrupted.Submitted)
	require.Equal(t, 1, interrupted.Recorded)
	require.Len(t, outcomes, 1)
	require.Equal(t, scrape.Target("fast"), outcomes[0].Target)
}

func TestRunBatch_CancelStopsWorkersAfterInFlightFetch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		policy       worker.InFlightPolicy
		wantRecorded int
	}{
		{policy: worker.InFlightDrop, wantRecorded: 0},
		{policy: worker.InFlightComplete, wantRecorded: 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			started := make(chan struct{}, 5)
			fetcher := fetchFunc(func(ctx context.Context, _ scrape.Target) (scrape.FetchResult, error) {
				calls.Add(1)
				started <- struct{}{}
				select {
				case <-time.After(50 * time.Millisecond):
					return scrape.FetchResult{StatusCode: http.StatusOK, Body: []byte("slow")}, nil
				case <-ctx.Done():
					return scrape.FetchResult{}, ctx.Err()
				}
			})
			d := New(fetcher, nil, nil, nil, Config{
				Worker: worker.Config{Timeout: 5 * time.Second, InFlight: tt.policy},
			}, zap.NewNop())

			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				<-started
				cancel()
			}()

			outcomes, err := d.RunBatch(ctx, makeTargets(5), 1)
			var interrupted *InterruptedError
			require.ErrorAs(t, err, &interrupted)
			require.Equal(t, 5, interrupted.Submitted)
			require.Equal(t, tt.wantRecorded, interrupted.Recorded)
			require.Len(t, outcomes, tt.wantRecorded)
			require.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestRun_WrapsBatchMetadata(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	d := New(&scriptedFetcher{allOK: true}, nil, clock, &fakeIDGen{id: "batch-1"}, Config{}, zap.NewNop())

	batch, err := d.Run(context.Background(), []scrape.Target{"a", "b"}, 2)
	require.NoError(t, err)
	require.Equal(t, "batch-1", batch.ID)
	require.Equal(t, 2, batch.Workers)
	require.Equal(t, clock.now, batch.StartedAt)
	require.Len(t, batch.Outcomes, 2)
	require.Equal(t, scrape.Summary{Total: 2, Succeeded: 2}, batch.Summary())
}

func TestRun_PropagatesBatchLevelErrors(t *testing.T) {
	t.Parallel()

	d := New(&scriptedFetcher{}, nil, nil, &fakeIDGen{err: errors.New("entropy")}, Config{}, zap.NewNop())
	_, err := d.Run(context.Background(), []scrape.Target{"a"}, 1)
	require.EqualError(t, err, "generate batch id: entropy")

	d = New(&scriptedFetcher{}, nil, nil, nil, Config{}, zap.NewNop())
	_, err = d.Run(context.Background(), []scrape.Target{"a"}, 0)
	require.ErrorIs(t, err, ErrInvalidWorkerCount)
}

// --- helpers & fakes ---

func makeTargets(n int) []scrape.Target {
	targets := make([]scrape.Target, n)
	for i := range targets {
		targets[i] = scrape.Target(fmt.Sprintf("t-%d", i))
	}
	return targets
}

func stripTiming(outcomes []scrape.Outcome) []scrape.Outcome {
	out := make([]scrape.Outcome, len(outcomes))
	for i, o := range outcomes {
		o.Worker = ""
		o.Duration = 0
		o.DurationMs = 0
		out[i] = o
	}
	return out
}

type fetchFunc func(ctx context.Context, target scrape.Target) (scrape.FetchResult, error)

func (f fetchFunc) Fetch(ctx context.Context, target scrape.Target) (scrape.FetchResult, error) {
	return f(ctx, target)
}

// scriptedFetcher succeeds for targets in ok (or all when allOK) and fails
// with err otherwise.
type scriptedFetcher struct {
	mu    sync.Mutex
	calls int
	allOK bool
	ok    map[scrape.Target]bool
	body  []byte
	err   error
}

func (f *scriptedFetcher) Fetch(_ context.Context, target scrape.Target) (scrape.FetchResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.allOK || f.ok[target] {
		return scrape.FetchResult{StatusCode: http.StatusOK, Body: f.body}, nil
	}
	return scrape.FetchResult{}, f.err
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type fakeIDGen struct {
	id  string
	err error
}

func (g *fakeIDGen) NewID() (string, error) {
	return g.id, g.err
}
