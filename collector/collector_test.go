package collector_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vn-automata/automata/collector"
	"github.com/vn-automata/automata/shared"
)

func testTask() shared.Task {
	return shared.Task{
		ID:       "task-1",
		Rule:     30,
		Width:    3,
		Steps:    1,
		Boundary: shared.BoundaryPeriodic,
		Initial:  shared.State{0, 1, 0},
	}
}

func wellFormed(miner string) shared.Response {
	return shared.Response{
		TaskID:     "task-1",
		MinerID:    miner,
		Trajectory: shared.Trajectory{{0, 1, 0}, {1, 1, 1}},
	}
}

func TestSubmitOutcomes(t *testing.T) {
	t.Parallel()
	win := collector.Open(context.Background(), testTask(), time.Now().Add(time.Minute))
	defer win.Abort()

	t.Run("well-formed accepted", func(t *testing.T) {
		require.NoError(t, win.Submit(wellFormed("a")))
	})
	t.Run("duplicate rejected, first kept", func(t *testing.T) {
		second := wellFormed("a")
		second.Trajectory = shared.Trajectory{{1, 1, 1}, {0, 0, 0}}
		require.ErrorIs(t, win.Submit(second), collector.ErrDuplicateResponse)
	})
	t.Run("malformed flagged but kept", func(t *testing.T) {
		resp := wellFormed("b")
		resp.Trajectory = shared.Trajectory{{0, 1}} // wrong shape
		require.NoError(t, win.Submit(resp))
	})
	t.Run("wrong task rejected", func(t *testing.T) {
		resp := wellFormed("c")
		resp.TaskID = "task-2"
		require.ErrorIs(t, win.Submit(resp), collector.ErrWrongTask)
	})
}

func TestLateSubmissionRejected(t *testing.T) {
	t.Parallel()
	deadline := time.Now().Add(50 * time.Millisecond)
	win := collector.Open(context.Background(), testTask(), deadline)

	resp := wellFormed("late")
	resp.ReceivedAt = deadline.Add(time.Nanosecond)
	require.ErrorIs(t, win.Submit(resp), collector.ErrDeadlineExceeded)

	responses, err := win.Await(context.Background())
	require.NoError(t, err)
	require.Empty(t, responses)

	require.ErrorIs(t, win.Submit(wellFormed("after-close")), collector.ErrDeadlineExceeded)
}

func TestFirstResponseWins(t *testing.T) {
	t.Parallel()
	win := collector.Open(context.Background(), testTask(), time.Now().Add(time.Minute))

	first := wellFormed("a")
	require.NoError(t, win.Submit(first))
	revised := wellFormed("a")
	revised.Trajectory = shared.Trajectory{{0, 0, 0}, {1, 0, 1}}
	require.Error(t, win.Submit(revised))

	win.Abort()
	responses, err := win.Await(context.Background())
	require.NoError(t, err)
	require.Len(t, responses, 1)
	require.Equal(t, first.Trajectory, responses[0].Trajectory)
}

func TestConcurrentSubmitsResolveToOne(t *testing.T) {
	t.Parallel()
	win := collector.Open(context.Background(), testTask(), time.Now().Add(time.Minute))

	const attempts = 32
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- win.Submit(wellFormed("racer"))
		}()
	}
	wg.Wait()
	close(errs)

	accepted := 0
	for err := range errs {
		if err == nil {
			accepted++
		} else {
			require.ErrorIs(t, err, collector.ErrDuplicateResponse)
		}
	}
	require.Equal(t, 1, accepted, "exactly one submission accepted")

	win.Abort()
	responses, err := win.Await(context.Background())
	require.NoError(t, err)
	require.Len(t, responses, 1)
}

func TestAwaitReturnsAtDeadline(t *testing.T) {
	t.Parallel()
	window := 100 * time.Millisecond
	win := collector.Open(context.Background(), testTask(), time.Now().Add(window))
	require.NoError(t, win.Submit(wellFormed("a")))

	start := time.Now()
	responses, err := win.Await(context.Background())
	require.NoError(t, err)
	require.Len(t, responses, 1)
	require.WithinDuration(t, start.Add(window), time.Now(), window, "close() returns at the deadline")
}

func TestAwaitAbortsOnCancellation(t *testing.T) {
	t.Parallel()
	win := collector.Open(context.Background(), testTask(), time.Now().Add(time.Hour))
	require.NoError(t, win.Submit(wellFormed("a")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := win.Await(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// The aborted window no longer accepts submissions.
	require.ErrorIs(t, win.Submit(wellFormed("b")), collector.ErrDeadlineExceeded)
}

func TestMalformedKindFlagged(t *testing.T) {
	t.Parallel()
	win := collector.Open(context.Background(), testTask(), time.Now().Add(time.Minute))

	good := wellFormed("good")
	bad := wellFormed("bad")
	bad.Trajectory = shared.Trajectory{{0, 1, 2}, {1, 1, 1}} // non-binary cell
	require.NoError(t, win.Submit(good))
	require.NoError(t, win.Submit(bad))

	win.Abort()
	responses, err := win.Await(context.Background())
	require.NoError(t, err)
	require.Len(t, responses, 2)
	kinds := map[string]shared.ResponseKind{}
	for _, r := range responses {
		kinds[r.MinerID] = r.Kind
	}
	require.Equal(t, shared.Malformed, kinds["bad"])
	require.Equal(t, shared.WellFormed, kinds["good"])
}
