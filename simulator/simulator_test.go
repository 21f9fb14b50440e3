package simulator_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vn-automata/automata/simulator"
	"github.com/vn-automata/automata/shared"
)

func newTestTask(rule shared.Rule, initial shared.State, steps int) shared.Task {
	return shared.Task{
		ID:       shared.TaskID([]byte("seed"), uint(rule)),
		Rule:     rule,
		Width:    len(initial),
		Steps:    steps,
		Boundary: shared.BoundaryPeriodic,
		Initial:  initial,
	}
}

func TestElementaryAdvance(t *testing.T) {
	t.Parallel()
	oracle := simulator.Elementary{}

	t.Run("rule 30", func(t *testing.T) {
		t.Parallel()
		next, err := oracle.Advance(shared.State{0, 0, 1, 0, 0}, 30, shared.BoundaryPeriodic)
		require.NoError(t, err)
		require.Equal(t, shared.State{0, 1, 1, 1, 0}, next)

		next, err = oracle.Advance(next, 30, shared.BoundaryPeriodic)
		require.NoError(t, err)
		require.Equal(t, shared.State{1, 1, 0, 0, 1}, next)
	})
	t.Run("rule 110", func(t *testing.T) {
		t.Parallel()
		next, err := oracle.Advance(shared.State{0, 0, 1, 0, 0}, 110, shared.BoundaryPeriodic)
		require.NoError(t, err)
		require.Equal(t, shared.State{0, 1, 1, 0, 0}, next)
	})
	t.Run("periodic wrap-around", func(t *testing.T) {
		t.Parallel()
		// Rule 254 turns on any cell with a live neighbor; the live
		// edge cell must reach the opposite edge through the wrap.
		next, err := oracle.Advance(shared.State{1, 0, 0, 0}, 254, shared.BoundaryPeriodic)
		require.NoError(t, err)
		require.Equal(t, shared.State{1, 1, 0, 1}, next)
	})
	t.Run("unknown boundary", func(t *testing.T) {
		t.Parallel()
		_, err := oracle.Advance(shared.State{1, 0}, 30, shared.Boundary("mirror"))
		require.Error(t, err)
	})
}

func TestSimulateShape(t *testing.T) {
	t.Parallel()
	sim, err := simulator.New()
	require.NoError(t, err)

	task := newTestTask(30, shared.State{0, 0, 1, 0, 0}, 10)
	trajectory, err := sim.Simulate(context.Background(), task)
	require.NoError(t, err)
	require.Len(t, trajectory, 11, "steps+1 states")
	require.True(t, trajectory.Conforms(task.Width, task.Steps))
	require.Equal(t, task.Initial, trajectory[0], "starts with the initial state")
}

func TestSimulateDeterminism(t *testing.T) {
	t.Parallel()
	task := newTestTask(110, shared.State{0, 1, 0, 0, 1, 1, 0, 1}, 64)

	// Two independent simulators so the cache cannot mask divergence.
	a, err := simulator.New()
	require.NoError(t, err)
	b, err := simulator.New()
	require.NoError(t, err)

	first, err := a.Simulate(context.Background(), task)
	require.NoError(t, err)
	second, err := b.Simulate(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, first, second)

	// Memoized result is bit-identical as well.
	cached, err := a.Simulate(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, first, cached)
}

func TestSimulateCachedCopyIsIsolated(t *testing.T) {
	t.Parallel()
	sim, err := simulator.New()
	require.NoError(t, err)
	task := newTestTask(30, shared.State{0, 0, 1, 0, 0}, 5)

	first, err := sim.Simulate(context.Background(), task)
	require.NoError(t, err)
	first[0][0] = 1 // mutate the returned copy

	second, err := sim.Simulate(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, uint8(0), second[0][0], "reference result is immutable")
}

func TestSimulateInvalidTask(t *testing.T) {
	t.Parallel()
	sim, err := simulator.New()
	require.NoError(t, err)

	task := newTestTask(30, shared.State{0, 0, 1}, 5)
	task.Width = 8 // width disagrees with the initial state
	_, err = sim.Simulate(context.Background(), task)
	require.ErrorIs(t, err, simulator.ErrInvalidTask)
}

type stuckOracle struct{}

func (stuckOracle) Advance(state shared.State, _ shared.Rule, _ shared.Boundary) (shared.State, error) {
	return state, nil
}

func TestSimulateCancellation(t *testing.T) {
	t.Parallel()
	sim, err := simulator.New(simulator.WithOracle(stuckOracle{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	task := newTestTask(30, make(shared.State, 64), 100000)
	_, err = sim.Simulate(ctx, task)
	require.ErrorIs(t, err, context.Canceled)
}

type faultyOracle struct{}

func (faultyOracle) Advance(shared.State, shared.Rule, shared.Boundary) (shared.State, error) {
	return nil, errors.New("numeric fault")
}

func TestSimulateOracleFaultSurfaces(t *testing.T) {
	t.Parallel()
	sim, err := simulator.New(simulator.WithOracle(faultyOracle{}))
	require.NoError(t, err)

	_, err = sim.Simulate(context.Background(), newTestTask(30, shared.State{0, 1}, 3))
	require.ErrorContains(t, err, "numeric fault")
}
