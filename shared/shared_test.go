package shared_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vn-automata/automata/shared"
)

func TestDeriveSeedDeterminism(t *testing.T) {
	t.Parallel()
	entropy := []byte("process entropy")

	require.Equal(t, shared.DeriveSeed(entropy, 7), shared.DeriveSeed(entropy, 7))
	require.NotEqual(t, shared.DeriveSeed(entropy, 7), shared.DeriveSeed(entropy, 8))
	require.NotEqual(t, shared.DeriveSeed([]byte("other"), 7), shared.DeriveSeed(entropy, 7))
}

func TestTaskID(t *testing.T) {
	t.Parallel()
	seed := shared.DeriveSeed([]byte("e"), 0)

	require.Equal(t, shared.TaskID(seed, 3), shared.TaskID(seed, 3))
	require.NotEqual(t, shared.TaskID(seed, 3), shared.TaskID(seed, 4))
	require.Len(t, shared.TaskID(seed, 3), 64)
}

func TestSeedStream(t *testing.T) {
	t.Parallel()
	t.Run("pure function of seed", func(t *testing.T) {
		t.Parallel()
		a := shared.NewSeedStream([]byte("seed"))
		b := shared.NewSeedStream([]byte("seed"))
		for i := 0; i < 100; i++ {
			require.Equal(t, a.Uint64(), b.Uint64())
		}
	})
	t.Run("bits are binary", func(t *testing.T) {
		t.Parallel()
		s := shared.NewSeedStream([]byte("seed"))
		for i := 0; i < 256; i++ {
			require.LessOrEqual(t, s.Bit(), uint8(1))
		}
	})
	t.Run("intn stays in range", func(t *testing.T) {
		t.Parallel()
		s := shared.NewSeedStream([]byte("seed"))
		for i := 0; i < 100; i++ {
			v := s.Intn(17)
			require.GreaterOrEqual(t, v, 0)
			require.Less(t, v, 17)
		}
	})
}

func TestTrajectoryConforms(t *testing.T) {
	t.Parallel()
	traj := shared.Trajectory{{0, 1, 0}, {1, 1, 1}, {0, 0, 0}}

	require.True(t, traj.Conforms(3, 2))
	require.False(t, traj.Conforms(3, 3), "wrong number of states")
	require.False(t, traj.Conforms(4, 2), "wrong width")

	nonBinary := shared.Trajectory{{0, 1, 0}, {1, 2, 1}, {0, 0, 0}}
	require.False(t, nonBinary.Conforms(3, 2), "alphabet is binary")
}

func TestRetry(t *testing.T) {
	t.Parallel()
	t.Run("succeeds after transient failures", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		failures := 0
		err := shared.Retry(context.Background(), func() error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		}, 5, time.Millisecond, func(error) { failures++ })

		require.NoError(t, err)
		require.Equal(t, 3, attempts)
		require.Equal(t, 2, failures)
	})
	t.Run("gives up after bounded attempts", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		attempts := 0
		err := shared.Retry(context.Background(), func() error {
			attempts++
			return boom
		}, 2, time.Millisecond, func(error) {})

		require.ErrorIs(t, err, boom)
		require.Equal(t, 3, attempts)
	})
	t.Run("stops on cancellation", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := shared.Retry(ctx, func() error {
			return errors.New("transient")
		}, 10, time.Hour, func(error) {})

		require.ErrorIs(t, err, context.Canceled)
	})
}
