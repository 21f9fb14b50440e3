package weights_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vn-automata/automata/weights"
)

func TestOpenValidatesConfig(t *testing.T) {
	t.Parallel()
	_, err := weights.Open(context.Background(), t.TempDir(), weights.Config{Alpha: 0})
	require.Error(t, err)
	_, err = weights.Open(context.Background(), t.TempDir(), weights.Config{Alpha: 1.5})
	require.Error(t, err)
}

func TestUpdateBlendsMovingAverage(t *testing.T) {
	t.Parallel()
	ledger, err := weights.Open(context.Background(), t.TempDir(), weights.Config{Alpha: 0.5})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, ledger.Close()) })

	require.NoError(t, ledger.Update(context.Background(), map[string]float64{"a": 1.0}))
	require.InDelta(t, 0.5, ledger.Score("a"), 1e-9)

	require.NoError(t, ledger.Update(context.Background(), map[string]float64{"a": 1.0}))
	require.InDelta(t, 0.75, ledger.Score("a"), 1e-9)

	// A miner absent from the round keeps its average.
	require.NoError(t, ledger.Update(context.Background(), map[string]float64{"b": 0.4}))
	require.InDelta(t, 0.75, ledger.Score("a"), 1e-9)
	require.InDelta(t, 0.2, ledger.Score("b"), 1e-9)
}

func TestWeightsNormalized(t *testing.T) {
	t.Parallel()
	ledger, err := weights.Open(context.Background(), t.TempDir(), weights.Config{Alpha: 1})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, ledger.Close()) })

	require.NoError(t, ledger.Update(context.Background(), map[string]float64{"a": 0.9, "b": 0.3}))

	w := ledger.Weights()
	require.InDelta(t, 0.75, w["a"], 1e-9)
	require.InDelta(t, 0.25, w["b"], 1e-9)

	empty, err := weights.Open(context.Background(), t.TempDir(), weights.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, empty.Close()) })
	require.Empty(t, empty.Weights())
}

func TestLedgerSurvivesRestart(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	ledger, err := weights.Open(context.Background(), dir, weights.Config{Alpha: 0.5})
	require.NoError(t, err)
	require.NoError(t, ledger.Update(context.Background(), map[string]float64{"a": 1.0, "b": 0.2}))
	require.NoError(t, ledger.Close())

	reopened, err := weights.Open(context.Background(), dir, weights.Config{Alpha: 0.5})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, reopened.Close()) })
	require.InDelta(t, 0.5, reopened.Score("a"), 1e-9)
	require.InDelta(t, 0.1, reopened.Score("b"), 1e-9)
}
