// Package weights maintains per-miner moving-average scores and derives
// the normalized weights handed to the weight-setting collaborator.
package weights

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	xdr "github.com/nullstyle/go-xdr/xdr3"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"go.uber.org/zap"

	"github.com/vn-automata/automata/logging"
)

const stateKey = "moving_averages"

//nolint:lll
type Config struct {
	// Alpha is the smoothing factor of the exponential moving average:
	// new = alpha*reward + (1-alpha)*old.
	Alpha float64 `long:"alpha" description:"Moving-average smoothing factor in (0, 1]"`
}

func DefaultConfig() Config {
	return Config{Alpha: 0.1}
}

// ledgerState is the persisted record. Miner ids and scores are parallel
// slices sorted by miner id so the serialization is deterministic.
type ledgerState struct {
	Miners []string
	Scores []float64
}

// Ledger is the durable per-miner score ledger. It survives restarts so
// a validator coming back up does not forget how miners performed.
type Ledger struct {
	alpha float64

	mu     sync.Mutex
	db     *leveldb.DB
	scores map[string]float64
}

// Open loads (or initializes) a ledger at the given path.
func Open(ctx context.Context, path string, cfg Config) (*Ledger, error) {
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		return nil, fmt.Errorf("alpha %v outside (0, 1]", cfg.Alpha)
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("opening weights database @ %s: %w", path, err)
	}

	l := &Ledger{
		alpha:  cfg.Alpha,
		db:     db,
		scores: make(map[string]float64),
	}

	data, err := db.Get([]byte(stateKey), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		// fresh ledger
	case err != nil:
		return nil, errors.Join(fmt.Errorf("loading ledger state: %w", err), db.Close())
	default:
		state := &ledgerState{}
		if _, err := xdr.Unmarshal(bytes.NewReader(data), state); err != nil {
			return nil, errors.Join(fmt.Errorf("deserializing ledger state: %w", err), db.Close())
		}
		for i, miner := range state.Miners {
			l.scores[miner] = state.Scores[i]
		}
		logging.FromContext(ctx).Info("recovered weights ledger", zap.Int("miners", len(l.scores)))
	}

	return l, nil
}

// Update blends one round's normalized rewards into the moving averages
// and persists the result. Miners absent from the round keep their
// current average.
func (l *Ledger) Update(ctx context.Context, rewards map[string]float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for miner, reward := range rewards {
		l.scores[miner] = l.alpha*reward + (1-l.alpha)*l.scores[miner]
	}
	return l.persistLocked()
}

// Score returns the current moving average for a miner (zero when unseen).
func (l *Ledger) Score(miner string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scores[miner]
}

// Weights returns the sum-normalized snapshot of all moving averages.
func (l *Ledger) Weights() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	sum := 0.0
	for _, score := range l.scores {
		sum += score
	}
	weights := make(map[string]float64, len(l.scores))
	for miner, score := range l.scores {
		if sum > 0 {
			weights[miner] = score / sum
		} else {
			weights[miner] = 0
		}
	}
	return weights
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) persistLocked() error {
	state := ledgerState{
		Miners: make([]string, 0, len(l.scores)),
		Scores: make([]float64, 0, len(l.scores)),
	}
	for miner := range l.scores {
		state.Miners = append(state.Miners, miner)
	}
	sort.Strings(state.Miners)
	for _, miner := range state.Miners {
		state.Scores = append(state.Scores, l.scores[miner])
	}

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, state); err != nil {
		return fmt.Errorf("serializing ledger state: %w", err)
	}
	if err := l.db.Put([]byte(stateKey), buf.Bytes(), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("storing ledger state: %w", err)
	}
	return nil
}
