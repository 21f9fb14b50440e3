// Package simulator computes reference trajectories for simulation tasks.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/vn-automata/automata/logging"
	"github.com/vn-automata/automata/shared"
)

var (
	// ErrInvalidTask is returned for tasks whose shape is inconsistent.
	// It indicates a rule-space or configuration defect and is never
	// retried by callers.
	ErrInvalidTask = errors.New("invalid task")

	simulationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "automata",
		Subsystem: "simulator",
		Name:      "reference_duration_seconds",
		Help:      "Wall time of reference trajectory computation",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
	})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "automata",
		Subsystem: "simulator",
		Name:      "cache_hits_total",
		Help:      "Reference trajectories served from the memoization cache",
	})
)

const (
	defaultCacheSize = 16
	// ctxCheckStride is how many steps are simulated between
	// cancellation checks.
	ctxCheckStride = 64
)

// Oracle advances a state by one step under the given rule. The default
// oracle implements elementary automata with periodic boundaries; the
// interface exists so a numeric library can be swapped in without the
// rest of the engine depending on its representation.
type Oracle interface {
	Advance(state shared.State, rule shared.Rule, boundary shared.Boundary) (shared.State, error)
}

// Elementary is the built-in oracle: radius-1 binary automata keyed by
// Wolfram rule number.
type Elementary struct{}

func (Elementary) Advance(state shared.State, rule shared.Rule, boundary shared.Boundary) (shared.State, error) {
	if boundary != shared.BoundaryPeriodic {
		return nil, fmt.Errorf("unsupported boundary policy %q", boundary)
	}
	w := len(state)
	next := make(shared.State, w)
	for i := 0; i < w; i++ {
		left := state[(i-1+w)%w]
		right := state[(i+1)%w]
		neighborhood := left<<2 | state[i]<<1 | right
		next[i] = uint8(rule>>neighborhood) & 1
	}
	return next, nil
}

// Simulator runs tasks forward deterministically. Identical tasks always
// produce bit-identical trajectories, which is what allows the reference
// computation to race the miners instead of waiting on them.
type Simulator struct {
	oracle Oracle
	cache  *lru.Cache // task id -> shared.Trajectory
}

type optionFunc func(*options)

type options struct {
	oracle    Oracle
	cacheSize int
}

// WithOracle substitutes the state-advance oracle.
func WithOracle(o Oracle) optionFunc {
	return func(opts *options) {
		opts.oracle = o
	}
}

// WithCacheSize sets how many reference trajectories are memoized.
func WithCacheSize(n int) optionFunc {
	return func(opts *options) {
		opts.cacheSize = n
	}
}

func New(opts ...optionFunc) (*Simulator, error) {
	options := options{
		oracle:    Elementary{},
		cacheSize: defaultCacheSize,
	}
	for _, opt := range opts {
		opt(&options)
	}
	cache, err := lru.New(options.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating trajectory cache: %w", err)
	}
	return &Simulator{oracle: options.oracle, cache: cache}, nil
}

// Simulate computes the reference trajectory of a task: the initial state
// followed by one state per step. The result is memoized by task id so
// audit re-requests do not recompute it.
func (s *Simulator) Simulate(ctx context.Context, task shared.Task) (shared.Trajectory, error) {
	if cached, ok := s.cache.Get(task.ID); ok {
		cacheHits.Inc()
		return cached.(shared.Trajectory).Clone(), nil
	}

	if len(task.Initial) != task.Width || !task.Initial.Binary() {
		return nil, fmt.Errorf("%w: initial state does not match width %d", ErrInvalidTask, task.Width)
	}
	if task.Steps < 1 {
		return nil, fmt.Errorf("%w: non-positive steps %d", ErrInvalidTask, task.Steps)
	}

	start := time.Now()
	trajectory := make(shared.Trajectory, 0, task.Steps+1)
	state := task.Initial.Clone()
	trajectory = append(trajectory, state)

	for step := 0; step < task.Steps; step++ {
		if step%ctxCheckStride == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		next, err := s.oracle.Advance(state, task.Rule, task.Boundary)
		if err != nil {
			return nil, fmt.Errorf("advancing step %d: %w", step, err)
		}
		trajectory = append(trajectory, next)
		state = next
	}

	simulationDuration.Observe(time.Since(start).Seconds())
	logging.FromContext(ctx).Debug("computed reference trajectory",
		zap.String("task", task.ID),
		zap.Int("steps", task.Steps),
		zap.Duration("duration", time.Since(start)),
	)

	s.cache.Add(task.ID, trajectory)
	return trajectory.Clone(), nil
}
