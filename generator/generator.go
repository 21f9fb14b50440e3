// Package generator produces simulation tasks from a rule space, backed by
// a never-reused seed source.
package generator

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/vn-automata/automata/logging"
	"github.com/vn-automata/automata/rulespace"
	"github.com/vn-automata/automata/shared"
)

// ErrGenerationExhausted is returned when no valid instance could be
// sampled within the configured number of attempts.
var ErrGenerationExhausted = errors.New("task generation exhausted")

const defaultMaxAttempts = 10

// RoundState is the injected seed source shared by all generators of a
// process. Seeds are derived from a fixed entropy block and an atomically
// advancing counter, so a seed is never handed out twice - a reused seed
// would let a miner replay a cached answer.
type RoundState struct {
	entropy []byte
	counter atomic.Uint64
}

func NewRoundState() (*RoundState, error) {
	entropy := make([]byte, 32)
	if _, err := rand.Read(entropy); err != nil {
		return nil, fmt.Errorf("reading entropy: %w", err)
	}
	return &RoundState{entropy: entropy}, nil
}

// NextSeed draws a fresh seed. Safe for concurrent use.
func (s *RoundState) NextSeed() []byte {
	n := s.counter.Add(1)
	return shared.DeriveSeed(s.entropy, n)
}

// Counter returns the number of seeds drawn so far.
func (s *RoundState) Counter() uint64 {
	return s.counter.Load()
}

type Generator struct {
	space       *rulespace.Space
	state       *RoundState
	maxAttempts int
}

type optionFunc func(*Generator)

// WithMaxAttempts bounds the number of sampling attempts per task.
func WithMaxAttempts(n int) optionFunc {
	return func(g *Generator) {
		g.maxAttempts = n
	}
}

func New(space *rulespace.Space, state *RoundState, opts ...optionFunc) *Generator {
	g := &Generator{
		space:       space,
		state:       state,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NextTask samples a fresh task for the given epoch. Samples rejected by
// the resource bound are retried with a fresh seed up to the attempt
// bound; the seed counter keeps advancing across retries so rejected
// seeds are burned, never recycled.
func (g *Generator) NextTask(ctx context.Context, epoch uint) (shared.Task, error) {
	logger := logging.FromContext(ctx)

	var lastErr error
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return shared.Task{}, err
		}

		seed := g.state.NextSeed()
		inst, err := g.space.Sample(seed)
		if err != nil {
			lastErr = err
			logger.Debug("rejected sampled instance",
				zap.Uint("epoch", epoch),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}

		return shared.Task{
			ID:       shared.TaskID(seed, epoch),
			Epoch:    epoch,
			Rule:     inst.Rule,
			Width:    inst.Width,
			Steps:    inst.Steps,
			Seed:     seed,
			Boundary: shared.BoundaryPeriodic,
			Initial:  inst.Initial,
		}, nil
	}

	return shared.Task{}, fmt.Errorf("%w after %d attempts: %w", ErrGenerationExhausted, g.maxAttempts, lastErr)
}
