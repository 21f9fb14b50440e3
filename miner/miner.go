// Package miner implements a reference miner: it subscribes to a task
// feed, simulates each task and submits the resulting trajectory. It is
// used by the standalone server and by end-to-end tests.
package miner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vn-automata/automata/logging"
	"github.com/vn-automata/automata/shared"
	"github.com/vn-automata/automata/simulator"
)

// Feed is the miner-side surface of the transport.
type Feed interface {
	Subscribe(minerID string) <-chan shared.Task
	Respond(ctx context.Context, resp shared.Response) error
}

type Miner struct {
	id   string
	feed Feed
	sim  *simulator.Simulator

	delay  time.Duration
	tamper func(shared.Trajectory) shared.Trajectory
}

type optionFunc func(*Miner)

// WithDelay makes the miner hold each answer for the given duration
// before submitting, simulating a slow worker.
func WithDelay(d time.Duration) optionFunc {
	return func(m *Miner) {
		m.delay = d
	}
}

// WithTamper post-processes each computed trajectory before submission.
// Tests use it to model dishonest or buggy miners.
func WithTamper(f func(shared.Trajectory) shared.Trajectory) optionFunc {
	return func(m *Miner) {
		m.tamper = f
	}
}

func New(id string, feed Feed, opts ...optionFunc) (*Miner, error) {
	sim, err := simulator.New()
	if err != nil {
		return nil, fmt.Errorf("creating miner simulator: %w", err)
	}
	m := &Miner{
		id:   id,
		feed: feed,
		sim:  sim,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Run consumes the task feed until the context is cancelled. A failed
// task is skipped; the miner is then scored as absent for that round.
func (m *Miner) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx).Named("miner").With(zap.String("id", m.id))
	ctx = logging.NewContext(ctx, logger)
	tasks := m.feed.Subscribe(m.id)

	for {
		select {
		case <-ctx.Done():
			return nil
		case task := <-tasks:
			if err := m.handle(ctx, task); err != nil {
				logger.Warn("failed to answer task", zap.String("task", task.ID), zap.Error(err))
			}
		}
	}
}

func (m *Miner) handle(ctx context.Context, task shared.Task) error {
	start := time.Now()
	trajectory, err := m.sim.Simulate(ctx, task)
	if err != nil {
		return fmt.Errorf("simulating: %w", err)
	}
	if m.tamper != nil {
		trajectory = m.tamper(trajectory)
	}
	if m.delay > 0 {
		timer := time.NewTimer(m.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	logging.FromContext(ctx).Debug("submitting answer",
		zap.String("task", task.ID),
		zap.Duration("took", time.Since(start)),
	)
	return m.feed.Respond(ctx, shared.Response{
		TaskID:     task.ID,
		MinerID:    m.id,
		Trajectory: trajectory,
	})
}
