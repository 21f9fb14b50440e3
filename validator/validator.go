// Package validator drives the full task lifecycle: generate a task,
// dispatch it, compute the reference trajectory while responses come in,
// score the responses and emit the resulting weights.
package validator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vn-automata/automata/collector"
	"github.com/vn-automata/automata/generator"
	"github.com/vn-automata/automata/logging"
	"github.com/vn-automata/automata/scorer"
	"github.com/vn-automata/automata/shared"
	"github.com/vn-automata/automata/simulator"
	"github.com/vn-automata/automata/weights"
)

var roundsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "automata",
	Subsystem: "validator",
	Name:      "rounds_total",
	Help:      "Finished rounds by outcome",
}, []string{"outcome"})

// Transport is the validator-side surface of the wire collaborator.
type Transport interface {
	Dispatch(ctx context.Context, task shared.Task, recipients []string) error
	Responses() <-chan shared.Response
}

// WeightSetter receives the normalized weights derived from each round.
// Translating them into durable network effects is its business; the
// validator's obligation ends at producing them.
type WeightSetter interface {
	SetWeights(ctx context.Context, epoch uint, weights map[string]float64) error
}

// MinerSet names the miners eligible for a round.
type MinerSet interface {
	Miners(ctx context.Context) ([]string, error)
}

//nolint:lll
type Config struct {
	Window                time.Duration `long:"window"                  description:"Response collection window per round"`
	Interval              time.Duration `long:"interval"                description:"Pause between consecutive rounds"`
	SampleSize            int           `long:"sample-size"             description:"Number of miners queried per round (0 = all)"`
	DispatchRetries       int           `long:"dispatch-retries"        description:"Transient dispatch failures tolerated per round"`
	DispatchRetryInterval time.Duration `long:"dispatch-retry-interval" description:"Delay between dispatch retries"`
}

func DefaultConfig() Config {
	return Config{
		Window:                10 * time.Second,
		Interval:              10 * time.Second,
		DispatchRetries:       3,
		DispatchRetryInterval: time.Second,
	}
}

type Validator struct {
	cfg    Config
	gen    *generator.Generator
	sim    *simulator.Simulator
	scorer *scorer.Scorer
	ledger *weights.Ledger

	transport Transport
	setter    WeightSetter
	miners    MinerSet

	rounds roundTracker
}

func New(
	cfg Config,
	gen *generator.Generator,
	sim *simulator.Simulator,
	sc *scorer.Scorer,
	ledger *weights.Ledger,
	tr Transport,
	setter WeightSetter,
	miners MinerSet,
) (*Validator, error) {
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("non-positive collection window %v", cfg.Window)
	}
	if cfg.DispatchRetries < 0 {
		return nil, fmt.Errorf("negative dispatch retries %d", cfg.DispatchRetries)
	}
	return &Validator{
		cfg:       cfg,
		gen:       gen,
		sim:       sim,
		scorer:    sc,
		ledger:    ledger,
		transport: tr,
		setter:    setter,
		miners:    miners,
	}, nil
}

// Run executes rounds until the context is cancelled. A failed round is
// logged and counted; it never corrupts the rounds after it. On shutdown,
// a round that already closed its collection window finishes scoring with
// the responses it has, so no partial score set is ever emitted.
func (v *Validator) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx).Named("validator")
	ctx = logging.NewContext(ctx, logger)
	inbound := v.transport.Responses()

	defer v.rounds.wait()

	for epoch := uint(0); ; epoch++ {
		r := v.rounds.start(epoch)
		if err := v.runRound(ctx, r, inbound); err != nil {
			r.setPhase(PhaseFailed)
			roundsMetric.WithLabelValues("failed").Inc()
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("round failed", zap.Uint("epoch", epoch), zap.Error(err))
		}

		timer := time.NewTimer(v.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Info reports the current round and its phase.
func (v *Validator) Info() (epoch uint, phase Phase) {
	return v.rounds.info()
}

func (v *Validator) runRound(ctx context.Context, r *round, inbound <-chan shared.Response) error {
	logger := logging.FromContext(ctx).With(zap.Uint("epoch", r.epoch))
	ctx = logging.NewContext(ctx, logger)

	r.setPhase(PhaseGenerating)
	task, err := v.gen.NextTask(ctx, r.epoch)
	if err != nil {
		return fmt.Errorf("generating task: %w", err)
	}
	logger.Info("task generated",
		zap.String("task", task.ID),
		zap.Uint8("rule", uint8(task.Rule)),
		zap.Int("width", task.Width),
		zap.Int("steps", task.Steps),
	)

	recipients, err := v.miners.Miners(ctx)
	if err != nil {
		return fmt.Errorf("resolving miner set: %w", err)
	}
	recipients = sampleMiners(recipients, v.cfg.SampleSize)
	if len(recipients) == 0 {
		logger.Info("no miners to query, skipping round")
		r.setPhase(PhaseComplete)
		roundsMetric.WithLabelValues("empty").Inc()
		return nil
	}

	r.setPhase(PhaseDispatched)
	roundStart := time.Now()
	err = shared.Retry(ctx, func() error {
		return v.transport.Dispatch(ctx, task, recipients)
	}, v.cfg.DispatchRetries, v.cfg.DispatchRetryInterval, func(err error) {
		logger.Warn("dispatch failed, retrying", zap.Error(err))
	})
	if err != nil {
		return fmt.Errorf("dispatching task: %w", err)
	}

	r.setPhase(PhaseCollecting)
	win := collector.Open(ctx, task, roundStart.Add(v.cfg.Window))

	var reference shared.Trajectory
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		// The reference computation races the miners; determinism of the
		// simulator is what makes that safe.
		ref, err := v.sim.Simulate(egCtx, task)
		if err != nil {
			return fmt.Errorf("reference simulation: %w", err)
		}
		reference = ref
		return nil
	})
	eg.Go(func() error {
		return pumpResponses(egCtx, win, inbound)
	})
	if err := eg.Wait(); err != nil {
		win.Abort()
		return err
	}
	responses, err := win.Await(ctx)
	if err != nil {
		return err
	}
	logger.Info("collection window closed", zap.Int("responses", len(responses)))

	// Scoring is detached from the run loop: the next round may start
	// generating while this one finishes, and a shutdown after the
	// window closed still yields a complete score set.
	r.setPhase(PhaseScoring)
	scoreCtx := logging.NewContext(context.Background(), logger)
	v.rounds.detach(func() {
		v.scoreRound(scoreCtx, r, task, reference, responses, recipients, roundStart)
	})
	return nil
}

func (v *Validator) scoreRound(
	ctx context.Context,
	r *round,
	task shared.Task,
	reference shared.Trajectory,
	responses []shared.Response,
	recipients []string,
	roundStart time.Time,
) {
	logger := logging.FromContext(ctx)

	scores := v.scorer.Score(ctx, reference, task, responses, recipients, roundStart, v.cfg.Window)
	rewards := scorer.Normalize(scores)
	if err := v.ledger.Update(ctx, rewards); err != nil {
		logger.Error("failed to update weights ledger", zap.Error(err))
		r.setPhase(PhaseFailed)
		roundsMetric.WithLabelValues("failed").Inc()
		return
	}

	if err := v.setter.SetWeights(ctx, r.epoch, v.ledger.Weights()); err != nil {
		// The scores exist and are durable; emission is the
		// collaborator's duty to recover.
		logger.Warn("weight setter rejected update", zap.Error(err))
	}

	r.setPhase(PhaseComplete)
	roundsMetric.WithLabelValues("complete").Inc()
	logger.Info("round complete", zap.Int("scores", len(scores)))
}

func pumpResponses(ctx context.Context, win *collector.Window, inbound <-chan shared.Response) error {
	logger := logging.FromContext(ctx)
	for {
		select {
		case <-win.Closed():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case resp := <-inbound:
			if err := win.Submit(resp); err != nil {
				// Per-response failures never fail the round.
				logger.Debug("response rejected",
					zap.String("miner", resp.MinerID),
					zap.Error(err),
				)
			}
		}
	}
}

func sampleMiners(miners []string, size int) []string {
	if size <= 0 || size >= len(miners) {
		return miners
	}
	sampled := append([]string{}, miners...)
	rand.Shuffle(len(sampled), func(i, j int) {
		sampled[i], sampled[j] = sampled[j], sampled[i]
	})
	return sampled[:size]
}
