// Package scorer reduces (reference trajectory, miner responses, latency)
// into comparable reward scores.
package scorer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/vn-automata/automata/logging"
	"github.com/vn-automata/automata/shared"
)

var (
	accuracyMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "automata",
		Subsystem: "scorer",
		Name:      "accuracy",
		Help:      "Accuracy of scored responses",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})

	scoredMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "automata",
		Subsystem: "scorer",
		Name:      "responses_total",
		Help:      "Scored responses by kind",
	}, []string{"kind"})
)

//nolint:lll
type Config struct {
	// SpeedWeight is how much of the combined score latency may take
	// away. At 0 latency is ignored; it must stay below 1 so that
	// accuracy always dominates: a fast wrong answer can never outscore
	// a slow correct one beyond this bound.
	SpeedWeight float64 `long:"speed-weight" description:"Fraction of the combined score governed by latency (0 <= w < 1)"`
}

// The default weight is deliberately small: latency is a tie-breaker
// between near-equal accuracies, so even a fraction of a percent of
// accuracy advantage survives a large latency gap.
func DefaultConfig() Config {
	return Config{SpeedWeight: 0.01}
}

type Scorer struct {
	cfg Config
}

func New(cfg Config) (*Scorer, error) {
	if cfg.SpeedWeight < 0 || cfg.SpeedWeight >= 1 {
		return nil, fmt.Errorf("speed weight %v outside [0, 1)", cfg.SpeedWeight)
	}
	return &Scorer{cfg: cfg}, nil
}

// Accuracy is the per-state Hamming similarity between a response and the
// reference, averaged over all states. A trajectory of the wrong shape
// scores zero; it never raises.
func Accuracy(reference, response shared.Trajectory) float64 {
	if len(reference) == 0 || len(response) != len(reference) {
		return 0
	}
	total := 0.0
	for i, refState := range reference {
		got := response[i]
		if len(got) != len(refState) || len(refState) == 0 {
			return 0
		}
		matches := 0
		for j, cell := range refState {
			if got[j] == cell {
				matches++
			}
		}
		total += float64(matches) / float64(len(refState))
	}
	return total / float64(len(reference))
}

// Score produces exactly one score per recipient of the task. Miners that
// never responded are scored as a last-place, all-wrong response: accuracy
// zero at full-window latency. Malformed responses score zero accuracy.
func (s *Scorer) Score(
	ctx context.Context,
	reference shared.Trajectory,
	task shared.Task,
	responses []shared.Response,
	recipients []string,
	roundStart time.Time,
	window time.Duration,
) []shared.Score {
	logger := logging.FromContext(ctx).With(zap.String("task", task.ID))

	byMiner := make(map[string]shared.Response, len(responses))
	for _, resp := range responses {
		byMiner[resp.MinerID] = resp
	}

	scores := make([]shared.Score, 0, len(recipients))
	for _, miner := range recipients {
		resp, ok := byMiner[miner]
		if !ok {
			resp = shared.Response{
				TaskID:  task.ID,
				MinerID: miner,
				Kind:    shared.Absent,
			}
		}
		score := s.scoreOne(reference, task, resp, roundStart, window)
		scoredMetric.WithLabelValues(resp.Kind.String()).Inc()
		accuracyMetric.Observe(score.Accuracy)
		logger.Debug("scored response",
			zap.String("miner", miner),
			zap.String("kind", resp.Kind.String()),
			zap.Float64("accuracy", score.Accuracy),
			zap.Duration("latency", score.Latency),
			zap.Float64("combined", score.Combined),
		)
		scores = append(scores, score)
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].MinerID < scores[j].MinerID })
	return scores
}

func (s *Scorer) scoreOne(
	reference shared.Trajectory,
	task shared.Task,
	resp shared.Response,
	roundStart time.Time,
	window time.Duration,
) shared.Score {
	score := shared.Score{
		MinerID: resp.MinerID,
		TaskID:  task.ID,
		Latency: window,
	}

	switch resp.Kind {
	case shared.WellFormed:
		score.Accuracy = Accuracy(reference, resp.Trajectory)
		score.Latency = clampLatency(resp.ReceivedAt.Sub(roundStart), window)
	case shared.Malformed:
		score.Latency = clampLatency(resp.ReceivedAt.Sub(roundStart), window)
	case shared.Absent:
		// accuracy 0 at full-window latency
	}

	score.Combined = score.Accuracy * s.latencyFactor(score.Latency, window)
	return score
}

// latencyFactor maps latency into [1-SpeedWeight, 1], decreasing linearly
// over the window. Monotonicity keeps the ordering guarantee: with equal
// accuracy, the faster response never scores lower.
func (s *Scorer) latencyFactor(latency, window time.Duration) float64 {
	if window <= 0 {
		return 1
	}
	frac := float64(latency) / float64(window)
	if frac > 1 {
		frac = 1
	}
	return 1 - s.cfg.SpeedWeight*frac
}

func clampLatency(latency, window time.Duration) time.Duration {
	if latency < 0 {
		return 0
	}
	if latency > window {
		return window
	}
	return latency
}

// Normalize turns the combined scores of one round into weights summing
// to one. An all-zero round yields all-zero weights - degenerate but
// complete, so the round still emits a score for every miner.
func Normalize(scores []shared.Score) map[string]float64 {
	weights := make(map[string]float64, len(scores))
	sum := 0.0
	for _, s := range scores {
		sum += s.Combined
	}
	for _, s := range scores {
		if sum > 0 {
			weights[s.MinerID] = s.Combined / sum
		} else {
			weights[s.MinerID] = 0
		}
	}
	return weights
}
