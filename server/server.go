// Package server assembles the validator process from its parts: the
// rule space, task generator, reference simulator, scorer, weights
// ledger, transport and the optional in-process miners.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vn-automata/automata/config"
	"github.com/vn-automata/automata/generator"
	"github.com/vn-automata/automata/logging"
	"github.com/vn-automata/automata/miner"
	"github.com/vn-automata/automata/rulespace"
	"github.com/vn-automata/automata/scorer"
	"github.com/vn-automata/automata/simulator"
	"github.com/vn-automata/automata/transport"
	"github.com/vn-automata/automata/validator"
	"github.com/vn-automata/automata/weights"
)

type Server struct {
	cfg    config.Config
	ledger *weights.Ledger
	val    *validator.Validator
	miners []*miner.Miner

	metricsListener net.Listener
}

// staticMiners serves the miner ids configured at startup. A deployment
// with a real network substrate would resolve them from its registry
// instead.
type staticMiners []string

func (m staticMiners) Miners(context.Context) ([]string, error) {
	return m, nil
}

// loggedWeights records emitted weights in the log. The durable record
// lives in the ledger; pushing weights to an external chain is the
// business of a network integration, not of this process.
type loggedWeights struct{}

func (loggedWeights) SetWeights(ctx context.Context, epoch uint, w map[string]float64) error {
	logging.FromContext(ctx).Info("weights emitted",
		zap.Uint("epoch", epoch),
		zap.Any("weights", w),
	)
	return nil
}

func New(ctx context.Context, cfg config.Config) (*Server, error) {
	space, err := rulespace.New(cfg.RuleSpace)
	if err != nil {
		return nil, fmt.Errorf("creating rule space: %w", err)
	}
	state, err := generator.NewRoundState()
	if err != nil {
		return nil, fmt.Errorf("seeding round state: %w", err)
	}
	sim, err := simulator.New()
	if err != nil {
		return nil, fmt.Errorf("creating simulator: %w", err)
	}
	sc, err := scorer.New(cfg.Scorer)
	if err != nil {
		return nil, fmt.Errorf("creating scorer: %w", err)
	}
	ledger, err := weights.Open(ctx, cfg.DataDir, cfg.Weights)
	if err != nil {
		return nil, fmt.Errorf("opening weights ledger: %w", err)
	}

	tr := transport.NewInMemory()
	miners := make([]*miner.Miner, 0, len(cfg.Miners))
	for _, id := range cfg.Miners {
		m, err := miner.New(id, tr)
		if err != nil {
			ledger.Close()
			return nil, fmt.Errorf("creating miner %q: %w", id, err)
		}
		miners = append(miners, m)
	}

	val, err := validator.New(
		cfg.Validator,
		generator.New(space, state),
		sim,
		sc,
		ledger,
		tr,
		loggedWeights{},
		staticMiners(cfg.Miners),
	)
	if err != nil {
		ledger.Close()
		return nil, fmt.Errorf("creating validator: %w", err)
	}

	var metricsListener net.Listener
	if cfg.MetricsPort != nil {
		metricsListener, err = net.Listen("tcp", fmt.Sprintf(":%d", *cfg.MetricsPort))
		if err != nil {
			ledger.Close()
			return nil, fmt.Errorf("listening for metrics: %w", err)
		}
	}

	return &Server{
		cfg:             cfg,
		ledger:          ledger,
		val:             val,
		miners:          miners,
		metricsListener: metricsListener,
	}, nil
}

func (s *Server) Close() error {
	return s.ledger.Close()
}

// Validator exposes the round loop for introspection.
func (s *Server) Validator() *validator.Validator {
	return s.val
}

// MetricsAddr returns the address the metrics endpoint listens on, or
// nil when metrics are disabled.
func (s *Server) MetricsAddr() net.Addr {
	if s.metricsListener == nil {
		return nil
	}
	return s.metricsListener.Addr()
}

// Start runs the validator loop and the configured in-process miners
// until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	serverGroup, ctx := errgroup.WithContext(ctx)

	logger := logging.FromContext(ctx)

	for _, m := range s.miners {
		m := m
		serverGroup.Go(func() error {
			return m.Run(ctx)
		})
	}

	logger.Info("starting validator round loop",
		zap.Duration("window", s.cfg.Validator.Window),
		zap.Duration("interval", s.cfg.Validator.Interval),
		zap.Int("miners", len(s.cfg.Miners)),
	)
	serverGroup.Go(func() error {
		return s.val.Run(ctx)
	})

	var metricsServer *http.Server
	if s.metricsListener != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: time.Second * 5}
		serverGroup.Go(func() error {
			logger.Sugar().Infof("metrics listening on %s", s.metricsListener.Addr())
			err := metricsServer.Serve(s.metricsListener)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	<-ctx.Done()
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Sugar().Errorf("failed to shutdown metrics server: %s", err)
		}
	}
	if err := serverGroup.Wait(); err != nil {
		logger.Sugar().Errorf("error when waiting for services to shut down: %s", err)
	}
	return nil
}
