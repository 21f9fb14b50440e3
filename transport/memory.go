// Package transport binds the validator to miners. The wire protocol is an
// external collaborator; this package carries the in-memory implementation
// used in standalone mode and in tests.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vn-automata/automata/logging"
	"github.com/vn-automata/automata/shared"
)

const defaultInboundBuffer = 64

// InMemory delivers tasks and responses over channels. Each subscribed
// miner gets its own task feed; all responses funnel into a single
// inbound channel consumed by the validator.
type InMemory struct {
	mu   sync.Mutex
	subs map[string]chan shared.Task

	responses chan shared.Response
}

func NewInMemory() *InMemory {
	return &InMemory{
		subs:      make(map[string]chan shared.Task),
		responses: make(chan shared.Response, defaultInboundBuffer),
	}
}

// Dispatch delivers the task to every recipient currently subscribed.
// Recipients without a live subscription are skipped: an unreachable
// miner is the miner's problem, scored as absent, never the round's.
func (m *InMemory) Dispatch(ctx context.Context, task shared.Task, recipients []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger := logging.FromContext(ctx).With(
		zap.String("task", task.ID),
		zap.String("delivery", uuid.New().String()),
	)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, recipient := range recipients {
		sub, ok := m.subs[recipient]
		if !ok {
			logger.Debug("recipient not subscribed - dropping", zap.String("miner", recipient))
			continue
		}
		select {
		case sub <- task:
		default:
			logger.Debug("recipient feed full - dropping", zap.String("miner", recipient))
		}
	}
	logger.Debug("task dispatched", zap.Int("recipients", len(recipients)))
	return nil
}

// Responses is the validator's inbound response channel.
func (m *InMemory) Responses() <-chan shared.Response {
	return m.responses
}

// Subscribe registers a miner and returns its task feed.
func (m *InMemory) Subscribe(minerID string) <-chan shared.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[minerID]; ok {
		return sub
	}
	sub := make(chan shared.Task, 1)
	m.subs[minerID] = sub
	return sub
}

// Respond submits a miner's reply. The receive timestamp is stamped at
// transport ingress so latency reflects arrival, not processing.
func (m *InMemory) Respond(ctx context.Context, resp shared.Response) error {
	if resp.ReceivedAt.IsZero() {
		resp.ReceivedAt = time.Now()
	}
	select {
	case m.responses <- resp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
