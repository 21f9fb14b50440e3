// Package collector gathers miner responses for a task within a bounded
// collection window.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/vn-automata/automata/logging"
	"github.com/vn-automata/automata/shared"
)

var (
	// ErrDeadlineExceeded rejects responses arriving past the window.
	// The response is excluded, the round is unaffected.
	ErrDeadlineExceeded = errors.New("collection window closed")
	// ErrDuplicateResponse rejects a second submission by the same miner.
	// The first accepted response is kept untouched.
	ErrDuplicateResponse = errors.New("response already submitted by miner")
	// ErrWrongTask rejects responses addressed to a different task.
	ErrWrongTask = errors.New("response is for a different task")

	responsesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "automata",
		Subsystem: "collector",
		Name:      "responses_total",
		Help:      "Responses by submission outcome",
	}, []string{"outcome"})
)

// Window is the collection barrier of a single round. Submissions resolve
// to a single atomic accept/reject decision with respect to the deadline
// and the accept-once-per-miner rule, so concurrent submissions by the
// same miner can never yield two accepted responses.
type Window struct {
	task     shared.Task
	opened   time.Time
	deadline time.Time

	mu       sync.Mutex
	accepted map[string]shared.Response
	closed   bool

	done  chan struct{}
	timer *time.Timer
}

// Open starts a collection window for the task, closing at the deadline.
func Open(ctx context.Context, task shared.Task, deadline time.Time) *Window {
	w := &Window{
		task:     task,
		opened:   time.Now(),
		deadline: deadline,
		accepted: make(map[string]shared.Response),
		done:     make(chan struct{}),
	}
	w.timer = time.AfterFunc(time.Until(deadline), w.close)
	logging.FromContext(ctx).Debug("collection window opened",
		zap.String("task", task.ID),
		zap.Time("deadline", deadline),
	)
	return w
}

// Submit records a miner's response. Malformed responses (wrong shape or
// alphabet) are accepted and flagged so the miner is penalized by the
// scorer instead of silently dropped.
func (w *Window) Submit(resp shared.Response) error {
	if resp.TaskID != w.task.ID {
		responsesMetric.WithLabelValues("wrong_task").Inc()
		return fmt.Errorf("%w: got %s, collecting %s", ErrWrongTask, resp.TaskID, w.task.ID)
	}
	if resp.ReceivedAt.IsZero() {
		resp.ReceivedAt = time.Now()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || resp.ReceivedAt.After(w.deadline) {
		responsesMetric.WithLabelValues("late").Inc()
		return fmt.Errorf("%w: task %s, miner %s", ErrDeadlineExceeded, w.task.ID, resp.MinerID)
	}
	if _, ok := w.accepted[resp.MinerID]; ok {
		responsesMetric.WithLabelValues("duplicate").Inc()
		return fmt.Errorf("%w: miner %s", ErrDuplicateResponse, resp.MinerID)
	}

	if resp.Conforms(&w.task) {
		resp.Kind = shared.WellFormed
		responsesMetric.WithLabelValues("accepted").Inc()
	} else {
		resp.Kind = shared.Malformed
		responsesMetric.WithLabelValues("malformed").Inc()
	}
	w.accepted[resp.MinerID] = resp
	return nil
}

// Closed is closed once the window no longer accepts submissions.
func (w *Window) Closed() <-chan struct{} {
	return w.done
}

// Await blocks until the deadline elapses and returns the accepted
// responses, ordered by miner id. Cancellation aborts the window early
// and returns no responses, so a cancelled round never produces a
// partial result.
func (w *Window) Await(ctx context.Context) ([]shared.Response, error) {
	select {
	case <-w.done:
		return w.snapshot(), nil
	case <-ctx.Done():
		w.Abort()
		return nil, ctx.Err()
	}
}

// Abort closes the window immediately, discarding nothing already
// accepted but rejecting all further submissions.
func (w *Window) Abort() {
	w.timer.Stop()
	w.close()
}

func (w *Window) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.done)
}

func (w *Window) snapshot() []shared.Response {
	w.mu.Lock()
	defer w.mu.Unlock()
	responses := make([]shared.Response, 0, len(w.accepted))
	for _, resp := range w.accepted {
		responses = append(responses, resp)
	}
	sort.Slice(responses, func(i, j int) bool {
		return responses[i].MinerID < responses[j].MinerID
	})
	return responses
}
