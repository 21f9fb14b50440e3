package validator

import (
	"sync"
	"sync/atomic"
)

// Phase is the lifecycle state of a single round.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseGenerating
	PhaseDispatched
	PhaseCollecting
	PhaseScoring
	PhaseComplete
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseGenerating:
		return "generating"
	case PhaseDispatched:
		return "dispatched"
	case PhaseCollecting:
		return "collecting"
	case PhaseScoring:
		return "scoring"
	case PhaseComplete:
		return "complete"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// round is the per-round record. Each round owns its own instance; the
// only state shared between rounds is the seed counter inside RoundState.
type round struct {
	epoch uint
	phase atomic.Int32
}

func (r *round) setPhase(p Phase) {
	// FAILED and COMPLETE are terminal.
	for {
		current := r.phase.Load()
		if Phase(current) == PhaseFailed || Phase(current) == PhaseComplete {
			return
		}
		if r.phase.CompareAndSwap(current, int32(p)) {
			return
		}
	}
}

func (r *round) Phase() Phase {
	return Phase(r.phase.Load())
}

// roundTracker keeps hold of the round currently driven by the run loop
// and of detached scoring goroutines, so shutdown can wait for them.
type roundTracker struct {
	mu      sync.Mutex
	current *round
	scoring sync.WaitGroup
}

func (t *roundTracker) start(epoch uint) *round {
	r := &round{epoch: epoch}
	t.mu.Lock()
	t.current = r
	t.mu.Unlock()
	return r
}

func (t *roundTracker) info() (uint, Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return 0, PhaseIdle
	}
	return t.current.epoch, t.current.Phase()
}

func (t *roundTracker) detach(f func()) {
	t.scoring.Add(1)
	go func() {
		defer t.scoring.Done()
		f()
	}()
}

func (t *roundTracker) wait() {
	t.scoring.Wait()
}
