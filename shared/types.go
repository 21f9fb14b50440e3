package shared

import (
	"time"
)

// Rule identifies a 1-D elementary cellular automaton by its Wolfram number.
// The rule's truth table maps every 3-cell neighborhood (left, center, right)
// to the next value of the center cell.
type Rule uint8

// Boundary names the policy applied at the edges of the grid. It travels
// inside the task so that miners and the validator can never disagree on it.
type Boundary string

const (
	// BoundaryPeriodic wraps the grid around, i.e. the left neighbor of
	// cell 0 is the last cell.
	BoundaryPeriodic Boundary = "periodic"
)

// State is one generation of the automaton. Cells are binary (0 or 1).
type State []uint8

// Trajectory is the full evolution of a task: the initial state followed
// by one state per simulated step.
type Trajectory []State

// Task is a fully specified, reproducible simulation instance.
// It is immutable once created.
type Task struct {
	ID       string
	Epoch    uint
	Rule     Rule
	Width    int
	Steps    int
	Seed     []byte
	Boundary Boundary
	Initial  State
}

// ResponseKind tags how a miner's reply should be treated by the scorer.
type ResponseKind int

const (
	// WellFormed replies carry a trajectory of the expected shape.
	WellFormed ResponseKind = iota
	// Malformed replies were received in time but do not conform to the
	// task (wrong length, wrong width or non-binary cells). They are kept
	// so that the miner is scored (to zero) instead of silently excused.
	Malformed
	// Absent marks a miner which never replied within the window.
	// Such responses are synthesized by the scorer, never submitted.
	Absent
)

func (k ResponseKind) String() string {
	switch k {
	case WellFormed:
		return "well-formed"
	case Malformed:
		return "malformed"
	case Absent:
		return "absent"
	default:
		return "unknown"
	}
}

// Response is a single miner's reply to a task, scoped to one round.
type Response struct {
	TaskID     string
	MinerID    string
	Trajectory Trajectory
	Kind       ResponseKind
	ReceivedAt time.Time
}

// Score is the scoring outcome for one (task, miner) pair.
// Scores are never mutated after creation.
type Score struct {
	MinerID  string
	TaskID   string
	Accuracy float64
	Latency  time.Duration
	Combined float64
}

// Clone returns an independent copy of the state.
func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

// Binary reports whether every cell is in the binary alphabet.
func (s State) Binary() bool {
	for _, c := range s {
		if c > 1 {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the trajectory.
func (t Trajectory) Clone() Trajectory {
	c := make(Trajectory, len(t))
	for i, s := range t {
		c[i] = s.Clone()
	}
	return c
}

// Conforms reports whether the trajectory has the shape required by a task
// with the given width and step count: steps+1 states, each of `width`
// binary cells.
func (t Trajectory) Conforms(width, steps int) bool {
	if len(t) != steps+1 {
		return false
	}
	for _, s := range t {
		if len(s) != width || !s.Binary() {
			return false
		}
	}
	return true
}

// Conforms reports whether the response's trajectory matches the task shape.
func (r *Response) Conforms(task *Task) bool {
	return r.Trajectory.Conforms(task.Width, task.Steps)
}
