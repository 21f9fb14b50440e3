// Package rulespace defines the universe of valid cellular-automaton
// configurations and samples concrete instances from it.
package rulespace

import (
	"errors"
	"fmt"

	"github.com/vn-automata/automata/shared"
)

var (
	// ErrResourceBound is returned when a rule/width/steps combination
	// would exceed the configured simulation cost bound.
	ErrResourceBound = errors.New("task exceeds resource bound")
	// ErrUnknownRule is returned for rules outside the space's catalogue.
	ErrUnknownRule = errors.New("rule is not in the catalogue")
)

// Catalogue is the default set of sampled rules: the class 3/4 Wolfram
// elementary rules known for chaotic or complex behavior. Any elementary
// rule can be validated and simulated; only these are drawn by Sample.
var Catalogue = []shared.Rule{30, 54, 62, 110, 124, 126}

//nolint:lll
type Config struct {
	MinWidth int `long:"min-width" description:"Minimum sampled grid width"`
	MaxWidth int `long:"max-width" description:"Maximum sampled grid width"`
	MinSteps int `long:"min-steps" description:"Minimum sampled number of steps"`
	MaxSteps int `long:"max-steps" description:"Maximum sampled number of steps"`

	// MaxCells bounds the total simulation cost: width * (steps + 1)
	// cells per trajectory. Instances beyond it are rejected.
	MaxCells int `long:"max-cells" description:"Maximum number of trajectory cells (width * (steps+1))"`
}

func DefaultConfig() Config {
	return Config{
		MinWidth: 250,
		MaxWidth: 500,
		MinSteps: 250,
		MaxSteps: 500,
		MaxCells: 1 << 22,
	}
}

// Instance is one sampled point of the space: the parameters of a task
// minus its identity.
type Instance struct {
	Rule    shared.Rule
	Width   int
	Steps   int
	Initial shared.State
}

// Space validates and samples CA configurations.
type Space struct {
	cfg   Config
	rules []shared.Rule
}

// New creates a rule space over the given catalogue (Catalogue when empty).
// Invalid configuration is a startup failure, not a per-round one.
func New(cfg Config, rules ...shared.Rule) (*Space, error) {
	if len(rules) == 0 {
		rules = Catalogue
	}
	switch {
	case cfg.MinWidth < 1 || cfg.MaxWidth < cfg.MinWidth:
		return nil, fmt.Errorf("invalid width range [%d, %d]", cfg.MinWidth, cfg.MaxWidth)
	case cfg.MinSteps < 1 || cfg.MaxSteps < cfg.MinSteps:
		return nil, fmt.Errorf("invalid steps range [%d, %d]", cfg.MinSteps, cfg.MaxSteps)
	case cfg.MaxCells < 1:
		return nil, fmt.Errorf("invalid resource bound %d", cfg.MaxCells)
	}
	return &Space{cfg: cfg, rules: append([]shared.Rule{}, rules...)}, nil
}

// Validate checks a concrete rule/width/steps combination against the
// space, including the resource bound.
func (s *Space) Validate(rule shared.Rule, width, steps int) error {
	if !s.contains(rule) {
		return fmt.Errorf("%w: rule %d", ErrUnknownRule, rule)
	}
	if width < s.cfg.MinWidth || width > s.cfg.MaxWidth {
		return fmt.Errorf("width %d outside [%d, %d]", width, s.cfg.MinWidth, s.cfg.MaxWidth)
	}
	if steps < s.cfg.MinSteps || steps > s.cfg.MaxSteps {
		return fmt.Errorf("steps %d outside [%d, %d]", steps, s.cfg.MinSteps, s.cfg.MaxSteps)
	}
	if cells := width * (steps + 1); cells > s.cfg.MaxCells {
		return fmt.Errorf("%w: %d cells > %d", ErrResourceBound, cells, s.cfg.MaxCells)
	}
	return nil
}

// Sample draws an instance as a pure function of the seed: the same seed
// always yields a bit-identical instance, which is what makes tasks
// auditable by any party holding the seed.
func (s *Space) Sample(seed []byte) (Instance, error) {
	stream := shared.NewSeedStream(seed)

	inst := Instance{
		Rule:  s.rules[stream.Intn(len(s.rules))],
		Width: s.cfg.MinWidth + stream.Intn(s.cfg.MaxWidth-s.cfg.MinWidth+1),
		Steps: s.cfg.MinSteps + stream.Intn(s.cfg.MaxSteps-s.cfg.MinSteps+1),
	}
	if cells := inst.Width * (inst.Steps + 1); cells > s.cfg.MaxCells {
		return Instance{}, fmt.Errorf("%w: %d cells > %d", ErrResourceBound, cells, s.cfg.MaxCells)
	}

	inst.Initial = make(shared.State, inst.Width)
	for i := range inst.Initial {
		inst.Initial[i] = stream.Bit()
	}
	return inst, nil
}

func (s *Space) contains(rule shared.Rule) bool {
	for _, r := range s.rules {
		if r == rule {
			return true
		}
	}
	return false
}
