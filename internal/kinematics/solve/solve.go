// Package solve implements the damped cyclic heuristic IK solver (spec
// §4.8): repeatedly query the forward algorithm, compute the positional
// error, and take one inverse-algorithm step, until the error falls below a
// threshold or an iteration cap is hit.
package solve

import (
	"github.com/skywa04885/arm-v5/internal/kinematics"
	"github.com/skywa04885/arm-v5/internal/vecmath"
)

const (
	// DefaultThreshold is ε, the convergence radius in meters.
	DefaultThreshold = 0.01
	// DefaultMaxIterations is N, the iteration cap.
	DefaultMaxIterations = 200
)

// Result is either Reached or Unreachable, mirroring the solver's two
// possible outcomes.
type Result struct {
	Reached        bool
	Iterations     int
	DeltaMagnitude float64
	State          kinematics.State
}

// Solver is a damped cyclic IK solver. It is pure given pure Forward and
// Inverse algorithms and may be called concurrently with itself.
type Solver struct {
	inverse   kinematics.Inverse
	forward   kinematics.Forward
	threshold float64
	maxIter   int
}

// Option configures a Solver at construction.
type Option func(*Solver)

// WithThreshold overrides ε (default 0.01 m).
func WithThreshold(threshold float64) Option {
	return func(s *Solver) { s.threshold = threshold }
}

// WithMaxIterations overrides N (default 200).
func WithMaxIterations(maxIter int) Option {
	return func(s *Solver) { s.maxIter = maxIter }
}

// New constructs a Solver over the given algorithms, applying any options.
func New(inverse kinematics.Inverse, forward kinematics.Forward, opts ...Option) *Solver {
	s := &Solver{
		inverse:   inverse,
		forward:   forward,
		threshold: DefaultThreshold,
		maxIter:   DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TranslateLimb4 iterates the inverse algorithm toward target, starting
// from state, until the positional error is at most the threshold (the
// tie-break at exactly ε counts as reached) or the iteration cap is hit.
func (s *Solver) TranslateLimb4(params kinematics.Parameters, state kinematics.State, target vecmath.Vector3) (Result, error) {
	newState := state
	for iterations := 0; iterations < s.maxIter; iterations++ {
		current := s.forward.Limb4Position(params, newState)
		delta := target.Sub(current)
		magnitude := delta.Magnitude()
		if magnitude <= s.threshold {
			return Result{Reached: true, Iterations: iterations, DeltaMagnitude: magnitude, State: newState}, nil
		}

		next, err := s.inverse.TranslateLimb4(params, newState, delta)
		if err != nil {
			//1.- The inverse algorithm already wraps its own failure as ErrInversion;
			// propagate it unchanged rather than double-wrapping.
			return Result{}, err
		}
		newState = next
	}
	return Result{Reached: false}, nil
}
