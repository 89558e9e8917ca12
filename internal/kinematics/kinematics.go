// Package kinematics defines the forward and inverse algorithm contracts
// shared by the IK solver and the host-facing visualization surface, plus a
// watch-style holder for the arm's live joint state (spec §3, §4.7).
package kinematics

import (
	"sync"

	"github.com/skywa04885/arm-v5/internal/vecmath"
)

// Parameters is a static description of the arm: per-joint limb length,
// joint offset, and rotation axis. Immutable after construction.
type Parameters struct {
	LimbLengths  [5]float64
	JointOffsets [5]vecmath.Vector3
	RotationAxes [5]vecmath.Vector3
}

// State is the arm's five joint angles, in radians.
type State struct {
	Angles [5]float64
}

// Forward computes joint and end-effector geometry from Parameters and a
// State. Every method is total and deterministic; none may fail.
type Forward interface {
	Limb0Position(params Parameters, state State) vecmath.Vector3
	Limb1Position(params Parameters, state State) vecmath.Vector3
	Limb2Position(params Parameters, state State) vecmath.Vector3
	Limb3Position(params Parameters, state State) vecmath.Vector3
	Limb4Position(params Parameters, state State) vecmath.Vector3
	Limb4Euler(params Parameters, state State) vecmath.Vector3
	Limb4OrientationMatrix(params Parameters, state State) vecmath.Matrix3
}

// Inverse produces a single incremental state update toward a target delta.
// It is pure and may be called concurrently with itself.
type Inverse interface {
	// TranslateLimb4 returns the state reached by nudging the end effector
	// by delta. It returns an InversionFailure-wrapped error if no
	// incremental step can be produced.
	TranslateLimb4(params Parameters, state State, delta vecmath.Vector3) (State, error)
	// RotateLimb4 returns the state reached by nudging the end-effector
	// orientation by deltaAngles (radians, ZYX Euler).
	RotateLimb4(params Parameters, state State, deltaAngles vecmath.Vector3) (State, error)
}

// ComputeVertices returns [origin, limb0, limb1, limb2, limb3, limb4], the
// six points the visualization collaborator draws as the arm's skeleton.
func ComputeVertices(forward Forward, params Parameters, state State) [6]vecmath.Vector3 {
	return [6]vecmath.Vector3{
		{},
		forward.Limb0Position(params, state),
		forward.Limb1Position(params, state),
		forward.Limb2Position(params, state),
		forward.Limb3Position(params, state),
		forward.Limb4Position(params, state),
	}
}

// StateWatch holds the arm's live joint state behind a version counter,
// versioned through a single-producer/multi-subscriber channel so readers
// (the UI bridge, the telemetry recorder) always observe a coherent
// snapshot rather than a torn update.
type StateWatch struct {
	mu      sync.RWMutex
	state   State
	version uint64
	changed chan struct{}
}

// NewStateWatch constructs a watch seeded with initial.
func NewStateWatch(initial State) *StateWatch {
	return &StateWatch{state: initial, changed: make(chan struct{})}
}

// Get returns the current state and its version.
func (w *StateWatch) Get() (State, uint64) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state, w.version
}

// Set publishes a new state, incrementing the version and waking every
// goroutine currently parked on Changed.
func (w *StateWatch) Set(s State) {
	w.mu.Lock()
	w.state = s
	w.version++
	closed := w.changed
	w.changed = make(chan struct{})
	w.mu.Unlock()
	close(closed)
}

// Changed returns a channel that closes the next time Set is called. Like
// the servo facade's notifiers, it is edge-triggered: callers should
// re-fetch Get() after waking rather than assume anything about what
// changed.
func (w *StateWatch) Changed() <-chan struct{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.changed
}
