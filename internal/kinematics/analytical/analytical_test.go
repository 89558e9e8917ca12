package analytical

import (
	"math"
	"testing"

	"github.com/skywa04885/arm-v5/internal/kinematics"
	"github.com/skywa04885/arm-v5/internal/vecmath"
)

func testParameters() kinematics.Parameters {
	return kinematics.Parameters{
		LimbLengths: [5]float64{1, 1, 1, 1, 1},
		RotationAxes: [5]vecmath.Vector3{
			{Z: 1}, {Y: 1}, {Y: 1}, {Y: 1}, {Z: 1},
		},
	}
}

func TestLimb4PositionAtZeroStateExtendsAlongZ(t *testing.T) {
	params := testParameters()
	pos := Forward{}.Limb4Position(params, kinematics.State{})
	want := vecmath.Vector3{Z: 5}
	if math.Abs(pos.X-want.X) > 1e-9 || math.Abs(pos.Y-want.Y) > 1e-9 || math.Abs(pos.Z-want.Z) > 1e-9 {
		t.Fatalf("Limb4Position(zero state) = %+v, want %+v", pos, want)
	}
}

func TestLimbPositionsAreMonotonicallyFartherFromOrigin(t *testing.T) {
	params := testParameters()
	state := kinematics.State{Angles: [5]float64{0.1, 0.2, -0.1, 0.3, 0.05}}
	f := Forward{}
	positions := []vecmath.Vector3{
		f.Limb0Position(params, state),
		f.Limb1Position(params, state),
		f.Limb2Position(params, state),
		f.Limb3Position(params, state),
		f.Limb4Position(params, state),
	}
	for i := 1; i < len(positions); i++ {
		if positions[i].Magnitude() <= positions[i-1].Magnitude()-1e-9 {
			t.Fatalf("limb %d is not farther from origin than limb %d: %+v vs %+v", i, i-1, positions[i], positions[i-1])
		}
	}
}

func TestTranslateLimb4StepReducesError(t *testing.T) {
	params := testParameters()
	state := kinematics.State{}
	forward := Forward{}
	inverse := Inverse{}

	target := vecmath.Vector3{X: 2, Y: 1, Z: 4}
	before := target.Sub(forward.Limb4Position(params, state)).Magnitude()

	newState, err := inverse.TranslateLimb4(params, state, target.Sub(forward.Limb4Position(params, state)))
	if err != nil {
		t.Fatalf("TranslateLimb4() error = %v", err)
	}

	after := target.Sub(forward.Limb4Position(params, newState)).Magnitude()
	if after >= before {
		t.Fatalf("error did not shrink: before=%v after=%v", before, after)
	}
}

func TestTranslateLimb4FailsWhenJacobianVanishes(t *testing.T) {
	// Zero limb lengths and offsets collapse every joint to the origin, so
	// no joint motion can move the end effector.
	params := kinematics.Parameters{}
	_, err := Inverse{}.TranslateLimb4(params, kinematics.State{}, vecmath.Vector3{X: 1})
	if err == nil {
		t.Fatalf("expected an inversion failure when the jacobian vanishes")
	}
}

func TestRotateLimb4StepReducesOrientationError(t *testing.T) {
	params := testParameters()
	state := kinematics.State{}
	forward := Forward{}
	inverse := Inverse{}

	targetEuler := vecmath.Vector3{Z: 0.3}
	currentEuler := forward.Limb4Euler(params, state)
	delta := targetEuler.Sub(currentEuler)

	newState, err := inverse.RotateLimb4(params, state, delta)
	if err != nil {
		t.Fatalf("RotateLimb4() error = %v", err)
	}
	newEuler := forward.Limb4Euler(params, newState)
	beforeErr := targetEuler.Sub(currentEuler).Magnitude()
	afterErr := targetEuler.Sub(newEuler).Magnitude()
	if afterErr >= beforeErr {
		t.Fatalf("orientation error did not shrink: before=%v after=%v", beforeErr, afterErr)
	}
}
