// Package analytical provides the default Forward and Inverse algorithm
// implementations for a five-revolute-joint serial arm, modeled as a chain
// of offset-then-extend segments rotated cumulatively by each joint's
// rotation axis. The inverse algorithms take a single Jacobian-transpose
// step per call, matching the "produces one incremental step, not a full
// solve" contract the heuristic solver relies on (spec §4.7-4.8).
package analytical

import (
	"github.com/skywa04885/arm-v5/internal/armerr"
	"github.com/skywa04885/arm-v5/internal/kinematics"
	"github.com/skywa04885/arm-v5/internal/vecmath"
)

// Forward is the default forward kinematics algorithm.
type Forward struct{}

// cumulativeRotations returns, for each joint i, the world-frame rotation
// accumulated through and including joint i's own rotation.
func cumulativeRotations(params kinematics.Parameters, state kinematics.State) [5]vecmath.Matrix3 {
	var rotations [5]vecmath.Matrix3
	cum := vecmath.Identity3()
	for i := 0; i < 5; i++ {
		cum = cum.Mul(vecmath.AxisAngleRotation(params.RotationAxes[i], state.Angles[i]))
		rotations[i] = cum
	}
	return rotations
}

// jointPositions returns the cumulative end position of each of the five
// limbs: position[i] is the tip of limb i.
func jointPositions(params kinematics.Parameters, state kinematics.State) [5]vecmath.Vector3 {
	rotations := cumulativeRotations(params, state)
	var positions [5]vecmath.Vector3
	pos := vecmath.Vector3{}
	for i := 0; i < 5; i++ {
		local := params.JointOffsets[i].Add(vecmath.Vector3{Z: params.LimbLengths[i]})
		pos = pos.Add(rotations[i].Apply(local))
		positions[i] = pos
	}
	return positions
}

func (Forward) Limb0Position(params kinematics.Parameters, state kinematics.State) vecmath.Vector3 {
	return jointPositions(params, state)[0]
}

func (Forward) Limb1Position(params kinematics.Parameters, state kinematics.State) vecmath.Vector3 {
	return jointPositions(params, state)[1]
}

func (Forward) Limb2Position(params kinematics.Parameters, state kinematics.State) vecmath.Vector3 {
	return jointPositions(params, state)[2]
}

func (Forward) Limb3Position(params kinematics.Parameters, state kinematics.State) vecmath.Vector3 {
	return jointPositions(params, state)[3]
}

func (Forward) Limb4Position(params kinematics.Parameters, state kinematics.State) vecmath.Vector3 {
	return jointPositions(params, state)[4]
}

func (Forward) Limb4Euler(params kinematics.Parameters, state kinematics.State) vecmath.Vector3 {
	return vecmath.EulerZYX(cumulativeRotations(params, state)[4])
}

func (Forward) Limb4OrientationMatrix(params kinematics.Parameters, state kinematics.State) vecmath.Matrix3 {
	return cumulativeRotations(params, state)[4]
}

// Inverse is the default inverse kinematics algorithm: one Jacobian-transpose
// step per call, scaled by the classic least-squares step length so a
// single call moves monotonically toward, without overshooting past, the
// requested delta.
type Inverse struct{}

// jacobianColumns returns, for each joint, its contribution to linear
// end-effector velocity (translate) or angular end-effector velocity
// (rotate) per unit joint-angle rate.
func jacobianColumns(params kinematics.Parameters, state kinematics.State, angular bool) ([5]vecmath.Vector3, vecmath.Vector3) {
	rotations := cumulativeRotations(params, state)
	positions := jointPositions(params, state)
	end := positions[4]

	var columns [5]vecmath.Vector3
	for i := 0; i < 5; i++ {
		prev := vecmath.Identity3()
		if i > 0 {
			prev = rotations[i-1]
		}
		axis := prev.Apply(params.RotationAxes[i]).Normalized()
		if angular {
			columns[i] = axis
			continue
		}
		lever := end.Sub(positions[i])
		columns[i] = axis.Cross(lever)
	}
	return columns, end
}

// jacobianTransposeStep computes one damped Jacobian-transpose step toward
// target, returning the updated state.
func jacobianTransposeStep(params kinematics.Parameters, state kinematics.State, target vecmath.Vector3, angular bool) (kinematics.State, error) {
	columns, _ := jacobianColumns(params, state, angular)

	var dtheta [5]float64
	for i := 0; i < 5; i++ {
		dtheta[i] = columns[i].Dot(target)
	}

	var jdtheta vecmath.Vector3
	for i := 0; i < 5; i++ {
		jdtheta = jdtheta.Add(columns[i].Scale(dtheta[i]))
	}

	denom := jdtheta.Dot(jdtheta)
	if denom == 0 {
		return state, armerr.Wrapf(armerr.ErrInversion, "jacobian vanished: no joint can move the end effector toward the requested delta from this state")
	}

	alpha := target.Dot(jdtheta) / denom
	newState := state
	for i := 0; i < 5; i++ {
		newState.Angles[i] = state.Angles[i] + alpha*dtheta[i]
	}
	return newState, nil
}

// TranslateLimb4 nudges the end effector position by delta.
func (Inverse) TranslateLimb4(params kinematics.Parameters, state kinematics.State, delta vecmath.Vector3) (kinematics.State, error) {
	return jacobianTransposeStep(params, state, delta, false)
}

// RotateLimb4 nudges the end effector orientation by deltaAngles (a ZYX
// Euler-angle delta, radians).
func (Inverse) RotateLimb4(params kinematics.Parameters, state kinematics.State, deltaAngles vecmath.Vector3) (kinematics.State, error) {
	return jacobianTransposeStep(params, state, deltaAngles, true)
}
