// Package motion provides time-indexed parametric trajectories the motion
// player samples at a fixed step (spec §4.9).
package motion

import (
	"math"

	"github.com/skywa04885/arm-v5/internal/vecmath"
)

// Curve interpolates a position at time t seconds since motion start. ok is
// false once t exceeds the curve's duration, at which point the motion is
// complete and position is undefined.
type Curve interface {
	Interpolate(t float64) (position vecmath.Vector3, ok bool)
}

// Linear moves from Origin to Target at constant Speed (meters/second).
//
// The source this was distilled from computes delta = original - target
// (inverted) and returns delta*t directly, so the traced path starts at the
// zero vector instead of at Origin and moves away from, not toward, Target.
// This implementation uses the corrected delta = Target - Origin and
// returns Origin + delta*t/duration, so interpolation starts at Origin and
// reaches Target at t == duration.
type Linear struct {
	Origin vecmath.Vector3
	Target vecmath.Vector3
	Speed  float64
}

// Duration returns |Target-Origin|/Speed, in seconds.
func (l Linear) Duration() float64 {
	return l.Target.Sub(l.Origin).Magnitude() / l.Speed
}

// Interpolate implements Curve.
func (l Linear) Interpolate(t float64) (vecmath.Vector3, bool) {
	duration := l.Duration()
	if t < 0 || t > duration {
		return vecmath.Vector3{}, false
	}
	if duration == 0 {
		return l.Origin, true
	}
	delta := l.Target.Sub(l.Origin)
	return l.Origin.Add(delta.Scale(t / duration)), true
}

// Circle traces a circle of Radius around Center, in the plane described by
// Orientation, at angular velocity AngularVelocity (radians/second), for Laps
// full revolutions.
type Circle struct {
	Center          vecmath.Vector3
	Orientation     vecmath.Orientation2
	Radius          float64
	AngularVelocity float64
	Laps            float64
}

// Duration returns 2π·Laps/AngularVelocity, in seconds.
func (c Circle) Duration() float64 {
	return 2 * math.Pi * c.Laps / c.AngularVelocity
}

// Interpolate implements Curve.
func (c Circle) Interpolate(t float64) (vecmath.Vector3, bool) {
	duration := c.Duration()
	if t < 0 || t > duration {
		return vecmath.Vector3{}, false
	}
	u, v := c.Orientation.PlaneBasis()
	angle := c.AngularVelocity * t
	offset := u.Scale(c.Radius * math.Cos(angle)).Add(v.Scale(c.Radius * math.Sin(angle)))
	return c.Center.Add(offset), true
}
