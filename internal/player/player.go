// Package player implements the motion player state machine (spec §4.10):
// a long-running task that streams IK-solved pose samples from a motion
// curve into the servo's flow-controlled pose buffer.
package player

import (
	"context"
	"time"

	"github.com/skywa04885/arm-v5/internal/armerr"
	"github.com/skywa04885/arm-v5/internal/kinematics"
	"github.com/skywa04885/arm-v5/internal/kinematics/solve"
	"github.com/skywa04885/arm-v5/internal/logging"
	"github.com/skywa04885/arm-v5/internal/motion"
	"github.com/skywa04885/arm-v5/internal/servo"
	"github.com/skywa04885/arm-v5/internal/telemetry"
)

// QueueCapacity is the instruction channel's fixed capacity (spec §4.10).
const QueueCapacity = 64

// defaultClearTimeout bounds the best-effort ClearPoseBuffer issued when a
// motion is interrupted; it runs on a fresh context so it isn't itself
// cancelled by the signal that interrupted the motion.
const defaultClearTimeout = 2 * time.Second

type instructionKind int

const (
	kindStart instructionKind = iota
	kindStop
)

type instruction struct {
	kind   instructionKind
	curve  motion.Curve
	result chan<- error
}

// Player is Idle until a Start instruction transitions it to Running one
// motion at a time; it returns to Idle when the curve is exhausted, on
// Stop, or on cancellation.
type Player struct {
	instructions chan instruction
	servo        *servo.Facade
	solver       *solve.Solver
	params       kinematics.Parameters
	watch        *kinematics.StateWatch
	stepInterval time.Duration
	clearTimeout time.Duration
	recorder     *telemetry.Recorder
}

// New constructs a Player. stepInterval is the fixed sampling step Δt
// applied to every motion curve. recorder is optional (nil skips telemetry
// entirely, with no behavioral change) and its failures are logged, never
// propagated — it is a diagnostics sink, not a correctness dependency.
func New(servoFacade *servo.Facade, solver *solve.Solver, params kinematics.Parameters, watch *kinematics.StateWatch, stepInterval time.Duration, recorder *telemetry.Recorder) *Player {
	return &Player{
		instructions: make(chan instruction, QueueCapacity),
		servo:        servoFacade,
		solver:       solver,
		params:       params,
		watch:        watch,
		stepInterval: stepInterval,
		clearTimeout: defaultClearTimeout,
		recorder:     recorder,
	}
}

// Start enqueues a Start instruction and returns a channel that receives
// the motion's outcome exactly once: nil on completion, a MotionFailure-
// wrapped error when the IK solver fails, a Cancelled-wrapped error when the
// motion is interrupted or cancelled, or otherwise the error of the servo
// command that failed (for example a Codec-wrapped reply decoding error).
// Enqueueing itself is cancellable via ctx.
func (p *Player) Start(ctx context.Context, curve motion.Curve) (<-chan error, error) {
	result := make(chan error, 1)
	select {
	case p.instructions <- instruction{kind: kindStart, curve: curve, result: result}:
		return result, nil
	case <-ctx.Done():
		return nil, armerr.WrapCause(armerr.ErrCancelled, ctx.Err())
	}
}

// Stop enqueues a Stop instruction, interrupting the current motion (if
// any) after it best-effort clears the pose buffer.
func (p *Player) Stop(ctx context.Context) error {
	select {
	case p.instructions <- instruction{kind: kindStop}:
		return nil
	case <-ctx.Done():
		return armerr.WrapCause(armerr.ErrCancelled, ctx.Err())
	}
}

// Run services instructions until ctx is cancelled. It returns nil on clean
// cancellation.
func (p *Player) Run(ctx context.Context) error {
	var pending *instruction

	for {
		var instr instruction
		if pending != nil {
			instr, pending = *pending, nil
		} else {
			select {
			case <-ctx.Done():
				return nil
			case instr = <-p.instructions:
			}
		}

		if instr.kind == kindStop {
			//1.- No motion is running; a stray Stop is a no-op.
			continue
		}

		next, err := p.runMotion(ctx, instr.curve)
		if instr.result != nil {
			instr.result <- err
		}
		if next != nil {
			pending = next
		}
	}
}

// runMotion runs one motion to completion, interruption, or failure. If the
// motion was interrupted by a freshly queued Start instruction, that
// instruction is returned so Run can dispatch it immediately without first
// returning to an idle wait.
func (p *Player) runMotion(ctx context.Context, curve motion.Curve) (*instruction, error) {
	p.recordEvent("start", "")
	motionCtx, cancelMotion := context.WithCancel(ctx)

	interrupts := make(chan *instruction, 1)
	go func() {
		select {
		case instr := <-p.instructions:
			interrupts <- &instr
			cancelMotion()
		case <-motionCtx.Done():
			interrupts <- nil
		}
	}()

	err := p.runMotionBody(motionCtx, curve)
	//1.- Force the watcher goroutine to observe completion if no instruction
	// preempted it; harmless if it already fired on the instruction branch.
	cancelMotion()
	interrupt := <-interrupts

	if interrupt != nil {
		p.bestEffortClear()
		if interrupt.kind == kindStart {
			p.recordEvent("stop", "interrupted by a new Start instruction")
			return interrupt, armerr.Wrap(armerr.ErrCancelled, "motion interrupted by a new Start instruction")
		}
		p.recordEvent("stop", "interrupted by Stop")
		return nil, armerr.Wrap(armerr.ErrCancelled, "motion interrupted by Stop")
	}

	if err != nil {
		p.bestEffortClear()
		p.recordEvent("motion_failure", err.Error())
		return nil, err
	}

	//2.- Natural completion: optionally wait for the servo to report the
	// buffer empty, so completion means the arm actually finished moving.
	if err := p.servo.AwaitEmpty(ctx); err != nil {
		p.recordEvent("motion_failure", err.Error())
		return nil, err
	}
	p.recordEvent("stop", "completed")
	return nil, nil
}

func (p *Player) runMotionBody(ctx context.Context, curve motion.Curve) error {
	if err := p.servo.ClearPoseBuffer(ctx); err != nil {
		return err
	}
	capacity, err := p.servo.GetPoseBufferCapacity(ctx)
	if err != nil {
		return err
	}
	available := capacity

	state, _ := p.watch.Get()
	step := p.stepInterval.Seconds()
	t := 0.0

	for {
		target, ok := curve.Interpolate(t)
		if !ok {
			return nil
		}

		result, err := p.solver.TranslateLimb4(p.params, state, target)
		if err != nil {
			return armerr.WrapCause(armerr.ErrMotion, err)
		}
		if !result.Reached {
			return armerr.Wrap(armerr.ErrMotion, "the ik solver could not reach the next sample on this motion curve")
		}
		state = result.State

		if available == 0 {
			if err := p.servo.AwaitDrain(ctx); err != nil {
				return err
			}
			fresh, err := p.servo.GetPoseBufferAvailableSpace(ctx)
			if err != nil {
				return err
			}
			available = fresh
		}

		if err := p.servo.PushIntoPoseBuffer(ctx, servo.Pose(state.Angles), step); err != nil {
			return err
		}
		available--

		//3.- Eager update: the arm's authoritative joint state advances as soon
		// as the push is acknowledged, not only once the servo later confirms
		// motion, matching the pinned test behavior (spec §8).
		p.watch.Set(state)
		p.recordFrame(state.Angles, step)

		t += step
	}
}

func (p *Player) bestEffortClear() {
	ctx, cancel := context.WithTimeout(context.Background(), p.clearTimeout)
	defer cancel()
	_ = p.servo.ClearPoseBuffer(ctx)
}

// recordEvent and recordFrame funnel into the optional telemetry recorder,
// logging failures rather than surfacing them: the recorder is a
// diagnostics sink, not a correctness dependency (spec §4.11).
func (p *Player) recordEvent(kind, detail string) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordEvent(kind, detail); err != nil {
		logging.L().Warn("telemetry event record failed", logging.String("kind", kind), logging.Error(err))
	}
}

func (p *Player) recordFrame(angles [5]float64, duration float64) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordFrame(angles, duration); err != nil {
		logging.L().Warn("telemetry frame record failed", logging.Error(err))
	}
}
