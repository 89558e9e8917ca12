// Package servo is the typed facade over the five-operation wire vocabulary
// exposed by the arm's servo controller (spec §6), plus the event pump that
// turns PoseChanged/PoseBufferDrain/PoseBufferEmpty into a sampled broadcast
// and two edge-triggered notifiers.
package servo

import (
	"context"
	"sync"

	"github.com/skywa04885/arm-v5/internal/armerr"
	"github.com/skywa04885/arm-v5/internal/transport/client"
	"github.com/skywa04885/arm-v5/internal/wire"
)

// Command and event codes (spec §6). The drain/empty event codes adopt the
// canonical form; see §9 on the two disagreeing source revisions.
const (
	CodePushIntoPoseBuffer          wire.CommandCode = 0x00000100
	CodeClearPoseBuffer             wire.CommandCode = 0x00000101
	CodeGetPoseBufferCapacity       wire.CommandCode = 0x00000102
	CodeGetPoseBufferAvailableSpace wire.CommandCode = 0x00000103

	EventPoseChanged     wire.EventCode = 0x00000000
	EventPoseBufferDrain wire.EventCode = 0x00000001
	EventPoseBufferEmpty wire.EventCode = 0x00000002
)

// Pose is the five-joint angle vector carried by PushIntoPoseBuffer and
// PoseChanged.
type Pose [5]float64

// PushIntoPoseBufferCommand requests the servo append a pose sample reached
// over duration seconds.
type PushIntoPoseBufferCommand struct {
	Angles   Pose    `msgpack:"angles"`
	Duration float64 `msgpack:"duration"`
}

func (PushIntoPoseBufferCommand) Code() wire.CommandCode { return CodePushIntoPoseBuffer }

// ClearPoseBufferCommand discards any buffered, not-yet-reached samples.
type ClearPoseBufferCommand struct{}

func (ClearPoseBufferCommand) Code() wire.CommandCode { return CodeClearPoseBuffer }

// GetPoseBufferCapacityCommand asks for the buffer's fixed total capacity.
type GetPoseBufferCapacityCommand struct{}

func (GetPoseBufferCapacityCommand) Code() wire.CommandCode { return CodeGetPoseBufferCapacity }

type getPoseBufferCapacityReply struct {
	Capacity uint64 `msgpack:"capacity"`
}

// GetPoseBufferAvailableSpaceCommand asks for the buffer's current free slots.
type GetPoseBufferAvailableSpaceCommand struct{}

func (GetPoseBufferAvailableSpaceCommand) Code() wire.CommandCode {
	return CodeGetPoseBufferAvailableSpace
}

type getPoseBufferAvailableSpaceReply struct {
	Available uint64 `msgpack:"available"`
}

type poseChangedEvent struct {
	Angles Pose `msgpack:"angles"`
}

type poseBufferDrainEvent struct {
	Available uint64 `msgpack:"available"`
}

// notifier is an edge-triggered wake-all primitive: NotifyAll releases every
// goroutine currently parked in Wait, but a goroutine that calls Wait after
// NotifyAll has returned will block until the *next* signal. Callers that
// need to act on current state, not just the next edge, must re-sample
// after waking rather than trust the wake itself as a value (spec §4.6).
type notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

func (n *notifier) Wait(ctx context.Context) error {
	n.mu.Lock()
	ch := n.ch
	n.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return armerr.WrapCause(armerr.ErrCancelled, ctx.Err())
	}
}

func (n *notifier) NotifyAll() {
	n.mu.Lock()
	close(n.ch)
	n.ch = make(chan struct{})
	n.mu.Unlock()
}

// poseBroadcast lets many readers sample the latest known pose without
// subscribing to the underlying event stream themselves.
type poseBroadcast struct {
	mu     sync.RWMutex
	latest Pose
}

func (b *poseBroadcast) set(p Pose) {
	b.mu.Lock()
	b.latest = p
	b.mu.Unlock()
}

func (b *poseBroadcast) sample() Pose {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest
}

// Facade is the typed servo command/event surface built atop the transport
// client. Constructing it installs the event pump (spec §4.6); the pump's
// dispatch runs inline on the receiver's goroutine via the registry's
// snapshot-then-invoke contract, so it never blocks the receiver itself.
type Facade struct {
	client *client.Client
	pose   poseBroadcast
	drain  *notifier
	empty  *notifier
}

// New wires f to c and subscribes the event pump.
func New(c *client.Client) *Facade {
	f := &Facade{client: c, drain: newNotifier(), empty: newNotifier()}
	c.OnEvent(EventPoseChanged, f.onPoseChanged)
	c.OnEvent(EventPoseBufferDrain, f.onDrain)
	c.OnEvent(EventPoseBufferEmpty, f.onEmpty)
	return f
}

func (f *Facade) onPoseChanged(payload []byte) {
	var evt poseChangedEvent
	if err := client.DecodeEvent(payload, &evt); err != nil {
		return
	}
	f.pose.set(evt.Angles)
}

func (f *Facade) onDrain(payload []byte) {
	f.drain.NotifyAll()
}

func (f *Facade) onEmpty(payload []byte) {
	f.empty.NotifyAll()
}

// PushIntoPoseBuffer appends one pose sample to the remote buffer.
func (f *Facade) PushIntoPoseBuffer(ctx context.Context, angles Pose, duration float64) error {
	_, err := f.client.Submit(ctx, PushIntoPoseBufferCommand{Angles: angles, Duration: duration})
	return err
}

// ClearPoseBuffer discards buffered, not-yet-reached samples.
func (f *Facade) ClearPoseBuffer(ctx context.Context) error {
	_, err := f.client.Submit(ctx, ClearPoseBufferCommand{})
	return err
}

// GetPoseBufferCapacity returns the buffer's fixed total capacity.
func (f *Facade) GetPoseBufferCapacity(ctx context.Context) (uint64, error) {
	var reply getPoseBufferCapacityReply
	if err := client.SubmitTyped[getPoseBufferCapacityReply](ctx, f.client, GetPoseBufferCapacityCommand{}, &reply); err != nil {
		return 0, err
	}
	return reply.Capacity, nil
}

// GetPoseBufferAvailableSpace returns the buffer's current free slot count.
func (f *Facade) GetPoseBufferAvailableSpace(ctx context.Context) (uint64, error) {
	var reply getPoseBufferAvailableSpaceReply
	if err := client.SubmitTyped[getPoseBufferAvailableSpaceReply](ctx, f.client, GetPoseBufferAvailableSpaceCommand{}, &reply); err != nil {
		return 0, err
	}
	return reply.Available, nil
}

// LatestPose samples the most recently observed PoseChanged angles.
func (f *Facade) LatestPose() Pose {
	return f.pose.sample()
}

// AwaitDrain blocks until the next PoseBufferDrain event or ctx cancellation.
// Being edge-triggered, it can miss a drain that happened before the call
// started; callers must re-read available capacity after waking, never
// trust the wake alone (spec §4.6).
func (f *Facade) AwaitDrain(ctx context.Context) error {
	return f.drain.Wait(ctx)
}

// AwaitEmpty blocks until the next PoseBufferEmpty event or ctx cancellation.
func (f *Facade) AwaitEmpty(ctx context.Context) error {
	return f.empty.Wait(ctx)
}
