// Package client provides the public facade over the transport: tag
// allocation, typed submit/subscribe helpers, and MessagePack payload
// (de)serialization.
package client

import (
	"context"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/skywa04885/arm-v5/internal/armerr"
	"github.com/skywa04885/arm-v5/internal/transport/registry"
	"github.com/skywa04885/arm-v5/internal/transport/transmitter"
	"github.com/skywa04885/arm-v5/internal/wire"
)

// nextTag is process-wide so tags remain unique across reconnects within one
// process, mirroring registry.SubscriberID's allocation rule (spec §9).
var nextTag uint64

func allocateTag() wire.Tag {
	return wire.Tag(atomic.AddUint64(&nextTag, 1))
}

// Command is a serializable outbound command; Code identifies the servo
// operation it invokes.
type Command interface {
	Code() wire.CommandCode
}

// Client is the public facade connecting the servo and kinematics layers to
// the wire protocol.
type Client struct {
	tx  *transmitter.Transmitter
	reg *registry.Registry
}

// New constructs a facade over tx and reg, which must belong to the same
// connection.
func New(tx *transmitter.Transmitter, reg *registry.Registry) *Client {
	return &Client{tx: tx, reg: reg}
}

// Submit allocates a tag, serializes cmd as a MessagePack payload, enqueues
// it, and awaits the matching reply. If ctx is cancelled first, the waiter
// is dropped and a late reply is discarded silently.
func (c *Client) Submit(ctx context.Context, cmd Command) ([]byte, error) {
	replies := make(chan []byte, 1)
	tag, err := c.submitWithTag(ctx, cmd, func(payload []byte) {
		// Buffered by 1: a late delivery after the caller has given up never blocks.
		select {
		case replies <- payload:
		default:
		}
	})
	if err != nil {
		return nil, err
	}

	select {
	case payload := <-replies:
		return payload, nil
	case <-ctx.Done():
		//1.- The reply may still be in flight; dropping the waiter here makes any
		// later delivery land on an absent tag, which the receiver discards silently.
		c.reg.DiscardReply(tag)
		return nil, armerr.WrapCause(armerr.ErrCancelled, ctx.Err())
	}
}

// SubmitWith is Submit but lets the caller supply the reply sink directly,
// used when many observers must see the same reply (broadcasts).
func (c *Client) SubmitWith(ctx context.Context, cmd Command, sink registry.ReplySink) error {
	_, err := c.submitWithTag(ctx, cmd, sink)
	return err
}

func (c *Client) submitWithTag(ctx context.Context, cmd Command, sink registry.ReplySink) (wire.Tag, error) {
	payload, err := msgpack.Marshal(cmd)
	if err != nil {
		return 0, armerr.WrapCause(armerr.ErrCodec, err)
	}

	tag := allocateTag()
	if err := c.reg.SubscribeReply(tag, sink); err != nil {
		return 0, err
	}

	packet := wire.Command{Code: cmd.Code(), Tag: tag, Payload: payload}
	if err := c.tx.Enqueue(ctx, packet); err != nil {
		c.reg.DiscardReply(tag)
		return 0, err
	}
	return tag, nil
}

// SubmitTyped is Submit plus MessagePack-decoding the reply payload into
// reply. Unexpected reply layouts map to ErrCodec.
func SubmitTyped[R any](ctx context.Context, c *Client, cmd Command, reply *R) error {
	payload, err := c.Submit(ctx, cmd)
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(payload, reply); err != nil {
		return armerr.WrapCause(armerr.ErrCodec, err)
	}
	return nil
}

// OnEvent registers sink for events of code, returning its SubscriberID.
func (c *Client) OnEvent(code wire.EventCode, sink registry.EventSink) registry.SubscriberID {
	return c.reg.SubscribeEvent(code, sink)
}

// OffEvent removes the listener id registered for code.
func (c *Client) OffEvent(code wire.EventCode, id registry.SubscriberID) error {
	return c.reg.UnsubscribeEvent(code, id)
}

// DecodeEvent unmarshals a raw event payload into v, mapping failures to
// ErrCodec. Typed event helpers built on top of OnEvent use this to convert
// payloads before invoking a caller's strongly-typed callback.
func DecodeEvent[V any](payload []byte, v *V) error {
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return armerr.WrapCause(armerr.ErrCodec, err)
	}
	return nil
}
