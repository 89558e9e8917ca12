// Package transmitter serializes outbound packets onto the writer half of
// the connection from a bounded instruction queue, preserving FIFO order and
// applying natural backpressure when the queue is full.
package transmitter

import (
	"bufio"
	"context"
	"io"

	"github.com/skywa04885/arm-v5/internal/armerr"
	"github.com/skywa04885/arm-v5/internal/wire"
)

// QueueCapacity is the instruction channel's fixed capacity (spec §4.2).
const QueueCapacity = 64

// Transmitter owns the writer half of the socket. It must be the only
// caller of its writer.
type Transmitter struct {
	instructions chan wire.Packet
	writer       *bufio.Writer
}

// New constructs a transmitter writing to w.
func New(w io.Writer) *Transmitter {
	return &Transmitter{
		instructions: make(chan wire.Packet, QueueCapacity),
		writer:       bufio.NewWriter(w),
	}
}

// Enqueue submits packet for writing, preserving submission order across the
// queue. It blocks (naturally applying backpressure) when the queue is full,
// and returns ErrCancelled if ctx is done first.
func (t *Transmitter) Enqueue(ctx context.Context, packet wire.Packet) error {
	select {
	case t.instructions <- packet:
		return nil
	case <-ctx.Done():
		return armerr.WrapCause(armerr.ErrCancelled, ctx.Err())
	}
}

// Run drains the instruction queue and writes each packet with the wire
// codec until ctx is cancelled, at which point it exits cleanly between
// writes (never mid-packet, since Encode's body write is not itself
// interruptible once started).
func (t *Transmitter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case packet := <-t.instructions:
			if err := wire.Encode(t.writer, packet); err != nil {
				return err
			}
		}
	}
}
