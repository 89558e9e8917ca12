// Package receiver owns the reader half of the connection. It races frame
// decoding against cancellation and dispatches each decoded packet to the
// shared subscriber registry.
package receiver

import (
	"bufio"
	"context"
	"io"

	"github.com/skywa04885/arm-v5/internal/armerr"
	"github.com/skywa04885/arm-v5/internal/transport/registry"
	"github.com/skywa04885/arm-v5/internal/wire"
)

// Receiver decodes inbound frames and dispatches them against reg.
type Receiver struct {
	reader *bufio.Reader
	reg    *registry.Registry
}

// New constructs a receiver reading from r and dispatching against reg.
func New(r io.Reader, reg *registry.Registry) *Receiver {
	return &Receiver{reader: bufio.NewReader(r), reg: reg}
}

// Run loops decoding frames until ctx is cancelled or the socket closes
// unexpectedly. It returns nil on clean cancellation, and a wrapped error
// otherwise (ErrProtocol if the peer sends a Command, ErrIO if the socket
// closes mid-stream).
func (rcv *Receiver) Run(ctx context.Context) error {
	type frame struct {
		packet wire.Packet
		err    error
	}

	for {
		frames := make(chan frame, 1)
		go func() {
			packet, err := wire.Decode(rcv.reader)
			frames <- frame{packet: packet, err: err}
		}()

		select {
		case <-ctx.Done():
			return nil
		case f := <-frames:
			if f.err != nil {
				//1.- A clean EOF between frames is not an error condition for the caller,
				// but mid-stream the caller still wants to know the socket is gone.
				// wire.Decode returns io.EOF unwrapped only at a frame boundary; a
				// truncated frame arrives as an ErrIO-wrapped error.
				if f.err == io.EOF {
					return nil
				}
				return f.err
			}
			if err := rcv.dispatch(f.packet); err != nil {
				return err
			}
		}
	}
}

func (rcv *Receiver) dispatch(packet wire.Packet) error {
	switch p := packet.(type) {
	case wire.Reply:
		if sink, ok := rcv.reg.TakeReply(p.Tag); ok {
			sink(p.Payload)
		}
		//2.- No waiter means the issuer already cancelled; the reply is dropped silently.
		return nil
	case wire.Event:
		for _, sink := range rcv.reg.SnapshotEvent(p.Code) {
			sink(p.Payload)
		}
		return nil
	case wire.Command:
		return armerr.Wrapf(armerr.ErrProtocol, "unexpected command (code=%d, tag=%d) received from servo", p.Code, p.Tag)
	default:
		return armerr.Wrapf(armerr.ErrProtocol, "unrecognized packet type %T", packet)
	}
}
