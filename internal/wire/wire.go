// Package wire implements the length-prefixed, big-endian binary framing
// used to carry Event, Command, and Reply packets between this client and
// the remote servo controller over a single TCP connection.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/skywa04885/arm-v5/internal/armerr"
)

// Tag is a monotonically increasing, per-process command correlation identifier.
type Tag uint64

// CommandCode identifies an outbound command's semantics.
type CommandCode uint32

// EventCode identifies an inbound event's semantics.
type EventCode uint32

// Packet identifier bytes, per spec §4.1.
const (
	EventIdentifier   byte = 0x00
	CommandIdentifier byte = 0x01
	ReplyIdentifier   byte = 0x02
)

// Packet is the tagged union of the three wire variants.
type Packet interface {
	isPacket()
}

// Event carries a broadcast notification with no reply expected.
type Event struct {
	Code    EventCode
	Payload []byte
}

func (Event) isPacket() {}

// Command carries an outbound instruction correlated to a future Reply by Tag.
type Command struct {
	Code    CommandCode
	Tag     Tag
	Payload []byte
}

func (Command) isPacket() {}

// Reply carries the response to a previously issued Command, matched by Tag.
type Reply struct {
	Tag     Tag
	Payload []byte
}

func (Reply) isPacket() {}

// Encode writes packet to w as a single length-prefixed frame and flushes the
// writer, so pose-sample latency is never masked by an unflushed buffer.
func Encode(w *bufio.Writer, packet Packet) error {
	switch p := packet.(type) {
	case Event:
		return encodeEvent(w, p)
	case Command:
		return encodeCommand(w, p)
	case Reply:
		return encodeReply(w, p)
	default:
		return armerr.Wrapf(armerr.ErrProtocol, "unsupported packet type %T", packet)
	}
}

func encodeEvent(w *bufio.Writer, p Event) error {
	if err := w.WriteByte(EventIdentifier); err != nil {
		return armerr.WrapCause(armerr.ErrIO, err)
	}
	if err := writeUint32(w, uint32(p.Code)); err != nil {
		return err
	}
	if err := writeValue(w, p.Payload); err != nil {
		return err
	}
	return flush(w)
}

func encodeCommand(w *bufio.Writer, p Command) error {
	if err := w.WriteByte(CommandIdentifier); err != nil {
		return armerr.WrapCause(armerr.ErrIO, err)
	}
	if err := writeUint32(w, uint32(p.Code)); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(p.Tag)); err != nil {
		return err
	}
	if err := writeValue(w, p.Payload); err != nil {
		return err
	}
	return flush(w)
}

func encodeReply(w *bufio.Writer, p Reply) error {
	if err := w.WriteByte(ReplyIdentifier); err != nil {
		return armerr.WrapCause(armerr.ErrIO, err)
	}
	if err := writeUint64(w, uint64(p.Tag)); err != nil {
		return err
	}
	if err := writeValue(w, p.Payload); err != nil {
		return err
	}
	return flush(w)
}

func writeUint32(w *bufio.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	if _, err := w.Write(buf[:]); err != nil {
		return armerr.WrapCause(armerr.ErrIO, err)
	}
	return nil
}

func writeUint64(w *bufio.Writer, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	if _, err := w.Write(buf[:]); err != nil {
		return armerr.WrapCause(armerr.ErrIO, err)
	}
	return nil
}

func writeValue(w *bufio.Writer, payload []byte) error {
	if err := writeUint32(w, uint32(len(payload))); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return armerr.WrapCause(armerr.ErrIO, err)
	}
	return nil
}

func flush(w *bufio.Writer) error {
	if err := w.Flush(); err != nil {
		return armerr.WrapCause(armerr.ErrIO, err)
	}
	return nil
}

// Decode reads exactly one frame from r. It fails with an armerr.ErrProtocol
// wrapped error on an unknown identifier byte, reads the payload body
// non-greedily (exactly len bytes), and surfaces underlying I/O errors
// unchanged via armerr.ErrIO (io.EOF is returned verbatim so callers can
// detect a clean peer close between frames).
func Decode(r *bufio.Reader) (Packet, error) {
	identifier, err := r.ReadByte()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, armerr.WrapCause(armerr.ErrIO, err)
	}

	switch identifier {
	case EventIdentifier:
		return decodeEvent(r)
	case CommandIdentifier:
		return decodeCommand(r)
	case ReplyIdentifier:
		return decodeReply(r)
	default:
		return nil, armerr.Wrapf(armerr.ErrProtocol, "invalid packet identifier: 0x%02x", identifier)
	}
}

func decodeEvent(r *bufio.Reader) (Packet, error) {
	code, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	payload, err := readValue(r)
	if err != nil {
		return nil, err
	}
	return Event{Code: EventCode(code), Payload: payload}, nil
}

func decodeCommand(r *bufio.Reader) (Packet, error) {
	code, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	tag, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	payload, err := readValue(r)
	if err != nil {
		return nil, err
	}
	return Command{Code: CommandCode(code), Tag: Tag(tag), Payload: payload}, nil
}

func decodeReply(r *bufio.Reader) (Packet, error) {
	tag, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	payload, err := readValue(r)
	if err != nil {
		return nil, err
	}
	return Reply{Tag: Tag(tag), Payload: payload}, nil
}

func readUint32(r *bufio.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, wrapReadErr(err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func readUint64(r *bufio.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, wrapReadErr(err)
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func readValue(r *bufio.Reader) ([]byte, error) {
	length, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, wrapReadErr(err)
	}
	return payload, nil
}

// wrapReadErr distinguishes a clean mid-frame EOF/UnexpectedEOF (a truncated
// read, per spec §8) from an unrelated I/O failure; both surface as ErrIO so
// callers never see a raw io error escape this package, but the message
// names the truncation explicitly.
func wrapReadErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return armerr.WrapCause(armerr.ErrIO, fmt.Errorf("truncated frame: %w", err))
	}
	return armerr.WrapCause(armerr.ErrIO, err)
}
