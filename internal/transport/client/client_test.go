package client

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/skywa04885/arm-v5/internal/transport/receiver"
	"github.com/skywa04885/arm-v5/internal/transport/registry"
	"github.com/skywa04885/arm-v5/internal/transport/transmitter"
	"github.com/skywa04885/arm-v5/internal/wire"
)

// echoCommand is a minimal Command used to exercise the facade.
type echoCommand struct {
	Value int `msgpack:"value"`
}

func (echoCommand) Code() wire.CommandCode { return 0x42 }

type echoReply struct {
	Value int `msgpack:"value"`
}

// harness wires a Client to one end of an in-memory connection and lets the
// test act as the remote servo on the other end.
type harness struct {
	client *Client
	remote *bufio.ReadWriter
	cancel context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	local, remote := net.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	reg := registry.New()
	tx := transmitter.New(local)
	rcv := receiver.New(local, reg)

	go tx.Run(ctx)
	go rcv.Run(ctx)

	t.Cleanup(func() {
		cancel()
		local.Close()
		remote.Close()
	})

	return &harness{
		client: New(tx, reg),
		remote: bufio.NewReadWriter(bufio.NewReader(remote), bufio.NewWriter(remote)),
		cancel: cancel,
	}
}

// readCommand decodes the next packet from the remote side, failing the test
// if it is not a Command.
func (h *harness) readCommand(t *testing.T) wire.Command {
	t.Helper()
	pkt, err := wire.Decode(h.remote.Reader)
	if err != nil {
		t.Fatalf("remote Decode() error = %v", err)
	}
	cmd, ok := pkt.(wire.Command)
	if !ok {
		t.Fatalf("expected Command, got %#v", pkt)
	}
	return cmd
}

func (h *harness) reply(t *testing.T, tag wire.Tag, payload []byte) {
	t.Helper()
	if err := wire.Encode(h.remote.Writer, wire.Reply{Tag: tag, Payload: payload}); err != nil {
		t.Fatalf("remote Encode() error = %v", err)
	}
}

func TestSubmitRoundTrip(t *testing.T) {
	h := newHarness(t)

	errCh := make(chan error, 1)
	resultCh := make(chan []byte, 1)
	go func() {
		payload, err := h.client.Submit(context.Background(), echoCommand{Value: 99})
		errCh <- err
		resultCh <- payload
	}()

	cmd := h.readCommand(t)
	var decoded echoCommand
	if err := msgpack.Unmarshal(cmd.Payload, &decoded); err != nil {
		t.Fatalf("unmarshal command payload: %v", err)
	}
	if decoded.Value != 99 {
		t.Fatalf("command payload value = %d, want 99", decoded.Value)
	}

	replyPayload, err := msgpack.Marshal(echoReply{Value: 7})
	if err != nil {
		t.Fatalf("marshal reply: %v", err)
	}
	h.reply(t, cmd.Tag, replyPayload)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Submit did not return")
	}

	var got echoReply
	if err := msgpack.Unmarshal(<-resultCh, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if got.Value != 7 {
		t.Fatalf("reply value = %d, want 7", got.Value)
	}
}

func TestSubmitTypedDecodesReply(t *testing.T) {
	h := newHarness(t)

	errCh := make(chan error, 1)
	var got echoReply
	go func() {
		errCh <- SubmitTyped[echoReply](context.Background(), h.client, echoCommand{Value: 1}, &got)
	}()

	cmd := h.readCommand(t)
	replyPayload, _ := msgpack.Marshal(echoReply{Value: 55})
	h.reply(t, cmd.Tag, replyPayload)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("SubmitTyped() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("SubmitTyped did not return")
	}
	if got.Value != 55 {
		t.Fatalf("got.Value = %d, want 55", got.Value)
	}
}

func TestSubmitCancellationDropsWaiterAndDiscardsLateReply(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := h.client.Submit(ctx, echoCommand{Value: 1})
		errCh <- err
	}()

	cmd := h.readCommand(t)
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatalf("Submit did not return after cancellation")
	}

	// A reply arriving after cancellation must not panic or deadlock the
	// receiver; it is simply discarded because the waiter is already gone.
	h.reply(t, cmd.Tag, []byte{})
	time.Sleep(20 * time.Millisecond)
}

// TestSubmitConcurrentTagsAreContiguousAndUnique pins tag monotonicity
// (spec §3): N concurrent Submit calls allocate tags from the shared
// process-wide counter, and the resulting set is exactly the contiguous
// range immediately above whatever the counter already held.
func TestSubmitConcurrentTagsAreContiguousAndUnique(t *testing.T) {
	h := newHarness(t)
	const n = 50
	baseline := atomic.LoadUint64(&nextTag)

	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.client.Submit(context.Background(), echoCommand{Value: i})
			errCh <- err
		}(i)
	}

	seen := make(map[wire.Tag]bool)
	for i := 0; i < n; i++ {
		cmd := h.readCommand(t)
		if seen[cmd.Tag] {
			t.Fatalf("tag %d observed twice, tags must be unique", cmd.Tag)
		}
		seen[cmd.Tag] = true
		replyPayload, _ := msgpack.Marshal(echoReply{Value: 0})
		h.reply(t, cmd.Tag, replyPayload)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	if len(seen) != n {
		t.Fatalf("got %d unique tags, want %d", len(seen), n)
	}
	for k := baseline + 1; k <= baseline+n; k++ {
		if !seen[wire.Tag(k)] {
			t.Fatalf("expected tag %d in the contiguous set (%d, %d], missing", k, baseline, baseline+n)
		}
	}
}

func TestOnEventOffEvent(t *testing.T) {
	h := newHarness(t)

	received := make(chan echoReply, 1)
	id := h.client.OnEvent(9, func(payload []byte) {
		var v echoReply
		if err := DecodeEvent(payload, &v); err != nil {
			t.Errorf("DecodeEvent: %v", err)
			return
		}
		received <- v
	})

	payload, _ := msgpack.Marshal(echoReply{Value: 3})
	if err := wire.Encode(h.remote.Writer, wire.Event{Code: 9, Payload: payload}); err != nil {
		t.Fatalf("remote Encode(): %v", err)
	}

	select {
	case v := <-received:
		if v.Value != 3 {
			t.Fatalf("event value = %d, want 3", v.Value)
		}
	case <-time.After(time.Second):
		t.Fatalf("event listener never invoked")
	}

	if err := h.client.OffEvent(9, id); err != nil {
		t.Fatalf("OffEvent() error = %v", err)
	}
	if err := h.client.OffEvent(9, id); err == nil {
		t.Fatalf("expected error removing an already-removed listener")
	}
}
