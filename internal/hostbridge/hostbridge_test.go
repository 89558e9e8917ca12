package hostbridge

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/skywa04885/arm-v5/internal/kinematics"
	"github.com/skywa04885/arm-v5/internal/kinematics/solve"
	"github.com/skywa04885/arm-v5/internal/player"
	"github.com/skywa04885/arm-v5/internal/servo"
	"github.com/skywa04885/arm-v5/internal/transport/client"
	"github.com/skywa04885/arm-v5/internal/transport/receiver"
	"github.com/skywa04885/arm-v5/internal/transport/registry"
	"github.com/skywa04885/arm-v5/internal/transport/transmitter"
	"github.com/skywa04885/arm-v5/internal/vecmath"
	"github.com/skywa04885/arm-v5/internal/wire"
)

// identityForward/identityInverse trivially reach any target in one
// iteration by treating the first three joint angles as the raw Cartesian
// position, so a test move request never depends on solver convergence.
type identityForward struct{}

func (identityForward) Limb0Position(p kinematics.Parameters, s kinematics.State) vecmath.Vector3 {
	return vecmath.Vector3{}
}
func (identityForward) Limb1Position(p kinematics.Parameters, s kinematics.State) vecmath.Vector3 {
	return vecmath.Vector3{}
}
func (identityForward) Limb2Position(p kinematics.Parameters, s kinematics.State) vecmath.Vector3 {
	return vecmath.Vector3{}
}
func (identityForward) Limb3Position(p kinematics.Parameters, s kinematics.State) vecmath.Vector3 {
	return vecmath.Vector3{}
}
func (identityForward) Limb4Position(p kinematics.Parameters, s kinematics.State) vecmath.Vector3 {
	return vecmath.Vector3{X: s.Angles[0], Y: s.Angles[1], Z: s.Angles[2]}
}
func (identityForward) Limb4Euler(p kinematics.Parameters, s kinematics.State) vecmath.Vector3 {
	return vecmath.Vector3{}
}
func (identityForward) Limb4OrientationMatrix(p kinematics.Parameters, s kinematics.State) vecmath.Matrix3 {
	return vecmath.Identity3()
}

type identityInverse struct{}

func (identityInverse) TranslateLimb4(p kinematics.Parameters, s kinematics.State, delta vecmath.Vector3) (kinematics.State, error) {
	next := s
	next.Angles[0] += delta.X
	next.Angles[1] += delta.Y
	next.Angles[2] += delta.Z
	return next, nil
}

func (identityInverse) RotateLimb4(p kinematics.Parameters, s kinematics.State, deltaAngles vecmath.Vector3) (kinematics.State, error) {
	return s, nil
}

type capacityReply struct {
	Capacity uint64 `msgpack:"capacity"`
}

type availableReply struct {
	Available uint64 `msgpack:"available"`
}

// fakeServo decodes raw wire packets directly, the same harness shape used
// by internal/player's tests: a real transmitter/receiver/registry/client
// stack talks to it across a net.Pipe, so the host bridge exercises the
// genuine transport path rather than a mocked facade.
type fakeServo struct {
	t        *testing.T
	remote   *bufio.ReadWriter
	writeMu  sync.Mutex
	capacity uint64
	pushed   atomic.Int64
}

func (f *fakeServo) reply(tag wire.Tag, v any) {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		f.t.Fatalf("marshal reply: %v", err)
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := wire.Encode(f.remote.Writer, wire.Reply{Tag: tag, Payload: payload}); err != nil {
		f.t.Fatalf("encode reply: %v", err)
	}
}

func (f *fakeServo) event(code wire.EventCode) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := wire.Encode(f.remote.Writer, wire.Event{Code: code}); err != nil {
		f.t.Fatalf("encode event: %v", err)
	}
}

func (f *fakeServo) run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		pkt, err := wire.Decode(f.remote.Reader)
		if err != nil {
			return
		}
		cmd, ok := pkt.(wire.Command)
		if !ok {
			continue
		}
		switch cmd.Code {
		case servo.CodeClearPoseBuffer:
			f.reply(cmd.Tag, struct{}{})
		case servo.CodeGetPoseBufferCapacity:
			f.reply(cmd.Tag, capacityReply{Capacity: f.capacity})
		case servo.CodeGetPoseBufferAvailableSpace:
			f.reply(cmd.Tag, availableReply{Available: f.capacity})
		case servo.CodePushIntoPoseBuffer:
			f.reply(cmd.Tag, struct{}{})
			f.pushed.Add(1)
			go func() {
				time.Sleep(15 * time.Millisecond)
				f.event(servo.EventPoseBufferEmpty)
			}()
		}
	}
}

type harness struct {
	server *Server
	http   *httptest.Server
	watch  *kinematics.StateWatch
	fake   *fakeServo
	stop   chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	local, remote := net.Pipe()

	reg := registry.New()
	tx := transmitter.New(local)
	rx := receiver.New(local, reg)
	ctx, cancel := context.WithCancel(context.Background())
	go tx.Run(ctx)
	go rx.Run(ctx)

	c := client.New(tx, reg)
	facade := servo.New(c)
	solver := solve.New(identityInverse{}, identityForward{}, solve.WithThreshold(1e-6), solve.WithMaxIterations(5))
	watch := kinematics.NewStateWatch(kinematics.State{})
	p := player.New(facade, solver, kinematics.Parameters{}, watch, 5*time.Millisecond, nil)

	fake := &fakeServo{t: t, remote: bufio.NewReadWriter(bufio.NewReader(remote), bufio.NewWriter(remote)), capacity: 64}
	stop := make(chan struct{})
	go fake.run(stop)
	go p.Run(ctx)

	srv := NewServer(identityForward{}, kinematics.Parameters{}, watch, solver, p, 1000)
	httpSrv := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		close(stop)
		cancel()
		httpSrv.Close()
		local.Close()
		remote.Close()
	})

	return &harness{server: srv, http: httpSrv, watch: watch, fake: fake, stop: stop}
}

func (h *harness) wsURL() string {
	return "ws" + strings.TrimPrefix(h.http.URL, "http") + "/api/events"
}

func TestHandleParametersReflectsConfiguredLimbLengths(t *testing.T) {
	h := newHarness(t)
	// Rebuild the server with distinctive params so the response is checkable.
	h.server.params = kinematics.Parameters{LimbLengths: [5]float64{1, 2, 3, 4, 5}}

	resp, err := h.http.Client().Get(h.http.URL + "/api/parameters")
	if err != nil {
		t.Fatalf("GET /api/parameters: %v", err)
	}
	defer resp.Body.Close()

	var dto parametersDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		t.Fatalf("decode parameters: %v", err)
	}
	if dto.LimbLengths != [5]float64{1, 2, 3, 4, 5} {
		t.Fatalf("LimbLengths = %v, want [1 2 3 4 5]", dto.LimbLengths)
	}
}

func TestHandleStateReflectsWatch(t *testing.T) {
	h := newHarness(t)
	h.watch.Set(kinematics.State{Angles: [5]float64{7, 0, 0, 0, 0}})

	resp, err := h.http.Client().Get(h.http.URL + "/api/state")
	if err != nil {
		t.Fatalf("GET /api/state: %v", err)
	}
	defer resp.Body.Close()

	var dto stateDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if dto.Angles[0] != 7 {
		t.Fatalf("Angles[0] = %v, want 7", dto.Angles[0])
	}
	if dto.Version != 1 {
		t.Fatalf("Version = %d, want 1", dto.Version)
	}
	if len(dto.Vertices) != 6 {
		t.Fatalf("len(Vertices) = %d, want 6", len(dto.Vertices))
	}
}

// TestMoveReachesTargetAndBroadcastsOncePerPublish pins the "Host bridge
// reflects state" property (spec §8): after move_end_effector reaches its
// target, the state watch holds the new angles and a connected /api/events
// subscriber receives exactly one arm:state-changed frame per publish. The
// move covers 5 units at speed 1000 (0.005s) with a 5ms step, so the player
// publishes twice: the t=0 start sample, then the target.
func TestMoveReachesTargetAndBroadcastsOncePerPublish(t *testing.T) {
	h := newHarness(t)

	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	body := strings.NewReader(`{"x":3,"y":4,"z":0}`)
	resp, err := h.http.Client().Post(h.http.URL+"/api/move", "application/json", body)
	if err != nil {
		t.Fatalf("POST /api/move: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		state, version := h.watch.Get()
		if version >= 2 {
			if state.Angles[0] != 3 || state.Angles[1] != 4 {
				t.Fatalf("final angles = %v, want [3 4 ...]", state.Angles)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for move to reach target")
		}
		time.Sleep(5 * time.Millisecond)
	}

	for want := uint64(1); want <= 2; want++ {
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("expected arm:state-changed frame for version %d, got error: %v", want, err)
		}
		var frame stateChangedFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		if frame.Type != "arm:state-changed" {
			t.Fatalf("frame.Type = %q, want arm:state-changed", frame.Type)
		}
		if frame.Version != want {
			t.Fatalf("frame.Version = %d, want %d", frame.Version, want)
		}
		if want == 2 && (frame.Angles[0] != 3 || frame.Angles[1] != 4) {
			t.Fatalf("frame.Angles = %v, want [3 4 ...]", frame.Angles)
		}
	}

	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected exactly one frame per publish, got a third")
	}
}

func TestHandleMoveRejectsMalformedBody(t *testing.T) {
	h := newHarness(t)
	resp, err := h.http.Client().Post(h.http.URL+"/api/move", "application/json", strings.NewReader("not json"))
	if err != nil {
		t.Fatalf("POST /api/move: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
