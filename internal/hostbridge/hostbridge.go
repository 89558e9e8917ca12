// Package hostbridge is the thin HTTP/WebSocket adaptation layer named in
// spec §6 as an external collaborator (spec §4.12): the wire between the
// core arm control surface and whatever process renders it. It is not the
// windowed shell or the 3D visualizer; it exposes the kinematic state, the
// static parameters, a move request, and a state-change broadcast, and
// carries no part of the protocol's correctness burden.
package hostbridge

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skywa04885/arm-v5/internal/armerr"
	"github.com/skywa04885/arm-v5/internal/kinematics"
	"github.com/skywa04885/arm-v5/internal/kinematics/solve"
	"github.com/skywa04885/arm-v5/internal/logging"
	"github.com/skywa04885/arm-v5/internal/motion"
	"github.com/skywa04885/arm-v5/internal/player"
	"github.com/skywa04885/arm-v5/internal/vecmath"
)

const (
	pingInterval       = 20 * time.Second
	pongWaitMultiplier = 3
	writeWait          = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server exposes the arm's kinematic state and motion controls over plain
// HTTP and WebSocket, so a separate rendering process never needs to speak
// the tagged binary wire protocol directly.
type Server struct {
	forward kinematics.Forward
	params  kinematics.Parameters
	watch   *kinematics.StateWatch
	solver  *solve.Solver
	player  *player.Player
	speed   float64
	log     *logging.Logger

	mu      sync.Mutex
	clients map[*client]bool
}

// client mirrors the teacher's per-connection Client: a send-buffered
// WebSocket peer serviced by a dedicated reader/writer goroutine pair.
type client struct {
	conn *websocket.Conn
	send chan []byte
	log  *logging.Logger
}

// NewServer constructs a Server. speed is the constant meters/second applied
// to every move_end_effector request's Linear curve.
func NewServer(forward kinematics.Forward, params kinematics.Parameters, watch *kinematics.StateWatch, solver *solve.Solver, p *player.Player, speed float64) *Server {
	s := &Server{
		forward: forward,
		params:  params,
		watch:   watch,
		solver:  solver,
		player:  p,
		speed:   speed,
		log:     logging.L().With(logging.String("component", "hostbridge")),
		clients: make(map[*client]bool),
	}
	go s.broadcastLoop()
	return s
}

// Handler returns the routed mux: GET /api/state, GET /api/parameters,
// POST /api/move, and the /api/events WebSocket upgrade.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/parameters", s.handleParameters)
	mux.HandleFunc("/api/move", s.handleMove)
	mux.HandleFunc("/api/events", s.handleEvents)
	return mux
}

type vertexDTO struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type stateDTO struct {
	Angles   [5]float64  `json:"angles"`
	Version  uint64      `json:"version"`
	Vertices []vertexDTO `json:"vertices"`
}

func toVertexDTOs(vs []vecmath.Vector3) []vertexDTO {
	out := make([]vertexDTO, len(vs))
	for i, v := range vs {
		out[i] = vertexDTO{X: v.X, Y: v.Y, Z: v.Z}
	}
	return out
}

// handleState implements get_kinematic_state / get_vertices (spec §4.12).
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	state, version := s.watch.Get()
	vertices := kinematics.ComputeVertices(s.forward, s.params, state)
	writeJSON(w, s.log, stateDTO{Angles: state.Angles, Version: version, Vertices: toVertexDTOs(vertices[:])})
}

type parametersDTO struct {
	LimbLengths  [5]float64  `json:"limb_lengths"`
	JointOffsets []vertexDTO `json:"joint_offsets"`
	RotationAxes []vertexDTO `json:"rotation_axes"`
}

// handleParameters implements get_kinematic_parameters (spec §4.12).
func (s *Server) handleParameters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	dto := parametersDTO{
		LimbLengths:  s.params.LimbLengths,
		JointOffsets: toVertexDTOs(s.params.JointOffsets[:]),
		RotationAxes: toVertexDTOs(s.params.RotationAxes[:]),
	}
	writeJSON(w, s.log, dto)
}

type moveRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type moveResponse struct {
	Status string `json:"status"`
}

// handleMove implements move_end_effector (spec §4.12): the solver validates
// reachability up front, and only on Reached does a Linear motion get handed
// to the player, which performs its own per-sample IK as it streams poses.
func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	target := vecmath.Vector3{X: req.X, Y: req.Y, Z: req.Z}

	state, _ := s.watch.Get()
	origin := s.forward.Limb4Position(s.params, state)

	result, err := s.solver.TranslateLimb4(s.params, state, target)
	if err != nil {
		http.Error(w, armerr.UserMessage(err), http.StatusUnprocessableEntity)
		return
	}
	if !result.Reached {
		http.Error(w, armerr.UserMessage(armerr.Wrap(armerr.ErrInversion, "target is unreachable")), http.StatusUnprocessableEntity)
		return
	}

	curve := motion.Linear{Origin: origin, Target: target, Speed: s.speed}
	if _, err := s.player.Start(r.Context(), curve); err != nil {
		http.Error(w, armerr.UserMessage(err), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, s.log, moveResponse{Status: "started"})
}

func writeJSON(w http.ResponseWriter, log *logging.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("encode response failed", logging.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// handleEvents upgrades to WebSocket and registers the connection for
// arm:state-changed broadcasts until it disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 16), log: s.log.With(logging.String("remote_addr", r.RemoteAddr))}

	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()

	waitDuration := pongWaitMultiplier * pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(waitDuration))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(waitDuration))
	})

	go s.readPump(c, waitDuration)
	go s.writePump(c)
}

// readPump only services keepalive: the host bridge accepts no inbound
// WebSocket commands, so any frame read is discarded and only the deadline
// extension and error classification matter.
func (s *Server) readPump(c *client, waitDuration time.Duration) {
	defer func() {
		s.deregister(c)
		_ = c.conn.Close()
	}()
	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.log.Warn("read deadline exceeded", logging.Error(err))
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("unexpected websocket close", logging.Error(err))
			}
			return
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(waitDuration)); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	pingTicker := time.NewTicker(pingInterval)
	defer func() {
		pingTicker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Warn("write error", logging.Error(err))
				s.deregister(c)
				return
			}
		case <-pingTicker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				c.log.Warn("ping failure", logging.Error(err))
				s.deregister(c)
				return
			}
		}
	}
}

func (s *Server) deregister(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
}

type stateChangedFrame struct {
	Type    string     `json:"type"`
	Angles  [5]float64 `json:"angles"`
	Version uint64     `json:"version"`
}

// broadcastLoop re-subscribes to the edge-triggered state watch on every
// wakeup and fans the new state out to every connected client, exactly one
// arm:state-changed frame per publish (spec §8).
func (s *Server) broadcastLoop() {
	for {
		changed := s.watch.Changed()
		<-changed

		state, version := s.watch.Get()
		payload, err := json.Marshal(stateChangedFrame{Type: "arm:state-changed", Angles: state.Angles, Version: version})
		if err != nil {
			s.log.Error("marshal state-changed frame failed", logging.Error(err))
			continue
		}
		s.broadcast(payload)
	}
}

func (s *Server) broadcast(msg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			close(c.send)
			delete(s.clients, c)
		}
	}
}

// Serve runs an HTTP server on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, s *Server) error {
	httpServer := &http.Server{Addr: addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
