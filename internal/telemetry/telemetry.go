// Package telemetry is a diagnostics-only recorder for motion playback: a
// compressed lifecycle event log plus a compressed trajectory frame stream,
// mirroring the teacher's replay writer but repointed at joint trajectories
// instead of game-world snapshots (spec §4.11). Nothing here is ever read
// back at runtime; it exists purely so a session can be inspected after the
// fact.
package telemetry

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

var sessionNameCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// LifecycleEvent is one Start/Stop/MotionFailure transition.
type LifecycleEvent struct {
	Sequence   uint64    `json:"sequence"`
	Kind       string    `json:"kind"`
	Detail     string    `json:"detail,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// TrajectoryFrame is one accepted PushIntoPoseBuffer sample.
type TrajectoryFrame struct {
	Sequence   uint64
	Angles     [5]float64
	Duration   float64
	RecordedAt time.Time
}

// Recorder streams lifecycle events and trajectory frames to two compressed
// sinks in a session directory. A nil *Recorder is valid and every method on
// it is a no-op, so callers can wire an optional recorder without branching.
type Recorder struct {
	mu           sync.Mutex
	dir          string
	now          func() time.Time
	eventFile    *os.File
	eventStream  *snappy.Writer
	frameFile    *os.File
	frameStream  *zstd.Encoder
	nextEventSeq uint64
	nextFrameSeq uint64
}

// NewRecorder creates a session directory under root and opens its two
// compressed sinks. clock defaults to time.Now when nil.
func NewRecorder(root, sessionName string, clock func() time.Time) (*Recorder, error) {
	if root == "" {
		return nil, fmt.Errorf("telemetry root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := sessionNameCleaner.ReplaceAllString(sessionName, "")
	if cleaned == "" {
		cleaned = "session"
	}
	created := clock().UTC()
	dir := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	eventFile, err := os.Create(filepath.Join(dir, "events.jsonl.sz"))
	if err != nil {
		return nil, err
	}
	eventStream := snappy.NewBufferedWriter(eventFile)

	frameFile, err := os.Create(filepath.Join(dir, "frames.bin.zst"))
	if err != nil {
		eventFile.Close()
		return nil, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventStream.Close()
		eventFile.Close()
		frameFile.Close()
		return nil, err
	}

	return &Recorder{
		dir:         dir,
		now:         clock,
		eventFile:   eventFile,
		eventStream: eventStream,
		frameFile:   frameFile,
		frameStream: frameStream,
	}, nil
}

// Directory returns the session directory backing the recorder.
func (r *Recorder) Directory() string {
	if r == nil {
		return ""
	}
	return r.dir
}

// RecordEvent appends one lifecycle transition to the compressed event log.
func (r *Recorder) RecordEvent(kind, detail string) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextEventSeq++
	event := LifecycleEvent{
		Sequence:   r.nextEventSeq,
		Kind:       kind,
		Detail:     detail,
		RecordedAt: r.now().UTC(),
	}
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := r.eventStream.Write(line); err != nil {
		return err
	}
	if _, err := r.eventStream.Write([]byte("\n")); err != nil {
		return err
	}
	return r.eventStream.Flush()
}

// RecordFrame appends one trajectory sample to the compressed frame stream
// as a fixed-size header (sequence, recorded-at nanos, duration bits) plus a
// little-endian float64 per joint angle. Unlike the teacher's writer this
// never batches: the spec calls RecordFrame once per accepted push, and the
// low sample rate doesn't warrant cadence-based buffering.
func (r *Recorder) RecordFrame(angles [5]float64, duration float64) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextFrameSeq++
	header := make([]byte, 8+8+8)
	binary.LittleEndian.PutUint64(header[0:8], r.nextFrameSeq)
	binary.LittleEndian.PutUint64(header[8:16], uint64(r.now().UTC().UnixNano()))
	binary.LittleEndian.PutUint64(header[16:24], math.Float64bits(duration))
	if _, err := r.frameStream.Write(header); err != nil {
		return err
	}
	for _, angle := range angles {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(angle))
		if _, err := r.frameStream.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes both sinks, returning the first error observed.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	if err := r.eventStream.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.eventStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.eventFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.frameStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.frameFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
