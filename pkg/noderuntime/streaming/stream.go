// Package streaming implements the per-run ordered event channel:
// FIFO-per-run delivery of stream_emit events, tail-drop
// backpressure when a run's buffer fills, and a single StreamingDegraded
// event marking that drop.
package streaming

import (
	"sync"

	"go.uber.org/zap"

	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/hostfunctions"
)

// EventTypeStreamingDegraded is emitted exactly once per run, the first
// time its channel starts dropping events.
const EventTypeStreamingDegraded = "streaming_degraded"

// Run is one run's ordered event channel. Events sent on it are FIFO;
// concurrent runs have no cross-ordering guarantees.
type Run struct {
	runID    string
	events   chan hostfunctions.StreamEvent
	mu       sync.Mutex
	degraded bool
}

// Events returns the channel a consumer (a host application's websocket/SSE
// bridge, a test) should range over to observe this run's events in order.
func (r *Run) Events() <-chan hostfunctions.StreamEvent { return r.events }

// emit delivers event, tail-dropping (and marking degraded, emitting one
// StreamingDegraded event) if the buffer is full.
func (r *Run) emit(event hostfunctions.StreamEvent) {
	select {
	case r.events <- event:
		return
	default:
	}

	r.mu.Lock()
	alreadyDegraded := r.degraded
	r.degraded = true
	r.mu.Unlock()

	if alreadyDegraded {
		return
	}

	// The incoming event is dropped; to make room for the degraded marker,
	// the oldest queued event is discarded as well.
	select {
	case <-r.events:
	default:
	}
	select {
	case r.events <- hostfunctions.StreamEvent{RunID: r.runID, EventType: EventTypeStreamingDegraded}:
	default:
	}
}

// Manager owns one Run per active run_id and implements
// hostfunctions.StreamEmitter, fanning stream_emit calls out to the
// matching Run's channel.
type Manager struct {
	mu         sync.Mutex
	runs       map[string]*Run
	bufferSize int
	logger     *zap.Logger
}

// NewManager creates a Manager whose runs are each buffered to bufferSize
// events before tail-dropping.
func NewManager(bufferSize int, logger *zap.Logger) *Manager {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{runs: make(map[string]*Run), bufferSize: bufferSize, logger: logger}
}

// OpenRun creates (or returns the existing) Run for runID. Callers should
// call CloseRun once the run completes to release its channel.
func (m *Manager) OpenRun(runID string) *Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, ok := m.runs[runID]; ok {
		return run
	}
	run := &Run{runID: runID, events: make(chan hostfunctions.StreamEvent, m.bufferSize)}
	m.runs[runID] = run
	return run
}

// CloseRun removes and closes runID's event channel.
func (m *Manager) CloseRun(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, ok := m.runs[runID]; ok {
		close(run.events)
		delete(m.runs, runID)
	}
}

// Emit implements hostfunctions.StreamEmitter: events for a run_id with no
// open Run (e.g. stream_state was false, or the run already closed) are
// logged and dropped rather than panicking or blocking the guest.
func (m *Manager) Emit(event hostfunctions.StreamEvent) {
	m.mu.Lock()
	run, ok := m.runs[event.RunID]
	m.mu.Unlock()
	if !ok {
		m.logger.Debug("dropping stream event for unknown or closed run", zap.String("run_id", event.RunID))
		return
	}
	run.emit(event)
}
