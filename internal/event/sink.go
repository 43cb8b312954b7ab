package event

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sink receives events. Emit must not block for long; wrap slow sinks in a
// Dispatcher.
type Sink interface {
	Emit(Envelope)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Envelope)

// Emit calls f.
func (f SinkFunc) Emit(e Envelope) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Envelope) {})

type multi []Sink

func (m multi) Emit(e Envelope) {
	for _, s := range m {
		s.Emit(e)
	}
}

// Multi fans events out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return Discard
	case 1:
		return out[0]
	}
	return out
}

// Emitter stamps events with an id, the run id and the time.
type Emitter struct {
	sink  Sink
	runID string
	now   func() time.Time
}

// NewEmitter creates an emitter. A nil sink discards events.
func NewEmitter(sink Sink, runID string) *Emitter {
	if sink == nil {
		sink = Discard
	}
	return &Emitter{sink: sink, runID: runID, now: time.Now}
}

// WithRun returns an emitter for another run sharing the sink.
func (e *Emitter) WithRun(runID string) *Emitter {
	if e == nil {
		return NewEmitter(nil, runID)
	}
	return &Emitter{sink: e.sink, runID: runID, now: e.now}
}

// RunID returns the run id stamped on events.
func (e *Emitter) RunID() string {
	if e == nil {
		return ""
	}
	return e.runID
}

// Emit wraps ev in an envelope and hands it to the sink. A nil emitter is
// valid and drops the event.
func (e *Emitter) Emit(ev Event) {
	if e == nil || ev == nil {
		return
	}
	e.sink.Emit(Envelope{
		ID:    uuid.NewString(),
		RunID: e.runID,
		Time:  e.now().UTC(),
		Event: ev,
	})
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Envelope
}

// Emit implements Sink.
func (r *Recorder) Emit(e Envelope) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.events...)
}

// Kinds returns the kinds of the recorded events in order.
func (r *Recorder) Kinds() []Kind {
	events := r.Events()
	kinds := make([]Kind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind()
	}
	return kinds
}

// OfKind returns the recorded events of one kind.
func (r *Recorder) OfKind(k Kind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind() == k {
			out = append(out, e.Event)
		}
	}
	return out
}
