package event

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the dispatcher queue size used when none is given.
const DefaultBuffer = 256

// Dispatcher delivers events to its sinks on a separate goroutine. Emit
// never blocks: when the buffer is full the event is dropped and counted.
type Dispatcher struct {
	sinks   Sink
	queue   chan Envelope
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts a dispatcher with the given buffer size.
func NewDispatcher(buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	d := &Dispatcher{
		sinks: Multi(sinks...),
		queue: make(chan Envelope, buffer),
		done:  make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for e := range d.queue {
		d.sinks.Emit(e)
	}
}

// Emit implements Sink.
func (d *Dispatcher) Emit(e Envelope) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}
	select {
	case d.queue <- e:
	default:
		d.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops accepting events and waits until queued events are delivered.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
	return nil
}
