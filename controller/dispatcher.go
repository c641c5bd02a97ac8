package controller

import (
	"github.com/frostbyte73/core"
	"github.com/linkdata/deadlock"
	"go.uber.org/atomic"

	"swingmetrics/models"
)

// Dispatcher funnels events from both sensor feeds into one goroutine,
// so the session buffer has a single writer and needs no lock.
//
// Enqueue never blocks the platform's delivery thread: when the queue is
// full the event is dropped and onDrop is told. Close stops intake,
// drains whatever is queued and returns once the last event is handled.
type Dispatcher struct {
	mu     deadlock.RWMutex
	closed bool
	queue  chan models.SensorEvent

	handler func(models.SensorEvent)
	onDrop  func(models.SensorEvent)
	done    core.Fuse

	processed atomic.Uint64
	dropped   atomic.Uint64
}

// NewDispatcher starts the processing goroutine immediately.
func NewDispatcher(size int, handler, onDrop func(models.SensorEvent)) *Dispatcher {
	if size <= 0 {
		size = 1024
	}
	d := &Dispatcher{
		queue:   make(chan models.SensorEvent, size),
		handler: handler,
		onDrop:  onDrop,
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.done.Break()
	for ev := range d.queue {
		d.handler(ev)
		d.processed.Inc()
	}
}

// Enqueue reports whether ev was accepted.
func (d *Dispatcher) Enqueue(ev models.SensorEvent) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false
	}
	select {
	case d.queue <- ev:
		return true
	default:
		d.dropped.Inc()
		if d.onDrop != nil {
			d.onDrop(ev)
		}
		return false
	}
}

// Close is idempotent. After it returns the handler is never called again.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	<-d.done.Watch()
}

// Stats returns processed and dropped event counts.
func (d *Dispatcher) Stats() (uint64, uint64) {
	return d.processed.Load(), d.dropped.Load()
}
