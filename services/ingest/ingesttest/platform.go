// Package ingesttest provides a scriptable sensor platform for tests.
package ingesttest

import (
	"fmt"
	"time"

	"github.com/linkdata/deadlock"

	"swingmetrics/models"
	"swingmetrics/services/ingest"
)

var _ ingest.Platform = (*Platform)(nil)

// Platform is a scriptable ingest.Platform. Events are pushed with
// Listener.Emit and are delivered synchronously while started.
type Platform struct {
	mu          deadlock.Mutex
	unsupported map[models.SensorKind]bool
	noDefault   map[models.SensorKind]bool
	failures    map[models.SensorKind]Failures
	listeners   map[models.SensorKind]*Listener
}

// Failures injects errors into listener calls for one kind.
type Failures struct {
	NewListener error
	SetCallback error
	SetOption   error
	Start       error
	Stop        error
}

func NewPlatform() *Platform {
	return &Platform{
		unsupported: make(map[models.SensorKind]bool),
		noDefault:   make(map[models.SensorKind]bool),
		failures:    make(map[models.SensorKind]Failures),
		listeners:   make(map[models.SensorKind]*Listener),
	}
}

func (p *Platform) SetUnsupported(kind models.SensorKind) *Platform {
	p.mu.Lock()
	p.unsupported[kind] = true
	p.mu.Unlock()
	return p
}

func (p *Platform) SetNoDefault(kind models.SensorKind) *Platform {
	p.mu.Lock()
	p.noDefault[kind] = true
	p.mu.Unlock()
	return p
}

func (p *Platform) SetFailures(kind models.SensorKind, f Failures) *Platform {
	p.mu.Lock()
	p.failures[kind] = f
	p.mu.Unlock()
	return p
}

// Listener returns the most recent listener created for kind, or nil.
func (p *Platform) Listener(kind models.SensorKind) *Listener {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listeners[kind]
}

func (p *Platform) IsSupported(kind models.SensorKind) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.unsupported[kind], nil
}

func (p *Platform) DefaultSensor(kind models.SensorKind) (ingest.Sensor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.noDefault[kind] {
		return nil, fmt.Errorf("no default %s", kind)
	}
	return &fakeSensor{platform: p, kind: kind}, nil
}

type fakeSensor struct {
	platform *Platform
	kind     models.SensorKind
}

func (s *fakeSensor) Kind() models.SensorKind { return s.kind }
func (s *fakeSensor) Name() string            { return "fake-" + s.kind.String() }

func (s *fakeSensor) NewListener() (ingest.Listener, error) {
	p := s.platform
	p.mu.Lock()
	defer p.mu.Unlock()

	f := p.failures[s.kind]
	if f.NewListener != nil {
		return nil, f.NewListener
	}
	l := &Listener{kind: s.kind, failures: f}
	p.listeners[s.kind] = l
	return l, nil
}

// Listener records every call made on it.
type Listener struct {
	kind     models.SensorKind
	failures Failures

	mu        deadlock.Mutex
	interval  time.Duration
	cb        ingest.EventCallback
	options   []ingest.ListenerOption
	started   bool
	stopCalls int
	closed    bool
	ts        int64
}

func (l *Listener) SetEventCallback(interval time.Duration, cb ingest.EventCallback) error {
	if l.failures.SetCallback != nil {
		return l.failures.SetCallback
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.interval = interval
	l.cb = cb
	return nil
}

func (l *Listener) SetOption(opt ingest.ListenerOption) error {
	if l.failures.SetOption != nil {
		return l.failures.SetOption
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.options = append(l.options, opt)
	return nil
}

func (l *Listener) Start() error {
	if l.failures.Start != nil {
		return l.failures.Start
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = true
	return nil
}

func (l *Listener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = false
	l.stopCalls++
	return l.failures.Stop
}

func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = false
	l.closed = true
	return nil
}

// Emit delivers one event if the listener is started and reports whether
// it was delivered. Timestamps advance by the subscribed interval.
func (l *Listener) Emit(x, y, z float32) bool {
	l.mu.Lock()
	if !l.started || l.cb == nil {
		l.mu.Unlock()
		return false
	}
	cb := l.cb
	ev := models.SensorEvent{Kind: l.kind, Values: [3]float32{x, y, z}, TimestampNs: l.ts}
	l.ts += l.interval.Nanoseconds()
	l.mu.Unlock()

	cb(ev)
	return true
}

// EmitAt delivers an event with an explicit sensor timestamp.
func (l *Listener) EmitAt(tsNs int64, x, y, z float32) bool {
	l.mu.Lock()
	if !l.started || l.cb == nil {
		l.mu.Unlock()
		return false
	}
	cb := l.cb
	l.mu.Unlock()

	cb(models.SensorEvent{Kind: l.kind, Values: [3]float32{x, y, z}, TimestampNs: tsNs})
	return true
}

func (l *Listener) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

func (l *Listener) Options() []ingest.ListenerOption {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ingest.ListenerOption(nil), l.options...)
}

func (l *Listener) Started() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started
}

func (l *Listener) StopCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopCalls
}

func (l *Listener) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
