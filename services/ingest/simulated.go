package ingest

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/frostbyte73/core"
	"github.com/linkdata/deadlock"

	"swingmetrics/models"
	"swingmetrics/utils"
)

// SimulatedPlatform synthesises a wrist swing on both motion sensors.
// Kinds listed as unsupported behave like hardware the device lacks.
type SimulatedPlatform struct {
	unsupported map[models.SensorKind]bool
}

func NewSimulatedPlatform(unsupported ...models.SensorKind) *SimulatedPlatform {
	p := &SimulatedPlatform{unsupported: make(map[models.SensorKind]bool)}
	for _, k := range unsupported {
		p.unsupported[k] = true
	}
	return p
}

func (p *SimulatedPlatform) IsSupported(kind models.SensorKind) (bool, error) {
	return !p.unsupported[kind], nil
}

func (p *SimulatedPlatform) DefaultSensor(kind models.SensorKind) (Sensor, error) {
	if p.unsupported[kind] {
		return nil, fmt.Errorf("no %s on simulated device", kind)
	}
	return &simSensor{kind: kind}, nil
}

type simSensor struct {
	kind models.SensorKind
}

func (s *simSensor) Kind() models.SensorKind { return s.kind }
func (s *simSensor) Name() string            { return "sim-" + s.kind.String() }

func (s *simSensor) NewListener() (Listener, error) {
	return &simListener{kind: s.kind}, nil
}

// simRun is one Start..Stop delivery cycle.
type simRun struct {
	stop core.Fuse
	done core.Fuse
}

type simListener struct {
	kind models.SensorKind

	mu       deadlock.Mutex
	interval time.Duration
	cb       EventCallback
	alwaysOn bool
	run      *simRun
	step     float64
}

func (l *simListener) SetEventCallback(interval time.Duration, cb EventCallback) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.interval = interval
	l.cb = cb
	return nil
}

func (l *simListener) SetOption(opt ListenerOption) error {
	if opt != OptionAlwaysOn {
		return fmt.Errorf("unsupported listener option %s", opt)
	}
	l.mu.Lock()
	l.alwaysOn = true
	l.mu.Unlock()
	return nil
}

func (l *simListener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cb == nil || l.interval <= 0 {
		return fmt.Errorf("%s listener has no callback", l.kind)
	}
	if l.run != nil {
		return nil
	}
	run := &simRun{}
	l.run = run
	go l.loop(run, l.interval, l.cb)

	utils.L().Debug("sim %s listener started  (interval=%s, always_on=%v)", l.kind, l.interval, l.alwaysOn)
	return nil
}

func (l *simListener) loop(run *simRun, interval time.Duration, cb EventCallback) {
	defer run.done.Break()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-run.stop.Watch():
			return
		case <-ticker.C:
			cb(l.read())
		}
	}
}

// read produces a swing: a slow pendulum around the wrist plus sensor noise.
func (l *simListener) read() models.SensorEvent {
	l.mu.Lock()
	step := l.step
	l.step += 0.05
	l.mu.Unlock()

	ev := models.SensorEvent{Kind: l.kind, TimestampNs: utils.NowNano()}
	phase := 2 * math.Pi * 0.8 * step
	switch l.kind {
	case models.Accelerometer:
		ev.Values = [3]float32{
			float32(6*math.Sin(phase) + rand.Float64()*0.05),
			float32(2*math.Cos(phase) + rand.Float64()*0.05),
			float32(9.81 + rand.Float64()*0.02),
		}
	case models.Gyroscope:
		ev.Values = [3]float32{
			float32(0.5*math.Sin(phase*2) + rand.Float64()*0.005),
			float32(3*math.Cos(phase) + rand.Float64()*0.005),
			float32(0.05 + rand.Float64()*0.002),
		}
	}
	return ev
}

// Stop returns once the delivery goroutine has exited.
func (l *simListener) Stop() error {
	l.mu.Lock()
	run := l.run
	l.run = nil
	l.mu.Unlock()

	if run == nil {
		return nil
	}
	run.stop.Break()
	<-run.done.Watch()
	return nil
}

func (l *simListener) Close() error {
	return l.Stop()
}
