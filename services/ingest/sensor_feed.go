package ingest

import (
	"fmt"
	"time"

	"github.com/linkdata/deadlock"
	"go.uber.org/atomic"

	"swingmetrics/errors"
	"swingmetrics/models"
	"swingmetrics/utils"
)

// SensorFeed wraps the platform sensor and listener for one sensor kind
// and forwards every delivered event to a single callback.
type SensorFeed struct {
	kind     models.SensorKind
	platform Platform
	alwaysOn bool

	mu       deadlock.Mutex
	sensor   Sensor
	listener Listener
	running  bool

	// cbMu is separate from mu so a listener can deliver while Stop waits on it.
	cbMu    deadlock.RWMutex
	onEvent EventCallback

	delivered atomic.Uint64
}

func NewSensorFeed(kind models.SensorKind, platform Platform, alwaysOn bool) *SensorFeed {
	return &SensorFeed{
		kind:     kind,
		platform: platform,
		alwaysOn: alwaysOn,
	}
}

func (f *SensorFeed) Kind() models.SensorKind { return f.kind }

// Open resolves the default sensor of the feed's kind.
func (f *SensorFeed) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sensor != nil {
		return nil
	}

	supported, err := f.platform.IsSupported(f.kind)
	if err != nil {
		return errors.SensorUnavailable(f.kind, err.Error())
	}
	if !supported {
		return errors.SensorUnavailable(f.kind, "not supported on this device")
	}

	s, err := f.platform.DefaultSensor(f.kind)
	if err != nil {
		return errors.SensorUnavailable(f.kind, err.Error())
	}
	if s == nil {
		return errors.SensorUnavailable(f.kind, "no default sensor")
	}

	f.sensor = s
	utils.L().Debug("%s feed opened  (sensor=%s)", f.kind, s.Name())
	return nil
}

// Subscribe creates the listener and registers onEvent at the given interval.
// A feed that is already subscribed keeps its listener and swaps the callback.
func (f *SensorFeed) Subscribe(interval time.Duration, onEvent EventCallback) error {
	if interval <= 0 {
		return errors.Subscription(f.kind, fmt.Errorf("non-positive interval %s", interval))
	}
	if onEvent == nil {
		return errors.Subscription(f.kind, fmt.Errorf("nil callback"))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sensor == nil {
		return errors.Subscription(f.kind, errors.ErrSensorUnavailable)
	}

	f.cbMu.Lock()
	f.onEvent = onEvent
	f.cbMu.Unlock()

	if f.listener == nil {
		l, err := f.sensor.NewListener()
		if err != nil {
			return errors.Subscription(f.kind, err)
		}
		f.listener = l
	}

	if err := f.listener.SetEventCallback(interval, f.deliver); err != nil {
		return errors.Subscription(f.kind, err)
	}
	if f.alwaysOn {
		if err := f.listener.SetOption(OptionAlwaysOn); err != nil {
			return errors.Subscription(f.kind, fmt.Errorf("set %s: %w", OptionAlwaysOn, err))
		}
	}

	utils.L().Debug("%s feed subscribed  (interval=%s, always_on=%v)", f.kind, interval, f.alwaysOn)
	return nil
}

func (f *SensorFeed) deliver(ev models.SensorEvent) {
	f.cbMu.RLock()
	cb := f.onEvent
	f.cbMu.RUnlock()

	if cb == nil {
		return
	}
	ev.Kind = f.kind
	f.delivered.Inc()
	cb(ev)
}

// Start begins delivery on a subscribed feed.
func (f *SensorFeed) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listener == nil {
		return errors.Subscription(f.kind, fmt.Errorf("start before subscribe"))
	}
	if f.running {
		return nil
	}
	if err := f.listener.Start(); err != nil {
		return errors.Subscription(f.kind, err)
	}
	f.running = true
	return nil
}

// Stop halts delivery. Calling Stop on a stopped, failed or never-opened
// feed is a no-op.
func (f *SensorFeed) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listener == nil || !f.running {
		return nil
	}
	f.running = false
	if err := f.listener.Stop(); err != nil {
		return fmt.Errorf("stop %s listener: %w", f.kind, err)
	}
	return nil
}

// Close stops delivery and releases the listener. The sensor handle stays
// resolved so the feed can be subscribed again.
func (f *SensorFeed) Close() error {
	if err := f.Stop(); err != nil {
		utils.L().Warn("%s feed: %v", f.kind, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listener == nil {
		return nil
	}
	err := f.listener.Close()
	f.listener = nil

	f.cbMu.Lock()
	f.onEvent = nil
	f.cbMu.Unlock()
	return err
}

func (f *SensorFeed) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Stats returns the number of events forwarded to the callback.
func (f *SensorFeed) Stats() uint64 {
	return f.delivered.Load()
}
