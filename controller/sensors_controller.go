package controller

import (
	"swingmetrics/errors"
	"swingmetrics/models"
	"swingmetrics/services/ingest"
	"swingmetrics/utils"
)

// ChannelStatus is the capture outcome of one sensor channel.
type ChannelStatus struct {
	Kind    models.SensorKind
	Enabled bool
	Active  bool
	Err     error
}

// CaptureReport describes which channels a session is actually recording.
type CaptureReport struct {
	Channels []ChannelStatus
}

// Active reports whether kind is being captured.
func (r *CaptureReport) Active(kind models.SensorKind) bool {
	for _, c := range r.Channels {
		if c.Kind == kind {
			return c.Active
		}
	}
	return false
}

// Degraded is true when an enabled channel failed to open, subscribe or start.
func (r *CaptureReport) Degraded() bool {
	for _, c := range r.Channels {
		if c.Enabled && !c.Active {
			return true
		}
	}
	return false
}

// AnyActive is true when at least one channel is captured.
func (r *CaptureReport) AnyActive() bool {
	for _, c := range r.Channels {
		if c.Active {
			return true
		}
	}
	return false
}

// Err joins the failures of every channel.
func (r *CaptureReport) Err() error {
	var errs []error
	for _, c := range r.Channels {
		if c.Err != nil {
			errs = append(errs, c.Err)
		}
	}
	return errors.Join(errs...)
}

func (r *CaptureReport) fail(kind models.SensorKind, err error) {
	for i := range r.Channels {
		if r.Channels[i].Kind == kind {
			r.Channels[i].Active = false
			r.Channels[i].Err = err
		}
	}
}

// SensorsController owns the accelerometer and gyroscope feeds.
type SensorsController struct {
	cfg   utils.SensorsConfig
	feeds map[models.SensorKind]*ingest.SensorFeed
}

// NewSensorsController creates a feed for every enabled sensor.
func NewSensorsController(cfg utils.SensorsConfig, platform ingest.Platform) *SensorsController {
	sc := &SensorsController{
		cfg:   cfg,
		feeds: make(map[models.SensorKind]*ingest.SensorFeed),
	}
	for _, k := range models.SensorKinds {
		if c := cfg.For(k); c.Enabled {
			sc.feeds[k] = ingest.NewSensorFeed(k, platform, c.AlwaysOn)
		}
	}
	return sc
}

// Open opens and subscribes every enabled feed. Failures are recorded in
// the report rather than returned.
func (sc *SensorsController) Open(cb ingest.EventCallback) *CaptureReport {
	report := &CaptureReport{}
	for _, k := range models.SensorKinds {
		status := ChannelStatus{Kind: k}
		if f, ok := sc.feeds[k]; ok {
			status.Enabled = true
			if err := f.Open(); err != nil {
				status.Err = err
			} else if err := f.Subscribe(sc.cfg.For(k).Interval(), cb); err != nil {
				status.Err = err
			} else {
				status.Active = true
			}
			if status.Err != nil {
				utils.L().Warn("%s unavailable: %v", k, status.Err)
			}
		}
		report.Channels = append(report.Channels, status)
	}
	return report
}

// Start begins delivery on every active channel of report, marking the
// ones that fail to start.
func (sc *SensorsController) Start(report *CaptureReport) {
	for _, k := range models.SensorKinds {
		if !report.Active(k) {
			continue
		}
		if err := sc.feeds[k].Start(); err != nil {
			utils.L().Warn("%s failed to start: %v", k, err)
			report.fail(k, err)
		}
	}
}

// Stop halts every feed, including ones that never started.
func (sc *SensorsController) Stop() error {
	var errs []error
	for _, k := range models.SensorKinds {
		if f, ok := sc.feeds[k]; ok {
			if err := f.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close stops and releases every listener.
func (sc *SensorsController) Close() {
	for _, k := range models.SensorKinds {
		if f, ok := sc.feeds[k]; ok {
			if err := f.Close(); err != nil {
				utils.L().Warn("close %s feed: %v", k, err)
			}
		}
	}
}

// Delivered returns the number of events each feed has forwarded.
func (sc *SensorsController) Delivered() map[models.SensorKind]uint64 {
	out := make(map[models.SensorKind]uint64, len(sc.feeds))
	for k, f := range sc.feeds {
		out[k] = f.Stats()
	}
	return out
}

// LogStats prints the delivered counter of each feed.
func (sc *SensorsController) LogStats() {
	for _, k := range models.SensorKinds {
		if f, ok := sc.feeds[k]; ok {
			utils.L().Info("  %-13s delivered=%d  running=%v", k, f.Stats(), f.Running())
		}
	}
}
