package utils

import (
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"swingmetrics/errors"
	"swingmetrics/models"
)

// ─── Sensor-level configs ───────────────────────────────────────────────

type SensorConfig struct {
	Enabled    bool `yaml:"enabled"`
	IntervalMs int  `yaml:"interval_ms"`
	AlwaysOn   bool `yaml:"always_on"` // keep delivering during screen timeout
}

func (c SensorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

type SensorsConfig struct {
	Accelerometer SensorConfig `yaml:"accelerometer"`
	Gyroscope     SensorConfig `yaml:"gyroscope"`
}

// For returns the config of one sensor kind.
func (c SensorsConfig) For(kind models.SensorKind) SensorConfig {
	if kind == models.Gyroscope {
		return c.Gyroscope
	}
	return c.Accelerometer
}

// ─── Session configs ────────────────────────────────────────────────────

const (
	TimestampNominal  = "nominal"  // n * nominal_interval_seconds
	TimestampMeasured = "measured" // sensor clock delta from the first sample

	OverflowReject   = "reject"    // full channel drops further samples
	OverflowAutoStop = "auto_stop" // full channel stops the session
)

type SessionConfig struct {
	Capacity               int     `yaml:"capacity"`
	NominalIntervalSeconds float64 `yaml:"nominal_interval_seconds"`
	TimestampSource        string  `yaml:"timestamp_source"`
	RequireAllSensors      bool    `yaml:"require_all_sensors"`
	OverflowPolicy         string  `yaml:"overflow_policy"`
	QueueSize              int     `yaml:"queue_size"`
}

// ─── Output configs ─────────────────────────────────────────────────────

type OutputConfig struct {
	Path          string `yaml:"path"` // fixed destination; empty selects Dir/<session name>.csv
	Dir           string `yaml:"dir"`
	SessionPrefix string `yaml:"session_prefix"`
	Separator     string `yaml:"separator"`
	Precision     int    `yaml:"precision"`
	WriteHeader   bool   `yaml:"write_header"`
	BufferSizeKB  int    `yaml:"buffer_size_kb"`
}

type SimulationConfig struct {
	Enabled         bool     `yaml:"enabled"`
	DurationSeconds int      `yaml:"duration_seconds"`
	Unsupported     []string `yaml:"unsupported"` // sensor kinds the simulated device lacks
}

type MetricsConfig struct {
	Port int `yaml:"port"` // 0 disables the /metrics listener
}

// Config is the top-level structure of swingmetrics.yaml.
type Config struct {
	Sensors    SensorsConfig    `yaml:"sensors"`
	Session    SessionConfig    `yaml:"session"`
	Output     OutputConfig     `yaml:"output"`
	Simulation SimulationConfig `yaml:"simulation"`
	Logging    LogConfig        `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// DefaultConfig mirrors the watch firmware: 50 ms always-on listeners,
// 64000 rows, one CSV in the device documents folder.
func DefaultConfig() *Config {
	return &Config{
		Sensors: SensorsConfig{
			Accelerometer: SensorConfig{Enabled: true, IntervalMs: 50, AlwaysOn: true},
			Gyroscope:     SensorConfig{Enabled: true, IntervalMs: 50, AlwaysOn: true},
		},
		Session: SessionConfig{
			Capacity:               64000,
			NominalIntervalSeconds: 0.05,
			TimestampSource:        TimestampNominal,
			OverflowPolicy:         OverflowReject,
			QueueSize:              1024,
		},
		Output: OutputConfig{
			Path:          "/opt/usr/media/Documents/data.csv",
			Dir:           "recordings",
			SessionPrefix: "swing",
			Separator:     ", ",
			Precision:     models.DefaultPrecision,
			BufferSizeKB:  64,
		},
		Simulation: SimulationConfig{Enabled: true},
		Logging:    LogConfig{Level: "info", MaxSizeMB: 10, MaxBackups: 3},
	}
}

// ─── Loaders ────────────────────────────────────────────────────────────

// LoadConfig reads swingmetrics.yaml over the defaults, then applies
// environment overrides (a .env file in the working directory is loaded
// if present). An empty path or a missing file leaves the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// defaults
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SWING_OUTPUT_PATH"); v != "" {
		c.Output.Path = v
	}
	if v := os.Getenv("SWING_OUTPUT_DIR"); v != "" {
		c.Output.Dir = v
	}
	if v := os.Getenv("SWING_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.InvalidConfig("SWING_CAPACITY", v)
		}
		c.Session.Capacity = n
	}
	if v := os.Getenv("SWING_OVERFLOW_POLICY"); v != "" {
		c.Session.OverflowPolicy = v
	}
	if v := os.Getenv("SWING_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Validate rejects configs the recorder cannot run with.
func (c *Config) Validate() error {
	for _, k := range models.SensorKinds {
		s := c.Sensors.For(k)
		if s.Enabled && s.IntervalMs <= 0 {
			return errors.InvalidConfig("sensors."+k.String()+".interval_ms", s.IntervalMs)
		}
	}
	if !c.Sensors.Accelerometer.Enabled && !c.Sensors.Gyroscope.Enabled {
		return errors.InvalidConfig("sensors", "no sensor enabled")
	}
	if c.Session.Capacity <= 0 {
		return errors.InvalidConfig("session.capacity", c.Session.Capacity)
	}
	if c.Session.NominalIntervalSeconds <= 0 {
		return errors.InvalidConfig("session.nominal_interval_seconds", c.Session.NominalIntervalSeconds)
	}
	switch c.Session.TimestampSource {
	case TimestampNominal, TimestampMeasured:
	default:
		return errors.InvalidConfig("session.timestamp_source", c.Session.TimestampSource)
	}
	switch c.Session.OverflowPolicy {
	case OverflowReject, OverflowAutoStop:
	default:
		return errors.InvalidConfig("session.overflow_policy", c.Session.OverflowPolicy)
	}
	if c.Session.QueueSize <= 0 {
		return errors.InvalidConfig("session.queue_size", c.Session.QueueSize)
	}
	if c.Output.Path == "" && c.Output.Dir == "" {
		return errors.InvalidConfig("output", "path or dir required")
	}
	if c.Output.Separator == "" {
		return errors.InvalidConfig("output.separator", `""`)
	}
	if c.Output.Precision < 0 {
		return errors.InvalidConfig("output.precision", c.Output.Precision)
	}
	for _, s := range c.Simulation.Unsupported {
		if _, err := models.ParseSensorKind(s); err != nil {
			return errors.InvalidConfig("simulation.unsupported", s)
		}
	}
	return nil
}

// UnsupportedKinds parses simulation.unsupported. Validate has already
// rejected unknown names.
func (c *Config) UnsupportedKinds() []models.SensorKind {
	var out []models.SensorKind
	for _, s := range c.Simulation.Unsupported {
		if k, err := models.ParseSensorKind(s); err == nil {
			out = append(out, k)
		}
	}
	return out
}
