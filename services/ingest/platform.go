package ingest

import (
	"time"

	"swingmetrics/models"
)

// ListenerOption is a delivery option requested on a listener.
type ListenerOption int

const (
	// OptionAlwaysOn keeps events flowing while the display is off.
	OptionAlwaysOn ListenerOption = iota
)

func (o ListenerOption) String() string {
	switch o {
	case OptionAlwaysOn:
		return "always_on"
	default:
		return "unknown"
	}
}

// EventCallback receives every event a listener delivers.
type EventCallback func(models.SensorEvent)

// Platform is the device sensor framework.
type Platform interface {
	IsSupported(kind models.SensorKind) (bool, error)
	DefaultSensor(kind models.SensorKind) (Sensor, error)
}

// Sensor is a resolved sensor instance.
type Sensor interface {
	Kind() models.SensorKind
	Name() string
	NewListener() (Listener, error)
}

// Listener is a subscription on a Sensor. Start and Stop toggle delivery
// without discarding the registered callback.
type Listener interface {
	SetEventCallback(interval time.Duration, cb EventCallback) error
	SetOption(opt ListenerOption) error
	Start() error
	Stop() error
	Close() error
}
