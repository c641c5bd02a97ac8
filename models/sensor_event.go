package models

import (
	"fmt"
	"strings"
)

// SensorKind identifies one of the two motion sensors a session records.
type SensorKind int

const (
	Accelerometer SensorKind = iota
	Gyroscope
)

// SensorKinds lists every kind in capture order.
var SensorKinds = []SensorKind{Accelerometer, Gyroscope}

var sensorKindNames = map[SensorKind]string{
	Accelerometer: "accelerometer",
	Gyroscope:     "gyroscope",
}

func (k SensorKind) String() string {
	if n, ok := sensorKindNames[k]; ok {
		return n
	}
	return "unknown"
}

// ParseSensorKind accepts the names produced by String, case-insensitively.
func ParseSensorKind(s string) (SensorKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, n := range sensorKindNames {
		if n == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown sensor kind %q", s)
}

// SensorEvent is one discrete delivery from a platform sensor listener.
type SensorEvent struct {
	Kind        SensorKind `json:"kind"`
	Values      [3]float32 `json:"values"`       // x, y, z
	TimestampNs int64      `json:"timestamp_ns"` // opaque monotonic sensor clock
}
