package utils

import (
	"fmt"
	"time"
)

// NowNano returns the current time as nanoseconds since Unix epoch.
func NowNano() int64 {
	return time.Now().UnixNano()
}

// SessionName returns a unique session file stem:
//
//	<prefix>_YYYYMMDD_HHMMSS
func SessionName(prefix string, at time.Time) string {
	return fmt.Sprintf("%s_%s", prefix, at.Format("20060102_150405"))
}

// NanosToSeconds converts a nanosecond delta to float32 seconds.
func NanosToSeconds(ns int64) float32 {
	return float32(float64(ns) / float64(time.Second))
}
