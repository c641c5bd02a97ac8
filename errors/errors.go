package errors

import (
	"errors"
	"fmt"
)

var (
	ErrSensorUnavailable = errors.New("sensor unavailable")
	ErrSubscription      = errors.New("sensor subscription failed")
	ErrBufferFull        = errors.New("session buffer full")
	ErrIO                = errors.New("export io error")
	ErrAlreadyRecording  = errors.New("session already recording")
	ErrNotRecording      = errors.New("session not recording")
	ErrNoSensors         = errors.New("no sensor could be opened")
	ErrNothingToExport   = errors.New("no retained snapshot to export")
	ErrInvalidConfig     = errors.New("invalid config")
)

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func Join(errs ...error) error {
	return errors.Join(errs...)
}

func SensorUnavailable(kind fmt.Stringer, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrSensorUnavailable, kind, reason)
}

func Subscription(kind fmt.Stringer, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSubscription, kind, err)
}

func BufferFull(kind fmt.Stringer, capacity int) error {
	return fmt.Errorf("%w: %s channel reached capacity %d", ErrBufferFull, kind, capacity)
}

func IO(path string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, path, err)
}

func InvalidConfig(field string, value any) error {
	return fmt.Errorf("%w: %s=%v", ErrInvalidConfig, field, value)
}
