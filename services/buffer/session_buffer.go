package buffer

import (
	"swingmetrics/errors"
	"swingmetrics/models"
)

// DefaultCapacity matches the row count the watch firmware reserved.
const DefaultCapacity = 64000

// SessionBuffer stores the rows of one recording session.
//
// The accelerometer and gyroscope streams each own a write cursor and
// only ever touch their own fields, so a row is completed by two
// independent writes. Storage grows on demand up to the capacity; once a
// cursor reaches it every further write on that channel is refused and
// nothing already stored changes.
//
// SessionBuffer is not safe for concurrent use. The recorder funnels all
// writes through a single dispatch goroutine.
type SessionBuffer struct {
	capacity   int
	rows       []models.SampleRow
	accelIndex int
	gyroIndex  int

	accelRejected uint64
	gyroRejected  uint64
}

// New returns an empty buffer bounded to capacity rows. A non-positive
// capacity selects DefaultCapacity.
func New(capacity int) *SessionBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	initial := capacity
	if initial > 1024 {
		initial = 1024
	}
	return &SessionBuffer{
		capacity: capacity,
		rows:     make([]models.SampleRow, 0, initial),
	}
}

// Reset rewinds both cursors. The backing array is reused.
func (b *SessionBuffer) Reset() {
	b.rows = b.rows[:0]
	b.accelIndex = 0
	b.gyroIndex = 0
	b.accelRejected = 0
	b.gyroRejected = 0
}

// row returns the row at idx, extending storage with zero rows if the
// other stream has not reached it yet.
func (b *SessionBuffer) row(idx int) *models.SampleRow {
	for len(b.rows) <= idx {
		b.rows = append(b.rows, models.SampleRow{})
	}
	return &b.rows[idx]
}

// WriteAccel stores time and accelerometer axes at the accelerometer cursor.
func (b *SessionBuffer) WriteAccel(t, ax, ay, az float32) error {
	if b.accelIndex >= b.capacity {
		b.accelRejected++
		return errors.BufferFull(models.Accelerometer, b.capacity)
	}
	r := b.row(b.accelIndex)
	r.T, r.AX, r.AY, r.AZ = t, ax, ay, az
	b.accelIndex++
	return nil
}

// WriteGyro stores gyroscope axes at the gyroscope cursor.
func (b *SessionBuffer) WriteGyro(gx, gy, gz float32) error {
	if b.gyroIndex >= b.capacity {
		b.gyroRejected++
		return errors.BufferFull(models.Gyroscope, b.capacity)
	}
	r := b.row(b.gyroIndex)
	r.GX, r.GY, r.GZ = gx, gy, gz
	b.gyroIndex++
	return nil
}

// Snapshot copies the rows paced by the gyroscope cursor. Rows at or past
// AccelIndex keep zero accelerometer fields and a zero timestamp.
func (b *SessionBuffer) Snapshot() []models.SampleRow {
	out := make([]models.SampleRow, b.gyroIndex)
	copy(out, b.rows[:b.gyroIndex])
	return out
}

func (b *SessionBuffer) AccelIndex() int { return b.accelIndex }
func (b *SessionBuffer) GyroIndex() int  { return b.gyroIndex }
func (b *SessionBuffer) Capacity() int   { return b.capacity }

// Full reports whether the given channel can no longer accept writes.
func (b *SessionBuffer) Full(kind models.SensorKind) bool {
	if kind == models.Gyroscope {
		return b.gyroIndex >= b.capacity
	}
	return b.accelIndex >= b.capacity
}

// Rejected returns how many writes were refused on a channel since the last Reset.
func (b *SessionBuffer) Rejected(kind models.SensorKind) uint64 {
	if kind == models.Gyroscope {
		return b.gyroRejected
	}
	return b.accelRejected
}
