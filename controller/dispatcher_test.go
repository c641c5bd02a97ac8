package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swingmetrics/models"
)

func TestDispatcherDrainsOnClose(t *testing.T) {
	var got []models.SensorEvent
	d := NewDispatcher(16, func(ev models.SensorEvent) { got = append(got, ev) }, nil)
	for i := 0; i < 10; i++ {
		require.True(t, d.Enqueue(models.SensorEvent{TimestampNs: int64(i)}))
	}
	d.Close()

	require.Len(t, got, 10)
	for i, ev := range got {
		assert.Equal(t, int64(i), ev.TimestampNs, "events are handled in arrival order")
	}

	assert.False(t, d.Enqueue(models.SensorEvent{}), "closed dispatcher refuses events")
	d.Close()
	processed, dropped := d.Stats()
	assert.Equal(t, uint64(10), processed)
	assert.Zero(t, dropped)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	first := true
	var dropped []models.SensorEvent

	d := NewDispatcher(1, func(models.SensorEvent) {
		if first {
			first = false
			close(started)
			<-release
		}
	}, func(ev models.SensorEvent) { dropped = append(dropped, ev) })

	require.True(t, d.Enqueue(models.SensorEvent{Kind: models.Accelerometer}))
	<-started
	require.True(t, d.Enqueue(models.SensorEvent{Kind: models.Accelerometer}))
	assert.False(t, d.Enqueue(models.SensorEvent{Kind: models.Gyroscope}))

	close(release)
	d.Close()

	processed, n := d.Stats()
	assert.Equal(t, uint64(2), processed)
	assert.Equal(t, uint64(1), n)
	require.Len(t, dropped, 1)
	assert.Equal(t, models.Gyroscope, dropped[0].Kind)
}

func TestDispatcherCloseWithoutEvents(t *testing.T) {
	d := NewDispatcher(0, func(models.SensorEvent) { t.Fatal("no events were queued") }, nil)

	done := make(chan struct{})
	go func() {
		d.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}
