package controller

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"swingmetrics/errors"
	"swingmetrics/models"
	"swingmetrics/services/ingest"
	"swingmetrics/services/ingest/ingesttest"
	"swingmetrics/services/stats"
	"swingmetrics/utils"
	"swingmetrics/views"
)

func init() {
	utils.SetLogger(zap.NewNop())
}

type harness struct {
	session  *RecordingSession
	platform *ingesttest.Platform
	metrics  *stats.Metrics
	path     string
}

func newHarness(t *testing.T, platform *ingesttest.Platform, exporter Exporter, mutate func(*utils.Config)) *harness {
	t.Helper()
	cfg := utils.DefaultConfig()
	cfg.Output.Path = filepath.Join(t.TempDir(), "data.csv")
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	if platform == nil {
		platform = ingesttest.NewPlatform()
	}
	if exporter == nil {
		exporter = views.NewCSVExporter(views.CSVOptions{
			Separator: cfg.Output.Separator,
			Precision: cfg.Output.Precision,
		})
	}
	m := stats.NewMetrics()
	return &harness{
		session:  NewRecordingSession(cfg, platform, exporter, m),
		platform: platform,
		metrics:  m,
		path:     cfg.Output.Path,
	}
}

func (h *harness) emit(t *testing.T, kind models.SensorKind, n int, x, y, z float32) {
	t.Helper()
	l := h.platform.Listener(kind)
	require.NotNil(t, l)
	for i := 0; i < n; i++ {
		require.True(t, l.Emit(x, y, z))
	}
}

func (h *harness) lines(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(h.path)
	require.NoError(t, err)
	s := string(data)
	if s == "" {
		return nil
	}
	require.True(t, strings.HasSuffix(s, "\n"))
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func (h *harness) start(t *testing.T) *CaptureReport {
	t.Helper()
	report, err := h.session.Start()
	require.NoError(t, err)
	require.Equal(t, Recording, h.session.State())
	return report
}

// countingExporter fails the first failures calls, then delegates.
type countingExporter struct {
	mu       sync.Mutex
	failures int
	calls    int
	paths    []string
	next     Exporter
}

func (e *countingExporter) Export(rows []models.SampleRow, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.paths = append(e.paths, path)
	if e.failures > 0 {
		e.failures--
		return errors.IO(path, fmt.Errorf("no space left on device"))
	}
	if e.next != nil {
		return e.next.Export(rows, path)
	}
	return nil
}

func waitEvent(t *testing.T, s *RecordingSession, want EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", want)
		}
	}
}

func TestSessionEndToEnd(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	report := h.start(t)
	assert.False(t, report.Degraded())

	h.emit(t, models.Accelerometer, 3, 1, 2, 3)
	h.emit(t, models.Gyroscope, 3, 4, 5, 6)

	res, err := h.session.Stop()
	require.NoError(t, err)
	assert.Equal(t, Idle, h.session.State())
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, h.path, res.Path)
	assert.Empty(t, res.Overflowed)

	assert.Equal(t, []string{
		"0.000000, 1.000000, 2.000000, 3.000000, 4.000000, 5.000000, 6.000000",
		"0.050000, 1.000000, 2.000000, 3.000000, 4.000000, 5.000000, 6.000000",
		"0.100000, 1.000000, 2.000000, 3.000000, 4.000000, 5.000000, 6.000000",
	}, h.lines(t))

	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.SamplesRecorded.WithLabelValues("gyroscope")))
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.ExportedRows))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.Recording))
}

func TestSessionExportPacedByGyroscope(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	h.start(t)
	h.emit(t, models.Gyroscope, 2, 4, 5, 6)
	h.emit(t, models.Accelerometer, 5, 1, 2, 3)

	res, err := h.session.Stop()
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 5, res.AccelRows)
	assert.Equal(t, 2, res.GyroRows)
	assert.Len(t, h.lines(t), 2)
}

func TestSessionGyroAheadOfAccel(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	h.start(t)
	h.emit(t, models.Accelerometer, 1, 1, 2, 3)
	h.emit(t, models.Gyroscope, 3, 4, 5, 6)

	res, err := h.session.Stop()
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	lines := h.lines(t)
	require.Len(t, lines, 3)
	assert.Equal(t, "0.000000, 0.000000, 0.000000, 0.000000, 4.000000, 5.000000, 6.000000", lines[2])
}

func TestSessionNominalTimestamps(t *testing.T) {
	h := newHarness(t, nil, nil, func(c *utils.Config) {
		c.Session.NominalIntervalSeconds = 0.02
		c.Output.Separator = ","
	})
	h.start(t)
	h.emit(t, models.Accelerometer, 50, 0, 0, 0)
	h.emit(t, models.Gyroscope, 50, 0, 0, 0)
	_, err := h.session.Stop()
	require.NoError(t, err)

	lines := h.lines(t)
	require.Len(t, lines, 50)
	for i, line := range lines {
		var ts float64
		_, err := fmt.Sscanf(strings.Split(line, ",")[0], "%f", &ts)
		require.NoError(t, err)
		assert.InDelta(t, float64(i)*0.02, ts, 1e-6, "row %d", i)
	}
}

func TestSessionMeasuredTimestamps(t *testing.T) {
	h := newHarness(t, nil, nil, func(c *utils.Config) {
		c.Session.TimestampSource = utils.TimestampMeasured
	})
	h.start(t)
	l := h.platform.Listener(models.Accelerometer)
	require.True(t, l.EmitAt(5_000_000_000, 1, 1, 1))
	require.True(t, l.EmitAt(5_120_000_000, 1, 1, 1))
	h.emit(t, models.Gyroscope, 2, 0, 0, 0)

	_, err := h.session.Stop()
	require.NoError(t, err)
	lines := h.lines(t)
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "0.000000,"))
	assert.True(t, strings.HasPrefix(lines[1], "0.120000,"))
}

func TestSessionStopTwice(t *testing.T) {
	exp := &countingExporter{}
	h := newHarness(t, nil, exp, nil)
	h.start(t)

	_, err := h.session.Stop()
	require.NoError(t, err)
	res, err := h.session.Stop()
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, errors.ErrNotRecording))
	assert.Equal(t, 1, exp.calls)
	assert.NoError(t, h.session.Close())
}

func TestSessionStartWhileRecording(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	h.start(t)
	id := h.session.SessionID()

	_, err := h.session.Start()
	assert.True(t, errors.Is(err, errors.ErrAlreadyRecording))
	assert.Equal(t, id, h.session.SessionID())
	assert.Equal(t, Recording, h.session.State())
	require.NoError(t, h.session.Close())
}

func TestSessionDegradedStart(t *testing.T) {
	p := ingesttest.NewPlatform().SetUnsupported(models.Gyroscope)
	h := newHarness(t, p, nil, nil)

	report := h.start(t)
	assert.True(t, report.Degraded())
	assert.True(t, report.Active(models.Accelerometer))
	assert.False(t, report.Active(models.Gyroscope))
	assert.True(t, errors.Is(report.Err(), errors.ErrSensorUnavailable))

	h.emit(t, models.Accelerometer, 4, 1, 2, 3)
	res, err := h.session.Stop()
	require.NoError(t, err)
	assert.Equal(t, 4, res.AccelRows)
	assert.Zero(t, res.Rows, "rows are paced by the missing gyroscope")
	assert.True(t, res.Capture.Degraded())
}

func TestSessionRequireAllSensors(t *testing.T) {
	p := ingesttest.NewPlatform().SetNoDefault(models.Gyroscope)
	h := newHarness(t, p, nil, func(c *utils.Config) { c.Session.RequireAllSensors = true })

	report, err := h.session.Start()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSensorUnavailable))
	assert.True(t, report.Degraded())
	assert.Equal(t, Idle, h.session.State())
	assert.False(t, h.platform.Listener(models.Accelerometer).Started())
}

func TestSessionStartFailureDegrades(t *testing.T) {
	p := ingesttest.NewPlatform().SetFailures(models.Accelerometer, ingesttest.Failures{Start: fmt.Errorf("busy")})
	h := newHarness(t, p, nil, nil)

	report := h.start(t)
	assert.False(t, report.Active(models.Accelerometer))
	assert.True(t, errors.Is(report.Err(), errors.ErrSubscription))
	require.NoError(t, h.session.Close())
}

func TestSessionNoSensors(t *testing.T) {
	p := ingesttest.NewPlatform().SetUnsupported(models.Accelerometer).SetUnsupported(models.Gyroscope)
	h := newHarness(t, p, nil, nil)

	_, err := h.session.Start()
	assert.True(t, errors.Is(err, errors.ErrNoSensors))
	assert.True(t, errors.Is(err, errors.ErrSensorUnavailable))
	assert.Equal(t, Idle, h.session.State())
}

func TestSessionRequestsAlwaysOn(t *testing.T) {
	h := newHarness(t, nil, nil, func(c *utils.Config) { c.Sensors.Gyroscope.IntervalMs = 20 })
	h.start(t)
	defer h.session.Close()

	for _, k := range models.SensorKinds {
		assert.Equal(t, []ingest.ListenerOption{ingest.OptionAlwaysOn}, h.platform.Listener(k).Options())
	}
	assert.Equal(t, 50*time.Millisecond, h.platform.Listener(models.Accelerometer).Interval())
	assert.Equal(t, 20*time.Millisecond, h.platform.Listener(models.Gyroscope).Interval())
}

func TestSessionOverflowReject(t *testing.T) {
	h := newHarness(t, nil, nil, func(c *utils.Config) { c.Session.Capacity = 2 })
	h.start(t)
	h.emit(t, models.Accelerometer, 1, 1, 1, 1)
	h.emit(t, models.Accelerometer, 1, 2, 2, 2)
	h.emit(t, models.Accelerometer, 3, 9, 9, 9)
	h.emit(t, models.Gyroscope, 4, 3, 3, 3)

	ev := waitEvent(t, h.session, EventBufferFull)
	assert.True(t, errors.Is(ev.Err, errors.ErrBufferFull))

	res, err := h.session.Stop()
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.ElementsMatch(t, []models.SensorKind{models.Accelerometer, models.Gyroscope}, res.Overflowed)
	assert.Equal(t, uint64(3), res.Dropped[models.Accelerometer])
	assert.Equal(t, uint64(2), res.Dropped[models.Gyroscope])
	assert.Equal(t, []string{
		"0.000000, 1.000000, 1.000000, 1.000000, 3.000000, 3.000000, 3.000000",
		"0.050000, 2.000000, 2.000000, 2.000000, 3.000000, 3.000000, 3.000000",
	}, h.lines(t))
	assert.Equal(t, 5.0, testutil.ToFloat64(h.metrics.SamplesDropped.WithLabelValues("accelerometer", stats.ReasonBufferFull))+
		testutil.ToFloat64(h.metrics.SamplesDropped.WithLabelValues("gyroscope", stats.ReasonBufferFull)))
}

func TestSessionOverflowAutoStop(t *testing.T) {
	h := newHarness(t, nil, nil, func(c *utils.Config) {
		c.Session.Capacity = 2
		c.Session.OverflowPolicy = utils.OverflowAutoStop
	})
	h.start(t)
	id := h.session.SessionID()
	h.emit(t, models.Gyroscope, 2, 4, 5, 6)
	h.emit(t, models.Accelerometer, 3, 1, 2, 3)

	ev := waitEvent(t, h.session, EventAutoStopped)
	assert.Equal(t, id, ev.SessionID)
	require.NoError(t, ev.Err)
	require.NotNil(t, ev.Result)
	assert.Equal(t, 2, ev.Result.Rows)
	assert.Equal(t, []models.SensorKind{models.Accelerometer}, ev.Result.Overflowed)

	assert.Equal(t, Idle, h.session.State())
	assert.Len(t, h.lines(t), 2)

	_, err := h.session.Stop()
	assert.True(t, errors.Is(err, errors.ErrNotRecording))
}

func TestSessionExportFailureRetainsSnapshot(t *testing.T) {
	exp := &countingExporter{failures: 2, next: views.NewCSVExporter(views.CSVOptions{Precision: -1})}
	h := newHarness(t, nil, exp, nil)
	h.start(t)
	h.emit(t, models.Accelerometer, 2, 1, 2, 3)
	h.emit(t, models.Gyroscope, 2, 4, 5, 6)

	res, err := h.session.Stop()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrIO))
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, Idle, h.session.State())
	assert.True(t, h.session.Pending())

	_, err = h.session.ExportTo("")
	assert.True(t, errors.Is(err, errors.ErrIO))
	assert.True(t, h.session.Pending())

	elsewhere := filepath.Join(t.TempDir(), "retry.csv")
	n, err := h.session.ExportTo(elsewhere)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, h.session.Pending())
	assert.Equal(t, []string{h.path, h.path, elsewhere}, exp.paths)

	data, err := os.ReadFile(elsewhere)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))

	_, err = h.session.ExportTo("")
	assert.True(t, errors.Is(err, errors.ErrNothingToExport))
}

func TestSessionRestartResetsBuffer(t *testing.T) {
	exp := &countingExporter{failures: 1, next: views.NewCSVExporter(views.CSVOptions{Separator: ", ", Precision: 6})}
	h := newHarness(t, nil, exp, nil)

	h.start(t)
	first := h.session.SessionID()
	h.emit(t, models.Accelerometer, 3, 1, 1, 1)
	h.emit(t, models.Gyroscope, 3, 1, 1, 1)
	_, err := h.session.Stop()
	require.Error(t, err)
	require.True(t, h.session.Pending())

	h.start(t)
	assert.NotEqual(t, first, h.session.SessionID())
	assert.False(t, h.session.Pending(), "a new session discards the retained snapshot")
	h.emit(t, models.Accelerometer, 1, 7, 7, 7)
	h.emit(t, models.Gyroscope, 1, 8, 8, 8)
	res, err := h.session.Stop()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rows)
	assert.Equal(t, []string{"0.000000, 7.000000, 7.000000, 7.000000, 8.000000, 8.000000, 8.000000"}, h.lines(t))
}

func TestSessionToggle(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	tr, err := h.session.Toggle()
	require.NoError(t, err)
	assert.Equal(t, Recording, tr.State)
	require.NotNil(t, tr.Capture)
	assert.Nil(t, tr.Stop)

	h.emit(t, models.Accelerometer, 1, 1, 2, 3)
	h.emit(t, models.Gyroscope, 1, 4, 5, 6)

	tr, err = h.session.Toggle()
	require.NoError(t, err)
	assert.Equal(t, Idle, tr.State)
	require.NotNil(t, tr.Stop)
	assert.Equal(t, 1, tr.Stop.Rows)
}

func TestSessionConcurrentToggles(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	for round := 0; round < 20; round++ {
		var wg sync.WaitGroup
		results := make([]*ToggleResult, 2)
		errs := make([]error, 2)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = h.session.Toggle()
			}(i)
		}
		wg.Wait()

		require.NoError(t, errs[0], "round %d", round)
		require.NoError(t, errs[1], "round %d", round)
		starts, stops := 0, 0
		for _, r := range results {
			if r.Capture != nil {
				starts++
			}
			if r.Stop != nil {
				stops++
			}
		}
		assert.Equal(t, 1, starts, "round %d", round)
		assert.Equal(t, 1, stops, "round %d", round)
		assert.Equal(t, Idle, h.session.State())
	}
}

func TestSessionStopSurvivesListenerStopError(t *testing.T) {
	p := ingesttest.NewPlatform().SetFailures(models.Gyroscope, ingesttest.Failures{Stop: fmt.Errorf("device busy")})
	h := newHarness(t, p, nil, nil)
	h.start(t)
	h.emit(t, models.Accelerometer, 2, 1, 2, 3)
	h.emit(t, models.Gyroscope, 2, 4, 5, 6)

	res, err := h.session.Stop()
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, Idle, h.session.State())
	assert.True(t, p.Listener(models.Gyroscope).Closed())
	assert.Len(t, h.lines(t), 2)
}

func TestSessionNoWritesAfterStop(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	h.start(t)
	acc := h.platform.Listener(models.Accelerometer)
	h.emit(t, models.Accelerometer, 2, 1, 1, 1)
	h.emit(t, models.Gyroscope, 2, 1, 1, 1)

	_, err := h.session.Stop()
	require.NoError(t, err)
	assert.False(t, acc.Emit(5, 5, 5), "listener is stopped")
	assert.True(t, acc.Closed())
	assert.Len(t, h.lines(t), 2)
}

func TestSessionPerSessionDestination(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, nil, nil, func(c *utils.Config) {
		c.Output.Path = ""
		c.Output.Dir = dir
		c.Output.SessionPrefix = "golf"
	})
	fixed := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	h.session.now = func() time.Time { return fixed }

	h.start(t)
	res, err := h.session.Stop()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "golf_20240501_093000.csv"), res.Path)
	_, err = os.Stat(res.Path)
	assert.NoError(t, err)
}

func TestSessionWithSimulatedPlatform(t *testing.T) {
	cfg := utils.DefaultConfig()
	cfg.Output.Path = filepath.Join(t.TempDir(), "sim.csv")
	cfg.Sensors.Accelerometer.IntervalMs = 2
	cfg.Sensors.Gyroscope.IntervalMs = 2
	s := NewRecordingSession(cfg, ingest.NewSimulatedPlatform(), views.NewCSVExporter(views.CSVOptions{Precision: -1}), nil)

	_, err := s.Start()
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		d := s.Sensors().Delivered()
		return d[models.Accelerometer] >= 5 && d[models.Gyroscope] >= 5
	}, 2*time.Second, 5*time.Millisecond)

	res, err := s.Stop()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Rows, 5)

	data, err := os.ReadFile(cfg.Output.Path)
	require.NoError(t, err)
	assert.Equal(t, res.Rows, strings.Count(string(data), "\n"))
}
