package controller

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/linkdata/deadlock"
	"go.uber.org/atomic"

	"swingmetrics/errors"
	"swingmetrics/models"
	"swingmetrics/services/buffer"
	"swingmetrics/services/ingest"
	"swingmetrics/services/stats"
	"swingmetrics/utils"
)

// State is the recorder state.
type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	default:
		return "unknown"
	}
}

// Exporter persists a session snapshot.
type Exporter interface {
	Export(rows []models.SampleRow, path string) error
}

// EventType tags out-of-band session events.
type EventType int

const (
	EventBufferFull EventType = iota
	EventAutoStopped
)

func (t EventType) String() string {
	switch t {
	case EventBufferFull:
		return "buffer_full"
	case EventAutoStopped:
		return "auto_stopped"
	default:
		return "unknown"
	}
}

// Event is published on Events() for conditions raised outside Start/Stop.
type Event struct {
	Type      EventType
	SessionID string
	Kind      models.SensorKind
	Result    *StopResult // EventAutoStopped only
	Err       error
}

// StopResult summarises a finished session.
type StopResult struct {
	SessionID  string
	Path       string
	Rows       int // exported, paced by the gyroscope channel
	AccelRows  int
	GyroRows   int
	Overflowed []models.SensorKind
	Dropped    map[models.SensorKind]uint64
	Duration   time.Duration
	Capture    *CaptureReport
}

// ToggleResult is what the UI toggle gets back.
type ToggleResult struct {
	State   State
	Capture *CaptureReport // set when the toggle started a session
	Stop    *StopResult    // set when the toggle stopped one
}

type retainedSnapshot struct {
	sessionID string
	path      string
	rows      []models.SampleRow
}

// RecordingSession records one session at a time from both motion sensors.
//
// Start and Stop may be called from any goroutine. Sensor events are
// applied to the buffer by the session's Dispatcher goroutine only, and
// Stop closes the dispatcher before it reads the buffer.
type RecordingSession struct {
	cfg      *utils.Config
	sensors  *SensorsController
	exporter Exporter
	metrics  *stats.Metrics
	buf      *buffer.SessionBuffer
	events   chan Event
	now      func() time.Time

	mu         deadlock.Mutex
	state      State
	id         string
	startedAt  time.Time
	dispatcher *Dispatcher
	capture    *CaptureReport
	retained   *retainedSnapshot

	// written by the dispatcher goroutine while recording
	firstAccelNs int64
	haveFirst    bool
	overflowed   map[models.SensorKind]bool
	dropped      map[models.SensorKind]uint64

	queueDropped [2]atomic.Uint64
	autoStopping atomic.Bool
}

// NewRecordingSession wires a session over platform. A nil metrics
// allocates a private set.
func NewRecordingSession(cfg *utils.Config, platform ingest.Platform, exporter Exporter, metrics *stats.Metrics) *RecordingSession {
	if metrics == nil {
		metrics = stats.NewMetrics()
	}
	return &RecordingSession{
		cfg:        cfg,
		sensors:    NewSensorsController(cfg.Sensors, platform),
		exporter:   exporter,
		metrics:    metrics,
		buf:        buffer.New(cfg.Session.Capacity),
		events:     make(chan Event, 16),
		now:        time.Now,
		overflowed: make(map[models.SensorKind]bool),
		dropped:    make(map[models.SensorKind]uint64),
	}
}

func (s *RecordingSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID is the ID of the current or last session.
func (s *RecordingSession) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Events delivers buffer-full and auto-stop notifications. Events are
// dropped if nobody drains the channel.
func (s *RecordingSession) Events() <-chan Event {
	return s.events
}

func (s *RecordingSession) Sensors() *SensorsController { return s.sensors }

// Start opens both feeds and begins capture. With require_all_sensors a
// missing channel aborts the start; otherwise the session records what it
// can and the report says which channel is missing.
func (s *RecordingSession) Start() (*CaptureReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *RecordingSession) startLocked() (*CaptureReport, error) {
	if s.state == Recording {
		return nil, errors.ErrAlreadyRecording
	}

	if s.retained != nil {
		utils.L().Warn("discarding unexported snapshot of session %s (%d rows)", s.retained.sessionID, len(s.retained.rows))
		s.retained = nil
	}

	s.buf.Reset()
	s.firstAccelNs, s.haveFirst = 0, false
	clear(s.overflowed)
	clear(s.dropped)
	for i := range s.queueDropped {
		s.queueDropped[i].Store(0)
	}
	s.autoStopping.Store(false)
	s.id = uuid.New().String()
	s.startedAt = s.now()

	d := NewDispatcher(s.cfg.Session.QueueSize, s.handle, s.onQueueFull)
	report := s.sensors.Open(func(ev models.SensorEvent) { d.Enqueue(ev) })
	if err := s.checkCapture(report); err != nil {
		s.sensors.Close()
		d.Close()
		return report, err
	}

	s.sensors.Start(report)
	if err := s.checkCapture(report); err != nil {
		_ = s.sensors.Stop()
		s.sensors.Close()
		d.Close()
		return report, err
	}

	s.dispatcher = d
	s.capture = report
	s.state = Recording
	s.metrics.SetRecording(true)

	utils.L().Infow("recording started",
		"session", s.id,
		"accelerometer", report.Active(models.Accelerometer),
		"gyroscope", report.Active(models.Gyroscope),
		"degraded", report.Degraded(),
	)
	return report, nil
}

func (s *RecordingSession) checkCapture(report *CaptureReport) error {
	if !report.AnyActive() {
		if err := report.Err(); err != nil {
			return fmt.Errorf("%w: %w", errors.ErrNoSensors, err)
		}
		return errors.ErrNoSensors
	}
	if s.cfg.Session.RequireAllSensors && report.Degraded() {
		return report.Err()
	}
	return nil
}

// handle runs on the dispatcher goroutine.
func (s *RecordingSession) handle(ev models.SensorEvent) {
	if s.overflowed[ev.Kind] {
		s.dropped[ev.Kind]++
		s.metrics.Dropped(ev.Kind, stats.ReasonBufferFull)
		return
	}

	var err error
	switch ev.Kind {
	case models.Accelerometer:
		err = s.buf.WriteAccel(s.timestamp(ev), ev.Values[0], ev.Values[1], ev.Values[2])
	case models.Gyroscope:
		err = s.buf.WriteGyro(ev.Values[0], ev.Values[1], ev.Values[2])
	default:
		return
	}
	if err != nil {
		s.onBufferFull(ev.Kind, err)
		return
	}
	s.metrics.Recorded(ev.Kind)
}

// timestamp is the elapsed session time of the next accelerometer row.
func (s *RecordingSession) timestamp(ev models.SensorEvent) float32 {
	if s.cfg.Session.TimestampSource == utils.TimestampMeasured {
		if !s.haveFirst {
			s.firstAccelNs, s.haveFirst = ev.TimestampNs, true
		}
		return utils.NanosToSeconds(ev.TimestampNs - s.firstAccelNs)
	}
	return float32(float64(s.buf.AccelIndex()) * s.cfg.Session.NominalIntervalSeconds)
}

func (s *RecordingSession) onBufferFull(kind models.SensorKind, err error) {
	s.overflowed[kind] = true
	s.dropped[kind]++
	s.metrics.Dropped(kind, stats.ReasonBufferFull)

	id := s.currentID()
	utils.L().Warn("%v, dropping further %s samples", err, kind)
	s.emit(Event{Type: EventBufferFull, SessionID: id, Kind: kind, Err: err})

	if s.cfg.Session.OverflowPolicy == utils.OverflowAutoStop && s.autoStopping.CompareAndSwap(false, true) {
		// Stop waits for this goroutine to drain, so it cannot run here.
		go s.autoStop(id)
	}
}

// currentID is safe on the dispatcher goroutine: id is assigned before the
// dispatcher starts and only changes again after it has been closed.
func (s *RecordingSession) currentID() string {
	return s.id
}

func (s *RecordingSession) autoStop(id string) {
	res, err := s.stop(id)
	if errors.Is(err, errors.ErrNotRecording) {
		return
	}
	utils.L().Info("session %s auto-stopped: buffer full", id)
	s.emit(Event{Type: EventAutoStopped, SessionID: id, Result: res, Err: err})
}

func (s *RecordingSession) onQueueFull(ev models.SensorEvent) {
	if int(ev.Kind) < len(s.queueDropped) {
		s.queueDropped[ev.Kind].Inc()
	}
	s.metrics.Dropped(ev.Kind, stats.ReasonQueueFull)
}

func (s *RecordingSession) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		utils.L().Debug("session event %s dropped, no reader", ev.Type)
	}
}

// Stop ends capture and exports the snapshot. Calling Stop while idle
// returns ErrNotRecording and exports nothing. If the export fails the
// snapshot is retained for ExportTo.
func (s *RecordingSession) Stop() (*StopResult, error) {
	return s.stop("")
}

func (s *RecordingSession) stop(id string) (*StopResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(id)
}

// stopLocked requires s.mu. An empty id matches any session.
func (s *RecordingSession) stopLocked(id string) (*StopResult, error) {
	if s.state != Recording || (id != "" && id != s.id) {
		return nil, errors.ErrNotRecording
	}

	if err := s.sensors.Stop(); err != nil {
		utils.L().Warnw("stopping feeds", err, "session", s.id)
	}
	s.dispatcher.Close()
	s.sensors.Close()
	s.dispatcher = nil
	s.state = Idle
	s.metrics.SetRecording(false)

	rows := s.buf.Snapshot()
	res := &StopResult{
		SessionID: s.id,
		Path:      s.destination(),
		Rows:      len(rows),
		AccelRows: s.buf.AccelIndex(),
		GyroRows:  s.buf.GyroIndex(),
		Dropped:   make(map[models.SensorKind]uint64),
		Duration:  s.now().Sub(s.startedAt),
		Capture:   s.capture,
	}
	for _, k := range models.SensorKinds {
		if s.overflowed[k] {
			res.Overflowed = append(res.Overflowed, k)
		}
		if n := s.dropped[k] + s.queueDropped[k].Load(); n > 0 {
			res.Dropped[k] = n
		}
	}
	if res.AccelRows < res.GyroRows {
		utils.L().Warn("session %s: %d rows have gyroscope data but no accelerometer data", s.id, res.GyroRows-res.AccelRows)
	}

	if err := s.exporter.Export(rows, res.Path); err != nil {
		s.retained = &retainedSnapshot{sessionID: s.id, path: res.Path, rows: rows}
		s.metrics.SessionFinished("export_failed", 0)
		utils.L().Errorw("export failed, snapshot retained", err, "session", s.id, "rows", len(rows))
		return res, err
	}

	s.metrics.SessionFinished("exported", len(rows))
	utils.L().Infow("recording stopped",
		"session", s.id,
		"path", res.Path,
		"rows", res.Rows,
		"accel_rows", res.AccelRows,
		"gyro_rows", res.GyroRows,
		"duration", res.Duration,
	)
	return res, nil
}

func (s *RecordingSession) destination() string {
	out := s.cfg.Output
	if out.Path != "" {
		return out.Path
	}
	return filepath.Join(out.Dir, utils.SessionName(out.SessionPrefix, s.startedAt)+".csv")
}

// Pending reports whether a snapshot is waiting for a successful export.
func (s *RecordingSession) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retained != nil
}

// ExportTo retries the export of a retained snapshot. An empty path reuses
// the session's destination.
func (s *RecordingSession) ExportTo(path string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retained == nil {
		return 0, errors.ErrNothingToExport
	}
	if path == "" {
		path = s.retained.path
	}
	if err := s.exporter.Export(s.retained.rows, path); err != nil {
		return 0, err
	}

	n := len(s.retained.rows)
	s.metrics.SessionFinished("exported", n)
	utils.L().Info("session %s exported to %s (%d rows)", s.retained.sessionID, path, n)
	s.retained = nil
	return n, nil
}

// Toggle mirrors the start/stop button. The state check and the
// transition happen under one lock, so concurrent toggles alternate.
func (s *RecordingSession) Toggle() (*ToggleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Idle {
		report, err := s.startLocked()
		return &ToggleResult{State: s.state, Capture: report}, err
	}
	res, err := s.stopLocked("")
	return &ToggleResult{State: s.state, Stop: res}, err
}

// Close stops a running session, exporting what was captured.
func (s *RecordingSession) Close() error {
	_, err := s.Stop()
	if errors.Is(err, errors.ErrNotRecording) {
		return nil
	}
	return err
}
