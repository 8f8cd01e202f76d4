package ahrs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pilot-assistant/internal/display"
	"pilot-assistant/internal/sensors"
)

// State is the scheduler's lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateCalibrating
	StateRunning
	StateExited
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCalibrating:
		return "calibrating"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SpeedSource supplies the airspeed (knots) used for the bank-angle
// warning threshold, plus whether the source currently has a fix. A GPS
// groundspeed is the usual implementation.
type SpeedSource interface {
	GroundSpeed() (speedKt float64, fix bool)
}

// ExitSource is polled once per tick for cooperative cancellation.
// Debouncing and button semantics live outside the pipeline.
type ExitSource interface {
	ExitRequested() bool
}

// Config collects every pipeline tunable so behavior is testable with
// injected values instead of compile-time constants.
type Config struct {
	TickInterval      time.Duration
	RenderEvery       int
	CalibrationWindow time.Duration

	// Measured dt outside [MinDt, MaxDt] is replaced by TickInterval.
	MinDt time.Duration
	MaxDt time.Duration

	// Squared accel-norm gate (g²). Outside this window the measurement is
	// treated as linear acceleration, not gravity, and withheld from the
	// correction step.
	AccelGateLowSq  float64
	AccelGateHighSq float64

	Filter   FilterConfig
	Bias     BiasConfig
	Attitude AttitudeConfig
	Warnings WarningConfig
}

func DefaultConfig() Config {
	return Config{
		TickInterval:      10 * time.Millisecond,
		RenderEvery:       2,
		CalibrationWindow: 1500 * time.Millisecond,
		MinDt:             time.Millisecond,
		MaxDt:             50 * time.Millisecond,
		AccelGateLowSq:    0.8,
		AccelGateHighSq:   1.2,
		Filter:            FilterConfig{Beta: 0.15, SampleFreq: 100},
		Bias:              DefaultBiasConfig(),
		Attitude:          DefaultAttitudeConfig(),
		Warnings:          DefaultWarningConfig(),
	}
}

// Snapshot is the externally visible pipeline state, safe to read from any
// goroutine.
type Snapshot struct {
	State    State
	Attitude AttitudeState
	Warnings Warnings

	SpeedKt float64
	GPSFix  bool

	MagActive bool
	LastError string
	UpdatedAt time.Time
}

// Service owns the whole attitude pipeline for one session: startup
// calibration, the fixed-rate fusion loop, projection, warnings and the
// decimated render handoff.
//
// The pipeline itself is single-threaded; bias, quaternion and attitude
// state are touched only by Run's goroutine. Snapshot and SetOffsets are
// the only cross-goroutine surfaces and go through the mutex.
type Service struct {
	cfg   Config
	clock Clock
	log   *logrus.Entry

	imu      sensors.IMU
	renderer display.Renderer
	speed    SpeedSource
	exit     ExitSource

	filter    *Filter
	bias      *Bias
	projector *Projector

	mu   sync.RWMutex
	snap Snapshot

	pendingPitchOff float64
	pendingRollOff  float64
}

// Deps are the collaborators the pipeline drives. Speed and Exit may be
// nil; the pipeline then assumes zero speed and never self-cancels.
type Deps struct {
	IMU      sensors.IMU
	Renderer display.Renderer
	Speed    SpeedSource
	Exit     ExitSource
	Clock    Clock
	Log      *logrus.Logger
}

func New(cfg Config, deps Deps) (*Service, error) {
	if deps.IMU == nil {
		return nil, fmt.Errorf("ahrs: imu is required")
	}
	if deps.Renderer == nil {
		return nil, fmt.Errorf("ahrs: renderer is required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 10 * time.Millisecond
	}
	if cfg.RenderEvery <= 0 {
		cfg.RenderEvery = 1
	}
	if cfg.Filter.SampleFreq <= 0 {
		cfg.Filter.SampleFreq = 1 / cfg.TickInterval.Seconds()
	}
	clock := deps.Clock
	if clock == nil {
		clock = RealClock()
	}
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Service{
		cfg:       cfg,
		clock:     clock,
		log:       log.WithField("component", "ahrs"),
		imu:       deps.IMU,
		renderer:  deps.Renderer,
		speed:     deps.Speed,
		exit:      deps.Exit,
		filter:    NewFilter(cfg.Filter),
		bias:      NewBias(cfg.Bias),
		projector: NewProjector(cfg.Attitude),
	}
	s.snap.State = StateIdle
	return s, nil
}

func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// SetOffsets installs mount-compensation offsets (degrees). Applied at the
// start of the next tick.
func (s *Service) SetOffsets(pitchDeg, rollDeg float64) {
	s.mu.Lock()
	s.pendingPitchOff = pitchDeg
	s.pendingRollOff = rollDeg
	s.mu.Unlock()
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.snap.State = st
	s.snap.UpdatedAt = s.clock.Now()
	s.mu.Unlock()
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	s.snap.LastError = msg
	s.snap.UpdatedAt = s.clock.Now()
	s.mu.Unlock()
}

// Run executes one AHRS session: calibrate, then the fixed-rate loop until
// the context is cancelled or the exit collaborator fires. On exit the
// sensor is put to sleep and the session state is discarded; a new Run
// starts from scratch.
func (s *Service) Run(ctx context.Context) error {
	if err := s.calibrate(ctx); err != nil {
		s.setState(StateExited)
		return err
	}

	s.filter.Reset()
	s.projector.Reset()
	s.setState(StateRunning)
	s.log.WithField("beta", s.cfg.Filter.Beta).Info("attitude pipeline running")

	s.runLoop(ctx)

	if err := s.imu.Sleep(); err != nil {
		s.log.WithError(err).Warn("sensor sleep failed")
	}
	s.setState(StateExited)
	return ctx.Err()
}

// calibrate blocks for the configured window, averaging gyro samples into
// the initial bias. The filter does not integrate until this completes.
func (s *Service) calibrate(ctx context.Context) error {
	s.setState(StateCalibrating)
	s.renderer.ShowStatus("hold steady: calibrating gyro")
	s.log.WithField("window", s.cfg.CalibrationWindow).Info("gyro calibration started")

	deadline := s.clock.Now().Add(s.cfg.CalibrationWindow)
	for s.clock.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		sample, err := s.imu.ReadAccelGyro()
		if err != nil {
			// A dropped read shrinks the window slightly; the average over
			// the remaining samples is still valid.
			s.clock.Sleep(s.cfg.TickInterval)
			continue
		}
		s.bias.Accumulate(sample)
		s.clock.Sleep(s.cfg.TickInterval)
	}
	if err := s.bias.Commit(); err != nil {
		s.setError(err.Error())
		return err
	}

	gx, gy, gz := s.bias.Rates()
	s.log.WithFields(logrus.Fields{
		"gx": fmt.Sprintf("%.3f", gx),
		"gy": fmt.Sprintf("%.3f", gy),
		"gz": fmt.Sprintf("%.3f", gz),
	}).Info("gyro calibration complete")
	return nil
}

func (s *Service) runLoop(ctx context.Context) {
	const degToRad = math.Pi / 180

	var lastTick time.Time
	tick := 0

	for {
		if ctx.Err() != nil {
			return
		}
		if s.exit != nil && s.exit.ExitRequested() {
			s.log.Info("exit requested")
			return
		}

		tickStart := s.clock.Now()

		// Measured dt, with implausible values replaced by the nominal
		// period so one stalled tick cannot slew the integration.
		dt := s.cfg.TickInterval.Seconds()
		if !lastTick.IsZero() {
			measured := tickStart.Sub(lastTick)
			if measured >= s.cfg.MinDt && measured <= s.cfg.MaxDt {
				dt = measured.Seconds()
			}
		}
		lastTick = tickStart

		sample, err := s.imu.ReadAccelGyro()
		if err != nil {
			// Transient I/O failure: keep the previous fused state.
			s.setError(err.Error())
			s.sleepUntil(tickStart)
			continue
		}

		if !sampleFinite(sample) {
			s.sleepUntil(tickStart)
			continue
		}

		// Gyro spike gate: readings beyond the configured full-scale are
		// electrically impossible and poison the filter if let through.
		fs := s.imu.GyroFullScaleDPS()
		if math.Abs(sample.Gx) > fs || math.Abs(sample.Gy) > fs || math.Abs(sample.Gz) > fs {
			s.sleepUntil(tickStart)
			continue
		}

		s.bias.Trim(sample, dt)
		gx, gy, gz := s.bias.Correct(sample)

		// Accel trust gate: far from 1 g means linear acceleration is
		// contaminating the gravity reference. Zeroing the vector makes the
		// filter integrate gyro-only this tick.
		ax, ay, az := sample.Ax, sample.Ay, sample.Az
		accSq := ax*ax + ay*ay + az*az
		if accSq <= s.cfg.AccelGateLowSq || accSq >= s.cfg.AccelGateHighSq {
			ax, ay, az = 0, 0, 0
		}

		magActive := false
		var mag sensors.MagSample
		if m, err := s.imu.ReadMag(); err == nil {
			mag = m
			magActive = true
		} else if !errors.Is(err, sensors.ErrNoSample) && !errors.Is(err, sensors.ErrMagUnavailable) {
			// Real I/O fault; fall back to IMU-only this tick.
			s.setError(err.Error())
		}

		s.filter.SetSamplePeriod(dt)
		if magActive {
			s.filter.UpdateMARG(gx*degToRad, gy*degToRad, gz*degToRad, ax, ay, az, mag.Mx, mag.My, mag.Mz)
		} else {
			s.filter.UpdateIMU(gx*degToRad, gy*degToRad, gz*degToRad, ax, ay, az)
		}

		s.mu.RLock()
		pitchOff, rollOff := s.pendingPitchOff, s.pendingRollOff
		s.mu.RUnlock()
		s.projector.SetOffsets(pitchOff, rollOff)

		att := s.projector.Project(s.filter)

		speedKt := 0.0
		fix := false
		if s.speed != nil {
			speedKt, fix = s.speed.GroundSpeed()
		}
		warn := s.cfg.Warnings.Evaluate(att.Roll, att.Pitch, speedKt)

		s.mu.Lock()
		s.snap.Attitude = att
		s.snap.Warnings = warn
		s.snap.SpeedKt = speedKt
		s.snap.GPSFix = fix
		s.snap.MagActive = magActive
		s.snap.LastError = ""
		s.snap.UpdatedAt = tickStart
		s.mu.Unlock()

		tick++
		if tick%s.cfg.RenderEvery == 0 {
			s.renderer.Render(display.Frame{
				Roll:          att.SmoothedRoll,
				Pitch:         att.SmoothedPitch,
				Heading:       att.Heading,
				RawRoll:       att.Roll,
				RawPitch:      att.Pitch,
				BankExceeded:  warn.BankExceeded,
				PitchExceeded: warn.PitchExceeded,
				SpeedKt:       speedKt,
				GPSFix:        fix,
			})
		}

		s.sleepUntil(tickStart)
	}
}

// sleepUntil waits out the remainder of the tick that began at start.
func (s *Service) sleepUntil(start time.Time) {
	next := start.Add(s.cfg.TickInterval)
	if d := next.Sub(s.clock.Now()); d > 0 {
		s.clock.Sleep(d)
	}
}

func sampleFinite(s sensors.Sample) bool {
	for _, v := range [6]float64{s.Ax, s.Ay, s.Az, s.Gx, s.Gy, s.Gz} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
