package ahrs

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"pilot-assistant/internal/display"
	"pilot-assistant/internal/sensors"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

type fakeIMU struct {
	sample      sensors.Sample
	errAtCall   map[int]error
	spikeAtCall map[int]bool
	calls       int

	mag    sensors.MagSample
	magErr error

	fullScale float64
	slept     bool
}

func newFakeIMU() *fakeIMU {
	return &fakeIMU{
		sample:    sensors.Sample{Az: 1},
		magErr:    sensors.ErrMagUnavailable,
		fullScale: 500,
	}
}

func (f *fakeIMU) ReadAccelGyro() (sensors.Sample, error) {
	f.calls++
	if err := f.errAtCall[f.calls]; err != nil {
		return sensors.Sample{}, err
	}
	if f.spikeAtCall[f.calls] {
		return sensors.Sample{Az: 1, Gx: 10000}, nil
	}
	return f.sample, nil
}

func (f *fakeIMU) ReadAccel() (sensors.AccelSample, error) {
	return sensors.AccelSample{Ax: f.sample.Ax, Ay: f.sample.Ay, Az: f.sample.Az}, nil
}

func (f *fakeIMU) ReadGyro() (sensors.GyroSample, error) {
	return sensors.GyroSample{Gx: f.sample.Gx, Gy: f.sample.Gy, Gz: f.sample.Gz}, nil
}

func (f *fakeIMU) ReadMag() (sensors.MagSample, error) {
	if f.magErr != nil {
		return sensors.MagSample{}, f.magErr
	}
	return f.mag, nil
}

func (f *fakeIMU) GyroFullScaleDPS() float64 { return f.fullScale }

func (f *fakeIMU) Sleep() error {
	f.slept = true
	return nil
}

type fakeRenderer struct {
	statuses []string
	frames   []display.Frame
}

func (r *fakeRenderer) ShowStatus(msg string) { r.statuses = append(r.statuses, msg) }

func (r *fakeRenderer) Render(f display.Frame) { r.frames = append(r.frames, f) }

// exitAfter fires once ExitRequested has been polled n times.
type exitAfter struct {
	n     int
	polls int
}

func (e *exitAfter) ExitRequested() bool {
	e.polls++
	return e.polls > e.n
}

type fixedSpeed struct {
	kt  float64
	fix bool
}

func (s fixedSpeed) GroundSpeed() (float64, bool) { return s.kt, s.fix }

func testConfig() Config {
	cfg := DefaultConfig()
	// Short calibration keeps the simulated session small.
	cfg.CalibrationWindow = 200 * time.Millisecond
	return cfg
}

func newTestService(t *testing.T, cfg Config, imu *fakeIMU, r *fakeRenderer, exit ExitSource, speed SpeedSource) (*Service, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s, err := New(cfg, Deps{
		IMU:      imu,
		Renderer: r,
		Speed:    speed,
		Exit:     exit,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, clock
}

func TestRun_CalibratesThenRunsAndExits(t *testing.T) {
	imu := newFakeIMU()
	imu.sample = sensors.Sample{Az: 1, Gx: 0.8, Gy: -0.4, Gz: 0.1}
	r := &fakeRenderer{}
	s, _ := newTestService(t, testConfig(), imu, r, &exitAfter{n: 40}, fixedSpeed{kt: 100, fix: true})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(r.statuses) == 0 || !strings.Contains(r.statuses[0], "hold steady") {
		t.Fatalf("missing hold-steady status, got %q", r.statuses)
	}

	gx, gy, gz := s.bias.Rates()
	if math.Abs(gx-0.8) > 1e-6 || math.Abs(gy+0.4) > 1e-6 || math.Abs(gz-0.1) > 1e-6 {
		t.Fatalf("startup bias = (%v, %v, %v)", gx, gy, gz)
	}

	// 40 run ticks with every-2nd-tick rendering.
	if len(r.frames) != 20 {
		t.Fatalf("frames rendered = %d, want 20", len(r.frames))
	}
	last := r.frames[len(r.frames)-1]
	if math.Abs(last.Roll) > 1 || math.Abs(last.Pitch) > 1 {
		t.Fatalf("level input produced roll=%v pitch=%v", last.Roll, last.Pitch)
	}
	if last.SpeedKt != 100 || !last.GPSFix {
		t.Fatalf("frame speed/fix = %v/%v", last.SpeedKt, last.GPSFix)
	}

	if !imu.slept {
		t.Fatalf("sensor not put to sleep on exit")
	}
	if snap := s.Snapshot(); snap.State != StateExited {
		t.Fatalf("final state = %v", snap.State)
	}
}

func TestRun_ContextCancelDuringCalibration(t *testing.T) {
	imu := newFakeIMU()
	r := &fakeRenderer{}
	s, _ := newTestService(t, testConfig(), imu, r, &exitAfter{n: 1000}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRun_DroppedReadRetainsAttitude(t *testing.T) {
	cfg := testConfig()
	imu := newFakeIMU()
	// Calibration consumes 20 reads; fail two reads mid-run.
	imu.errAtCall = map[int]error{
		30: errors.New("spi: transfer failed"),
		31: errors.New("spi: transfer failed"),
	}
	r := &fakeRenderer{}
	s, _ := newTestService(t, cfg, imu, r, &exitAfter{n: 40}, nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Dropped ticks do not render, so two frames are missing.
	if len(r.frames) != 19 {
		t.Fatalf("frames rendered = %d, want 19", len(r.frames))
	}
	// The pipeline recovered: last snapshot is valid and error cleared.
	snap := s.Snapshot()
	if snap.LastError != "" {
		t.Fatalf("error not cleared after recovery: %q", snap.LastError)
	}
}

func TestRun_GyroSpikeGated(t *testing.T) {
	imu := newFakeIMU()
	// Calibration consumes 20 reads; the spike lands mid-run, far beyond
	// the ±500 dps full scale.
	imu.spikeAtCall = map[int]bool{30: true}
	r := &fakeRenderer{}
	s, _ := newTestService(t, testConfig(), imu, r, &exitAfter{n: 40}, nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The gated tick neither updated the filter nor rendered.
	if len(r.frames) != 19 {
		t.Fatalf("frames rendered = %d, want 19", len(r.frames))
	}
	roll, pitch, _ := s.filter.Euler()
	if math.Abs(roll) > 1 || math.Abs(pitch) > 1 {
		t.Fatalf("spike leaked into the filter: roll=%v pitch=%v", roll, pitch)
	}
}

func TestRun_MagSampleDrivesMARG(t *testing.T) {
	imu := newFakeIMU()
	imu.magErr = nil
	imu.mag = sensors.MagSample{Mx: 22, My: 0, Mz: -43}
	r := &fakeRenderer{}
	s, _ := newTestService(t, testConfig(), imu, r, &exitAfter{n: 20}, nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// MagActive reflects the last tick's successful mag poll.
	// (State is Exited but the attitude snapshot survives.)
	if !s.Snapshot().MagActive {
		t.Fatalf("mag sample did not reach the filter")
	}
}

func TestRun_MagFailureFallsBackToIMU(t *testing.T) {
	imu := newFakeIMU()
	imu.magErr = errors.New("icm20948: aux transaction failed")
	r := &fakeRenderer{}
	s, _ := newTestService(t, testConfig(), imu, r, &exitAfter{n: 20}, nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	snap := s.Snapshot()
	if snap.MagActive {
		t.Fatalf("mag should be inactive after read failures")
	}
	// Roll/pitch still track: level input stays level.
	if math.Abs(snap.Attitude.Roll) > 1 || math.Abs(snap.Attitude.Pitch) > 1 {
		t.Fatalf("IMU fallback produced roll=%v pitch=%v", snap.Attitude.Roll, snap.Attitude.Pitch)
	}
}

func TestRun_WarningsUseExternalSpeed(t *testing.T) {
	imu := newFakeIMU()
	r := &fakeRenderer{}
	cfg := testConfig()
	s, _ := newTestService(t, cfg, imu, r, &exitAfter{n: 20}, fixedSpeed{kt: 80, fix: true})
	// A mount offset large enough to trip the slow-speed bank limit.
	s.SetOffsets(0, 25)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	snap := s.Snapshot()
	if !snap.Warnings.BankExceeded {
		t.Fatalf("25° roll at 80 kt must warn")
	}
	if snap.Warnings.PitchExceeded {
		t.Fatalf("level pitch must not warn")
	}
}

func TestSetOffsets_AppliedNextTick(t *testing.T) {
	imu := newFakeIMU()
	r := &fakeRenderer{}
	s, _ := newTestService(t, testConfig(), imu, r, &exitAfter{n: 20}, nil)
	s.SetOffsets(3, -2)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	snap := s.Snapshot()
	if math.Abs(snap.Attitude.Pitch-3) > 0.5 {
		t.Fatalf("pitch offset not applied: %v", snap.Attitude.Pitch)
	}
	if math.Abs(snap.Attitude.Roll+2) > 0.5 {
		t.Fatalf("roll offset not applied: %v", snap.Attitude.Roll)
	}
}
