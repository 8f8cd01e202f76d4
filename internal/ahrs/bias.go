package ahrs

import (
	"fmt"
	"math"

	"pilot-assistant/internal/sensors"
)

// BiasConfig tunes startup calibration and adaptive trim.
type BiasConfig struct {
	// StationaryAccelTol is how far |accel| may deviate from 1 g while still
	// counting as stationary.
	StationaryAccelTol float64
	// StationaryRateDPS is the per-axis bias-corrected rate below which the
	// device counts as stationary.
	StationaryRateDPS float64
	// TrimTimeConstant is the time constant (seconds) of the adaptive trim
	// blend. Kept long so bias tracking cannot become a fast oscillator.
	TrimTimeConstant float64
	// TrimMaxBlend caps the per-tick blend factor so one long tick cannot
	// step the bias estimate by an outsized amount.
	TrimMaxBlend float64
	// YawDeadbandDPS zeroes corrected yaw rates below this magnitude.
	// Intentional: it trades a tiny amount of slow-turn sensitivity for a
	// heading that does not creep while parked.
	YawDeadbandDPS float64
}

func DefaultBiasConfig() BiasConfig {
	return BiasConfig{
		StationaryAccelTol: 0.05,
		StationaryRateDPS:  1.5,
		TrimTimeConstant:   10,
		TrimMaxBlend:       0.02,
		YawDeadbandDPS:     0.15,
	}
}

// Bias holds the per-axis gyro bias estimate in deg/s.
//
// It is populated once by the startup calibration window and then nudged in
// place by Trim whenever the device looks stationary. A Bias that has not
// been calibrated refuses to correct samples.
type Bias struct {
	cfg BiasConfig

	gx, gy, gz  float64
	initialized bool

	// Calibration accumulator.
	sumX, sumY, sumZ float64
	n                int
}

func NewBias(cfg BiasConfig) *Bias {
	return &Bias{cfg: cfg}
}

func (b *Bias) Initialized() bool { return b.initialized }

// Rates returns the current bias estimate in deg/s.
func (b *Bias) Rates() (gx, gy, gz float64) { return b.gx, b.gy, b.gz }

// Accumulate adds one stationary sample to the calibration window.
func (b *Bias) Accumulate(s sensors.Sample) {
	b.sumX += s.Gx
	b.sumY += s.Gy
	b.sumZ += s.Gz
	b.n++
}

// Commit finishes the calibration window, storing the per-axis means.
func (b *Bias) Commit() error {
	if b.n == 0 {
		return fmt.Errorf("ahrs: bias calibration saw no samples")
	}
	b.gx = b.sumX / float64(b.n)
	b.gy = b.sumY / float64(b.n)
	b.gz = b.sumZ / float64(b.n)
	b.sumX, b.sumY, b.sumZ = 0, 0, 0
	b.n = 0
	b.initialized = true
	return nil
}

// Correct subtracts the bias from a raw sample and applies the yaw
// dead-band. Returned rates are in deg/s.
func (b *Bias) Correct(s sensors.Sample) (gx, gy, gz float64) {
	gx = s.Gx - b.gx
	gy = s.Gy - b.gy
	gz = s.Gz - b.gz
	if math.Abs(gz) < b.cfg.YawDeadbandDPS {
		gz = 0
	}
	return gx, gy, gz
}

// Stationary reports whether the sample looks motionless: accel magnitude
// near 1 g and all bias-corrected rates under the threshold.
func (b *Bias) Stationary(s sensors.Sample) bool {
	norm := math.Sqrt(s.Ax*s.Ax + s.Ay*s.Ay + s.Az*s.Az)
	if math.Abs(norm-1) > b.cfg.StationaryAccelTol {
		return false
	}
	gx := s.Gx - b.gx
	gy := s.Gy - b.gy
	gz := s.Gz - b.gz
	thr := b.cfg.StationaryRateDPS
	return math.Abs(gx) < thr && math.Abs(gy) < thr && math.Abs(gz) < thr
}

// Trim blends the raw rates into the bias estimate when the device is
// stationary. dt is the measured tick interval in seconds. When the device
// is moving the bias is frozen.
func (b *Bias) Trim(s sensors.Sample, dt float64) {
	if !b.initialized || dt <= 0 || !b.Stationary(s) {
		return
	}
	alpha := dt / b.cfg.TrimTimeConstant
	if alpha > b.cfg.TrimMaxBlend {
		alpha = b.cfg.TrimMaxBlend
	}
	b.gx += alpha * (s.Gx - b.gx)
	b.gy += alpha * (s.Gy - b.gy)
	b.gz += alpha * (s.Gz - b.gz)
}
