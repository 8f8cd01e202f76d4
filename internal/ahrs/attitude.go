package ahrs

import "math"

// AttitudeConfig controls how the quaternion is projected for display.
type AttitudeConfig struct {
	// SmoothAlpha is the blend factor of the cosmetic exponential filter on
	// roll/pitch. Tuned for responsiveness over smoothness.
	SmoothAlpha float64
	// DisplayClampDeg bounds the smoothed roll/pitch so the renderer's
	// geometry stays well-defined.
	DisplayClampDeg float64
	// InvertPitch flips the pitch sign for mountings that project the
	// horizon rather than view it directly.
	InvertPitch bool
	// ClockwiseHeading negates yaw before wrapping so a right turn
	// increases heading, the compass convention.
	ClockwiseHeading bool
}

func DefaultAttitudeConfig() AttitudeConfig {
	return AttitudeConfig{
		SmoothAlpha:      0.12,
		DisplayClampDeg:  80,
		ClockwiseHeading: true,
	}
}

// AttitudeState is the projected attitude in degrees. Roll is in
// (-180, 180], pitch in [-90, 90] (before mount offsets), heading in
// [0, 360). SmoothedRoll/SmoothedPitch exist only for display and never
// feed back into the filter.
type AttitudeState struct {
	Roll    float64
	Pitch   float64
	Heading float64

	SmoothedRoll  float64
	SmoothedPitch float64
}

// Projector turns the filter quaternion into an AttitudeState, applying
// mount offsets, sign conventions and the cosmetic display smoothing.
type Projector struct {
	cfg AttitudeConfig

	pitchOffset float64
	rollOffset  float64

	state  AttitudeState
	primed bool
}

func NewProjector(cfg AttitudeConfig) *Projector {
	return &Projector{cfg: cfg}
}

// SetOffsets installs mount-compensation offsets (degrees) added to the
// projected roll/pitch before display and warning evaluation.
func (p *Projector) SetOffsets(pitchDeg, rollDeg float64) {
	p.pitchOffset = pitchDeg
	p.rollOffset = rollDeg
}

// Reset clears the smoothing history so the next Project snaps to the
// filter output instead of blending from a stale session.
func (p *Projector) Reset() {
	p.state = AttitudeState{}
	p.primed = false
}

// Project reads the filter's Euler angles and updates the attitude state.
func (p *Projector) Project(f *Filter) AttitudeState {
	roll, pitch, yaw := f.Euler()

	if p.cfg.InvertPitch {
		pitch = -pitch
	}
	if p.cfg.ClockwiseHeading {
		yaw = -yaw
	}

	roll += p.rollOffset
	pitch += p.pitchOffset

	heading := math.Mod(yaw, 360)
	if heading < 0 {
		heading += 360
	}

	p.state.Roll = roll
	p.state.Pitch = pitch
	p.state.Heading = heading

	if !p.primed {
		p.state.SmoothedRoll = roll
		p.state.SmoothedPitch = pitch
		p.primed = true
	} else {
		a := p.cfg.SmoothAlpha
		p.state.SmoothedRoll += a * (roll - p.state.SmoothedRoll)
		p.state.SmoothedPitch += a * (pitch - p.state.SmoothedPitch)
	}

	c := p.cfg.DisplayClampDeg
	if c > 0 {
		p.state.SmoothedRoll = clamp(p.state.SmoothedRoll, -c, c)
		p.state.SmoothedPitch = clamp(p.state.SmoothedPitch, -c, c)
	}
	return p.state
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
