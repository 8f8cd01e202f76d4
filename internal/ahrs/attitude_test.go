package ahrs

import (
	"math"
	"testing"
)

func filterAt(roll, pitch, yaw float64) *Filter {
	f := NewFilter(FilterConfig{Beta: 0.1, SampleFreq: 100})
	f.q0, f.q1, f.q2, f.q3 = eulerToQuat(roll, pitch, yaw)
	return f
}

func TestProject_HeadingWrapsClockwise(t *testing.T) {
	cfg := DefaultAttitudeConfig()
	p := NewProjector(cfg)

	// Yaw +90 (nose left of the start heading in math convention) presents
	// as heading 270 under the clockwise convention.
	st := p.Project(filterAt(0, 0, 90))
	if math.Abs(st.Heading-270) > 1e-6 {
		t.Fatalf("heading = %v, want 270", st.Heading)
	}

	p.Reset()
	st = p.Project(filterAt(0, 0, -90))
	if math.Abs(st.Heading-90) > 1e-6 {
		t.Fatalf("heading = %v, want 90", st.Heading)
	}

	p.Reset()
	st = p.Project(filterAt(0, 0, 0))
	if st.Heading < 0 || st.Heading >= 360 {
		t.Fatalf("heading out of [0,360): %v", st.Heading)
	}
}

func TestProject_CounterClockwiseFlag(t *testing.T) {
	cfg := DefaultAttitudeConfig()
	cfg.ClockwiseHeading = false
	p := NewProjector(cfg)

	st := p.Project(filterAt(0, 0, 90))
	if math.Abs(st.Heading-90) > 1e-6 {
		t.Fatalf("heading = %v, want 90", st.Heading)
	}
}

func TestProject_InvertPitch(t *testing.T) {
	cfg := DefaultAttitudeConfig()
	cfg.InvertPitch = true
	p := NewProjector(cfg)

	st := p.Project(filterAt(0, 15, 0))
	if math.Abs(st.Pitch+15) > 1e-6 {
		t.Fatalf("pitch = %v, want -15", st.Pitch)
	}
}

func TestProject_OffsetsAppliedBeforeWarnings(t *testing.T) {
	p := NewProjector(DefaultAttitudeConfig())
	p.SetOffsets(2.5, -1.5)

	st := p.Project(filterAt(10, 5, 0))
	if math.Abs(st.Roll-8.5) > 1e-6 {
		t.Fatalf("roll = %v, want 8.5", st.Roll)
	}
	if math.Abs(st.Pitch-7.5) > 1e-6 {
		t.Fatalf("pitch = %v, want 7.5", st.Pitch)
	}
}

func TestProject_SmoothingIsCosmetic(t *testing.T) {
	p := NewProjector(DefaultAttitudeConfig())

	// First projection primes the smoother to the raw value.
	st := p.Project(filterAt(40, 0, 0))
	if math.Abs(st.SmoothedRoll-40) > 1e-6 {
		t.Fatalf("first smoothed roll = %v, want 40", st.SmoothedRoll)
	}

	// A step to 0 moves the smoothed value only partway.
	st = p.Project(filterAt(0, 0, 0))
	if st.Roll != 0 {
		t.Fatalf("raw roll = %v, want 0", st.Roll)
	}
	want := 40 * (1 - DefaultAttitudeConfig().SmoothAlpha)
	if math.Abs(st.SmoothedRoll-want) > 1e-6 {
		t.Fatalf("smoothed roll = %v, want %v", st.SmoothedRoll, want)
	}
}

func TestProject_DisplayClamp(t *testing.T) {
	p := NewProjector(DefaultAttitudeConfig())

	st := p.Project(filterAt(150, 0, 0))
	if st.SmoothedRoll != 80 {
		t.Fatalf("smoothed roll = %v, want clamp at 80", st.SmoothedRoll)
	}
	if math.Abs(st.Roll-150) > 1e-6 {
		t.Fatalf("raw roll must not be clamped: %v", st.Roll)
	}

	p.Reset()
	st = p.Project(filterAt(-150, 0, 0))
	if st.SmoothedRoll != -80 {
		t.Fatalf("smoothed roll = %v, want clamp at -80", st.SmoothedRoll)
	}
}

func TestProject_PitchStaysInRange(t *testing.T) {
	p := NewProjector(DefaultAttitudeConfig())
	for _, pitch := range []float64{-89, -45, 0, 45, 89} {
		p.Reset()
		st := p.Project(filterAt(0, pitch, 0))
		if st.Pitch < -90 || st.Pitch > 90 {
			t.Fatalf("pitch out of range: %v", st.Pitch)
		}
	}
}
