package ahrs

import (
	"math"
	"testing"
)

// eulerToQuat builds a quaternion from aerospace Euler angles in degrees
// (roll about X, pitch about Y, yaw about Z).
func eulerToQuat(rollDeg, pitchDeg, yawDeg float64) (w, x, y, z float64) {
	const degToRad = math.Pi / 180
	cr := math.Cos(rollDeg * degToRad / 2)
	sr := math.Sin(rollDeg * degToRad / 2)
	cp := math.Cos(pitchDeg * degToRad / 2)
	sp := math.Sin(pitchDeg * degToRad / 2)
	cy := math.Cos(yawDeg * degToRad / 2)
	sy := math.Sin(yawDeg * degToRad / 2)

	w = cr*cp*cy + sr*sp*sy
	x = sr*cp*cy - cr*sp*sy
	y = cr*sp*cy + sr*cp*sy
	z = cr*cp*sy - sr*sp*cy
	return w, x, y, z
}

func quatNormSq(f *Filter) float64 {
	w, x, y, z := f.Quaternion()
	return w*w + x*x + y*y + z*z
}

func TestUpdateIMU_NormStaysUnit(t *testing.T) {
	f := NewFilter(FilterConfig{Beta: 0.15, SampleFreq: 100})

	for i := 0; i < 5000; i++ {
		// Rolling motion with a slightly noisy gravity vector.
		gx := 0.5 * math.Sin(float64(i)/50)
		ax := 0.02 * math.Cos(float64(i)/30)
		f.UpdateIMU(gx, 0.1, -0.05, ax, 0, 1.01)

		if n := quatNormSq(f); math.Abs(n-1) > 1e-9 {
			t.Fatalf("tick %d: quaternion norm² = %v", i, n)
		}
	}
}

func TestUpdateIMU_ConvergesToLevel(t *testing.T) {
	f := NewFilter(FilterConfig{Beta: 0.15, SampleFreq: 100})
	// Start well away from level.
	f.q0, f.q1, f.q2, f.q3 = eulerToQuat(25, -15, 40)

	for i := 0; i < 5000; i++ {
		f.UpdateIMU(0, 0, 0, 0, 0, 1)
	}

	roll, pitch, _ := f.Euler()
	if math.Abs(roll) > 0.5 {
		t.Fatalf("roll did not converge: %v", roll)
	}
	if math.Abs(pitch) > 0.5 {
		t.Fatalf("pitch did not converge: %v", pitch)
	}
}

func TestEuler_RoundTrip(t *testing.T) {
	cases := []struct {
		roll, pitch, yaw float64
	}{
		{0, 0, 0},
		{10, 5, 30},
		{-45, 20, -120},
		{170, -80, 90},
		{-30, 45, 359},
	}
	for _, tc := range cases {
		f := NewFilter(FilterConfig{Beta: 0.1, SampleFreq: 100})
		f.q0, f.q1, f.q2, f.q3 = eulerToQuat(tc.roll, tc.pitch, tc.yaw)

		roll, pitch, yaw := f.Euler()
		if math.Abs(roll-tc.roll) > 1e-6 {
			t.Errorf("roll: got %v want %v", roll, tc.roll)
		}
		if math.Abs(pitch-tc.pitch) > 1e-6 {
			t.Errorf("pitch: got %v want %v", pitch, tc.pitch)
		}
		// Yaw wraps at ±180 out of Euler; compare on the circle.
		dy := math.Mod(yaw-tc.yaw+540, 360) - 180
		if math.Abs(dy) > 1e-6 {
			t.Errorf("yaw: got %v want %v", yaw, tc.yaw)
		}
	}
}

func TestEuler_GimbalLockPinsPitch(t *testing.T) {
	f := NewFilter(FilterConfig{Beta: 0.1, SampleFreq: 100})
	// Exactly nose-up: sin(pitch) = 1.
	f.q0, f.q1, f.q2, f.q3 = eulerToQuat(0, 90, 0)

	_, pitch, yaw := f.Euler()
	if math.IsNaN(pitch) || math.IsNaN(yaw) {
		t.Fatalf("NaN at gimbal lock: pitch=%v yaw=%v", pitch, yaw)
	}
	if math.Abs(pitch-90) > 1e-4 {
		t.Fatalf("pitch at gimbal lock = %v, want 90", pitch)
	}
}

func TestUpdateIMU_DegenerateAccelSkipsCorrection(t *testing.T) {
	f := NewFilter(FilterConfig{Beta: 0.15, SampleFreq: 100})
	f.q0, f.q1, f.q2, f.q3 = eulerToQuat(10, 10, 10)
	w0, x0, y0, z0 := f.Quaternion()

	// Zero accel and zero gyro: nothing should move.
	for i := 0; i < 100; i++ {
		f.UpdateIMU(0, 0, 0, 0, 0, 0)
	}

	w, x, y, z := f.Quaternion()
	if math.Abs(w-w0) > 1e-12 || math.Abs(x-x0) > 1e-12 ||
		math.Abs(y-y0) > 1e-12 || math.Abs(z-z0) > 1e-12 {
		t.Fatalf("quaternion moved with degenerate inputs: (%v,%v,%v,%v)", w, x, y, z)
	}
}

func TestUpdateIMU_NonFiniteInputResetsToIdentity(t *testing.T) {
	f := NewFilter(FilterConfig{Beta: 0.15, SampleFreq: 100})
	f.UpdateIMU(math.NaN(), 0, 0, 0, 0, 1)

	w, x, y, z := f.Quaternion()
	if w != 1 || x != 0 || y != 0 || z != 0 {
		t.Fatalf("expected identity reset, got (%v,%v,%v,%v)", w, x, y, z)
	}
}

func TestUpdateMARG_ZeroMagMatchesIMUPath(t *testing.T) {
	fa := NewFilter(FilterConfig{Beta: 0.15, SampleFreq: 100})
	fb := NewFilter(FilterConfig{Beta: 0.15, SampleFreq: 100})

	for i := 0; i < 200; i++ {
		g := 0.2 * math.Sin(float64(i)/10)
		fa.UpdateMARG(g, 0.1, 0, 0.01, 0, 1, 0, 0, 0)
		fb.UpdateIMU(g, 0.1, 0, 0.01, 0, 1)
	}

	aw, ax, ay, az := fa.Quaternion()
	bw, bx, by, bz := fb.Quaternion()
	if aw != bw || ax != bx || ay != by || az != bz {
		t.Fatalf("zero-mag MARG diverged from IMU path")
	}
}

func TestUpdateMARG_NormStaysUnit(t *testing.T) {
	f := NewFilter(FilterConfig{Beta: 0.15, SampleFreq: 100})

	for i := 0; i < 5000; i++ {
		f.UpdateMARG(0.1, -0.05, 0.2, 0.01, 0.02, 0.99, 22, 5, -43)
		if n := quatNormSq(f); math.Abs(n-1) > 1e-9 {
			t.Fatalf("tick %d: quaternion norm² = %v", i, n)
		}
	}
}

func TestSetSamplePeriod_ScalesIntegration(t *testing.T) {
	fa := NewFilter(FilterConfig{Beta: 0, SampleFreq: 100})
	fb := NewFilter(FilterConfig{Beta: 0, SampleFreq: 100})
	fb.SetSamplePeriod(0.02)

	// Same rate, double the period: fb should rotate twice as far.
	fa.UpdateIMU(0.5, 0, 0, 0, 0, 0)
	fb.UpdateIMU(0.5, 0, 0, 0, 0, 0)

	ra, _, _ := fa.Euler()
	rb, _, _ := fb.Euler()
	if math.Abs(rb-2*ra) > 1e-4 {
		t.Fatalf("dt scaling wrong: ra=%v rb=%v", ra, rb)
	}
}
