// Package ahrs fuses raw IMU samples into an aircraft attitude estimate and
// drives the fixed-rate update pipeline around that estimate: gyro bias
// calibration, quaternion fusion, Euler projection and envelope warnings.
package ahrs

import "math"

// Filter is a Madgwick gradient-descent orientation filter.
//
// The gyroscope propagates the quaternion; the accelerometer (and, when
// present, the magnetometer) pulls it back toward the measured gravity and
// Earth-field directions. Beta sets how hard that pull is: higher values
// converge faster from a bad initial estimate but let accelerometer noise
// through to the attitude.
type Filter struct {
	beta    float64
	invFreq float64 // seconds per update

	q0, q1, q2, q3 float64
}

// FilterConfig holds the filter tuning. SampleFreq is the nominal update
// rate in Hz; the caller can override the period per update via
// SetSamplePeriod when loop timing is measured rather than assumed.
type FilterConfig struct {
	Beta       float64
	SampleFreq float64
}

func NewFilter(cfg FilterConfig) *Filter {
	f := &Filter{
		beta:    cfg.Beta,
		invFreq: 1.0 / cfg.SampleFreq,
	}
	f.Reset()
	return f
}

// Reset returns the filter to the identity orientation (level, heading 0).
func (f *Filter) Reset() {
	f.q0, f.q1, f.q2, f.q3 = 1, 0, 0, 0
}

// SetSamplePeriod overrides the integration period for subsequent updates.
func (f *Filter) SetSamplePeriod(dt float64) {
	if dt > 0 {
		f.invFreq = dt
	}
}

// Quaternion returns the current orientation estimate (w, x, y, z).
func (f *Filter) Quaternion() (w, x, y, z float64) {
	return f.q0, f.q1, f.q2, f.q3
}

// invSqrt returns 1/sqrt(x), or 0 when x is degenerate. Returning 0 lets
// callers detect the degenerate case and skip the dependent math instead of
// propagating NaN into the quaternion.
func invSqrt(x float64) float64 {
	if x <= 1e-20 || math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return 1.0 / math.Sqrt(x)
}

// UpdateMARG advances the filter with gyro (rad/s), accel (any consistent
// unit) and magnetometer (any consistent unit) measurements. A zero mag
// vector falls back to the 6-DOF update so a dead magnetometer degrades the
// heading estimate, not the whole attitude.
func (f *Filter) UpdateMARG(gx, gy, gz, ax, ay, az, mx, my, mz float64) {
	if mx == 0 && my == 0 && mz == 0 {
		f.UpdateIMU(gx, gy, gz, ax, ay, az)
		return
	}

	q0, q1, q2, q3 := f.q0, f.q1, f.q2, f.q3

	// Quaternion rate from gyroscope.
	qDot1 := 0.5 * (-q1*gx - q2*gy - q3*gz)
	qDot2 := 0.5 * (q0*gx + q2*gz - q3*gy)
	qDot3 := 0.5 * (q0*gy - q1*gz + q3*gx)
	qDot4 := 0.5 * (q0*gz + q1*gy - q2*gx)

	// Feedback only when both measurements have usable magnitude; otherwise
	// integrate the gyro rate alone.
	accSq := ax*ax + ay*ay + az*az
	recipAcc := 0.0
	if accSq > 1e-8 && !math.IsNaN(accSq) && !math.IsInf(accSq, 0) {
		recipAcc = invSqrt(accSq)
	}
	recipMag := invSqrt(mx*mx + my*my + mz*mz)
	if recipAcc != 0 && recipMag != 0 {
		ax *= recipAcc
		ay *= recipAcc
		az *= recipAcc
		mx *= recipMag
		my *= recipMag
		mz *= recipMag

		_2q0mx := 2 * q0 * mx
		_2q0my := 2 * q0 * my
		_2q0mz := 2 * q0 * mz
		_2q1mx := 2 * q1 * mx
		_2q0 := 2 * q0
		_2q1 := 2 * q1
		_2q2 := 2 * q2
		_2q3 := 2 * q3
		_2q0q2 := 2 * q0 * q2
		_2q2q3 := 2 * q2 * q3
		q0q0 := q0 * q0
		q0q1 := q0 * q1
		q0q2 := q0 * q2
		q0q3 := q0 * q3
		q1q1 := q1 * q1
		q1q2 := q1 * q2
		q1q3 := q1 * q3
		q2q2 := q2 * q2
		q2q3 := q2 * q3
		q3q3 := q3 * q3

		// Reference direction of Earth's magnetic field.
		hx := mx*q0q0 - _2q0my*q3 + _2q0mz*q2 + mx*q1q1 + _2q1*my*q2 + _2q1*mz*q3 - mx*q2q2 - mx*q3q3
		hy := _2q0mx*q3 + my*q0q0 - _2q0mz*q1 + _2q1mx*q2 - my*q1q1 + my*q2q2 + _2q2*mz*q3 - my*q3q3
		_2bx := math.Sqrt(hx*hx + hy*hy)
		_2bz := -_2q0mx*q2 + _2q0my*q1 + mz*q0q0 + _2q1mx*q3 - mz*q1q1 + _2q2*my*q3 - mz*q2q2 + mz*q3q3
		_4bx := 2 * _2bx
		_4bz := 2 * _2bz

		// Gradient descent corrective step.
		s0 := -_2q2*(2*q1q3-_2q0q2-ax) +
			_2q1*(2*q0q1+_2q2q3-ay) -
			_2bz*q2*(_2bx*(0.5-q2q2-q3q3)+_2bz*(q1q3-q0q2)-mx) +
			(-_2bx*q3+_2bz*q1)*(_2bx*(q1q2-q0q3)+_2bz*(q0q1+q2q3)-my) +
			_2bx*q2*(_2bx*(q0q2+q1q3)+_2bz*(0.5-q1q1-q2q2)-mz)
		s1 := _2q3*(2*q1q3-_2q0q2-ax) +
			_2q0*(2*q0q1+_2q2q3-ay) -
			4*q1*(1-2*q1q1-2*q2q2-az) +
			_2bz*q3*(_2bx*(0.5-q2q2-q3q3)+_2bz*(q1q3-q0q2)-mx) +
			(_2bx*q2+_2bz*q0)*(_2bx*(q1q2-q0q3)+_2bz*(q0q1+q2q3)-my) +
			(_2bx*q3-_4bz*q1)*(_2bx*(q0q2+q1q3)+_2bz*(0.5-q1q1-q2q2)-mz)
		s2 := -_2q0*(2*q1q3-_2q0q2-ax) +
			_2q3*(2*q0q1+_2q2q3-ay) -
			4*q2*(1-2*q1q1-2*q2q2-az) +
			(-_4bx*q2-_2bz*q0)*(_2bx*(0.5-q2q2-q3q3)+_2bz*(q1q3-q0q2)-mx) +
			(_2bx*q1+_2bz*q3)*(_2bx*(q1q2-q0q3)+_2bz*(q0q1+q2q3)-my) +
			(_2bx*q0-_4bz*q2)*(_2bx*(q0q2+q1q3)+_2bz*(0.5-q1q1-q2q2)-mz)
		s3 := _2q1*(2*q1q3-_2q0q2-ax) +
			_2q2*(2*q0q1+_2q2q3-ay) +
			(-_4bx*q3+_2bz*q1)*(_2bx*(0.5-q2q2-q3q3)+_2bz*(q1q3-q0q2)-mx) +
			(-_2bx*q0+_2bz*q2)*(_2bx*(q1q2-q0q3)+_2bz*(q0q1+q2q3)-my) +
			_2bx*q1*(_2bx*(q0q2+q1q3)+_2bz*(0.5-q1q1-q2q2)-mz)

		// A near-zero step has no usable direction; skip the feedback.
		stepSq := s0*s0 + s1*s1 + s2*s2 + s3*s3
		if stepSq > 1e-12 {
			recipNorm := invSqrt(stepSq)
			s0 *= recipNorm
			s1 *= recipNorm
			s2 *= recipNorm
			s3 *= recipNorm

			qDot1 -= f.beta * s0
			qDot2 -= f.beta * s1
			qDot3 -= f.beta * s2
			qDot4 -= f.beta * s3
		}
	}

	f.integrate(qDot1, qDot2, qDot3, qDot4)
}

// UpdateIMU advances the filter with gyro (rad/s) and accel measurements
// only. Heading drifts with gyro bias in this mode.
func (f *Filter) UpdateIMU(gx, gy, gz, ax, ay, az float64) {
	q0, q1, q2, q3 := f.q0, f.q1, f.q2, f.q3

	qDot1 := 0.5 * (-q1*gx - q2*gy - q3*gz)
	qDot2 := 0.5 * (q0*gx + q2*gz - q3*gy)
	qDot3 := 0.5 * (q0*gy - q1*gz + q3*gx)
	qDot4 := 0.5 * (q0*gz + q1*gy - q2*gx)

	accSq := ax*ax + ay*ay + az*az
	if accSq > 1e-8 && !math.IsNaN(accSq) && !math.IsInf(accSq, 0) {
		recipNorm := invSqrt(accSq)
		if recipNorm != 0 {
			ax *= recipNorm
			ay *= recipNorm
			az *= recipNorm

			_2q0 := 2 * q0
			_2q1 := 2 * q1
			_2q2 := 2 * q2
			_2q3 := 2 * q3
			_4q0 := 4 * q0
			_4q1 := 4 * q1
			_4q2 := 4 * q2
			_8q1 := 8 * q1
			_8q2 := 8 * q2
			q0q0 := q0 * q0
			q1q1 := q1 * q1
			q2q2 := q2 * q2
			q3q3 := q3 * q3

			s0 := _4q0*q2q2 + _2q2*ax + _4q0*q1q1 - _2q1*ay
			s1 := _4q1*q3q3 - _2q3*ax + 4*q0q0*q1 - _2q0*ay - _4q1 + _8q1*q1q1 + _8q1*q2q2 + _4q1*az
			s2 := 4*q0q0*q2 + _2q0*ax + _4q2*q3q3 - _2q3*ay - _4q2 + _8q2*q1q1 + _8q2*q2q2 + _4q2*az
			s3 := 4*q1q1*q3 - _2q1*ax + 4*q2q2*q3 - _2q2*ay

			stepSq := s0*s0 + s1*s1 + s2*s2 + s3*s3
			if stepSq > 1e-12 {
				recipNorm = invSqrt(stepSq)
				s0 *= recipNorm
				s1 *= recipNorm
				s2 *= recipNorm
				s3 *= recipNorm

				qDot1 -= f.beta * s0
				qDot2 -= f.beta * s1
				qDot3 -= f.beta * s2
				qDot4 -= f.beta * s3
			}
		}
	}

	f.integrate(qDot1, qDot2, qDot3, qDot4)
}

func (f *Filter) integrate(qDot1, qDot2, qDot3, qDot4 float64) {
	f.q0 += qDot1 * f.invFreq
	f.q1 += qDot2 * f.invFreq
	f.q2 += qDot3 * f.invFreq
	f.q3 += qDot4 * f.invFreq

	recipNorm := invSqrt(f.q0*f.q0 + f.q1*f.q1 + f.q2*f.q2 + f.q3*f.q3)
	if recipNorm == 0 {
		// The estimate collapsed (all zero or non-finite). Restart from
		// identity rather than wedging the filter on NaN forever.
		f.Reset()
		return
	}
	f.q0 *= recipNorm
	f.q1 *= recipNorm
	f.q2 *= recipNorm
	f.q3 *= recipNorm
}

// Euler projects the quaternion to aerospace Euler angles in degrees:
// roll about X, pitch about Y, yaw about Z.
func (f *Filter) Euler() (roll, pitch, yaw float64) {
	sinrCosp := 2 * (f.q0*f.q1 + f.q2*f.q3)
	cosrCosp := 1 - 2*(f.q1*f.q1+f.q2*f.q2)
	roll = math.Atan2(sinrCosp, cosrCosp)

	sinp := 2 * (f.q0*f.q2 - f.q3*f.q1)
	if math.Abs(sinp) >= 1 {
		// Gimbal lock: pin pitch at ±90° instead of feeding asin out-of-range.
		pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		pitch = math.Asin(sinp)
	}

	sinyCosp := 2 * (f.q0*f.q3 + f.q1*f.q2)
	cosyCosp := 1 - 2*(f.q2*f.q2+f.q3*f.q3)
	yaw = math.Atan2(sinyCosp, cosyCosp)

	const radToDeg = 180 / math.Pi
	return roll * radToDeg, pitch * radToDeg, yaw * radToDeg
}
