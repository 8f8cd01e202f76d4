// Package sensors defines the interface between the AHRS pipeline and the
// physical IMU drivers.
//
// Two adapters implement IMU: the ICM-20948 (9-DOF, SPI, register banks,
// magnetometer behind the aux I2C master) and the MPU-6050 (6-DOF, flat I2C
// register map). The fusion and calibration code only ever sees this
// interface, so both deployments share one pipeline.
package sensors

import (
	"errors"
	"time"
)

// ErrNoSample indicates the device had no fresh data this poll. Callers
// should treat it as "skip this tick" rather than a fault.
var ErrNoSample = errors.New("sensors: no sample ready")

// ErrMagUnavailable is returned by ReadMag on 6-DOF devices.
var ErrMagUnavailable = errors.New("sensors: magnetometer not available")

// Sample is one IMU reading converted to physical units, in the sensor's
// native frame and not yet bias-corrected.
type Sample struct {
	Time time.Time

	// Accel in g.
	Ax, Ay, Az float64
	// Gyro in deg/s.
	Gx, Gy, Gz float64
}

// AccelSample is one accelerometer-only reading in g.
type AccelSample struct {
	Time       time.Time
	Ax, Ay, Az float64
}

// GyroSample is one gyroscope-only reading in deg/s.
type GyroSample struct {
	Time       time.Time
	Gx, Gy, Gz float64
}

// MagSample is one magnetometer reading in µT.
type MagSample struct {
	Time       time.Time
	Mx, My, Mz float64
}

// IMU is the sensor access contract consumed by the AHRS scheduler.
//
// ReadAccelGyro is a single burst transaction; at 100 Hz the halved
// transaction count matters, so drivers must implement it natively rather
// than as a ReadAccel+ReadGyro pair. The single-sensor reads serve callers
// that want one feed without paying for the other, such as bring-up
// diagnostics. ReadMag must poll without blocking: if the pass-through
// transaction has not completed, return ErrNoSample.
type IMU interface {
	// ReadAccel reads the accelerometer alone.
	ReadAccel() (AccelSample, error)

	// ReadGyro reads the gyroscope alone.
	ReadGyro() (GyroSample, error)

	// ReadAccelGyro reads accelerometer and gyroscope in one burst.
	ReadAccelGyro() (Sample, error)

	// ReadMag polls the magnetometer. Returns ErrMagUnavailable on 6-DOF
	// devices and ErrNoSample when no fresh measurement is ready.
	ReadMag() (MagSample, error)

	// GyroFullScaleDPS reports the configured gyro full-scale in deg/s,
	// used by the scheduler to reject implausible spikes.
	GyroFullScaleDPS() float64

	// Sleep puts the device in low-power mode on pipeline exit.
	Sleep() error
}
