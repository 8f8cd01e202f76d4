// Package mpu6050 drives the InvenSense MPU-6050 6-DOF IMU over I2C.
//
// Unlike the ICM-20948 there are no register banks and no magnetometer;
// everything lives in a single flat register map and ReadMag always reports
// the magnetometer as unavailable so the fusion layer stays in 6-DOF mode.
package mpu6050

import (
	"fmt"
	"time"

	"pilot-assistant/internal/i2c"
	"pilot-assistant/internal/sensors"
)

const (
	// DefaultAddr is the 7-bit address with AD0 pulled low.
	DefaultAddr = 0x68

	regSmplrtDiv   = 0x19
	regConfig      = 0x1A
	regGyroConfig  = 0x1B
	regAccelConfig = 0x1C
	regAccelXoutH  = 0x3B
	regGyroXoutH   = 0x43
	regPwrMgmt1    = 0x6B
	regWhoAmI      = 0x75

	whoAmIVal = 0x68

	bitReset = 0x80
	bitSleep = 0x40

	// DLPF setting 1: 184 Hz accel / 188 Hz gyro bandwidth.
	dlpf188Hz = 0x01
)

// AccelRange selects the accelerometer full scale (AFS_SEL).
type AccelRange byte

const (
	AccelRange2G  AccelRange = 0
	AccelRange4G  AccelRange = 1
	AccelRange8G  AccelRange = 2
	AccelRange16G AccelRange = 3
)

// GyroRange selects the gyroscope full scale (FS_SEL).
type GyroRange byte

const (
	GyroRange250DPS  GyroRange = 0
	GyroRange500DPS  GyroRange = 1
	GyroRange1000DPS GyroRange = 2
	GyroRange2000DPS GyroRange = 3
)

// AccelToG converts a raw accelerometer count to g for the given range.
func AccelToG(raw int16, r AccelRange) float64 {
	var lsbPerG float64
	switch r {
	case AccelRange2G:
		lsbPerG = 16384
	case AccelRange4G:
		lsbPerG = 8192
	case AccelRange8G:
		lsbPerG = 4096
	case AccelRange16G:
		lsbPerG = 2048
	default:
		// Unknown range: assume mid-scale rather than failing the pipeline.
		lsbPerG = 8192
	}
	return float64(raw) / lsbPerG
}

// GyroToDPS converts a raw gyro count to deg/s for the given range.
func GyroToDPS(raw int16, r GyroRange) float64 {
	var lsbPerDPS float64
	switch r {
	case GyroRange250DPS:
		lsbPerDPS = 131
	case GyroRange500DPS:
		lsbPerDPS = 65.5
	case GyroRange1000DPS:
		lsbPerDPS = 32.8
	case GyroRange2000DPS:
		lsbPerDPS = 16.4
	default:
		lsbPerDPS = 65.5
	}
	return float64(raw) / lsbPerDPS
}

// fullScaleDPS reports the positive full-scale rate for a gyro range.
func fullScaleDPS(r GyroRange) float64 {
	switch r {
	case GyroRange250DPS:
		return 250
	case GyroRange500DPS:
		return 500
	case GyroRange1000DPS:
		return 1000
	case GyroRange2000DPS:
		return 2000
	default:
		return 500
	}
}

type Config struct {
	AccelRange AccelRange
	GyroRange  GyroRange
}

// DefaultConfig matches the classic breakout-board deployment: ±2 g, ±250 dps.
func DefaultConfig() Config {
	return Config{AccelRange: AccelRange2G, GyroRange: GyroRange250DPS}
}

// regIO is the register access the driver needs; *i2c.Dev satisfies it.
type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

// Test seam.
var sleep = time.Sleep

// Device is an initialized MPU-6050.
type Device struct {
	dev regIO
	cfg Config
}

// New probes and configures the device on the given bus handle.
func New(dev *i2c.Dev, cfg Config) (*Device, error) {
	return newWithIO(dev, cfg)
}

func newWithIO(dev regIO, cfg Config) (*Device, error) {
	d := &Device{dev: dev, cfg: cfg}

	id, err := d.dev.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("mpu6050: whoami read: %w", err)
	}
	if id != whoAmIVal {
		return nil, fmt.Errorf("mpu6050: whoami = 0x%02X, want 0x%02X", id, whoAmIVal)
	}

	if err := d.dev.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return nil, fmt.Errorf("mpu6050: reset: %w", err)
	}
	sleep(100 * time.Millisecond)

	// Wake and select the X gyro PLL clock.
	if err := d.dev.WriteReg(regPwrMgmt1, 0x01); err != nil {
		return nil, fmt.Errorf("mpu6050: wake: %w", err)
	}
	sleep(10 * time.Millisecond)

	// 1 kHz internal rate divided to 100 Hz.
	if err := d.dev.WriteReg(regSmplrtDiv, 9); err != nil {
		return nil, fmt.Errorf("mpu6050: sample rate: %w", err)
	}
	if err := d.dev.WriteReg(regConfig, dlpf188Hz); err != nil {
		return nil, fmt.Errorf("mpu6050: dlpf: %w", err)
	}
	if err := d.dev.WriteReg(regGyroConfig, byte(cfg.GyroRange)<<3); err != nil {
		return nil, fmt.Errorf("mpu6050: gyro range: %w", err)
	}
	if err := d.dev.WriteReg(regAccelConfig, byte(cfg.AccelRange)<<3); err != nil {
		return nil, fmt.Errorf("mpu6050: accel range: %w", err)
	}

	return d, nil
}

// ReadAccel reads the accelerometer alone in a 6-byte burst.
func (d *Device) ReadAccel() (sensors.AccelSample, error) {
	var buf [6]byte
	if err := d.dev.ReadReg(regAccelXoutH, buf[:]); err != nil {
		return sensors.AccelSample{}, fmt.Errorf("mpu6050: accel read: %w", err)
	}

	be := func(hi, lo byte) int16 { return int16(uint16(hi)<<8 | uint16(lo)) }

	return sensors.AccelSample{
		Time: time.Now(),
		Ax:   AccelToG(be(buf[0], buf[1]), d.cfg.AccelRange),
		Ay:   AccelToG(be(buf[2], buf[3]), d.cfg.AccelRange),
		Az:   AccelToG(be(buf[4], buf[5]), d.cfg.AccelRange),
	}, nil
}

// ReadGyro reads the gyroscope alone in a 6-byte burst.
func (d *Device) ReadGyro() (sensors.GyroSample, error) {
	var buf [6]byte
	if err := d.dev.ReadReg(regGyroXoutH, buf[:]); err != nil {
		return sensors.GyroSample{}, fmt.Errorf("mpu6050: gyro read: %w", err)
	}

	be := func(hi, lo byte) int16 { return int16(uint16(hi)<<8 | uint16(lo)) }

	return sensors.GyroSample{
		Time: time.Now(),
		Gx:   GyroToDPS(be(buf[0], buf[1]), d.cfg.GyroRange),
		Gy:   GyroToDPS(be(buf[2], buf[3]), d.cfg.GyroRange),
		Gz:   GyroToDPS(be(buf[4], buf[5]), d.cfg.GyroRange),
	}, nil
}

// ReadAccelGyro reads accel, temperature and gyro in one 14-byte burst and
// discards the temperature words.
func (d *Device) ReadAccelGyro() (sensors.Sample, error) {
	var buf [14]byte
	if err := d.dev.ReadReg(regAccelXoutH, buf[:]); err != nil {
		return sensors.Sample{}, fmt.Errorf("mpu6050: burst read: %w", err)
	}

	be := func(hi, lo byte) int16 { return int16(uint16(hi)<<8 | uint16(lo)) }

	return sensors.Sample{
		Time: time.Now(),
		Ax:   AccelToG(be(buf[0], buf[1]), d.cfg.AccelRange),
		Ay:   AccelToG(be(buf[2], buf[3]), d.cfg.AccelRange),
		Az:   AccelToG(be(buf[4], buf[5]), d.cfg.AccelRange),
		Gx:   GyroToDPS(be(buf[8], buf[9]), d.cfg.GyroRange),
		Gy:   GyroToDPS(be(buf[10], buf[11]), d.cfg.GyroRange),
		Gz:   GyroToDPS(be(buf[12], buf[13]), d.cfg.GyroRange),
	}, nil
}

// ReadMag always fails: the MPU-6050 has no magnetometer.
func (d *Device) ReadMag() (sensors.MagSample, error) {
	return sensors.MagSample{}, sensors.ErrMagUnavailable
}

func (d *Device) GyroFullScaleDPS() float64 {
	return fullScaleDPS(d.cfg.GyroRange)
}

// Sleep puts the device in low-power sleep.
func (d *Device) Sleep() error {
	if err := d.dev.WriteReg(regPwrMgmt1, bitSleep); err != nil {
		return fmt.Errorf("mpu6050: sleep: %w", err)
	}
	return nil
}

var _ sensors.IMU = (*Device)(nil)
