// Package icm20948 drives the ICM-20948 9-DOF IMU over SPI.
//
// The device exposes four register banks behind a single bank-select
// register; the driver caches the active bank so repeated selects for the
// same bank cost nothing. The AK09916 magnetometer is not on the host bus:
// it hangs off the ICM's auxiliary I2C master and is reached by programming
// a slave address/register/length triple, waiting for the transaction, then
// reading the result out of the EXT_SLV_SENS_DATA shadow area.
package icm20948

import (
	"fmt"
	"time"

	"pilot-assistant/internal/sensors"
	"pilot-assistant/internal/spi"
)

var sleep = time.Sleep

const (
	regBankSel = 0x7F

	// Bank 0.
	regWhoAmI           = 0x00
	whoAmIVal           = 0xEA
	regUserCtrl         = 0x03
	regPwrMgmt1         = 0x06
	regPwrMgmt2         = 0x07
	regAccelXoutH       = 0x2D // contiguous accel+gyro block
	regGyroXoutH        = 0x33
	regTempOutH         = 0x39
	regExtSlvSensData00 = 0x3B
	bitReset            = 0x80
	bitSleep            = 0x40
	bitClkAuto          = 0x01
	bitI2CIfDis         = 0x10
	bitI2CMstEn         = 0x20

	// Bank 2.
	bank2          = 2
	regGyroConfig1 = 0x01
	regAccelConfig = 0x14
	// DLPF enabled, ~50 Hz bandwidth. Accel and gyro get the same bandwidth
	// so both feeds see the same group delay going into the fusion step.
	bitsDLPF50Hz = 0x19

	// Bank 3 (aux I2C master).
	bank3          = 3
	regI2CMstCtrl  = 0x01
	regI2CSlv0Addr = 0x03
	regI2CSlv0Reg  = 0x04
	regI2CSlv0Ctrl = 0x05
	regI2CSlv0DO   = 0x06
	i2cMstClk400k  = 0x07
	bitSlv0Read    = 0x80
	bitSlv0En      = 0x80

	// AK09916 magnetometer (behind the aux master).
	ak09916Addr        = 0x0C
	akRegWhoAmI        = 0x01
	akWhoAmIVal        = 0x09
	akRegST1           = 0x10
	akRegCntl2         = 0x31
	akRegCntl3         = 0x32
	akModeCont100Hz    = 0x08
	akBitDataReady     = 0x01
	akBitOverflow      = 0x08
	akMicroTeslaPerLSB = 0.15

	bankUnknown = 0xFF
)

// AccelRange selects the accelerometer full scale.
type AccelRange byte

const (
	AccelRange2G AccelRange = iota
	AccelRange4G
	AccelRange8G
	AccelRange16G
)

// GyroRange selects the gyroscope full scale.
type GyroRange byte

const (
	GyroRange250DPS GyroRange = iota
	GyroRange500DPS
	GyroRange1000DPS
	GyroRange2000DPS
)

// AccelToG converts a raw accelerometer sample to g for the given range,
// using the datasheet LSB/g sensitivity. Unknown ranges fall back to the
// ±4 g sensitivity; a deliberate mid-range fallback, not an error.
func AccelToG(raw int16, r AccelRange) float64 {
	var sensitivity float64
	switch r {
	case AccelRange2G:
		sensitivity = 16384.0
	case AccelRange4G:
		sensitivity = 8192.0
	case AccelRange8G:
		sensitivity = 4096.0
	case AccelRange16G:
		sensitivity = 2048.0
	default:
		sensitivity = 8192.0
	}
	return float64(raw) / sensitivity
}

// GyroToDPS converts a raw gyroscope sample to deg/s for the given range.
// Unknown ranges fall back to the ±500 dps sensitivity (deliberate, as above).
func GyroToDPS(raw int16, r GyroRange) float64 {
	var sensitivity float64
	switch r {
	case GyroRange250DPS:
		sensitivity = 131.0
	case GyroRange500DPS:
		sensitivity = 65.5
	case GyroRange1000DPS:
		sensitivity = 32.8
	case GyroRange2000DPS:
		sensitivity = 16.4
	default:
		sensitivity = 65.5
	}
	return float64(raw) / sensitivity
}

// TempToCelsius converts the raw die temperature per the datasheet formula.
func TempToCelsius(raw int16) float64 {
	return float64(raw)/333.87 + 21.0
}

func (r GyroRange) fullScaleDPS() float64 {
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

// Config selects the programmed full-scale ranges. The conversion helpers
// must always see the range that was actually written to the device, so the
// Device keeps its Config private after init.
type Config struct {
	AccelRange AccelRange
	GyroRange  GyroRange
}

func DefaultConfig() Config {
	return Config{AccelRange: AccelRange4G, GyroRange: GyroRange500DPS}
}

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

// Device is an initialized ICM-20948.
type Device struct {
	dev regIO
	cfg Config

	curBank byte
	magOK   bool
}

// New probes and configures the sensor on the given SPI port. A WHO_AM_I
// mismatch is fatal: the device must not report itself ready.
func New(port *spi.Port, cfg Config) (*Device, error) {
	if port == nil {
		return nil, fmt.Errorf("icm20948: spi port is nil")
	}
	return newWithIO(&spiRegIO{port: port}, cfg)
}

func newWithIO(dev regIO, cfg Config) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	d := &Device{dev: dev, cfg: cfg, curBank: bankUnknown}

	// Reset first to clear any state left by a previous run, then wake.
	if err := d.setBank(0); err != nil {
		return nil, err
	}
	if err := d.dev.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return nil, fmt.Errorf("icm20948: reset failed: %w", err)
	}
	// The reset also resets the bank-select register.
	d.curBank = bankUnknown
	sleep(100 * time.Millisecond)

	if err := d.dev.WriteReg(regPwrMgmt1, bitClkAuto); err != nil {
		return nil, fmt.Errorf("icm20948: wake failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	if err := d.setBank(0); err != nil {
		return nil, err
	}
	who, err := d.dev.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("icm20948: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return nil, fmt.Errorf("icm20948: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}

	// SPI-only operation: disable the device's own I2C slave interface.
	if err := d.dev.WriteReg(regUserCtrl, bitI2CIfDis); err != nil {
		return nil, fmt.Errorf("icm20948: user ctrl failed: %w", err)
	}

	if err := d.setBank(bank2); err != nil {
		return nil, err
	}
	if err := d.dev.WriteReg(regGyroConfig1, bitsDLPF50Hz|byte(cfg.GyroRange)<<1); err != nil {
		return nil, fmt.Errorf("icm20948: gyro config failed: %w", err)
	}
	if err := d.dev.WriteReg(regAccelConfig, bitsDLPF50Hz|byte(cfg.AccelRange)<<1); err != nil {
		return nil, fmt.Errorf("icm20948: accel config failed: %w", err)
	}

	if err := d.setBank(0); err != nil {
		return nil, err
	}
	if err := d.dev.WriteReg(regPwrMgmt2, 0x00); err != nil {
		return nil, fmt.Errorf("icm20948: sensor enable failed: %w", err)
	}
	sleep(100 * time.Millisecond)

	return d, nil
}

// setBank selects a register bank, skipping the transaction when the bank is
// already active. curBank starts at an explicit "unknown" sentinel so the
// first select is never elided.
func (d *Device) setBank(bank byte) error {
	if d.curBank == bank {
		return nil
	}
	if err := d.dev.WriteReg(regBankSel, bank<<4); err != nil {
		return fmt.Errorf("icm20948: set bank %d failed: %w", bank, err)
	}
	d.curBank = bank
	return nil
}

// InitMag brings up the AK09916 behind the aux I2C master and programs the
// master to stream 8 bytes (ST1 + 6 data + ST2) into the shadow area.
// Failure is non-fatal to the pipeline; callers fall back to IMU-only fusion.
func (d *Device) InitMag() error {
	if d == nil {
		return fmt.Errorf("icm20948: device is nil")
	}

	if err := d.setBank(0); err != nil {
		return err
	}
	ctrl, err := d.dev.ReadRegU8(regUserCtrl)
	if err != nil {
		return fmt.Errorf("icm20948: user ctrl read failed: %w", err)
	}
	// Keep I2C_IF_DIS set for SPI operation while enabling the aux master.
	if err := d.dev.WriteReg(regUserCtrl, ctrl|bitI2CIfDis|bitI2CMstEn); err != nil {
		return fmt.Errorf("icm20948: i2c master enable failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	if err := d.setBank(bank3); err != nil {
		return err
	}
	if err := d.dev.WriteReg(regI2CMstCtrl, i2cMstClk400k); err != nil {
		return fmt.Errorf("icm20948: i2c master clock failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	who, err := d.readMagRegister(akRegWhoAmI)
	if err != nil {
		return err
	}
	if who != akWhoAmIVal {
		return fmt.Errorf("icm20948: ak09916 whoami=0x%02X want 0x%02X", who, akWhoAmIVal)
	}

	if err := d.writeMagRegister(akRegCntl3, 0x01); err != nil { // soft reset
		return err
	}
	sleep(100 * time.Millisecond)
	if err := d.writeMagRegister(akRegCntl2, akModeCont100Hz); err != nil {
		return err
	}
	sleep(10 * time.Millisecond)

	// Continuous shadow read: ST1 through ST2 so ReadMag can check both the
	// data-ready and overflow flags in one burst.
	if err := d.setBank(bank3); err != nil {
		return err
	}
	if err := d.dev.WriteReg(regI2CSlv0Addr, ak09916Addr|bitSlv0Read); err != nil {
		return fmt.Errorf("icm20948: slv0 addr failed: %w", err)
	}
	if err := d.dev.WriteReg(regI2CSlv0Reg, akRegST1); err != nil {
		return fmt.Errorf("icm20948: slv0 reg failed: %w", err)
	}
	if err := d.dev.WriteReg(regI2CSlv0Ctrl, bitSlv0En|8); err != nil {
		return fmt.Errorf("icm20948: slv0 ctrl failed: %w", err)
	}
	if err := d.setBank(0); err != nil {
		return err
	}

	d.magOK = true
	return nil
}

// HasMag reports whether InitMag succeeded.
func (d *Device) HasMag() bool { return d != nil && d.magOK }

// ReadAccel reads the accelerometer alone in a 6-byte burst.
func (d *Device) ReadAccel() (sensors.AccelSample, error) {
	if d == nil {
		return sensors.AccelSample{}, fmt.Errorf("icm20948: device is nil")
	}
	if err := d.setBank(0); err != nil {
		return sensors.AccelSample{}, err
	}

	var buf [6]byte
	if err := d.dev.ReadReg(regAccelXoutH, buf[:]); err != nil {
		return sensors.AccelSample{}, fmt.Errorf("icm20948: accel read failed: %w", err)
	}

	return sensors.AccelSample{
		Time: time.Now(),
		Ax:   AccelToG(int16(buf[0])<<8|int16(buf[1]), d.cfg.AccelRange),
		Ay:   AccelToG(int16(buf[2])<<8|int16(buf[3]), d.cfg.AccelRange),
		Az:   AccelToG(int16(buf[4])<<8|int16(buf[5]), d.cfg.AccelRange),
	}, nil
}

// ReadGyro reads the gyroscope alone in a 6-byte burst.
func (d *Device) ReadGyro() (sensors.GyroSample, error) {
	if d == nil {
		return sensors.GyroSample{}, fmt.Errorf("icm20948: device is nil")
	}
	if err := d.setBank(0); err != nil {
		return sensors.GyroSample{}, err
	}

	var buf [6]byte
	if err := d.dev.ReadReg(regGyroXoutH, buf[:]); err != nil {
		return sensors.GyroSample{}, fmt.Errorf("icm20948: gyro read failed: %w", err)
	}

	return sensors.GyroSample{
		Time: time.Now(),
		Gx:   GyroToDPS(int16(buf[0])<<8|int16(buf[1]), d.cfg.GyroRange),
		Gy:   GyroToDPS(int16(buf[2])<<8|int16(buf[3]), d.cfg.GyroRange),
		Gz:   GyroToDPS(int16(buf[4])<<8|int16(buf[5]), d.cfg.GyroRange),
	}, nil
}

// ReadAccelGyro reads accelerometer and gyroscope in one 12-byte burst.
func (d *Device) ReadAccelGyro() (sensors.Sample, error) {
	if d == nil {
		return sensors.Sample{}, fmt.Errorf("icm20948: device is nil")
	}
	if err := d.setBank(0); err != nil {
		return sensors.Sample{}, err
	}

	var buf [12]byte
	if err := d.dev.ReadReg(regAccelXoutH, buf[:]); err != nil {
		return sensors.Sample{}, fmt.Errorf("icm20948: accel+gyro read failed: %w", err)
	}

	ax := int16(buf[0])<<8 | int16(buf[1])
	ay := int16(buf[2])<<8 | int16(buf[3])
	az := int16(buf[4])<<8 | int16(buf[5])
	gx := int16(buf[6])<<8 | int16(buf[7])
	gy := int16(buf[8])<<8 | int16(buf[9])
	gz := int16(buf[10])<<8 | int16(buf[11])

	return sensors.Sample{
		Time: time.Now(),
		Ax:   AccelToG(ax, d.cfg.AccelRange),
		Ay:   AccelToG(ay, d.cfg.AccelRange),
		Az:   AccelToG(az, d.cfg.AccelRange),
		Gx:   GyroToDPS(gx, d.cfg.GyroRange),
		Gy:   GyroToDPS(gy, d.cfg.GyroRange),
		Gz:   GyroToDPS(gz, d.cfg.GyroRange),
	}, nil
}

// ReadMag polls the magnetometer shadow area. It never waits on the aux
// master: when the AK09916 has no fresh measurement (or reports overflow)
// the call returns sensors.ErrNoSample and the caller carries on IMU-only.
func (d *Device) ReadMag() (sensors.MagSample, error) {
	if d == nil {
		return sensors.MagSample{}, fmt.Errorf("icm20948: device is nil")
	}
	if !d.magOK {
		return sensors.MagSample{}, sensors.ErrMagUnavailable
	}
	if err := d.setBank(0); err != nil {
		return sensors.MagSample{}, err
	}

	// ST1(1) + HXL..HZH(6) + ST2(1).
	var buf [8]byte
	if err := d.dev.ReadReg(regExtSlvSensData00, buf[:]); err != nil {
		return sensors.MagSample{}, fmt.Errorf("icm20948: mag read failed: %w", err)
	}
	if buf[0]&akBitDataReady == 0 {
		return sensors.MagSample{}, sensors.ErrNoSample
	}
	if buf[7]&akBitOverflow != 0 {
		return sensors.MagSample{}, sensors.ErrNoSample
	}

	// AK09916 data is little-endian, unlike the ICM's own registers.
	mx := int16(buf[2])<<8 | int16(buf[1])
	my := int16(buf[4])<<8 | int16(buf[3])
	mz := int16(buf[6])<<8 | int16(buf[5])

	return sensors.MagSample{
		Time: time.Now(),
		Mx:   float64(mx) * akMicroTeslaPerLSB,
		My:   float64(my) * akMicroTeslaPerLSB,
		Mz:   float64(mz) * akMicroTeslaPerLSB,
	}, nil
}

// ReadTemp reads the die temperature in °C.
func (d *Device) ReadTemp() (float64, error) {
	if err := d.setBank(0); err != nil {
		return 0, err
	}
	var buf [2]byte
	if err := d.dev.ReadReg(regTempOutH, buf[:]); err != nil {
		return 0, fmt.Errorf("icm20948: temp read failed: %w", err)
	}
	return TempToCelsius(int16(buf[0])<<8 | int16(buf[1])), nil
}

// GyroFullScaleDPS reports the programmed gyro full scale.
func (d *Device) GyroFullScaleDPS() float64 { return d.cfg.GyroRange.fullScaleDPS() }

// Sleep puts the sensor into low-power mode.
func (d *Device) Sleep() error {
	if err := d.setBank(0); err != nil {
		return err
	}
	if err := d.dev.WriteReg(regPwrMgmt1, bitSleep); err != nil {
		return fmt.Errorf("icm20948: sleep failed: %w", err)
	}
	return nil
}

// writeMagRegister performs a single-byte write to the AK09916 through the
// aux master. The fixed settle covers the master's transaction time; callers
// never overlap pass-through requests.
func (d *Device) writeMagRegister(reg, value byte) error {
	if err := d.setBank(bank3); err != nil {
		return err
	}
	if err := d.dev.WriteReg(regI2CSlv0Addr, ak09916Addr); err != nil {
		return fmt.Errorf("icm20948: slv0 addr failed: %w", err)
	}
	if err := d.dev.WriteReg(regI2CSlv0Reg, reg); err != nil {
		return fmt.Errorf("icm20948: slv0 reg failed: %w", err)
	}
	if err := d.dev.WriteReg(regI2CSlv0DO, value); err != nil {
		return fmt.Errorf("icm20948: slv0 data failed: %w", err)
	}
	if err := d.dev.WriteReg(regI2CSlv0Ctrl, bitSlv0En|1); err != nil {
		return fmt.Errorf("icm20948: slv0 ctrl failed: %w", err)
	}
	sleep(10 * time.Millisecond)
	return nil
}

func (d *Device) readMagRegister(reg byte) (byte, error) {
	if err := d.setBank(bank3); err != nil {
		return 0, err
	}
	if err := d.dev.WriteReg(regI2CSlv0Addr, ak09916Addr|bitSlv0Read); err != nil {
		return 0, fmt.Errorf("icm20948: slv0 addr failed: %w", err)
	}
	if err := d.dev.WriteReg(regI2CSlv0Reg, reg); err != nil {
		return 0, fmt.Errorf("icm20948: slv0 reg failed: %w", err)
	}
	if err := d.dev.WriteReg(regI2CSlv0Ctrl, bitSlv0En|1); err != nil {
		return 0, fmt.Errorf("icm20948: slv0 ctrl failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	if err := d.setBank(0); err != nil {
		return 0, err
	}
	return d.dev.ReadRegU8(regExtSlvSensData00)
}

// spiRegIO adapts the spidev port to register semantics: bit 7 of the
// address selects read (1) vs write (0).
type spiRegIO struct {
	port *spi.Port
}

func (s *spiRegIO) ReadRegU8(reg byte) (byte, error) {
	var b [1]byte
	if err := s.ReadReg(reg, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (s *spiRegIO) ReadReg(reg byte, dst []byte) error {
	w := make([]byte, 1+len(dst))
	r := make([]byte, 1+len(dst))
	w[0] = reg | 0x80
	if err := s.port.Transfer(w, r); err != nil {
		return err
	}
	copy(dst, r[1:])
	return nil
}

func (s *spiRegIO) WriteReg(reg, value byte) error {
	return s.port.Transfer([]byte{reg &^ 0x80, value}, nil)
}

var _ sensors.IMU = (*Device)(nil)
