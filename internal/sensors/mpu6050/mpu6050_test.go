package mpu6050

import (
	"errors"
	"testing"
	"time"

	"pilot-assistant/internal/sensors"
)

type fakeI2C struct {
	regs   map[byte][]byte
	writes []writeOp
}

type writeOp struct {
	reg byte
	val byte
}

func (f *fakeI2C) ReadRegU8(reg byte) (byte, error) {
	b := f.regs[reg]
	if len(b) < 1 {
		return 0, errors.New("no reg")
	}
	return b[0], nil
}

func (f *fakeI2C) ReadReg(reg byte, dst []byte) error {
	b := f.regs[reg]
	if len(b) < len(dst) {
		return errors.New("short reg")
	}
	copy(dst, b[:len(dst)])
	return nil
}

func (f *fakeI2C) WriteReg(reg, value byte) error {
	f.writes = append(f.writes, writeOp{reg: reg, val: value})
	return nil
}

func silenceSleep(t *testing.T) {
	t.Helper()
	oldSleep := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = oldSleep })
}

func newFake() *fakeI2C {
	return &fakeI2C{regs: map[byte][]byte{
		regWhoAmI: {whoAmIVal},
	}}
}

func TestNew_WhoAmIMismatchIsFatal(t *testing.T) {
	silenceSleep(t)

	f := newFake()
	f.regs[regWhoAmI] = []byte{0x72}
	if _, err := newWithIO(f, DefaultConfig()); err == nil {
		t.Fatalf("expected error on whoami mismatch")
	}
}

func TestNew_ConfiguresRangesAndRate(t *testing.T) {
	silenceSleep(t)

	f := newFake()
	cfg := Config{AccelRange: AccelRange4G, GyroRange: GyroRange500DPS}
	if _, err := newWithIO(f, cfg); err != nil {
		t.Fatalf("newWithIO: %v", err)
	}

	var sawWake, sawRate, sawGyro, sawAccel bool
	for _, w := range f.writes {
		switch {
		case w.reg == regPwrMgmt1 && w.val == 0x01:
			sawWake = true
		case w.reg == regSmplrtDiv && w.val == 9:
			sawRate = true
		case w.reg == regGyroConfig && w.val == byte(GyroRange500DPS)<<3:
			sawGyro = true
		case w.reg == regAccelConfig && w.val == byte(AccelRange4G)<<3:
			sawAccel = true
		}
	}
	if !sawWake || !sawRate {
		t.Fatalf("missing wake/rate writes (wake=%v rate=%v)", sawWake, sawRate)
	}
	if !sawGyro || !sawAccel {
		t.Fatalf("missing range writes (gyro=%v accel=%v)", sawGyro, sawAccel)
	}
}

func TestReadAccelGyro_SkipsTemperatureWords(t *testing.T) {
	silenceSleep(t)

	f := newFake()
	// ax=16384 -> 1 g at ±2g; temp words poisoned; gz=-131 -> -1 dps at ±250.
	f.regs[regAccelXoutH] = []byte{
		0x40, 0x00, // ax = 16384
		0x00, 0x00, // ay
		0x00, 0x00, // az
		0x7F, 0xFF, // temp, must be ignored
		0x00, 0x00, // gx
		0x00, 0x00, // gy
		0xFF, 0x7D, // gz = -131
	}

	d, err := newWithIO(f, DefaultConfig())
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	s, err := d.ReadAccelGyro()
	if err != nil {
		t.Fatalf("ReadAccelGyro: %v", err)
	}
	if s.Ax < 0.99 || s.Ax > 1.01 {
		t.Fatalf("Ax=%v want ~1.0", s.Ax)
	}
	if s.Gz > -0.99 || s.Gz < -1.01 {
		t.Fatalf("Gz=%v want ~-1.0", s.Gz)
	}
}

func TestReadAccel_SixByteBurst(t *testing.T) {
	silenceSleep(t)

	f := newFake()
	// ax=16384 -> 1 g at ±2 g; az=-16384 -> -1 g.
	f.regs[regAccelXoutH] = []byte{0x40, 0x00, 0x00, 0x00, 0xC0, 0x00}

	d, err := newWithIO(f, DefaultConfig())
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	a, err := d.ReadAccel()
	if err != nil {
		t.Fatalf("ReadAccel: %v", err)
	}
	if a.Ax < 0.99 || a.Ax > 1.01 {
		t.Fatalf("Ax=%v want ~1.0", a.Ax)
	}
	if a.Az > -0.99 || a.Az < -1.01 {
		t.Fatalf("Az=%v want ~-1.0", a.Az)
	}
}

func TestReadGyro_SixByteBurst(t *testing.T) {
	silenceSleep(t)

	f := newFake()
	// gx=131 -> 1 dps at ±250; gz=-131 -> -1 dps.
	f.regs[regGyroXoutH] = []byte{0x00, 0x83, 0x00, 0x00, 0xFF, 0x7D}

	d, err := newWithIO(f, DefaultConfig())
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	g, err := d.ReadGyro()
	if err != nil {
		t.Fatalf("ReadGyro: %v", err)
	}
	if g.Gx < 0.99 || g.Gx > 1.01 {
		t.Fatalf("Gx=%v want ~1.0", g.Gx)
	}
	if g.Gz > -0.99 || g.Gz < -1.01 {
		t.Fatalf("Gz=%v want ~-1.0", g.Gz)
	}
}

func TestReadMag_Unavailable(t *testing.T) {
	silenceSleep(t)

	d, err := newWithIO(newFake(), DefaultConfig())
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	if _, err := d.ReadMag(); !errors.Is(err, sensors.ErrMagUnavailable) {
		t.Fatalf("err=%v want ErrMagUnavailable", err)
	}
}

func TestGyroFullScale(t *testing.T) {
	silenceSleep(t)

	d, err := newWithIO(newFake(), Config{GyroRange: GyroRange1000DPS})
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	if got := d.GyroFullScaleDPS(); got != 1000 {
		t.Fatalf("GyroFullScaleDPS=%v want 1000", got)
	}
}

func TestSleep_SetsSleepBit(t *testing.T) {
	silenceSleep(t)

	f := newFake()
	d, err := newWithIO(f, DefaultConfig())
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	if err := d.Sleep(); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
	last := f.writes[len(f.writes)-1]
	if last.reg != regPwrMgmt1 || last.val != bitSleep {
		t.Fatalf("sleep write = {0x%02X, 0x%02X}", last.reg, last.val)
	}
}
