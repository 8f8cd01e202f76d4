package ahrs

import "math"

// WarningConfig is the flight-envelope warning policy. The bank limit is
// speed-dependent: below SpeedCutoffKt the stall margin is thinner, so the
// tighter BankLimitLowDeg applies; at or above the cutoff the aircraft can
// tolerate BankLimitHighDeg.
type WarningConfig struct {
	BankLimitLowDeg  float64
	BankLimitHighDeg float64
	SpeedCutoffKt    float64
	PitchLimitDeg    float64
}

func DefaultWarningConfig() WarningConfig {
	return WarningConfig{
		BankLimitLowDeg:  20,
		BankLimitHighDeg: 30,
		SpeedCutoffKt:    90,
		PitchLimitDeg:    20,
	}
}

// Warnings is derived per tick from the current attitude and speed; it is
// never stored.
type Warnings struct {
	BankExceeded  bool
	PitchExceeded bool
}

// BankLimitDeg returns the bank limit for the given speed in knots.
func (c WarningConfig) BankLimitDeg(speedKt float64) float64 {
	if speedKt < c.SpeedCutoffKt {
		return c.BankLimitLowDeg
	}
	return c.BankLimitHighDeg
}

// Evaluate computes warnings for the given attitude (degrees) and speed
// (knots). Speed is taken as-is; validating it is the supplier's problem.
func (c WarningConfig) Evaluate(rollDeg, pitchDeg, speedKt float64) Warnings {
	return Warnings{
		BankExceeded:  math.Abs(rollDeg) > c.BankLimitDeg(speedKt),
		PitchExceeded: math.Abs(pitchDeg) > c.PitchLimitDeg,
	}
}
