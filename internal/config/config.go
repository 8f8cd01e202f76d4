// Package config loads the YAML configuration file. Every tunable the
// pipeline exposes lives here so deployments can be adjusted without a
// rebuild: sensor transport and ranges, filter beta, warning limits, GPS
// serial settings and the web/display surfaces.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Sensor   SensorConfig   `yaml:"sensor"`
	AHRS     AHRSConfig     `yaml:"ahrs"`
	Warnings WarningsConfig `yaml:"warnings"`
	GPS      GPSConfig      `yaml:"gps"`
	Input    InputConfig    `yaml:"input"`
	Web      WebConfig      `yaml:"web"`
	LogLevel string         `yaml:"log_level"`
}

type SensorConfig struct {
	// Driver selects the IMU adapter: "icm20948" (9-DOF, SPI) or
	// "mpu6050" (6-DOF, I2C).
	Driver string `yaml:"driver"`

	SPIDevice  string `yaml:"spi_device"`
	SPISpeedHz int    `yaml:"spi_speed_hz"`

	I2CBus  int    `yaml:"i2c_bus"`
	I2CAddr uint16 `yaml:"i2c_addr"`

	AccelRangeG  int `yaml:"accel_range_g"`
	GyroRangeDPS int `yaml:"gyro_range_dps"`
}

type AHRSConfig struct {
	Beta              float64       `yaml:"beta"`
	TickInterval      time.Duration `yaml:"tick_interval"`
	RenderEvery       int           `yaml:"render_every"`
	CalibrationWindow time.Duration `yaml:"calibration_window"`

	SmoothAlpha      float64 `yaml:"smooth_alpha"`
	DisplayClampDeg  float64 `yaml:"display_clamp_deg"`
	InvertPitch      bool    `yaml:"invert_pitch"`
	ClockwiseHeading *bool   `yaml:"clockwise_heading"`

	YawDeadbandDPS float64 `yaml:"yaw_deadband_dps"`

	PitchOffsetDeg float64 `yaml:"pitch_offset_deg"`
	RollOffsetDeg  float64 `yaml:"roll_offset_deg"`
}

type WarningsConfig struct {
	BankLimitLowDeg  float64 `yaml:"bank_limit_low_deg"`
	BankLimitHighDeg float64 `yaml:"bank_limit_high_deg"`
	SpeedCutoffKt    float64 `yaml:"speed_cutoff_kt"`
	PitchLimitDeg    float64 `yaml:"pitch_limit_deg"`
}

type GPSConfig struct {
	Enable bool   `yaml:"enable"`
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

type InputConfig struct {
	ExitButtonGPIO int `yaml:"exit_button_gpio"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Addr   string `yaml:"addr"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return withDefaults(cfg)
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	cfg, _ := withDefaults(Config{})
	return cfg
}

func withDefaults(cfg Config) (Config, error) {
	switch cfg.Sensor.Driver {
	case "":
		cfg.Sensor.Driver = "icm20948"
	case "icm20948", "mpu6050":
	default:
		return Config{}, fmt.Errorf("sensor.driver must be icm20948 or mpu6050, got %q", cfg.Sensor.Driver)
	}
	if cfg.Sensor.SPIDevice == "" {
		cfg.Sensor.SPIDevice = "/dev/spidev0.0"
	}
	if cfg.Sensor.SPISpeedHz <= 0 {
		cfg.Sensor.SPISpeedHz = 7000000
	}
	if cfg.Sensor.I2CBus <= 0 {
		cfg.Sensor.I2CBus = 1
	}
	if cfg.Sensor.I2CAddr == 0 {
		cfg.Sensor.I2CAddr = 0x68
	}
	switch cfg.Sensor.AccelRangeG {
	case 0:
		cfg.Sensor.AccelRangeG = 4
	case 2, 4, 8, 16:
	default:
		return Config{}, fmt.Errorf("sensor.accel_range_g must be 2, 4, 8 or 16")
	}
	switch cfg.Sensor.GyroRangeDPS {
	case 0:
		cfg.Sensor.GyroRangeDPS = 500
	case 250, 500, 1000, 2000:
	default:
		return Config{}, fmt.Errorf("sensor.gyro_range_dps must be 250, 500, 1000 or 2000")
	}

	if cfg.AHRS.Beta == 0 {
		cfg.AHRS.Beta = 0.15
	}
	if cfg.AHRS.Beta < 0 || cfg.AHRS.Beta > 2 {
		return Config{}, fmt.Errorf("ahrs.beta must be in (0, 2] (0 selects the default)")
	}
	if cfg.AHRS.TickInterval <= 0 {
		cfg.AHRS.TickInterval = 10 * time.Millisecond
	}
	if cfg.AHRS.RenderEvery <= 0 {
		cfg.AHRS.RenderEvery = 2
	}
	if cfg.AHRS.CalibrationWindow <= 0 {
		cfg.AHRS.CalibrationWindow = 1500 * time.Millisecond
	}
	if cfg.AHRS.SmoothAlpha == 0 {
		cfg.AHRS.SmoothAlpha = 0.12
	}
	if cfg.AHRS.SmoothAlpha < 0 || cfg.AHRS.SmoothAlpha > 1 {
		return Config{}, fmt.Errorf("ahrs.smooth_alpha must be in (0, 1]")
	}
	if cfg.AHRS.DisplayClampDeg == 0 {
		cfg.AHRS.DisplayClampDeg = 80
	}
	if cfg.AHRS.YawDeadbandDPS == 0 {
		cfg.AHRS.YawDeadbandDPS = 0.15
	}

	if cfg.Warnings.BankLimitLowDeg == 0 {
		cfg.Warnings.BankLimitLowDeg = 20
	}
	if cfg.Warnings.BankLimitHighDeg == 0 {
		cfg.Warnings.BankLimitHighDeg = 30
	}
	if cfg.Warnings.BankLimitHighDeg < cfg.Warnings.BankLimitLowDeg {
		return Config{}, fmt.Errorf("warnings.bank_limit_high_deg must be >= bank_limit_low_deg")
	}
	if cfg.Warnings.SpeedCutoffKt == 0 {
		cfg.Warnings.SpeedCutoffKt = 90
	}
	if cfg.Warnings.PitchLimitDeg == 0 {
		cfg.Warnings.PitchLimitDeg = 20
	}

	if cfg.GPS.Enable && cfg.GPS.Device == "" {
		return Config{}, fmt.Errorf("gps.device is required when gps.enable is true")
	}
	if cfg.GPS.Baud <= 0 {
		cfg.GPS.Baud = 9600
	}

	if cfg.Web.Addr == "" {
		cfg.Web.Addr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// ClockwiseHeadingOrDefault resolves the optional heading-convention flag;
// unset means clockwise (the compass convention).
func (c AHRSConfig) ClockwiseHeadingOrDefault() bool {
	if c.ClockwiseHeading == nil {
		return true
	}
	return *c.ClockwiseHeading
}
