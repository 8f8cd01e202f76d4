package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"pilot-assistant/internal/ahrs"
	"pilot-assistant/internal/config"
	"pilot-assistant/internal/display"
	"pilot-assistant/internal/gps"
	"pilot-assistant/internal/i2c"
	"pilot-assistant/internal/input"
	"pilot-assistant/internal/sensors"
	"pilot-assistant/internal/sensors/icm20948"
	"pilot-assistant/internal/sensors/mpu6050"
	"pilot-assistant/internal/spi"
	"pilot-assistant/internal/web"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "pilot-assistant",
	Short: "attitude indicator with flight-envelope warnings",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "calibrate the gyro and run the attitude pipeline",
	RunE:  runPipeline,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func main() {
	runCmd.Flags().String("config", "", "path to YAML config (defaults apply when omitted)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg := config.Default()
	if cfgPath != "" {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	log.WithField("version", version).Info("pilot-assistant starting")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	imu, closeIMU, err := openIMU(cfg.Sensor, log)
	if err != nil {
		return fmt.Errorf("sensor init: %w", err)
	}
	defer closeIMU()

	gpsSvc := gps.New(gps.Config(cfg.GPS), log)
	if err := gpsSvc.Start(ctx); err != nil {
		return fmt.Errorf("gps start: %w", err)
	}
	defer gpsSvc.Close()

	exit := openExit(cfg.Input, log)

	broadcaster := web.NewBroadcaster()
	renderer := display.Multi{display.NewConsole(log), broadcaster}

	svc, err := ahrs.New(pipelineConfig(cfg), ahrs.Deps{
		IMU:      imu,
		Renderer: renderer,
		Speed:    gpsSvc,
		Exit:     exit,
		Log:      log,
	})
	if err != nil {
		return err
	}
	svc.SetOffsets(cfg.AHRS.PitchOffsetDeg, cfg.AHRS.RollOffsetDeg)

	webSrv := web.NewServer(web.Config(cfg.Web), broadcaster, func() any {
		return struct {
			AHRS ahrs.Snapshot `json:"ahrs"`
			GPS  gps.Snapshot  `json:"gps"`
		}{svc.Snapshot(), gpsSvc.Snapshot()}
	}, log)
	if err := webSrv.Start(ctx); err != nil {
		return fmt.Errorf("web start: %w", err)
	}

	err = svc.Run(ctx)
	log.Info("pilot-assistant stopping")
	return err
}

func pipelineConfig(cfg config.Config) ahrs.Config {
	out := ahrs.DefaultConfig()
	out.TickInterval = cfg.AHRS.TickInterval
	out.RenderEvery = cfg.AHRS.RenderEvery
	out.CalibrationWindow = cfg.AHRS.CalibrationWindow
	out.Filter = ahrs.FilterConfig{
		Beta:       cfg.AHRS.Beta,
		SampleFreq: 1 / cfg.AHRS.TickInterval.Seconds(),
	}
	out.Bias.YawDeadbandDPS = cfg.AHRS.YawDeadbandDPS
	out.Attitude = ahrs.AttitudeConfig{
		SmoothAlpha:      cfg.AHRS.SmoothAlpha,
		DisplayClampDeg:  cfg.AHRS.DisplayClampDeg,
		InvertPitch:      cfg.AHRS.InvertPitch,
		ClockwiseHeading: cfg.AHRS.ClockwiseHeadingOrDefault(),
	}
	out.Warnings = ahrs.WarningConfig{
		BankLimitLowDeg:  cfg.Warnings.BankLimitLowDeg,
		BankLimitHighDeg: cfg.Warnings.BankLimitHighDeg,
		SpeedCutoffKt:    cfg.Warnings.SpeedCutoffKt,
		PitchLimitDeg:    cfg.Warnings.PitchLimitDeg,
	}
	return out
}

func openIMU(cfg config.SensorConfig, log *logrus.Logger) (sensors.IMU, func(), error) {
	switch cfg.Driver {
	case "icm20948":
		port, err := spi.Open(cfg.SPIDevice, spi.Config{Mode: spi.Mode3, SpeedHz: uint32(cfg.SPISpeedHz)})
		if err != nil {
			return nil, nil, err
		}
		dev, err := icm20948.New(port, icm20948.Config{
			AccelRange: icmAccelRange(cfg.AccelRangeG),
			GyroRange:  icmGyroRange(cfg.GyroRangeDPS),
		})
		if err != nil {
			_ = port.Close()
			return nil, nil, err
		}
		// The magnetometer is optional; 6-DOF operation continues without it.
		if err := dev.InitMag(); err != nil {
			log.WithError(err).Warn("magnetometer unavailable, running IMU-only")
		}
		log.WithField("mag", dev.HasMag()).Info("icm20948 online")
		checkIMU(dev, log)
		return dev, func() { _ = port.Close() }, nil

	case "mpu6050":
		bus, err := i2c.Open(fmt.Sprintf("/dev/i2c-%d", cfg.I2CBus))
		if err != nil {
			return nil, nil, err
		}
		dev, err := mpu6050.New(bus.Dev(cfg.I2CAddr), mpu6050.Config{
			AccelRange: mpuAccelRange(cfg.AccelRangeG),
			GyroRange:  mpuGyroRange(cfg.GyroRangeDPS),
		})
		if err != nil {
			_ = bus.Close()
			return nil, nil, err
		}
		checkIMU(dev, log)
		return dev, func() { _ = bus.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown sensor driver %q", cfg.Driver)
	}
}

// checkIMU logs one accel and one gyro reading so bring-up problems (wrong
// wiring, dead axes) show up before calibration starts.
func checkIMU(imu sensors.IMU, log *logrus.Logger) {
	if a, err := imu.ReadAccel(); err == nil {
		log.WithFields(logrus.Fields{"ax": a.Ax, "ay": a.Ay, "az": a.Az}).Debug("accel check")
	}
	if g, err := imu.ReadGyro(); err == nil {
		log.WithFields(logrus.Fields{"gx": g.Gx, "gy": g.Gy, "gz": g.Gz}).Debug("gyro check")
	}
}

func openExit(cfg config.InputConfig, log *logrus.Logger) input.Source {
	if cfg.ExitButtonGPIO <= 0 {
		return input.Never
	}
	btn, err := input.OpenButton(cfg.ExitButtonGPIO)
	if err != nil {
		log.WithError(err).Warn("exit button unavailable, relying on signals")
		return input.Never
	}
	return btn
}

func icmAccelRange(g int) icm20948.AccelRange {
	switch g {
	case 2:
		return icm20948.AccelRange2G
	case 8:
		return icm20948.AccelRange8G
	case 16:
		return icm20948.AccelRange16G
	default:
		return icm20948.AccelRange4G
	}
}

func icmGyroRange(dps int) icm20948.GyroRange {
	switch dps {
	case 250:
		return icm20948.GyroRange250DPS
	case 1000:
		return icm20948.GyroRange1000DPS
	case 2000:
		return icm20948.GyroRange2000DPS
	default:
		return icm20948.GyroRange500DPS
	}
}

func mpuAccelRange(g int) mpu6050.AccelRange {
	switch g {
	case 4:
		return mpu6050.AccelRange4G
	case 8:
		return mpu6050.AccelRange8G
	case 16:
		return mpu6050.AccelRange16G
	default:
		return mpu6050.AccelRange2G
	}
}

func mpuGyroRange(dps int) mpu6050.GyroRange {
	switch dps {
	case 500:
		return mpu6050.GyroRange500DPS
	case 1000:
		return mpu6050.GyroRange1000DPS
	case 2000:
		return mpu6050.GyroRange2000DPS
	default:
		return mpu6050.GyroRange250DPS
	}
}
