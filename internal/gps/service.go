package gps

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// fixStaleAfter is how long a fix stays usable without fresh sentences.
const fixStaleAfter = 5 * time.Second

type Config struct {
	Enable bool
	Device string
	Baud   int
}

// Snapshot is the externally visible GPS state.
type Snapshot struct {
	Valid      bool
	SpeedKt    float64
	TrackDeg   float64
	FixQuality int
	Satellites int
	LastFixUTC time.Time
	LastError  string
}

// Service reads NMEA from a serial GPS and exposes groundspeed to the
// attitude pipeline's warning logic.
type Service struct {
	cfg Config
	log *logrus.Entry

	mu      sync.RWMutex
	state   fixState
	lastErr string

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg Config, log *logrus.Logger) *Service {
	if cfg.Baud == 0 {
		cfg.Baud = 9600
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		cfg:    cfg,
		log:    log.WithField("component", "gps"),
		stopCh: make(chan struct{}),
	}
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("gps: service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}
	if s.cfg.Device == "" {
		return fmt.Errorf("gps: device not configured")
	}
	go s.run(ctx)
	return nil
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Service) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		port, err := serial.OpenPort(&serial.Config{
			Name:        s.cfg.Device,
			Baud:        s.cfg.Baud,
			ReadTimeout: time.Second,
		})
		if err != nil {
			s.setError(fmt.Sprintf("open %s: %v", s.cfg.Device, err))
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}
		s.log.WithFields(logrus.Fields{"device": s.cfg.Device, "baud": s.cfg.Baud}).Info("gps serial open")

		sc := bufio.NewScanner(port)
		for sc.Scan() {
			select {
			case <-ctx.Done():
				_ = port.Close()
				return
			case <-s.stopCh:
				_ = port.Close()
				return
			default:
			}
			s.handleLine(sc.Text())
		}
		if err := sc.Err(); err != nil {
			s.setError(fmt.Sprintf("read %s: %v", s.cfg.Device, err))
		}
		_ = port.Close()
	}
}

func (s *Service) handleLine(line string) {
	if line == "" {
		return
	}
	sent, err := parseSentence(line)
	if err != nil {
		// Garbled sentences are routine on serial links; count them as noise.
		return
	}
	now := time.Now().UTC()
	s.mu.Lock()
	if s.state.apply(now, sent) {
		s.lastErr = ""
	}
	s.mu.Unlock()
}

func (s *Service) setError(msg string) {
	s.log.Warn(msg)
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
}

func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	valid := s.state.valid && time.Since(s.state.lastFix) < fixStaleAfter
	return Snapshot{
		Valid:      valid,
		SpeedKt:    s.state.speedKt,
		TrackDeg:   s.state.trackDeg,
		FixQuality: s.state.fixQuality,
		Satellites: s.state.satellites,
		LastFixUTC: s.state.lastFix,
		LastError:  s.lastErr,
	}
}

// GroundSpeed implements the pipeline's speed source. The speed is only
// trusted while the fix is fresh; without one the pipeline assumes zero
// speed, which selects the conservative bank limit.
func (s *Service) GroundSpeed() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.state.valid || !s.state.speedOK || time.Since(s.state.lastFix) >= fixStaleAfter {
		return 0, false
	}
	return s.state.speedKt, true
}
