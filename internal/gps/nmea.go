// Package gps supplies a GPS-derived groundspeed and fix indication to the
// attitude pipeline. Only the NMEA sentences this system consumes are
// parsed: RMC for speed over ground and GGA for fix quality.
package gps

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type sentence struct {
	Type string
	// Fields is the comma-split payload (excluding $ and checksum).
	Fields []string
}

func parseSentence(line string) (sentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return sentence{}, fmt.Errorf("nmea: missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return sentence{}, fmt.Errorf("nmea: missing checksum")
	}
	payload := line[1:star]
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return sentence{}, fmt.Errorf("nmea: short checksum")
	}
	want, err := hex.DecodeString(ck[:2])
	if err != nil || len(want) != 1 {
		return sentence{}, fmt.Errorf("nmea: bad checksum")
	}
	got := byte(0)
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}
	if got != want[0] {
		return sentence{}, fmt.Errorf("nmea: checksum mismatch")
	}

	parts := strings.Split(payload, ",")
	if len(parts) == 0 || len(parts[0]) < 3 {
		return sentence{}, fmt.Errorf("nmea: short type")
	}
	// Talker-agnostic: GPRMC, GNRMC etc. all normalize to RMC.
	t := parts[0]
	if len(t) > 3 {
		t = t[len(t)-3:]
	}
	return sentence{Type: strings.ToUpper(t), Fields: parts}, nil
}

// fixState accumulates the navigation state this system cares about.
type fixState struct {
	speedKt  float64
	speedOK  bool
	trackDeg float64
	trackOK  bool

	fixQuality int
	satellites int

	lastFix time.Time
	valid   bool
}

func (s *fixState) apply(nowUTC time.Time, sent sentence) bool {
	switch sent.Type {
	case "RMC":
		return s.applyRMC(nowUTC, sent.Fields)
	case "GGA":
		return s.applyGGA(nowUTC, sent.Fields)
	default:
		return false
	}
}

// RMC fields (NMEA 0183): 2=status (A=active), 7=speed over ground in
// knots, 8=course over ground in degrees.
func (s *fixState) applyRMC(nowUTC time.Time, f []string) bool {
	if len(f) < 10 {
		return false
	}
	if strings.TrimSpace(f[2]) != "A" {
		// Void fix: keep the previous state, do not extend validity.
		return false
	}

	updated := false
	if gs, ok := parseFloat(f[7]); ok {
		s.speedKt = gs
		s.speedOK = true
		updated = true
	}
	if trk, ok := parseFloat(f[8]); ok {
		s.trackDeg = math.Mod(trk+360, 360)
		s.trackOK = true
		updated = true
	}

	s.lastFix = nowUTC
	s.valid = true
	return updated
}

// GGA fields: 6=fix quality (0=invalid), 7=satellite count.
func (s *fixState) applyGGA(nowUTC time.Time, f []string) bool {
	if len(f) < 11 {
		return false
	}
	q := strings.TrimSpace(f[6])
	if q == "" || q == "0" {
		return false
	}
	if v, err := strconv.Atoi(q); err == nil {
		s.fixQuality = v
	}
	if sats, err := strconv.Atoi(strings.TrimSpace(f[7])); err == nil {
		s.satellites = sats
	}
	s.lastFix = nowUTC
	s.valid = true
	return true
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
