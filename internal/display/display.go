// Package display is the boundary between the attitude pipeline and
// whatever draws it. The pipeline hands over one Frame per render tick and
// does not care how pixels are produced; renderers may be slow, which is why
// the scheduler decimates how often they are called.
package display

import "github.com/sirupsen/logrus"

// Frame is one render command. Roll/Pitch carry the smoothed, clamped
// display values; RawRoll/RawPitch the unsmoothed projection the warnings
// were evaluated against.
type Frame struct {
	Roll    float64
	Pitch   float64
	Heading float64

	RawRoll  float64
	RawPitch float64

	BankExceeded  bool
	PitchExceeded bool

	SpeedKt float64
	GPSFix  bool
}

// Renderer receives attitude frames and operator-facing status lines.
type Renderer interface {
	// ShowStatus displays a transient status message ("hold steady...").
	ShowStatus(msg string)

	// Render draws one frame. May be slow; the caller rate-limits it.
	Render(f Frame)
}

// Console logs frames instead of drawing them. Useful headless and as the
// fallback renderer when no hardware display is configured.
type Console struct {
	log *logrus.Entry
}

func NewConsole(log *logrus.Logger) *Console {
	return &Console{log: log.WithField("component", "display")}
}

func (c *Console) ShowStatus(msg string) {
	c.log.Info(msg)
}

func (c *Console) Render(f Frame) {
	c.log.WithFields(logrus.Fields{
		"roll":    f.Roll,
		"pitch":   f.Pitch,
		"heading": f.Heading,
		"bank":    f.BankExceeded,
		"pitchEx": f.PitchExceeded,
		"speedKt": f.SpeedKt,
		"gpsFix":  f.GPSFix,
	}).Debug("attitude frame")
}

// Multi fans a frame out to several renderers in order.
type Multi []Renderer

func (m Multi) ShowStatus(msg string) {
	for _, r := range m {
		r.ShowStatus(msg)
	}
}

func (m Multi) Render(f Frame) {
	for _, r := range m {
		r.Render(f)
	}
}
