//go:build linux

package input

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// debounce ignores edges that follow a press within this window.
const debounce = 50 * time.Millisecond

// Button latches an exit request from a momentary push button on a GPIO
// line. The edge handler runs on gpiocdev's event goroutine; the pipeline
// only ever polls the latched flag.
type Button struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line

	pressed  atomic.Bool
	lastEdge atomic.Int64
}

// OpenButton requests the given BCM GPIO as a pulled-up input firing on the
// falling edge (button shorts the line to ground).
func OpenButton(pin int) (*Button, error) {
	if pin <= 0 {
		return nil, fmt.Errorf("input: invalid gpio pin %d", pin)
	}
	lineName := fmt.Sprintf("GPIO%d", pin)

	b := &Button{}

	// Pi kernels move header GPIOs between chips across versions; probe them.
	chipCandidates := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "gpiochip") {
			chipCandidates = append(chipCandidates, filepath.Join("/dev", e.Name()))
		}
	}

	for _, chipPath := range chipCandidates {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset,
			gpiocdev.AsInput,
			gpiocdev.WithPullUp,
			gpiocdev.WithFallingEdge,
			gpiocdev.WithEventHandler(b.onEdge),
			gpiocdev.WithConsumer("pilot-assistant-exit"))
		if err != nil {
			_ = chip.Close()
			continue
		}
		b.chip = chip
		b.line = line
		return b, nil
	}
	return nil, fmt.Errorf("input: gpio line %q not found (or busy)", lineName)
}

func (b *Button) onEdge(gpiocdev.LineEvent) {
	now := time.Now().UnixNano()
	last := b.lastEdge.Load()
	if now-last < int64(debounce) {
		return
	}
	b.lastEdge.Store(now)
	b.pressed.Store(true)
}

func (b *Button) ExitRequested() bool {
	return b.pressed.Load()
}

// Reset clears the latch so the button can arm a new session.
func (b *Button) Reset() {
	b.pressed.Store(false)
}

func (b *Button) Close() error {
	if b == nil || b.line == nil {
		return nil
	}
	err := b.line.Close()
	b.line = nil
	if b.chip != nil {
		_ = b.chip.Close()
		b.chip = nil
	}
	return err
}
