//go:build linux

package spi

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Minimal Linux SPI implementation backed by /dev/spidev*.
//
// We use SPI_IOC_MESSAGE full-duplex transfers so register reads (address
// byte out, data bytes in) happen in a single chip-select assertion, which
// the ICM-20948 requires.

const (
	iocWrMode        = 0x40016B01 // SPI_IOC_WR_MODE
	iocWrMaxSpeedHz  = 0x40046B04 // SPI_IOC_WR_MAX_SPEED_HZ
	iocWrBitsPerWord = 0x40016B03 // SPI_IOC_WR_BITS_PER_WORD
	iocMessage1      = 0x40206B00 // SPI_IOC_MESSAGE(1)

	// Mode 3 (CPOL=1, CPHA=1), the ICM-20948's stable setting.
	Mode3 = 0x03
)

type transfer struct {
	txBuf       uint64
	rxBuf       uint64
	len         uint32
	speedHz     uint32
	delayUsecs  uint16
	bitsPerWord uint8
	csChange    uint8
	txNbits     uint8
	rxNbits     uint8
	pad         uint16
}

// Config selects the SPI mode and clock for a Port.
type Config struct {
	Mode    byte
	SpeedHz uint32
}

// Port is an opened spidev device (e.g. /dev/spidev0.0).
//
// Port is not safe for concurrent transfers; the sensor access layer owns
// the bus exclusively, so no locking is done here.
type Port struct {
	f       *os.File
	path    string
	speedHz uint32
}

func Open(path string, cfg Config) (*Port, error) {
	path = filepath.Clean(path)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	p := &Port{f: f, path: path, speedHz: cfg.SpeedHz}
	if p.speedHz == 0 {
		p.speedHz = 1000000
	}

	mode := cfg.Mode
	if err := p.ioctl(iocWrMode, unsafe.Pointer(&mode)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("spi: set mode: %w", err)
	}
	bits := uint8(8)
	if err := p.ioctl(iocWrBitsPerWord, unsafe.Pointer(&bits)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("spi: set bits per word: %w", err)
	}
	speed := p.speedHz
	if err := p.ioctl(iocWrMaxSpeedHz, unsafe.Pointer(&speed)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("spi: set speed: %w", err)
	}
	return p, nil
}

func (p *Port) Close() error {
	if p == nil || p.f == nil {
		return nil
	}
	err := p.f.Close()
	p.f = nil
	return err
}

// Transfer clocks len(w) bytes out while reading into r when non-nil.
// When r is non-nil it must be the same length as w.
func (p *Port) Transfer(w, r []byte) error {
	if p == nil || p.f == nil {
		return errors.New("spi port is nil")
	}
	if len(w) == 0 {
		return nil
	}
	if r != nil && len(r) != len(w) {
		return fmt.Errorf("spi: rx length %d != tx length %d", len(r), len(w))
	}

	tr := transfer{
		txBuf:       uint64(uintptr(unsafe.Pointer(&w[0]))),
		len:         uint32(len(w)),
		speedHz:     p.speedHz,
		bitsPerWord: 8,
	}
	if r != nil {
		tr.rxBuf = uint64(uintptr(unsafe.Pointer(&r[0])))
	}
	return p.ioctl(iocMessage1, unsafe.Pointer(&tr))
}

func (p *Port) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, p.f.Fd(), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
