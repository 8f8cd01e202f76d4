//go:build !linux

package spi

import "fmt"

const Mode3 = 0x03

type Config struct {
	Mode    byte
	SpeedHz uint32
}

type Port struct{}

func Open(path string, cfg Config) (*Port, error) {
	return nil, fmt.Errorf("spi: unsupported OS (need linux)")
}

func (p *Port) Close() error { return nil }

func (p *Port) Transfer(w, r []byte) error { return fmt.Errorf("spi: unsupported OS") }
