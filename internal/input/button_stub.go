//go:build !linux

package input

import "fmt"

type Button struct{}

func OpenButton(pin int) (*Button, error) {
	return nil, fmt.Errorf("input: gpio buttons unsupported on this OS")
}

func (b *Button) ExitRequested() bool { return false }

func (b *Button) Reset() {}

func (b *Button) Close() error { return nil }
