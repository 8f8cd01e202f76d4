// Package input supplies the pipeline's cooperative exit signal. Debounce
// and physical-button semantics live here, never inside the pipeline.
package input

// Source is polled once per scheduler tick.
type Source interface {
	ExitRequested() bool
}

// Func adapts a plain function to Source.
type Func func() bool

func (f Func) ExitRequested() bool { return f() }

// Never is a Source that never requests exit; used when no button is wired.
var Never Source = Func(func() bool { return false })
