// Package web streams attitude frames to browser clients over websockets.
// It plugs into the pipeline as one more display renderer; the pipeline
// neither knows nor cares that the "display" is a fan-out to sockets.
package web

import (
	"sync"

	"pilot-assistant/internal/display"
)

// Broadcaster fans high-rate frames out to subscribers. It keeps the most
// recent frame so a new subscriber paints immediately instead of waiting
// for the next render tick. Slow subscribers drop frames rather than
// backpressure the pipeline.
type Broadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan display.Frame
	nextID   int
	last     display.Frame
	haveLast bool
	status   string
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan display.Frame)}
}

// ShowStatus implements display.Renderer.
func (b *Broadcaster) ShowStatus(msg string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.status = msg
	b.mu.Unlock()
}

// Render implements display.Renderer.
func (b *Broadcaster) Render(f display.Frame) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.last = f
	b.haveLast = true
	subs := make([]chan display.Frame, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- f:
		default:
			// Subscriber is behind; it will catch up on a later frame.
		}
	}
}

func (b *Broadcaster) Status() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Subscribe registers a frame channel. The latest frame, if any, is
// delivered immediately.
func (b *Broadcaster) Subscribe(buffer int) (int, <-chan display.Frame) {
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan display.Frame, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	last, have := b.last, b.haveLast
	b.mu.Unlock()
	if have {
		select {
		case ch <- last:
		default:
		}
	}
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}
