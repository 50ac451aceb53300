// Package bus broadcasts values from one producer to many consumers.
package bus

import (
	"context"
	"log/slog"
	"sync"
)

// FanOut broadcasts values to N subscriber channels. If a subscriber's
// channel is full, the value is dropped for that subscriber so a slow
// consumer never blocks the producer.
type FanOut[T any] struct {
	mu      sync.RWMutex
	outputs map[int]chan T
	nextID  int
	bufSize int
	closed  bool

	// OnDrop is called when a value is dropped for a subscriber.
	OnDrop func(subscriberID int)
}

// New creates a FanOut with the given buffer size for output channels.
func New[T any](outputBufferSize int) *FanOut[T] {
	return &FanOut[T]{
		bufSize: outputBufferSize,
		outputs: make(map[int]chan T),
	}
}

// Subscribe creates a new output channel. The returned cancel func removes
// and closes it.
func (f *FanOut[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, f.bufSize)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	id := f.nextID
	f.nextID++
	f.outputs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if c, ok := f.outputs[id]; ok {
				delete(f.outputs, id)
				close(c)
			}
		})
	}
}

// Publish sends v to every subscriber without blocking.
func (f *FanOut[T]) Publish(v T) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for id, ch := range f.outputs {
		select {
		case ch <- v:
		default:
			if f.OnDrop != nil {
				f.OnDrop(id)
			} else {
				slog.Warn("bus subscriber full, dropping value", slog.Int("subscriber", id))
			}
		}
	}
}

// Run publishes everything read from input. Blocks until ctx is cancelled
// or input is closed, then closes all subscriber channels.
func (f *FanOut[T]) Run(ctx context.Context, input <-chan T) {
	defer f.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-input:
			if !ok {
				return
			}
			f.Publish(v)
		}
	}
}

// Close closes every subscriber channel. Later subscribers get a closed
// channel and later publishes are no-ops.
func (f *FanOut[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.outputs {
		close(ch)
		delete(f.outputs, id)
	}
}

// ChannelStat is the saturation of one subscriber channel.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats returns (length, capacity) for each subscriber channel.
func (f *FanOut[T]) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, 0, len(f.outputs))
	for _, ch := range f.outputs {
		stats = append(stats, ChannelStat{Len: len(ch), Cap: cap(ch)})
	}
	return stats
}

// Subscribers returns the number of live subscribers.
func (f *FanOut[T]) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.outputs)
}
