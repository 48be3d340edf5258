// Package reactive provides a latest-value publish/subscribe primitive.
//
// A Value always exposes its current state through Get and notifies
// subscribers on every Set. There is no queued history: a slow subscriber
// only ever observes the newest value.
package reactive

import "sync"

// Value is a single-writer, multi-reader published value.
// The zero value is not usable; create one with NewValue.
type Value[T any] struct {
	mu   sync.RWMutex
	v    T
	subs map[uint64]func(T)
	next uint64
}

// NewValue creates a Value holding initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{v: initial, subs: make(map[uint64]func(T))}
}

// Get returns the latest value.
func (p *Value[T]) Get() T {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.v
}

// Set publishes v and calls every subscriber with it. Subscribers run on
// the caller's goroutine, outside the lock.
func (p *Value[T]) Set(v T) {
	p.Update(func(T) T { return v })
}

// Update replaces the value with fn(current) atomically and publishes the
// result.
func (p *Value[T]) Update(fn func(T) T) {
	p.mu.Lock()
	v := fn(p.v)
	p.v = v
	subs := make([]func(T), 0, len(p.subs))
	for _, sub := range p.subs {
		subs = append(subs, sub)
	}
	p.mu.Unlock()

	for _, sub := range subs {
		sub(v)
	}
}

// Subscribe registers fn for future changes. It is not called with the
// current value. The returned function removes the subscription and is
// safe to call more than once.
func (p *Value[T]) Subscribe(fn func(T)) (cancel func()) {
	p.mu.Lock()
	id := p.next
	p.next++
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}
