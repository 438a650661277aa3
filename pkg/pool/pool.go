// Package pool provides typed object pools for the scratch buffers of the
// compression codecs and metadata encoders.
//
// Example usage:
//
//	buffers := pool.NewBuffers(64 << 10)
//	buf := buffers.Get()
//	defer buffers.Put(buf)
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// Pool is a type-safe wrapper around sync.Pool with an optional reset
// function and usage counters. It is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		gets      int64
	}
}

// New creates a pool. reset, when not nil, is applied to objects on Put.
func New[T any](new func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return new()
	}
	return p
}

// Get takes an object from the pool, allocating one when it is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.gets, 1)
	atomic.AddInt64(&p.stats.inUse, 1)
	return p.pool.Get().(T)
}

// Put resets obj and returns it to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats reports objects allocated, currently checked out, and Get calls
// served from a pooled object.
func (p *Pool[T]) Stats() (allocated, inUse, hits int64) {
	allocated = atomic.LoadInt64(&p.stats.allocated)
	gets := atomic.LoadInt64(&p.stats.gets)
	return allocated, atomic.LoadInt64(&p.stats.inUse), max(0, gets-allocated)
}

// NewBuffers returns a pool of empty bytes.Buffers with the given initial
// capacity.
func NewBuffers(capacity int) *Pool[*bytes.Buffer] {
	return New(
		func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, capacity)) },
		func(b *bytes.Buffer) { b.Reset() },
	)
}

// Detach copies the contents of b so b can go back to its pool.
func Detach(b *bytes.Buffer) []byte {
	out := make([]byte, b.Len())
	copy(out, b.Bytes())
	return out
}
