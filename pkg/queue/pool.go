// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package queue

import (
	"errors"
	"fmt"
)

// ErrPoolExhausted is returned when no buffer is available.
var ErrPoolExhausted = errors.New("buffer pool exhausted")

// BufferPool is a bounded pool of fixed-size reusable block buffers. It
// never grows: Acquire fails immediately once all buffers are out.
type BufferPool struct {
	bufSize int
	free    chan []byte
	total   int
}

// NewBufferPool creates a pool of count buffers of bufSize bytes each.
func NewBufferPool(count, bufSize int) *BufferPool {
	p := &BufferPool{
		bufSize: bufSize,
		free:    make(chan []byte, count),
		total:   count,
	}
	for i := 0; i < count; i++ {
		p.free <- make([]byte, bufSize)
	}
	return p
}

// BufferSize returns the fixed capacity of each pooled buffer.
func (p *BufferPool) BufferSize() int {
	return p.bufSize
}

// Acquire takes a buffer from the pool without blocking.
func (p *BufferPool) Acquire() ([]byte, error) {
	select {
	case buf := <-p.free:
		return buf, nil
	default:
		return nil, ErrPoolExhausted
	}
}

// Release returns a buffer to the pool.
func (p *BufferPool) Release(buf []byte) {
	p.free <- buf[:p.bufSize]
}

// Drain verifies every buffer has been returned and empties the pool.
// Called once at teardown.
func (p *BufferPool) Drain() error {
	if len(p.free) != p.total {
		return fmt.Errorf("buffer pool drain: %d of %d buffers outstanding",
			p.total-len(p.free), p.total)
	}
	for len(p.free) > 0 {
		<-p.free
	}
	return nil
}
