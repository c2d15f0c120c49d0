// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package reader

import (
	"errors"
	"fmt"
	"sync"
)

// DefaultPoolSize is the number of reader contexts available when
// Initialize is called with a non-positive size.
const DefaultPoolSize = 64

var (
	poolMu      sync.Mutex
	pool        chan *Reader
	outstanding int
)

// Initialize creates the process-wide reader context pool. It must be
// called once before any Open.
func Initialize(size int) error {
	if size <= 0 {
		size = DefaultPoolSize
	}

	poolMu.Lock()
	defer poolMu.Unlock()
	if pool != nil {
		return errors.New("reader pool already initialized")
	}
	pool = make(chan *Reader, size)
	for i := 0; i < size; i++ {
		pool <- &Reader{}
	}
	return nil
}

// Teardown destroys the pool. Legal only once every context has been
// returned, i.e. all handles are closed.
func Teardown() error {
	poolMu.Lock()
	defer poolMu.Unlock()
	if pool == nil {
		return errors.New("reader pool not initialized")
	}
	if outstanding != 0 {
		return fmt.Errorf("reader pool teardown: %d contexts outstanding", outstanding)
	}
	pool = nil
	return nil
}

// acquireContext draws a zeroed context from the pool without blocking.
func acquireContext() (*Reader, error) {
	poolMu.Lock()
	defer poolMu.Unlock()
	if pool == nil {
		return nil, ErrInsufficientResources
	}
	select {
	case r := <-pool:
		outstanding++
		r.reset()
		return r, nil
	default:
		return nil, ErrInsufficientResources
	}
}

// releaseContext returns a context to the pool.
func releaseContext(r *Reader) {
	poolMu.Lock()
	defer poolMu.Unlock()
	if pool == nil {
		return
	}
	outstanding--
	pool <- r
}
