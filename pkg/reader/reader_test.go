// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package reader

import (
	"errors"
	"testing"

	"github.com/mbeema/capq/pkg/queue"
)

// initPool stands up the process-wide context pool for one test. The pool
// is package state, so lifecycle tests must not run in parallel.
func initPool(t *testing.T, size int) {
	t.Helper()
	if err := Initialize(size); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() {
		if err := Teardown(); err != nil {
			t.Errorf("Teardown: %v", err)
		}
	})
}

func TestOpenCloseLifecycle(t *testing.T) {
	initPool(t, 1)
	f := &fakeQueue{}

	r, err := Open(f, OpenParams{CallerID: 7, OpenerID: 7}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Pool size 1: a second open must fail while the first is held.
	if _, err := Open(f, OpenParams{CallerID: 7, OpenerID: 7}, nil); !errors.Is(err, ErrInsufficientResources) {
		t.Errorf("second Open err = %v, want ErrInsufficientResources", err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if f.deregistered != 1 {
		t.Errorf("deregistered %d times, want 1", f.deregistered)
	}

	// The context is reusable after close.
	r, err = Open(f, OpenParams{CallerID: 7, OpenerID: 7}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	r.Close()
}

func TestOpenCallerMismatch(t *testing.T) {
	initPool(t, 1)
	_, err := Open(&fakeQueue{}, OpenParams{CallerID: 7, OpenerID: 8}, nil)
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("Open err = %v, want ErrAccessDenied", err)
	}
}

func TestOpenPathSuffixRejected(t *testing.T) {
	initPool(t, 1)
	_, err := Open(&fakeQueue{}, OpenParams{CallerID: 7, OpenerID: 7, PathSuffix: "extra"}, nil)
	if !errors.Is(err, ErrNoSuchPath) {
		t.Errorf("Open err = %v, want ErrNoSuchPath", err)
	}
}

func TestOpenNilQueueManager(t *testing.T) {
	initPool(t, 1)
	if _, err := Open(nil, OpenParams{}, nil); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("Open(nil) err = %v, want ErrInvalidParameter", err)
	}
}

func TestOpenBeforeInitialize(t *testing.T) {
	_, err := Open(&fakeQueue{}, OpenParams{CallerID: 7, OpenerID: 7}, nil)
	if !errors.Is(err, ErrInsufficientResources) {
		t.Errorf("Open without pool err = %v, want ErrInsufficientResources", err)
	}
}

func TestOpenRegisterFailureReturnsContext(t *testing.T) {
	initPool(t, 1)
	failing := &fakeQueue{registerErr: errors.New("queue full")}

	if _, err := Open(failing, OpenParams{CallerID: 7, OpenerID: 7}, nil); err == nil {
		t.Fatal("Open should fail when registration fails")
	}

	// The context must have gone back to the pool.
	r, err := Open(&fakeQueue{}, OpenParams{CallerID: 7, OpenerID: 7}, nil)
	if err != nil {
		t.Fatalf("Open after failed registration: %v", err)
	}
	r.Close()
}

func TestTeardownWithOutstandingContext(t *testing.T) {
	if err := Initialize(1); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	r, err := Open(&fakeQueue{}, OpenParams{CallerID: 7, OpenerID: 7}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := Teardown(); err == nil {
		t.Error("Teardown with an open handle should fail")
	}

	r.Close()
	if err := Teardown(); err != nil {
		t.Errorf("Teardown after close: %v", err)
	}
}

func TestCloseReleasesHeldBlock(t *testing.T) {
	initPool(t, 1)
	f := &fakeQueue{blocks: []*queue.Block{literalBlock(pattern(20, 0))}}

	r, err := Open(f, OpenParams{CallerID: 7, OpenerID: 7}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// A partial read leaves the block held by the reader.
	if n, _ := r.Read(make([]byte, 10)); n != 10 {
		t.Fatal("expected 10-byte partial read")
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(f.cleaned) != 1 {
		t.Errorf("cleaned %d blocks on close, want 1", len(f.cleaned))
	}
}

func TestReuseStartsClean(t *testing.T) {
	initPool(t, 1)
	f := &fakeQueue{}

	r, err := Open(f, OpenParams{CallerID: 7, OpenerID: 7}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	setSnapLength(t, r, 100)
	r.Control(Code(OpFilterProcesses, false), []byte{5, 0, 0, 0}, nil)
	r.Close()

	r, err = Open(f, OpenParams{CallerID: 7, OpenerID: 7}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r.Close()

	if r.snapLength != 0 {
		t.Errorf("reused context snapLength = %d, want 0", r.snapLength)
	}
	if r.procFilter.Load() != nil {
		t.Error("reused context retained a filter")
	}
	if r.restartState != restartInit {
		t.Error("reused context should start in the initial state")
	}
}
