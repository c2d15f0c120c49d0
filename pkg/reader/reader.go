// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package reader implements the read interface of the capture queue: one
// Reader per open handle pulls captured blocks from the queue manager and
// serves them as a PCAP-NG byte stream, applying snap-length truncation,
// ID filtering, and the restart handshake along the way.
//
// Calls against one Reader (Read, Control, Close) must be externally
// serialized; the Reader adds no per-handle lock of its own. Distinct
// Readers are fully independent and may be driven concurrently.
package reader

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mbeema/capq/pkg/queue"
)

// QueueManager is the narrow collaborator surface the read interface
// requires from the block queue. *queue.Manager satisfies it.
type QueueManager interface {
	RegisterReader() (queue.ReaderID, error)
	DeregisterReader(id queue.ReaderID)
	SetReaderSnapLength(id queue.ReaderID, length uint32)
	SetReaderDataEvent(id queue.ReaderID, handle uint64) error
	DequeueBlock(id queue.ReaderID) *queue.Block
	GetInitialBlocks(id queue.ReaderID, destructive bool)
	CleanupBlock(b *queue.Block)
	GetStatistics(id queue.ReaderID) queue.Statistics
	SetOpenConnections(table []queue.Connection)
}

// restartState tracks the resynchronization handshake. A zeroed context
// starts at restartInit so the first read fetches the stream prologue.
type restartState int

const (
	restartInit restartState = iota
	restartNormal
	restartSendEof
)

// overlay is the reader-local truncated view of the current packet block.
// The original buffer is never written through; header and footer are
// rewritten copies, and the offsets below carve the block into zones.
type overlay struct {
	active bool
	header [headerSize]byte
	footer [footerSize]byte

	dataEnd             uint32 // end of retained payload bytes
	modifiedFooterStart uint32 // where the rewritten footer begins in the new layout
	originalFooterStart uint32 // where the original footer begins in the source block
}

// Reader is the per-handle streaming state.
type Reader struct {
	qm  QueueManager
	id  queue.ReaderID
	log *zap.Logger

	snapLength    uint32
	snapLengthPad uint32

	restartState     restartState
	restartRequested atomic.Bool

	cur       *queue.Block
	curOffset uint32

	procFilter atomic.Pointer[idList]
	connFilter atomic.Pointer[idList]

	overlay overlay
}

// OpenParams carries the identity checks performed on open.
type OpenParams struct {
	// CallerID is the execution context issuing the open request;
	// OpenerID is the context the handle will belong to. They must match.
	CallerID uint64
	OpenerID uint64

	// PathSuffix must be empty; the read interface is not addressable.
	PathSuffix string
}

// Open acquires a reader context from the process-wide pool and registers
// it with the queue manager.
func Open(qm QueueManager, params OpenParams, logger *zap.Logger) (*Reader, error) {
	if qm == nil {
		return nil, ErrInvalidParameter
	}
	if params.CallerID != params.OpenerID {
		return nil, ErrAccessDenied
	}
	if params.PathSuffix != "" {
		return nil, ErrNoSuchPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r, err := acquireContext()
	if err != nil {
		logger.Warn("open reader failed", zap.Error(err))
		return nil, err
	}

	r.qm = qm
	r.log = logger
	id, err := qm.RegisterReader()
	if err != nil {
		releaseContext(r)
		logger.Warn("open reader failed", zap.Error(err))
		return nil, err
	}
	r.id = id
	return r, nil
}

// Close deregisters the reader, releases any held block and both filter
// arrays, and returns the context to the pool.
func (r *Reader) Close() error {
	if r == nil {
		return ErrInvalidParameter
	}
	r.qm.DeregisterReader(r.id)
	if r.cur != nil {
		r.qm.CleanupBlock(r.cur)
		r.cur = nil
	}
	r.procFilter.Store(nil)
	r.connFilter.Store(nil)
	releaseContext(r)
	return nil
}

// ID returns the reader identity issued by the queue manager.
func (r *Reader) ID() queue.ReaderID {
	return r.id
}

// reset zero-initializes a pooled context before reuse.
func (r *Reader) reset() {
	r.qm = nil
	r.id = 0
	r.log = nil
	r.snapLength = 0
	r.snapLengthPad = 0
	r.restartState = restartInit
	r.restartRequested.Store(false)
	r.cur = nil
	r.curOffset = 0
	r.procFilter.Store(nil)
	r.connFilter.Store(nil)
	r.overlay = overlay{}
}
