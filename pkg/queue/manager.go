// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package queue

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mbeema/capq/pkg/pcapng"
)

// ErrUnknownReader is returned for operations against an unregistered id.
var ErrUnknownReader = errors.New("unknown reader")

// ErrUnknownDataEvent is returned when a data-event handle has not been
// registered with the manager.
var ErrUnknownDataEvent = errors.New("unknown data event handle")

// ReaderID identifies one registered reader.
type ReaderID uint32

// Notifier is signaled when new data lands on a reader's queue. Signal
// must never block.
type Notifier interface {
	Signal()
}

// ChanNotifier is a channel-backed Notifier for callers that wait in a
// select loop.
type ChanNotifier struct {
	C chan struct{}
}

// NewChanNotifier creates a ready-to-use ChanNotifier.
func NewChanNotifier() *ChanNotifier {
	return &ChanNotifier{C: make(chan struct{}, 1)}
}

// Signal marks the notifier without blocking; a pending signal coalesces.
func (n *ChanNotifier) Signal() {
	select {
	case n.C <- struct{}{}:
	default:
	}
}

// Connection is one entry of the process-wide open connection table.
type Connection struct {
	ID        uint32
	ProcessID uint32
}

// Config sizes the manager's pool and per-reader queues.
type Config struct {
	QueueCapacity int    // blocks buffered per reader
	PoolBuffers   int    // block buffers shared across all readers
	BufferSize    int    // bytes per pooled buffer (max block size)
	LinkType      uint16 // link type advertised in the interface description
}

// DefaultConfig returns the manager sizing used when none is configured.
func DefaultConfig() Config {
	return Config{
		QueueCapacity: 512,
		PoolBuffers:   2048,
		BufferSize:    64 * 1024,
		LinkType:      1, // ethernet
	}
}

type readerState struct {
	id ReaderID

	mu         sync.Mutex
	pending    []*Block
	snapLength uint32
	event      Notifier

	blocks  uint64
	bytes   uint64
	dropped uint64
}

// Manager owns block capture buffering and per-reader delivery queues.
// It implements the collaborator surface the reader core depends on:
// registration, non-blocking dequeue, initial-block snapshots, block
// cleanup, statistics, data events, and the open connection table.
type Manager struct {
	log  *zap.Logger
	pool *BufferPool
	cfg  Config

	mu        sync.RWMutex
	readers   map[ReaderID]*readerState
	nextID    ReaderID
	openConns []Connection
	handles   map[uint64]Notifier
	maxSnap   uint32

	captured atomic.Uint64
	enqueued atomic.Uint64
	dropped  atomic.Uint64
}

// NewManager creates a queue manager with its block buffer pool.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}
	if cfg.PoolBuffers <= 0 {
		cfg.PoolBuffers = DefaultConfig().PoolBuffers
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &Manager{
		log:     logger,
		pool:    NewBufferPool(cfg.PoolBuffers, cfg.BufferSize),
		cfg:     cfg,
		readers: make(map[ReaderID]*readerState),
		handles: make(map[uint64]Notifier),
	}
}

// Close drains the buffer pool. All readers must have been deregistered
// and all blocks released first.
func (m *Manager) Close() error {
	m.mu.Lock()
	n := len(m.readers)
	m.mu.Unlock()
	if n != 0 {
		return fmt.Errorf("queue manager close: %d readers still registered", n)
	}
	return m.pool.Drain()
}

// RegisterReader allocates a delivery queue and returns its identity.
func (m *Manager) RegisterReader() (ReaderID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.readers[id] = &readerState{id: id}
	m.log.Debug("reader registered", zap.Uint32("reader", uint32(id)))
	return id, nil
}

// DeregisterReader removes the reader and releases anything still queued.
func (m *Manager) DeregisterReader(id ReaderID) {
	m.mu.Lock()
	r := m.readers[id]
	delete(m.readers, id)
	m.recomputeMaxSnapLocked()
	m.mu.Unlock()

	if r == nil {
		return
	}
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()
	for _, b := range pending {
		m.CleanupBlock(b)
	}
	m.log.Debug("reader deregistered", zap.Uint32("reader", uint32(id)))
}

// SetReaderSnapLength records a reader's snap length so the capture side
// can recompute the largest capture length any reader still wants.
func (m *Manager) SetReaderSnapLength(id ReaderID, length uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.readers[id]
	if r == nil {
		return
	}
	r.mu.Lock()
	r.snapLength = length
	r.mu.Unlock()
	m.recomputeMaxSnapLocked()
}

// MaxSnapLength returns the largest snap length across readers, where 0
// from any reader means unlimited.
func (m *Manager) MaxSnapLength() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxSnap
}

func (m *Manager) recomputeMaxSnapLocked() {
	var max uint32
	for _, r := range m.readers {
		r.mu.Lock()
		sl := r.snapLength
		r.mu.Unlock()
		if sl == 0 {
			max = 0
			break
		}
		if sl > max {
			max = sl
		}
	}
	m.maxSnap = max
}

// RegisterDataEvent binds a caller-chosen numeric handle to a notifier so
// control operations can select it by value.
func (m *Manager) RegisterDataEvent(handle uint64, n Notifier) {
	m.mu.Lock()
	m.handles[handle] = n
	m.mu.Unlock()
}

// SetReaderDataEvent selects the notifier signaled when new data lands on
// the reader's queue. Handle 0 disables notification.
func (m *Manager) SetReaderDataEvent(id ReaderID, handle uint64) error {
	m.mu.RLock()
	r := m.readers[id]
	n, known := m.handles[handle]
	m.mu.RUnlock()

	if r == nil {
		return ErrUnknownReader
	}
	if handle == 0 {
		n = nil
	} else if !known {
		return ErrUnknownDataEvent
	}

	r.mu.Lock()
	r.event = n
	r.mu.Unlock()
	return nil
}

// DequeueBlock pops the next queued block for the reader, or nil when the
// queue is empty. Never blocks.
func (m *Manager) DequeueBlock(id ReaderID) *Block {
	m.mu.RLock()
	r := m.readers[id]
	m.mu.RUnlock()
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return nil
	}
	b := r.pending[0]
	r.pending[0] = nil
	r.pending = r.pending[1:]
	return b
}

// GetInitialBlocks prepends a fresh stream prologue (section header and
// interface description) to the reader's queue. With destructive set, the
// queued backlog is released first.
func (m *Manager) GetInitialBlocks(id ReaderID, destructive bool) {
	m.mu.RLock()
	r := m.readers[id]
	linkType := m.cfg.LinkType
	m.mu.RUnlock()
	if r == nil {
		return
	}

	prologue := []*Block{
		{Kind: KindOther, Data: pcapng.BuildSectionHeaderBlock()},
		{Kind: KindOther, Data: pcapng.BuildInterfaceDescBlock(linkType, 0)},
	}

	r.mu.Lock()
	var drop []*Block
	if destructive {
		drop = r.pending
		r.pending = nil
	}
	r.pending = append(prologue, r.pending...)
	r.mu.Unlock()

	for _, b := range drop {
		m.CleanupBlock(b)
	}
}

// CleanupBlock releases a block's buffer back to the pool.
func (m *Manager) CleanupBlock(b *Block) {
	if b == nil || b.src == nil {
		return
	}
	b.src.Release(b.buf)
	b.src = nil
	b.buf = nil
	b.Data = nil
}

// SetOpenConnections replaces the process-wide open connection table.
func (m *Manager) SetOpenConnections(table []Connection) {
	conns := make([]Connection, len(table))
	copy(conns, table)

	m.mu.Lock()
	m.openConns = conns
	m.mu.Unlock()
	m.log.Debug("open connection table replaced", zap.Int("connections", len(conns)))
}

// OpenConnections returns a copy of the open connection table.
func (m *Manager) OpenConnections() []Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns := make([]Connection, len(m.openConns))
	copy(conns, m.openConns)
	return conns
}

// GetStatistics combines the global counters with the reader's own.
func (m *Manager) GetStatistics(id ReaderID) Statistics {
	stats := Statistics{
		CapturedBlocks: m.captured.Load(),
		EnqueuedBlocks: m.enqueued.Load(),
		DroppedBlocks:  m.dropped.Load(),
	}

	m.mu.RLock()
	stats.RegisteredReaders = uint32(len(m.readers))
	stats.OpenConnections = uint32(len(m.openConns))
	r := m.readers[id]
	m.mu.RUnlock()

	if r != nil {
		r.mu.Lock()
		stats.ReaderBlocks = r.blocks
		stats.ReaderBytes = r.bytes
		stats.ReaderDropped = r.dropped
		r.mu.Unlock()
	}
	return stats
}

// EnqueuePacket wraps payload in an enhanced packet block and fans it out
// to every registered reader.
func (m *Manager) EnqueuePacket(payload []byte, originalLength, processID, connectionID uint32) {
	now := time.Now().UnixMicro()
	data := pcapng.BuildPacketBlock(0, uint32(uint64(now)>>32), uint32(uint64(now)), payload, originalLength)
	m.fanOut(&Block{
		Kind:           KindPacket,
		Data:           data,
		CapturedLength: uint32(len(payload)),
		ProcessID:      processID,
		ConnectionID:   connectionID,
	})
}

// EnqueueLiteral fans out an already-encoded non-packet block.
func (m *Manager) EnqueueLiteral(data []byte) {
	m.fanOut(&Block{Kind: KindOther, Data: data})
}

// fanOut copies the block once per registered reader, each copy backed by
// a pooled buffer, and signals data events.
func (m *Manager) fanOut(src *Block) {
	m.captured.Add(1)
	if len(src.Data) > m.pool.BufferSize() {
		m.dropped.Add(1)
		m.log.Warn("block exceeds pool buffer size",
			zap.Int("block_length", len(src.Data)),
			zap.Int("buffer_size", m.pool.BufferSize()))
		return
	}

	m.mu.RLock()
	readers := make([]*readerState, 0, len(m.readers))
	for _, r := range m.readers {
		readers = append(readers, r)
	}
	m.mu.RUnlock()

	for _, r := range readers {
		buf, err := m.pool.Acquire()
		if err != nil {
			m.dropped.Add(1)
			r.mu.Lock()
			r.dropped++
			r.mu.Unlock()
			continue
		}
		n := copy(buf, src.Data)
		b := &Block{
			Kind:           src.Kind,
			Data:           buf[:n],
			CapturedLength: src.CapturedLength,
			ProcessID:      src.ProcessID,
			ConnectionID:   src.ConnectionID,
			buf:            buf,
			src:            m.pool,
		}

		r.mu.Lock()
		var event Notifier
		if len(r.pending) >= m.cfg.QueueCapacity {
			r.dropped++
			r.mu.Unlock()
			m.dropped.Add(1)
			m.CleanupBlock(b)
			continue
		}
		r.pending = append(r.pending, b)
		r.blocks++
		r.bytes += uint64(n)
		event = r.event
		r.mu.Unlock()

		m.enqueued.Add(1)
		if event != nil {
			event.Signal()
		}
	}
}
