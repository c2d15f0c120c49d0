// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package queue

import "encoding/binary"

// StatisticsSize is the fixed wire size of an encoded Statistics value.
const StatisticsSize = 56

// Statistics combines process-wide queue counters with the counters of the
// reader that requested them.
type Statistics struct {
	// Global counters.
	CapturedBlocks    uint64 // blocks offered to the queue
	EnqueuedBlocks    uint64 // per-reader copies placed on queues
	DroppedBlocks     uint64 // copies lost to full queues or pool pressure
	RegisteredReaders uint32
	OpenConnections   uint32

	// Per-reader counters.
	ReaderBlocks  uint64 // blocks delivered to the reader's queue
	ReaderBytes   uint64 // bytes of those blocks
	ReaderDropped uint64 // blocks dropped for this reader
}

// MarshalTo encodes the statistics into buf, which must hold
// StatisticsSize bytes, little-endian.
func (s *Statistics) MarshalTo(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], s.CapturedBlocks)
	binary.LittleEndian.PutUint64(buf[8:16], s.EnqueuedBlocks)
	binary.LittleEndian.PutUint64(buf[16:24], s.DroppedBlocks)
	binary.LittleEndian.PutUint32(buf[24:28], s.RegisteredReaders)
	binary.LittleEndian.PutUint32(buf[28:32], s.OpenConnections)
	binary.LittleEndian.PutUint64(buf[32:40], s.ReaderBlocks)
	binary.LittleEndian.PutUint64(buf[40:48], s.ReaderBytes)
	binary.LittleEndian.PutUint64(buf[48:56], s.ReaderDropped)
}

// UnmarshalStatistics decodes an encoded Statistics value.
func UnmarshalStatistics(buf []byte) Statistics {
	return Statistics{
		CapturedBlocks:    binary.LittleEndian.Uint64(buf[0:8]),
		EnqueuedBlocks:    binary.LittleEndian.Uint64(buf[8:16]),
		DroppedBlocks:     binary.LittleEndian.Uint64(buf[16:24]),
		RegisteredReaders: binary.LittleEndian.Uint32(buf[24:28]),
		OpenConnections:   binary.LittleEndian.Uint32(buf[28:32]),
		ReaderBlocks:      binary.LittleEndian.Uint64(buf[32:40]),
		ReaderBytes:       binary.LittleEndian.Uint64(buf[40:48]),
		ReaderDropped:     binary.LittleEndian.Uint64(buf[48:56]),
	}
}
