// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package queue

// Kind distinguishes packet blocks, which are subject to filtering and
// snap-length truncation, from every other block type.
type Kind int

const (
	KindOther Kind = iota
	KindPacket
)

// Block is one capture block queued for delivery. A block is owned by the
// manager until dequeued, then exclusively by the dequeuing reader until
// released via CleanupBlock.
type Block struct {
	Kind Kind

	// Data is the complete encoded block. Readers must treat it as
	// read-only; the same bytes may back copies for other readers.
	Data []byte

	// Packet block metadata, zero for other kinds.
	CapturedLength uint32
	ProcessID      uint32
	ConnectionID   uint32

	// backing buffer to return on cleanup, nil for synthesized blocks
	buf []byte
	src *BufferPool
}

// Length returns the total encoded block length in bytes.
func (b *Block) Length() uint32 {
	return uint32(len(b.Data))
}
