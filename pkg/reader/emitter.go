// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package reader

import (
	"go.uber.org/zap"

	"github.com/mbeema/capq/pkg/pcapng"
	"github.com/mbeema/capq/pkg/queue"
)

const (
	headerSize = pcapng.HeaderSize
	footerSize = pcapng.FooterSize
)

// Read fills dst with as many bytes of the reader's logical stream as are
// immediately available: the concatenation, in dequeue order, of every
// non-suppressed, possibly truncated block. It never blocks; an empty
// queue, a fully suppressed batch, or a restart boundary all surface as a
// short or zero-length read, not an error.
//
// A zero-length read is the block-boundary marker of the restart
// handshake. The stream has no end while the handle is open.
func (r *Reader) Read(dst []byte) (int, error) {
	if r == nil {
		return 0, ErrInvalidParameter
	}
	if dst == nil {
		return 0, ErrInvalidParameter
	}

	switch r.restartState {
	case restartSendEof:
		// Zero bytes tells the consumer it is at a block boundary.
		r.restartState = restartInit
		return 0, nil
	case restartInit:
		r.qm.GetInitialBlocks(r.id, false)
		r.restartState = restartNormal
	}

	readLength := uint32(len(dst))
	readOffset := uint32(0)
	block := r.cur
	blockOffset := r.curOffset

	for readOffset < readLength {
		if block == nil {
			// Handle a restart request now that we're at a block
			// boundary. If bytes already went out this call, defer the
			// boundary marker to the next read so no record is split.
			if r.restartRequested.CompareAndSwap(true, false) {
				if readOffset > 0 {
					r.restartState = restartSendEof
				} else {
					r.restartState = restartInit
				}
				break
			}

			block = r.qm.DequeueBlock(r.id)
			blockOffset = 0
			if block == nil {
				break // no more blocks
			}
			r.overlay.active = false

			if block.Kind == queue.KindPacket {
				if r.filterBlock(block) {
					r.log.Debug("suppressing packet block",
						zap.Uint32("process", block.ProcessID),
						zap.Uint32("connection", block.ConnectionID))
					r.qm.CleanupBlock(block)
					block = nil
					continue
				}
				if r.snapLength != 0 && block.CapturedLength > r.snapLength {
					r.buildOverlay(block)
				}
			}
		}

		data := block.Data
		blockLength := block.Length()

		if r.overlay.active {
			// Rewritten packet header.
			if blockOffset < headerSize {
				n := minU32(readLength-readOffset, headerSize-blockOffset)
				copy(dst[readOffset:], r.overlay.header[blockOffset:blockOffset+n])
				readOffset += n
				blockOffset += n
			}

			// Retained payload, straight from the original buffer.
			if blockOffset >= headerSize && blockOffset < r.overlay.dataEnd &&
				readOffset < readLength {
				n := minU32(readLength-readOffset, r.overlay.dataEnd-blockOffset)
				copy(dst[readOffset:], data[blockOffset:blockOffset+n])
				readOffset += n
				blockOffset += n
			}

			// Alignment padding for the truncated payload.
			if blockOffset >= r.overlay.dataEnd && blockOffset < r.overlay.originalFooterStart &&
				readOffset < readLength {
				n := minU32(readLength-readOffset, r.overlay.modifiedFooterStart-blockOffset)
				zero(dst[readOffset : readOffset+n])
				readOffset += n
				blockOffset += n

				// Skip the dropped remainder of the payload.
				if blockOffset >= r.overlay.modifiedFooterStart {
					blockOffset = r.overlay.originalFooterStart
				}
			}

			// Rewritten packet footer.
			if blockOffset >= r.overlay.originalFooterStart && readOffset < readLength {
				n := minU32(readLength-readOffset, blockLength-blockOffset)
				copy(dst[readOffset:],
					r.overlay.footer[blockOffset-r.overlay.originalFooterStart:])
				readOffset += n
				blockOffset += n
			}
		} else {
			n := minU32(readLength-readOffset, blockLength-blockOffset)
			copy(dst[readOffset:], data[blockOffset:blockOffset+n])
			readOffset += n
			blockOffset += n
		}

		if blockOffset >= blockLength {
			r.qm.CleanupBlock(block)
			block = nil
			blockOffset = 0
		}
	}

	// The next call must resume at exactly this cursor, with the same
	// overlay state.
	r.cur = block
	r.curOffset = blockOffset
	return int(readOffset), nil
}

// buildOverlay prepares the truncated view of a packet block whose
// captured length exceeds the snap length. The source buffer is shared
// with other readers and is never modified; the rewritten header and
// footer live in reader-local scratch.
func (r *Reader) buildOverlay(b *queue.Block) {
	hdr, err := pcapng.ParsePacketHeader(b.Data)
	if err != nil {
		return // malformed block streams verbatim
	}

	r.overlay.dataEnd = headerSize + r.snapLength
	r.overlay.modifiedFooterStart = r.overlay.dataEnd + r.snapLengthPad
	r.overlay.originalFooterStart = hdr.BlockLength - footerSize

	copy(r.overlay.header[:], b.Data[:headerSize])
	copy(r.overlay.footer[:], b.Data[r.overlay.originalFooterStart:r.overlay.originalFooterStart+footerSize])

	newTotal := r.overlay.modifiedFooterStart + footerSize
	hdr.BlockLength = newTotal
	hdr.CapturedLength = r.snapLength
	hdr.MarshalTo(r.overlay.header[:])
	ftr := pcapng.PacketFooter{BlockLength: newTotal}
	ftr.MarshalTo(r.overlay.footer[:])

	r.overlay.active = true
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
