// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package reader

import (
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/mbeema/capq/pkg/pcapng"
	"github.com/mbeema/capq/pkg/queue"
)

// Op enumerates the control operations.
type Op uint32

const (
	OpRestart Op = iota
	OpFilterConnections
	OpFilterProcesses
	OpSetSnapLength
	OpGetSnapLength
	OpSetDataEvent
	OpSetOpenConnections
	OpGetStatistics
	opCount
)

// Control codes pack the operation into bits 2-11 and the wide
// calling-convention flag into bit 12.
const (
	opShift   = 2
	opMask    = 0x0FFC
	widthFlag = 0x1000
)

// Code builds the wire control code for an operation. wide selects the
// 64-bit calling-convention variant.
func Code(op Op, wide bool) uint32 {
	code := uint32(op) << opShift
	if wide {
		code |= widthFlag
	}
	return code
}

func splitCode(code uint32) (Op, bool) {
	return Op((code & opMask) >> opShift), code&widthFlag != 0
}

// ioctlParams holds the required input/output byte lengths for one
// operation, per calling-convention width.
type ioctlParams struct {
	in32, out32 uint32
	in64, out64 uint32
}

// ioctlParamsTable order matches the Op enumeration exactly, one entry
// per code, no gaps.
var ioctlParamsTable = [opCount]ioctlParams{
	OpRestart:            {0, 0, 0, 0},
	OpFilterConnections:  {0, 0, 0, 0},
	OpFilterProcesses:    {0, 0, 0, 0},
	OpSetSnapLength:      {4, 0, 4, 0},
	OpGetSnapLength:      {0, 4, 0, 4},
	OpSetDataEvent:       {4, 0, 8, 0},
	OpSetOpenConnections: {4, 0, 4, 0},
	OpGetStatistics:      {0, queue.StatisticsSize, 0, queue.StatisticsSize},
}

// wideHandles reports whether this build can hold a 64-bit handle value.
const wideHandles = ^uintptr(0)>>32 != 0

// Control validates a control request against the params table and
// executes it synchronously. It returns the number of bytes written to
// out, which is nonzero only for output-bearing operations.
func (r *Reader) Control(code uint32, in, out []byte) (int, error) {
	if r == nil {
		return 0, ErrInvalidParameter
	}

	op, wide := splitCode(code)
	if op >= opCount {
		return 0, ErrInvalidRequest
	}
	params := ioctlParamsTable[op]
	inReq, outReq := params.in32, params.out32
	if wide {
		inReq, outReq = params.in64, params.out64
	}
	// An absent buffer has length 0, so a nil in or out with a nonzero
	// requirement fails here as well.
	if uint32(len(in)) < inReq || uint32(len(out)) < outReq {
		return 0, ErrBufferTooSmall
	}

	r.log.Debug("control request",
		zap.Uint32("code", code),
		zap.Int("input_len", len(in)),
		zap.Int("output_len", len(out)))

	switch op {
	case OpRestart:
		r.restartRequested.Store(true)
		r.log.Debug("restarting reader", zap.Uint32("reader", uint32(r.id)))
		return 0, nil

	case OpFilterConnections:
		r.setIDList(connectionIDList, in)
		return 0, nil

	case OpFilterProcesses:
		r.setIDList(processIDList, in)
		return 0, nil

	case OpSetSnapLength:
		snapLength := binary.LittleEndian.Uint32(in)
		if r.snapLength != snapLength {
			// The queue manager tracks the largest snap length any
			// reader still wants, so it must hear about the change.
			r.snapLength = snapLength
			r.snapLengthPad = pcapng.Pad(snapLength)
			r.qm.SetReaderSnapLength(r.id, snapLength)
		}
		r.log.Debug("set snap length",
			zap.Uint32("snap_length", snapLength),
			zap.Uint32("reader", uint32(r.id)))
		return 0, nil

	case OpGetSnapLength:
		binary.LittleEndian.PutUint32(out, r.snapLength)
		return int(outReq), nil

	case OpSetDataEvent:
		var handle uint64
		if wide {
			if !wideHandles {
				return 0, ErrInvalidRequest
			}
			handle = binary.LittleEndian.Uint64(in)
		} else {
			handle = uint64(binary.LittleEndian.Uint32(in))
		}
		if err := r.qm.SetReaderDataEvent(r.id, handle); err != nil {
			return 0, err
		}
		verb := "enabling"
		if handle == 0 {
			verb = "disabling"
		}
		r.log.Debug(verb+" data notification", zap.Uint32("reader", uint32(r.id)))
		return 0, nil

	case OpSetOpenConnections:
		table, err := parseConnectionTable(in)
		if err != nil {
			return 0, err
		}
		r.qm.SetOpenConnections(table)
		return 0, nil

	case OpGetStatistics:
		stats := r.qm.GetStatistics(r.id)
		stats.MarshalTo(out)
		return int(outReq), nil
	}

	return 0, ErrInvalidRequest
}

// parseConnectionTable decodes the process-wide connection table: a u32
// count followed by (connection id, process id) u32 pairs.
func parseConnectionTable(in []byte) ([]queue.Connection, error) {
	count := binary.LittleEndian.Uint32(in)
	// Size math in uint64: count*8 would wrap uint32 for counts past
	// 0x1FFFFFFF and let the decode loop run off the input.
	if uint64(len(in)) < 4+uint64(count)*8 {
		return nil, ErrInvalidParameter
	}
	table := make([]queue.Connection, count)
	for i := uint32(0); i < count; i++ {
		off := 4 + i*8
		table[i] = queue.Connection{
			ID:        binary.LittleEndian.Uint32(in[off:]),
			ProcessID: binary.LittleEndian.Uint32(in[off+4:]),
		}
	}
	return table, nil
}
