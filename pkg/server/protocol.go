package server

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/mbeema/capq/pkg/reader"
)

// Message types of the device protocol.
const (
	MsgOpen    = 1
	MsgRead    = 2
	MsgControl = 3
	MsgClose   = 4
)

// FrameHeaderSize is the fixed size of the binary request/response header.
const FrameHeaderSize = 16

// MaxFramePayload bounds a single request or response payload.
const MaxFramePayload = 1 << 20

// Status codes carried in response frames.
const (
	StatusOK uint32 = iota
	StatusAccessDenied
	StatusInvalidParameter
	StatusInvalidRequest
	StatusBufferTooSmall
	StatusInsufficientResources
	StatusNoSuchPath
	StatusInternal
)

// FrameHeader is the request header: one message per request, answered by
// exactly one response frame on the same connection.
type FrameHeader struct {
	MsgType    uint8
	Code       uint32 // control code for MsgControl
	PayloadLen uint32 // request payload bytes following the header
	OutLen     uint32 // read length or control output capacity
}

// respHeader mirrors FrameHeader for responses: Code carries the status.
func writeResponse(w io.Writer, status uint32, payload []byte) error {
	var hdr [FrameHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[4:8], status)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// readFrame reads one request header and its payload.
func readFrame(r io.Reader) (FrameHeader, []byte, error) {
	var buf [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return FrameHeader{}, nil, err
	}
	hdr := FrameHeader{
		MsgType:    buf[0],
		Code:       binary.LittleEndian.Uint32(buf[4:8]),
		PayloadLen: binary.LittleEndian.Uint32(buf[8:12]),
		OutLen:     binary.LittleEndian.Uint32(buf[12:16]),
	}
	if hdr.PayloadLen > MaxFramePayload || hdr.OutLen > MaxFramePayload {
		return FrameHeader{}, nil, fmt.Errorf("frame too large: in %d out %d", hdr.PayloadLen, hdr.OutLen)
	}

	var payload []byte
	if hdr.PayloadLen > 0 {
		payload = make([]byte, hdr.PayloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return FrameHeader{}, nil, err
		}
	}
	return hdr, payload, nil
}

// statusOf maps core errors onto wire status codes.
func statusOf(err error) uint32 {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, reader.ErrAccessDenied):
		return StatusAccessDenied
	case errors.Is(err, reader.ErrInvalidParameter):
		return StatusInvalidParameter
	case errors.Is(err, reader.ErrInvalidRequest):
		return StatusInvalidRequest
	case errors.Is(err, reader.ErrBufferTooSmall):
		return StatusBufferTooSmall
	case errors.Is(err, reader.ErrInsufficientResources):
		return StatusInsufficientResources
	case errors.Is(err, reader.ErrNoSuchPath):
		return StatusNoSuchPath
	default:
		return StatusInternal
	}
}
