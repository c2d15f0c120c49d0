// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package pcapng

import (
	"encoding/binary"
	"fmt"
)

// Block type codes for the blocks the queue produces.
const (
	BlockTypeSectionHeader = 0x0A0D0D0A
	BlockTypeInterfaceDesc = 0x00000001
	BlockTypePacket        = 0x00000006 // enhanced packet block
)

// ByteOrderMagic identifies a little-endian section header.
const ByteOrderMagic = 0x1A2B3C4D

// HeaderSize is the fixed size of an enhanced packet block header up to
// and including the original length field.
const HeaderSize = 28

// FooterSize is the trailing block length field.
const FooterSize = 4

// PacketHeader is the fixed leading portion of an enhanced packet block.
type PacketHeader struct {
	BlockType      uint32
	BlockLength    uint32
	InterfaceID    uint32
	TimestampHigh  uint32
	TimestampLow   uint32
	CapturedLength uint32
	OriginalLength uint32
}

// PacketFooter is the trailing block length field of any block.
type PacketFooter struct {
	BlockLength uint32
}

// Align rounds n up to the pcapng 4-byte boundary.
func Align(n uint32) uint32 {
	return (n + 3) &^ 3
}

// Pad returns the number of padding bytes needed after n payload bytes.
func Pad(n uint32) uint32 {
	return Align(n) - n
}

// Marshal encodes the header into a 28-byte little-endian slice.
func (h *PacketHeader) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	h.MarshalTo(buf)
	return buf
}

// MarshalTo encodes the header into buf, which must hold HeaderSize bytes.
func (h *PacketHeader) MarshalTo(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.BlockType)
	binary.LittleEndian.PutUint32(buf[4:8], h.BlockLength)
	binary.LittleEndian.PutUint32(buf[8:12], h.InterfaceID)
	binary.LittleEndian.PutUint32(buf[12:16], h.TimestampHigh)
	binary.LittleEndian.PutUint32(buf[16:20], h.TimestampLow)
	binary.LittleEndian.PutUint32(buf[20:24], h.CapturedLength)
	binary.LittleEndian.PutUint32(buf[24:28], h.OriginalLength)
}

// ParsePacketHeader decodes the leading packet header from buf.
func ParsePacketHeader(buf []byte) (PacketHeader, error) {
	if len(buf) < HeaderSize {
		return PacketHeader{}, fmt.Errorf("packet header truncated: %d < %d", len(buf), HeaderSize)
	}
	return PacketHeader{
		BlockType:      binary.LittleEndian.Uint32(buf[0:4]),
		BlockLength:    binary.LittleEndian.Uint32(buf[4:8]),
		InterfaceID:    binary.LittleEndian.Uint32(buf[8:12]),
		TimestampHigh:  binary.LittleEndian.Uint32(buf[12:16]),
		TimestampLow:   binary.LittleEndian.Uint32(buf[16:20]),
		CapturedLength: binary.LittleEndian.Uint32(buf[20:24]),
		OriginalLength: binary.LittleEndian.Uint32(buf[24:28]),
	}, nil
}

// MarshalTo encodes the footer into buf, which must hold FooterSize bytes.
func (f *PacketFooter) MarshalTo(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], f.BlockLength)
}

// ParsePacketFooter decodes a trailing block length field from buf.
func ParsePacketFooter(buf []byte) (PacketFooter, error) {
	if len(buf) < FooterSize {
		return PacketFooter{}, fmt.Errorf("packet footer truncated: %d < %d", len(buf), FooterSize)
	}
	return PacketFooter{BlockLength: binary.LittleEndian.Uint32(buf[0:4])}, nil
}

// BuildPacketBlock assembles a complete enhanced packet block around the
// given payload: header, payload, alignment padding, trailing length.
func BuildPacketBlock(ifaceID, tsHigh, tsLow uint32, payload []byte, originalLength uint32) []byte {
	capLen := uint32(len(payload))
	total := HeaderSize + Align(capLen) + FooterSize

	hdr := PacketHeader{
		BlockType:      BlockTypePacket,
		BlockLength:    total,
		InterfaceID:    ifaceID,
		TimestampHigh:  tsHigh,
		TimestampLow:   tsLow,
		CapturedLength: capLen,
		OriginalLength: originalLength,
	}

	buf := make([]byte, total)
	hdr.MarshalTo(buf)
	copy(buf[HeaderSize:], payload)
	ftr := PacketFooter{BlockLength: total}
	ftr.MarshalTo(buf[total-FooterSize:])
	return buf
}

// BuildSectionHeaderBlock assembles a minimal little-endian section header
// block (no options).
func BuildSectionHeaderBlock() []byte {
	const total = 28
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], BlockTypeSectionHeader)
	binary.LittleEndian.PutUint32(buf[4:8], total)
	binary.LittleEndian.PutUint32(buf[8:12], ByteOrderMagic)
	binary.LittleEndian.PutUint16(buf[12:14], 1) // major version
	binary.LittleEndian.PutUint16(buf[14:16], 0) // minor version
	// Section length unknown
	binary.LittleEndian.PutUint64(buf[16:24], 0xFFFFFFFFFFFFFFFF)
	binary.LittleEndian.PutUint32(buf[24:28], total)
	return buf
}

// BuildInterfaceDescBlock assembles a minimal interface description block
// for the given link type and snap length (no options).
func BuildInterfaceDescBlock(linkType uint16, snapLength uint32) []byte {
	const total = 20
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], BlockTypeInterfaceDesc)
	binary.LittleEndian.PutUint32(buf[4:8], total)
	binary.LittleEndian.PutUint16(buf[8:10], linkType)
	binary.LittleEndian.PutUint32(buf[12:16], snapLength)
	binary.LittleEndian.PutUint32(buf[16:20], total)
	return buf
}
