// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

// Package datagram implements the bootloader datagram protocol carried over
// standard CAN frames.
//
// Wire format (all integers big-endian):
//
//	version (1) | crc32 (4) | destination count (1) | destinations (n) | data length (4) | data
//
// The CRC32 (IEEE) covers everything after the CRC field. On the bus a
// datagram is cut into frames of up to 8 bytes; the low 7 bits of the CAN ID
// carry the sender address and bit 7 marks the first frame.
package datagram

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Protocol constants
const (
	Version = 1

	StartOfDatagramMask = 1 << 7
	SourceMask          = 0x7F

	// MaxAddress is the highest node address on the bus
	MaxAddress = 127

	headerSize = 1 + 4 + 1 // version + crc + destination count
)

// Decoding errors
var (
	ErrInvalidVersion = errors.New("invalid datagram version")
	ErrCRCMismatch    = errors.New("datagram CRC mismatch")
)

// Datagram is a decoded bootloader datagram
type Datagram struct {
	Destinations []uint8
	Data         []byte
}

// Encode serializes data addressed to destinations
func Encode(data []byte, destinations []uint8) []byte {
	body := make([]byte, 0, 1+len(destinations)+4+len(data))
	body = append(body, uint8(len(destinations)))
	body = append(body, destinations...)
	body = binary.BigEndian.AppendUint32(body, uint32(len(data)))
	body = append(body, data...)

	out := make([]byte, 0, 5+len(body))
	out = append(out, Version)
	out = binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(body))
	return append(out, body...)
}

// encodedSize returns the full size of the datagram starting in buf,
// or ok=false when the header has not been received yet.
func encodedSize(buf []byte) (size int, ok bool) {
	if len(buf) < headerSize {
		return 0, false
	}
	lenOffset := headerSize + int(buf[5])
	if len(buf) < lenOffset+4 {
		return 0, false
	}
	dataLen := binary.BigEndian.Uint32(buf[lenOffset : lenOffset+4])
	return lenOffset + 4 + int(dataLen), true
}

// IsComplete reports whether buf holds at least one whole datagram
func IsComplete(buf []byte) bool {
	size, ok := encodedSize(buf)
	return ok && len(buf) >= size
}

// Decode parses a datagram from buf.
// Returns nil without error when buf does not hold a whole datagram yet.
// Bytes past the end of the datagram are ignored.
func Decode(buf []byte) (*Datagram, error) {
	size, ok := encodedSize(buf)
	if !ok || len(buf) < size {
		return nil, nil
	}

	if buf[0] != Version {
		return nil, fmt.Errorf("%w: %d (expected %d)", ErrInvalidVersion, buf[0], Version)
	}

	body := buf[5:size]
	expected := binary.BigEndian.Uint32(buf[1:5])
	if calculated := crc32.ChecksumIEEE(body); calculated != expected {
		return nil, fmt.Errorf("%w: expected 0x%08X, got 0x%08X", ErrCRCMismatch, expected, calculated)
	}

	n := int(body[0])
	dg := &Datagram{
		Destinations: append([]uint8(nil), body[1:1+n]...),
		Data:         append([]byte(nil), body[1+n+4:]...),
	}
	return dg, nil
}
