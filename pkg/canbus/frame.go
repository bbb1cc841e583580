// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

// Package canbus provides CAN frame types and bus backends (SocketCAN,
// SLCAN serial adapters and a WebSocket bridge) behind a single Bus interface.
package canbus

import (
	"fmt"
	"strings"
	"time"
)

// Frame size limits
const (
	MaxDataLength = 8
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
)

// Linux SocketCAN flag bits carried in the upper bits of can_id
const (
	flagExtended = 0x80000000
	flagRemote   = 0x40000000
	flagError    = 0x20000000
)

// Frame represents a classic CAN frame
type Frame struct {
	ID        uint32 // 11 or 29 bit identifier, without flag bits
	Extended  bool
	Remote    bool
	Length    uint8
	Data      [MaxDataLength]byte
	Timestamp time.Time
}

// NewFrame builds a data frame, validating the identifier and payload length
func NewFrame(id uint32, extended bool, data []byte) (Frame, error) {
	if len(data) > MaxDataLength {
		return Frame{}, fmt.Errorf("frame data too long: %d bytes (max %d)", len(data), MaxDataLength)
	}
	if extended && id > MaxExtendedID {
		return Frame{}, fmt.Errorf("extended ID out of range: 0x%X", id)
	}
	if !extended && id > MaxStandardID {
		return Frame{}, fmt.Errorf("standard ID out of range: 0x%X", id)
	}

	f := Frame{ID: id, Extended: extended, Length: uint8(len(data))}
	copy(f.Data[:], data)
	return f, nil
}

// MustFrame is like NewFrame but panics on invalid input
func MustFrame(id uint32, extended bool, data []byte) Frame {
	f, err := NewFrame(id, extended, data)
	if err != nil {
		panic(fmt.Sprintf("canbus: %v", err))
	}
	return f
}

// Payload returns the used part of the data field
func (f Frame) Payload() []byte {
	n := int(f.Length)
	if n > MaxDataLength {
		n = MaxDataLength
	}
	return f.Data[:n]
}

// String returns a compact candump-like representation
func (f Frame) String() string {
	var sb strings.Builder
	if f.Extended {
		fmt.Fprintf(&sb, "%08X", f.ID)
	} else {
		fmt.Fprintf(&sb, "%03X", f.ID)
	}
	if f.Remote {
		fmt.Fprintf(&sb, "#R%d", f.Length)
		return sb.String()
	}
	sb.WriteString("#")
	for _, b := range f.Payload() {
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
