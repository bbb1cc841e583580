// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

package uavcan

import "github.com/cvra/canlink/pkg/reassembly"

// Tail byte bits
const (
	TailStart      = 0x80
	TailEnd        = 0x40
	TailToggle     = 0x20
	TransferIDMask = 0x1F
)

// maxFramePayload is the number of payload bytes before the tail byte
const maxFramePayload = 7

// ParseTail decodes the last byte of a frame
func ParseTail(b byte) reassembly.SequenceInfo {
	return reassembly.SequenceInfo{
		Start:      b&TailStart != 0,
		End:        b&TailEnd != 0,
		Toggle:     b&TailToggle != 0,
		TransferID: b & TransferIDMask,
	}
}

// TailByte encodes seq as a tail byte
func TailByte(seq reassembly.SequenceInfo) byte {
	b := seq.TransferID & TransferIDMask
	if seq.Start {
		b |= TailStart
	}
	if seq.End {
		b |= TailEnd
	}
	if seq.Toggle {
		b |= TailToggle
	}
	return b
}
