// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

package datagram

import (
	"context"
	"fmt"

	"github.com/cvra/canlink/pkg/canbus"
	"github.com/cvra/canlink/pkg/reassembly"
)

// ToFrames cuts an encoded datagram into CAN frames sent from source
func ToFrames(encoded []byte, source uint8) []canbus.Frame {
	frames := make([]canbus.Frame, 0, (len(encoded)+canbus.MaxDataLength-1)/canbus.MaxDataLength)
	id := uint32(source&SourceMask) | StartOfDatagramMask

	for len(encoded) > 0 {
		n := min(len(encoded), canbus.MaxDataLength)
		frames = append(frames, canbus.MustFrame(id, false, encoded[:n]))
		encoded = encoded[n:]
		// Only the first frame carries the start flag
		id &^= StartOfDatagramMask
	}

	return frames
}

// Write encodes data for destinations and sends it from source
func Write(ctx context.Context, bus canbus.Bus, data []byte, destinations []uint8, source uint8) error {
	for _, f := range ToFrames(Encode(data, destinations), source) {
		if err := bus.Send(ctx, f); err != nil {
			return fmt.Errorf("failed to send datagram frame: %w", err)
		}
	}
	return nil
}

// FrameSource adapts a CAN bus to the reassembler, keeping only standard data frames
type FrameSource struct {
	bus canbus.Bus
}

// NewFrameSource creates a frame source reading from bus
func NewFrameSource(bus canbus.Bus) *FrameSource {
	return &FrameSource{bus: bus}
}

// NextFrame returns the next datagram frame seen on the bus
func (s *FrameSource) NextFrame(ctx context.Context) (reassembly.Frame, error) {
	for {
		f, err := s.bus.Receive(ctx)
		if err != nil {
			return reassembly.Frame{}, err
		}
		if f.Extended || f.Remote {
			continue
		}
		return FromCAN(f), nil
	}
}

// FromCAN maps a standard CAN frame to a reassembly frame
func FromCAN(f canbus.Frame) reassembly.Frame {
	return reassembly.Frame{
		Source: uint8(f.ID & SourceMask),
		Seq: reassembly.SequenceInfo{
			Start: f.ID&StartOfDatagramMask != 0,
		},
		Data:      append([]byte(nil), f.Payload()...),
		Timestamp: f.Timestamp,
	}
}
