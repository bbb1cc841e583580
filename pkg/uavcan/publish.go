// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

package uavcan

import (
	"context"
	"fmt"

	"github.com/cvra/canlink/pkg/canbus"
	"github.com/cvra/canlink/pkg/reassembly"
)

// EncodeTransfer splits a message into frames, adding the transfer CRC
// when the payload does not fit in a single frame.
func EncodeTransfer(priority uint8, dataTypeID uint16, source, transferID uint8, signature uint64, payload []byte) []canbus.Frame {
	id := MessageID(priority, dataTypeID, source)
	tid := transferID & TransferIDMask

	if len(payload) <= maxFramePayload {
		data := append(append([]byte(nil), payload...),
			TailByte(reassembly.SequenceInfo{Start: true, End: true, TransferID: tid}))
		return []canbus.Frame{canbus.MustFrame(id, true, data)}
	}

	crc := TransferCRC(signature, payload)
	body := make([]byte, 0, len(payload)+2)
	body = append(body, byte(crc), byte(crc>>8))
	body = append(body, payload...)

	frames := make([]canbus.Frame, 0, (len(body)+maxFramePayload-1)/maxFramePayload)
	toggle := false
	for i := 0; i < len(body); i += maxFramePayload {
		end := min(i+maxFramePayload, len(body))
		seq := reassembly.SequenceInfo{
			Start:      i == 0,
			End:        end == len(body),
			Toggle:     toggle,
			TransferID: tid,
		}
		data := append(append([]byte(nil), body[i:end]...), TailByte(seq))
		frames = append(frames, canbus.MustFrame(id, true, data))
		toggle = !toggle
	}
	return frames
}

// Publisher broadcasts messages of one data type, keeping the transfer ID counter
type Publisher struct {
	bus        canbus.Bus
	source     uint8
	priority   uint8
	dataTypeID uint16
	signature  uint64
	transferID uint8
}

// NewPublisher creates a publisher sending from node source
func NewPublisher(bus canbus.Bus, source uint8, priority uint8, dataTypeID uint16, signature uint64) *Publisher {
	return &Publisher{
		bus:        bus,
		source:     source,
		priority:   priority,
		dataTypeID: dataTypeID,
		signature:  signature,
	}
}

// Publish sends one message and advances the transfer ID
func (p *Publisher) Publish(ctx context.Context, payload []byte) error {
	frames := EncodeTransfer(p.priority, p.dataTypeID, p.source, p.transferID, p.signature, payload)
	p.transferID = (p.transferID + 1) & TransferIDMask

	for _, f := range frames {
		if err := p.bus.Send(ctx, f); err != nil {
			return fmt.Errorf("failed to send transfer frame: %w", err)
		}
	}
	return nil
}
