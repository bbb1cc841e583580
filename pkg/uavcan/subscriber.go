// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

package uavcan

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cvra/canlink/pkg/canbus"
	"github.com/cvra/canlink/pkg/reassembly"
	"github.com/rs/zerolog"
)

// Transfer errors
var (
	ErrCRCMismatch   = errors.New("transfer CRC mismatch")
	ErrShortTransfer = errors.New("multi-frame transfer shorter than its CRC")
)

// maxTransferSize bounds a single reassembled transfer, v0 payloads stay far below it
const maxTransferSize = 1024

// Transfer is a reassembled message
type Transfer struct {
	Priority   uint8
	DataTypeID uint16
	Source     uint8
	TransferID uint8
	Payload    []byte
	Frames     int
	Timestamp  time.Time
}

// Subscriber receives the transfers of one message data type
type Subscriber struct {
	dataTypeID uint16
	signature  uint64
	src        *frameSource
	r          *reassembly.Reassembler
	log        zerolog.Logger
}

// SubscriberOption configures a Subscriber
type SubscriberOption func(*Subscriber)

// WithSignature enables CRC checking of multi-frame transfers.
// Without a signature the CRC is stripped but not verified.
func WithSignature(signature uint64) SubscriberOption {
	return func(s *Subscriber) {
		s.signature = signature
	}
}

// WithSubscriberLogger sets the logger used for dropped frames
func WithSubscriberLogger(log zerolog.Logger) SubscriberOption {
	return func(s *Subscriber) {
		s.log = log
	}
}

// NewSubscriber listens on bus for messages of the given data type
func NewSubscriber(bus canbus.Bus, dataTypeID uint16, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		dataTypeID: dataTypeID,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.src = &frameSource{
		bus:        bus,
		dataTypeID: dataTypeID,
		last:       make(map[uint8]lastFrame),
		log:        s.log,
	}
	s.r = reassembly.New(s.src, reassembly.WithMaxSize(maxTransferSize))
	return s
}

// Receive blocks until a whole transfer is available. Bus errors are
// returned unchanged, a corrupt transfer yields ErrCRCMismatch and the
// subscriber remains usable.
func (s *Subscriber) Receive(ctx context.Context) (Transfer, error) {
	dg, err := s.r.ReadDatagram(ctx)
	if err != nil {
		return Transfer{}, err
	}

	last := s.src.last[dg.Source]
	t := Transfer{
		Priority:   last.id.Priority,
		DataTypeID: s.dataTypeID,
		Source:     dg.Source,
		TransferID: last.seq.TransferID,
		Payload:    dg.Payload,
		Frames:     dg.Frames,
		Timestamp:  dg.StartedAt,
	}

	if dg.Frames > 1 {
		if len(dg.Payload) < 2 {
			return Transfer{}, fmt.Errorf("transfer from %d: %w", dg.Source, ErrShortTransfer)
		}
		crc := binary.LittleEndian.Uint16(dg.Payload)
		t.Payload = dg.Payload[2:]
		if s.signature != 0 {
			if got := TransferCRC(s.signature, t.Payload); got != crc {
				return Transfer{}, fmt.Errorf("transfer from %d: %w (got 0x%04X, want 0x%04X)",
					dg.Source, ErrCRCMismatch, got, crc)
			}
		}
	}

	return t, nil
}

// Evict drops partial transfers idle for longer than maxAge
func (s *Subscriber) Evict(maxAge time.Duration) int {
	return s.r.Evict(maxAge)
}

type lastFrame struct {
	id  ID
	seq reassembly.SequenceInfo
}

// frameSource filters the bus down to frames of one message type
type frameSource struct {
	bus        canbus.Bus
	dataTypeID uint16
	last       map[uint8]lastFrame
	log        zerolog.Logger
}

func (s *frameSource) NextFrame(ctx context.Context) (reassembly.Frame, error) {
	for {
		f, err := s.bus.Receive(ctx)
		if err != nil {
			return reassembly.Frame{}, err
		}
		if !f.Extended || f.Remote {
			continue
		}

		id := ParseID(f.ID)
		if id.Service || id.DataTypeID != s.dataTypeID {
			continue
		}

		data := f.Payload()
		if len(data) == 0 {
			s.log.Debug().Uint8("source", id.Source).Msg("dropping frame without tail byte")
			continue
		}

		seq := ParseTail(data[len(data)-1])
		s.last[id.Source] = lastFrame{id: id, seq: seq}

		return reassembly.Frame{
			Source:    id.Source,
			Seq:       seq,
			Data:      append([]byte(nil), data[:len(data)-1]...),
			Timestamp: f.Timestamp,
		}, nil
	}
}
