// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

package datagram

import (
	"context"
	"fmt"
	"time"

	"github.com/cvra/canlink/pkg/canbus"
	"github.com/cvra/canlink/pkg/reassembly"
)

// Message is a datagram received from the bus
type Message struct {
	Data         []byte
	Destinations []uint8
	Source       uint8
}

// Reader reads whole datagrams from a CAN bus
type Reader struct {
	r *reassembly.Reassembler
}

// NewReader creates a datagram reader on bus. Extra options are passed to the reassembler.
func NewReader(bus canbus.Bus, opts ...reassembly.Option) *Reader {
	opts = append([]reassembly.Option{reassembly.WithCompletion(IsComplete)}, opts...)
	return &Reader{r: reassembly.New(NewFrameSource(bus), opts...)}
}

// ReadDatagram blocks until a datagram from any source is complete.
// Bus errors are returned unchanged; corrupt datagrams yield a decode error.
func (r *Reader) ReadDatagram(ctx context.Context) (Message, error) {
	dg, err := r.r.ReadDatagram(ctx)
	if err != nil {
		return Message{}, err
	}

	decoded, err := Decode(dg.Payload)
	if err != nil {
		return Message{}, fmt.Errorf("datagram from %d: %w", dg.Source, err)
	}

	return Message{
		Data:         decoded.Data,
		Destinations: decoded.Destinations,
		Source:       dg.Source,
	}, nil
}

// Evict drops partial datagrams idle for longer than maxAge
func (r *Reader) Evict(maxAge time.Duration) int {
	return r.r.Evict(maxAge)
}

// Discard drops the partial datagram of source, if any
func (r *Reader) Discard(source uint8) bool {
	return r.r.Discard(source)
}

// Pending lists partial datagrams currently buffered
func (r *Reader) Pending() []reassembly.BufferInfo {
	return r.r.Pending()
}
