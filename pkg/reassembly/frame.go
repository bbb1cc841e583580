// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

package reassembly

import (
	"context"
	"time"
)

// MaxChunkSize is the largest payload a single frame may carry
const MaxChunkSize = 8

// SequenceInfo describes where a frame sits inside its datagram
type SequenceInfo struct {
	Start      bool  // First frame of a datagram (optional, first frame implies start)
	End        bool  // Final frame of a datagram
	Toggle     bool  // Alternating bit, informational
	TransferID uint8 // Sender-side transfer counter, informational
}

// Frame is one transport-level unit carrying a chunk of a datagram
type Frame struct {
	Source    uint8
	Seq       SequenceInfo
	Data      []byte
	Timestamp time.Time // receive time; zero means use the reassembler clock
}

// Datagram is a complete message rebuilt from one or more frames of a source
type Datagram struct {
	Source    uint8
	Payload   []byte
	Frames    int
	StartedAt time.Time
}

// FrameSource yields inbound frames one at a time.
// NextFrame blocks until a frame is available or ctx is done.
type FrameSource interface {
	NextFrame(ctx context.Context) (Frame, error)
}

// FrameSourceFunc adapts a plain function to FrameSource
type FrameSourceFunc func(ctx context.Context) (Frame, error)

// NextFrame calls f(ctx)
func (f FrameSourceFunc) NextFrame(ctx context.Context) (Frame, error) {
	return f(ctx)
}
