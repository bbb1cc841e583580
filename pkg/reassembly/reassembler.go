// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

package reassembly

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrDatagramTooLarge is returned when a source exceeds the configured maximum size
var ErrDatagramTooLarge = errors.New("datagram exceeds maximum size")

// CompletionFunc reports whether the accumulated bytes already form a whole datagram
type CompletionFunc func(payload []byte) bool

// buffer holds the bytes of one in-flight datagram
type buffer struct {
	data      []byte
	frames    int
	startedAt time.Time
	updatedAt time.Time
}

// BufferInfo is a read-only view of an open reassembly buffer
type BufferInfo struct {
	Source    uint8
	Size      int
	Frames    int
	StartedAt time.Time
	UpdatedAt time.Time
}

// Reassembler turns a stream of frames into datagrams, one buffer per source.
// It is driven by a single caller and is not safe for concurrent use.
type Reassembler struct {
	src      FrameSource
	buffers  map[uint8]*buffer
	complete CompletionFunc
	maxSize  int
	now      func() time.Time
}

// Option configures a Reassembler
type Option func(*Reassembler)

// WithCompletion treats a frame as final when fn reports the buffer complete,
// in addition to frames that carry the End flag.
func WithCompletion(fn CompletionFunc) Option {
	return func(r *Reassembler) {
		r.complete = fn
	}
}

// WithMaxSize bounds the size of a single datagram. Zero means unbounded.
func WithMaxSize(n int) Option {
	return func(r *Reassembler) {
		r.maxSize = n
	}
}

// WithClock overrides the time source used for buffer timestamps
func WithClock(now func() time.Time) Option {
	return func(r *Reassembler) {
		r.now = now
	}
}

// New creates a reassembler reading frames from src
func New(src FrameSource, opts ...Option) *Reassembler {
	r := &Reassembler{
		src:     src,
		buffers: make(map[uint8]*buffer),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReadDatagram blocks until a datagram is complete and returns it.
// Errors from the frame source are returned unchanged. Bytes already
// buffered for other datagrams are kept for later calls.
func (r *Reassembler) ReadDatagram(ctx context.Context) (Datagram, error) {
	for {
		frame, err := r.src.NextFrame(ctx)
		if err != nil {
			return Datagram{}, err
		}

		dg, err := r.Push(frame)
		if err != nil {
			return Datagram{}, err
		}
		if dg != nil {
			return *dg, nil
		}
	}
}

// Push feeds a single frame into its source's buffer.
// Returns the finished datagram, or nil if more frames are expected.
func (r *Reassembler) Push(f Frame) (*Datagram, error) {
	now := r.now()

	buf, ok := r.buffers[f.Source]
	if !ok || f.Seq.Start {
		started := f.Timestamp
		if started.IsZero() {
			started = now
		}
		buf = &buffer{startedAt: started}
		r.buffers[f.Source] = buf
	}

	buf.data = append(buf.data, f.Data...)
	buf.frames++
	buf.updatedAt = now

	if r.maxSize > 0 && len(buf.data) > r.maxSize {
		delete(r.buffers, f.Source)
		return nil, fmt.Errorf("source %d: %w (%d > %d bytes)", f.Source, ErrDatagramTooLarge, len(buf.data), r.maxSize)
	}

	if !f.Seq.End && (r.complete == nil || !r.complete(buf.data)) {
		return nil, nil
	}

	delete(r.buffers, f.Source)
	return &Datagram{
		Source:    f.Source,
		Payload:   buf.data,
		Frames:    buf.frames,
		StartedAt: buf.startedAt,
	}, nil
}

// Pending lists the open buffers, ordered by source
func (r *Reassembler) Pending() []BufferInfo {
	infos := make([]BufferInfo, 0, len(r.buffers))
	for src, buf := range r.buffers {
		infos = append(infos, BufferInfo{
			Source:    src,
			Size:      len(buf.data),
			Frames:    buf.frames,
			StartedAt: buf.startedAt,
			UpdatedAt: buf.updatedAt,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Source < infos[j].Source
	})
	return infos
}

// Evict drops buffers that have not been updated within maxAge.
// Returns the number of buffers removed.
func (r *Reassembler) Evict(maxAge time.Duration) int {
	now := r.now()
	evicted := 0

	for src, buf := range r.buffers {
		if now.Sub(buf.updatedAt) > maxAge {
			delete(r.buffers, src)
			evicted++
		}
	}

	return evicted
}

// Discard drops the open buffer for source, if any
func (r *Reassembler) Discard(source uint8) bool {
	if _, ok := r.buffers[source]; !ok {
		return false
	}
	delete(r.buffers, source)
	return true
}
