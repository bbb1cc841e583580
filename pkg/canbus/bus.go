// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

package canbus

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned when using a bus that has been closed
var ErrClosed = errors.New("canbus: bus closed")

// receiveQueueSize bounds the number of frames buffered between the backend and Receive
const receiveQueueSize = 256

// Bus is a bidirectional CAN interface
type Bus interface {
	// Send transmits a frame
	Send(ctx context.Context, f Frame) error
	// Receive blocks until a frame arrives, ctx is done, or the bus fails
	Receive(ctx context.Context) (Frame, error)
	// Close releases the underlying device
	Close() error
}

// feed is the receive side shared by every backend. Backends push frames
// from their own reader goroutine; Receive drains them.
type feed struct {
	frames    chan Frame
	errc      chan error
	done      chan struct{}
	closeOnce sync.Once
}

func newFeed() *feed {
	return &feed{
		frames: make(chan Frame, receiveQueueSize),
		errc:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// push queues a frame, blocking while the queue is full.
// Returns false once the feed has been closed.
func (q *feed) push(f Frame) bool {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	select {
	case q.frames <- f:
		return true
	case <-q.done:
		return false
	}
}

// fail records a terminal backend error; only the first one is kept
func (q *feed) fail(err error) {
	select {
	case q.errc <- err:
	default:
	}
}

func (q *feed) receive(ctx context.Context) (Frame, error) {
	// Deliver queued frames before reporting a failure
	select {
	case f := <-q.frames:
		return f, nil
	default:
	}

	select {
	case f := <-q.frames:
		return f, nil
	case err := <-q.errc:
		// Keep the error visible for subsequent calls
		q.fail(err)
		return Frame{}, err
	case <-q.done:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (q *feed) closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

func (q *feed) close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// pipeEnd is one side of an in-memory bus pair
type pipeEnd struct {
	in   *feed
	peer *feed
}

// NewPipe returns two connected buses: frames sent on one are received on the other
func NewPipe() (Bus, Bus) {
	a, b := newFeed(), newFeed()
	return &pipeEnd{in: a, peer: b}, &pipeEnd{in: b, peer: a}
}

func (p *pipeEnd) Send(ctx context.Context, f Frame) error {
	if p.in.closed() || p.peer.closed() {
		return ErrClosed
	}
	select {
	case p.peer.frames <- f:
		return nil
	case <-p.peer.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Receive(ctx context.Context) (Frame, error) {
	return p.in.receive(ctx)
}

func (p *pipeEnd) Close() error {
	p.in.close()
	return nil
}
