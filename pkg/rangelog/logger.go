// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

package rangelog

import (
	"context"
	"errors"
	"fmt"

	"github.com/cvra/canlink/pkg/reassembly"
	"github.com/cvra/canlink/pkg/uavcan"
	"github.com/rs/zerolog"
)

// ErrSinkWrite wraps errors returned by the sink
var ErrSinkWrite = errors.New("sink write failed")

// Receiver yields reassembled transfers, see uavcan.Subscriber
type Receiver interface {
	Receive(ctx context.Context) (uavcan.Transfer, error)
}

// Stats counts what the logger did with incoming transfers
type Stats struct {
	Received int // records handed to the sink
	Filtered int // records from other anchors
	Dropped  int // corrupt or undecodable transfers
}

// Logger feeds range records from a receiver into a sink
type Logger struct {
	rx     Receiver
	sink   Sink
	anchor uint16
	log    zerolog.Logger
	stats  Stats
}

// LoggerOption configures a Logger
type LoggerOption func(*Logger)

// WithAnchor keeps only ranges measured against anchor. Zero accepts all.
func WithAnchor(anchor uint16) LoggerOption {
	return func(l *Logger) {
		l.anchor = anchor
	}
}

// WithLogger sets the logger used for dropped transfers
func WithLogger(log zerolog.Logger) LoggerOption {
	return func(l *Logger) {
		l.log = log
	}
}

// NewLogger creates a range logger
func NewLogger(rx Receiver, sink Sink, opts ...LoggerOption) *Logger {
	l := &Logger{
		rx:   rx,
		sink: sink,
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run receives ranges until ctx is cancelled, the bus fails or the sink fails.
// Cancellation is not an error. Corrupt transfers are logged and skipped.
func (l *Logger) Run(ctx context.Context) error {
	for {
		t, err := l.rx.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isTransferError(err) {
				l.stats.Dropped++
				l.log.Warn().Err(err).Msg("Dropping transfer")
				continue
			}
			return err
		}

		rec, err := FromTransfer(t)
		if err != nil {
			l.stats.Dropped++
			l.log.Warn().Err(err).Uint8("source", t.Source).Msg("Dropping undecodable range")
			continue
		}

		if l.anchor != 0 && rec.AnchorAddr != l.anchor {
			l.stats.Filtered++
			continue
		}

		if err := l.sink.Write(rec); err != nil {
			return fmt.Errorf("%w: %w", ErrSinkWrite, err)
		}
		l.stats.Received++
	}
}

// Stats returns counters accumulated by Run. Not safe to call concurrently with Run.
func (l *Logger) Stats() Stats {
	return l.stats
}

func isTransferError(err error) bool {
	return errors.Is(err, uavcan.ErrCRCMismatch) ||
		errors.Is(err, uavcan.ErrShortTransfer) ||
		errors.Is(err, reassembly.ErrDatagramTooLarge)
}
