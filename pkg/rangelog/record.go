// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

// Package rangelog receives beacon range measurements and hands them to sinks
// (console, CSV file, MQTT broker).
package rangelog

import (
	"errors"
	"time"

	"github.com/cvra/canlink/pkg/uavcan"
)

// Record is one range measurement as received from the bus
type Record struct {
	Timestamp  uint64 // beacon clock, microseconds
	AnchorAddr uint16
	Range      float32 // meters
	Source     uint8   // node that published the measurement
	Received   time.Time
}

// FromTransfer decodes a RadioRange transfer
func FromTransfer(t uavcan.Transfer) (Record, error) {
	var msg uavcan.RadioRange
	if err := msg.UnmarshalBinary(t.Payload); err != nil {
		return Record{}, err
	}
	received := t.Timestamp
	if received.IsZero() {
		received = time.Now()
	}
	return Record{
		Timestamp:  msg.Timestamp,
		AnchorAddr: msg.AnchorAddr,
		Range:      msg.Range,
		Source:     t.Source,
		Received:   received,
	}, nil
}

// Sink consumes range records
type Sink interface {
	Write(r Record) error
	Close() error
}

// SinkFunc adapts a function to a Sink with a no-op Close
type SinkFunc func(r Record) error

// Write implements Sink
func (f SinkFunc) Write(r Record) error { return f(r) }

// Close implements Sink
func (f SinkFunc) Close() error { return nil }

// MultiSink writes every record to all of its sinks
type MultiSink []Sink

// Write implements Sink. All sinks are attempted even if one fails.
func (m MultiSink) Write(r Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink
func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
