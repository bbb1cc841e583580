// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

package canbus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// SLCAN (Lawicel) line protocol bytes
const (
	slcanCR   = '\r'
	slcanBell = 0x07

	// MaxSLCANLineSize is the longest valid line: T + 8 id + 1 dlc + 16 data + 4 timestamp
	MaxSLCANLineSize = 30
)

// slcanBitrates maps bus bitrates to the Sn setup command
var slcanBitrates = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// SLCANDecoder turns a stream of SLCAN bytes into frames, one byte at a time
type SLCANDecoder struct {
	line     []byte
	overflow bool
}

// NewSLCANDecoder creates a new SLCAN line decoder
func NewSLCANDecoder() *SLCANDecoder {
	return &SLCANDecoder{line: make([]byte, 0, MaxSLCANLineSize)}
}

// Reset discards any partially received line
func (d *SLCANDecoder) Reset() {
	d.line = d.line[:0]
	d.overflow = false
}

// DecodeByte processes a single byte.
// Returns a frame when a frame line is complete, nil otherwise.
// Returns an error for malformed lines or adapter error replies.
func (d *SLCANDecoder) DecodeByte(b byte) (*Frame, error) {
	switch b {
	case slcanBell:
		d.Reset()
		return nil, fmt.Errorf("adapter reported an error")

	case slcanCR:
		if d.overflow {
			d.Reset()
			return nil, fmt.Errorf("line exceeds %d bytes", MaxSLCANLineSize)
		}
		line := string(d.line)
		d.Reset()
		if line == "" || line == "z" || line == "Z" {
			// Empty OK reply or transmit acknowledgement
			return nil, nil
		}
		f, err := ParseSLCAN(line)
		if err != nil {
			return nil, err
		}
		return &f, nil

	default:
		if len(d.line) >= MaxSLCANLineSize {
			d.overflow = true
			return nil, nil
		}
		d.line = append(d.line, b)
		return nil, nil
	}
}

// ParseSLCAN parses a single SLCAN frame line (without the trailing CR)
func ParseSLCAN(line string) (Frame, error) {
	if line == "" {
		return Frame{}, fmt.Errorf("empty line")
	}

	var f Frame
	idLen := 3
	switch line[0] {
	case 't':
	case 'T':
		f.Extended = true
		idLen = 8
	case 'r':
		f.Remote = true
	case 'R':
		f.Extended = true
		f.Remote = true
		idLen = 8
	default:
		return Frame{}, fmt.Errorf("unknown command %q", line[0])
	}

	if len(line) < 1+idLen+1 {
		return Frame{}, fmt.Errorf("line too short: %q", line)
	}

	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return Frame{}, fmt.Errorf("invalid identifier in %q: %w", line, err)
	}
	if (f.Extended && id > MaxExtendedID) || (!f.Extended && id > MaxStandardID) {
		return Frame{}, fmt.Errorf("identifier out of range in %q", line)
	}
	f.ID = uint32(id)

	dlc := line[1+idLen]
	if dlc < '0' || dlc > '8' {
		return Frame{}, fmt.Errorf("invalid length %q in %q", dlc, line)
	}
	f.Length = dlc - '0'

	rest := line[2+idLen:]
	if f.Remote {
		return f, checkTimestamp(rest, line)
	}

	dataLen := int(f.Length) * 2
	if len(rest) < dataLen {
		return Frame{}, fmt.Errorf("truncated data in %q", line)
	}
	for i := 0; i < int(f.Length); i++ {
		b, err := strconv.ParseUint(rest[i*2:i*2+2], 16, 8)
		if err != nil {
			return Frame{}, fmt.Errorf("invalid data byte in %q: %w", line, err)
		}
		f.Data[i] = byte(b)
	}

	return f, checkTimestamp(rest[dataLen:], line)
}

// checkTimestamp accepts nothing or an optional 4 hex digit adapter timestamp
func checkTimestamp(rest, line string) error {
	switch len(rest) {
	case 0:
		return nil
	case 4:
		if _, err := strconv.ParseUint(rest, 16, 16); err == nil {
			return nil
		}
	}
	return fmt.Errorf("unexpected trailing characters in %q", line)
}

// EncodeSLCAN returns the SLCAN transmit line for a frame, CR included
func EncodeSLCAN(f Frame) []byte {
	var sb strings.Builder

	switch {
	case f.Extended && f.Remote:
		fmt.Fprintf(&sb, "R%08X%d", f.ID, f.Length)
	case f.Extended:
		fmt.Fprintf(&sb, "T%08X%d", f.ID, f.Length)
	case f.Remote:
		fmt.Fprintf(&sb, "r%03X%d", f.ID, f.Length)
	default:
		fmt.Fprintf(&sb, "t%03X%d", f.ID, f.Length)
	}

	if !f.Remote {
		for _, b := range f.Payload() {
			fmt.Fprintf(&sb, "%02X", b)
		}
	}
	sb.WriteByte(slcanCR)

	return []byte(sb.String())
}

// SLCANSetupCommands returns the command sequence that opens the channel at bitrate
func SLCANSetupCommands(bitrate int) ([]byte, error) {
	code, ok := slcanBitrates[bitrate]
	if !ok {
		return nil, fmt.Errorf("unsupported SLCAN bitrate: %d", bitrate)
	}
	// Close first in case the adapter was left open
	return []byte{'C', slcanCR, 'S', code, slcanCR, 'O', slcanCR}, nil
}

// SLCAN is a serial-attached SLCAN adapter
type SLCAN struct {
	port serial.Port
	name string
	q    *feed
	wmu  sync.Mutex
}

// OpenSLCAN opens a serial SLCAN adapter and opens its CAN channel at bitrate
func OpenSLCAN(portName string, baudRate, bitrate int) (*SLCAN, error) {
	setup, err := SLCANSetupCommands(bitrate)
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	if _, err := port.Write(setup); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to configure SLCAN adapter on %s: %w", portName, err)
	}

	s := &SLCAN{port: port, name: portName, q: newFeed()}
	go s.readLoop()
	return s, nil
}

func (s *SLCAN) readLoop() {
	decoder := NewSLCANDecoder()
	buf := make([]byte, 128)

	for {
		n, err := s.port.Read(buf)
		if err != nil {
			if !s.q.closed() {
				s.q.fail(fmt.Errorf("serial port %s: %w", s.name, err))
			}
			return
		}
		if n == 0 {
			// Read timeout or port went away
			if s.q.closed() {
				return
			}
			continue
		}

		for i := 0; i < n; i++ {
			frame, err := decoder.DecodeByte(buf[i])
			if err != nil {
				// Malformed lines are skipped, the adapter resyncs on the next CR
				continue
			}
			if frame != nil && !s.q.push(*frame) {
				return
			}
		}
	}
}

// Send writes a frame to the adapter
func (s *SLCAN) Send(ctx context.Context, f Frame) error {
	if s.q.closed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	if _, err := s.port.Write(EncodeSLCAN(f)); err != nil {
		return fmt.Errorf("serial port %s: %w", s.name, err)
	}
	return nil
}

// Receive returns the next frame reported by the adapter
func (s *SLCAN) Receive(ctx context.Context) (Frame, error) {
	return s.q.receive(ctx)
}

// Close closes the CAN channel and the serial port
func (s *SLCAN) Close() error {
	s.q.close()
	s.wmu.Lock()
	_, _ = s.port.Write([]byte{'C', slcanCR})
	s.wmu.Unlock()
	return s.port.Close()
}
