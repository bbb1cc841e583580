// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

package canbus

import (
	"context"
	"fmt"

	"github.com/brutella/can"
)

// SocketCAN is a Linux SocketCAN interface (can0, vcan0, ...)
type SocketCAN struct {
	iface string
	bus   *can.Bus
	q     *feed
}

// OpenSocketCAN binds to the named SocketCAN interface and starts receiving
func OpenSocketCAN(iface string) (*SocketCAN, error) {
	bus, err := can.NewBusForInterfaceWithName(iface)
	if err != nil {
		return nil, fmt.Errorf("failed to open CAN interface %s: %w", iface, err)
	}

	s := &SocketCAN{iface: iface, bus: bus, q: newFeed()}
	bus.SubscribeFunc(s.handleFrame)

	go func() {
		// Blocks until the socket is closed or fails
		if err := bus.ConnectAndPublish(); err != nil && !s.q.closed() {
			s.q.fail(fmt.Errorf("CAN interface %s: %w", iface, err))
			return
		}
		s.q.fail(ErrClosed)
	}()

	return s, nil
}

// handleFrame is called by the CAN library for every received frame
func (s *SocketCAN) handleFrame(cf can.Frame) {
	if cf.ID&flagError != 0 {
		return
	}
	s.q.push(fromSocketCAN(cf))
}

// Send publishes a frame on the interface
func (s *SocketCAN) Send(ctx context.Context, f Frame) error {
	if s.q.closed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.bus.Publish(toSocketCAN(f)); err != nil {
		return fmt.Errorf("CAN interface %s: publish %s: %w", s.iface, f, err)
	}
	return nil
}

// Receive returns the next frame read from the interface
func (s *SocketCAN) Receive(ctx context.Context) (Frame, error) {
	return s.q.receive(ctx)
}

// Close disconnects from the interface
func (s *SocketCAN) Close() error {
	s.q.close()
	return s.bus.Disconnect()
}

func fromSocketCAN(cf can.Frame) Frame {
	f := Frame{
		Extended: cf.ID&flagExtended != 0,
		Remote:   cf.ID&flagRemote != 0,
		Length:   cf.Length,
	}
	if f.Extended {
		f.ID = cf.ID & MaxExtendedID
	} else {
		f.ID = cf.ID & MaxStandardID
	}
	if f.Length > MaxDataLength {
		f.Length = MaxDataLength
	}
	copy(f.Data[:], cf.Data[:f.Length])
	return f
}

func toSocketCAN(f Frame) can.Frame {
	cf := can.Frame{ID: f.ID, Length: f.Length}
	if f.Extended {
		cf.ID |= flagExtended
	}
	if f.Remote {
		cf.ID |= flagRemote
	}
	copy(cf.Data[:], f.Payload())
	return cf
}
