// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

package uavcan

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/cvra/canlink/pkg/canbus"
	"github.com/rs/zerolog"
)

// uavcan.protocol.NodeStatus
const (
	NodeStatusDataTypeID uint16 = 341
	NodeStatusSignature  uint64 = 0x0F0868D0C1A7C6F1
	NodeStatusSize              = 7
)

// Node health values
const (
	HealthOK       uint8 = 0
	HealthWarning  uint8 = 1
	HealthError    uint8 = 2
	HealthCritical uint8 = 3
)

// Node mode values
const (
	ModeOperational    uint8 = 0
	ModeInitialization uint8 = 1
	ModeMaintenance    uint8 = 2
	ModeSoftwareUpdate uint8 = 3
	ModeOffline        uint8 = 7
)

// DefaultHeartbeatInterval matches the NodeStatus broadcast period of v0 nodes
const DefaultHeartbeatInterval = time.Second

// NodeStatus is broadcast periodically by every node on the bus
type NodeStatus struct {
	Uptime       uint32 // seconds
	Health       uint8
	Mode         uint8
	SubMode      uint8
	VendorStatus uint16
}

// AppendBinary appends the message payload to b
func (n NodeStatus) AppendBinary(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, n.Uptime)
	b = append(b, (n.Health&0x3)<<6|(n.Mode&0x7)<<3|n.SubMode&0x7)
	return binary.LittleEndian.AppendUint16(b, n.VendorStatus)
}

// MarshalBinary encodes the message payload
func (n NodeStatus) MarshalBinary() ([]byte, error) {
	return n.AppendBinary(make([]byte, 0, NodeStatusSize)), nil
}

// UnmarshalBinary decodes the message payload
func (n *NodeStatus) UnmarshalBinary(data []byte) error {
	if len(data) < NodeStatusSize {
		return fmt.Errorf("NodeStatus too short: %d bytes", len(data))
	}
	n.Uptime = binary.LittleEndian.Uint32(data[0:4])
	n.Health = data[4] >> 6
	n.Mode = (data[4] >> 3) & 0x7
	n.SubMode = data[4] & 0x7
	n.VendorStatus = binary.LittleEndian.Uint16(data[5:7])
	return nil
}

// Heartbeat publishes NodeStatus from node every interval until ctx is done.
// Send failures are logged and retried on the next tick.
func Heartbeat(ctx context.Context, bus canbus.Bus, node uint8, interval time.Duration, log zerolog.Logger) error {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}

	pub := NewPublisher(bus, node, PriorityLow, NodeStatusDataTypeID, NodeStatusSignature)
	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	payload := make([]byte, 0, NodeStatusSize)
	for {
		status := NodeStatus{
			Uptime: uint32(time.Since(start) / time.Second),
			Health: HealthOK,
			Mode:   ModeOperational,
		}
		payload = status.AppendBinary(payload[:0])
		if err := pub.Publish(ctx, payload); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Msg("Failed to publish NodeStatus")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// cvra.uwb_beacon.RadioRange
const (
	DefaultRadioRangeDataTypeID uint16 = 20100
	RadioRangeSize                     = 13
)

// RadioRange is a distance measurement between a beacon and an anchor
type RadioRange struct {
	Timestamp  uint64 // microseconds, 56 bits on the wire
	AnchorAddr uint16
	Range      float32 // meters
}

// MarshalBinary encodes the message payload
func (r RadioRange) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RadioRangeSize)
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], r.Timestamp)
	copy(buf[0:7], ts[:7])
	binary.LittleEndian.PutUint16(buf[7:9], r.AnchorAddr)
	binary.LittleEndian.PutUint32(buf[9:13], math.Float32bits(r.Range))
	return buf, nil
}

// UnmarshalBinary decodes the message payload
func (r *RadioRange) UnmarshalBinary(data []byte) error {
	if len(data) < RadioRangeSize {
		return fmt.Errorf("RadioRange too short: %d bytes (want %d)", len(data), RadioRangeSize)
	}
	var ts [8]byte
	copy(ts[:7], data[0:7])
	r.Timestamp = binary.LittleEndian.Uint64(ts[:])
	r.AnchorAddr = binary.LittleEndian.Uint16(data[7:9])
	r.Range = math.Float32frombits(binary.LittleEndian.Uint32(data[9:13]))
	return nil
}
