// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

package uavcan

import "fmt"

// Transfer priorities, lower values win arbitration
const (
	PriorityHighest uint8 = 0
	PriorityHigh    uint8 = 8
	PriorityMedium  uint8 = 16
	PriorityLow     uint8 = 24
	PriorityLowest  uint8 = 31
)

// Node ID limits
const (
	MaxNodeID    = 127
	sourceMask   = 0x7F
	serviceFlag  = 1 << 7
	priorityMask = 0x1F
)

// ID is a decoded 29-bit UAVCAN v0 frame identifier
type ID struct {
	Priority   uint8
	DataTypeID uint16 // 16 bits for messages, 8 bits for services
	Service    bool
	Request    bool  // services only
	Dest       uint8 // services only
	Source     uint8
}

// ParseID decodes a raw extended CAN identifier
func ParseID(raw uint32) ID {
	id := ID{
		Priority: uint8(raw>>24) & priorityMask,
		Service:  raw&serviceFlag != 0,
		Source:   uint8(raw) & sourceMask,
	}
	if id.Service {
		id.DataTypeID = uint16(raw>>16) & 0xFF
		id.Request = raw&(1<<15) != 0
		id.Dest = uint8(raw>>8) & sourceMask
	} else {
		id.DataTypeID = uint16(raw >> 8)
	}
	return id
}

// MessageID builds the identifier of a message broadcast from source
func MessageID(priority uint8, dataTypeID uint16, source uint8) uint32 {
	return uint32(priority&priorityMask)<<24 |
		uint32(dataTypeID)<<8 |
		uint32(source&sourceMask)
}

// String implements fmt.Stringer
func (id ID) String() string {
	if id.Service {
		kind := "response"
		if id.Request {
			kind = "request"
		}
		return fmt.Sprintf("service %d %s %d->%d prio=%d", id.DataTypeID, kind, id.Source, id.Dest, id.Priority)
	}
	return fmt.Sprintf("message %d from %d prio=%d", id.DataTypeID, id.Source, id.Priority)
}
