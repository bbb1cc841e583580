// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

// Package uavcan implements the subset of UAVCAN v0 needed to listen to
// beacon broadcasts: 29-bit identifiers, tail bytes, multi-frame transfer
// reassembly with CRC checking, publishing and a NodeStatus heartbeat.
//
// Transfers are reassembled by pkg/reassembly, one buffer per source node.
// Frame layout:
//
//	ID (29 bit): [priority:5][data type id:16][service:1][source node:7]
//	Data:        [payload 0..7][tail byte]
//	Tail byte:   [start:1][end:1][toggle:1][transfer id:5]
//
// Multi-frame transfers prefix the payload with a little-endian CRC-16 of
// the data type signature followed by the payload.
package uavcan
