// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

// Package reassembly rebuilds logical datagrams out of small transport frames.
//
// Frames carry at most 8 bytes (one CAN frame) plus the address of the node
// that sent them. Frames from one source arrive in order, but frames from
// different sources may be interleaved freely. The Reassembler keeps one
// buffer per source and hands back a Datagram as soon as the frame that
// finishes it is consumed.
//
// A buffer whose final frame never arrives stays open until the caller
// evicts it with Evict or Discard. ReadDatagram never does that on its own.
package reassembly
