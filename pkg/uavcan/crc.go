// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

package uavcan

// CRC-16-CCITT-FALSE parameters
const (
	crcInitial    = 0xFFFF
	crcPolynomial = 0x1021
)

func crcAdd(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// TransferCRC computes the multi-frame transfer CRC: the data type signature
// (little-endian) followed by the payload.
func TransferCRC(signature uint64, payload []byte) uint16 {
	var sig [8]byte
	for i := range sig {
		sig[i] = byte(signature >> (8 * i))
	}
	return crcAdd(crcAdd(crcInitial, sig[:]), payload)
}
