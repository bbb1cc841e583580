// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

// Package bootloader talks to the CAN bootloader of the boards: it encodes
// msgpack commands, sends them as datagrams and collects the replies.
package bootloader

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// CommandSetVersion is sent in front of every command
const CommandSetVersion = 2

// CommandType identifies a bootloader command
type CommandType uint8

// Command codes
const (
	CommandJumpToMain   CommandType = 1
	CommandCRCRegion    CommandType = 2
	CommandErase        CommandType = 3
	CommandWrite        CommandType = 4
	CommandPing         CommandType = 5
	CommandRead         CommandType = 6
	CommandUpdateConfig CommandType = 7
	CommandSaveConfig   CommandType = 8
	CommandReadConfig   CommandType = 9
)

// String returns the command name
func (c CommandType) String() string {
	switch c {
	case CommandJumpToMain:
		return "JUMP_TO_MAIN"
	case CommandCRCRegion:
		return "CRC_REGION"
	case CommandErase:
		return "ERASE"
	case CommandWrite:
		return "WRITE"
	case CommandPing:
		return "PING"
	case CommandRead:
		return "READ"
	case CommandUpdateConfig:
		return "UPDATE_CONFIG"
	case CommandSaveConfig:
		return "SAVE_CONFIG"
	case CommandReadConfig:
		return "READ_CONFIG"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(c))
	}
}

// EncodeCommand encodes a command as three consecutive msgpack objects:
// the command set version, the command code and the argument array.
func EncodeCommand(code CommandType, args ...interface{}) ([]byte, error) {
	if args == nil {
		args = []interface{}{}
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)

	for _, v := range []interface{}{CommandSetVersion, int64(code), args} {
		if err := enc.Encode(v); err != nil {
			return nil, fmt.Errorf("failed to encode %s command: %w", code, err)
		}
	}

	return buf.Bytes(), nil
}

// EncodePing creates a PING command. Boards answer with msgpack true.
func EncodePing() ([]byte, error) {
	return EncodeCommand(CommandPing)
}

// EncodeReadConfig creates a READ_CONFIG command.
// Boards answer with their configuration as a msgpack map.
func EncodeReadConfig() ([]byte, error) {
	return EncodeCommand(CommandReadConfig)
}
