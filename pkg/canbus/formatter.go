// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 CVRA

package canbus

import (
	"fmt"
	"strings"
)

// FormatFrame formats a frame into a human-readable line
func FormatFrame(f Frame) string {
	timestamp := f.Timestamp.Format("15:04:05.000")

	kind := "STD"
	id := fmt.Sprintf("0x%03X", f.ID)
	if f.Extended {
		kind = "EXT"
		id = fmt.Sprintf("0x%08X", f.ID)
	}

	if f.Remote {
		return fmt.Sprintf("[%s] %s %s RTR len=%d\n", timestamp, kind, id, f.Length)
	}

	return fmt.Sprintf("[%s] %s %s len=%d  %s |%s|\n", timestamp, kind, id, f.Length, formatHex(f.Payload()), formatASCII(f.Payload()))
}

// formatHex renders bytes as space separated hex, padded to a full frame
func formatHex(data []byte) string {
	parts := make([]string, MaxDataLength)
	for i := range parts {
		if i < len(data) {
			parts[i] = fmt.Sprintf("%02X", data[i])
		} else {
			parts[i] = "  "
		}
	}
	return strings.Join(parts, " ")
}

// formatASCII renders printable bytes and replaces the rest with dots
func formatASCII(data []byte) string {
	var sb strings.Builder
	for _, b := range data {
		if b >= 32 && b < 127 {
			sb.WriteByte(b)
		} else {
			sb.WriteByte('.')
		}
	}
	return sb.String()
}
