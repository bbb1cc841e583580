// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 CVRA
//
// canlink - CAN bus tools for bootloader boards and UWB beacons

package main

import (
	"fmt"
	"os"

	"github.com/cvra/canlink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
