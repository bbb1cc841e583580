// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 CVRA

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/cvra/canlink/pkg/bootloader"
	"github.com/cvra/canlink/pkg/datagram"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	scanFirst       uint8
	scanLast        uint8
	scanPingTimeout time.Duration
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover bootloader boards by pinging every address",
	Long: `Send a ping datagram to each address in turn and list the boards that answer.

Each address gets --ping-timeout to reply before the next one is tried, so a
full scan of 127 addresses takes about 25 seconds with the default timeout.

Examples:
  canlink scan --interface can0
  canlink scan --port /dev/ttyACM0 --first 10 --last 20

Exit codes:
  0 - At least one board found
  1 - No board answered
  2 - Connection error`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().Uint8Var(&scanFirst, "first", 1, "First address to ping")
	scanCmd.Flags().Uint8Var(&scanLast, "last", datagram.MaxAddress, "Last address to ping")
	scanCmd.Flags().DurationVar(&scanPingTimeout, "ping-timeout", bootloader.DefaultPingTimeout, "Time to wait for each reply")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFirst > scanLast || scanLast > datagram.MaxAddress {
		return fmt.Errorf("invalid address range %d-%d", scanFirst, scanLast)
	}

	bus, connInfo := mustConnect()
	defer bus.Close()

	fmt.Printf("canlink - Board Scan\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Addresses: %d-%d, %s per address\n\n", scanFirst, scanLast, scanPingTimeout)

	client := bootloader.NewClient(bus,
		bootloader.WithPingTimeout(scanPingTimeout),
		bootloader.WithLogger(log.Logger))

	boards := make([]uint8, 0)
	for id := int(scanFirst); id <= int(scanLast); id++ {
		ok, err := client.Ping(cmd.Context(), uint8(id))
		if err != nil {
			if cmd.Context().Err() != nil {
				break
			}
			fmt.Fprintf(os.Stderr, "PING FAILED: %v\n", err)
			os.Exit(exitConnError)
		}
		if ok {
			boards = append(boards, uint8(id))
			fmt.Printf("Board found: %d\n", id)
		}
	}

	fmt.Printf("\n--- Scan summary ---\n")
	fmt.Printf("Boards found: %d\n", len(boards))
	if len(boards) > 0 {
		fmt.Printf("IDs: %v\n", intsOf(boards))
	}

	if len(boards) == 0 {
		fmt.Printf("No boards answered. Check connection, bitrate and board power.\n")
		os.Exit(exitFailed)
	}
	return nil
}
