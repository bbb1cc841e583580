// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 CVRA

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cvra/canlink/pkg/datagram"
	"github.com/spf13/cobra"
)

var datagramTestTimeout int

var datagramTestCmd = &cobra.Command{
	Use:   "datagram_test",
	Short: "Test connection by waiting for a valid datagram",
	Long: `Wait for a complete bootloader datagram on the bus until timeout.

Frames are reassembled per source address; incomplete or corrupt datagrams
are reported and skipped until a datagram passes the version and CRC checks.

Exit codes:
  0 - Datagram received before timeout
  1 - Timeout reached without receiving a valid datagram
  2 - Connection error

Useful for checking the bitrate and wiring of a new adapter.`,
	RunE: runDatagramTest,
}

func init() {
	rootCmd.AddCommand(datagramTestCmd)
	datagramTestCmd.Flags().IntVar(&datagramTestTimeout, "timeout", 10, "Timeout in seconds to wait for a datagram")
}

func runDatagramTest(cmd *cobra.Command, args []string) error {
	bus, connInfo := mustConnect()
	defer bus.Close()

	fmt.Printf("canlink - Datagram Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", datagramTestTimeout)
	fmt.Printf("Waiting for valid datagram...\n\n")

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(datagramTestTimeout)*time.Second)
	defer cancel()

	reader := datagram.NewReader(bus)
	corrupt := 0
	for {
		msg, err := reader.ReadDatagram(ctx)
		if err != nil {
			if errors.Is(err, datagram.ErrCRCMismatch) || errors.Is(err, datagram.ErrInvalidVersion) {
				corrupt++
				fmt.Printf("(skipping corrupt datagram: %v)\n", err)
				continue
			}
			if errors.Is(err, context.DeadlineExceeded) {
				fmt.Fprintf(os.Stderr, "TIMEOUT: No valid datagram received within %d seconds\n", datagramTestTimeout)
				if pending := reader.Pending(); len(pending) > 0 {
					fmt.Fprintf(os.Stderr, "%d partial datagram(s) still open:\n", len(pending))
					for _, p := range pending {
						fmt.Fprintf(os.Stderr, "  source %d: %d bytes in %d frames\n", p.Source, p.Size, p.Frames)
					}
				}
				os.Exit(exitFailed)
			}
			fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
			os.Exit(exitConnError)
		}

		fmt.Printf("SUCCESS: Received valid datagram\n")
		fmt.Printf("  Source: %d\n", msg.Source)
		fmt.Printf("  Destinations: %v\n", intsOf(msg.Destinations))
		fmt.Printf("  Length: %d bytes\n", len(msg.Data))
		fmt.Printf("  Data: % X\n", msg.Data)
		if corrupt > 0 {
			fmt.Printf("  (skipped %d corrupt datagrams)\n", corrupt)
		}
		os.Exit(exitOK)
	}
}
