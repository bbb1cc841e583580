// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 CVRA

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/cvra/canlink/pkg/canbus"
	"github.com/cvra/canlink/pkg/uavcan"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	rawLogStatsInterval int
	rawLogDecode        bool
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw CAN frames in human-readable format",
	Long: `Continuously display CAN frames as they arrive, with timestamp, identifier,
length, hex and ASCII dump.

With --decode, extended frames are annotated with their UAVCAN identifier
fields and tail byte. Bus statistics are printed every --stats seconds
and on exit.

Supports SocketCAN, SLCAN serial adapters and WebSocket bridges.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().IntVar(&rawLogStatsInterval, "stats", 0, "Print bus statistics every N seconds (0 disables)")
	rawLogCmd.Flags().BoolVar(&rawLogDecode, "decode", false, "Annotate UAVCAN frames")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	bus, connInfo := mustConnect()
	defer bus.Close()

	fmt.Printf("canlink - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx := cmd.Context()
	stats := canbus.NewStatistics()
	var lastStats time.Time

	defer func() {
		stats.CalculateRates()
		fmt.Printf("\n%s", stats.Format())
	}()

	for {
		f, err := bus.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, canbus.ErrClosed) {
				log.Info().Msg("Connection closed")
				return nil
			}
			stats.Update(f, err)
			return fmt.Errorf("receive failed: %w", err)
		}
		stats.Update(f, nil)

		fmt.Print(canbus.FormatFrame(f))
		if data := f.Payload(); rawLogDecode && f.Extended && !f.Remote && len(data) > 0 {
			id := uavcan.ParseID(f.ID)
			seq := uavcan.ParseTail(data[len(data)-1])
			fmt.Printf("  %s tail: start=%t end=%t toggle=%t tid=%d\n",
				id, seq.Start, seq.End, seq.Toggle, seq.TransferID)
		}

		if rawLogStatsInterval > 0 && time.Since(lastStats) >= time.Duration(rawLogStatsInterval)*time.Second {
			stats.CalculateRates()
			fmt.Printf("\n%s\n", stats.Format())
			lastStats = time.Now()
		}
	}
}
