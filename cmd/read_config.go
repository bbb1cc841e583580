// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 CVRA

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cvra/canlink/pkg/bootloader"
	"github.com/cvra/canlink/pkg/configdump"
	"github.com/cvra/canlink/pkg/datagram"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	readConfigAll     bool
	readConfigFormat  string
	readConfigOutput  string
	readConfigTimeout int
)

var readConfigCmd = &cobra.Command{
	Use:   "read_config [DEVICEID...]",
	Short: "Read board configs and dump them to JSON",
	Long: `Ask bootloader boards for their configuration and dump it, keyed by board ID.

The read config command is broadcast once to every requested board, then one
reply datagram is collected per board. With --all, every address from 1 to 127
is pinged first and the boards that answer are queried.

Exit codes:
  0 - All requested boards answered
  1 - Some boards did not answer in time or sent an undecodable config
      (the partial dump is still written)
  2 - Connection error

Examples:
  canlink read_config --interface can0 10 11 12
  canlink read_config --port /dev/ttyACM0 --all --format yaml`,
	RunE: runReadConfig,
}

func init() {
	rootCmd.AddCommand(readConfigCmd)
	readConfigCmd.Flags().BoolVarP(&readConfigAll, "all", "a", false, "Try to scan all network")
	readConfigCmd.Flags().StringVarP(&readConfigFormat, "format", "f", "json", "Output format (json, yaml, cbor)")
	readConfigCmd.Flags().StringVarP(&readConfigOutput, "output", "o", "", "Write the dump to a file instead of stdout")
	readConfigCmd.Flags().IntVar(&readConfigTimeout, "timeout", 5, "Timeout in seconds to wait for replies")
}

func parseDeviceIDs(args []string) ([]uint8, error) {
	ids := make([]uint8, 0, len(args))
	for _, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 || n > datagram.MaxAddress {
			return nil, fmt.Errorf("invalid device ID %q (must be 0-%d)", arg, datagram.MaxAddress)
		}
		ids = append(ids, uint8(n))
	}
	return ids, nil
}

func runReadConfig(cmd *cobra.Command, args []string) error {
	format, err := configdump.ParseFormat(readConfigFormat)
	if err != nil {
		return err
	}
	ids, err := parseDeviceIDs(args)
	if err != nil {
		return err
	}

	bus, _ := mustConnect()
	defer bus.Close()

	client := bootloader.NewClient(bus, bootloader.WithLogger(log.Logger))

	if readConfigAll {
		log.Info().Msg("Scanning network...")
		ids, err = client.Scan(cmd.Context(), 1, datagram.MaxAddress)
		if err != nil {
			log.Error().Err(err).Msg("Scan failed")
			os.Exit(exitConnError)
		}
		log.Info().Ints("boards", intsOf(ids)).Msg("Scan complete")
	}
	if len(ids) == 0 {
		log.Warn().Msg("No boards to query")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(readConfigTimeout)*time.Second)
	defer cancel()

	configs, readErr := client.ReadConfigs(ctx, ids)
	if readErr != nil && !isPartialRead(readErr) {
		log.Error().Err(readErr).Msg("Read failed")
		os.Exit(exitConnError)
	}

	out, err := configdump.Marshal(configs, format)
	if err != nil {
		return err
	}
	if err := writeOutput(readConfigOutput, out); err != nil {
		return err
	}

	if readErr != nil {
		log.Error().Err(readErr).Msg("Incomplete dump")
		os.Exit(exitFailed)
	}
	return nil
}

// isPartialRead reports whether err leaves a usable partial dump
func isPartialRead(err error) bool {
	return errors.Is(err, bootloader.ErrMissingReplies) || errors.Is(err, bootloader.ErrBadReply)
}

// writeOutput writes data to path, or to stdout when path is empty
func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func intsOf(ids []uint8) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}
