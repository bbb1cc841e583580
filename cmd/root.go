// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 CVRA

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "canlink",
	Short: "CAN bus tools for bootloader boards and UWB beacons",
	Long: `canlink - command line tools for boards talking over a CAN bus.

Reads configuration from bootloader-equipped boards, logs UWB beacon ranges
published over UAVCAN and provides a few low level bus diagnostics.

Connection modes:
  SocketCAN: --interface can0
  Serial:    --port /dev/ttyACM0 [--baud 115200] [--bitrate 1000000] (SLCAN adapter)
  WebSocket: --url ws://host/path [--username user]

Every connection flag can also be set in a YAML config file (--config, or
canlink.yaml in the current directory or ~/.config/canlink) or through
CANLINK_* environment variables, e.g. CANLINK_INTERFACE=can0.

For WebSocket authentication, the password is read from the CANLINK_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cfgFile); err != nil {
			return err
		}
		return setupLogging(viper.GetString("log-level"))
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default: canlink.yaml)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")

	// SocketCAN connection flags
	flags.StringP("interface", "i", "", "SocketCAN interface (e.g. can0)")

	// Serial connection flags
	flags.StringP("port", "p", "", "Serial port of an SLCAN adapter")
	flags.IntP("baud", "b", 115200, "Baud rate (serial only)")
	flags.Int("bitrate", 1000000, "CAN bitrate (serial only)")

	// WebSocket connection flags
	flags.StringP("url", "u", "", "WebSocket URL of a CAN bridge (ws:// or wss://)")
	flags.String("username", "", "Username for HTTP Basic auth")
	flags.Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}
}

// Execute runs the root command, cancelling its context on Ctrl+C
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
