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

	tea "github.com/charmbracelet/bubbletea"
	"github.com/cvra/canlink/pkg/rangelog"
	"github.com/cvra/canlink/pkg/uavcan"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var (
	readRangeOutput     string
	readRangeAnchor     uint16
	readRangeDataTypeID uint16
	readRangeSignature  string
	readRangeNodeID     uint8
	readRangeHeartbeat  time.Duration
	readRangeTUI        bool
)

var readRangeCmd = &cobra.Command{
	Use:   "read_range",
	Short: "Read range information sent by the beacons over UAVCAN",
	Long: `Listen for RadioRange messages published by UWB beacons and log them.

Every range is printed as it arrives. With --output the ranges are also
appended to a CSV file (columns ts, anchor_addr, range) flushed after every
row, and with --mqtt-broker they are republished as JSON on
<mqtt-topic>/<anchor>. --tui replaces the console lines with a live table.

The tool joins the bus as a regular node (--node-id, 127 by default) and
broadcasts NodeStatus so it shows up in bus monitors.

Exit codes:
  0 - Stopped by the user
  1 - Failed to write a range to the CSV file or MQTT broker
  2 - Connection error

Examples:
  canlink read_range --interface can0
  canlink read_range --port /dev/ttyACM0 -o ranges.csv --anchor 3`,
	RunE: runReadRange,
}

func init() {
	rootCmd.AddCommand(readRangeCmd)
	flags := readRangeCmd.Flags()
	flags.StringVarP(&readRangeOutput, "output", "o", "", "Log range messages to a file in CSV")
	flags.Uint16VarP(&readRangeAnchor, "anchor", "a", 0, "Accept only ranging coming from the given anchor ID")
	flags.Uint16Var(&readRangeDataTypeID, "data-type-id", uavcan.DefaultRadioRangeDataTypeID, "RadioRange data type ID")
	flags.StringVar(&readRangeSignature, "signature", "", "RadioRange data type signature, enables transfer CRC checks (e.g. 0x1234abcd...)")
	flags.Uint8Var(&readRangeNodeID, "node-id", uavcan.MaxNodeID, "Node ID used on the bus")
	flags.DurationVar(&readRangeHeartbeat, "heartbeat", uavcan.DefaultHeartbeatInterval, "NodeStatus period (0 disables it)")
	flags.BoolVar(&readRangeTUI, "tui", false, "Show a live table instead of console lines")
	flags.String("mqtt-broker", "", "Republish ranges to this MQTT broker (e.g. tcp://localhost:1883)")
	flags.String("mqtt-topic", "canlink/range", "MQTT topic prefix")

	for key, name := range map[string]string{"mqtt.broker": "mqtt-broker", "mqtt.topic": "mqtt-topic"} {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func parseSignature(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	sig, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid signature %q: %w", s, err)
	}
	return sig, nil
}

// openRangeSinks builds the sinks selected by flags, the console sink first
func openRangeSinks() (rangelog.MultiSink, error) {
	var sinks rangelog.MultiSink
	if !readRangeTUI {
		sinks = append(sinks, rangelog.NewConsoleSink(os.Stdout))
	}

	if readRangeOutput != "" {
		f, err := os.Create(readRangeOutput)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", readRangeOutput, err)
		}
		csvSink, err := rangelog.NewCSVSink(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		sinks = append(sinks, csvSink)
	}

	if broker := viper.GetString("mqtt.broker"); broker != "" {
		clientID := fmt.Sprintf("canlink-%d-%d", readRangeNodeID, os.Getpid())
		mqttSink, err := rangelog.DialMQTT(broker, clientID, viper.GetString("mqtt.topic"))
		if err != nil {
			sinks.Close()
			return nil, err
		}
		log.Info().Str("broker", broker).Msg("Republishing ranges over MQTT")
		sinks = append(sinks, mqttSink)
	}

	return sinks, nil
}

func runReadRange(cmd *cobra.Command, args []string) error {
	signature, err := parseSignature(readRangeSignature)
	if err != nil {
		return err
	}
	if readRangeNodeID == 0 || readRangeNodeID > uavcan.MaxNodeID {
		return fmt.Errorf("invalid node ID %d (must be 1-%d)", readRangeNodeID, uavcan.MaxNodeID)
	}

	sinks, err := openRangeSinks()
	if err != nil {
		return err
	}
	defer sinks.Close()

	bus, connInfo := mustConnect()
	defer bus.Close()

	log.Info().
		Str("connection", connInfo).
		Uint16("data_type_id", readRangeDataTypeID).
		Uint8("node_id", readRangeNodeID).
		Msg("Listening for ranges")

	var program *tea.Program
	if readRangeTUI {
		program = tea.NewProgram(newRangeModel(connInfo, readRangeAnchor), tea.WithAltScreen())
		sinks = append(sinks, rangelog.SinkFunc(func(r rangelog.Record) error {
			program.Send(rangeMsg(r))
			return nil
		}))
	}

	sub := uavcan.NewSubscriber(bus, readRangeDataTypeID,
		uavcan.WithSignature(signature),
		uavcan.WithSubscriberLogger(log.Logger))
	logger := rangelog.NewLogger(sub, sinks,
		rangelog.WithAnchor(readRangeAnchor),
		rangelog.WithLogger(log.Logger))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if readRangeHeartbeat > 0 {
		g.Go(func() error {
			return uavcan.Heartbeat(ctx, bus, readRangeNodeID, readRangeHeartbeat, log.Logger)
		})
	}
	g.Go(func() error {
		err := logger.Run(ctx)
		if program != nil {
			program.Quit()
		}
		return err
	})

	var tuiErr error
	if program != nil {
		_, tuiErr = program.Run()
		cancel()
	}

	err = g.Wait()
	stats := logger.Stats()
	log.Info().
		Int("received", stats.Received).
		Int("filtered", stats.Filtered).
		Int("dropped", stats.Dropped).
		Msg("Stopped")

	if tuiErr != nil {
		return fmt.Errorf("TUI error: %w", tuiErr)
	}
	if errors.Is(err, rangelog.ErrSinkWrite) {
		log.Error().Err(err).Msg("Failed to write range")
		os.Exit(exitFailed)
	}
	if err != nil {
		log.Error().Err(err).Msg("Bus error")
		os.Exit(exitConnError)
	}
	return nil
}
