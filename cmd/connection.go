// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 CVRA

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/cvra/canlink/pkg/canbus"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Exit codes shared by the commands
const (
	exitOK        = 0
	exitFailed    = 1
	exitConnError = 2
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv(envPrefix + "_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal, read a plain line instead
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenConnection opens a SocketCAN, SLCAN or WebSocket bus based on flags
func OpenConnection() (canbus.Bus, string, error) {
	s := loadConnectionSettings()

	switch {
	case s.Interface != "":
		bus, err := canbus.OpenSocketCAN(s.Interface)
		if err != nil {
			return nil, "", err
		}
		return bus, fmt.Sprintf("SocketCAN: %s", s.Interface), nil

	case s.URL != "":
		password := ""
		if s.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		bus, err := canbus.OpenWebSocket(s.URL, s.Username, password, s.NoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return bus, fmt.Sprintf("WebSocket: %s", s.URL), nil

	case s.Port != "":
		bus, err := canbus.OpenSLCAN(s.Port, s.Baud, s.Bitrate)
		if err != nil {
			return nil, "", err
		}
		return bus, fmt.Sprintf("SLCAN: %s @ %d baud, %d bit/s", s.Port, s.Baud, s.Bitrate), nil
	}

	return nil, "", fmt.Errorf("one of --interface, --port or --url must be specified")
}

// mustConnect opens the bus or exits with the connection error code
func mustConnect() (canbus.Bus, string) {
	bus, info, err := OpenConnection()
	if err != nil {
		log.Error().Err(err).Msg("Connection error")
		os.Exit(exitConnError)
	}
	log.Debug().Str("connection", info).Msg("Connected")
	return bus, info
}
