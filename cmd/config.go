// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 CVRA

package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// envPrefix namespaces environment overrides, e.g. CANLINK_PORT
const envPrefix = "CANLINK"

// loadConfig reads the optional config file and enables environment overrides.
// An explicitly named file must exist; the default locations are optional.
func loadConfig(path string) error {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if path == "" {
		path = os.Getenv(envPrefix + "_CONFIG")
	}

	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("canlink")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "canlink"))
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

// connectionSettings holds the resolved transport selection
type connectionSettings struct {
	Interface   string
	Port        string
	Baud        int
	Bitrate     int
	URL         string
	Username    string
	NoSSLVerify bool
}

func loadConnectionSettings() connectionSettings {
	return connectionSettings{
		Interface:   viper.GetString("interface"),
		Port:        viper.GetString("port"),
		Baud:        viper.GetInt("baud"),
		Bitrate:     viper.GetInt("bitrate"),
		URL:         viper.GetString("url"),
		Username:    viper.GetString("username"),
		NoSSLVerify: viper.GetBool("no-ssl-verify"),
	}
}
