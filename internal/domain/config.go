// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "time"

type Config struct {
	Version string

	Server      string `toml:"server" mapstructure:"server"`
	Password    string `toml:"password" mapstructure:"password"`
	Autoconnect bool   `toml:"autoconnect" mapstructure:"autoconnect"`

	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir       string `toml:"dataDir" mapstructure:"dataDir"`
	EncryptionKey string `toml:"encryptionKey" mapstructure:"encryptionKey"`

	RequestTimeout          time.Duration `toml:"requestTimeout" mapstructure:"requestTimeout"`
	ReconnectInitialBackoff time.Duration `toml:"reconnectInitialBackoff" mapstructure:"reconnectInitialBackoff"`
	ReconnectMaxBackoff     time.Duration `toml:"reconnectMaxBackoff" mapstructure:"reconnectMaxBackoff"`
	RefreshInterval         time.Duration `toml:"refreshInterval" mapstructure:"refreshInterval"`

	MetricsEnabled bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost    string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort    int    `toml:"metricsPort" mapstructure:"metricsPort"`
}
