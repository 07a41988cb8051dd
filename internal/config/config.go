// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/axon/internal/domain"
)

var envPrefix = "AXON__"

var ErrAutoconnectWithoutServer = errors.New("autoconnect is enabled but no server is configured")

type AppConfig struct {
	Config  *domain.Config
	viper   *viper.Viper
	dataDir string
	logPath string
	version string

	listenersMu sync.RWMutex
	listeners   []func(*domain.Config)
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	c.loadFromEnv()

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	c.Config.Version = c.version

	if err := c.validate(); err != nil {
		return nil, err
	}

	c.resolveDataDir()
	c.resolveLogPath()

	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	encryptionKey, err := generateSecureToken(encryptionKeySize)
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate secure encryption key, using fallback")
		encryptionKey = "change-me-" + fmt.Sprintf("%d", os.Getpid())
	}

	c.viper.SetDefault("server", "")
	c.viper.SetDefault("password", "")
	c.viper.SetDefault("autoconnect", false)
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "") // Empty means axon.log next to config file
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("dataDir", "")
	c.viper.SetDefault("encryptionKey", encryptionKey)
	c.viper.SetDefault("requestTimeout", "10s")
	c.viper.SetDefault("reconnectInitialBackoff", "1s")
	c.viper.SetDefault("reconnectMaxBackoff", "30s")
	c.viper.SetDefault("refreshInterval", "250ms")
	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("metricsHost", "127.0.0.1")
	c.viper.SetDefault("metricsPort", 9075)
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		configPath := c.resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		if err := c.viper.ReadInConfig(); err != nil {
			// An explicit path that does not exist yet gets the template written
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || isNotExist(err) {
				if err := c.writeDefaultConfig(configPath); err != nil {
					return err
				}
				if err := c.viper.ReadInConfig(); err != nil {
					return errors.Wrap(err, "failed to read newly created config")
				}
				return nil
			}
			return errors.Wrap(err, "failed to read config")
		}
		return nil
	}

	c.viper.SetConfigName("config")
	c.viper.AddConfigPath(".")
	c.viper.AddConfigPath(GetDefaultConfigDir())

	if err := c.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errors.Wrap(err, "failed to read config")
		}

		defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
		if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
			return err
		}
		c.viper.SetConfigFile(defaultConfigPath)
		if err := c.viper.ReadInConfig(); err != nil {
			return errors.Wrap(err, "failed to read newly created config")
		}
		c.dataDir = filepath.Dir(defaultConfigPath)
	}

	return nil
}

func isNotExist(err error) bool {
	var pathErr *os.PathError
	return errors.As(err, &pathErr) && os.IsNotExist(pathErr)
}

func (c *AppConfig) loadFromEnv() {
	// Bind explicitly instead of AutomaticEnv so unrelated AXON_* vars are ignored
	c.viper.BindEnv("server", envPrefix+"SERVER")
	c.bindOrReadFromFile("password", envPrefix+"PASSWORD")
	c.viper.BindEnv("autoconnect", envPrefix+"AUTOCONNECT")
	c.viper.BindEnv("logLevel", envPrefix+"LOG_LEVEL")
	c.viper.BindEnv("logPath", envPrefix+"LOG_PATH")
	c.viper.BindEnv("logMaxSize", envPrefix+"LOG_MAX_SIZE")
	c.viper.BindEnv("logMaxBackups", envPrefix+"LOG_MAX_BACKUPS")
	c.viper.BindEnv("dataDir", envPrefix+"DATA_DIR")
	c.bindOrReadFromFile("encryptionKey", envPrefix+"ENCRYPTION_KEY")
	c.viper.BindEnv("requestTimeout", envPrefix+"REQUEST_TIMEOUT")
	c.viper.BindEnv("reconnectInitialBackoff", envPrefix+"RECONNECT_INITIAL_BACKOFF")
	c.viper.BindEnv("reconnectMaxBackoff", envPrefix+"RECONNECT_MAX_BACKOFF")
	c.viper.BindEnv("refreshInterval", envPrefix+"REFRESH_INTERVAL")
	c.viper.BindEnv("metricsEnabled", envPrefix+"METRICS_ENABLED")
	c.viper.BindEnv("metricsHost", envPrefix+"METRICS_HOST")
	c.viper.BindEnv("metricsPort", envPrefix+"METRICS_PORT")
}

func (c *AppConfig) validate() error {
	if c.Config.Autoconnect && strings.TrimSpace(c.Config.Server) == "" {
		return ErrAutoconnectWithoutServer
	}
	if c.Config.ReconnectMaxBackoff < c.Config.ReconnectInitialBackoff {
		c.Config.ReconnectMaxBackoff = c.Config.ReconnectInitialBackoff
	}
	return nil
}

func (c *AppConfig) watchConfig() {
	c.viper.WatchConfig()
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)

		if err := c.viper.Unmarshal(c.Config); err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}

		c.applyDynamicChanges()
	})
}

func (c *AppConfig) applyDynamicChanges() {
	c.Config.Version = c.version
	c.resolveLogPath()
	c.ApplyLogConfig()

	c.notifyListeners()
}

// RegisterReloadListener registers a callback that's invoked when the configuration file is reloaded.
func (c *AppConfig) RegisterReloadListener(fn func(*domain.Config)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *AppConfig) notifyListeners() {
	c.listenersMu.RLock()
	listeners := append([]func(*domain.Config){}, c.listeners...)
	c.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	copied := *c.Config
	for _, listener := range listeners {
		listener(&copied)
	}
}

const configTemplate = `# config.toml - Auto-generated on first run

# Daemon websocket URL
# Example: "ws://localhost:8412"
# Optional
#server = "ws://localhost:8412"

# Daemon password
# Can also be provided via AXON__PASSWORD or AXON__PASSWORD_FILE
# Optional
#password = ""

# Connect on startup without showing the login panel
# Requires server to be set
# Default: false
#autoconnect = false

# Log file path
# The terminal is owned by the interface, so logs always go to a file.
# Default: axon.log next to this config file
#logPath = "axon.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: {{ .logMaxSize }}
#logMaxSize = {{ .logMaxSize }}

# Number of rotated log files to retain (0 keeps all)
# Default: {{ .logMaxBackups }}
#logMaxBackups = {{ .logMaxBackups }}

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Data directory (default: next to config file)
# Saved connection profiles (axon.db) live inside this directory
#dataDir = "/var/lib/axon"

# Encryption key for saved profile passwords
# Auto-generated if not provided
# WARNING: Changing this value makes saved profile passwords unreadable.
encryptionKey = "{{ .encryptionKey }}"

# Control request timeout
# Default: "{{ .requestTimeout }}"
#requestTimeout = "{{ .requestTimeout }}"

# Reconnect backoff
# Delay doubles after every failed attempt, capped at reconnectMaxBackoff
#reconnectInitialBackoff = "{{ .reconnectInitialBackoff }}"
#reconnectMaxBackoff = "{{ .reconnectMaxBackoff }}"

# Screen refresh interval
#refreshInterval = "{{ .refreshInterval }}"

# Prometheus Metrics
# Expose client metrics on a separate port (no authentication)
# Default: false
#metricsEnabled = false

# Metrics server host
# Default: "127.0.0.1"
#metricsHost = "127.0.0.1"

# Metrics server port
# Default: 9075
#metricsPort = 9075
`

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create config directory %s", dir)
	}
	log.Debug().Msgf("Created config directory: %s", dir)

	data := map[string]any{
		"logLevel":                c.viper.GetString("logLevel"),
		"logMaxSize":              c.viper.GetInt("logMaxSize"),
		"logMaxBackups":           c.viper.GetInt("logMaxBackups"),
		"encryptionKey":           c.viper.GetString("encryptionKey"),
		"requestTimeout":          c.viper.GetString("requestTimeout"),
		"reconnectInitialBackoff": c.viper.GetString("reconnectInitialBackoff"),
		"reconnectMaxBackoff":     c.viper.GetString("reconnectMaxBackoff"),
		"refreshInterval":         c.viper.GetString("refreshInterval"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return errors.Wrap(err, "failed to parse config template")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrap(err, "failed to create config file")
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "axon")
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "axon")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "axon")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "axon")
	}
}

func generateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", errors.Wrap(err, "failed to generate secure token")
	}
	return hex.EncodeToString(bytes), nil
}

// ApplyLogConfig points the global logger at the rotated log file.
func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	setLogLevel(c.Config.LogLevel)

	writer, err := setupLogFile(c.Config.LogPath, c.Config.LogMaxSize, c.Config.LogMaxBackups)
	if err != nil {
		log.Error().Err(err).Msg("Failed to setup log file")
		return
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, maxSize, maxBackups int) (io.Writer, error) {
	if path == "" {
		return nil, errors.New("log path is empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create log directory")
	}

	if maxSize <= 0 {
		maxSize = 50
	}

	if maxBackups < 0 {
		maxBackups = 0
	}

	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}, nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
		return writer
	}
	return os.Stderr
}

// DefaultLogWriter returns the base log writer for the provided version.
func DefaultLogWriter(version string) io.Writer {
	return baseLogWriter(version)
}

// InitDefaultLogger configures zerolog with the default writer for this version.
// This is used by CLI entry points before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(DefaultLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

// ResolveConfigPath determines the config file path from a directory or file path.
func ResolveConfigPath(configDirOrPath string) string {
	if configDirOrPath == "" {
		return filepath.Join(GetDefaultConfigDir(), "config.toml")
	}

	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	return filepath.Join(configDirOrPath, "config.toml")
}

func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	return ResolveConfigPath(configDirOrPath)
}

func (c *AppConfig) resolveDataDir() {
	switch {
	case c.Config.DataDir != "":
		c.dataDir = c.Config.DataDir
	case c.viper.ConfigFileUsed() != "":
		c.dataDir = filepath.Dir(c.viper.ConfigFileUsed())
	case c.dataDir != "":
	default:
		c.dataDir = "."
	}
}

func (c *AppConfig) resolveLogPath() {
	if c.logPath != "" {
		c.Config.LogPath = c.logPath
		return
	}
	if c.Config.LogPath == "" {
		c.Config.LogPath = filepath.Join(c.GetConfigDir(), "axon.log")
		return
	}
	if !filepath.IsAbs(c.Config.LogPath) {
		c.Config.LogPath = filepath.Join(c.GetConfigDir(), c.Config.LogPath)
	}
}

// GetDatabasePath returns the path to the profile database
func (c *AppConfig) GetDatabasePath() string {
	return filepath.Join(c.dataDir, "axon.db")
}

// GetDataDir returns the resolved data directory path.
func (c *AppConfig) GetDataDir() string {
	return c.dataDir
}

// SetDataDir sets the data directory (used by CLI flags)
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

// SetLogPath overrides the configured log file (used by CLI flags), also across reloads.
func (c *AppConfig) SetLogPath(path string) {
	c.logPath = path
	c.resolveLogPath()
}

// GetConfigDir returns the directory containing the config file
func (c *AppConfig) GetConfigDir() string {
	if c.viper != nil && c.viper.ConfigFileUsed() != "" {
		return filepath.Dir(c.viper.ConfigFileUsed())
	}
	return GetDefaultConfigDir()
}

const encryptionKeySize = 32

func WriteDefaultConfig(path string) error {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults()

	return c.writeDefaultConfig(path)
}

// GetEncryptionKey derives the 32-byte profile encryption key from the configured secret
func (c *AppConfig) GetEncryptionKey() []byte {
	secret := c.Config.EncryptionKey
	if len(secret) >= encryptionKeySize {
		return []byte(secret[:encryptionKeySize])
	}

	padded := make([]byte, encryptionKeySize)
	copy(padded, []byte(secret))
	return padded
}

// bindOrReadFromFile reads envVar+"_FILE" when present, otherwise binds envVar.
func (c *AppConfig) bindOrReadFromFile(viperVar string, envVar string) {
	if filePath := os.Getenv(envVar + "_FILE"); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			log.Error().Err(err).Str("path", filePath).Msgf("Could not read %s_FILE", envVar)
			c.viper.BindEnv(viperVar, envVar)
			return
		}
		c.viper.Set(viperVar, strings.TrimSpace(string(content)))
		return
	}
	c.viper.BindEnv(viperVar, envVar)
}
