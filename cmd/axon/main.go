// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/autobrr/axon/internal/buildinfo"
	"github.com/autobrr/axon/internal/config"
	"github.com/autobrr/axon/internal/database"
	"github.com/autobrr/axon/internal/domain"
	"github.com/autobrr/axon/internal/metrics"
	"github.com/autobrr/axon/internal/mirror"
	"github.com/autobrr/axon/internal/models"
	"github.com/autobrr/axon/internal/session"
	"github.com/autobrr/axon/internal/tui"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	rootCmd := RunRootCommand()
	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunVersionCommand(buildinfo.String()))
	rootCmd.AddCommand(RunGenerateConfigCommand())
	rootCmd.AddCommand(RunProfilesCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunRootCommand() *cobra.Command {
	app := &Application{}

	var command = &cobra.Command{
		Use:   "axon",
		Short: "Terminal client for a remote torrent daemon",
		Long: `axon - A terminal interface that mirrors the torrents, trackers and
statistics of a remote torrent daemon and lets you filter and control them.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.run(cmd.Context())
		},
	}

	command.Flags().StringVar(&app.configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/axon/ or %APPDATA%\\axon\\). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&app.dataDir, "data-dir", "", "data directory for the profile database (default is next to config file)")
	command.Flags().StringVar(&app.logPath, "log-path", "", "log file path (default is axon.log next to config file)")
	command.Flags().StringVar(&app.server, "server", "", "daemon websocket URL, e.g. ws://localhost:8412")
	command.Flags().BoolVar(&app.askPass, "ask-pass", false, "prompt for the daemon password before starting")

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of axon",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the client.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/axon/config.toml
- Windows: %APPDATA%\axon\config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := config.ResolveConfigPath(configDir)
			if info, err := os.Stat(configDir); configDir != "" && err == nil && !info.IsDir() {
				configPath = configDir
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return errors.Wrap(err, "failed to create configuration file")
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

func RunProfilesCommand() *cobra.Command {
	var configDir, dataDir string

	command := &cobra.Command{
		Use:   "profiles",
		Short: "Manage saved daemon logins",
	}
	command.PersistentFlags().StringVar(&configDir, "config-dir", "", "config directory or file path")
	command.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the profile database")

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved profiles, most recently used first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeDB, err := openProfileStore(configDir, dataDir)
			if err != nil {
				return err
			}
			defer closeDB()

			profiles, err := store.List(cmd.Context())
			if err != nil {
				return errors.Wrap(err, "failed to list profiles")
			}
			if len(profiles) == 0 {
				cmd.Println("No saved profiles.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSERVER\tLAST USED")
			for _, p := range profiles {
				lastUsed := "never"
				if p.LastUsedAt != nil {
					lastUsed = humanize.Time(*p.LastUsedAt)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\n", p.ID, p.Server, lastUsed)
			}
			return w.Flush()
		},
	}

	remove := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a saved profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return errors.Wrapf(err, "invalid profile id %q", args[0])
			}

			store, closeDB, err := openProfileStore(configDir, dataDir)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := store.Delete(cmd.Context(), id); err != nil {
				return errors.Wrapf(err, "failed to delete profile %d", id)
			}
			cmd.Printf("Profile %d deleted\n", id)
			return nil
		},
	}

	command.AddCommand(list, remove)
	return command
}

func openProfileStore(configDir, dataDir string) (*models.ProfileStore, func(), error) {
	cfg, err := config.New(configDir, buildinfo.Version)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to initialize configuration")
	}
	if dataDir != "" {
		cfg.SetDataDir(dataDir)
	}

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to initialize database")
	}

	store, err := models.NewProfileStore(db, cfg.GetEncryptionKey())
	if err != nil {
		db.Close()
		return nil, nil, errors.Wrap(err, "failed to initialize profile store")
	}
	return store, func() { db.Close() }, nil
}

func readPassword(prompt string) (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, prompt)
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", errors.Wrap(err, "failed to read password")
		}
		return string(password), nil
	}

	fmt.Fprint(os.Stderr, prompt)
	var password string
	if _, err := fmt.Scanln(&password); err != nil {
		return "", errors.Wrap(err, "failed to read password from stdin")
	}
	return password, nil
}

type Application struct {
	configDir string
	dataDir   string
	logPath   string
	server    string
	askPass   bool
}

type login struct {
	server      string
	password    string
	autoconnect bool
}

// resolveLogin picks the initial login: the --server flag, then the configured
// server, then the most recently used profile. A saved profile supplies the
// password when none is configured.
func resolveLogin(ctx context.Context, cfg *domain.Config, store *models.ProfileStore, flagServer string) login {
	l := login{
		server:      cfg.Server,
		password:    cfg.Password,
		autoconnect: cfg.Autoconnect,
	}
	if flagServer != "" {
		l.server = flagServer
		l.password = ""
		l.autoconnect = false
	}

	var (
		match *models.Profile
		err   error
	)
	if l.server == "" {
		match, err = store.MostRecent(ctx)
		if match != nil {
			l.server = match.Server
		}
	} else {
		match, err = store.FindByServer(ctx, l.server)
	}
	if err != nil {
		if !errors.Is(err, models.ErrProfileNotFound) {
			log.Warn().Err(err).Str("server", l.server).Msg("Failed to load saved profile")
		}
		return l
	}

	if l.password == "" {
		password, err := store.GetDecryptedPassword(match)
		if err != nil {
			log.Warn().Err(err).Int("profileID", match.ID).Msg("Failed to decrypt saved password")
			return l
		}
		l.password = password
	}
	return l
}

func (app *Application) run(ctx context.Context) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("axon needs an interactive terminal")
	}

	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		return errors.Wrap(err, "failed to initialize configuration")
	}
	if app.dataDir != "" {
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		cfg.SetLogPath(app.logPath)
	}

	var password string
	if app.askPass {
		if password, err = readPassword("Password: "); err != nil {
			return err
		}
	}

	// The TUI owns the terminal from here on
	cfg.ApplyLogConfig()
	log.Info().Str("version", buildinfo.Version).Str("logPath", cfg.Config.LogPath).Msg("Starting axon")

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return errors.Wrap(err, "failed to initialize database")
	}
	defer db.Close()

	profiles, err := models.NewProfileStore(db, cfg.GetEncryptionKey())
	if err != nil {
		return errors.Wrap(err, "failed to initialize profile store")
	}

	start := resolveLogin(ctx, cfg.Config, profiles, app.server)
	if app.askPass {
		start.password = password
	}

	m := mirror.New()
	bridge := tui.NewBridge()
	syncer := session.New(session.NewWebsocketTransport(), m, session.Options{
		RequestTimeout: cfg.Config.RequestTimeout,
		InitialBackoff: cfg.Config.ReconnectInitialBackoff,
		MaxBackoff:     cfg.Config.ReconnectMaxBackoff,
		OnEvent:        bridge.Forward,
	})

	cfg.RegisterReloadListener(func(conf *domain.Config) {
		syncer.Reconfigure(conf.RequestTimeout, conf.ReconnectInitialBackoff, conf.ReconnectMaxBackoff)
		log.Debug().
			Dur("requestTimeout", conf.RequestTimeout).
			Dur("initialBackoff", conf.ReconnectInitialBackoff).
			Dur("maxBackoff", conf.ReconnectMaxBackoff).
			Msg("Applied reloaded session settings")
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return syncer.Run(gctx)
	})

	if cfg.Config.MetricsEnabled {
		srv, err := metrics.NewServer(cfg.Config.MetricsHost, cfg.Config.MetricsPort, metrics.NewCollector(m, syncer))
		if err != nil {
			cancel()
			return err
		}
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	g.Go(func() error {
		defer cancel()
		defer syncer.Close()

		return tui.Run(gctx, bridge, tui.Options{
			Controller:      tui.NewController(syncer),
			Mirror:          m,
			Profiles:        profiles,
			RefreshInterval: cfg.Config.RefreshInterval,
			Server:          start.server,
			Password:        start.password,
			Autoconnect:     start.autoconnect,
		})
	})

	err = g.Wait()
	log.Info().Msg("Shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
