// Package cmd provides the CLI commands for kounsel.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"kounsel/internal/api"
	"kounsel/internal/appdir"
	"kounsel/internal/chat"
	"kounsel/internal/config"
	"kounsel/internal/logging"
	"kounsel/internal/stream"
)

var (
	// Global flags
	configPath    string
	backendURL    string
	debug         bool
	logLevel      string
	logFile       string
	logComponents string

	// Loaded configuration
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "kounsel",
	Short: "kounsel - a terminal client for the KCET admission counselor",
	Long: `Kounsel is a command-line client for the KCET engineering-admission
counselor backend.

It streams counselor responses live into your terminal, keeps your
conversations in the backend's session store, and lets you browse,
rename, export, and delete them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		effectiveLogLevel := "info"
		if logLevel != "" {
			effectiveLogLevel = logLevel
		} else if debug {
			effectiveLogLevel = "debug"
		}
		var components []string
		if logComponents != "" {
			for _, c := range strings.Split(logComponents, ",") {
				c = strings.TrimSpace(c)
				if c != "" {
					components = append(components, c)
				}
			}
		}

		var err error
		cfg, err = config.Load(effectiveConfigPath())
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if backendURL != "" {
			cfg.BackendURL = strings.TrimRight(backendURL, "/")
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		logCfg := logging.Config{
			Level:      effectiveLogLevel,
			JSON:       cfg.Log.JSON,
			Components: components,
		}
		if cfg.Log.Level != "" && logLevel == "" && !debug {
			logCfg.Level = cfg.Log.Level
		}
		if len(components) == 0 {
			logCfg.Components = cfg.Log.Components
		}
		switch {
		case logFile != "":
			logCfg.FileLog = &logging.FileLogConfig{Path: logFile}
		case cfg.Log.File != "":
			logCfg.FileLog = &logging.FileLogConfig{Path: cfg.Log.File}
		}
		if err := logging.Initialize(logCfg); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		if err := appdir.EnsureDir(); err != nil {
			return fmt.Errorf("failed to create kounsel directory: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Close()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ~/.kounselrc)")
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "Backend base URL (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file (rotated)")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log (default: all)")
}

func effectiveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// newTokenStore builds the mutable token source shared by the REST client
// and the streaming transport, seeded from the loaded config.
func newTokenStore() *api.TokenStore {
	return api.NewTokenStore(cfg.Token)
}

// newAPIClient builds the session store client from the loaded config.
func newAPIClient(tokens api.TokenSource) *api.Client {
	return api.New(cfg.BackendURL,
		api.WithAPIPrefix(cfg.APIPrefix),
		api.WithTokenSource(tokens),
	)
}

// newChatTransport builds the streaming transport selected by the config.
func newChatTransport(tokens api.TokenSource) chat.Transport {
	if cfg.Transport == "ws" {
		return chat.NewWSTransport(stream.NewWSTransport(cfg.BackendURL,
			stream.WithWSAPIPrefix(cfg.APIPrefix),
			stream.WithWSTokenSource(tokens),
		))
	}
	return chat.NewSSETransport(stream.NewTransport(cfg.BackendURL,
		stream.WithAPIPrefix(cfg.APIPrefix),
		stream.WithTokenSource(tokens),
	))
}
