package cli

import (
	"fmt"

	"github.com/harun/scribe/internal/config"
	"github.com/harun/scribe/internal/daemon"
	"github.com/harun/scribe/internal/logger"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Scribe daemon in the foreground",
		Long: `Run the Scribe daemon in the foreground.
Starts the websocket gateway, the Telegram bot when enabled and the agent
supervisor, then blocks until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *globalOptions) error {
	loader, cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
		Secrets:   []string{cfg.Model.APIKey, cfg.Gateway.SharedSecret, cfg.Telegram.BotToken},
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	for _, warning := range config.Warnings(cfg) {
		log.Warn().Err(warning).Msg("Configuration warning")
	}

	d, err := daemon.New(cfg, log, daemon.Options{Version: Version, Loader: loader})
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		d.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	d.Wait()
	return nil
}
