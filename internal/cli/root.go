package cli

import (
	"fmt"

	"github.com/harun/scribe/internal/config"
	"github.com/harun/scribe/internal/daemon"
	"github.com/spf13/cobra"
)

// Version is printed by --version and reported by the daemon.
const Version = "0.1.0"

// globalOptions are the persistent flags every subcommand sees.
type globalOptions struct {
	configPath string
	logLevel   string
}

// NewRootCmd builds the scribe command tree. Each call returns an
// independent tree, so flag values never leak between executions.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "scribe",
		Short: "Scribe - streaming writing assistant for chat channels",
		Long: `Scribe is a writing assistant that answers chat messages by streaming
model output into a placeholder message it keeps editing in place.
It serves a websocket gateway and, optionally, a Telegram bot.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("{{.Name}} version {{.Version}}\n")

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default is $HOME/.scribe/scribe.json)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newStopCmd(opts),
		newStatusCmd(opts),
		newInitCmd(opts),
		newPromptCmd(),
	)
	return cmd
}

// Execute runs the command line and prints any error to stderr.
func Execute() error {
	cmd := NewRootCmd()
	err := cmd.Execute()
	if err != nil {
		cmd.PrintErrln("Error:", err)
	}
	return err
}

func (o *globalOptions) loadConfig() (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(o.configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return loader, cfg, nil
}

func (o *globalOptions) pidFile() (string, error) {
	_, cfg, err := o.loadConfig()
	if err != nil {
		return "", err
	}
	return daemon.PIDFilePath(cfg.DataDir), nil
}
