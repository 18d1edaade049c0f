package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/harun/scribe/internal/config"
	"github.com/harun/scribe/pkg/agent"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/cobra"
)

const secretLength = 32

func newInitCmd(opts *globalOptions) *cobra.Command {
	var (
		provider string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Write a default configuration file with a freshly generated gateway
shared secret. The model API key is read from the environment and is never
written to the file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader := config.NewLoader(opts.configPath)
			path := loader.GetConfigPath()
			if path == "" {
				return errors.New("failed to resolve config path")
			}

			_, err := os.Stat(path)
			switch {
			case err == nil && !force:
				return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
			case err != nil && !errors.Is(err, fs.ErrNotExist):
				return fmt.Errorf("failed to check config file: %w", err)
			}

			cfg, err := defaultConfigFor(provider)
			if err != nil {
				return err
			}
			if err := loader.Save(cfg); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration saved to: %s\n", path)
			fmt.Fprintf(out, "Set %s before starting, then run: scribe serve\n", cfg.Model.APIKeyEnv())
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", config.ProviderGemini, "model provider (gemini, openai, anthropic)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

// defaultConfigFor returns the default config for provider with a new
// gateway secret and no API key.
func defaultConfigFor(provider string) (*config.Config, error) {
	secret, err := gonanoid.New(secretLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate shared secret: %w", err)
	}

	cfg := config.DefaultConfig()
	cfg.Model.Provider = provider
	cfg.Model.Name = agent.DefaultModel(provider)
	cfg.Gateway.SharedSecret = secret

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
