package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SCRIBE_GATEWAY_PORT.
const EnvPrefix = "SCRIBE"

const (
	defaultDirName  = ".scribe"
	defaultFileName = "scribe.json"
)

// envKeys can be set from the environment even when the file omits them.
var envKeys = []string{
	"model.provider",
	"model.name",
	"model.api_key",
	"gateway.host",
	"gateway.port",
	"gateway.shared_secret",
	"gateway.store_path",
	"telegram.enabled",
	"telegram.bot_token",
	"logging.level",
	"logging.audit_file",
	"tracing.enabled",
	"tracing.exporter",
	"tracing.endpoint",
	"data_dir",
}

// Loader reads and writes one JSON config file.
type Loader struct {
	configPath string
	getenv     func(string) string
}

func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		getenv:     os.Getenv,
	}
}

// GetConfigPath returns the file the loader uses: the path it was created
// with, or ~/.scribe/scribe.json. Empty when the home directory is unknown.
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultDirName, defaultFileName)
}

func (l *Loader) newViper() (*viper.Viper, string, error) {
	path := l.GetConfigPath()
	if path == "" {
		return nil, "", fmt.Errorf("failed to resolve config path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	return v, path, nil
}

// Load reads the config file over the defaults, applies SCRIBE_* overrides
// and fills derived paths and the model credential. A missing file is not
// an error.
func (l *Loader) Load() (*Config, error) {
	v, path, err := l.newViper()
	if err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	switch _, err := os.Stat(path); {
	case err == nil:
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := l.resolve(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolve fills what the file may leave out: the credential from the
// provider's environment variable and paths under the data directory.
func (l *Loader) resolve(cfg *Config) error {
	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = l.getenv(cfg.Model.APIKeyEnv())
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, defaultDirName)
	}
	defaultPath(&cfg.Logging.File, cfg.DataDir, "scribe.log")
	defaultPath(&cfg.Gateway.StorePath, cfg.DataDir, "scribe.db")
	return nil
}

func defaultPath(field *string, dir, name string) {
	if *field == "" {
		*field = filepath.Join(dir, name)
	}
}

// Save writes cfg, creating the directory if needed. The model credential
// is never written.
func (l *Loader) Save(cfg *Config) error {
	v, path, err := l.newViper()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	model := cfg.Model
	model.APIKey = ""

	for key, section := range map[string]interface{}{
		"model":      model,
		"responder":  cfg.Responder,
		"gateway":    cfg.Gateway,
		"telegram":   cfg.Telegram,
		"supervisor": cfg.Supervisor,
		"logging":    cfg.Logging,
		"tracing":    cfg.Tracing,
		"data_dir":   cfg.DataDir,
	} {
		v.Set(key, section)
	}

	// WriteConfig refuses a missing file and SafeWriteConfig an existing one.
	write := v.WriteConfig
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		write = v.SafeWriteConfig
	}
	if err := write(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load is shorthand for NewLoader(configPath).Load().
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
