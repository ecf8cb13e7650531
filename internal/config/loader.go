package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix          = "WIRECHAT"
	envConfigDir       = "WIRECHAT_CONFIG_DEFAULT_PATH"
	defaultConfigName  = "config.yaml"
	defaultConfigPerms = 0o600
)

// Load resolves configuration and returns it with the config file path used.
// Precedence: defaults < config file < WIRECHAT_* env vars. Callers layer
// flag overrides on top with UpdateFrom. A missing file is created from the
// defaults so users have something to edit.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	defaults := Default()
	path := configPath(explicitPath)

	created, err := ensureConfigFile(path, defaults)
	switch {
	case err != nil && logger != nil:
		logger.Warn().Err(err).Str("path", path).Msg("failed to write default config")
	case created && logger != nil:
		logger.Info().Str("path", path).Msg("created default config")
	}

	v, err := newViper(defaults)
	if err != nil {
		return defaults, path, err
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil && !isMissing(err) {
		return defaults, path, fmt.Errorf("read config: %w", err)
	}

	cfg := defaults
	if err := v.Unmarshal(&cfg); err != nil {
		return defaults, path, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, path, err
	}
	return cfg, path, nil
}

// Validate rejects values the client cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("config: endpoint is required")
	}
	switch c.Store.Driver {
	case StoreSQLite, StorePebble:
		if c.Store.Path == "" {
			return fmt.Errorf("config: store.path is required for driver %q", c.Store.Driver)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "console", "json":
	default:
		return fmt.Errorf("config: unknown log_format %q", c.LogFormat)
	}
	if c.MaxAttempts < 0 {
		return errors.New("config: max_attempts must not be negative")
	}
	if c.HistoryLimit < 0 {
		return errors.New("config: history_limit must not be negative")
	}
	return nil
}

// newViper registers every default key. Viper only maps env vars onto keys
// it knows about, so nested vars such as WIRECHAT_STORE_DRIVER depend on it.
func newViper(defaults Config) (*viper.Viper, error) {
	seed, err := yaml.Marshal(defaults)
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(seed, &tree); err != nil {
		return nil, fmt.Errorf("decode defaults: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, "", tree)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for key, value := range tree {
		if nested, ok := value.(map[string]any); ok {
			setDefaults(v, prefix+key+".", nested)
			continue
		}
		v.SetDefault(prefix+key, value)
	}
}

// configPath picks the explicit path, then $WIRECHAT_CONFIG_DEFAULT_PATH, then the working directory.
func configPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	dir := os.Getenv(envConfigDir)
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return defaultConfigName
		}
		dir = cwd
	}
	return filepath.Join(dir, defaultConfigName)
}

// ensureConfigFile writes cfg to path unless a file already exists there.
func ensureConfigFile(path string, cfg Config) (bool, error) {
	if _, err := os.Stat(path); err == nil || !errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(path, data, defaultConfigPerms); err != nil {
		return false, err
	}
	return true, nil
}

func isMissing(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}
