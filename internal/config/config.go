// Package config loads CLI and daemon configuration from file,
// environment, and flags, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds every tunable the CLI and serve daemon read.
type Config struct {
	// Remote record store
	StoreBaseURL    string `mapstructure:"store_base_url"`
	StoreAPIKey     string `mapstructure:"store_api_key"`
	UserID          string `mapstructure:"user_id"`
	RecordID        string `mapstructure:"record_id"`
	AuthToken       string `mapstructure:"auth_token"`
	TokenRefreshURL string `mapstructure:"token_refresh_url"`

	// Save coordinator
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`

	// Bridge server
	BridgePort     int      `mapstructure:"bridge_port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// Local state
	CachePath string `mapstructure:"cache_path"`
	LogFile   string `mapstructure:"log_file"`

	// Card generation
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	AnthropicModel  string `mapstructure:"anthropic_model"`
}

func setDefaults(v *viper.Viper) {
	// Every key gets a default so it is known to viper; AutomaticEnv
	// only resolves keys viper has seen.
	v.SetDefault("store_base_url", "")
	v.SetDefault("store_api_key", "")
	v.SetDefault("user_id", "")
	v.SetDefault("record_id", "")
	v.SetDefault("auth_token", "")
	v.SetDefault("token_refresh_url", "")
	v.SetDefault("anthropic_api_key", "")
	v.SetDefault("max_retries", 3)
	v.SetDefault("base_delay", time.Second)
	v.SetDefault("bridge_port", 8732)
	v.SetDefault("allowed_origins", []string{"localhost:*", "127.0.0.1:*"})
	v.SetDefault("cache_path", defaultStatePath("cache.db"))
	v.SetDefault("log_file", defaultStatePath("serve.log"))
	v.SetDefault("anthropic_model", "claude-sonnet-4-5")
}

func defaultStatePath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".cardbank", name)
}

// Load reads configuration from the given file (optional), the standard
// search paths, and CARDBANK_* environment variables.
func Load(file string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CARDBANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("cardbank")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".cardbank"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// No config file on the search path is fine; env and defaults
		// still apply. An explicitly named file must exist.
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, v, nil
}

// Watch re-reads the config file on change and invokes onChange with
// the fresh values. Used by the serve daemon for hot reload.
func Watch(v *viper.Viper, onChange func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg := &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

// Validate checks the fields every remote operation needs.
func (c *Config) Validate() error {
	if c.StoreBaseURL == "" {
		return fmt.Errorf("store_base_url is required (set CARDBANK_STORE_BASE_URL or the config file)")
	}
	if c.StoreAPIKey == "" {
		return fmt.Errorf("store_api_key is required")
	}
	return nil
}
