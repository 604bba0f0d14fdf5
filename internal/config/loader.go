package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".coopdesk"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("COOPDESK_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// Load reads the config file (if present) and applies environment
// variable overrides per group.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil // use defaults if the home dir is unresolvable
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// Override with environment variables for each group.
	envconfig.Process("COOPDESK_PATHS", &cfg.Paths)
	envconfig.Process("COOPDESK_MODEL", &cfg.Model)
	envconfig.Process("COOPDESK_CHANNELS", &cfg.Channels.WhatsApp)
	envconfig.Process("COOPDESK_OPENAI", &cfg.Providers.OpenAI)
	envconfig.Process("COOPDESK_ROUTER", &cfg.Router)
	envconfig.Process("COOPDESK_WORKER", &cfg.Worker)
	envconfig.Process("COOPDESK_PANEL", &cfg.Panel)
	envconfig.Process("COOPDESK_NOTIFY", &cfg.Notify.Slack)
	envconfig.Process("COOPDESK_EVENTS", &cfg.Events)

	applyPathDefaults(cfg)
	return cfg, nil
}

// Save writes the config back to its file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func applyPathDefaults(cfg *Config) {
	if cfg.Paths.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.Paths.DataDir = filepath.Join(home, ConfigDir)
	}
	if cfg.Channels.WhatsApp.DBPath == "" {
		cfg.Channels.WhatsApp.DBPath = filepath.Join(cfg.Paths.DataDir, "whatsapp.db")
	}
}

// StorePath returns the conversation store database path.
func (c *Config) StorePath() string {
	return filepath.Join(c.Paths.DataDir, "coopdesk.db")
}

// MediaDir returns the directory inbound media is downloaded to.
func (c *Config) MediaDir() string {
	return filepath.Join(c.Paths.DataDir, "media")
}
