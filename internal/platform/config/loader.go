package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Loader reads configuration from an optional yaml file, layered over the
// defaults, with vendor credentials taken from the environment.
type Loader struct {
	path      string
	useDotEnv bool
}

// NewLoader creates a loader for the given config file path. An empty path
// means defaults plus environment only.
func NewLoader(path string) *Loader {
	return &Loader{
		path:      path,
		useDotEnv: true,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load builds the effective configuration.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		if err := godotenv.Load(); err != nil {
			fmt.Println("no .env file found, using system environment")
		}
	}

	cfg := DefaultConfig()
	path := "defaults"

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file %s: %w", l.path, err)
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", l.path, err)
			}
			path = l.path
		}
	}

	applyEnvOverrides(cfg)

	return &Result{
		Config: cfg,
		Path:   path,
	}, nil
}

// applyEnvOverrides copies vendor credentials from the environment so they
// never have to live in the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AMIVOICE_APP_KEY"); v != "" {
		cfg.AmiVoice.AppKey = v
	}
	if v := os.Getenv("AMIVOICE_PASSWORD"); v != "" {
		cfg.AmiVoice.Password = v
	}
	if v := os.Getenv("AMIVOICE_API_KEY"); v != "" {
		cfg.AmiVoice.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("TOPMEDIAI_API_KEY"); v != "" {
		cfg.Music.APIKey = v
	}
}
