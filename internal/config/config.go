package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models authorline.yml.
type Config struct {
	Upstream struct {
		Authoring struct {
			BaseURL string `yaml:"base_url"`
			Token   string `yaml:"token"`
		} `yaml:"authoring"`
		Terminology struct {
			BaseURL string `yaml:"base_url"`
			Token   string `yaml:"token"`
		} `yaml:"terminology"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"upstream"`
	Server struct {
		Listen    string `yaml:"listen"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Review struct {
		// DefaultReviewers supplements a task whose snapshot carries no
		// reviewer assignments.
		DefaultReviewers []string `yaml:"default_reviewers"`
	} `yaml:"review"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig is one outbound event subscription.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run al init to generate one", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns defaults when no config file exists.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := Load(workspace)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Upstream.Authoring.BaseURL == "" {
		return fmt.Errorf("config.upstream.authoring.base_url is required")
	}
	if c.Upstream.Terminology.BaseURL == "" {
		return fmt.Errorf("config.upstream.terminology.base_url is required")
	}
	if c.Upstream.Timeout < 0 {
		return fmt.Errorf("config.upstream.timeout must not be negative")
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("config.server.listen is required")
	}
	return nil
}

// Path returns the config path for the workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "authorline.yml")
}

// Default returns a config with local defaults filled in.
func Default() *Config {
	var c Config
	c.Upstream.Authoring.BaseURL = "http://localhost:8081"
	c.Upstream.Terminology.BaseURL = "http://localhost:8082"
	c.Upstream.Timeout = 10 * time.Second
	c.Server.Listen = "127.0.0.1:8090"
	return &c
}

// FromYAML parses and validates a config document.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile loads a config from an explicit path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault renders the starter authorline.yml.
func GenerateDefault() string {
	return `upstream:
  authoring:
    base_url: http://localhost:8081
  terminology:
    base_url: http://localhost:8082
  timeout: 10s

server:
  listen: 127.0.0.1:8090

review:
  default_reviewers: []
`
}
