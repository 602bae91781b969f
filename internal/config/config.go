package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const fileName = "ideaforge.yml"

// Config models ideaforge.yml.
type Config struct {
	Budget struct {
		DailyCostLimit float64 `yaml:"daily_cost_limit"`
		Timezone       string  `yaml:"timezone"`
	} `yaml:"budget"`
	Engine struct {
		MaxConcurrentIdeas int           `yaml:"max_concurrent_ideas"`
		CallTimeout        time.Duration `yaml:"call_timeout"`
		PersistRetries     int           `yaml:"persist_retries"`
		RetryBackoff       time.Duration `yaml:"retry_backoff"`
		Tick               time.Duration `yaml:"tick"`
	} `yaml:"engine"`
	Generation struct {
		Provider         string  `yaml:"provider"`
		Model            string  `yaml:"model"`
		APIKeyEnv        string  `yaml:"api_key_env"`
		CostPerArtifact  float64 `yaml:"cost_per_artifact"`
		InputPricePer1K  float64 `yaml:"input_price_per_1k"`
		OutputPricePer1K float64 `yaml:"output_price_per_1k"`
		OutputDir        string  `yaml:"output_dir"`
	} `yaml:"generation"`
	Classifier struct {
		OntologyPath  string  `yaml:"ontology_path"`
		MinConfidence float64 `yaml:"min_confidence"`
		LLMFallback   bool    `yaml:"llm_fallback"`
	} `yaml:"classifier"`
	Daemon struct {
		InputPath    string        `yaml:"input_path"`
		OutputDir    string        `yaml:"output_dir"`
		PollInterval time.Duration `yaml:"poll_interval"`
		ProjectID    string        `yaml:"project_id"`
	} `yaml:"daemon"`
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Logging struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"logging"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig is one endpoint that receives idea events as they are
// recorded. An empty Events list subscribes to every event type.
type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret,omitempty"`
	Events  []string      `yaml:"events,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
	Enabled *bool         `yaml:"enabled,omitempty"`
}

// Active reports whether the webhook should receive deliveries.
func (w WebhookConfig) Active() bool {
	return (w.Enabled == nil || *w.Enabled) && strings.TrimSpace(w.URL) != ""
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with ideaforge init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Budget.DailyCostLimit <= 0 {
		return fmt.Errorf("config.budget.daily_cost_limit must be positive")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config.budget.timezone: %w", err)
	}
	if c.Engine.MaxConcurrentIdeas < 1 {
		return fmt.Errorf("config.engine.max_concurrent_ideas must be at least 1")
	}
	if c.Engine.CallTimeout <= 0 {
		return fmt.Errorf("config.engine.call_timeout must be positive")
	}
	if c.Engine.PersistRetries < 0 {
		return fmt.Errorf("config.engine.persist_retries must not be negative")
	}
	if c.Engine.Tick <= 0 {
		return fmt.Errorf("config.engine.tick must be positive")
	}
	switch c.Generation.Provider {
	case "offline":
	case "gemini":
		if c.Generation.Model == "" {
			return fmt.Errorf("config.generation.model is required for provider gemini")
		}
	default:
		return fmt.Errorf("config.generation.provider must be 'offline' or 'gemini'")
	}
	if c.Generation.CostPerArtifact < 0 || c.Generation.InputPricePer1K < 0 || c.Generation.OutputPricePer1K < 0 {
		return fmt.Errorf("config.generation prices must not be negative")
	}
	if c.Classifier.MinConfidence < 0 || c.Classifier.MinConfidence > 1 {
		return fmt.Errorf("config.classifier.min_confidence must be within [0,1]")
	}
	if c.Daemon.PollInterval <= 0 {
		return fmt.Errorf("config.daemon.poll_interval must be positive")
	}
	if c.Daemon.ProjectID == "" {
		return fmt.Errorf("config.daemon.project_id is required")
	}
	for i, hook := range c.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if !strings.HasPrefix(hook.URL, "http://") && !strings.HasPrefix(hook.URL, "https://") {
			return fmt.Errorf("config.webhooks[%d].url must be an http(s) URL", i)
		}
		if hook.Timeout < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout must not be negative", i)
		}
	}
	return nil
}

// Location resolves the timezone that defines a budget day.
func (c *Config) Location() (*time.Location, error) {
	if c.Budget.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Budget.Timezone)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
// Keys missing from the document keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `budget:
  daily_cost_limit: 5.00
  timezone: UTC

engine:
  max_concurrent_ideas: 3
  call_timeout: 60s
  persist_retries: 3
  retry_backoff: 200ms
  tick: 500ms

generation:
  provider: offline
  model: gemini-2.5-flash
  api_key_env: GEMINI_API_KEY
  cost_per_artifact: 0.05
  input_price_per_1k: 0.0003
  output_price_per_1k: 0.0025
  output_dir: .ideaforge/projects

classifier:
  ontology_path: ""
  min_confidence: 0.5
  llm_fallback: false

daemon:
  input_path: ideas.txt
  output_dir: .ideaforge/status
  poll_interval: 2s
  project_id: default

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  jwt_secret: ""

logging:
  level: info
  json: true

webhooks: []
`
