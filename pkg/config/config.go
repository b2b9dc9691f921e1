package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Config is the top-level kubenl configuration, loaded from
// ~/.config/kubenl/config.yaml (or KUBENL_CONFIG).
type Config struct {
	LLM      LLMConfig     `yaml:"llm" json:"llm"`
	Storage  StorageConfig `yaml:"storage" json:"storage"`
	Risk     RiskConfig    `yaml:"risk" json:"risk"`
	Tool     string        `yaml:"tool" json:"tool"`           // Target tool prefix for generated commands (default: kubectl)
	LogLevel string        `yaml:"log_level" json:"log_level"` // debug, info, warn, error

	// ConfidenceThreshold is the score below which an advisory banner is
	// shown next to the proposed command (default: 70).
	ConfidenceThreshold int `yaml:"confidence_threshold" json:"confidence_threshold"`
}

// LLMConfig holds translation backend settings.
type LLMConfig struct {
	// Local backend (primary). Ollama-compatible chat endpoint.
	LocalEndpoint string `yaml:"local_endpoint" json:"local_endpoint"`
	LocalModel    string `yaml:"local_model" json:"local_model"`

	// Remote backend (fallback). OpenAI-compatible chat completions endpoint.
	RemoteEndpoint string `yaml:"remote_endpoint" json:"remote_endpoint"`
	RemoteModel    string `yaml:"remote_model" json:"remote_model"`
	APIKey         string `yaml:"api_key" json:"api_key"`

	TimeoutSeconds int  `yaml:"timeout_seconds" json:"timeout_seconds"` // Hard per-call timeout (default: 10)
	RetryEnabled   bool `yaml:"retry_enabled" json:"retry_enabled"`     // One retry on transient failure
	SkipTLSVerify  bool `yaml:"skip_tls_verify" json:"skip_tls_verify"`
}

// StorageConfig holds audit persistence configuration.
type StorageConfig struct {
	DBType     string `yaml:"db_type" json:"db_type"` // sqlite (default), postgres, mysql, mariadb
	DBPath     string `yaml:"db_path" json:"db_path"` // SQLite file path
	DBHost     string `yaml:"db_host" json:"db_host"`
	DBPort     int    `yaml:"db_port" json:"db_port"`
	DBName     string `yaml:"db_name" json:"db_name"`
	DBUser     string `yaml:"db_user" json:"db_user"`
	DBPassword string `yaml:"db_password" json:"db_password"`
	DBSSLMode  string `yaml:"db_ssl_mode" json:"db_ssl_mode"`

	// RetentionDays is how long audit entries are kept. The sweep runs at
	// startup and daily thereafter. 0 falls back to the default (90).
	RetentionDays int `yaml:"retention_days" json:"retention_days"`

	// OutputCapBytes caps captured stdout/stderr per audit entry (default 10 KiB).
	OutputCapBytes int `yaml:"output_cap_bytes" json:"output_cap_bytes"`
}

// RiskConfig holds the verb catalogs used by risk classification. The
// catalogs are data, not code: operators can extend them without rebuilding.
// Built-in defaults are merged in, so partial overrides are safe.
type RiskConfig struct {
	ReadVerbs        []string `yaml:"read_verbs" json:"read_verbs"`
	MutatingVerbs    []string `yaml:"mutating_verbs" json:"mutating_verbs"`
	DestructiveVerbs []string `yaml:"destructive_verbs" json:"destructive_verbs"`
	DangerousFlags   []string `yaml:"dangerous_flags" json:"dangerous_flags"`
}

const (
	DefaultConfidenceThreshold = 70
	DefaultRetentionDays       = 90
	DefaultOutputCapBytes      = 10 * 1024
	DefaultTimeoutSeconds      = 10

	// DefaultLocalEndpoint is the conventional Ollama address.
	DefaultLocalEndpoint = "http://localhost:11434"
	DefaultLocalModel    = "qwen2.5:3b"

	DefaultRemoteEndpoint = "https://api.openai.com/v1"
	DefaultRemoteModel    = "gpt-4o-mini"
)

// GetConfigPath returns the config file location, honoring KUBENL_CONFIG.
func GetConfigPath() string {
	if p := os.Getenv("KUBENL_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(xdg.ConfigHome, "kubenl", "config.yaml")
}

// GetConfigDir returns the kubenl configuration directory.
func GetConfigDir() string {
	return filepath.Join(xdg.ConfigHome, "kubenl")
}

// DefaultDBPath returns the default SQLite database path.
func DefaultDBPath() string {
	return filepath.Join(xdg.ConfigHome, "kubenl", "audit.db")
}

// DefaultAllowlistPath returns the default allowlist file path.
func DefaultAllowlistPath() string {
	return filepath.Join(xdg.ConfigHome, "kubenl", "allowlist")
}

// DefaultLogPath returns the default log file path. Logs go to a file
// because stderr is owned by the terminal UI.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "kubenl", "kubenl.log")
}

// NewDefaultConfig returns a configuration with all defaults applied.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads the config file, applying defaults for anything unset.
// A missing file is not an error; a malformed file is.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(GetConfigPath())
}

// LoadConfigFrom reads configuration from an explicit path.
func LoadConfigFrom(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// First run: defaults only.
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Save writes the configuration back to the config path.
func (c *Config) Save() error {
	path := GetConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) applyDefaults() {
	if c.Tool == "" {
		c.Tool = "kubectl"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if c.LLM.LocalEndpoint == "" {
		c.LLM.LocalEndpoint = DefaultLocalEndpoint
	}
	if c.LLM.LocalModel == "" {
		c.LLM.LocalModel = DefaultLocalModel
	}
	if c.LLM.RemoteEndpoint == "" {
		c.LLM.RemoteEndpoint = DefaultRemoteEndpoint
	}
	if c.LLM.RemoteModel == "" {
		c.LLM.RemoteModel = DefaultRemoteModel
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("KUBENL_API_KEY")
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.Storage.DBType == "" {
		c.Storage.DBType = "sqlite"
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = DefaultDBPath()
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = DefaultRetentionDays
	}
	if c.Storage.OutputCapBytes == 0 {
		c.Storage.OutputCapBytes = DefaultOutputCapBytes
	}
}
