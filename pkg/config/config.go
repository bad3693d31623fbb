// Package config loads and persists the cloudnav configuration file.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig  `yaml:"server" json:"server"`
	LLM         LLMConfig     `yaml:"llm" json:"llm"`
	ACL         ACLConfig     `yaml:"acl" json:"acl"`
	Exec        ExecConfig    `yaml:"exec" json:"exec"`
	Credentials CredConfig    `yaml:"credentials" json:"credentials"`
	Sessions    SessionConfig `yaml:"sessions" json:"sessions"`
	Storage     StorageConfig `yaml:"storage" json:"storage"`
	LogLevel    string        `yaml:"log_level" json:"log_level"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port" json:"port"`
	// RequestTimeoutSeconds bounds one whole request (LLM calls + subprocess).
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" json:"request_timeout_seconds"`
	// PromptRatePerMinute limits /api/prompt per client; APIRatePerMinute the rest.
	PromptRatePerMinute int `yaml:"prompt_rate_per_minute" json:"prompt_rate_per_minute"`
	APIRatePerMinute    int `yaml:"api_rate_per_minute" json:"api_rate_per_minute"`
	// AdminPasswordHash is a bcrypt hash guarding /api/audit and /api/metrics.
	// Empty disables the admin endpoints.
	AdminPasswordHash string `yaml:"admin_password_hash" json:"-"`
	// CORSAllowedOrigins lists extra origins beyond same-origin.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" json:"cors_allowed_origins"`
}

type LLMConfig struct {
	Provider      string  `yaml:"provider" json:"provider"`
	Model         string  `yaml:"model" json:"model"`
	Endpoint      string  `yaml:"endpoint" json:"endpoint"`
	APIKey        string  `yaml:"api_key" json:"api_key"`
	SkipTLSVerify bool    `yaml:"skip_tls_verify" json:"skip_tls_verify"`
	RetryEnabled  bool    `yaml:"retry_enabled" json:"retry_enabled"`
	MaxRetries    int     `yaml:"max_retries" json:"max_retries"`
	MaxBackoff    float64 `yaml:"max_backoff" json:"max_backoff"` // seconds
	// CallTimeoutSeconds bounds a single LLM call.
	CallTimeoutSeconds int `yaml:"call_timeout_seconds" json:"call_timeout_seconds"`
}

// ACLConfig is the command allow/deny policy. Entries are command prefixes
// relative to the tool binary, e.g. "compute instances list" or "app".
type ACLConfig struct {
	Allowlist []string `yaml:"allowlist" json:"allowlist"`
	Denylist  []string `yaml:"denylist" json:"denylist"`
}

// ExecConfig controls subprocess execution.
type ExecConfig struct {
	// TimeoutSeconds bounds a single spawned command.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
	// LintEnabled runs `gcloud meta lint-gcloud-commands` before execution.
	LintEnabled bool `yaml:"lint_enabled" json:"lint_enabled"`
	// Binaries overrides the resolved executable per tool name.
	Binaries map[string]string `yaml:"binaries" json:"binaries"`
}

// CredConfig controls credential injection into child processes.
type CredConfig struct {
	// AmbientOperations lists command prefixes (per tool) that must run with
	// the service's own identity instead of the caller's token, e.g.
	// "gsutil signurl" or "storage sign-url".
	AmbientOperations []string `yaml:"ambient_operations" json:"ambient_operations"`
}

// SessionConfig bounds the in-memory conversation store.
type SessionConfig struct {
	MaxConversations int `yaml:"max_conversations" json:"max_conversations"`
	TTLMinutes       int `yaml:"ttl_minutes" json:"ttl_minutes"`
	MaxTurns         int `yaml:"max_turns" json:"max_turns"`
	// SweepSchedule is a cron spec for the eviction sweep.
	SweepSchedule string `yaml:"sweep_schedule" json:"sweep_schedule"`
}

// StorageConfig holds audit persistence settings.
type StorageConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	DBType     string `yaml:"db_type" json:"db_type"` // sqlite, postgres, mysql
	DBPath     string `yaml:"db_path" json:"db_path"` // SQLite file (default: ~/.config/cloudnav/audit.db)
	DBHost     string `yaml:"db_host" json:"db_host"`
	DBPort     int    `yaml:"db_port" json:"db_port"`
	DBName     string `yaml:"db_name" json:"db_name"`
	DBUser     string `yaml:"db_user" json:"db_user"`
	DBPassword string `yaml:"db_password" json:"db_password"`
	DBSSLMode  string `yaml:"db_ssl_mode" json:"db_ssl_mode"`

	// AuditRetentionDays prunes old rows (0 = keep forever).
	AuditRetentionDays int `yaml:"audit_retention_days" json:"audit_retention_days"`
	// RetentionSchedule is a cron spec for the purge job.
	RetentionSchedule string `yaml:"retention_schedule" json:"retention_schedule"`
}

func GetConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "cloudnav", "config.yaml")
}

// DefaultDBPath returns the default SQLite database path.
func DefaultDBPath() string {
	return filepath.Join(xdg.ConfigHome, "cloudnav", "audit.db")
}

// DefaultGeminiEndpoint is the default Gemini API endpoint.
const DefaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"

// DefaultGeminiModel is the recommended model for command generation.
const DefaultGeminiModel = "gemini-2.5-flash"

func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                  8080,
			RequestTimeoutSeconds: 120,
			PromptRatePerMinute:   30,
			APIRatePerMinute:      300,
		},
		LLM: LLMConfig{
			Provider:           "gemini",
			Model:              DefaultGeminiModel,
			Endpoint:           DefaultGeminiEndpoint,
			RetryEnabled:       true,
			MaxRetries:         5,
			MaxBackoff:         10.0,
			CallTimeoutSeconds: 60,
		},
		ACL: ACLConfig{
			// Default-allow with a conservative denylist; an allowlist, once
			// configured, switches the gate to default-deny.
			Denylist: []string{
				"ssh",
				"compute ssh",
				"compute reset-windows-password",
				"auth",
				"config set",
				"components",
			},
		},
		Exec: ExecConfig{
			TimeoutSeconds: 60,
			LintEnabled:    true,
		},
		Credentials: CredConfig{
			AmbientOperations: []string{
				"storage sign-url",
				"gsutil signurl",
			},
		},
		Sessions: SessionConfig{
			MaxConversations: 1000,
			TTLMinutes:       60,
			MaxTurns:         200,
			SweepSchedule:    "@every 5m",
		},
		Storage: StorageConfig{
			Enabled:            true,
			DBType:             "sqlite",
			DBPath:             "", // empty means DefaultDBPath()
			AuditRetentionDays: 90,
			RetentionSchedule:  "@daily",
		},
		LogLevel: "info",
	}
}

// GetEffectiveDBPath returns the configured SQLite path or the default.
func (c *Config) GetEffectiveDBPath() string {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath
	}
	return DefaultDBPath()
}

func LoadConfig() (*Config, error) {
	return LoadConfigFromPath(GetConfigPath())
}

// LoadConfigFromPath loads the config file at path, falling back to defaults
// when the file is missing or unreadable. Env overrides always apply last.
func LoadConfigFromPath(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			cfg = NewDefaultConfig()
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides applies CLOUDNAV_* environment variable overrides.
// Environment variables take precedence over config file values so the
// service can be configured in containers without a config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CLOUDNAV_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("CLOUDNAV_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("CLOUDNAV_LLM_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}
	if v := os.Getenv("CLOUDNAV_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("CLOUDNAV_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port < 65536 {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CLOUDNAV_ADMIN_PASSWORD_HASH"); v != "" {
		cfg.Server.AdminPasswordHash = v
	}
	if v := os.Getenv("CLOUDNAV_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func (c *Config) Save() error {
	path := GetConfigPath()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
