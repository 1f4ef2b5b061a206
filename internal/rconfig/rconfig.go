// Package rconfig loads runtime configuration for both the tool runner and
// the agent runner: environment variables per spec §6, plus an optional
// YAML overlay for everything not meant to live in the environment.
package rconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the configuration shared by both binaries. Agent definitions
// are not config — they are breadcrumbs — so this only covers connection,
// identity, and tunable knobs.
type Config struct {
	BaseURL   string `yaml:"base_url"`
	ProxyURL  string `yaml:"proxy_url"`
	Workspace string `yaml:"workspace"`
	OwnerID   string `yaml:"owner_id"`
	AgentID   string `yaml:"agent_id"`

	Tools ToolsConfig `yaml:"tools"`

	RetentionHours int           `yaml:"retention_hours"`
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
	ToolTimeout    time.Duration `yaml:"tool_timeout"`
	LLMTimeout     time.Duration `yaml:"llm_timeout"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// ToolsConfig gates which tool providers a tool runner attempts to load.
type ToolsConfig struct {
	EnableBuiltin bool `yaml:"enable_builtin"`
	EnableMCP     bool `yaml:"enable_mcp"`
}

// Default returns a Config with the spec's documented defaults.
func Default() Config {
	return Config{
		Workspace:      "workspace:tools",
		RetentionHours: 24,
		HTTPTimeout:    30 * time.Second,
		ToolTimeout:    30 * time.Second,
		LLMTimeout:     60 * time.Second,
		LogLevel:       "info",
		LogFormat:      "json",
		Tools: ToolsConfig{
			EnableBuiltin: true,
		},
	}
}

// Load builds a Config starting from defaults, overlaying an optional YAML
// file at yamlPath (skipped if empty or missing), then environment
// variables, which always win.
func Load(yamlPath string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(yamlPath) != "" {
		if err := overlayYAML(&cfg, yamlPath); err != nil {
			return Config{}, fmt.Errorf("rconfig: load yaml: %w", err)
		}
	}

	overlayEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlayYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func overlayEnv(cfg *Config) {
	setString(&cfg.BaseURL, "RCRT_BASE_URL")
	setString(&cfg.ProxyURL, "RCRT_PROXY_URL")
	setString(&cfg.Workspace, "WORKSPACE")
	setString(&cfg.OwnerID, "OWNER_ID")
	setString(&cfg.AgentID, "AGENT_ID")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")

	setBool(&cfg.Tools.EnableMCP, "ENABLE_LANGCHAIN_TOOLS")
	setBool(&cfg.Tools.EnableBuiltin, "ENABLE_BUILTIN_TOOLS")

	setInt(&cfg.RetentionHours, "RCRT_RETENTION_HOURS")
	setDuration(&cfg.HTTPTimeout, "RCRT_HTTP_TIMEOUT")
	setDuration(&cfg.ToolTimeout, "RCRT_TOOL_TIMEOUT")
	setDuration(&cfg.LLMTimeout, "RCRT_LLM_TIMEOUT")
}

func setString(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok && strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func setBool(dst *bool, env string) {
	v, ok := os.LookupEnv(env)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err == nil {
		*dst = b
	}
}

func setInt(dst *int, env string) {
	v, ok := os.LookupEnv(env)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err == nil {
		*dst = n
	}
}

func setDuration(dst *time.Duration, env string) {
	v, ok := os.LookupEnv(env)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err == nil {
		*dst = d
	}
}

// ErrConfigMissing is returned by Validate when a required field is unset.
type ErrConfigMissing struct {
	Field string
}

func (e *ErrConfigMissing) Error() string {
	return fmt.Sprintf("rconfig: required field %q is missing", e.Field)
}

// Validate checks the required fields per spec §6.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return &ErrConfigMissing{Field: "RCRT_BASE_URL"}
	}
	if strings.TrimSpace(c.OwnerID) == "" {
		return &ErrConfigMissing{Field: "OWNER_ID"}
	}
	return nil
}
