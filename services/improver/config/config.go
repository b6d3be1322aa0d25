// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the improver service configuration with
// priority: env > file > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after
// creation.
type Config struct {
	// Server contains HTTP listener settings.
	Server ServerConfig `json:"server" yaml:"server"`

	// Graph contains knowledge graph store settings.
	Graph GraphConfig `json:"graph" yaml:"graph"`

	// LLM contains language model client settings.
	LLM LLMConfig `json:"llm" yaml:"llm"`

	// Pipeline contains job execution settings.
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`

	// GitHub contains pull request settings.
	GitHub GitHubConfig `json:"github" yaml:"github"`

	// Logging contains log output settings.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Port int    `json:"port" yaml:"port"`
	Mode string `json:"mode" yaml:"mode"`
}

// GraphConfig contains knowledge graph store settings.
type GraphConfig struct {
	DataDir    string `json:"data_dir" yaml:"data_dir"`
	InMemory   bool   `json:"in_memory" yaml:"in_memory"`
	SyncWrites bool   `json:"sync_writes" yaml:"sync_writes"`
}

// LLMConfig contains language model client settings. The API key is
// never stored in the file; only the env variable name is.
type LLMConfig struct {
	BaseURL    string `json:"base_url" yaml:"base_url"`
	Model      string `json:"model" yaml:"model"`
	APIKeyEnv  string `json:"api_key_env" yaml:"api_key_env"`
	MaxRetries int    `json:"max_retries" yaml:"max_retries"`
}

// APIKey reads the key from the configured env variable.
func (l LLMConfig) APIKey() string {
	return os.Getenv(l.APIKeyEnv)
}

// PipelineConfig contains job execution settings.
type PipelineConfig struct {
	CloneBaseDir string        `json:"clone_base_dir" yaml:"clone_base_dir"`
	CloneTimeout time.Duration `json:"clone_timeout" yaml:"clone_timeout"`
	FileWorkers  int           `json:"file_workers" yaml:"file_workers"`
	MaxFileSize  int64         `json:"max_file_size" yaml:"max_file_size"`
	ToolTimeout  time.Duration `json:"tool_timeout" yaml:"tool_timeout"`
}

// GitHubConfig contains pull request settings.
type GitHubConfig struct {
	TokenEnv string `json:"token_env" yaml:"token_env"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
}

// Token reads the token from the configured env variable.
func (g GitHubConfig) Token() string {
	return os.Getenv(g.TokenEnv)
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port: 8090,
			Mode: "release",
		},
		Graph: GraphConfig{
			DataDir:    "/var/lib/forge/graph",
			InMemory:   false,
			SyncWrites: false,
		},
		LLM: LLMConfig{
			Model:      "gpt-4o-mini",
			APIKeyEnv:  "FORGE_LLM_API_KEY",
			MaxRetries: 3,
		},
		Pipeline: PipelineConfig{
			CloneTimeout: 5 * time.Minute,
			FileWorkers:  0, // 0 means NumCPU
			MaxFileSize:  10 << 20,
			ToolTimeout:  2 * time.Minute,
		},
		GitHub: GitHubConfig{
			TokenEnv: "FORGE_GITHUB_TOKEN",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load merges defaults, an optional YAML file, and environment
// overrides, then validates the result.
func Load(configPath string) (Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := loadFile(configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	loadEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist, use defaults
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("FORGE_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = i
		}
	}
	if v := os.Getenv("FORGE_GIN_MODE"); v != "" {
		cfg.Server.Mode = v
	}
	if v := os.Getenv("FORGE_GRAPH_DATA_DIR"); v != "" {
		cfg.Graph.DataDir = v
	}
	if v := os.Getenv("FORGE_GRAPH_IN_MEMORY"); v != "" {
		cfg.Graph.InMemory = v == "true" || v == "1"
	}
	if v := os.Getenv("FORGE_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("FORGE_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("FORGE_LLM_MAX_RETRIES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.LLM.MaxRetries = i
		}
	}
	if v := os.Getenv("FORGE_CLONE_BASE_DIR"); v != "" {
		cfg.Pipeline.CloneBaseDir = v
	}
	if v := os.Getenv("FORGE_CLONE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.CloneTimeout = d
		}
	}
	if v := os.Getenv("FORGE_FILE_WORKERS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.FileWorkers = i
		}
	}
	if v := os.Getenv("FORGE_MAX_FILE_SIZE"); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Pipeline.MaxFileSize = i
		}
	}
	if v := os.Getenv("FORGE_TOOL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.ToolTimeout = d
		}
	}
	if v := os.Getenv("FORGE_GITHUB_BASE_URL"); v != "" {
		cfg.GitHub.BaseURL = v
	}
	if v := os.Getenv("FORGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FORGE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// Validate checks invariants the rest of the service assumes.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if !c.Graph.InMemory && c.Graph.DataDir == "" {
		return errors.New("graph data_dir required unless in_memory is set")
	}
	if c.Pipeline.MaxFileSize <= 0 {
		return errors.New("pipeline max_file_size must be positive")
	}
	if c.Pipeline.CloneTimeout <= 0 {
		return errors.New("pipeline clone_timeout must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}
