// Package config loads sfcmap settings from a YAML file, a .env file and
// SFCMAP_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Project struct {
		Root       string `yaml:"root"`
		Production bool   `yaml:"production"`
	} `yaml:"project"`
	SourceMap struct {
		Enabled   bool `yaml:"enabled"`
		Skippable bool `yaml:"skippable"`
		// SourcesDir, when set, is where missing sourcesContent is read from.
		SourcesDir string `yaml:"sources_dir"`
	} `yaml:"sourcemap"`
	Build struct {
		CacheDir    string `yaml:"cache_dir"`
		NoCache     bool   `yaml:"no_cache"`
		Concurrency int    `yaml:"concurrency"`
		MaxErrors   int    `yaml:"max_errors"`
	} `yaml:"build"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.Project.Root = "."
	cfg.SourceMap.Enabled = true
	cfg.Build.Concurrency = 4
	cfg.Build.MaxErrors = 10
	cfg.Log.Level = "info"
	return &cfg
}

// LoadConfig reads the configuration at path on top of Default. An empty path
// skips the file. Values from .env files (next to the config file and in the
// working directory) and the environment override the file.
func LoadConfig(path string) (*Config, error) {
	// 1. Load .env files if they exist. Variables already set win.
	envFiles := []string{".env"}
	if path != "" {
		envFiles = append([]string{filepath.Join(filepath.Dir(path), ".env")}, envFiles...)
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warningf("Failed to load %s: %v", f, err)
		}
	}

	// 2. Load YAML config
	cfg := Default()
	if path != "" {
		file, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	// 3. Override with environment variables if present
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() error {
	if root := os.Getenv("SFCMAP_ROOT"); root != "" {
		cfg.Project.Root = root
	}
	if dir := os.Getenv("SFCMAP_CACHE_DIR"); dir != "" {
		cfg.Build.CacheDir = dir
	}
	if dir := os.Getenv("SFCMAP_SOURCES_DIR"); dir != "" {
		cfg.SourceMap.SourcesDir = dir
	}
	if level := os.Getenv("SFCMAP_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if v := os.Getenv("SFCMAP_PRODUCTION"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid SFCMAP_PRODUCTION %q: %w", v, err)
		}
		cfg.Project.Production = b
	}
	if v := os.Getenv("SFCMAP_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SFCMAP_CONCURRENCY %q: %w", v, err)
		}
		cfg.Build.Concurrency = n
	}
	return nil
}

// Validate checks values that can't be expressed by the YAML types.
func (cfg *Config) Validate() error {
	if cfg.Build.Concurrency < 1 {
		return fmt.Errorf("build.concurrency must be at least 1, got %d", cfg.Build.Concurrency)
	}
	if cfg.Build.MaxErrors < 1 {
		return fmt.Errorf("build.max_errors must be at least 1, got %d", cfg.Build.MaxErrors)
	}
	if _, err := log.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// LogLevel returns the parsed log level. It must only be called on a
// validated Config.
func (cfg *Config) LogLevel() log.Level {
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return level
}
