// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// Global is a singleton instance
	Global WilliwawConfig
	once   sync.Once

	// pathOverride is set by SetPath before the first Load.
	pathOverride string
)

// SetPath overrides the config file location for this process. It must
// be called before the first Load; later calls have no effect because
// the singleton is already populated.
func SetPath(path string) {
	pathOverride = path
}

// Load ensures the config is loaded into the Global variable
func Load() error {
	var err error
	once.Do(func() {
		Global, err = loadFile(resolvePath())
	})
	return err
}

// resolvePath picks the config file location: SetPath override first,
// then the WILLIWAW_CONFIG environment variable, then the default
// ~/.williwaw/williwaw.yaml.
func resolvePath() string {
	if pathOverride != "" {
		return pathOverride
	}
	if env := os.Getenv("WILLIWAW_CONFIG"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "williwaw.yaml"
	}
	return filepath.Join(home, ".williwaw", "williwaw.yaml")
}

// loadFile reads, defaults, and validates one config file. The file is
// created with defaults on first run.
func loadFile(path string) (WilliwawConfig, error) {
	var cfg WilliwawConfig
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return cfg, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read the config file: %w", err)
	}
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	defaultCfg := DefaultConfig()
	data, err := yaml.Marshal(defaultCfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides lets deployment environments adjust a shared config
// file without editing it. Environment always wins over file values.
func applyEnvOverrides(cfg *WilliwawConfig) {
	if v := os.Getenv("WILLIWAW_CORPUS_PATHS"); v != "" {
		cfg.Corpus.Paths = splitPaths(v)
	}
	if v := os.Getenv("WILLIWAW_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("WILLIWAW_MODEL_BACKEND"); v != "" {
		cfg.ModelBackend.Type = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.ModelBackend.BaseURL = v
	}
	if v := os.Getenv("WILLIWAW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("WILLIWAW_TELEMETRY"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Telemetry.Enabled = enabled
		}
	}
}

// splitPaths splits a PATH-style list on the OS list separator.
func splitPaths(v string) []string {
	parts := strings.Split(v, string(os.PathListSeparator))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
