// Package config provides application configuration loading and path management.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
)

// Config holds application-level settings. Server definitions are not
// configured here; they live in the encrypted configuration store.
type Config struct {
	// DataDir overrides the default data directory.
	DataDir string `json:"dataDir,omitempty"`
	// LogLevel is the minimum log level (DEBUG|INFO|WARN|ERROR).
	LogLevel string `json:"logLevel,omitempty"`
	// StorageSecret is the secret the encrypted store derives its key from.
	StorageSecret string `json:"storageSecret,omitempty"`
	// HandshakeTimeoutMs bounds the initialize/tools-list exchanges.
	HandshakeTimeoutMs int `json:"handshakeTimeoutMs,omitempty"`
	// ToolCallTimeoutMs bounds individual tool invocations.
	ToolCallTimeoutMs int `json:"toolCallTimeoutMs,omitempty"`
}

// Defaults used when a setting is absent everywhere.
const (
	DefaultHandshakeTimeoutMs = 10_000
	DefaultToolCallTimeoutMs  = 60_000
)

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/toolbridge/toolbridge.json[c])
// 2. Project config (./toolbridge.json[c])
// 3. TOOLBRIDGE_CONFIG file
// 4. Environment variables
func Load(directory string) (*Config, error) {
	config := &Config{}

	loaded := make(map[string]bool)
	loadOnce := func(path string, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "toolbridge.json"), globalPath)
	loadOnce(filepath.Join(globalPath, "toolbridge.jsonc"), globalPath)

	if directory != "" {
		loadOnce(filepath.Join(directory, "toolbridge.json"), directory)
		loadOnce(filepath.Join(directory, "toolbridge.jsonc"), directory)
	}

	if configPath := os.Getenv("TOOLBRIDGE_CONFIG"); configPath != "" {
		loadOnce(configPath, filepath.Dir(configPath))
	}

	applyEnvOverrides(config)
	applyDefaults(config)

	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	// Strip JSONC comments using tidwall/jsonc
	data = jsonc.ToJSON(data)
	data = interpolate(data, baseDir)

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	merge(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	envPattern := regexp.MustCompile(`\{env:([^}]+)\}`)
	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	filePattern := regexp.MustCompile(`\{file:([^}]+)\}`)
	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		fileName := filePattern.FindStringSubmatch(match)[1]
		if !filepath.IsAbs(fileName) {
			fileName = filepath.Join(baseDir, fileName)
		}
		content, err := os.ReadFile(fileName)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(content))
	})

	return []byte(str)
}

// merge overlays non-zero fields of src onto dst.
func merge(dst, src *Config) {
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.StorageSecret != "" {
		dst.StorageSecret = src.StorageSecret
	}
	if src.HandshakeTimeoutMs > 0 {
		dst.HandshakeTimeoutMs = src.HandshakeTimeoutMs
	}
	if src.ToolCallTimeoutMs > 0 {
		dst.ToolCallTimeoutMs = src.ToolCallTimeoutMs
	}
}

// applyEnvOverrides applies TOOLBRIDGE_* environment variables (highest priority).
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("TOOLBRIDGE_DATA_DIR"); v != "" {
		config.DataDir = v
	}
	if v := os.Getenv("TOOLBRIDGE_LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("TOOLBRIDGE_STORAGE_SECRET"); v != "" {
		config.StorageSecret = v
	}
}

func applyDefaults(config *Config) {
	if config.DataDir == "" {
		config.DataDir = GetPaths().Data
	}
	if config.LogLevel == "" {
		config.LogLevel = "INFO"
	}
	if config.HandshakeTimeoutMs == 0 {
		config.HandshakeTimeoutMs = DefaultHandshakeTimeoutMs
	}
	if config.ToolCallTimeoutMs == 0 {
		config.ToolCallTimeoutMs = DefaultToolCallTimeoutMs
	}
}
