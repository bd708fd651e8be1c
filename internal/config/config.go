// Package config loads the service configuration from a YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort          = "8080"
	DefaultModelPath     = "models/plant_disease_model.onnx"
	DefaultMetadataPath  = "models/model_metadata.json"
	DefaultInterpolation = "bicubic"
	DefaultGeminiModel   = "gemini-2.5-flash"
	DefaultFetchTimeout  = 5 * time.Minute
)

type Config struct {
	Port   string       `yaml:"port"`
	Model  ModelConfig  `yaml:"model"`
	Gemini GeminiConfig `yaml:"gemini"`
}

type ModelConfig struct {
	// Path is where the artifact lives locally; it doubles as the download cache.
	Path         string `yaml:"path"`
	MetadataPath string `yaml:"metadata_path"`
	// Source is an http(s) URL or drive://<fileID>. Empty disables fetching.
	Source         string `yaml:"source"`
	DriveAPIKey    string `yaml:"drive_api_key"`
	RuntimeLibrary string `yaml:"runtime_library"`
	Interpolation  string `yaml:"interpolation"`
	// FetchTimeoutMs is the whole-download timeout in milliseconds.
	FetchTimeoutMs int  `yaml:"fetch_timeout_ms"`
	Preload        bool `yaml:"preload"`
}

type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Port: DefaultPort,
		Model: ModelConfig{
			Path:          DefaultModelPath,
			MetadataPath:  DefaultMetadataPath,
			Interpolation: DefaultInterpolation,
			Preload:       true,
		},
		Gemini: GeminiConfig{
			Model: DefaultGeminiModel,
		},
	}
}

// Load reads the YAML file at path on top of Default and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	cfg.ApplyEnv()
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default with environment
// overrides applied. found reports whether the file existed.
func LoadOrDefault(path string) (cfg *Config, found bool, err error) {
	cfg, err = Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		cfg.ApplyEnv()
		return cfg, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// ApplyEnv overrides values from PORT, ONNXRUNTIME_LIB, DRIVE_API_KEY and GEMINI_API_KEY.
func (c *Config) ApplyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		c.Port = port
	}
	if lib := os.Getenv("ONNXRUNTIME_LIB"); lib != "" {
		c.Model.RuntimeLibrary = lib
	}
	if c.Model.DriveAPIKey == "" {
		c.Model.DriveAPIKey = os.Getenv("DRIVE_API_KEY")
	}
	if c.Gemini.APIKey == "" {
		c.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
}

// FetchTimeout returns the download timeout, DefaultFetchTimeout if unset.
func (c *Config) FetchTimeout() time.Duration {
	if c.Model.FetchTimeoutMs <= 0 {
		return DefaultFetchTimeout
	}
	return time.Duration(c.Model.FetchTimeoutMs) * time.Millisecond
}

func (c *Config) applyDefaults() {
	if c.Port == "" {
		c.Port = DefaultPort
	}
	if c.Model.Path == "" {
		c.Model.Path = DefaultModelPath
	}
	if c.Model.MetadataPath == "" {
		c.Model.MetadataPath = DefaultMetadataPath
	}
	if c.Model.Interpolation == "" {
		c.Model.Interpolation = DefaultInterpolation
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = DefaultGeminiModel
	}
}
