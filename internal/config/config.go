package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Engine names accepted by analysis.engine.
const (
	EngineClip   = "clip"
	EngineOllama = "ollama"
)

// Storage drivers accepted by storage.driver.
const (
	DriverMattn   = "sqlite3"
	DriverModernc = "sqlite"
)

// Config holds all photosort configuration.
type Config struct {
	Ollama   OllamaConfig   `yaml:"ollama"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Clip     ClipConfig     `yaml:"clip"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// OllamaConfig configures the remote classifier.
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Think   bool   `yaml:"think"`
	Stream  bool   `yaml:"stream"`
	Timeout string `yaml:"timeout"`
}

// AnalysisConfig configures how a job classifies photos.
type AnalysisConfig struct {
	Engine        string `yaml:"engine"` // clip, ollama
	ResizeEnabled bool   `yaml:"resize_enabled"`
	MaxEdge       int    `yaml:"max_edge"`
	JPEGQuality   int    `yaml:"jpeg_quality"`
	ValueEnabled  bool   `yaml:"value_enabled"`
	Concurrency   int    `yaml:"concurrency"`
}

// ClipConfig configures the local embedding engine.
type ClipConfig struct {
	ModelDir         string        `yaml:"model_dir"`    // explicit override; empty = auto
	ResourceDir      string        `yaml:"resource_dir"` // bundled resources location
	ModelFile        string        `yaml:"model_file"`
	FallbackToOllama bool          `yaml:"fallback_to_ollama"`
	RuntimeLibrary   string        `yaml:"runtime_library"` // onnxruntime shared library
	Backends         BackendConfig `yaml:"backends"`
}

// BackendConfig toggles execution backends. Accelerators are only
// considered when Auto is set; CPU is always available.
type BackendConfig struct {
	Auto     bool `yaml:"auto"`
	CoreML   bool `yaml:"coreml"`
	CUDA     bool `yaml:"cuda"`
	ROCm     bool `yaml:"rocm"`
	DirectML bool `yaml:"directml"`
	OpenVINO bool `yaml:"openvino"`
}

// StorageConfig configures the result database.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// DefaultDir returns ~/.photosort, falling back to ./.photosort.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".photosort"
	}
	return filepath.Join(home, ".photosort")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// DefaultConcurrency is min(cores, 4).
func DefaultConcurrency() int {
	n := runtime.NumCPU()
	if n > 4 {
		n = 4
	}
	if n < 1 {
		n = 1
	}
	return n
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Ollama: OllamaConfig{
			BaseURL: "http://127.0.0.1:11434",
			Model:   "qwen2.5vl:7b",
			Timeout: "5m",
		},
		Analysis: AnalysisConfig{
			Engine:        EngineClip,
			ResizeEnabled: true,
			MaxEdge:       768,
			JPEGQuality:   60,
			Concurrency:   DefaultConcurrency(),
		},
		Clip: ClipConfig{
			ModelFile: "onnx/model_q4f16.onnx",
			Backends: BackendConfig{
				Auto:   true,
				CoreML: runtime.GOOS == "darwin",
			},
		},
		Storage: StorageConfig{
			Driver: DriverMattn,
			Path:   filepath.Join(DefaultDir(), "images.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
// PHOTOSORT_OLLAMA_URL takes precedence over OLLAMA_HOST.
func (c *Config) applyEnvOverrides() {
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		if !strings.Contains(host, "://") {
			host = "http://" + host
		}
		c.Ollama.BaseURL = host
	}
	if url := os.Getenv("PHOTOSORT_OLLAMA_URL"); url != "" {
		c.Ollama.BaseURL = url
	}
	if model := os.Getenv("PHOTOSORT_OLLAMA_MODEL"); model != "" {
		c.Ollama.Model = model
	}
	if engine := os.Getenv("PHOTOSORT_ENGINE"); engine != "" {
		c.Analysis.Engine = strings.ToLower(engine)
	}
	if dir := os.Getenv("PHOTOSORT_CLIP_MODEL_DIR"); dir != "" {
		c.Clip.ModelDir = dir
	}
	if lib := os.Getenv("ONNXRUNTIME_LIB"); lib != "" {
		c.Clip.RuntimeLibrary = lib
	}
	if db := os.Getenv("PHOTOSORT_DB"); db != "" {
		c.Storage.Path = db
	}
	if level := os.Getenv("PHOTOSORT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Normalize clamps concurrency to [1, cores] and turns streaming off when
// more than one task runs at a time.
func (c *Config) Normalize(cores int) {
	if cores < 1 {
		cores = 1
	}
	if c.Analysis.Concurrency < 1 {
		c.Analysis.Concurrency = 1
	}
	if c.Analysis.Concurrency > cores {
		c.Analysis.Concurrency = cores
	}
	if c.Analysis.Concurrency > 1 {
		c.Ollama.Stream = false
	}
}

// GetOllamaTimeout parses the Ollama request timeout.
func (c *Config) GetOllamaTimeout() time.Duration {
	d, err := time.ParseDuration(c.Ollama.Timeout)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Analysis.Engine {
	case EngineClip, EngineOllama:
	default:
		return fmt.Errorf("invalid analysis.engine: %q (use %q or %q)", c.Analysis.Engine, EngineClip, EngineOllama)
	}

	if c.Analysis.Engine == EngineOllama || c.Clip.FallbackToOllama {
		if strings.TrimSpace(c.Ollama.BaseURL) == "" {
			return fmt.Errorf("ollama.base_url is required")
		}
		if strings.TrimSpace(c.Ollama.Model) == "" {
			return fmt.Errorf("ollama.model is required")
		}
	}

	if c.Analysis.Engine == EngineClip && strings.TrimSpace(c.Clip.ModelFile) == "" {
		return fmt.Errorf("clip.model_file is required")
	}

	if c.Analysis.JPEGQuality < 1 || c.Analysis.JPEGQuality > 100 {
		return fmt.Errorf("analysis.jpeg_quality must be within 1..100, got %d", c.Analysis.JPEGQuality)
	}
	if c.Analysis.ResizeEnabled && c.Analysis.MaxEdge <= 0 {
		return fmt.Errorf("analysis.max_edge must be positive when resizing")
	}

	switch c.Storage.Driver {
	case DriverMattn, DriverModernc:
	default:
		return fmt.Errorf("invalid storage.driver: %q (use %q or %q)", c.Storage.Driver, DriverMattn, DriverModernc)
	}

	return nil
}
