package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// StoreBackend selects where spilled and persisted graphs are kept.
type StoreBackend string

const (
	StoreFile   StoreBackend = "file"
	StoreBadger StoreBackend = "badger"
	StoreMemory StoreBackend = "memory"
)

// Config holds all configuration for jcfg
type Config struct {
	// InferenceLevel selects the exception type inference strategy:
	// conservative, flow-sensitive, flow-insensitive or combined.
	InferenceLevel string `yaml:"inference_level" env:"JCFG_INFERENCE_LEVEL"`

	// ExcludedPackages are call-target namespaces that never split a block.
	ExcludedPackages []string `yaml:"excluded_packages" env:"JCFG_EXCLUDED_PACKAGES"`

	// BranchExtensions enables branch ID assignment and its file/binary fields.
	BranchExtensions bool `yaml:"branch_extensions" env:"JCFG_BRANCH_EXTENSIONS"`

	// LegacyFiles writes map/cf files without method signatures.
	LegacyFiles bool `yaml:"legacy_files" env:"JCFG_LEGACY_FILES"`

	// Graph persistence
	CacheDir          string       `yaml:"cache_dir" env:"JCFG_CACHE_DIR"`
	StoreBackend      StoreBackend `yaml:"store_backend" env:"JCFG_STORE_BACKEND"`
	MaxResidentGraphs int          `yaml:"max_resident_graphs" env:"JCFG_MAX_RESIDENT_GRAPHS"`
	ClassCacheSize    int          `yaml:"class_cache_size" env:"JCFG_CLASS_CACHE_SIZE"`
	BindingCacheBytes int64        `yaml:"binding_cache_bytes" env:"JCFG_BINDING_CACHE_BYTES"`

	// Output
	OutputDir   string `yaml:"output_dir" env:"JCFG_OUTPUT_DIR"`
	MetricsFile string `yaml:"metrics_file" env:"JCFG_METRICS_FILE"`
	Workers     int    `yaml:"workers" env:"JCFG_WORKERS"`

	// Logging
	LogLevel string `yaml:"log_level" env:"JCFG_LOG_LEVEL"`
	JSONLogs bool   `yaml:"json_logs" env:"JCFG_JSON_LOGS"`
}

var inferenceLevels = []string{"conservative", "flow-sensitive", "flow-insensitive", "combined"}

// InferenceLevels lists the accepted inference_level values.
func InferenceLevels() []string {
	return append([]string(nil), inferenceLevels...)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		InferenceLevel:    "flow-sensitive",
		ExcludedPackages:  []string{"java", "javax", "com.sun", "org.omg"},
		BranchExtensions:  true,
		LegacyFiles:       false,
		CacheDir:          filepath.Join(".jcfg", "graphs"),
		StoreBackend:      StoreFile,
		MaxResidentGraphs: 2048,
		ClassCacheSize:    512,
		BindingCacheBytes: 256 << 10,
		OutputDir:         ".",
		MetricsFile:       "",
		Workers:           4,
		LogLevel:          "info",
		JSONLogs:          false,
	}
}

// GlobalConfigFilePath returns the global config file path (~/.jcfg/config.yaml)
func GlobalConfigFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".jcfg/config.yaml"
	}
	return filepath.Join(home, ".jcfg", "config.yaml")
}

// ProjectConfigFilePath returns the project-level config file path (./.jcfg/config.yaml)
func ProjectConfigFilePath() string {
	return filepath.Join(".jcfg", "config.yaml")
}

// StateDir is the directory holding build state next to the graph store,
// ".jcfg" with the default cache_dir.
func (c *Config) StateDir() string {
	return filepath.Dir(filepath.Clean(c.CacheDir))
}

// Load reads configuration with the following priority (highest to lowest):
// 1. Environment variables
// 2. Project-level config (./.jcfg/config.yaml)
// 3. Global config (~/.jcfg/config.yaml)
// 4. Defaults
func Load() (*Config, error) {
	cfg := DefaultConfig()

	for _, path := range []string{GlobalConfigFilePath(), ProjectConfigFilePath()} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific YAML file path
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	if data, err := os.ReadFile(path); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to the specified YAML file path.
// It creates parent directories if they don't exist.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("JCFG_INFERENCE_LEVEL"); v != "" {
		cfg.InferenceLevel = v
	}
	if v := os.Getenv("JCFG_EXCLUDED_PACKAGES"); v != "" {
		cfg.ExcludedPackages = splitList(v)
	}
	if v := os.Getenv("JCFG_BRANCH_EXTENSIONS"); v != "" {
		cfg.BranchExtensions = parseBool(v)
	}
	if v := os.Getenv("JCFG_LEGACY_FILES"); v != "" {
		cfg.LegacyFiles = parseBool(v)
	}
	if v := os.Getenv("JCFG_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("JCFG_STORE_BACKEND"); v != "" {
		cfg.StoreBackend = StoreBackend(v)
	}
	if v := os.Getenv("JCFG_MAX_RESIDENT_GRAPHS"); v != "" {
		if i := parseInt(v); i > 0 {
			cfg.MaxResidentGraphs = i
		}
	}
	if v := os.Getenv("JCFG_CLASS_CACHE_SIZE"); v != "" {
		if i := parseInt(v); i > 0 {
			cfg.ClassCacheSize = i
		}
	}
	if v := os.Getenv("JCFG_BINDING_CACHE_BYTES"); v != "" {
		if i := parseInt(v); i > 0 {
			cfg.BindingCacheBytes = int64(i)
		}
	}
	if v := os.Getenv("JCFG_OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("JCFG_METRICS_FILE"); v != "" {
		cfg.MetricsFile = v
	}
	if v := os.Getenv("JCFG_WORKERS"); v != "" {
		if i := parseInt(v); i > 0 {
			cfg.Workers = i
		}
	}
	if v := os.Getenv("JCFG_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("JCFG_JSON_LOGS"); v != "" {
		cfg.JSONLogs = parseBool(v)
	}
}

// Validate checks that the configuration has valid required fields
func (c *Config) Validate() error {
	valid := false
	for _, l := range inferenceLevels {
		if c.InferenceLevel == l {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid inference_level: %s (must be one of %s)",
			c.InferenceLevel, strings.Join(inferenceLevels, ", "))
	}

	switch c.StoreBackend {
	case StoreFile, StoreBadger:
		if c.CacheDir == "" {
			return fmt.Errorf("cache_dir is required when store_backend is %s", c.StoreBackend)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("invalid store_backend: %s (must be 'file', 'badger' or 'memory')", c.StoreBackend)
	}

	if c.MaxResidentGraphs <= 0 {
		return fmt.Errorf("max_resident_graphs must be positive")
	}
	if c.ClassCacheSize <= 0 {
		return fmt.Errorf("class_cache_size must be positive")
	}
	if c.BindingCacheBytes <= 0 {
		return fmt.Errorf("binding_cache_bytes must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}

	for _, p := range c.ExcludedPackages {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("excluded_packages must not contain empty entries")
		}
	}

	return nil
}

// parseInt parses an integer from a string
func parseInt(s string) int {
	var i int
	fmt.Sscanf(s, "%d", &i)
	return i
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
