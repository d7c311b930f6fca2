package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{"InferenceLevel", cfg.InferenceLevel, "flow-sensitive"},
		{"BranchExtensions", cfg.BranchExtensions, true},
		{"LegacyFiles", cfg.LegacyFiles, false},
		{"StoreBackend", cfg.StoreBackend, StoreFile},
		{"MaxResidentGraphs", cfg.MaxResidentGraphs, 2048},
		{"ClassCacheSize", cfg.ClassCacheSize, 512},
		{"BindingCacheBytes", cfg.BindingCacheBytes, int64(256 << 10)},
		{"Workers", cfg.Workers, 4},
		{"LogLevel", cfg.LogLevel, "info"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("DefaultConfig().%s = %v, want %v", tt.name, tt.got, tt.expected)
			}
		})
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v, want nil", err)
	}
	if got := cfg.StateDir(); got != ".jcfg" {
		t.Errorf("DefaultConfig().StateDir() = %q, want %q", got, ".jcfg")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		wantErr     bool
		errContains string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "memory store without dir", mutate: func(c *Config) {
			c.StoreBackend = StoreMemory
			c.CacheDir = ""
		}},
		{name: "combined level", mutate: func(c *Config) { c.InferenceLevel = "combined" }},
		{
			name:        "invalid level",
			mutate:      func(c *Config) { c.InferenceLevel = "precise" },
			wantErr:     true,
			errContains: "invalid inference_level",
		},
		{
			name:        "invalid backend",
			mutate:      func(c *Config) { c.StoreBackend = "redis" },
			wantErr:     true,
			errContains: "invalid store_backend",
		},
		{
			name: "badger without dir",
			mutate: func(c *Config) {
				c.StoreBackend = StoreBadger
				c.CacheDir = ""
			},
			wantErr:     true,
			errContains: "cache_dir is required",
		},
		{
			name:        "zero resident graphs",
			mutate:      func(c *Config) { c.MaxResidentGraphs = 0 },
			wantErr:     true,
			errContains: "max_resident_graphs",
		},
		{
			name:        "zero binding cache",
			mutate:      func(c *Config) { c.BindingCacheBytes = 0 },
			wantErr:     true,
			errContains: "binding_cache_bytes",
		},
		{
			name:        "zero workers",
			mutate:      func(c *Config) { c.Workers = 0 },
			wantErr:     true,
			errContains: "workers",
		},
		{
			name:        "empty excluded package",
			mutate:      func(c *Config) { c.ExcludedPackages = []string{"java", " "} },
			wantErr:     true,
			errContains: "excluded_packages",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.errContains)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		check   func(t *testing.T, c *Config)
		wantErr bool
	}{
		{
			name: "overrides selected fields",
			content: `inference_level: conservative
branch_extensions: false
excluded_packages: [java, kotlin]
workers: 2
`,
			check: func(t *testing.T, c *Config) {
				if c.InferenceLevel != "conservative" {
					t.Errorf("InferenceLevel = %s", c.InferenceLevel)
				}
				if c.BranchExtensions {
					t.Errorf("BranchExtensions = true, want false")
				}
				if !reflect.DeepEqual(c.ExcludedPackages, []string{"java", "kotlin"}) {
					t.Errorf("ExcludedPackages = %v", c.ExcludedPackages)
				}
				if c.Workers != 2 {
					t.Errorf("Workers = %d", c.Workers)
				}
				if c.MaxResidentGraphs != 2048 {
					t.Errorf("MaxResidentGraphs = %d, want default", c.MaxResidentGraphs)
				}
			},
		},
		{name: "invalid yaml", content: "inference_level: [", wantErr: true},
		{name: "invalid value", content: "store_backend: tape\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			cfg, err := LoadFromFile(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadFromFile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}

	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFromFile(missing) error = nil, want error")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("JCFG_INFERENCE_LEVEL", "combined")
	t.Setenv("JCFG_EXCLUDED_PACKAGES", "java, scala ,")
	t.Setenv("JCFG_BRANCH_EXTENSIONS", "no")
	t.Setenv("JCFG_LEGACY_FILES", "yes")
	t.Setenv("JCFG_STORE_BACKEND", "badger")
	t.Setenv("JCFG_MAX_RESIDENT_GRAPHS", "16")
	t.Setenv("JCFG_BINDING_CACHE_BYTES", "4096")
	t.Setenv("JCFG_WORKERS", "-3")
	t.Setenv("JCFG_JSON_LOGS", "1")

	cfg := DefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.InferenceLevel != "combined" {
		t.Errorf("InferenceLevel = %s", cfg.InferenceLevel)
	}
	if !reflect.DeepEqual(cfg.ExcludedPackages, []string{"java", "scala"}) {
		t.Errorf("ExcludedPackages = %v", cfg.ExcludedPackages)
	}
	if cfg.BranchExtensions {
		t.Error("BranchExtensions = true, want false")
	}
	if !cfg.LegacyFiles {
		t.Error("LegacyFiles = false, want true")
	}
	if cfg.StoreBackend != StoreBadger {
		t.Errorf("StoreBackend = %s", cfg.StoreBackend)
	}
	if cfg.MaxResidentGraphs != 16 {
		t.Errorf("MaxResidentGraphs = %d", cfg.MaxResidentGraphs)
	}
	if cfg.BindingCacheBytes != 4096 {
		t.Errorf("BindingCacheBytes = %d", cfg.BindingCacheBytes)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, negative override must be ignored", cfg.Workers)
	}
	if !cfg.JSONLogs {
		t.Error("JSONLogs = false, want true")
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"42", 42},
		{"0", 0},
		{"abc", 0},
		{"-7", -7},
	}
	for _, tt := range tests {
		if got := parseInt(tt.in); got != tt.want {
			t.Errorf("parseInt(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestConfigSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.yaml")

	cfg := DefaultConfig()
	cfg.InferenceLevel = "flow-insensitive"
	cfg.LegacyFiles = true

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if loaded.InferenceLevel != "flow-insensitive" || !loaded.LegacyFiles {
		t.Errorf("loaded config = %+v", loaded)
	}
}
