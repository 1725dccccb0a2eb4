package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadFromFile(t *testing.T) {
	// Create a temporary directory for test files
	tmpDir := t.TempDir()

	tests := []struct {
		name      string
		content   string
		wantErr   bool
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "basic configuration",
			content: `# Test configuration
DataDirectory /tmp/tor-test
LogLevel debug`,
			wantErr: false,
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.DataDirectory != "/tmp/tor-test" {
					t.Errorf("DataDirectory = %s, want /tmp/tor-test", cfg.DataDirectory)
				}
				if cfg.LogLevel != "debug" {
					t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
				}
			},
		},
		{
			name: "circuit settings",
			content: `CircuitBuildTimeout 90s
MaxCircuitDirtiness 15m
NewCircuitPeriod 45s
NumEntryGuards 5`,
			wantErr: false,
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.CircuitBuildTimeout != 90*time.Second {
					t.Errorf("CircuitBuildTimeout = %v, want 90s", cfg.CircuitBuildTimeout)
				}
				if cfg.MaxCircuitDirtiness != 15*time.Minute {
					t.Errorf("MaxCircuitDirtiness = %v, want 15m", cfg.MaxCircuitDirtiness)
				}
				if cfg.NewCircuitPeriod != 45*time.Second {
					t.Errorf("NewCircuitPeriod = %v, want 45s", cfg.NewCircuitPeriod)
				}
				if cfg.NumEntryGuards != 5 {
					t.Errorf("NumEntryGuards = %d, want 5", cfg.NumEntryGuards)
				}
			},
		},
		{
			name:    "boolean settings",
			content: `UseEntryGuards 0`,
			wantErr: false,
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.UseEntryGuards != false {
					t.Errorf("UseEntryGuards = %v, want false", cfg.UseEntryGuards)
				}
			},
		},
		{
			name: "list settings",
			content: `ExcludeNodes node1
ExcludeNodes node2
ExcludeExitNodes exit1`,
			wantErr: false,
			checkFunc: func(t *testing.T, cfg *Config) {
				if len(cfg.ExcludeNodes) != 2 {
					t.Errorf("len(ExcludeNodes) = %d, want 2", len(cfg.ExcludeNodes))
				}
				if len(cfg.ExcludeExitNodes) != 1 {
					t.Errorf("len(ExcludeExitNodes) = %d, want 1", len(cfg.ExcludeExitNodes))
				}
			},
		},
		{
			name: "comments and empty lines",
			content: `# This is a comment
NumEntryGuards 4

# Another comment
LogLevel warn
`,
			wantErr: false,
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.NumEntryGuards != 4 {
					t.Errorf("NumEntryGuards = %d, want 4", cfg.NumEntryGuards)
				}
				if cfg.LogLevel != "warn" {
					t.Errorf("LogLevel = %s, want warn", cfg.LogLevel)
				}
			},
		},
		{
			name: "duration formats",
			content: `CircuitBuildTimeout 60s
MaxCircuitDirtiness 10m
NewCircuitPeriod 2h`,
			wantErr: false,
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.CircuitBuildTimeout != 60*time.Second {
					t.Errorf("CircuitBuildTimeout = %v, want 60s", cfg.CircuitBuildTimeout)
				}
				if cfg.MaxCircuitDirtiness != 10*time.Minute {
					t.Errorf("MaxCircuitDirtiness = %v, want 10m", cfg.MaxCircuitDirtiness)
				}
				if cfg.NewCircuitPeriod != 2*time.Hour {
					t.Errorf("NewCircuitPeriod = %v, want 2h", cfg.NewCircuitPeriod)
				}
			},
		},
		{
			name:      "invalid duration",
			content:   `CircuitBuildTimeout invalid`,
			wantErr:   true,
			checkFunc: nil,
		},
		{
			name:      "invalid validation - guard count too low",
			content:   `NumEntryGuards 0`,
			wantErr:   true,
			checkFunc: nil,
		},
		{
			name: "unknown options ignored",
			content: `NumEntryGuards 4
UnknownOption value
LogLevel warn`,
			wantErr: false,
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.NumEntryGuards != 4 {
					t.Errorf("NumEntryGuards = %d, want 4", cfg.NumEntryGuards)
				}
				if cfg.LogLevel != "warn" {
					t.Errorf("LogLevel = %s, want warn", cfg.LogLevel)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Create test file
			testFile := filepath.Join(tmpDir, tt.name+".conf")
			if err := os.WriteFile(testFile, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("Failed to create test file: %v", err)
			}

			// Load configuration
			cfg := DefaultConfig()
			err := LoadFromFile(testFile, cfg)

			if (err != nil) != tt.wantErr {
				t.Errorf("LoadFromFile() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if tt.checkFunc != nil {
				tt.checkFunc(t, cfg)
			}
		})
	}
}

func TestLoadFromFile_FileNotFound(t *testing.T) {
	cfg := DefaultConfig()
	err := LoadFromFile("/nonexistent/file.conf", cfg)
	if err == nil {
		t.Error("LoadFromFile() should return error for nonexistent file")
	}
}

func TestLoadFromFile_NilConfig(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.conf")
	if err := os.WriteFile(testFile, []byte("NumEntryGuards 3"), 0o644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	err := LoadFromFile(testFile, nil)
	if err == nil {
		t.Error("LoadFromFile() should return error for nil config")
	}
}

func TestSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "saved.conf")

	// Create a config with custom values
	cfg := DefaultConfig()
	cfg.DataDirectory = "/custom/path"
	cfg.LogLevel = "debug"
	cfg.NumEntryGuards = 5
	cfg.UseEntryGuards = false
	cfg.ExcludeNodes = []string{"node1"}
	cfg.CircuitBuildTimeout = 90 * time.Second

	// Save configuration
	if err := SaveToFile(testFile, cfg); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	// Load it back
	loadedCfg := DefaultConfig()
	if err := LoadFromFile(testFile, loadedCfg); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	// Verify values match
	if loadedCfg.DataDirectory != cfg.DataDirectory {
		t.Errorf("DataDirectory = %s, want %s", loadedCfg.DataDirectory, cfg.DataDirectory)
	}
	if loadedCfg.LogLevel != cfg.LogLevel {
		t.Errorf("LogLevel = %s, want %s", loadedCfg.LogLevel, cfg.LogLevel)
	}
	if loadedCfg.NumEntryGuards != cfg.NumEntryGuards {
		t.Errorf("NumEntryGuards = %d, want %d", loadedCfg.NumEntryGuards, cfg.NumEntryGuards)
	}
	if loadedCfg.UseEntryGuards != cfg.UseEntryGuards {
		t.Errorf("UseEntryGuards = %v, want %v", loadedCfg.UseEntryGuards, cfg.UseEntryGuards)
	}
	if len(loadedCfg.ExcludeNodes) != len(cfg.ExcludeNodes) {
		t.Errorf("len(ExcludeNodes) = %d, want %d", len(loadedCfg.ExcludeNodes), len(cfg.ExcludeNodes))
	}
	if loadedCfg.CircuitBuildTimeout != cfg.CircuitBuildTimeout {
		t.Errorf("CircuitBuildTimeout = %v, want %v", loadedCfg.CircuitBuildTimeout, cfg.CircuitBuildTimeout)
	}
}

func TestSaveToFile_NilConfig(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.conf")

	err := SaveToFile(testFile, nil)
	if err == nil {
		t.Error("SaveToFile() should return error for nil config")
	}
}

func TestPathValidation(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{
			name:    "valid absolute path",
			path:    "/tmp/config.conf",
			wantErr: false,
		},
		{
			name:    "valid relative path",
			path:    "config.conf",
			wantErr: false,
		},
		{
			name:    "valid nested relative path",
			path:    "configs/tor/config.conf",
			wantErr: false,
		},
		{
			name:    "directory traversal attack with ..",
			path:    "../../../etc/passwd",
			wantErr: true,
		},
		{
			name:    "directory traversal in middle",
			path:    "configs/../../../etc/passwd",
			wantErr: true,
		},
		{
			name:    "double dot escape",
			path:    "configs/../../etc/passwd",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("validatePath() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSaveToFile_PathValidation(t *testing.T) {
	cfg := DefaultConfig()

	// Try to save to a path with directory traversal
	err := SaveToFile("../../../etc/passwd", cfg)
	if err == nil {
		t.Error("SaveToFile() should reject path with directory traversal")
	}
	if !strings.Contains(err.Error(), "path validation failed") {
		t.Errorf("Expected path validation error, got: %v", err)
	}
}

func TestLoadFromFile_PathValidation(t *testing.T) {
	cfg := DefaultConfig()

	// Try to load from a path with directory traversal
	err := LoadFromFile("../../../etc/passwd", cfg)
	if err == nil {
		t.Error("LoadFromFile() should reject path with directory traversal")
	}
	if !strings.Contains(err.Error(), "path validation failed") {
		t.Errorf("Expected path validation error, got: %v", err)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"seconds", "60s", 60 * time.Second, false},
		{"minutes", "5m", 5 * time.Minute, false},
		{"hours", "2h", 2 * time.Hour, false},
		{"days", "1d", 24 * time.Hour, false},
		{"uppercase seconds", "60S", 60 * time.Second, false},
		{"uppercase days", "2D", 48 * time.Hour, false},
		{"go duration", "1h30m", 90 * time.Minute, false},
		{"numeric only (seconds)", "300", 300 * time.Second, false},
		{"empty string", "", 0, true},
		{"invalid format", "abc", 0, true},
		{"invalid suffix", "10x", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDuration(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseDuration() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("parseDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"1", "1", true},
		{"0", "0", false},
		{"true", "true", true},
		{"false", "false", false},
		{"yes", "yes", true},
		{"no", "no", false},
		{"on", "on", true},
		{"off", "off", false},
		{"uppercase TRUE", "TRUE", true},
		{"uppercase FALSE", "FALSE", false},
		{"mixed case Yes", "Yes", true},
		{"invalid", "invalid", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseBool(tt.input)
			if got != tt.want {
				t.Errorf("parseBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name  string
		input time.Duration
		want  string
	}{
		{"seconds", 45 * time.Second, "45s"},
		{"minutes", 5 * time.Minute, "5m"},
		{"hours", 2 * time.Hour, "2h"},
		{"days", 24 * time.Hour, "1d"},
		{"multiple days", 48 * time.Hour, "2d"},
		{"60 seconds as minutes", 60 * time.Second, "1m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatDuration(tt.input)
			if got != tt.want {
				t.Errorf("formatDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatBool(t *testing.T) {
	tests := []struct {
		name  string
		input bool
		want  string
	}{
		{"true", true, "1"},
		{"false", false, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatBool(tt.input)
			if got != tt.want {
				t.Errorf("formatBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

func BenchmarkLoadFromFile(b *testing.B) {
	tmpDir := b.TempDir()
	testFile := filepath.Join(tmpDir, "bench.conf")

	content := `# Benchmark configuration
DataDirectory /tmp/tor
LogLevel info
CircuitBuildTimeout 60s
MaxCircuitDirtiness 10m
NumEntryGuards 3
UseEntryGuards 1
ConnLimit 1000`

	if err := os.WriteFile(testFile, []byte(content), 0o644); err != nil {
		b.Fatalf("Failed to create test file: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cfg := DefaultConfig()
		if err := LoadFromFile(testFile, cfg); err != nil {
			b.Fatalf("LoadFromFile() error = %v", err)
		}
	}
}

func BenchmarkSaveToFile(b *testing.B) {
	tmpDir := b.TempDir()
	cfg := DefaultConfig()
	cfg.ExcludeNodes = []string{"node1", "node2", "node3"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		testFile := filepath.Join(tmpDir, "bench"+string(rune(i))+".conf")
		if err := SaveToFile(testFile, cfg); err != nil {
			b.Fatalf("SaveToFile() error = %v", err)
		}
	}
}
