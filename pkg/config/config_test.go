package config

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig() returned nil")
	}

	if cfg.UseEntryGuards != true {
		t.Error("UseEntryGuards = false, want true")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
	if cfg.NumEntryGuards != 3 {
		t.Errorf("NumEntryGuards = %v, want 3", cfg.NumEntryGuards)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid CircuitBuildTimeout",
			modify: func(c *Config) {
				c.CircuitBuildTimeout = 0
			},
			wantErr: true,
		},
		{
			name: "invalid MaxCircuitDirtiness",
			modify: func(c *Config) {
				c.MaxCircuitDirtiness = -1 * time.Second
			},
			wantErr: true,
		},
		{
			name: "invalid NumEntryGuards",
			modify: func(c *Config) {
				c.NumEntryGuards = 0
			},
			wantErr: true,
		},
		{
			name: "invalid ConnLimit",
			modify: func(c *Config) {
				c.ConnLimit = 0
			},
			wantErr: true,
		},
		{
			name: "invalid LogLevel",
			modify: func(c *Config) {
				c.LogLevel = "invalid"
			},
			wantErr: true,
		},
		{
			name: "valid LogLevel debug",
			modify: func(c *Config) {
				c.LogLevel = "debug"
			},
			wantErr: false,
		},
		{
			name: "invalid CircuitPoolMaxSize below min",
			modify: func(c *Config) {
				c.CircuitPoolMinSize = 5
				c.CircuitPoolMaxSize = 2
			},
			wantErr: true,
		},
		{
			name: "invalid IsolationLevel",
			modify: func(c *Config) {
				c.IsolationLevel = "bogus"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigClone(t *testing.T) {
	original := DefaultConfig()
	original.ExcludeNodes = []string{"node1"}
	original.ExcludeExitNodes = []string{"exit1"}

	clone := original.Clone()

	if clone.NumEntryGuards != original.NumEntryGuards {
		t.Errorf("NumEntryGuards = %v, want %v", clone.NumEntryGuards, original.NumEntryGuards)
	}

	// Modify clone's slices - should not affect original
	clone.ExcludeNodes = append(clone.ExcludeNodes, "node2")
	if len(original.ExcludeNodes) != 1 {
		t.Error("Modifying clone's ExcludeNodes affected original")
	}

	clone.ExcludeExitNodes[0] = "modified"
	if original.ExcludeExitNodes[0] == "modified" {
		t.Error("Modifying clone's ExcludeExitNodes affected original")
	}
}
