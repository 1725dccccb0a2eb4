// Package config provides configuration management for the Tor client.
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// JSONSchema represents the JSON Schema v7 for the Tor configuration.
// This enables IDE autocomplete, validation, and documentation.
type JSONSchema struct {
	Schema      string                      `json:"$schema"`
	Title       string                      `json:"title"`
	Description string                      `json:"description"`
	Type        string                      `json:"type"`
	Properties  map[string]PropertySchema   `json:"properties"`
	Required    []string                    `json:"required,omitempty"`
	Definitions map[string]DefinitionSchema `json:"definitions,omitempty"`
}

// PropertySchema represents a property in the JSON schema
type PropertySchema struct {
	Type        string                    `json:"type,omitempty"`
	Description string                    `json:"description,omitempty"`
	Default     interface{}               `json:"default,omitempty"`
	Minimum     *int                      `json:"minimum,omitempty"`
	Maximum     *int                      `json:"maximum,omitempty"`
	Enum        []string                  `json:"enum,omitempty"`
	Items       *PropertySchema           `json:"items,omitempty"`
	Properties  map[string]PropertySchema `json:"properties,omitempty"`
	Ref         string                    `json:"$ref,omitempty"`
	Format      string                    `json:"format,omitempty"`
	Pattern     string                    `json:"pattern,omitempty"`
	MinLength   *int                      `json:"minLength,omitempty"`
	Examples    []interface{}             `json:"examples,omitempty"`
}

// DefinitionSchema represents a reusable definition in the JSON schema
type DefinitionSchema struct {
	Type        string                    `json:"type"`
	Description string                    `json:"description,omitempty"`
	Properties  map[string]PropertySchema `json:"properties,omitempty"`
	Required    []string                  `json:"required,omitempty"`
}

// GenerateJSONSchema creates a JSON Schema v7 for the Config structure.
// This schema can be used for IDE autocomplete, validation, and documentation.
func GenerateJSONSchema() (*JSONSchema, error) {
	minGuards := 1
	minConnLimit := 1
	minPoolSize := 0

	schema := &JSONSchema{
		Schema:      "http://json-schema.org/draft-07/schema#",
		Title:       "go-tor Configuration",
		Description: "Configuration schema for go-tor circuit management core",
		Type:        "object",
		Properties: map[string]PropertySchema{
			"DataDirectory": {
				Type:        "string",
				Description: "Directory for persistent state (guards, descriptors, keys)",
				Examples:    []interface{}{"./go-tor-data", "~/.tor", "/var/lib/tor"},
			},
			"CircuitBuildTimeout": {
				Type:        "string",
				Description: "Maximum time to build a circuit (duration string, e.g., '60s', '2m')",
				Default:     "60s",
				Pattern:     "^[0-9]+(ns|us|µs|ms|s|m|h)$",
				Examples:    []interface{}{"60s", "90s", "2m"},
			},
			"MaxCircuitDirtiness": {
				Type:        "string",
				Description: "Maximum time to use a circuit before rotation (duration string)",
				Default:     "10m",
				Pattern:     "^[0-9]+(ns|us|µs|ms|s|m|h)$",
				Examples:    []interface{}{"10m", "30m", "1h"},
			},
			"NewCircuitPeriod": {
				Type:        "string",
				Description: "How often to rotate circuits (duration string)",
				Default:     "30s",
				Pattern:     "^[0-9]+(ns|us|µs|ms|s|m|h)$",
				Examples:    []interface{}{"30s", "1m", "5m"},
			},
			"NumEntryGuards": {
				Type:        "integer",
				Description: "Number of entry guards to use (recommended: 3)",
				Default:     3,
				Minimum:     &minGuards,
				Examples:    []interface{}{3, 5},
			},
			"UseEntryGuards": {
				Type:        "boolean",
				Description: "Whether to use entry guards (recommended: true for anonymity)",
				Default:     true,
			},
			"ExcludeNodes": {
				Type:        "array",
				Description: "Nodes to exclude from path selection (by fingerprint or nickname)",
				Items: &PropertySchema{
					Type: "string",
				},
				Examples: []interface{}{
					[]string{"$FINGERPRINT", "NickName"},
				},
			},
			"ExcludeExitNodes": {
				Type:        "array",
				Description: "Exit nodes to exclude (by fingerprint or nickname)",
				Items: &PropertySchema{
					Type: "string",
				},
			},
			"ConnLimit": {
				Type:        "integer",
				Description: "Maximum concurrent connections to Tor relays",
				Default:     1000,
				Minimum:     &minConnLimit,
				Examples:    []interface{}{1000, 500, 2000},
			},
			"LogLevel": {
				Type:        "string",
				Description: "Logging verbosity level",
				Default:     "info",
				Enum:        []string{"debug", "info", "warn", "error"},
			},
			"EnableCircuitPrebuilding": {
				Type:        "boolean",
				Description: "Enable circuit prebuilding for instant availability",
				Default:     true,
			},
			"CircuitPoolMinSize": {
				Type:        "integer",
				Description: "Minimum circuits to prebuild and maintain",
				Default:     2,
				Minimum:     &minPoolSize,
				Examples:    []interface{}{2, 5, 10},
			},
			"CircuitPoolMaxSize": {
				Type:        "integer",
				Description: "Maximum circuits in pool",
				Default:     10,
				Minimum:     &minPoolSize,
				Examples:    []interface{}{10, 20, 50},
			},
			"EnableBufferPooling": {
				Type:        "boolean",
				Description: "Enable buffer pooling for cell operations (reduces GC pressure)",
				Default:     true,
			},
			"IsolationLevel": {
				Type:        "string",
				Description: "Circuit isolation level (none=shared circuits, destination=per-dest, etc.)",
				Default:     "none",
				Enum:        []string{"none", "destination", "credential", "port", "session"},
			},
			"IsolateDestinations": {
				Type:        "boolean",
				Description: "Isolate circuits by destination host:port",
				Default:     false,
			},
			"IsolateSOCKSAuth": {
				Type:        "boolean",
				Description: "Isolate circuits by SOCKS5 username",
				Default:     false,
			},
			"IsolateClientPort": {
				Type:        "boolean",
				Description: "Isolate circuits by client source port",
				Default:     false,
			},
			"IsolateClientProtocol": {
				Type:        "boolean",
				Description: "Isolate circuits by protocol",
				Default:     false,
			},
		},
	}

	return schema, nil
}

// ToJSON converts the schema to JSON format
func (s *JSONSchema) ToJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// ValidationError represents a configuration validation error with context
type ValidationError struct {
	Field      string      // Field name that failed validation
	Value      interface{} // Actual value provided
	Message    string      // Human-readable error message
	Suggestion string      // Suggested fix
	Severity   string      // "error", "warning", "info"
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	if v.Suggestion != "" {
		return fmt.Sprintf("%s: %s (suggestion: %s)", v.Field, v.Message, v.Suggestion)
	}
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// ValidationResult contains the results of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidateDetailed performs comprehensive validation with detailed feedback
func (c *Config) ValidateDetailed() *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	// Timeout validation
	if c.CircuitBuildTimeout <= 0 {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:      "CircuitBuildTimeout",
			Value:      c.CircuitBuildTimeout,
			Message:    "must be positive",
			Suggestion: "recommended: 60s to 120s for normal networks, 180s for slow networks",
			Severity:   "error",
		})
	} else if c.CircuitBuildTimeout < 30*time.Second {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:      "CircuitBuildTimeout",
			Value:      c.CircuitBuildTimeout,
			Message:    "unusually short timeout may cause circuit build failures",
			Suggestion: "recommended minimum: 30s",
			Severity:   "warning",
		})
	}

	if c.MaxCircuitDirtiness <= 0 {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:      "MaxCircuitDirtiness",
			Value:      c.MaxCircuitDirtiness,
			Message:    "must be positive",
			Suggestion: "recommended: 10m to 30m for privacy/performance balance",
			Severity:   "error",
		})
	}

	// Guard validation
	if c.NumEntryGuards < 1 {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:      "NumEntryGuards",
			Value:      c.NumEntryGuards,
			Message:    "must be at least 1",
			Suggestion: "recommended: 3 guards for security/availability balance",
			Severity:   "error",
		})
	} else if c.NumEntryGuards > 5 {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:      "NumEntryGuards",
			Value:      c.NumEntryGuards,
			Message:    "large number of guards may reduce anonymity",
			Suggestion: "recommended: 3-5 guards",
			Severity:   "warning",
		})
	}

	// Connection limit validation
	if c.ConnLimit < 1 {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:      "ConnLimit",
			Value:      c.ConnLimit,
			Message:    "must be at least 1",
			Suggestion: "recommended: 1000 for normal usage, adjust based on available file descriptors",
			Severity:   "error",
		})
	}

	// Log level validation
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:      "LogLevel",
			Value:      c.LogLevel,
			Message:    "invalid log level",
			Suggestion: "must be one of: debug, info, warn, error",
			Severity:   "error",
		})
	}

	// Performance tuning validation
	if c.CircuitPoolMinSize < 0 {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:      "CircuitPoolMinSize",
			Value:      c.CircuitPoolMinSize,
			Message:    "must be non-negative",
			Suggestion: "recommended: 2-5 for instant circuit availability",
			Severity:   "error",
		})
	}

	if c.CircuitPoolMaxSize < c.CircuitPoolMinSize {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:      "CircuitPoolMaxSize",
			Value:      c.CircuitPoolMaxSize,
			Message:    "must be >= CircuitPoolMinSize",
			Suggestion: fmt.Sprintf("set to at least %d (current CircuitPoolMinSize)", c.CircuitPoolMinSize),
			Severity:   "error",
		})
	}

	// Isolation level validation
	validIsolationLevels := map[string]bool{
		"none":        true,
		"destination": true,
		"credential":  true,
		"port":        true,
		"session":     true,
	}
	if !validIsolationLevels[c.IsolationLevel] {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:      "IsolationLevel",
			Value:      c.IsolationLevel,
			Message:    "invalid isolation level",
			Suggestion: "must be one of: none, destination, credential, port, session",
			Severity:   "error",
		})
	}

	return result
}
