package config

import (
	"encoding/json"
	"testing"
	"time"
)

func TestGenerateJSONSchema(t *testing.T) {
	schema, err := GenerateJSONSchema()
	if err != nil {
		t.Fatalf("GenerateJSONSchema() error = %v", err)
	}

	if schema == nil {
		t.Fatal("GenerateJSONSchema() returned nil schema")
	}

	// Validate schema structure
	if schema.Schema != "http://json-schema.org/draft-07/schema#" {
		t.Errorf("Schema field = %v, want http://json-schema.org/draft-07/schema#", schema.Schema)
	}

	if schema.Title == "" {
		t.Error("Schema title is empty")
	}

	if schema.Type != "object" {
		t.Errorf("Schema type = %v, want object", schema.Type)
	}

	// Check that key properties are present
	requiredProps := []string{
		"DataDirectory",
		"LogLevel",
		"CircuitBuildTimeout",
		"NumEntryGuards",
	}

	for _, prop := range requiredProps {
		if _, exists := schema.Properties[prop]; !exists {
			t.Errorf("Schema missing required property: %s", prop)
		}
	}
}

func TestJSONSchemaToJSON(t *testing.T) {
	schema, err := GenerateJSONSchema()
	if err != nil {
		t.Fatalf("GenerateJSONSchema() error = %v", err)
	}

	jsonData, err := schema.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	if len(jsonData) == 0 {
		t.Fatal("ToJSON() returned empty data")
	}

	// Validate JSON can be parsed
	var parsed map[string]interface{}
	if err := json.Unmarshal(jsonData, &parsed); err != nil {
		t.Fatalf("Generated JSON is invalid: %v", err)
	}

	// Check structure
	if parsed["$schema"] != "http://json-schema.org/draft-07/schema#" {
		t.Error("JSON schema $schema field incorrect")
	}

	if parsed["type"] != "object" {
		t.Error("JSON schema type field incorrect")
	}
}

func TestValidateDetailed(t *testing.T) {
	tests := []struct {
		name         string
		config       *Config
		wantValid    bool
		wantErrors   int
		wantWarnings int
	}{
		{
			name:      "valid config",
			config:    DefaultConfig(),
			wantValid: true,
		},
		{
			name: "invalid circuit build timeout",
			config: &Config{
				CircuitBuildTimeout: 0,
				MaxCircuitDirtiness: 10 * time.Minute,
				NumEntryGuards:      3,
				ConnLimit:           1000,
				LogLevel:            "info",
				CircuitPoolMinSize:  2,
				CircuitPoolMaxSize:  10,
				IsolationLevel:      "none",
			},
			wantValid:  false,
			wantErrors: 1,
		},
		{
			name: "invalid log level",
			config: &Config{
				CircuitBuildTimeout: 60 * time.Second,
				MaxCircuitDirtiness: 10 * time.Minute,
				NumEntryGuards:      3,
				ConnLimit:           1000,
				LogLevel:            "invalid",
				CircuitPoolMinSize:  2,
				CircuitPoolMaxSize:  10,
				IsolationLevel:      "none",
			},
			wantValid:  false,
			wantErrors: 1,
		},
		{
			name: "short build timeout warning",
			config: &Config{
				CircuitBuildTimeout: 5 * time.Second,
				MaxCircuitDirtiness: 10 * time.Minute,
				NumEntryGuards:      3,
				ConnLimit:           1000,
				LogLevel:            "info",
				CircuitPoolMinSize:  2,
				CircuitPoolMaxSize:  10,
				IsolationLevel:      "none",
			},
			wantValid:    true,
			wantErrors:   0,
			wantWarnings: 1,
		},
		{
			name: "circuit pool size mismatch",
			config: &Config{
				CircuitBuildTimeout: 60 * time.Second,
				MaxCircuitDirtiness: 10 * time.Minute,
				NumEntryGuards:      3,
				ConnLimit:           1000,
				LogLevel:            "info",
				CircuitPoolMinSize:  10,
				CircuitPoolMaxSize:  5, // Less than min
				IsolationLevel:      "none",
			},
			wantValid:  false,
			wantErrors: 1,
		},
		{
			name: "invalid isolation level",
			config: &Config{
				CircuitBuildTimeout: 60 * time.Second,
				MaxCircuitDirtiness: 10 * time.Minute,
				NumEntryGuards:      3,
				ConnLimit:           1000,
				LogLevel:            "info",
				CircuitPoolMinSize:  2,
				CircuitPoolMaxSize:  10,
				IsolationLevel:      "invalid",
			},
			wantValid:  false,
			wantErrors: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.config.ValidateDetailed()

			if result.Valid != tt.wantValid {
				t.Errorf("ValidateDetailed().Valid = %v, want %v", result.Valid, tt.wantValid)
			}

			if len(result.Errors) != tt.wantErrors {
				t.Errorf("ValidateDetailed() errors = %d, want %d", len(result.Errors), tt.wantErrors)
				for _, err := range result.Errors {
					t.Logf("  Error: %v", err)
				}
			}

			if len(result.Warnings) != tt.wantWarnings {
				t.Errorf("ValidateDetailed() warnings = %d, want %d", len(result.Warnings), tt.wantWarnings)
				for _, warn := range result.Warnings {
					t.Logf("  Warning: %v", warn)
				}
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name    string
		err     ValidationError
		wantMsg string
	}{
		{
			name: "with suggestion",
			err: ValidationError{
				Field:      "NumEntryGuards",
				Value:      0,
				Message:    "must be at least 1",
				Suggestion: "use 3",
				Severity:   "error",
			},
			wantMsg: "NumEntryGuards: must be at least 1 (suggestion: use 3)",
		},
		{
			name: "without suggestion",
			err: ValidationError{
				Field:    "LogLevel",
				Value:    "invalid",
				Message:  "invalid log level",
				Severity: "error",
			},
			wantMsg: "LogLevel: invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ValidationError.Error() = %v, want %v", got, tt.wantMsg)
			}
		})
	}
}

func TestJSONSchemaPropertiesComplete(t *testing.T) {
	schema, err := GenerateJSONSchema()
	if err != nil {
		t.Fatalf("GenerateJSONSchema() error = %v", err)
	}

	// All Config fields should be in schema
	expectedFields := []string{
		"DataDirectory",
		"CircuitBuildTimeout", "MaxCircuitDirtiness", "NewCircuitPeriod",
		"NumEntryGuards", "UseEntryGuards",
		"ExcludeNodes", "ExcludeExitNodes",
		"ConnLimit",
		"LogLevel",
		"EnableCircuitPrebuilding", "CircuitPoolMinSize", "CircuitPoolMaxSize",
		"EnableBufferPooling", "IsolationLevel", "IsolateDestinations",
		"IsolateSOCKSAuth", "IsolateClientPort", "IsolateClientProtocol",
	}

	for _, field := range expectedFields {
		if _, exists := schema.Properties[field]; !exists {
			t.Errorf("Schema missing field: %s", field)
		}
	}
}

func TestJSONSchemaEnumValidation(t *testing.T) {
	schema, err := GenerateJSONSchema()
	if err != nil {
		t.Fatalf("GenerateJSONSchema() error = %v", err)
	}

	// Check LogLevel enum
	logLevelProp := schema.Properties["LogLevel"]
	expectedLogLevels := []string{"debug", "info", "warn", "error"}
	if len(logLevelProp.Enum) != len(expectedLogLevels) {
		t.Errorf("LogLevel enum count = %d, want %d", len(logLevelProp.Enum), len(expectedLogLevels))
	}

	// Check IsolationLevel enum
	isolationProp := schema.Properties["IsolationLevel"]
	expectedIsolation := []string{"none", "destination", "credential", "port", "session"}
	if len(isolationProp.Enum) != len(expectedIsolation) {
		t.Errorf("IsolationLevel enum count = %d, want %d", len(isolationProp.Enum), len(expectedIsolation))
	}
}
