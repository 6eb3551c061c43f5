// Package config loads and validates the process configuration: file
// paths, provider version, pixel budget, resolution ladder overrides,
// and checkpoint granularity.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

func mustJSONReader(s string) *strings.Reader { return strings.NewReader(s) }

// Config is the top-level process configuration.
type Config struct {
	HistoryPath     string  `json:"historyPath"`
	AttrTreePath    string  `json:"attrTreePath"`
	ProviderVersion uint32  `json:"providerVersion"`
	NPixels         uint32  `json:"nPixels"`
	Resolutions     []int64 `json:"resolutions,omitempty"`
	Granularity     int64   `json:"granularity"`

	NatsURL     string `json:"natsUrl,omitempty"`
	NatsSubject string `json:"natsSubject,omitempty"`

	StorageKind string `json:"storageKind"` // "file" or "s3"
	S3Bucket    string `json:"s3Bucket,omitempty"`
	S3Endpoint  string `json:"s3Endpoint,omitempty"`
}

const schemaString = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["historyPath", "providerVersion", "nPixels", "granularity", "storageKind"],
  "properties": {
    "historyPath":     {"type": "string", "minLength": 1},
    "attrTreePath":     {"type": "string"},
    "providerVersion":  {"type": "integer", "minimum": 0},
    "nPixels":          {"type": "integer", "minimum": 1},
    "resolutions":      {"type": "array", "items": {"type": "integer", "minimum": 1}},
    "granularity":      {"type": "integer", "minimum": 1},
    "natsUrl":          {"type": "string"},
    "natsSubject":      {"type": "string"},
    "storageKind":      {"type": "string", "enum": ["file", "s3"]},
    "s3Bucket":         {"type": "string"},
    "s3Endpoint":       {"type": "string"}
  }
}`

// Load reads .env (if present, ignored if missing), then parses and
// schema-validates the JSON configuration file at path.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %q: %w", path, err)
	}

	if err := Validate(raw); err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %q: %w", path, err)
	}
	if cfg.NPixels == 0 {
		cfg.NPixels = 2000
	}
	return &cfg, nil
}

// Validate checks raw JSON bytes against the configuration schema,
// independent of actually decoding it into a Config.
func Validate(raw []byte) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", mustJSONReader(schemaString)); err != nil {
		return fmt.Errorf("config: compiling schema: %w", err)
	}
	schema, err := compiler.Compile("config.schema.json")
	if err != nil {
		return fmt.Errorf("config: compiling schema: %w", err)
	}

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("config: parsing json: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("config: validation failed: %w", err)
	}
	return nil
}
