// Package config loads the worker's YAML configuration file. Documents are
// validated against an embedded JSON schema before unmarshaling, so typos
// and type mistakes fail fast with field-level messages instead of silently
// becoming zero values. Command-line flags override anything loaded here.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var configSchema string

// Config is the worker's file-based configuration. Zero values mean "not
// set"; Load starts from Default and overlays the file on top.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogJSON     bool   `yaml:"log_json"`
	LogDebug    bool   `yaml:"log_debug"`
	Pprof       bool   `yaml:"pprof"`
	StorageURI  string `yaml:"storage_uri"`

	// DerivationSecretHex and DerivationSecretFile configure direct-secret
	// mode. At most one may be set; leaving both empty with an unseal
	// section selects sealed startup.
	DerivationSecretHex  string `yaml:"derivation_secret_hex"`
	DerivationSecretFile string `yaml:"derivation_secret_file"`

	DrainSeconds    int `yaml:"drain_seconds"`
	ShutdownSeconds int `yaml:"shutdown_seconds"`

	Unseal   UnsealConfig   `yaml:"unseal"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Backup   BackupConfig   `yaml:"backup"`
}

// UnsealConfig configures Shamir sealed startup.
type UnsealConfig struct {
	AdminKeysFile  string `yaml:"admin_keys_file"`
	Threshold      int    `yaml:"threshold"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// DispatchConfig configures the worker offload plane: the bearer token the
// job API requires and, for engine-side dispatch, where to find workers.
type DispatchConfig struct {
	Token        string `yaml:"token"`
	Endpoint     string `yaml:"endpoint"`
	ServiceName  string `yaml:"service_name"`
	ResolverAddr string `yaml:"resolver_addr"`
}

// BackupConfig configures the S3 snapshot archiver. Backups are enabled
// when Bucket is set.
type BackupConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKey       string `yaml:"access_key"`
	SecretKey       string `yaml:"secret_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	IntervalMinutes int    `yaml:"interval_minutes"`
}

// Default returns the configuration a worker runs with when no file and no
// flags are given: listen locally, in-memory store, backups off.
func Default() *Config {
	return &Config{
		ListenAddr:      "127.0.0.1:8080",
		MetricsAddr:     "127.0.0.1:8090",
		StorageURI:      "memory://",
		DrainSeconds:    45,
		ShutdownSeconds: 30,
		Unseal: UnsealConfig{
			TimeoutSeconds: 600,
		},
		Backup: BackupConfig{
			IntervalMinutes: 60,
		},
	}
}

// Load reads, schema-validates, and unmarshals a YAML config file on top of
// the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := validateSchema(data); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// validateSchema checks the raw document against the embedded JSON schema.
// The YAML is converted to JSON first because the schema engine only speaks
// JSON.
func validateSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if doc == nil {
		// Empty file, defaults apply.
		return nil
	}

	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to convert config for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewBytesLoader(jsonData),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var errorMessages []string
		for _, desc := range result.Errors() {
			errorMessages = append(errorMessages, desc.String())
		}
		return fmt.Errorf("schema validation failed:\n  - %s", strings.Join(errorMessages, "\n  - "))
	}

	return nil
}

// Validate checks constraints that span fields, which the schema cannot
// express.
func (c *Config) Validate() error {
	if c.DerivationSecretHex != "" && c.DerivationSecretFile != "" {
		return errors.New("derivation_secret_hex and derivation_secret_file are mutually exclusive")
	}
	if c.Unseal.Threshold > 0 && c.Unseal.AdminKeysFile == "" {
		return errors.New("unseal.threshold requires unseal.admin_keys_file")
	}
	sealed := c.Unseal.Threshold > 0
	direct := c.DerivationSecretHex != "" || c.DerivationSecretFile != ""
	if sealed && direct {
		return errors.New("sealed startup and a direct derivation secret are mutually exclusive")
	}
	if c.Backup.Bucket != "" && c.Backup.Region == "" {
		return errors.New("backup.bucket requires backup.region")
	}
	return nil
}
