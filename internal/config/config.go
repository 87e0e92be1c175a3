package config

import (
	"bytes"
	"os"
	"regexp"

	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"
)

const (
	ProviderS3  = "s3"
	ProviderGCS = "gcs"
)

// DefaultNamePattern accepts names with at least four underscore-delimited
// fields where the fourth is the numeric piece count.
const DefaultNamePattern = `^[A-Za-z0-9-]+_[A-Za-z0-9-]+_[A-Za-z0-9-]+_[0-9]+(_[A-Za-z0-9.-]+)*\.pdf$`

// Config holds all configuration for one ingestion run.
type Config struct {
	Provider     string    `yaml:"provider"`
	Container    string    `yaml:"container"`
	BaseDir      string    `yaml:"base_dir"`
	NamePattern  string    `yaml:"name_pattern"`
	DocumentGlob string    `yaml:"document_glob"`
	ArchiveGlob  string    `yaml:"archive_glob"`
	Prefix       string    `yaml:"prefix"`
	DirMode      uint32    `yaml:"dir_mode"`
	MaxListPages int       `yaml:"max_list_pages"`
	DryRun       bool      `yaml:"dry_run"`
	S3           S3Config  `yaml:"s3"`
	GCS          GCSConfig `yaml:"gcs"`
}

// S3Config holds S3 specific settings.
type S3Config struct {
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// GCSConfig holds Cloud Storage specific settings.
type GCSConfig struct {
	CredentialsFile       string `yaml:"credentials_file"`
	Endpoint              string `yaml:"endpoint"`
	WithoutAuthentication bool   `yaml:"without_authentication"`
	DownloadRetries       int    `yaml:"download_retries"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Provider:     ProviderS3,
		BaseDir:      "pdfs",
		NamePattern:  DefaultNamePattern,
		DocumentGlob: "*.pdf",
		ArchiveGlob:  "*.zip",
		DirMode:      0o744,
		S3: S3Config{
			MaxAttempts: 3,
		},
		GCS: GCSConfig{
			DownloadRetries: 4,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Errorf("reading config file: %w", err)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return errors.Errorf("parsing YAML: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Provider = GetEnv("INGEST_PROVIDER", c.Provider)
	c.Container = GetEnv("INGEST_CONTAINER", c.Container)
	c.BaseDir = GetEnv("INGEST_BASE_DIR", c.BaseDir)
	c.NamePattern = GetEnv("INGEST_NAME_PATTERN", c.NamePattern)
	c.Prefix = GetEnv("INGEST_PREFIX", c.Prefix)
	maxListPages, err := getEnvInt("INGEST_MAX_LIST_PAGES", c.MaxListPages)
	if err != nil {
		return err
	}
	c.MaxListPages = maxListPages
	c.S3.Region = GetEnv("AWS_REGION", c.S3.Region)
	c.S3.Endpoint = GetEnv("S3_ENDPOINT", c.S3.Endpoint)
	c.GCS.CredentialsFile = GetEnv("GCS_CREDENTIALS_FILE", c.GCS.CredentialsFile)
	c.GCS.Endpoint = GetEnv("GCS_ENDPOINT", c.GCS.Endpoint)
	withoutAuth, err := getEnvBool("GCS_WITHOUT_AUTHENTICATION", c.GCS.WithoutAuthentication)
	if err != nil {
		return err
	}
	c.GCS.WithoutAuthentication = withoutAuth
	return nil
}

// Validate checks that the configuration can drive a run.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderS3, ProviderGCS:
	default:
		return errors.Errorf("unsupported provider %q", c.Provider)
	}
	if c.Container == "" {
		return errors.New("container must be set")
	}
	if c.BaseDir == "" {
		return errors.New("base_dir must be set")
	}
	if _, err := c.CompileNamePattern(); err != nil {
		return err
	}
	if c.GCS.WithoutAuthentication && c.GCS.CredentialsFile != "" {
		return errors.New("gcs.credentials_file and gcs.without_authentication are mutually exclusive")
	}
	if c.MaxListPages < 0 {
		return errors.Errorf("max_list_pages must not be negative, got %d", c.MaxListPages)
	}
	return nil
}

// CompileNamePattern compiles the configured document naming pattern.
func (c *Config) CompileNamePattern() (*regexp.Regexp, error) {
	re, err := regexp.Compile(c.NamePattern)
	if err != nil {
		return nil, errors.Errorf("invalid name_pattern: %w", err)
	}
	return re, nil
}
