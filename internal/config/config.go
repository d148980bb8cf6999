package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"batchupload/internal/transfer"
)

// Sink types
const (
	SinkFS = "fs"
	SinkS3 = "s3"
)

// Config represents the application configuration
type Config struct {
	Sink         SinkConfig `yaml:"sink"`
	Transfer     Transfer   `yaml:"transfer"`
	Journal      string     `yaml:"journal"`
	Resume       bool       `yaml:"resume"`
	MetricsAddr  string     `yaml:"metrics_addr"`
	LogLevel     string     `yaml:"log_level" validate:"oneof=debug info warn warning error"`
	ShowProgress bool       `yaml:"show_progress"`
}

// SinkConfig selects and configures the destination
type SinkConfig struct {
	Type      string `yaml:"type" validate:"oneof=fs s3"`
	Dir       string `yaml:"dir" validate:"required_if=Type fs"`
	Endpoint  string `yaml:"endpoint" validate:"required_if=Type s3"`
	AccessKey string `yaml:"access_key" validate:"required_if=Type s3"`
	SecretKey string `yaml:"secret_key" validate:"required_if=Type s3"`
	Secure    bool   `yaml:"secure"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket" validate:"required_if=Type s3"`
	Prefix    string `yaml:"prefix"`
}

// Transfer represents engine configuration
type Transfer struct {
	Strategy          string        `yaml:"strategy"`
	MaxRetryAttempts  int           `yaml:"max_retry_attempts" validate:"gte=1"`
	InitialRetryDelay time.Duration `yaml:"initial_retry_delay" validate:"gte=0"`
	MaxConcurrency    int           `yaml:"max_concurrency" validate:"gte=1"`
	ContinueOnError   bool          `yaml:"continue_on_error"`
}

// Options converts the transfer section into engine options
func (t Transfer) Options() transfer.Options {
	return transfer.Options{
		MaxRetryAttempts:  t.MaxRetryAttempts,
		InitialRetryDelay: t.InitialRetryDelay,
		BackoffMultiplier: transfer.DefaultBackoffMultiplier,
		MaxConcurrency:    t.MaxConcurrency,
		ContinueOnError:   t.ContinueOnError,
	}
}

var validate = validator.New()

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		LogLevel:     "info",
		ShowProgress: true,
		Sink: SinkConfig{
			Type:   SinkFS,
			Dir:    "./uploads",
			Secure: true,
		},
		Transfer: Transfer{
			Strategy:          string(transfer.KindSerial),
			MaxRetryAttempts:  transfer.DefaultMaxRetryAttempts,
			InitialRetryDelay: transfer.DefaultInitialRetryDelay,
			MaxConcurrency:    transfer.DefaultMaxConcurrency,
		},
	}
}

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with command line flags
	if flags != nil {
		if err := loadFromFlags(cfg, flags); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	var err error
	set := func(name string, apply func() error) {
		if err == nil && flags.Lookup(name) != nil && flags.Changed(name) {
			err = apply()
		}
	}

	set("sink", func() (e error) { cfg.Sink.Type, e = flags.GetString("sink"); return })
	set("dest", func() (e error) { cfg.Sink.Dir, e = flags.GetString("dest"); return })
	set("endpoint", func() (e error) { cfg.Sink.Endpoint, e = flags.GetString("endpoint"); return })
	set("access-key", func() (e error) { cfg.Sink.AccessKey, e = flags.GetString("access-key"); return })
	set("secret-key", func() (e error) { cfg.Sink.SecretKey, e = flags.GetString("secret-key"); return })
	set("secure", func() (e error) { cfg.Sink.Secure, e = flags.GetBool("secure"); return })
	set("region", func() (e error) { cfg.Sink.Region, e = flags.GetString("region"); return })
	set("bucket", func() (e error) { cfg.Sink.Bucket, e = flags.GetString("bucket"); return })
	set("prefix", func() (e error) { cfg.Sink.Prefix, e = flags.GetString("prefix"); return })

	set("strategy", func() (e error) { cfg.Transfer.Strategy, e = flags.GetString("strategy"); return })
	set("retries", func() (e error) { cfg.Transfer.MaxRetryAttempts, e = flags.GetInt("retries"); return })
	set("retry-delay", func() (e error) { cfg.Transfer.InitialRetryDelay, e = flags.GetDuration("retry-delay"); return })
	set("concurrency", func() (e error) { cfg.Transfer.MaxConcurrency, e = flags.GetInt("concurrency"); return })
	set("continue-on-error", func() (e error) { cfg.Transfer.ContinueOnError, e = flags.GetBool("continue-on-error"); return })

	set("journal", func() (e error) { cfg.Journal, e = flags.GetString("journal"); return })
	set("resume", func() (e error) { cfg.Resume, e = flags.GetBool("resume"); return })
	set("metrics-addr", func() (e error) { cfg.MetricsAddr, e = flags.GetString("metrics-addr"); return })
	set("log-level", func() (e error) { cfg.LogLevel, e = flags.GetString("log-level"); return })
	set("show-progress", func() (e error) { cfg.ShowProgress, e = flags.GetBool("show-progress"); return })

	return err
}

// Validate checks field constraints and cross-field rules
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Resume && c.Journal == "" {
		return fmt.Errorf("resume requires a journal")
	}

	return c.Transfer.Options().Validate()
}
