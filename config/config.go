package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderAlpha  = "alpha"
	ProviderRemote = "remote"
)

// Config is the process configuration, loaded from YAML and then
// overridden by CUTOUT_* environment variables.
type Config struct {
	Server       Server       `yaml:"server"`
	Segmentation Segmentation `yaml:"segmentation"`
	Classifier   Classifier   `yaml:"classifier"`
	Store        Store        `yaml:"store"`
	Redis        Redis        `yaml:"redis"`
	Log          Log          `yaml:"log"`
}

type Server struct {
	Addr            string        `yaml:"addr"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	MaxConcurrent   int64         `yaml:"max_concurrent"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Segmentation struct {
	Provider      string        `yaml:"provider"`
	RemoteURL     string        `yaml:"remote_url"`
	RemoteTimeout time.Duration `yaml:"remote_timeout"`
	// MaxSide downscales inputs whose longest side exceeds it before
	// segmentation. 0 disables resizing.
	MaxSide int `yaml:"max_side"`
}

// Classifier holds the foreground policy. Defaults are 50 and 0.1.
type Classifier struct {
	Threshold int     `yaml:"threshold"`
	MinRatio  float64 `yaml:"min_ratio"`
}

type Store struct {
	Dir           string        `yaml:"dir"`
	TTL           time.Duration `yaml:"ttl"`
	PruneSchedule string        `yaml:"prune_schedule"`
}

// Redis is optional; an empty Addr disables the outcome cache.
type Redis struct {
	Addr string        `yaml:"addr"`
	TTL  time.Duration `yaml:"ttl"`
}

type Log struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:            ":8080",
			MaxUploadBytes:  20 << 20,
			MaxConcurrent:   4,
			ShutdownTimeout: 15 * time.Second,
		},
		Segmentation: Segmentation{
			Provider:      ProviderAlpha,
			RemoteTimeout: 60 * time.Second,
			MaxSide:       1024,
		},
		Classifier: Classifier{
			Threshold: 50,
			MinRatio:  0.1,
		},
		Store: Store{
			Dir:           "output",
			TTL:           time.Hour,
			PruneSchedule: "@every 10m",
		},
		Redis: Redis{
			TTL: 30 * time.Minute,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load reads path (if non-empty) over the defaults, loads a .env file if
// one exists and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.Addr = getEnv("CUTOUT_ADDR", c.Server.Addr)
	c.Segmentation.Provider = getEnv("CUTOUT_PROVIDER", c.Segmentation.Provider)
	c.Segmentation.RemoteURL = getEnv("CUTOUT_REMOTE_URL", c.Segmentation.RemoteURL)
	c.Store.Dir = getEnv("CUTOUT_STORE_DIR", c.Store.Dir)
	c.Redis.Addr = getEnv("CUTOUT_REDIS_ADDR", c.Redis.Addr)
	c.Log.Level = getEnv("CUTOUT_LOG_LEVEL", c.Log.Level)

	if v := os.Getenv("CUTOUT_MAX_SIDE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CUTOUT_MAX_SIDE: %w", err)
		}
		c.Segmentation.MaxSide = n
	}
	if v := os.Getenv("CUTOUT_MAX_CONCURRENT"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CUTOUT_MAX_CONCURRENT: %w", err)
		}
		c.Server.MaxConcurrent = n
	}
	return nil
}

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("server.max_upload_bytes must be positive"))
	}
	if c.Server.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("server.max_concurrent must be positive"))
	}
	switch c.Segmentation.Provider {
	case ProviderAlpha:
	case ProviderRemote:
		if c.Segmentation.RemoteURL == "" {
			errs = append(errs, errors.New("segmentation.remote_url is required for the remote provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown segmentation.provider %q", c.Segmentation.Provider))
	}
	if c.Segmentation.MaxSide < 0 {
		errs = append(errs, errors.New("segmentation.max_side must not be negative"))
	}
	if c.Classifier.Threshold < 0 || c.Classifier.Threshold > 255 {
		errs = append(errs, fmt.Errorf("classifier.threshold %d out of range [0,255]", c.Classifier.Threshold))
	}
	if c.Classifier.MinRatio < 0 || c.Classifier.MinRatio >= 1 {
		errs = append(errs, fmt.Errorf("classifier.min_ratio %v out of range [0,1)", c.Classifier.MinRatio))
	}
	if c.Store.Dir == "" {
		errs = append(errs, errors.New("store.dir is required"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
