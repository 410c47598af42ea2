package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"tdx-data/internal/model"
	"tdx-data/internal/planner"
	"tdx-data/internal/scan"
	"tdx-data/internal/state"
)

// Config holds application configuration.
// Precedence: defaults < YAML file < environment < command-line flags.
type Config struct {
	SourceDir         string         `yaml:"source_dir" validate:"required"`
	StoreDir          string         `yaml:"store_dir" validate:"required"`
	CacheDir          string         `yaml:"cache_dir" validate:"required"`
	FileExt           string         `yaml:"file_ext"`
	StoreFormat       string         `yaml:"store_format" validate:"oneof=parquet"`
	StoreCompression  string         `yaml:"store_compression" validate:"oneof=zstd snappy gzip lz4 brotli none"`
	Workers           int            `yaml:"workers" validate:"gte=0,lte=256"`
	BatchSize         int            `yaml:"batch_size" validate:"gte=0"`
	StateFlushEvery   int            `yaml:"state_flush_every" validate:"gte=1"`
	FingerprintSample int64          `yaml:"fingerprint_sample" validate:"gte=0"`
	LogLevel          string         `yaml:"log_level" validate:"oneof=debug info warn warning error"` // debug | info | warn | error
	LogFormat         string         `yaml:"log_format" validate:"oneof=text json"`
	Planner           planner.Limits `yaml:"planner"`
	LockRetries       uint64         `yaml:"lock_retries"`

	MinDateRaw   string `yaml:"min_date"`
	IdleFlushRaw string `yaml:"idle_flush"`
	HeartbeatRaw string `yaml:"heartbeat"`
	LockWaitRaw  string `yaml:"lock_wait"`

	MinDate   model.Date    `yaml:"-"`
	IdleFlush time.Duration `yaml:"-"`
	Heartbeat time.Duration `yaml:"-"`
	LockWait  time.Duration `yaml:"-"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		SourceDir:         filepath.Join("vipdoc", "ds", "lday"),
		StoreDir:          filepath.Join("data", "funds"),
		CacheDir:          "cache",
		FileExt:           "day",
		StoreFormat:       "parquet",
		StoreCompression:  "zstd",
		StateFlushEvery:   state.DefaultFlushEvery,
		FingerprintSample: scan.DefaultSampleSize,
		LogLevel:          "info",
		LogFormat:         "text",
		Planner:           planner.DefaultLimits(),
		LockRetries:       10,
		IdleFlushRaw:      "100ms",
		HeartbeatRaw:      "30s",
		LockWaitRaw:       "200ms",
	}
}

// LoadConfig builds the config from defaults, the YAML file at path (if any)
// and the environment. Call Finalize after applying flags.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setStr := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setStr("SOURCE_DIR", &c.SourceDir)
	setStr("STORE_DIR", &c.StoreDir)
	setStr("CACHE_DIR", &c.CacheDir)
	setStr("FILE_EXT", &c.FileExt)
	setStr("STORE_FORMAT", &c.StoreFormat)
	setStr("STORE_COMPRESSION", &c.StoreCompression)
	setStr("MIN_DATE", &c.MinDateRaw)
	setStr("LOG_LEVEL", &c.LogLevel)
	setStr("LOG_FORMAT", &c.LogFormat)

	var errs []error
	if v := os.Getenv("WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("WORKERS: %w", err))
		}
		c.Workers = n
	}
	if v := os.Getenv("STATE_FLUSH_EVERY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("STATE_FLUSH_EVERY: %w", err))
		}
		c.StateFlushEvery = n
	}
	if v := os.Getenv("FINGERPRINT_SAMPLE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("FINGERPRINT_SAMPLE: %w", err))
		}
		c.FingerprintSample = n
	}
	return errors.Join(errs...)
}

// Finalize parses the raw fields and validates the result.
func (c *Config) Finalize() error {
	c.FileExt = strings.TrimPrefix(strings.TrimSpace(c.FileExt), ".")
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.StoreFormat = strings.ToLower(strings.TrimSpace(c.StoreFormat))
	c.StoreCompression = strings.ToLower(strings.TrimSpace(c.StoreCompression))

	c.MinDate = model.Date{}
	if raw := strings.TrimSpace(c.MinDateRaw); raw != "" {
		d, err := model.ParseDate(raw)
		if err != nil {
			return fmt.Errorf("config: invalid min_date %q: %w", raw, err)
		}
		c.MinDate = d
	}

	var err error
	if c.IdleFlush, err = parsePositive("idle_flush", c.IdleFlushRaw); err != nil {
		return err
	}
	if c.Heartbeat, err = parsePositive("heartbeat", c.HeartbeatRaw); err != nil {
		return err
	}
	if c.LockWait, err = parsePositive("lock_wait", c.LockWaitRaw); err != nil {
		return err
	}

	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func parsePositive(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", name, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive, got %s", name, d)
	}
	return d, nil
}

// StatePath returns path to the ingestion state file.
func (c *Config) StatePath() string {
	return filepath.Join(c.CacheDir, state.FileName)
}

// ErrorDir returns path to the per-file error records.
func (c *Config) ErrorDir() string {
	return filepath.Join(c.CacheDir, "errors")
}
