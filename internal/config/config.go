// Package config builds the daemon configuration from defaults, an
// optional YAML file and MSQ_* environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	HTTPAddr              string `yaml:"http_addr"`
	AdminToken            string `yaml:"admin_token"`
	DBPath                string `yaml:"db_path"`
	DownloadDir           string `yaml:"download_dir"`
	ExportDir             string `yaml:"export_dir"`
	Backend               string `yaml:"backend"`
	MaxDownloads          int    `yaml:"max_downloads"`
	MaxUploads            int    `yaml:"max_uploads"`
	StatusIntervalSeconds int    `yaml:"status_interval_seconds"`
	MaxAttempts           int    `yaml:"max_attempts"`
	LogLevel              string `yaml:"log_level"`
	LogFormat             string `yaml:"log_format"`
}

func Default() Config {
	return Config{
		HTTPAddr:              "0.0.0.0:8099",
		DBPath:                "msq.db",
		DownloadDir:           "downloads",
		ExportDir:             "export",
		Backend:               "auto",
		MaxDownloads:          3,
		MaxUploads:            3,
		StatusIntervalSeconds: 5,
		MaxAttempts:           3,
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

// Load reads the file at path when one is given; a missing explicit file
// is an error. Environment variables win over the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	var ge getenv
	cfg.HTTPAddr = ge.String("MSQ_HTTP_ADDR", cfg.HTTPAddr)
	cfg.AdminToken = ge.String("MSQ_ADMIN_TOKEN", cfg.AdminToken)
	cfg.DBPath = ge.String("MSQ_DB", cfg.DBPath)
	cfg.DownloadDir = ge.String("MSQ_DOWNLOAD_DIR", cfg.DownloadDir)
	cfg.ExportDir = ge.String("MSQ_EXPORT_DIR", cfg.ExportDir)
	cfg.Backend = ge.String("MSQ_BACKEND", cfg.Backend)
	cfg.MaxDownloads = ge.Int("MSQ_MAX_DOWNLOADS", cfg.MaxDownloads)
	cfg.MaxUploads = ge.Int("MSQ_MAX_UPLOADS", cfg.MaxUploads)
	cfg.StatusIntervalSeconds = ge.Int("MSQ_STATUS_INTERVAL", cfg.StatusIntervalSeconds)
	cfg.MaxAttempts = ge.Int("MSQ_MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.LogLevel = ge.String("MSQ_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = ge.String("MSQ_LOG_FORMAT", cfg.LogFormat)
	if err := ge.Err(); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.MaxDownloads < 1 {
		return fmt.Errorf("max_downloads must be at least 1, got %d", c.MaxDownloads)
	}
	if c.MaxUploads < 1 {
		return fmt.Errorf("max_uploads must be at least 1, got %d", c.MaxUploads)
	}
	if c.StatusIntervalSeconds < 1 {
		return fmt.Errorf("status_interval_seconds must be at least 1, got %d", c.StatusIntervalSeconds)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	switch c.Backend {
	case "", "auto", "native", "megatools":
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}

// StatusInterval is the progress reporting period as a duration.
func (c Config) StatusInterval() time.Duration {
	return time.Duration(c.StatusIntervalSeconds) * time.Second
}
