package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Database DatabaseConfig  `yaml:"database"`
	Logging  LoggingConfig   `yaml:"logging"`
	Import   ImportConfig    `yaml:"import"`
	Matching MatchingConfig  `yaml:"matching"`
	Backup   BackupConfig    `yaml:"backup"`
	Inbox    InboxConfig     `yaml:"inbox"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// ServerConfig holds HTTP server settings. CORSOrigins lists browser
// origins allowed to call the API; empty disables CORS. TrustedProxies
// lists the reverse proxies (IPs or CIDRs) whose forwarding headers
// identify the client.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	BasePath       string   `yaml:"base_path"`
	CORSOrigins    []string `yaml:"cors_origins"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// DatabaseConfig holds SQLite settings. A zero OptimizeInterval disables
// scheduled maintenance.
type DatabaseConfig struct {
	Path             string        `yaml:"path"`
	OptimizeInterval time.Duration `yaml:"optimize_interval"`
}

// BackupConfig controls the snapshot taken before each import run. An
// empty Dir resolves to a "backups" directory beside the database.
type BackupConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Dir       string `yaml:"dir"`
	Retention int    `yaml:"retention"`
}

// InboxConfig enables a drop directory whose roster files are previewed
// automatically. An empty Dir disables it.
type InboxConfig struct {
	Dir      string        `yaml:"dir"`
	Debounce time.Duration `yaml:"debounce"`
}

// WebhookConfig is an endpoint notified about import events. Type is
// generic, discord or slack; an empty Events list means all events.
type WebhookConfig struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Type   string   `yaml:"type"`
	Events []string `yaml:"events"`
}

// LoggingConfig holds logging settings. FilePath enables a rotated log
// file in addition to stdout.
type LoggingConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"`
	FilePath       string `yaml:"file_path"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb"`
	FileMaxFiles   int    `yaml:"file_max_files"`
	FileMaxAgeDays int    `yaml:"file_max_age_days"`
}

// ImportConfig holds preview/execute settings.
type ImportConfig struct {
	JobTTL              time.Duration `yaml:"job_ttl"`
	MaxPendingJobs      int           `yaml:"max_pending_jobs"`
	PreviewSampleSize   int           `yaml:"preview_sample_size"`
	MaxUploadMB         int           `yaml:"max_upload_mb"`
	UploadRatePerMinute int           `yaml:"upload_rate_per_minute"`
}

// MatchingConfig holds duplicate detection settings.
type MatchingConfig struct {
	Threshold       float64         `yaml:"threshold"`
	FuzzyThreshold  float64         `yaml:"fuzzy_threshold"`
	RequireLastName bool            `yaml:"require_last_name"`
	Workers         int             `yaml:"workers"`
	Weights         MatchingWeights `yaml:"weights"`
}

// MatchingWeights holds the contribution of each matching signal.
type MatchingWeights struct {
	FirstName      float64 `yaml:"first_name"`
	FirstNameFuzzy float64 `yaml:"first_name_fuzzy"`
	LastName       float64 `yaml:"last_name"`
	LastNameFuzzy  float64 `yaml:"last_name_fuzzy"`
	Team           float64 `yaml:"team"`
	League         float64 `yaml:"league"`
	DateOfBirth    float64 `yaml:"date_of_birth"`
	Position       float64 `yaml:"position"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			BasePath: "/",
		},
		Database: DatabaseConfig{
			Path:             "/data/rosterimport.db",
			OptimizeInterval: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "json",
			FileMaxSizeMB:  100,
			FileMaxFiles:   5,
			FileMaxAgeDays: 30,
		},
		Import: ImportConfig{
			JobTTL:              30 * time.Minute,
			MaxPendingJobs:      256,
			PreviewSampleSize:   10,
			MaxUploadMB:         10,
			UploadRatePerMinute: 30,
		},
		Matching: MatchingConfig{
			Threshold:       0.5,
			FuzzyThreshold:  0.8,
			RequireLastName: true,
			Workers:         4,
			Weights: MatchingWeights{
				FirstName:      0.25,
				FirstNameFuzzy: 0.15,
				LastName:       0.30,
				LastNameFuzzy:  0.20,
				Team:           0.20,
				League:         0.10,
				DateOfBirth:    0.10,
				Position:       0.05,
			},
		},
		Backup: BackupConfig{
			Enabled:   true,
			Retention: 10,
		},
		Inbox: InboxConfig{
			Debounce: 2 * time.Second,
		},
	}
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() error {
	if v := os.Getenv("RI_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RI_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("RI_BASE_PATH"); v != "" {
		c.Server.BasePath = v
	}
	if v := os.Getenv("RI_CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("RI_TRUSTED_PROXIES"); v != "" {
		c.Server.TrustedProxies = splitList(v)
	}
	if v := os.Getenv("RI_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("RI_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RI_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("RI_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("RI_BACKUP_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RI_BACKUP_ENABLED: %w", err)
		}
		c.Backup.Enabled = b
	}
	if v := os.Getenv("RI_BACKUP_DIR"); v != "" {
		c.Backup.Dir = v
	}
	if v := os.Getenv("RI_INBOX_DIR"); v != "" {
		c.Inbox.Dir = v
	}
	if v := os.Getenv("RI_JOB_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RI_JOB_TTL: %w", err)
		}
		c.Import.JobTTL = d
	}
	if v := os.Getenv("RI_MATCH_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RI_MATCH_THRESHOLD: %w", err)
		}
		c.Matching.Threshold = f
	}
	return nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Import.JobTTL <= 0 {
		return fmt.Errorf("import job_ttl must be positive, got %s", c.Import.JobTTL)
	}
	if c.Import.MaxUploadMB <= 0 {
		return fmt.Errorf("import max_upload_mb must be positive, got %d", c.Import.MaxUploadMB)
	}
	if c.Matching.Threshold < 0 || c.Matching.Threshold > 1 {
		return fmt.Errorf("matching threshold must be within [0,1], got %v", c.Matching.Threshold)
	}
	if c.Database.OptimizeInterval < 0 {
		return fmt.Errorf("database optimize_interval must not be negative, got %s", c.Database.OptimizeInterval)
	}
	if c.Backup.Retention < 0 {
		return fmt.Errorf("backup retention must not be negative, got %d", c.Backup.Retention)
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = filepath.Join(filepath.Dir(c.Database.Path), "backups")
	}
	if c.Inbox.Debounce <= 0 {
		return fmt.Errorf("inbox debounce must be positive, got %s", c.Inbox.Debounce)
	}
	for i, w := range c.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("webhooks[%d]: url is required", i)
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")
	return nil
}

// splitList parses a comma-separated environment value.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// MaxUploadBytes returns the upload size limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Import.MaxUploadMB) << 20
}
