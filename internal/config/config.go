package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ScraperConfig struct {
	UserAgent string `yaml:"userAgent"`
	TimeoutMs int    `yaml:"timeoutMs"`
	// MaxRetries bounds per-fetch retry attempts for transient errors.
	MaxRetries int `yaml:"maxRetries"`
}

type WorkerConfig struct {
	// MaxConcurrentJobs bounds how many ingestion jobs run at once.
	MaxConcurrentJobs int `yaml:"maxConcurrentJobs"`
}

type RobotsConfig struct {
	Respect bool `yaml:"respect"`
}

type RodConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BrowserURL string `yaml:"browserUrl"`
}

type GitHubConfig struct {
	// Token is optional; unauthenticated requests work with lower rate
	// limits.
	Token string `yaml:"token"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
	// EventChannel names the pub/sub channel for the cross-process
	// event bridge. Empty disables the bridge even when URL is set.
	EventChannel string `yaml:"eventChannel"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// RetentionConfig controls TTL deletion of old terminal versions so the
// database does not grow without bound.
type RetentionConfig struct {
	Enabled                bool `yaml:"enabled"`
	CleanupIntervalMinutes int  `yaml:"cleanupIntervalMinutes"`
	VersionDays            int  `yaml:"versionDays"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Worker    WorkerConfig    `yaml:"worker"`
	Robots    RobotsConfig    `yaml:"robots"`
	Rod       RodConfig       `yaml:"rod"`
	GitHub    GitHubConfig    `yaml:"github"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Retention RetentionConfig `yaml:"retention"`
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080},
		Scraper: ScraperConfig{UserAgent: "docdex/1.0", TimeoutMs: 30000, MaxRetries: 4},
		Worker:  WorkerConfig{MaxConcurrentJobs: 3},
		Robots:  RobotsConfig{Respect: true},
		Logging: LoggingConfig{Level: "info"},
		Retention: RetentionConfig{
			CleanupIntervalMinutes: 60,
			VersionDays:            0,
		},
	}
}

// Load reads a YAML config file over the defaults and applies DOCDEX_*
// environment overrides for the settings that matter in containers.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DOCDEX_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("DOCDEX_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("DOCDEX_GITHUB_TOKEN"); v != "" {
		cfg.GitHub.Token = v
	}
	if v := os.Getenv("DOCDEX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DOCDEX_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("DOCDEX_MAX_CONCURRENT_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Worker.MaxConcurrentJobs = n
		}
	}
}
