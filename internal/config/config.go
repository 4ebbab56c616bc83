// Package config loads process settings from the environment. A .env file in
// the working directory is read first if present; real environment variables
// take precedence over it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting used by cmd/server and cmd/auditor.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Abuse    AbuseConfig
	Log      LogConfig
	NATSURL  string // empty disables event fan-out
	Events   int    // audit dispatcher queue size
	SweepInt time.Duration
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	ListenAddr  string
	Name        string
	CORSOrigins []string
}

// StorageConfig selects backing stores. An empty DatabaseURL selects the
// in-memory entry store.
type StorageConfig struct {
	DatabaseURL string
	RedisAddr   string
}

// AbuseConfig holds gate policy.
type AbuseConfig struct {
	RateLimit       int
	RateWindow      time.Duration
	Cooldown        time.Duration
	CooldownIdleTTL time.Duration
	AttackBlock     time.Duration
	ReportBlock     time.Duration
}

// LogConfig enables file logging when File is set.
type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxAgeDays int
}

// Load reads the configuration. It fails on values that are present but
// malformed; absent values take their defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	server, err := buildServerConfig()
	if err != nil {
		return Config{}, err
	}
	abuse, err := buildAbuseConfig()
	if err != nil {
		return Config{}, err
	}
	logCfg, err := buildLogConfig()
	if err != nil {
		return Config{}, err
	}
	events, err := getInt("EVENT_BUFFER", 1024)
	if err != nil {
		return Config{}, err
	}
	sweep, err := getDuration("SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Server: server,
		Storage: StorageConfig{
			DatabaseURL: getEnv("DATABASE_URL", ""),
			RedisAddr:   getEnv("REDIS_ADDR", ""),
		},
		Abuse:    abuse,
		Log:      logCfg,
		NATSURL:  getEnv("NATS_URL", ""),
		Events:   events,
		SweepInt: sweep,
	}, nil
}

func buildServerConfig() (ServerConfig, error) {
	addr := getEnv("LISTEN_ADDR", "")
	if addr == "" {
		port := getEnv("PORT", "3000")
		if _, err := strconv.Atoi(port); err != nil {
			return ServerConfig{}, fmt.Errorf("invalid PORT: %w", err)
		}
		addr = ":" + port
	}

	name := getEnv("SERVER_NAME", "")
	if name == "" {
		name, _ = os.Hostname()
	}
	if name == "" {
		name = "api-1"
	}

	var origins []string
	for _, o := range strings.Split(getEnv("CORS_ORIGINS", "*"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return ServerConfig{ListenAddr: addr, Name: name, CORSOrigins: origins}, nil
}

func buildAbuseConfig() (AbuseConfig, error) {
	var (
		cfg AbuseConfig
		err error
	)
	if cfg.RateLimit, err = getInt("RATE_LIMIT_MAX", 5); err != nil {
		return AbuseConfig{}, err
	}
	if cfg.RateLimit <= 0 {
		return AbuseConfig{}, fmt.Errorf("invalid RATE_LIMIT_MAX: must be positive")
	}
	if cfg.RateWindow, err = getDuration("RATE_LIMIT_WINDOW", 10*time.Second); err != nil {
		return AbuseConfig{}, err
	}
	if cfg.Cooldown, err = getDuration("COOLDOWN", 30*time.Second); err != nil {
		return AbuseConfig{}, err
	}
	if cfg.CooldownIdleTTL, err = getDuration("COOLDOWN_IDLE_TTL", 5*time.Minute); err != nil {
		return AbuseConfig{}, err
	}
	if cfg.AttackBlock, err = getDuration("ATTACK_BLOCK_DURATION", 15*time.Minute); err != nil {
		return AbuseConfig{}, err
	}
	if cfg.ReportBlock, err = getDuration("REPORT_BLOCK_DURATION", 5*time.Minute); err != nil {
		return AbuseConfig{}, err
	}
	return cfg, nil
}

func buildLogConfig() (LogConfig, error) {
	size, err := getInt("LOG_FILE_MAX_SIZE_MB", 100)
	if err != nil {
		return LogConfig{}, err
	}
	age, err := getInt("LOG_FILE_MAX_AGE_DAYS", 7)
	if err != nil {
		return LogConfig{}, err
	}
	return LogConfig{
		File:       getEnv("LOG_FILE", ""),
		MaxSizeMB:  size,
		MaxAgeDays: age,
	}, nil
}

func getInt(key string, fallback int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
