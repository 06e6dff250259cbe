package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr   = ":8080"
	defaultDBPath       = "golobulus.db"
	defaultIdleInterval = 1800 * time.Millisecond
	defaultInterpreter  = "python3"

	envListenAddr   = "GOLOB_LISTEN_ADDR"
	envDBPath       = "GOLOB_DB_PATH"
	envLogLevel     = "GOLOB_LOG_LEVEL"
	envIdleInterval = "GOLOB_IDLE_INTERVAL_MS"
	envInterpreter  = "GOLOB_INTERPRETER"
	envWatchScripts = "GOLOB_WATCH_SCRIPTS"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr   string
	DBPath       string
	LogLevel     slog.Level
	IdleInterval time.Duration
	Interpreter  string
	WatchScripts bool
}

// fileConfig is the YAML shape accepted by LoadFile.
type fileConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	DBPath         string `yaml:"db_path"`
	LogLevel       string `yaml:"log_level"`
	IdleIntervalMS int    `yaml:"idle_interval_ms"`
	Interpreter    string `yaml:"interpreter"`
	WatchScripts   *bool  `yaml:"watch_scripts"`
}

func defaults() Config {
	return Config{
		ListenAddr:   defaultListenAddr,
		DBPath:       defaultDBPath,
		LogLevel:     slog.LevelInfo,
		IdleInterval: defaultIdleInterval,
		Interpreter:  defaultInterpreter,
	}
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := defaults()
	applyEnv(&cfg)
	return cfg
}

// LoadFile reads a YAML file over the defaults, then applies the
// environment. Environment variables win over the file.
func LoadFile(path string) (Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.DBPath != "" {
		cfg.DBPath = fc.DBPath
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = parseLogLevel(fc.LogLevel)
	}
	if fc.IdleIntervalMS > 0 {
		cfg.IdleInterval = time.Duration(fc.IdleIntervalMS) * time.Millisecond
	}
	if fc.Interpreter != "" {
		cfg.Interpreter = fc.Interpreter
	}
	if fc.WatchScripts != nil {
		cfg.WatchScripts = *fc.WatchScripts
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envIdleInterval); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.IdleInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv(envInterpreter); v != "" {
		cfg.Interpreter = v
	}
	if v := os.Getenv(envWatchScripts); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.WatchScripts = b
		}
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
