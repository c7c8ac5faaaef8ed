package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// Config contains all of the settings used by the command line, the web surface and watch mode
type Config struct {
	ListenAddrIP   string
	ListenAddrPort string
	Renderer       string // pdfium or fitz
	OutputDir      string
	PreviewDir     string
	Limits         Limits
	Watch          WatchConfig
}

// WatchConfig stores the settings of the inbox watcher
type WatchConfig struct {
	Tool       string `toml:"tool"`
	Inbox      string `toml:"inbox"`
	Outbox     string `toml:"outbox"`
	Interval   int    `toml:"interval"` // minutes
	Delete     bool   `toml:"delete"`
	DoneFolder string `toml:"done_folder"`
}

// fileConfig is the optional TOML overlay
type fileConfig struct {
	Renderer  string       `toml:"renderer"`
	OutputDir string       `toml:"output_dir"`
	Limits    *Limits      `toml:"limits"`
	Watch     *WatchConfig `toml:"watch"`
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolVal
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// getEnvInt64 gets a 64 bit integer environment variable with a default value
func getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// Setup loads configuration and returns Config and Logger.
// configPath may be empty, in which case PICONVERTER_CONFIG is consulted.
func Setup(configPath string) (Config, *slog.Logger, error) {
	// Load .env file (silently ignore if doesn't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	logger := setupLogging()
	Logger = logger

	cfg, err := Load(configPath)
	if err != nil {
		return cfg, logger, err
	}
	logger.Debug("Configuration loaded",
		"renderer", cfg.Renderer,
		"outputDir", cfg.OutputDir,
		"maxItems", cfg.Limits.MaxItems,
		"maxBytes", cfg.Limits.MaxTotalBytes)
	return cfg, logger, nil
}

// Load reads the environment and the optional TOML file without touching logging
func Load(configPath string) (Config, error) {
	cfg := Config{}

	cfg.ListenAddrIP = getEnv("SERVER_ADDR", "127.0.0.1")
	cfg.ListenAddrPort = getEnv("SERVER_PORT", "8000")
	cfg.Renderer = getEnv("RENDERER", "pdfium")
	cfg.OutputDir = getEnv("OUTPUT_DIR", ".")
	cfg.PreviewDir = getEnv("PREVIEW_DIR", "")

	cfg.Limits.MaxItems = getEnvInt("MAX_QUEUE_ITEMS", 0)
	cfg.Limits.MaxTotalBytes = getEnvInt64("MAX_QUEUE_BYTES", 0)

	cfg.Watch.Tool = getEnv("WATCH_TOOL", "")
	cfg.Watch.Inbox = getEnv("WATCH_INBOX", "")
	cfg.Watch.Outbox = getEnv("WATCH_OUTBOX", "")
	cfg.Watch.Interval = getEnvInt("WATCH_INTERVAL", 1)
	cfg.Watch.Delete = getEnvBool("WATCH_DELETE", true)
	cfg.Watch.DoneFolder = getEnv("WATCH_DONE_FOLDER", "")

	if configPath == "" {
		configPath = os.Getenv("PICONVERTER_CONFIG")
	}
	if configPath != "" {
		if err := applyFile(&cfg, configPath); err != nil {
			return cfg, err
		}
	}

	if cfg.Renderer != "pdfium" && cfg.Renderer != "fitz" {
		return cfg, fmt.Errorf("unknown renderer %q (expected pdfium or fitz)", cfg.Renderer)
	}
	if cfg.Limits.MaxItems < 0 || cfg.Limits.MaxTotalBytes < 0 {
		return cfg, errors.New("queue limits must not be negative")
	}
	if cfg.Watch.Interval < 1 {
		cfg.Watch.Interval = 1
	}

	outputAbs, err := filepath.Abs(filepath.ToSlash(cfg.OutputDir))
	if err != nil {
		return cfg, fmt.Errorf("resolve output directory: %w", err)
	}
	cfg.OutputDir = outputAbs
	return cfg, nil
}

// applyFile overlays the values of a TOML file on top of the environment
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if fc.Renderer != "" {
		cfg.Renderer = fc.Renderer
	}
	if fc.OutputDir != "" {
		cfg.OutputDir = fc.OutputDir
	}
	if fc.Limits != nil {
		cfg.Limits = *fc.Limits
	}
	if fc.Watch != nil {
		w := *fc.Watch
		if w.Tool != "" {
			cfg.Watch.Tool = w.Tool
		}
		if w.Inbox != "" {
			cfg.Watch.Inbox = w.Inbox
		}
		if w.Outbox != "" {
			cfg.Watch.Outbox = w.Outbox
		}
		if w.Interval != 0 {
			cfg.Watch.Interval = w.Interval
		}
		if w.DoneFolder != "" {
			cfg.Watch.DoneFolder = w.DoneFolder
		}
		cfg.Watch.Delete = w.Delete || w.DoneFolder == ""
	}
	return nil
}

// setupLogging configures the application logger
func setupLogging() *slog.Logger {
	logLevel := getEnv("LOG_LEVEL", "info")
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOptions := &slog.HandlerOptions{Level: level}

	logOutput := getEnv("LOG_OUTPUT", "stderr")
	var logWriter io.Writer

	switch logOutput {
	case "stdout":
		logWriter = os.Stdout
	case "file":
		logPath, err := filepath.Abs(filepath.ToSlash(getEnv("LOG_FILE", "piconverter.log")))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating log file path: %v\n", err)
			logWriter = os.Stderr
			break
		}
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			logWriter = os.Stderr
			break
		}
		logWriter = logFile
	default:
		logWriter = os.Stderr
	}

	handler := slog.NewTextHandler(logWriter, handlerOptions)
	return slog.New(handler)
}
