package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

type Config struct {
	HTTPAddr              string
	DatabaseURL           string
	AutoMigrate           bool
	RequireTLS            bool
	LogLevel              string
	LogFormat             string
	MaxUploadBytes        int64
	HeaderScanRows        int
	RemovedRowSampleLimit int
}

func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:           strings.TrimSpace(os.Getenv("DATABASE_URL")),
		AutoMigrate:           getBoolEnv("AUTO_MIGRATE", true),
		RequireTLS:            getBoolEnv("REQUIRE_TLS", false),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "text"),
		MaxUploadBytes:        int64(getIntEnv("MAX_UPLOAD_BYTES", 20*1024*1024)),
		HeaderScanRows:        getIntEnv("HEADER_SCAN_ROWS", 25),
		RemovedRowSampleLimit: getIntEnv("REMOVED_ROW_SAMPLE_LIMIT", 10),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 * 1024 * 1024
	}
	if cfg.HeaderScanRows <= 0 {
		cfg.HeaderScanRows = 25
	}
	if cfg.RemovedRowSampleLimit <= 0 {
		cfg.RemovedRowSampleLimit = 10
	}

	return cfg, nil
}

// Logger builds the process logger from the LOG_LEVEL / LOG_FORMAT settings.
func (c Config) Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.logrusLevel())
	if strings.EqualFold(c.LogFormat, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func (c Config) logrusLevel() logrus.Level {
	switch strings.ToLower(c.LogLevel) {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func getBoolEnv(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getIntEnv(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
