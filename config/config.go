package config

import (
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	defaultMaxAttachmentBytes = 7 * 1024 * 1024
	defaultKeepAlive          = 25 * time.Second
	defaultHandshakeTimeout   = 15 * time.Second
	defaultTimezone           = "Asia/Jakarta"
)

// Config holds all application configurations
type Config struct {
	Port           string
	DatabaseURL    string
	MigrationsPath string

	// SMTPHub and IMAPHub are host:port pairs of the mail provider every
	// user credential authenticates against.
	SMTPHub          string
	IMAPHub          string
	SkipTLSVerify    bool
	HandshakeTimeout time.Duration

	JWTSecret     []byte
	CredentialKey []byte

	MaxAttachmentBytes int64
	StreamKeepAlive    time.Duration
	Location           *time.Location
	QuotaEnforce       bool

	SendRatePerSecond float64
	SendRateBurst     int
}

// LoadConfig reads configuration from .env file and the environment.
func LoadConfig(logger *zap.SugaredLogger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using environment variables directly.")
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		MigrationsPath:     getEnv("MIGRATIONS_PATH", "database/migrations"),
		SMTPHub:            os.Getenv("SMTP_HUB"),
		IMAPHub:            os.Getenv("IMAP_HUB"),
		SkipTLSVerify:      os.Getenv("SKIP_TLS_VERIFY") == "YES",
		QuotaEnforce:       os.Getenv("QUOTA_ENFORCE") == "YES",
		JWTSecret:          []byte(os.Getenv("JWT_SECRET")),
		MaxAttachmentBytes: defaultMaxAttachmentBytes,
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	key, err := base64.StdEncoding.DecodeString(os.Getenv("CREDENTIAL_KEY"))
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("CREDENTIAL_KEY must be 32 bytes, base64 encoded")
	}
	cfg.CredentialKey = key

	for _, hub := range []struct{ name, value string }{{"SMTP_HUB", cfg.SMTPHub}, {"IMAP_HUB", cfg.IMAPHub}} {
		if hub.value == "" {
			logger.Warnw("Mail hub not configured, credential checks will report it as missing", "variable", hub.name)
			continue
		}
		if _, _, err := SplitHub(hub.value); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", hub.name, err)
		}
	}

	cfg.HandshakeTimeout = getDuration(logger, "HANDSHAKE_TIMEOUT", defaultHandshakeTimeout)
	cfg.StreamKeepAlive = getDuration(logger, "STREAM_KEEPALIVE", defaultKeepAlive)

	tz := getEnv("TIMEZONE", defaultTimezone)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
	}
	cfg.Location = loc

	cfg.SendRatePerSecond = 2
	if v := os.Getenv("SEND_RATE_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.SendRatePerSecond = f
		} else {
			logger.Warnw("SEND_RATE_PER_SECOND invalid, using default", "value", v, "default", cfg.SendRatePerSecond)
		}
	}
	cfg.SendRateBurst = 5
	if v := os.Getenv("SEND_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SendRateBurst = n
		} else {
			logger.Warnw("SEND_RATE_BURST invalid, using default", "value", v, "default", cfg.SendRateBurst)
		}
	}

	return cfg, nil
}

// SplitHub parses a host:port pair such as "smtp.gmail.com:465".
func SplitHub(hub string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(hub)
	if err != nil {
		return "", 0, fmt.Errorf("expected host:port, got %q", hub)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return "", 0, fmt.Errorf("invalid port in %q", hub)
	}
	return host, port, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(logger *zap.SugaredLogger, key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		logger.Warnw("Invalid duration, using default", "variable", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}
