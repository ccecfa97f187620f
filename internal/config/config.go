// Package config loads process configuration from environment variables and
// an optional probes YAML file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the capture service.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// HTTP API settings
	APIHost          string
	APIPort          int
	PortAutoFallback bool

	// Storage settings
	RecordDir  string
	MaxRecords int

	// Journal settings
	JournalDir        string
	JournalBufferSize int
	JournalMaxSizeMB  int

	// Logging
	LogDir        string
	LogLevel      string
	LogMaxSizeMB  int
	LogMaxBackups int

	// Agent behavior
	TabURLFilter   string
	SyncInterval   time.Duration
	FeedbackDelay  time.Duration
	CaptureTimeout time.Duration

	// Library detection probes; empty means built-ins.
	ProbesFile string

	// Optional webhook POSTed after every saved capture; empty disables.
	NotifyEndpoint string

	// Browser launch settings. When LaunchBrowser is false the service
	// attaches to an already-running debugger at CDPAddress:CDPPort.
	LaunchBrowser     bool
	BrowserProfileDir string
	BrowserStartURL   string
	BrowserHeadless   bool
	BrowserWindowSize string
}

// Load reads configuration from environment variables and an optional .env
// file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:        getEnvOrDefault("ELEMENTCAP_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:           getEnvIntOrDefault("ELEMENTCAP_CDP_PORT", 9222),
		APIHost:           getEnvOrDefault("ELEMENTCAP_API_HOST", "127.0.0.1"),
		APIPort:           getEnvIntOrDefault("ELEMENTCAP_API_PORT", 8710),
		PortAutoFallback:  getEnvBoolOrDefault("ELEMENTCAP_API_PORT_FALLBACK", false),
		RecordDir:         getEnvOrDefault("ELEMENTCAP_RECORD_DIR", "./capture_records"),
		MaxRecords:        getEnvIntOrDefault("ELEMENTCAP_MAX_RECORDS", 1000),
		JournalDir:        getEnvOrDefault("ELEMENTCAP_JOURNAL_DIR", "./message_journal"),
		JournalBufferSize: getEnvIntOrDefault("ELEMENTCAP_JOURNAL_BUFFER_SIZE", 256),
		JournalMaxSizeMB:  getEnvIntOrDefault("ELEMENTCAP_JOURNAL_MAX_SIZE_MB", 50),
		LogDir:            getEnvOrDefault("ELEMENTCAP_LOG_DIR", "./logs"),
		LogLevel:          getEnvOrDefault("ELEMENTCAP_LOG_LEVEL", "info"),
		LogMaxSizeMB:      getEnvIntOrDefault("ELEMENTCAP_LOG_MAX_SIZE_MB", 50),
		LogMaxBackups:     getEnvIntOrDefault("ELEMENTCAP_LOG_MAX_BACKUPS", 5),
		TabURLFilter:      getEnvOrDefault("ELEMENTCAP_TAB_URL_FILTER", ""),
		SyncInterval:      getEnvDurationOrDefault("ELEMENTCAP_SYNC_INTERVAL", 5*time.Second),
		FeedbackDelay:     getEnvDurationOrDefault("ELEMENTCAP_FEEDBACK_DELAY", 150*time.Millisecond),
		CaptureTimeout:    getEnvDurationOrDefault("ELEMENTCAP_CAPTURE_TIMEOUT", 30*time.Second),
		ProbesFile:        getEnvOrDefault("ELEMENTCAP_PROBES_FILE", ""),
		NotifyEndpoint:    getEnvOrDefault("ELEMENTCAP_NOTIFY_ENDPOINT", ""),
		LaunchBrowser:     getEnvBoolOrDefault("ELEMENTCAP_LAUNCH_BROWSER", false),
		BrowserProfileDir: getEnvOrDefault("ELEMENTCAP_BROWSER_PROFILE_DIR", "./browser_profile"),
		BrowserStartURL:   getEnvOrDefault("ELEMENTCAP_BROWSER_START_URL", ""),
		BrowserHeadless:   getEnvBoolOrDefault("ELEMENTCAP_BROWSER_HEADLESS", false),
		BrowserWindowSize: getEnvOrDefault("ELEMENTCAP_BROWSER_WINDOW_SIZE", "1920,1080"),
	}

	if cfg.MaxRecords <= 0 {
		return nil, fmt.Errorf("config: ELEMENTCAP_MAX_RECORDS must be positive, got %d", cfg.MaxRecords)
	}
	if cfg.FeedbackDelay <= 0 {
		return nil, fmt.Errorf("config: ELEMENTCAP_FEEDBACK_DELAY must be positive, got %s", cfg.FeedbackDelay)
	}
	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint.
func (c *Config) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

// APIAddr returns the listen address for the HTTP API.
func (c *Config) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.APIHost, c.APIPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
