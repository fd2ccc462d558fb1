// Package config provides typed access to the engine's environment-sourced
// configuration.
package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/netopsworks/upgradeagent/internal/env"
)

var ensureOnce sync.Once

func ensureEnvLoaded() {
	ensureOnce.Do(func() {
		_ = env.Ensure()
	})
}

// String returns the trimmed environment variable or fallback when unset.
func String(key, fallback string) string {
	ensureEnvLoaded()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// Int returns an integer environment variable or fallback when invalid.
func Int(key string, fallback int) int {
	ensureEnvLoaded()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

// Int64 returns a 64-bit integer environment variable or fallback.
func Int64(key string, fallback int64) int64 {
	ensureEnvLoaded()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// Duration parses a time duration from environment or returns fallback.
func Duration(key string, fallback time.Duration) time.Duration {
	ensureEnvLoaded()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}

// Config bundles everything the engine reads from the environment. Tests
// construct it directly; production loads it once with FromEnv.
type Config struct {
	// Device credentials.
	Username       string
	Password       string
	EnablePassword string

	// Worker pool bound.
	WorkerCount int

	// Target image and version.
	ImageFilename      string
	ImageFileSize      int64
	TargetVersion      string
	FlashFreeThreshold int64

	// Region file-server URLs keyed by upper-case region name, with a
	// default fallback for unlisted regions.
	FileServerURLs       map[string]string
	DefaultFileServerURL string

	// Optional webhook notified best-effort on terminal transitions.
	WebhookURL string

	// Stores.
	DBPath      string
	PrecheckDir string

	// Transfer progress polling.
	TransferPollInterval time.Duration
	TransferPollMax      int

	// Reconnect window after a reload.
	ReconnectMaxWait      time.Duration
	ReconnectPollInterval time.Duration

	// Per-command bounds.
	CommandTimeout     time.Duration
	LongCommandTimeout time.Duration
	DialTimeout        time.Duration
}

const fileServerURLSuffix = "_HTTP_FILE_SERVER_URL"

// FromEnv loads the full engine configuration with documented defaults.
func FromEnv() Config {
	ensureEnvLoaded()
	cfg := Config{
		Username:              String("DEVICE_USERNAME", ""),
		Password:              String("DEVICE_PASSWORD", ""),
		EnablePassword:        String("DEVICE_ENABLE_PASSWORD", ""),
		WorkerCount:           Int("WORKER_COUNT", 10),
		ImageFilename:         String("TARGET_IMAGE_FILENAME", ""),
		ImageFileSize:         Int64("TARGET_IMAGE_FILESIZE", 0),
		TargetVersion:         String("TARGET_OS_VERSION", ""),
		FlashFreeThreshold:    Int64("FLASH_FREE_SPACE_THRESHOLD", 7516192768),
		FileServerURLs:        fileServerURLsFromEnv(),
		DefaultFileServerURL:  String("DEFAULT"+fileServerURLSuffix, ""),
		WebhookURL:            String("WEBHOOK_URL", ""),
		DBPath:                String("TASK_DB_PATH", "upgradeagent.sqlite"),
		PrecheckDir:           String("PRECHECK_DIR", "prechecks"),
		TransferPollInterval:  Duration("TRANSFER_POLL_INTERVAL", 20*time.Second),
		TransferPollMax:       Int("TRANSFER_POLL_MAX", 15),
		ReconnectMaxWait:      Duration("RECONNECT_MAX_WAIT", 15*time.Minute),
		ReconnectPollInterval: Duration("RECONNECT_POLL_INTERVAL", 30*time.Second),
		CommandTimeout:        Duration("COMMAND_TIMEOUT", 30*time.Second),
		LongCommandTimeout:    Duration("LONG_COMMAND_TIMEOUT", 10*time.Minute),
		DialTimeout:           Duration("DIAL_TIMEOUT", 30*time.Second),
	}
	return cfg
}

// fileServerURLsFromEnv collects every <REGION>_HTTP_FILE_SERVER_URL entry.
func fileServerURLsFromEnv() map[string]string {
	urls := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasSuffix(key, fileServerURLSuffix) {
			continue
		}
		region := strings.TrimSuffix(key, fileServerURLSuffix)
		if region == "" || region == "DEFAULT" {
			continue
		}
		if value = strings.TrimSpace(value); value != "" {
			urls[region] = value
		}
	}
	return urls
}

// FileServerURL resolves the image source URL for a region, falling back to
// the default when no region-specific URL is configured.
func (c Config) FileServerURL(region string) string {
	if url, ok := c.FileServerURLs[strings.ToUpper(strings.TrimSpace(region))]; ok {
		return url
	}
	return c.DefaultFileServerURL
}
