package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	defaultDeviceName       = "Ethist"
	defaultHTTPCacheDir     = ".http_cache"
	defaultSessionCacheDir  = ".cache"
	defaultMaxResourceBytes = 10 * 1024 * 1024 // 10 MB
	defaultLookupRPS        = 2.0
	defaultRetryDelay       = 5 * time.Second
	defaultStatusAddr       = ":8787"
	defaultLogLevel         = "info"
)

// FatalPolicy decides what the session loop does with conditions that
// cannot be fixed by waiting for the next pairing
type FatalPolicy string

const (
	// PolicyAbort stops the session loop and shuts the daemon down
	PolicyAbort FatalPolicy = "abort"
	// PolicyRetry logs the failure and tries again after RetryDelay
	PolicyRetry FatalPolicy = "retry"
)

// AppConfig holds application configuration.
// It is built once at startup and handed to each component.
type AppConfig struct {
	DeviceName      string `yaml:"device_name"`
	HTTPCacheDir    string `yaml:"http_cache_dir"`
	SessionCacheDir string `yaml:"session_cache_dir"`

	// FetchTimeout of 0 means no timeout
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	MaxResourceBytes int64         `yaml:"max_resource_bytes"`

	// LookupURL empty disables the colour lookup
	LookupURL   string  `yaml:"lookup_url"`
	LookupToken string  `yaml:"lookup_token"`
	LookupRPS   float64 `yaml:"lookup_rps"`

	FatalPolicy FatalPolicy   `yaml:"fatal_policy"`
	RetryDelay  time.Duration `yaml:"retry_delay"`

	// StatusAddr empty disables the status server
	StatusAddr string `yaml:"status_addr"`
	// CoverSize of 0 derives the thumbnail size from the screen height
	CoverSize int `yaml:"cover_size"`

	LogLevel  string `yaml:"log_level"`
	PrettyLog bool   `yaml:"pretty_log"`
}

// Default returns the configuration used when nothing is set
func Default() *AppConfig {
	return &AppConfig{
		DeviceName:       defaultDeviceName,
		HTTPCacheDir:     defaultHTTPCacheDir,
		SessionCacheDir:  defaultSessionCacheDir,
		MaxResourceBytes: defaultMaxResourceBytes,
		LookupRPS:        defaultLookupRPS,
		FatalPolicy:      PolicyAbort,
		RetryDelay:       defaultRetryDelay,
		StatusAddr:       defaultStatusAddr,
		LogLevel:         defaultLogLevel,
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// ETHIST_CONFIG if any, then environment variables
func Load() (*AppConfig, error) {
	cfg := Default()

	if path := os.Getenv("ETHIST_CONFIG"); path != "" {
		if err := cfg.loadFile(expandPath(path)); err != nil {
			return nil, err
		}
	}

	cfg.DeviceName = getenv("ETHIST_DEVICE_NAME", cfg.DeviceName)
	cfg.HTTPCacheDir = expandPath(getenv("ETHIST_HTTP_CACHE_DIR", cfg.HTTPCacheDir))
	cfg.SessionCacheDir = expandPath(getenv("ETHIST_SESSION_CACHE_DIR", cfg.SessionCacheDir))
	cfg.FetchTimeout = getDuration("ETHIST_FETCH_TIMEOUT", cfg.FetchTimeout)
	cfg.MaxResourceBytes = int64(getInt("ETHIST_MAX_RESOURCE_BYTES", int(cfg.MaxResourceBytes)))
	cfg.LookupURL = getenv("ETHIST_LOOKUP_URL", cfg.LookupURL)
	cfg.LookupToken = getenv("ETHIST_LOOKUP_TOKEN", cfg.LookupToken)
	cfg.LookupRPS = getFloat("ETHIST_LOOKUP_RPS", cfg.LookupRPS)
	cfg.FatalPolicy = FatalPolicy(getenv("ETHIST_FATAL_POLICY", string(cfg.FatalPolicy)))
	cfg.RetryDelay = getDuration("ETHIST_RETRY_DELAY", cfg.RetryDelay)
	cfg.StatusAddr = getenvAllowEmpty("ETHIST_STATUS_ADDR", cfg.StatusAddr)
	cfg.CoverSize = getInt("ETHIST_COVER_SIZE", cfg.CoverSize)
	cfg.LogLevel = getenv("ETHIST_LOG_LEVEL", cfg.LogLevel)
	cfg.PrettyLog = getBool("ETHIST_PRETTY_LOG", cfg.PrettyLog)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Log writes a summary of the configuration. Secrets are left out.
func (c *AppConfig) Log(logger *zap.Logger) {
	logger.Info("Configuration loaded",
		zap.String("device", c.DeviceName),
		zap.String("httpCacheDir", c.HTTPCacheDir),
		zap.String("sessionCacheDir", c.SessionCacheDir),
		zap.Bool("lookupEnabled", c.LookupURL != ""),
		zap.String("fatalPolicy", string(c.FatalPolicy)),
		zap.String("statusAddr", c.StatusAddr),
		zap.String("logLevel", c.LogLevel))
}

// Validate rejects values the daemon cannot run with
func (c *AppConfig) Validate() error {
	switch c.FatalPolicy {
	case PolicyAbort, PolicyRetry:
	default:
		return fmt.Errorf("invalid fatal policy %q (want %q or %q)", c.FatalPolicy, PolicyAbort, PolicyRetry)
	}
	if c.HTTPCacheDir == "" {
		return fmt.Errorf("http cache dir must not be empty")
	}
	if c.SessionCacheDir == "" {
		return fmt.Errorf("session cache dir must not be empty")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay must not be negative: %s", c.RetryDelay)
	}
	if c.LookupRPS <= 0 {
		return fmt.Errorf("lookup rps must be positive: %v", c.LookupRPS)
	}
	return nil
}

// SessionFilesDir is where the protocol backend keeps its file cache
func (c *AppConfig) SessionFilesDir() string {
	return filepath.Join(c.SessionCacheDir, "files")
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

// expandPath expands environment variables and a leading ~
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if len(p) > 0 && p[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return p
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvAllowEmpty(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
