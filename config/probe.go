package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/orchestra-mcp/socketprobe/src/types"
)

// ProbeConfig holds the settings for one probe run.
type ProbeConfig struct {
	DefaultDeadline time.Duration `json:"default_deadline"`
	PollTimeout     time.Duration `json:"poll_timeout"`
	HealthTimeout   time.Duration `json:"health_timeout"`
	HealthPath      string        `json:"health_path"`
	SocketPath      string        `json:"socket_path"`
	AllowedOrigin   string        `json:"allowed_origin"`
	BlockedOrigin   string        `json:"blocked_origin"`
	ProbeEvent      string        `json:"probe_event"`
	ConfirmEvent    string        `json:"confirm_event"`
	SkipHealth      bool          `json:"skip_health"`
	LogLevel        string        `json:"log_level"`
}

// DefaultConfig returns the default probe configuration.
func DefaultConfig() *ProbeConfig {
	return &ProbeConfig{
		DefaultDeadline: 5 * time.Second,
		PollTimeout:     30 * time.Second,
		HealthTimeout:   5 * time.Second,
		HealthPath:      "/health",
		SocketPath:      types.DefaultSocketPath,
		AllowedOrigin:   "http://localhost:3000",
		BlockedOrigin:   "https://blocked.example",
		ProbeEvent:      "health_check",
		ConfirmEvent:    "health_response",
		LogLevel:        "info",
	}
}

// FromEnv loads the given dotenv files (".env" when none are named, missing
// files are ignored) and then overrides defaults from PROBE_* variables.
// Values that fail to parse keep their default.
func FromEnv(files ...string) *ProbeConfig {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}

	cfg := DefaultConfig()
	envDuration("PROBE_DEADLINE", &cfg.DefaultDeadline)
	envDuration("PROBE_POLL_TIMEOUT", &cfg.PollTimeout)
	envDuration("PROBE_HEALTH_TIMEOUT", &cfg.HealthTimeout)
	envString("PROBE_HEALTH_PATH", &cfg.HealthPath)
	envString("PROBE_SOCKET_PATH", &cfg.SocketPath)
	envString("PROBE_ALLOWED_ORIGIN", &cfg.AllowedOrigin)
	envString("PROBE_BLOCKED_ORIGIN", &cfg.BlockedOrigin)
	envString("PROBE_PROBE_EVENT", &cfg.ProbeEvent)
	envString("PROBE_CONFIRM_EVENT", &cfg.ConfirmEvent)
	envString("PROBE_LOG_LEVEL", &cfg.LogLevel)
	if v := os.Getenv("PROBE_SKIP_HEALTH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SkipHealth = b
		}
	}
	return cfg
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// envDuration accepts a Go duration ("750ms") or a whole number of seconds.
func envDuration(key string, dst *time.Duration) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		*dst = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		*dst = time.Duration(n) * time.Second
	}
}
