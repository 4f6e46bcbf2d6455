package mockserver

import (
	"time"

	"github.com/orchestra-mcp/socketprobe/src/types"
)

// Config controls the mock real-time server.
type Config struct {
	// AllowedOrigins lists accepted Origin header values. Empty accepts any
	// origin; "*" inside the list does the same. Requests without an Origin
	// header are always accepted.
	AllowedOrigins []string
	SocketPath     string
	PingInterval   time.Duration
	PingTimeout    time.Duration
	PollTimeout    time.Duration
	// RejectConnect answers namespace CONNECT with CONNECT_ERROR.
	RejectConnect bool
	// Services is reported by GET /health.
	Services map[string]bool
}

// DefaultConfig returns the default mock server configuration.
func DefaultConfig() Config {
	return Config{
		SocketPath:   types.DefaultSocketPath,
		PingInterval: 25 * time.Second,
		PingTimeout:  20 * time.Second,
		PollTimeout:  10 * time.Second,
		Services: map[string]bool{
			"stt": true,
			"llm": true,
			"tts": true,
		},
	}
}
