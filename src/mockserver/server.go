// Package mockserver is an in-process Socket.IO server that enforces an
// origin allowlist. It answers health_check with health_response and lets
// the harness be exercised without the real backend.
package mockserver

import (
	"encoding/json"
	"net"
	"strings"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/socketprobe/src/hub"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// Server serves the Engine.IO endpoint alongside a small REST surface.
type Server struct {
	cfg      Config
	hub      *hub.Hub
	app      *fiber.App
	upgrader websocket.FastHTTPUpgrader
	srv      *fasthttp.Server
	logger   zerolog.Logger
}

// New creates a server. Serve starts the hub loop.
func New(cfg Config, logger zerolog.Logger) *Server {
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultConfig().SocketPath
	}
	logger = logger.With().Str("component", "mockserver").Logger()
	s := &Server{
		cfg: cfg,
		hub: hub.New(logger),
		app: fiber.New(),
		upgrader: websocket.FastHTTPUpgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origins are checked before the upgrade so both transports
			// refuse with the same response.
			CheckOrigin: func(*fasthttp.RequestCtx) bool { return true },
		},
		logger: logger,
	}
	s.registerRoutes()
	s.registerHandlers()
	s.srv = &fasthttp.Server{
		Handler: s.Handler(),
		Name:    "socketprobe-mock",
	}
	return s
}

// Hub returns the session hub.
func (s *Server) Hub() *hub.Hub { return s.hub }

// Handler routes Engine.IO traffic to the socket handler and everything
// else to the Fiber app.
func (s *Server) Handler() fasthttp.RequestHandler {
	rest := s.app.Handler()
	return func(ctx *fasthttp.RequestCtx) {
		if strings.HasPrefix(string(ctx.Path()), s.cfg.SocketPath) {
			s.handleEngine(ctx)
			return
		}
		rest(ctx)
	}
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	go s.hub.Run()
	return s.srv.Serve(ln)
}

// Start listens on addr, serves in the background and returns the base URL.
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	go func() {
		if err := s.Serve(ln); err != nil {
			s.logger.Error().Err(err).Msg("serve stopped")
		}
	}()
	return "http://" + ln.Addr().String(), nil
}

// Shutdown stops accepting connections and closes every session.
func (s *Server) Shutdown() error {
	s.hub.Stop()
	return s.srv.Shutdown()
}

func (s *Server) originAllowed(origin string) bool {
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// registerHandlers installs the application events the mock answers.
func (s *Server) registerHandlers() {
	s.hub.RegisterHandler("health_check", func(sessionID string, msg hub.Message) error {
		s.hub.Emit(sessionID, "health_response", map[string]any{
			"status":   "ok",
			"services": s.cfg.Services,
		})
		return nil
	})
	s.hub.RegisterHandler("echo", func(sessionID string, msg hub.Message) error {
		var payload any
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				return err
			}
		}
		s.hub.Emit(sessionID, "echo", payload)
		return nil
	})
}
