// Package server hosts the duplex transcription endpoint.
package server

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/websocket/v2"
	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/meeting-scribe/call"
	"github.com/mrsingh-rishi/meeting-scribe/metrics"
	"github.com/mrsingh-rishi/meeting-scribe/stt"
)

type Config struct {
	Addr              string
	TranscribeTimeout time.Duration
	MaxPending        int
	WriteTimeout      time.Duration
}

// Server accepts client sockets on /ws and runs one call per socket.
type Server struct {
	app         *fiber.App
	cfg         Config
	transcriber stt.Transcriber
	metrics     *metrics.Metrics
	logger      *slog.Logger
	startTime   time.Time

	mu       sync.Mutex
	calls    map[string]*call.Call
	shutting bool
	handlers sync.WaitGroup
}

func New(cfg Config, transcriber stt.Transcriber, m *metrics.Metrics, logger *slog.Logger) (*Server, error) {
	if transcriber == nil {
		return nil, errors.New("transcriber is required")
	}
	if m == nil {
		m = metrics.NewMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			AppName:               "meeting-scribe",
		}),
		cfg:         cfg,
		transcriber: transcriber,
		metrics:     m,
		logger:      logger.With("component", "server"),
		startTime:   time.Now(),
		calls:       make(map[string]*call.Call),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	// Middleware to require WebSocket upgrade on /ws
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.handleSocket))
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":             "healthy",
		"timestamp":          time.Now().UTC(),
		"uptime":             time.Since(s.startTime).Round(time.Second).String(),
		"active_connections": s.ActiveCalls(),
	})
}

func (s *Server) handleSocket(ws *websocket.Conn) {
	c, err := call.NewCall(ws, s.transcriber, call.Options{
		Timeout:      s.cfg.TranscribeTimeout,
		MaxPending:   s.cfg.MaxPending,
		WriteTimeout: s.cfg.WriteTimeout,
		Logger:       s.logger,
		Metrics:      s.metrics,
	})
	if err != nil {
		s.logger.Error("Failed to create call", slog.String("error", err.Error()))
		ws.Close()
		return
	}

	if !s.register(c) {
		c.CleanupResources()
		return
	}
	defer s.unregister(c)

	s.logger.Info("WebSocket /ws connected",
		slog.String("call_id", c.ID),
		slog.String("remote", ws.RemoteAddr().String()),
	)
	c.Start()
}

func (s *Server) register(c *call.Call) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutting {
		return false
	}
	s.calls[c.ID] = c
	s.handlers.Add(1)
	s.metrics.RecordConnectionOpened()
	return true
}

func (s *Server) unregister(c *call.Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[c.ID]; ok {
		delete(s.calls, c.ID)
		s.metrics.RecordConnectionClosed()
		s.handlers.Done()
	}
}

// ActiveCalls returns the number of connected clients.
func (s *Server) ActiveCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// App exposes the fiber app, mainly for app.Test in tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on cfg.Addr until Shutdown.
func (s *Server) Listen() error {
	s.logger.Info("Transcription server listening", slog.String("addr", s.cfg.Addr))
	return s.app.Listen(s.cfg.Addr)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Transcription server listening", slog.String("addr", ln.Addr().String()))
	return s.app.Listener(ln)
}

// Shutdown refuses new sockets, ends every open call and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutting = true
	calls := make([]*call.Call, 0, len(s.calls))
	for _, c := range s.calls {
		calls = append(calls, c)
	}
	s.mu.Unlock()

	for _, c := range calls {
		c.Close()
	}

	drained := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.app.ShutdownWithContext(ctx)
}
