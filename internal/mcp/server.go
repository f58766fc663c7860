package mcp

import (
	"context"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/tradeguard/internal/alert"
	"github.com/ppiankov/tradeguard/internal/gate"
	"github.com/ppiankov/tradeguard/internal/metrics"
	"github.com/ppiankov/tradeguard/internal/settings"
)

// Config holds MCP server configuration.
type Config struct {
	// Agent names the calling agent in logs and alerts.
	Agent   string
	Version string
}

// Server exposes the trade gate to agents as MCP tools.
type Server struct {
	mcpServer  *mcpsdk.Server
	store      *settings.Store
	gate       *gate.Gate
	dispatcher *alert.Dispatcher
	agent      string
	now        func() time.Time
	log        *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithDispatcher sends gate alerts to webhooks.
func WithDispatcher(d *alert.Dispatcher) Option {
	return func(s *Server) { s.dispatcher = d }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithLogger sets the logger. Stdout carries the protocol, so the logger
// must write elsewhere.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

// New creates an MCP server over store with its tools registered.
func New(store *settings.Store, cfg Config, opts ...Option) *Server {
	s := &Server{
		store: store,
		agent: cfg.Agent,
		now:   time.Now,
		log:   zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.agent == "" {
		s.agent = "mcp"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	// Agents have no page controls; every attempt brings its own.
	s.gate = gate.New(store, gate.NewControlSet(nil),
		gate.WithClock(s.now),
		gate.WithLogger(s.log.With(zap.String("agent", s.agent))),
		gate.WithObserver(metrics.Observer{}),
		gate.WithObserver(s.dispatcher.Observer(s.agent)),
	)

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "tradeguard",
			Version: cfg.Version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	defer s.dispatcher.Wait()
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all tradeguard tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "tradeguard_status",
		Description: "Show today's trade usage, the daily limit, the trading window and whether a trade would be allowed right now. Does not count anything.",
	}, s.handleStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "tradeguard_attempt",
		Description: "Record one trade action against the daily limit. Place the trade only if the result is permitted; blocked attempts return an error with the reason.",
	}, s.handleAttempt)
}
