package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"labelctl/internal/orchestrator"
	"labelctl/internal/printer"
	"labelctl/internal/tunnel"
	"labelctl/pkg/logging"
)

// EndpointPath is where the control server answers MCP requests.
const EndpointPath = "/mcp"

// Backend is the daemon surface the tools operate on.
type Backend interface {
	Status(ctx context.Context) (orchestrator.Snapshot, error)
	TunnelInfos() []tunnel.Info
	Rescan(ctx context.Context) (printer.Summary, error)
	RemovePrinter(ctx context.Context, name string) error
	SetTunnelDomain(ctx context.Context, provider, domain string) error
	ConfigureTunnel(ctx context.Context, provider, credentialRef string) error
	StartTunnel(ctx context.Context, provider string) error
	StopTunnel(ctx context.Context, provider string) error
}

// Server is the MCP control server of the daemon.
type Server struct {
	host    string
	port    int
	version string
	backend Backend

	mu         sync.Mutex
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

// NewServer creates a control server for backend. It does not listen until Start.
func NewServer(backend Backend, host string, port int, version string) *Server {
	if host == "" {
		host = "127.0.0.1"
	}
	if version == "" {
		version = "dev"
	}
	s := &Server{
		host:    host,
		port:    port,
		version: version,
		backend: backend,
	}
	s.mcpServer = server.NewMCPServer(
		"labelctl",
		version,
		server.WithToolCapabilities(true),
	)
	s.mcpServer.AddTools(s.tools()...)
	return s
}

// Endpoint is the URL clients connect to.
func (s *Server) Endpoint() string {
	return fmt.Sprintf("http://%s:%d%s", s.host, s.port, EndpointPath)
}

// Handler returns the streamable HTTP handler without starting a listener.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer == nil {
		s.httpServer = server.NewStreamableHTTPServer(s.mcpServer)
	}
	return s.httpServer
}

// Start binds the control port and serves on it in the background. A bind
// failure is returned and wraps the listener error, so callers can detect
// syscall.EADDRINUSE.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return fmt.Errorf("control server already started")
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	s.httpServer = server.NewStreamableHTTPServer(s.mcpServer, server.WithStreamableHTTPServer(srv))
	mux.Handle(EndpointPath, s.httpServer)
	logging.Info("API", "Starting control server on %s", s.Endpoint())

	go func() {
		if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
			logging.Error("API", err, "Control server error")
		}
	}()
	return nil
}

// Stop shuts the HTTP server down, waiting at most five seconds.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()
	if httpServer == nil {
		return nil
	}

	logging.Info("API", "Stopping control server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down control server: %w", err)
	}
	return nil
}
