package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/vecsearch-mcp/internal/config"
	"github.com/dshills/vecsearch-mcp/internal/searcher"
)

const (
	// ServerName is the MCP server name
	ServerName = "vecsearch-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"

	instructions = "Semantic search over an indexed Markdown corpus. " +
		"Call search with a natural-language query; results are ordered nearest first."

	shutdownTimeout = 5 * time.Second
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	searcher *searcher.Searcher
	cfg      config.ServerConfig
	topK     int
	logger   *slog.Logger
}

// NewServer creates a new MCP server instance. The searcher is owned by
// the caller and is not closed by the server.
func NewServer(cfg *config.Config, srch *searcher.Searcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
		server.WithInstructions(instructions),
		server.WithRecovery(),
	)

	s := &Server{
		mcp:      mcpServer,
		searcher: srch,
		cfg:      cfg.Server,
		topK:     cfg.Search.TopK,
		logger:   logger,
	}
	s.registerTools()
	return s
}

// Serve runs the configured transport until ctx is cancelled
func (s *Server) Serve(ctx context.Context) error {
	switch s.cfg.Transport {
	case config.TransportHTTP:
		return s.ServeHTTP(ctx)
	case config.TransportStdio, "":
		return s.ServeStdio(ctx)
	default:
		return fmt.Errorf("unknown transport %q", s.cfg.Transport)
	}
}

// ServeStdio serves on stdin/stdout. Logs must go to stderr.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.logger.Info("serving MCP on stdio")
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ServeHTTP serves the streamable HTTP transport on the configured host
// and port and shuts down gracefully when ctx is cancelled.
func (s *Server) ServeHTTP(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	httpServer := s.streamable()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving MCP over streamable HTTP",
			"addr", addr, "endpoint", s.endpoint(), "stateless", s.cfg.Stateless)
		errCh <- httpServer.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down MCP server")
		return httpServer.Shutdown(shutdownCtx)
	}
}

// Handler returns the streamable HTTP transport as an http.Handler
func (s *Server) Handler() http.Handler {
	return s.streamable()
}

func (s *Server) streamable() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(s.mcp,
		server.WithStateLess(s.cfg.Stateless),
		server.WithEndpointPath(s.endpoint()),
	)
}

func (s *Server) endpoint() string {
	if s.cfg.Endpoint == "" {
		return "/mcp"
	}
	return s.cfg.Endpoint
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchTool(s.topK), s.handleSearch)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
