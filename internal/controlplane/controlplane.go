package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pixrelay/pixrelay/internal/config"
	"github.com/pixrelay/pixrelay/internal/uploader"
)

// Config contains configuration for the control plane server
type Config struct {
	Addr          string   // Address to bind the control plane server
	AuthToken     string   // Access token for the control plane server
	EnableMetrics bool     // EnableMetrics exposes prometheus metrics on /metrics
	CORSOrigins   []string // CORSOrigins restricts browsers, empty allows all
}

// Services are the live daemon components the HTTP surface fronts.
type Services struct {
	Coordinator *uploader.Coordinator
	Contract    *uploader.Contract
	Backends    *config.BackendsConfig
	Runs        *RunStore

	// LogPath is the daemon's log file, served on /v1/logs. Empty uses
	// the default location.
	LogPath string

	// RunContext scopes accepted uploads. Runs must outlive the HTTP
	// request that submitted them, so they bind to this context, not
	// the request's. Nil means context.Background.
	RunContext context.Context
}

func (s *Services) runContext() context.Context {
	if s.RunContext != nil {
		return s.RunContext
	}
	return context.Background()
}

type Server struct {
	config   *Config
	server   *http.Server
	services *Services
}

func NewServer(cfg *Config, services *Services) (*Server, error) {
	if services == nil || services.Coordinator == nil {
		return nil, errors.New("upload coordinator is required")
	}
	if services.Runs == nil {
		services.Runs = NewRunStore(0)
	}
	if _, err := addrToURL(cfg.Addr); err != nil {
		return nil, fmt.Errorf("control plane addr: %w", err)
	}

	routes := SetupRoutes(services, &RouteConfig{
		Metrics:     cfg.EnableMetrics,
		CORSOrigins: cfg.CORSOrigins,
		Auth: TokenAuthConfig{
			Token: cfg.AuthToken,
		},
	})

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: routes,
		// Timeouts to prevent slow client attacks. The events socket
		// opts out of the write deadline per-connection.
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// Connection control
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	return &Server{
		config:   cfg,
		server:   httpServer,
		services: services,
	}, nil
}

func (s *Server) Start(ctx context.Context) error {
	slog.Info("control plane start", "url", s.URL(), "auth", s.config.AuthToken != "")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("control plane stop")
	return s.server.Shutdown(ctx)
}

// URL is the browsable address of the server, for logs and CLI hints.
func (s *Server) URL() string {
	u, err := addrToURL(s.config.Addr)
	if err != nil {
		return ""
	}
	return u
}

// addrToURL turns a listen address into a clickable http url. A bare
// ":port" binds all interfaces, so it maps to 0.0.0.0.
func addrToURL(addr string) (string, error) {
	if addr == "" {
		return "", errors.New("empty address")
	}
	if strings.Contains(addr, "://") {
		return "", fmt.Errorf("address %q must not carry a scheme", addr)
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if port == "" {
		return "", fmt.Errorf("invalid address %q: missing port", addr)
	}
	if host == "" {
		host = "0.0.0.0"
	}

	return fmt.Sprintf("http://%s", net.JoinHostPort(host, port)), nil
}
