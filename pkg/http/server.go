package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"FinScan/pkg/http/middleware"
	applogger "FinScan/pkg/logger"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler registers routes on the shared Echo instance.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}

type ServerOption func(*ServerConfig)

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string // empty disables CORS
	Logger          *applogger.Logger
	SlowThreshold   time.Duration
}

func WithHost(host string) ServerOption { return func(c *ServerConfig) { c.Host = host } }

func WithPort(port int) ServerOption { return func(c *ServerConfig) { c.Port = port } }

func WithTimeouts(read, write, shutdown time.Duration) ServerOption {
	return func(c *ServerConfig) {
		c.ReadTimeout, c.WriteTimeout, c.ShutdownTimeout = read, write, shutdown
	}
}

func WithCORS(origins ...string) ServerOption {
	return func(c *ServerConfig) { c.CORSOrigins = origins }
}

func WithLogger(l *applogger.Logger) ServerOption { return func(c *ServerConfig) { c.Logger = l } }

// WithSlowThreshold logs requests at or above d as warnings.
func WithSlowThreshold(d time.Duration) ServerOption {
	return func(c *ServerConfig) { c.SlowThreshold = d }
}

// Server owns the Echo instance and its listener goroutine.
type Server struct {
	echo *echo.Echo
	cfg  ServerConfig
	log  *applogger.Logger
	errc chan error
}

// NewServer builds Echo with request id, recovery, logging, metrics and
// optional CORS, registers handler's routes and exposes /metrics.
func NewServer(handler Handler, opts ...ServerOption) *Server {
	cfg := ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		CORSOrigins:     []string{"*"},
	}
	for _, o := range opts {
		o(&cfg)
	}
	l := cfg.Logger
	if l == nil {
		l = applogger.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout
	e.HTTPErrorHandler = ErrorHandler

	e.Use(echomw.RequestID())
	e.Use(middleware.Recover(l))
	e.Use(middleware.RequestLogging(l, cfg.SlowThreshold))
	e.Use(middleware.Metrics(nil))
	if len(cfg.CORSOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: cfg.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	if handler != nil {
		handler.RegisterRoutes(e)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return &Server{echo: e, cfg: cfg, log: l, errc: make(chan error, 1)}
}

func (s *Server) addr() string { return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port) }

// Start listens in the background. A listener failure within the first
// moments (port in use) is returned; later failures are logged.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(s.addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errc <- err
		}
		close(s.errc)
	}()
	select {
	case err, ok := <-s.errc:
		if ok {
			return fmt.Errorf("http listen %s: %w", s.addr(), err)
		}
		return nil
	case <-time.After(200 * time.Millisecond):
	}
	s.log.Info("http server listening", applogger.String("addr", s.addr()))
	go func() {
		if err, ok := <-s.errc; ok {
			s.log.Error("http server stopped unexpectedly", applogger.Error(err))
		}
	}()
	return nil
}

// Stop drains connections until ctx or the shutdown timeout expires.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}

func (s *Server) Echo() *echo.Echo { return s.echo }
