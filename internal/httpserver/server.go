package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Options tunes the listener. Zero values fall back to defaults.
type Options struct {
	ReadHeaderTimeout time.Duration
	// WriteTimeout bounds ordinary responses. Notification streams clear
	// their own deadline through http.ResponseController.
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// ShutdownGrace is how long in-flight uploads get to finish once a
	// stop is requested.
	ShutdownGrace time.Duration
	// Base is the parent context of every request, typically carrying the
	// process logger.
	Base context.Context
}

func (o Options) withDefaults() Options {
	if o.ReadHeaderTimeout <= 0 {
		o.ReadHeaderTimeout = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Minute
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 2 * time.Minute
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = 10 * time.Second
	}
	return o
}

// Server serves the API on a single TCP port.
type Server struct {
	inner *http.Server
	grace time.Duration
}

// New constructs a server for port.
func New(port int, handler http.Handler, opts Options) *Server {
	opts = opts.withDefaults()
	inner := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       opts.IdleTimeout,
	}
	if base := opts.Base; base != nil {
		inner.BaseContext = func(net.Listener) context.Context { return base }
	}
	return &Server{inner: inner, grace: opts.ShutdownGrace}
}

// Addr reports the configured listen address.
func (s *Server) Addr() string {
	return s.inner.Addr
}

// Grace reports the shutdown allowance.
func (s *Server) Grace() time.Duration {
	return s.grace
}

// Start serves until Shutdown is called. A clean shutdown returns nil.
func (s *Server) Start() error {
	if err := s.inner.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
