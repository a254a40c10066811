// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon runs the HTTP server and background loops of one process
// and shuts them down together.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/omahs/zupass/internal/jobs"
	"github.com/omahs/zupass/internal/log"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Config holds server settings.
type Config struct {
	ListenAddr string

	// Server timeouts
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	// ShutdownTimeout bounds the graceful shutdown of the server and closers.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns production timeouts for addr.
func DefaultConfig(addr string) Config {
	return Config{
		ListenAddr:      addr,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Closer releases a resource during shutdown.
type Closer struct {
	Name  string
	Close func(ctx context.Context) error
}

// Deps are the components the daemon runs.
type Deps struct {
	Handler http.Handler
	Loops   []*jobs.Loop
	// Closers run in reverse order after the server has stopped.
	Closers []Closer
}

type Daemon struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger
}

func New(cfg Config, deps Deps) *Daemon {
	return &Daemon{cfg: cfg, deps: deps, logger: log.WithComponent("daemon")}
}

// Run listens on the configured address and blocks until ctx is done or a
// component fails.
func (d *Daemon) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", d.cfg.ListenAddr, err)
	}
	return d.Serve(ctx, ln)
}

// Serve is Run on an existing listener. The listener is closed on return.
func (d *Daemon) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           d.deps.Handler,
		ReadTimeout:       d.cfg.ReadTimeout,
		ReadHeaderTimeout: d.cfg.ReadTimeout / 2,
		WriteTimeout:      d.cfg.WriteTimeout,
		IdleTimeout:       d.cfg.IdleTimeout,
		MaxHeaderBytes:    d.cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.logger.Info().
			Str(log.FieldEvent, "server.listening").
			Str("addr", ln.Addr().String()).
			Msg("HTTP server listening")
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	for _, loop := range d.deps.Loops {
		g.Go(func() error { return loop.Start(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return d.shutdown(server)
	})

	err := g.Wait()
	d.logger.Info().Str(log.FieldEvent, "daemon.stopped").Msg("daemon stopped")
	return err
}

func (d *Daemon) shutdown(server *http.Server) error {
	d.logger.Info().Str(log.FieldEvent, "daemon.shutdown").Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	for i := len(d.deps.Closers) - 1; i >= 0; i-- {
		c := d.deps.Closers[i]
		if err := c.Close(ctx); err != nil {
			d.logger.Error().Err(err).Str("closer", c.Name).Msg("close failed")
			errs = append(errs, fmt.Errorf("close %s: %w", c.Name, err))
		}
	}
	return errors.Join(errs...)
}
