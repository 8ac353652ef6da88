package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ValentinKolb/hKV/lib/ops"
	"github.com/ValentinKolb/hKV/lib/registry"
	"github.com/ValentinKolb/hKV/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("http")

// WebDAV style methods of the compound operations
const (
	methodCopy = "COPY"
	methodMove = "MOVE"
)

// shutdownTimeout is how long Serve waits for running requests after its context is done
const shutdownTimeout = 10 * time.Second

// Server serves the data api of a registry over HTTP.
type Server struct {
	config   common.ServerConfig
	registry *registry.Registry
	metrics  *metrics.Set
	handler  http.Handler
}

// NewServer creates a new HTTP server for the databases of reg.
//
// Usage:
//
//	reg, _ := registry.New(config.Registry)
//	s := server.NewServer(config, reg)
//
//	if err := s.Serve(ctx); err != nil {
//		panic(err)
//	}
func NewServer(config common.ServerConfig, reg *registry.Registry) *Server {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	s := &Server{
		config:   config,
		registry: reg,
		metrics:  metrics.NewSet(),
	}
	s.handler = s.instrument(s.limit(s.routes()))

	Logger.Infof("Created HTTP Server")
	Logger.Infof("%s", config.String())
	return s
}

// routes registers all routes. The data routes live below the configured prefix:
//
//	GET    {prefix}/{environment}/{name}/              range
//	GET    {prefix}/{environment}/{name}/{key}         read (nested with a path suffix)
//	PUT    {prefix}/{environment}/{name}/{key}         write
//	PATCH  {prefix}/{environment}/{name}/{key}         patch (path patch with a path suffix)
//	DELETE {prefix}/{environment}/{name}/{key}         delete
//	COPY   {prefix}/{environment}/{name}/{key}?key=    copy
//	MOVE   {prefix}/{environment}/{name}/{key}?key=    move
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	base := s.config.DataPrefix() + "/{environment}/{name}/"

	mux.HandleFunc("GET /{$}", s.handleBanner)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /stats", s.handleStats)

	mux.HandleFunc("GET "+base+"{$}", s.database(s.handleRange))
	mux.HandleFunc("GET "+base+"{key}", s.database(s.handleGet))
	mux.HandleFunc("GET "+base+"{key}/{path...}", s.database(s.handleGet))
	mux.HandleFunc("PUT "+base+"{key}", s.database(s.handlePut))
	mux.HandleFunc("PATCH "+base+"{key}", s.database(s.handlePatch))
	mux.HandleFunc("PATCH "+base+"{key}/{path...}", s.database(s.handlePatch))
	mux.HandleFunc("DELETE "+base+"{key}", s.database(s.handleDelete))
	mux.HandleFunc(methodCopy+" "+base+"{key}", s.database(s.handleCompound(ops.SlotCopy)))
	mux.HandleFunc(methodMove+" "+base+"{key}", s.database(s.handleCompound(ops.SlotMove)))
	return mux
}

// Handler returns the http.Handler of the server (used by tests and embedders)
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve listens on the configured endpoint until ctx is done, then shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Endpoint,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		Logger.Infof("Starting HTTP server on %s", s.config.Endpoint)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	Logger.Infof("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
