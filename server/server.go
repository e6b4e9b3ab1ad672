// Package server exposes the HTTP API: health, readiness, status, metrics,
// and the query endpoint the user-facing layer calls. It includes permissive
// CORS for development and injects correlation IDs into request contexts for
// consistent logging.
package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/chess-companion/analysis"
	"github.com/onnwee/chess-companion/broadcast"
)

// EnginePinger is the slice of the engine adapter readiness checks need.
type EnginePinger interface {
	Ping(ctx context.Context) error
}

// Options carries the handler dependencies. DB, Engine and Players are
// optional; nil disables the corresponding checks or context enrichment.
type Options struct {
	DB          *sql.DB
	Store       *analysis.Store
	Coordinator *analysis.Coordinator
	Engine      EnginePinger
	Players     broadcast.Source
}

// NewMux returns the HTTP handler with all routes.
func NewMux(opts Options) http.Handler {
	h := &Handlers{
		db:       opts.DB,
		store:    opts.Store,
		coord:    opts.Coordinator,
		engine:   opts.Engine,
		players:  opts.Players,
		resolver: &analysis.Resolver{Store: opts.Store},
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)
	mux.HandleFunc("/status", h.HandleStatus)
	mux.HandleFunc("/query", h.HandleQuery)

	return withCORS(withCorrelation(mux))
}

// Start runs the HTTP server until ctx is canceled, then shuts down
// gracefully.
func Start(ctx context.Context, opts Options, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMux(opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		return err
	}
}
