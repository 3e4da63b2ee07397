// Package server implements an example HTTP service that hands out
// attestation documents.  The service speaks plain HTTP because clients
// authenticate the response via the attestation document rather than via a
// TLS certificate.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mdlayher/vsock"
	"github.com/rs/zerolog"

	"github.com/Amnesic-Systems/nsmdev/driver"
	"github.com/Amnesic-Systems/nsmdev/internal/errs"
)

// PathAttestation is the URL path under which attestation documents are
// served.
const PathAttestation = "/attestation"

const shutdownGrace = time.Second * 5

// Config configures the example service.
type Config struct {
	// Addr is the TCP address to listen on, e.g. ":8080".  It is ignored
	// if VSockPort is set.
	Addr string
	// VSockPort, if non-zero, makes the service listen on the given
	// AF_VSOCK port instead of TCP.  Inside an enclave, vsock is the only
	// way in.
	VSockPort uint32
	// Log receives request and lifecycle events.
	Log zerolog.Logger
}

// NewRouter returns the service's HTTP routes, backed by the given driver.
func NewRouter(cfg *Config, drv driver.Driver) *chi.Mux {
	r := chi.NewRouter()
	r.Use(logRequests(cfg.Log))
	r.Get(PathAttestation, attestationHandler(drv))
	return r
}

// Run starts the service and blocks until the given context is cancelled,
// after which it shuts down gracefully.
func Run(ctx context.Context, cfg *Config, drv driver.Driver) (err error) {
	defer errs.Wrap(&err, "failed to run server")

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: NewRouter(cfg, drv),
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.VSockPort != 0 {
			cfg.Log.Info().Uint32("port", cfg.VSockPort).Msg("listening on vsock")
			ln, err := vsock.Listen(cfg.VSockPort, nil)
			if err != nil {
				errCh <- err
				return
			}
			errCh <- srv.Serve(ln)
			return
		}
		cfg.Log.Info().Str("addr", cfg.Addr).Msg("listening on tcp")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	cfg.Log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func logRequests(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("duration", time.Since(start)).
				Msg("handled request")
		})
	}
}
