package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/foxwire/pkg/browser/firefox"
	"github.com/odvcencio/foxwire/pkg/logging"
)

// sessionStatus is what the health endpoint reports about a session.
type sessionStatus interface {
	ID() string
	State() firefox.State
}

func newRouter(status sessionStatus) http.Handler {
	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		handleHealthz(w, status)
	})
	router.Handle("/metrics", promhttp.Handler())
	return router
}

func handleHealthz(w http.ResponseWriter, status sessionStatus) {
	state := status.State()
	code := http.StatusOK
	body := map[string]string{
		"status":  "ok",
		"session": status.ID(),
		"state":   state.String(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	if state == firefox.StateIdle {
		code = http.StatusServiceUnavailable
		body["status"] = "browser not connected"
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// serveHTTP runs handler on addr until ctx is done.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, log *logging.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	serverErr := make(chan error, 1)
	go func() {
		log.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}
