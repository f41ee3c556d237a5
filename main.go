package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/stevemurr/memdoc/feed"
	"github.com/stevemurr/memdoc/handler"
	"github.com/stevemurr/memdoc/schema"
	"github.com/stevemurr/memdoc/store"
)

const version = "0.1.0"

const usage = `memdoc, an in-memory versioned document store.

Every option falls back to an environment variable.

Usage:
    memdoc [--addr=<addr>] [--backend=<backend>] [--origins=<origins>] [--log-level=<level>]
    memdoc -h | --help
    memdoc --version

Options:
    -h --help              Show this screen.
    --version              Show version.
    --addr=<addr>          Listen address (HOST, PORT; default 0.0.0.0:8080).
    --backend=<backend>    memory or sqlite (STORE_BACKEND; default memory).
    --origins=<origins>    Comma separated CORS origins (ALLOWED_ORIGINS; default *).
    --log-level=<level>    debug, info, warn or error (LOG_LEVEL; default info).
`

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// option returns the command line value for key, or the env fallback.
func option(opts docopt.Opts, key, envKey, fallback string) string {
	if v, ok := opts[key].(string); ok && v != "" {
		return v
	}
	return env(envKey, fallback)
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// corsMiddleware wraps an http.Handler with CORS headers.
func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	// Fast path: wildcard allows everything.
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, o := range allowedOrigins {
				if strings.TrimSpace(o) == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					break
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		return err
	}

	addr := option(opts, "--addr", "ADDR", fmt.Sprintf("%s:%s", env("HOST", "0.0.0.0"), env("PORT", "8080")))
	backend := option(opts, "--backend", "STORE_BACKEND", "memory")
	origins := option(opts, "--origins", "ALLOWED_ORIGINS", "*")
	level := option(opts, "--log-level", "LOG_LEVEL", "info")

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)}))
	slog.SetDefault(logger)

	schemas := schema.NewRegistry()
	hub := feed.NewHub(0, logger)
	s, err := store.New(backend, store.Options{
		Logger:    logger,
		Validator: schemas,
		OnCommit:  hub.Publish,
	})
	if err != nil {
		return fmt.Errorf("failed to create store (backend=%s): %w", backend, err)
	}
	defer s.Release()

	h := handler.New(s, schemas, hub, logger)
	wrapped := corsMiddleware(handler.Logging(h, logger), strings.Split(origins, ","))
	httpServer := &http.Server{Addr: addr, Handler: wrapped}

	errc := make(chan error, 1)
	go func() {
		logger.Info("memdoc starting", "addr", addr, "store", backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		logger.Info("signal caught", "sig", sig)
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("shutdown", "err", err)
	}
	return s.Close()
}
