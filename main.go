package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agentfeed/internal/cache"
	"agentfeed/internal/config"
	"agentfeed/internal/feed"
	"agentfeed/internal/identity"
)

// Request body size limits
const maxBodySize = 32 * 1024 // 32KB for POST requests

// limitBody wraps an HTTP handler to limit request body size
func limitBody(next http.Handler, maxBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	InitLogger()

	cfg := config.Load("")

	keyring := identity.New()
	if nsec := os.Getenv("AGENTFEED_NSEC"); nsec != "" {
		id, err := keyring.Import(nsec)
		if err != nil {
			slog.Error("could not import signing key", "error", err)
			os.Exit(1)
		}
		slog.Info("signing identity loaded", "npub", id.Npub)
	} else {
		slog.Info("no signing key configured, running read-only")
	}

	backend := newCacheBackend(cfg)
	defer backend.Close()

	service := feed.NewService(cfg, keyring, backend)
	server := NewServer(service)

	mux := http.NewServeMux()
	server.Routes(mux)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      RequestLoggingMiddleware(limitBody(mux, maxBodySize)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		slog.Info("listening", "port", port,
			"feed_relays", len(cfg.FeedRelays),
			"publish_relays", len(cfg.PublishRelays))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

// newCacheBackend picks redis when REDIS_URL is set, falling back to
// the in-memory cache if the connection fails
func newCacheBackend(cfg *config.Config) cache.Backend {
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		backend, err := cache.NewRedis(redisURL, "agentfeed:")
		if err == nil {
			slog.Info("using redis cache")
			return backend
		}
		slog.Warn("redis unavailable, falling back to memory cache", "error", err)
	}
	return cache.NewMemory(cfg.CacheMaxEntries, time.Minute)
}
