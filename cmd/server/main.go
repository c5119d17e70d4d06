package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sign-overlay/internal/overlay"
	"sign-overlay/internal/platform/config"
	"sign-overlay/internal/platform/logger"
	"sign-overlay/internal/platform/metrics"
	"sign-overlay/internal/platform/serial"
	"sign-overlay/internal/remote"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	shutdownTimeout = 10 * time.Second
	queueSize       = 256
)

func main() {
	_ = config.Load(config.GetEnv("ENV_FILE", ".env"))

	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	slog.SetDefault(log)

	config.Initialize(config.Settings{APIKey: cfg.APIKey, Namespace: cfg.Namespace})
	settings := config.Current()

	met := metrics.New()
	queue := serial.New("overlay", queueSize, log)

	blobs, closeBlobs, err := openBlobStore(cfg)
	if err != nil {
		log.Error("cache backend unavailable", "backend", cfg.CacheBackend, "error", err)
		os.Exit(1)
	}

	client := remote.NewClient(remote.Config{
		BaseURL:   cfg.APIBaseURL,
		APIKey:    settings.APIKey,
		Timeout:   cfg.HTTPTimeout,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		Log:       log,
	})

	cache := overlay.NewCacheStore(blobs, log,
		overlay.WithBlobKey(cfg.CacheBlobKey),
		overlay.WithRegistrar(client),
		overlay.WithCacheMetrics(met),
	)
	cache.Load(context.Background())

	coord := overlay.NewCoordinator(overlay.CoordinatorDeps{
		Namespace: settings.Namespace,
		Cache:     cache,
		Uploader:  client,
		Fetcher:   client,
		Queue:     queue,
		Log:       log,
		Metrics:   met,
		Assets: overlay.SourceReader{
			Root:         cfg.MediaRoot,
			AllowedHosts: cfg.SourceAllowedHosts,
			Client:       &http.Client{Timeout: cfg.HTTPTimeout},
		},
	})
	sessions := overlay.NewSessionManager(coord, queue, nil, log, met)
	svc := overlay.NewService(coord, cache, sessions)
	h := overlay.NewHandler(svc, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			met.SetActiveSessions(svc.ActiveSessions())
			met.SetCacheRecords(svc.CachedRecords())
			st := queue.Stats()
			met.SetQueueStats(st.Pending, st.Executed, st.Panicked)
		}).ServeHTTP(w, r)
	})
	h.Routes(r)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"namespace", settings.Namespace,
		"cache_backend", cfg.CacheBackend,
		"media_root", cfg.MediaRoot,
		"cached_records", cache.Len(),
		"log_level", cfg.LogLevel,
	)

	prefetchCtx, stopPrefetch := context.WithCancel(context.Background())
	if len(cfg.PrefetchReferences) > 0 {
		go func() {
			if err := coord.Prefetch(prefetchCtx, cfg.PrefetchReferences, cfg.PrefetchConcurrency); err != nil {
				log.Warn("prefetch finished with errors", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")
	stopPrefetch()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	sessions.CloseAll()
	cache.WaitRegistrations()
	if err := queue.Stop(shutdownTimeout); err != nil {
		log.Error("queue stop", "error", err)
	}
	if err := closeBlobs(); err != nil {
		log.Error("cache backend close", "error", err)
	}

	log.Info("server stopped")
}

// openBlobStore selects the snapshot backend named by CACHE_BACKEND.
func openBlobStore(cfg *config.Config) (overlay.BlobStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.CacheBackend {
	case "memory":
		return overlay.NewMemoryBlobStore(), noop, nil
	case "file", "":
		s, err := overlay.NewFileBlobStore(cfg.CacheFileDir)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case "redis":
		s, err := overlay.NewRedisBlobStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}
