// Command example-server demonstrates both halves of the limiter contract:
// an HTTP endpoint gated by non-blocking acquisition and a background worker
// pacing simulated outbound calls with blocking acquisition. Every replica of
// this server pointed at the same Redis shares one token budget.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/codeGROOVE-dev/retry-go"
	"golang.org/x/time/rate"

	"github.com/manenim/redis-rate-limiter/pkg/limiter"
)

const (
	connectAttempts = 5
	connectMaxDelay = 5 * time.Second
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	redisURL := envOr("REDIS_URL", "redis://localhost:6379")
	listenAddr := envOr("LISTEN_ADDR", ":8080")
	cfg := limiter.Config{
		KeyPrefix:         envOr("KEY_PREFIX", "demo"),
		RequestsPerSecond: envFloat("REQUESTS_PER_SECOND", 5),
		MaxBucketSize:     envFloat("MAX_BUCKET_SIZE", 10),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis may still be coming up when the replica starts; retry the
	// construction with backoff instead of crash-looping.
	var l *limiter.RedisLimiter
	err := retry.Do(func() error {
		var err error
		l, err = limiter.NewRedisLimiter(redisURL, cfg)
		return err
	},
		retry.Attempts(connectAttempts),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxDelay(connectMaxDelay),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("redis not ready, retrying", "attempt", n+1, "error", err)
		}),
		retry.Context(ctx),
	)
	if err != nil {
		logger.Error("could not reach redis", "url", redisURL, "error", err)
		os.Exit(1)
	}
	defer l.Close()

	go worker(ctx, logger, l)

	// A process-local guard in front of the shared bucket: a hammering
	// client burns its budget here instead of turning into a Redis hot loop.
	local := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond*4), int(cfg.MaxBucketSize)*4)

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		if !local.Allow() {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("Rate limit exceeded\n"))
			return
		}

		granted, err := l.Acquire(r.Context(), false)
		if err != nil {
			logger.Error("limiter attempt failed", "error", err)
			http.Error(w, "rate limiter unavailable", http.StatusServiceUnavailable)
			return
		}
		if !granted {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("Rate limit exceeded\n"))
			return
		}

		w.Write([]byte("Pong!\n"))
	})

	srv := &http.Server{Addr: listenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", listenAddr, "redis", redisURL, "prefix", cfg.KeyPrefix)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// worker paces simulated outbound calls with blocking acquisition: it runs as
// fast as the shared budget allows and simply sleeps inside Wait when the
// bucket is empty.
func worker(ctx context.Context, logger *slog.Logger, l *limiter.RedisLimiter) {
	for n := 1; ; n++ {
		if err := l.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("worker acquisition failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		logger.Info("worker permit granted", "call", n)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("ignoring unparseable value", "key", key, "value", v)
		return fallback
	}
	return f
}
