package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/mingdom/omninmo-sub001/internal/api"
	"github.com/mingdom/omninmo-sub001/internal/config"
	"github.com/mingdom/omninmo-sub001/internal/engine"
	"github.com/mingdom/omninmo-sub001/internal/loader"
	"github.com/mingdom/omninmo-sub001/internal/marketdata"
	"github.com/mingdom/omninmo-sub001/internal/metrics"
	"github.com/mingdom/omninmo-sub001/internal/portfolio"
	"github.com/mingdom/omninmo-sub001/internal/reprice"
	"github.com/mingdom/omninmo-sub001/internal/simulation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	// --- Initialize market data source ---
	var src marketdata.Source
	var writer marketdata.Writer
	var cleanup []func()

	if cfg.Data.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Data.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := marketdata.NewPostgresSource(pool)
		if err := pg.Migrate(context.Background()); err != nil {
			slog.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
		src, writer = pg, pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Data.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.Data.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			cached := marketdata.NewCachedSource(pg, rdb, cfg.Data.RedisTTL)
			src, writer = cached, cached
			slog.Info("Redis cache enabled", "ttl", cfg.Data.RedisTTL.String())
		}

		src = marketdata.NewBreakerSource("postgres", src, cfg.Data.BreakerFailure, cfg.Data.BreakerTimeout)
	} else {
		slog.Warn("DATABASE_URL not set, using empty in-memory quote source (rows must carry price and beta)")
		mem := marketdata.NewMemorySource()
		src, writer = mem, mem
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Exposure engine ---
	agg, err := portfolio.NewAggregator(cfg.Model.CashLikeThreshold)
	if err != nil {
		slog.Error("invalid aggregator settings", "err", err)
		os.Exit(1)
	}
	// AsOf is zero: the engine dates each request once from the wall clock.
	rp := reprice.New(cfg.Kernel(), cfg.Model.RiskFreeRate, cfg.Model.BaseVolatility, time.Time{})
	eng := engine.New(
		loader.New(src, rp, cfg.Workers.Simulation),
		agg,
		simulation.New(rp, agg, cfg.Workers.Simulation),
	)

	// --- WebSocket hub ---
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	wsHub := api.NewWSHub()
	go wsHub.Run(hubCtx)

	svc := api.NewService(eng, src, writer, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"exposure-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	// Exposure endpoints plus the WebSocket feed at /api/v1/ws.
	r.Route("/api/v1", svc.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("exposure-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down exposure-engine...")
	stopHub()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("exposure-engine stopped")
}
