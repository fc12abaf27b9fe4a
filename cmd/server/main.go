package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/tripforge/pricing-engine/internal/freeze"
	"github.com/tripforge/pricing-engine/internal/metrics"
	"github.com/tripforge/pricing-engine/internal/pricing"
	"github.com/tripforge/pricing-engine/internal/rules"
	"github.com/tripforge/pricing-engine/internal/store"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Pricing rule engine ---
	var engine *rules.Engine
	if path := os.Getenv("PRICING_RULES_FILE"); path != "" {
		loaded, err := rules.LoadFile(path)
		if err != nil {
			slog.Error("failed to load pricing rules", "path", path, "err", err)
			os.Exit(1)
		}
		engine = loaded
		slog.Info("pricing rules loaded", "path", path, "rules", len(engine.Rules()))
	} else {
		engine, _ = rules.NewEngine()
		slog.Warn("PRICING_RULES_FILE not set, no pricing rules registered")
	}

	trendWindow := pricing.DefaultTrendWindow
	if v := os.Getenv("TREND_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			trendWindow = n
		}
	}
	calc := pricing.NewCalculator(engine, trendWindow)

	// --- Freeze ledger ---
	freezeTTL := freeze.DefaultTTL
	if v := os.Getenv("FREEZE_TTL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			freezeTTL = time.Duration(n) * time.Hour
		}
	}
	ledger := freeze.NewLedger(st, freezeTTL, nil)

	// --- WebSocket hub ---
	hub := pricing.NewHub()
	go hub.Run()

	// --- Pricing service ---
	svc := pricing.NewService(st, calc, ledger, hub, nil)

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
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
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
		w.Write([]byte(`{"status":"ok","service":"pricing-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time price updates.
		r.Get("/ws", hub.HandleWS)

		// Item pricing configuration and the inventory boundary.
		r.Post("/items", svc.CreateItem)
		r.Put("/items/{itemType}/{itemID}/availability", svc.UpdateAvailability)

		// Live pricing and history.
		r.Get("/pricing/{itemType}/{itemID}", svc.GetPricing)
		r.Get("/pricing/{itemType}/{itemID}/history", svc.GetPriceHistory)

		// Price freezes.
		r.Post("/freezes", svc.CreateFreeze)
		r.Post("/freezes/{freezeID}/use", svc.UseFreeze)
		r.Get("/freezes/user/{userID}", svc.ListUserFreezes)

		// Cross-item analytics.
		r.Get("/analytics", svc.GetAnalytics)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("pricing-engine listening", "port", port)
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

	slog.Info("shutting down pricing-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("pricing-engine stopped")
}
