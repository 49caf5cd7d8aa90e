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
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/terminalspin/spin-engine/internal/catalog"
	"github.com/terminalspin/spin-engine/internal/engine"
	"github.com/terminalspin/spin-engine/internal/feed"
	"github.com/terminalspin/spin-engine/internal/ledger"
	"github.com/terminalspin/spin-engine/internal/metrics"
	"github.com/terminalspin/spin-engine/internal/outcome"
	"github.com/terminalspin/spin-engine/internal/trade"
)

func main() {
	godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	hermesURL := os.Getenv("HERMES_WS_URL")
	if hermesURL == "" {
		hermesURL = feed.DefaultURL
	}

	startingBalance := decimal.NewFromInt(1000)
	if v := os.Getenv("STARTING_BALANCE"); v != "" {
		b, err := decimal.NewFromString(v)
		if err != nil || b.IsNegative() {
			slog.Error("invalid STARTING_BALANCE", "value", v)
			os.Exit(1)
		}
		startingBalance = b
	}

	// --- Price feed ---
	priceFeed := feed.New(hermesURL, catalog.FeedIDs, feed.DefaultReconnectDelay, logger)
	priceFeed.Start()
	defer priceFeed.Close()

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run()

	// --- Round engine ---
	cfg := engine.DefaultConfig()
	led := ledger.New(startingBalance, cfg.SettlementCap)
	eng := engine.New(cfg, priceFeed, outcome.New(), led, wsHub, logger)
	defer eng.Close()

	// --- Trade service ---
	tradeSvc := trade.NewService(eng, led, priceFeed, wsHub, logger)

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
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
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
		w.Write([]byte(`{"status":"ok","service":"spin-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Mount("/api/v1", tradeSvc.Routes())

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("spin-engine listening", "port", port, "hermes_url", hermesURL)
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

	slog.Info("shutting down spin-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("spin-engine stopped")
}
