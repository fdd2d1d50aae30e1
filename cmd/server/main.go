package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/p-n-ai/pai-cat/internal/api"
	"github.com/p-n-ai/pai-cat/internal/cat"
	"github.com/p-n-ai/pai-cat/internal/diagnostics"
	"github.com/p-n-ai/pai-cat/internal/irt"
	"github.com/p-n-ai/pai-cat/internal/itembank"
	"github.com/p-n-ai/pai-cat/internal/platform/cache"
	"github.com/p-n-ai/pai-cat/internal/platform/config"
	"github.com/p-n-ai/pai-cat/internal/platform/database"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Log))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	var (
		checks []healthChecker
		pool   *pgxpool.Pool
	)

	if cfg.NeedsDatabase() {
		db, err := database.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		checks = append(checks, db)
		pool = db.Pool
	}

	provider, err := newProvider(ctx, cfg, pool)
	if err != nil {
		return err
	}
	if cfg.Cache.Enabled {
		c, err := cache.Open(ctx, cfg.Cache)
		if err != nil {
			return err
		}
		defer c.Close()
		checks = append(checks, c)
		provider = itembank.NewRedisCachedProvider(provider, c.Client, "", c.TTL)
	}

	store, err := newStore(ctx, cfg, pool)
	if err != nil {
		return err
	}
	var events cat.EventLogger = cat.NopEventLogger{}
	if cfg.Store.Backend == config.StorePostgres {
		events = cat.NewPostgresEventLogger(pool)
	}

	stopper, err := irt.NewStopper(cfg.CAT.StopPolicy, cfg.CAT.MaxItems, cfg.CAT.MinSE)
	if err != nil {
		return err
	}

	bank := itembank.NewCache(provider)
	if _, err := bank.Get(ctx); err != nil {
		// Attempts answer 503 until a reload succeeds.
		slog.Warn("item bank not loaded at startup", "error", err)
	}

	engine := cat.NewEngine(cat.EngineConfig{
		Bank:       bank,
		Store:      store,
		Estimator:  irt.Estimator{Min: cfg.CAT.MinTheta, Max: cfg.CAT.MaxTheta},
		Stopper:    stopper,
		PriorTheta: cfg.CAT.PriorTheta,
		Diagnostics: diagnostics.Options{
			MinItemsPerTopic: cfg.Diagnostics.MinItemsPerTopic,
			WeakThreshold:    cfg.Diagnostics.WeakThreshold,
		},
		Metrics: cat.NewMetrics(prometheus.DefaultRegisterer),
		Events:  events,
	})

	handler, err := api.NewHandler(engine)
	if err != nil {
		return err
	}

	mux := newMux(checks...)
	handler.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting",
			"addr", srv.Addr,
			"bank_source", cfg.Bank.Source,
			"store", cfg.Store.Backend,
			"stop_policy", cfg.CAT.StopPolicy,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	return nil
}

func newProvider(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (itembank.Provider, error) {
	provider, err := itembank.NewProvider(itembank.Source{
		Kind:  cfg.Bank.Source,
		Path:  cfg.Bank.Path,
		Sheet: cfg.Bank.Sheet,
	}, pool)
	if err != nil {
		return nil, err
	}
	if pg, ok := provider.(*itembank.PostgresProvider); ok {
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}
	return provider, nil
}

func newStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (cat.SessionStore, error) {
	if cfg.Store.Backend != config.StorePostgres {
		return cat.NewMemoryStore(), nil
	}
	store, err := cat.NewPostgresStore(pool)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func newLogger(c config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// healthChecker is a dependency probed by /readyz.
type healthChecker interface {
	Name() string
	HealthCheck(ctx context.Context) error
}

// newMux creates the HTTP router with health check endpoints.
func newMux(checks ...healthChecker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", handleReadyz(checks))
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func handleReadyz(checks []healthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, c := range checks {
			if err := c.HealthCheck(ctx); err != nil {
				slog.Warn("readiness check failed", "dependency", c.Name(), "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprintf(w, `{"status":"unavailable","dependency":%q}`, c.Name())
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}
}
