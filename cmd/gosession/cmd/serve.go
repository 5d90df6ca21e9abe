package cmd

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/external/spotify"
	"github.com/MrEthical07/goSession/mailer"
	promexport "github.com/MrEthical07/goSession/metrics/export/prometheus"
	"github.com/MrEthical07/goSession/principal/bolt"
	"github.com/MrEthical07/goSession/principal/memory"
	"github.com/MrEthical07/goSession/principal/postgres"
	"github.com/MrEthical07/goSession/transport/httpapi"
)

var (
	devMode    bool
	listenAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if listenAddr != "" {
			cfg.HTTP.Addr = listenAddr
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if logFormat != "" {
			cfg.Log.Format = logFormat
		}

		logger, err := newLogger(os.Stderr, cfg.Log)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger, devMode, os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		server := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           a.handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.HTTP.ReadTimeout,
			WriteTimeout:      cfg.HTTP.WriteTimeout,
			IdleTimeout:       60 * time.Second,
		}

		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()
		logger.Info("listening", "addr", cfg.HTTP.Addr, "dev", devMode, "store", cfg.Store.Driver)

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Run against in-process Redis and memory store; recovery codes are printed to stderr")
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "Listen address override")
}

// app is a fully wired server. Close releases everything newApp opened, in reverse.
type app struct {
	engine  *goSession.Engine
	handler http.Handler
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newApp(ctx context.Context, cfg serverConfig, logger *slog.Logger, dev bool, devOut io.Writer) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if dev {
		if err := devDefaults(&cfg); err != nil {
			return nil, err
		}
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start in-process redis: %w", err)
		}
		a.closers = append(a.closers, mr.Close)
		cfg.Redis = redisConfig{Addrs: []string{mr.Addr()}}
		logger.Warn("dev mode: state is kept in memory and lost on exit")
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	store, err := openStore(ctx, cfg.Store, a)
	if err != nil {
		return nil, err
	}

	builder := goSession.New().
		WithConfig(cfg.Engine).
		WithRedis(rdb).
		WithPrincipalStore(store).
		WithLogger(logger).
		WithExternalAPI(spotifyClient(cfg.Spotify)).
		WithCredentialRefresher(spotifyRefresher(cfg.Spotify))

	if cfg.CacheRedis.enabled() {
		cacheRDB := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.CacheRedis.Addrs,
			Password: cfg.CacheRedis.Password,
			DB:       cfg.CacheRedis.DB,
		})
		a.closers = append(a.closers, func() { _ = cacheRDB.Close() })
		builder.WithCacheRedis(cacheRDB)
	}

	switch {
	case cfg.SMTP.Host != "":
		m, err := mailer.NewSMTP(cfg.SMTP)
		if err != nil {
			return nil, err
		}
		builder.WithMailer(m)
	case dev:
		builder.WithMailer(mailer.NewWriter(devOut))
	default:
		logger.Warn("smtp not configured, password recovery is disabled")
	}

	if cfg.Engine.Audit.Enabled {
		builder.WithAuditSink(goSession.NewSlogSink(logger.With("component", "audit")))
	}

	engine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	a.engine = engine
	a.closers = append(a.closers, engine.Close)

	report := engine.SecurityReport()
	logger.Info("engine ready",
		"separate_cache_backend", report.SeparateCacheBackends,
		"audit", cfg.Engine.Audit.Enabled,
		"metrics", cfg.Engine.Metrics.Enabled,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		promexport.NewCollector(engine),
	)

	api := httpapi.New(engine, httpapi.WithLogger(logger), httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes))

	r := chi.NewRouter()
	if cfg.HTTP.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Mount("/api/v1", api.Router())

	a.handler = r
	return a, nil
}

func openStore(ctx context.Context, cfg storeConfig, a *app) (goSession.PrincipalStore, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)

		store, err := postgres.New(pool, postgres.WithSchema(cfg.Schema))
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := store.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate principals: %w", err)
			}
		}
		return store, nil
	case "bolt":
		store, err := bolt.Open(cfg.Path, nil)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		return store, nil
	default:
		return memory.New(), nil
	}
}

func spotifyClient(cfg spotifyConfig) *spotify.Client {
	var opts []spotify.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, spotify.WithBaseURL(cfg.BaseURL))
	}
	return spotify.NewClient(opts...)
}

func spotifyRefresher(cfg spotifyConfig) *spotify.Refresher {
	var opts []spotify.RefresherOption
	if cfg.TokenURL != "" {
		opts = append(opts, spotify.WithTokenURL(cfg.TokenURL))
	}
	if cfg.ClientID != "" {
		opts = append(opts, spotify.WithDefaultClient(cfg.ClientID, cfg.ClientSecret))
	}
	return spotify.NewRefresher(opts...)
}

// devDefaults fills what --dev can run without: the memory store and throwaway
// signing secrets.
func devDefaults(cfg *serverConfig) error {
	cfg.Store.Driver = "memory"
	for _, secret := range []*string{&cfg.Engine.Token.AccessSecret, &cfg.Engine.Token.RenewalSecret} {
		if *secret != "" {
			continue
		}
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("generate dev secret: %w", err)
		}
		*secret = hex.EncodeToString(buf)
	}
	return nil
}
