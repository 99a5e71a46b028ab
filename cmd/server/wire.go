package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"idshield/internal/platform/config"
	httpmetrics "idshield/internal/platform/metrics"
	"idshield/internal/platform/postgres"
	"idshield/internal/platform/redis"
	rlmetrics "idshield/internal/ratelimit/metrics"
	ratelimit "idshield/internal/ratelimit/middleware"
	"idshield/internal/ratelimit/store/bucket"
	"idshield/internal/shield/cipher"
	"idshield/internal/shield/handler"
	shieldmetrics "idshield/internal/shield/metrics"
	"idshield/internal/shield/service"
	"idshield/internal/shield/store/dupindex"
	"idshield/internal/shield/store/results"
	"idshield/pkg/platform/audit"
	"idshield/pkg/platform/audit/publisher"
	"idshield/pkg/platform/audit/sink/kafka"
	"idshield/pkg/platform/middleware/device"
	"idshield/pkg/platform/middleware/metadata"
	"idshield/pkg/platform/middleware/requesttime"
)

// app holds everything built from config plus what must be released on exit.
type app struct {
	router     http.Handler
	stageTopic string
	closers    []func() error
}

func (a *app) close(log *slog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn("failed to release resource", "error", err)
		}
	}
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger) (a *app, err error) {
	a = &app{}
	defer func() {
		if err != nil {
			a.close(log)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var checks []handler.Option

	db, err := openPostgres(ctx, cfg)
	if err != nil {
		return a, err
	}
	if db != nil {
		a.closers = append(a.closers, db.Close)
	}

	rdb, err := openRedis(ctx, cfg, a)
	if err != nil {
		return a, err
	}

	index, err := buildIndex(ctx, cfg, db, rdb)
	if err != nil {
		return a, err
	}
	checks = append(checks, handler.WithHealthCheck("duplicate_index", index))

	resultStore, err := buildResults(ctx, cfg, db, a)
	if err != nil {
		return a, err
	}
	if cfg.Results.Backend != config.BackendNone {
		checks = append(checks, handler.WithHealthCheck("results", resultStore))
	}

	pub, sink, err := buildPublisher(ctx, cfg, log, reg, a)
	if err != nil {
		return a, err
	}
	if sink != nil {
		checks = append(checks, handler.WithHealthCheck("stage_events", sink))
	}

	cipherOpts := []cipher.Option{
		cipher.WithIterations(cfg.Cipher.KDFIterations),
		cipher.WithLegacy(cfg.Cipher.AllowLegacy),
	}
	if cfg.Cipher.KDFWorkers > 0 {
		cipherOpts = append(cipherOpts, cipher.WithWorkers(cfg.Cipher.KDFWorkers))
	}
	c, err := cipher.New(cipherOpts...)
	if err != nil {
		return a, fmt.Errorf("build cipher: %w", err)
	}

	svcOpts := []service.Option{
		service.WithEnvelopePassphrase(cfg.Cipher.EnvelopePassphrase),
		service.WithFieldPassphrase(cfg.Cipher.FieldPassphrase),
		service.WithDemoFallback(cfg.Pipeline.DemoFallback),
		service.WithIndexTimeout(cfg.Pipeline.IndexTimeout),
		service.WithAuditPublisher(pub),
		service.WithLogger(log),
		service.WithMetrics(shieldmetrics.New(reg)),
		service.WithResultStore(resultStore),
	}
	svc, err := service.New(index, c, svcOpts...)
	if err != nil {
		return a, fmt.Errorf("build shield service: %w", err)
	}
	if !svc.EnvelopeDecryptionEnabled() {
		log.Warn("SHIELD_ENVELOPE_PASSPHRASE not set; every submission will be degraded")
	}

	if limiter := buildRateLimiter(ctx, cfg, rdb, log, reg); limiter != nil {
		checks = append(checks, handler.WithSubmitMiddleware(limiter.Limit))
	}

	r := chi.NewRouter()
	r.Use(metadata.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(device.Device)
	r.Use(chimw.Recoverer)
	r.Use(httpmetrics.New(reg).Middleware)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
		handler.New(svc, log, checks...).Register(r)
	})
	a.router = r
	return a, nil
}

type healthStore interface {
	service.ResultStore
	handler.HealthChecker
}

type healthIndex interface {
	service.DuplicateIndex
	handler.HealthChecker
}

func openPostgres(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if cfg.Pipeline.DuplicateBackend != config.BackendPostgres && cfg.Results.Backend != config.BackendPostgres {
		return nil, nil
	}
	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

// openRedis connects only when a component is configured to use Redis.
func openRedis(ctx context.Context, cfg config.Config, a *app) (*redis.Client, error) {
	rateLimited := cfg.RateLimit.Requests > 0 && cfg.RateLimit.Backend == config.BackendRedis
	if cfg.Pipeline.DuplicateBackend != config.BackendRedis && !rateLimited {
		return nil, nil
	}
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	return client, nil
}

func buildIndex(ctx context.Context, cfg config.Config, db *sql.DB, rdb *redis.Client) (healthIndex, error) {
	switch cfg.Pipeline.DuplicateBackend {
	case config.BackendRedis:
		return dupindex.NewRedis(rdb.Client, dupindex.WithKeyPrefix(cfg.Redis.KeyPrefix)), nil
	case config.BackendPostgres:
		index := dupindex.NewPostgres(db)
		if err := index.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate duplicate index: %w", err)
		}
		return index, nil
	default:
		return dupindex.NewInMemory(), nil
	}
}

func buildResults(ctx context.Context, cfg config.Config, db *sql.DB, a *app) (healthStore, error) {
	switch cfg.Results.Backend {
	case config.BackendSQLite:
		store, err := results.NewSQLite(cfg.Results.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open results store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case config.BackendPostgres:
		store := results.NewPostgres(db)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate results store: %w", err)
		}
		return store, nil
	default:
		return results.Nop{}, nil
	}
}

// buildRateLimiter returns nil when submissions are unlimited. The in-memory
// window backs up Redis while its circuit is open.
func buildRateLimiter(ctx context.Context, cfg config.Config, rdb *redis.Client, log *slog.Logger, reg prometheus.Registerer) *ratelimit.Middleware {
	rl := cfg.RateLimit
	if rl.Requests == 0 {
		return nil
	}
	memory := bucket.NewInMemory()
	go sweepWindows(ctx, memory, rl.Window)
	opts := []ratelimit.Option{ratelimit.WithMetrics(rlmetrics.New(reg))}
	var primary ratelimit.Limiter = memory
	if rl.Backend == config.BackendRedis {
		primary = bucket.NewRedis(rdb.Client, bucket.WithKeyPrefix(rl.KeyPrefix))
		opts = append(opts, ratelimit.WithFallback(memory))
	}
	log.Info("submission rate limit enabled", "requests", rl.Requests, "window", rl.Window.String(), "backend", rl.Backend)
	return ratelimit.New(primary, rl.Requests, rl.Window, log, opts...)
}

// sweepWindows drops idle client windows until ctx is done.
func sweepWindows(ctx context.Context, store *bucket.InMemory, window time.Duration) {
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.Sweep(ctx, window)
		}
	}
}

// buildPublisher always logs stage events; with brokers configured they are
// also shipped to Kafka through the async buffer.
func buildPublisher(ctx context.Context, cfg config.Config, log *slog.Logger, reg prometheus.Registerer, a *app) (audit.Publisher, *kafka.Sink, error) {
	logPub := publisher.NewLogPublisher(log)
	if len(cfg.Events.Brokers) == 0 {
		return logPub, nil, nil
	}

	sink, err := kafka.New(ctx, cfg.Events.Brokers,
		kafka.WithTopic(cfg.Events.Topic),
		kafka.WithEnsureTopic(1, 1),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect stage event sink: %w", err)
	}
	a.closers = append(a.closers, func() error { sink.Close(); return nil })
	a.stageTopic = sink.Topic()

	async := publisher.NewAsync(sink,
		publisher.WithBufferSize(cfg.Events.BufferSize),
		publisher.WithBatchSize(cfg.Events.BatchSize),
		publisher.WithFlushInterval(cfg.Events.FlushInterval),
		publisher.WithLogger(log),
		publisher.WithMetrics(publisher.NewMetrics(reg)),
	)
	// Closers run in reverse, so the buffer drains before the sink closes.
	a.closers = append(a.closers, async.Close)
	return publisher.Multi{logPub, async}, sink, nil
}
