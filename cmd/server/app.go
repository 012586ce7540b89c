package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"reconciler/internal/identity/handler"
	identitymetrics "reconciler/internal/identity/metrics"
	"reconciler/internal/identity/service"
	"reconciler/internal/identity/store/contact"
	"reconciler/internal/identity/store/lock"
	"reconciler/internal/platform/config"
	"reconciler/internal/platform/kafka"
	"reconciler/internal/platform/postgres"
	"reconciler/internal/platform/redis"
	ratelimitmetrics "reconciler/internal/ratelimit/metrics"
	ratelimit "reconciler/internal/ratelimit/middleware"
	"reconciler/internal/ratelimit/store/bucket"
	httptransport "reconciler/internal/transport/http"
	audit "reconciler/pkg/platform/audit"
	"reconciler/pkg/platform/audit/publishers/compliance"
	"reconciler/pkg/platform/audit/relay"
	auditmemory "reconciler/pkg/platform/audit/store/memory"
	auditpostgres "reconciler/pkg/platform/audit/store/postgres"
)

const (
	auditTopicPartitions  = 3
	auditTopicReplication = 1
)

type app struct {
	router  http.Handler
	relay   *relay.Relay
	closers []func() error
	logger  *slog.Logger
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("failed to close resource", "error", err)
		}
	}
}

// buildApp opens the configured backends and assembles the service graph.
func buildApp(ctx context.Context, cfg config.Server, log *slog.Logger) (_ *app, err error) {
	a := &app{logger: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	checks := map[string]func(context.Context) error{}
	var (
		store      service.Store
		storeTx    service.StoreTx
		auditStore audit.Store
		outbox     *auditpostgres.Store
	)
	switch cfg.Store {
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		checks["postgres"] = db.PingContext
		if err := postgres.Migrate(db, postgres.Up, log); err != nil {
			return nil, err
		}
		store = contact.NewPostgres(db)
		storeTx = contact.NewPostgresTx(db, contact.WithTxTimeout(cfg.TxTimeout), contact.WithTxLogger(log))
		outbox = auditpostgres.New(db)
		auditStore = outbox
	case config.StoreBadger:
		bs, err := contact.OpenBadger(cfg.Badger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, bs.Close)
		store = bs
		storeTx = contact.NewBadgerTx(bs, cfg.TxTimeout)
		auditStore = auditmemory.NewInMemoryStore()
	default:
		store = contact.NewInMemory()
		auditStore = auditmemory.NewInMemoryStore()
	}

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	var buckets ratelimit.BucketStore = bucket.NewInMemoryBucketStore()
	if rdb != nil {
		buckets = bucket.NewRedisBucketStore(rdb.Client)
		a.closers = append(a.closers, rdb.Close)
		checks["redis"] = rdb.Health
		if storeTx == nil {
			log.Warn("REDIS_URL ignored: the memory store is process-local")
		} else {
			storeTx = lock.NewRedisLocker(rdb.Client, storeTx, lock.WithTTL(cfg.Redis.LockTTL))
		}
	}

	publisher := compliance.New(auditStore,
		compliance.WithLogger(log),
		compliance.WithMetrics(compliance.NewMetrics(registry)),
	)

	opts := []service.Option{
		service.WithLogger(log),
		service.WithAuditPublisher(publisher),
		service.WithMetrics(identitymetrics.New(registry)),
		service.WithTxTimeout(cfg.TxTimeout),
	}
	if storeTx != nil {
		opts = append(opts, service.WithStoreTx(storeTx))
	}
	identity := service.New(store, opts...)

	if cfg.Kafka.Enabled() {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { producer.Close(); return nil })
		if err := producer.EnsureTopic(ctx, auditTopicPartitions, auditTopicReplication); err != nil {
			return nil, fmt.Errorf("ensure audit topic: %w", err)
		}
		a.relay = relay.New(outbox, producer,
			relay.WithLogger(log),
			relay.WithMetrics(relay.NewMetrics(registry)),
			relay.WithBatchSize(cfg.Kafka.BatchSize),
			relay.WithPollInterval(cfg.Kafka.PollInterval),
		)
	}

	limiter := ratelimit.New(buckets, cfg.RateLimit.Requests, cfg.RateLimit.Window, log,
		ratelimit.WithMetrics(ratelimitmetrics.New(registry)),
	)

	a.router = httptransport.NewRouter(httptransport.RouterConfig{
		ServiceName:     cfg.ServiceName,
		Logger:          log,
		Metrics:         httptransport.NewMetrics(registry),
		Gatherer:        registry,
		RequestTimeout:  cfg.RequestTimeout,
		ReadinessChecks: checks,
		CORSOrigins:     cfg.CORSOrigins,
	}, handler.New(identity, log, handler.WithIdentifyMiddleware(limiter.RateLimit)))
	return a, nil
}
