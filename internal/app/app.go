// Package app assembles the API from configuration: storage backends, the
// audit pipeline, domain services and the HTTP router.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"labtrail/internal/access"
	"labtrail/internal/audit"
	audithandler "labtrail/internal/audit/handler"
	kafkapub "labtrail/internal/audit/publisher/kafka"
	auditmemory "labtrail/internal/audit/store/memory"
	auditpostgres "labtrail/internal/audit/store/postgres"
	auditredis "labtrail/internal/audit/store/redis"
	authhandler "labtrail/internal/auth/handler"
	authservice "labtrail/internal/auth/service"
	jwttoken "labtrail/internal/jwt_token"
	labhandler "labtrail/internal/laborders/handler"
	labservice "labtrail/internal/laborders/service"
	labstore "labtrail/internal/laborders/store"
	"labtrail/internal/platform/config"
	"labtrail/internal/platform/metrics"
	"labtrail/internal/platform/postgres"
	"labtrail/internal/platform/redis"
	resulthandler "labtrail/internal/results/handler"
	resultservice "labtrail/internal/results/service"
	resultstore "labtrail/internal/results/store"
	httptransport "labtrail/internal/transport/http"
	userhandler "labtrail/internal/users/handler"
	userservice "labtrail/internal/users/service"
	userstore "labtrail/internal/users/store"
	"labtrail/pkg/platform/circuit"
	"labtrail/pkg/platform/tx"
)

// Telemetry carries the Prometheus collectors. The zero value disables metrics.
type Telemetry struct {
	HTTP   *metrics.Metrics
	Access *access.Metrics
	Audit  *audit.Metrics
}

// NewTelemetry registers every collector with the default registry. Call it
// once per process.
func NewTelemetry() Telemetry {
	return Telemetry{
		HTTP:   metrics.New(),
		Access: access.NewMetrics(),
		Audit:  audit.NewMetrics(),
	}
}

// App is a built API. Close releases its resources in reverse order of
// acquisition, draining the audit queue before closing the audit stores.
type App struct {
	Handler    http.Handler
	Dispatcher *audit.Dispatcher
	AuditStore audit.Store

	closers []func(ctx context.Context) error
}

func (a *App) onClose(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// resultStore is a results store that can also follow lab order deletes.
type resultStore interface {
	resultservice.Store
	labservice.Results
}

type domainStores struct {
	users   *userstore.InMemory
	pgUsers *userstore.Postgres
	orders  labservice.Store
	results resultStore
	runner  tx.Runner
}

func (d domainStores) userStore() userservice.Store {
	if d.pgUsers != nil {
		return d.pgUsers
	}
	return d.users
}

// Build wires the application. On error, anything already opened is closed.
func Build(ctx context.Context, cfg config.Server, logger *slog.Logger, tel Telemetry) (_ *App, err error) {
	a := &App{}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	var db *sql.DB
	if cfg.Storage.Backend == "postgres" || cfg.Audit.Store == "postgres" {
		db, err = postgres.Open(ctx, cfg.DB)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return db.Close() })
		if err = postgres.Migrate(ctx, db); err != nil {
			return nil, err
		}
	}

	stores, err := openDomainStores(cfg.Storage.Backend, db)
	if err != nil {
		return nil, err
	}

	var checks []httptransport.HealthCheck
	if db != nil {
		checks = append(checks, httptransport.HealthCheck{Name: "postgres", Check: db.PingContext})
	}

	auditStore, err := a.openAuditStore(ctx, cfg, db, &checks)
	if err != nil {
		return nil, err
	}
	a.AuditStore = auditStore

	var appender audit.Appender = auditStore
	if len(cfg.Kafka.Brokers) > 0 {
		client, err := kafkapub.NewClient(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { client.Close(); return nil })
		if err := kafkapub.EnsureTopic(ctx, client, cfg.Kafka.Topic, cfg.Kafka.Partitions, cfg.Kafka.Replicas); err != nil {
			logger.WarnContext(ctx, "audit topic not provisioned", "topic", cfg.Kafka.Topic, "error", err)
		}
		breaker := circuit.New("kafka-audit", circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second))
		mirror := audit.NewBreaking(kafkapub.New(client, cfg.Kafka.Topic), breaker, logger)
		appender = audit.NewFanout(auditStore, logger, mirror)
		checks = append(checks, httptransport.HealthCheck{Name: "kafka", Check: kafkaPing(client)})
	}

	dispatcher := audit.NewDispatcher(appender,
		audit.WithDispatcherLogger(logger),
		audit.WithDispatcherMetrics(tel.Audit),
		audit.WithBuffer(cfg.Audit.BufferSize),
		audit.WithWorkers(cfg.Audit.Workers),
		audit.WithWriteTimeout(cfg.Audit.WriteTimeout),
	)
	a.Dispatcher = dispatcher
	a.onClose(dispatcher.Close)
	recorder := audit.NewRecorder(dispatcher, audit.WithRecorderLogger(logger))

	guard := access.NewGuard(access.WithLogger(logger), access.WithMetrics(tel.Access))
	jwtService := jwttoken.NewJWTService(cfg.JWT.SigningKey, cfg.JWT.Issuer, cfg.JWT.Audience)

	users := userservice.New(stores.userStore(), guard,
		userservice.WithLogger(logger), userservice.WithMetrics(tel.HTTP))
	auth := authservice.New(users, stores.userStore(), jwtService, guard,
		authservice.WithLogger(logger), authservice.WithTokenTTL(cfg.JWT.TTL))
	orders := labservice.New(stores.orders, stores.userStore(), guard,
		labservice.WithLogger(logger), labservice.WithMetrics(tel.HTTP), labservice.WithTx(stores.runner),
		labservice.WithResults(stores.results))
	results := resultservice.New(stores.results, stores.orders, guard,
		resultservice.WithLogger(logger), resultservice.WithMetrics(tel.HTTP), resultservice.WithTx(stores.runner))
	auditLogs := audit.NewService(auditStore, guard, audit.WithServiceLogger(logger))

	a.Handler = httptransport.NewRouter(httptransport.Config{
		Logger:    logger,
		Metrics:   tel.HTTP,
		Validator: jwttoken.NewJWTServiceAdapter(jwtService),
		Recorder:  recorder,
		Checks:    checks,
	},
		authhandler.New(auth, guard, logger),
		userhandler.New(users, guard, logger),
		labhandler.New(orders, guard, logger),
		resulthandler.New(results, guard, logger),
		audithandler.New(auditLogs, guard, logger),
	)
	return a, nil
}

func openDomainStores(backend string, db *sql.DB) (domainStores, error) {
	switch backend {
	case "", "memory":
		return domainStores{
			users:   userstore.NewInMemory(),
			orders:  labstore.NewInMemory(),
			results: resultstore.NewInMemory(),
			runner:  tx.NewSharded(),
		}, nil
	case "postgres":
		return domainStores{
			pgUsers: userstore.NewPostgres(db),
			orders:  labstore.NewPostgres(db),
			results: resultstore.NewPostgres(db),
			runner:  tx.NewSQL(db),
		}, nil
	}
	return domainStores{}, fmt.Errorf("unknown storage backend %q", backend)
}

func (a *App) openAuditStore(ctx context.Context, cfg config.Server, db *sql.DB, checks *[]httptransport.HealthCheck) (audit.Store, error) {
	switch cfg.Audit.Store {
	case "", "memory":
		return auditmemory.New(), nil
	case "postgres":
		return auditpostgres.New(db), nil
	case "redis":
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		if client == nil {
			return nil, errors.New("audit store redis requires REDIS_URL")
		}
		a.onClose(func(context.Context) error { return client.Close() })
		*checks = append(*checks, httptransport.HealthCheck{Name: "redis", Check: client.Health})
		return auditredis.New(client), nil
	}
	return nil, fmt.Errorf("unknown audit store %q", cfg.Audit.Store)
}

func kafkaPing(client *kgo.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx)
	}
}
