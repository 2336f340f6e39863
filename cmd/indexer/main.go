package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/election"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/notify"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/redis"
)

const requestTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if err := run(cfg); err != nil {
		slog.Error("indexer service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("indexer service stopped")
}

func run(cfg *config.Config) error {
	slog.Info("starting indexer service",
		"indexes", len(cfg.Indexer.Indexes),
		"election", cfg.Election.Mode,
		"kafka", cfg.Kafka.Enabled,
	)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checker := health.NewChecker()
	m := metrics.New()

	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled || cfg.Election.Mode == config.ElectionRedis {
		client, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			if cfg.Election.Mode == config.ElectionRedis {
				return fmt.Errorf("connecting to redis: %w", err)
			}
			slog.Warn("redis unavailable, cache invalidation disabled", "error", err)
		} else {
			redisClient = client
			defer redisClient.Close()
			checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
				if err := redisClient.Ping(ctx); err != nil {
					return health.Degraded(err.Error())
				}
				return health.Up()
			})
		}
	}

	var pg *postgres.Client
	if cfg.Election.Mode == config.ElectionPostgres {
		client, err := postgres.New(cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		pg = client
		defer pg.Close()
		if err := election.NewPostgresStore(pg.DB, "").EnsureSchema(ctx); err != nil {
			return fmt.Errorf("creating claims table: %w", err)
		}
		checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
			if err := pg.Ping(ctx); err != nil {
				return health.Degraded(err.Error())
			}
			return health.Up()
		})
	}

	var (
		kv election.KV
		db *sql.DB
	)
	if redisClient != nil {
		kv = redisClient
	}
	if pg != nil {
		db = pg.DB
	}
	claims, err := shard.ClaimStores(cfg.Election, kv, db)
	if err != nil {
		return err
	}

	notifyOpts := notify.Options{Metrics: m}
	if cfg.Redis.Enabled && redisClient != nil {
		notifyOpts.Cache = redisClient
		notifyOpts.CachePrefix = cfg.Redis.CachePrefix
	}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexCommitted)
		defer producer.Close()
		notifyOpts.Publisher = producer
	}
	notifier := notify.New(notifyOpts)

	router, err := shard.NewRouter(ctx, *cfg, shard.Deps{
		Claims: claims,
		Events: indexer.Merge(notifier.Events(), indexer.Events{
			OnExecutiveAssigned: func(ev indexer.ExecutiveAssigned) {
				slog.Info("executive assigned",
					"index", ev.Index,
					"owner", ev.Owner,
					"participants", ev.Participants,
					"self", ev.Self,
				)
			},
		}),
		Metrics: m,
		Health:  checker,
	})
	if err != nil {
		return fmt.Errorf("starting indexes: %w", err)
	}

	events := handler.New(func(ctx context.Context, ev ingestion.IndexEvent) (ingestion.Accepted, error) {
		return consumer.Apply(ctx, router, ev)
	})
	var api http.Handler = http.HandlerFunc(events.Events)
	api = middleware.Timeout(requestTimeout)(api)
	api = middleware.Metrics(m)(api)
	api = middleware.RequestID(api)

	shutdownServer := func(context.Context) error { return nil }
	if cfg.Metrics.Enabled {
		shutdownServer = metrics.StartServer(cfg.Metrics.Port, map[string]http.Handler{
			"/health/live":  checker.LiveHandler(),
			"/health/ready": checker.ReadyHandler(),
			"/v1/events":    api,
		})
	}

	if cfg.Kafka.Enabled {
		kafkaConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexEvents, consumer.HandleMessage(router))
		indexConsumer := consumer.New(kafkaConsumer)
		defer indexConsumer.Close()
		slog.Info("consuming index events",
			"topic", cfg.Kafka.Topics.IndexEvents,
			"group", cfg.Kafka.ConsumerGroup,
		)
		if err := indexConsumer.Start(ctx); err != nil {
			slog.Error("consumer error", "error", err)
		}
	} else {
		slog.Info("indexer service ready", "indexes", router.Names())
	}
	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Indexer.ShutdownTimeout+10*time.Second)
	defer cancel()
	var errs []error
	if err := shutdownServer(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stopping http server: %w", err))
	}
	if err := router.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := notifier.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return apperrors.Join(errs...)
}
