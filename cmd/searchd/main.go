package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/commitlog"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/schema"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/snapsearch/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/cache"
	searchhandler "github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/searchd.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg); err != nil {
		slog.Error("searchd exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("searchd stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sch, err := schema.LoadFile(cfg.Indexer.SchemaFile)
	if err != nil {
		return err
	}

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, fmt.Sprintf(":%d", cfg.Metrics.Port), m); err != nil {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	var opts []indexer.Option
	if len(cfg.Search.DefaultFields) > 0 {
		opts = append(opts, indexer.WithDefaultFields(cfg.Search.DefaultFields))
	}
	engine, err := indexer.Open(cfg.Indexer, sch, opts...)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			slog.Error("closing index", "error", err)
		}
	}()
	st := engine.Stats()
	m.SetIndexState(st.Generation, st.SegmentCount, st.DocumentCount, st.PendingBufferedCount)
	slog.Info("index opened",
		"data_dir", cfg.Indexer.DataDir,
		"generation", st.Generation,
		"segments", st.SegmentCount,
		"documents", st.DocumentCount,
	)

	engine.OnCommit(func(o indexer.CommitOutcome) {
		kind := commitlog.KindCommit
		if o.Merged {
			kind = commitlog.KindMerge
		}
		m.ObserveCommit(string(kind), o.Duration, nil)
		m.SetIndexState(o.Generation, o.Segments, o.Documents, engine.Stats().PendingBufferedCount)
	})
	engine.OnCommitFailure(func(err *indexer.CommitError) {
		kind := string(commitlog.KindCommit)
		if err.Stage == indexer.StageMerge {
			kind = string(commitlog.KindMerge)
		}
		m.ObserveCommit(kind, 0, err)
	})

	checker := health.NewChecker(2 * time.Second)
	checker.Register("index", health.IndexCheck(func() health.IndexState {
		st := engine.Stats()
		return health.IndexState{Generation: st.Generation, Documents: st.DocumentCount, LastCommitError: st.LastCommitError}
	}))

	aggregator := commitlog.NewAggregator()
	sinks := []commitlog.Sink{aggregator}
	var commitStore *commitlog.Store

	if cfg.Postgres.Enabled {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer db.Close()
		commitStore = commitlog.NewStore(db)
		if err := commitStore.Migrate(ctx); err != nil {
			return err
		}
		sinks = append(sinks, commitStore)
		checker.Register("postgres", health.PingCheck(db.Ping, true))
		slog.Info("commit log enabled", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	}

	var queryCache *cache.QueryCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis, "snapsearch")
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis)
			engine.OnCommit(evictPrevious(queryCache))
			checker.Register("redis", health.PingCheck(redisClient.Ping, true))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var pub *publisher.Publisher
	if cfg.Kafka.Enabled {
		ingestProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest)
		defer ingestProducer.Close()
		pub = publisher.New(ingestProducer)

		ingestConsumer := consumer.New(kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest,
			consumer.HandleMessage(engine, sch.IDField(), m)))
		go func() {
			if err := ingestConsumer.Start(ctx); err != nil {
				slog.Error("index consumer error", "error", err)
			}
		}()

		if cfg.Kafka.Topics.IndexCommitted != "" {
			commitProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexCommitted)
			defer commitProducer.Close()
			sinks = append(sinks, commitlog.NewAnnouncer(commitProducer, filepath.Base(cfg.Indexer.DataDir)))
		}
		slog.Info("kafka ingestion enabled",
			"brokers", cfg.Kafka.Brokers,
			"ingest_topic", cfg.Kafka.Topics.DocumentIngest,
			"commit_topic", cfg.Kafka.Topics.IndexCommitted,
		)
	}

	collector := commitlog.NewCollector(1024, sinks...)
	collector.Start(context.Background())
	defer collector.Close()
	engine.OnCommit(collector.Track)

	engine.StartCommitLoop(ctx)

	mux := http.NewServeMux()
	searchhandler.New(engine, queryCache, m, cfg.Search).Register(mux)
	ingesthandler.New(engine, pub, sch.IDField(), m).Register(mux)
	commitlog.NewHandler(aggregator, commitStore).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	middlewares := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.CORS(cfg.Server.CORSOrigins),
		middleware.Metrics(m),
	}
	if cfg.Server.RateLimit > 0 {
		limiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst, 10*time.Minute)
		go limiter.Run(ctx, time.Minute)
		middlewares = append(middlewares, middleware.RateLimit(limiter))
		slog.Info("rate limiting enabled", "per_second", cfg.Server.RateLimit, "burst", cfg.Server.RateBurst)
	}
	middlewares = append(middlewares, middleware.Timeout(cfg.Server.WriteTimeout, "/api/v1/documents/_bulk"))
	chain := middleware.Chain(mux, middlewares...)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// evictPrevious drops cached results of the generation a commit replaced.
// Eviction runs off the commit path; TTL expiry covers any failure.
func evictPrevious(qc *cache.QueryCache) indexer.CommitListener {
	return func(o indexer.CommitOutcome) {
		if o.Generation == 0 {
			return
		}
		go func(generation uint64) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := qc.EvictGeneration(ctx, generation); err != nil {
				slog.Warn("cache eviction failed", "generation", generation, "error", err)
			}
		}(o.Generation - 1)
	}
}
