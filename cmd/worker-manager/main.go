package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	awsclient "match-workers/internal/common/aws"
	"match-workers/internal/common/camunda"
	"match-workers/internal/common/config"
	"match-workers/internal/common/database"
	"match-workers/internal/common/logger"
	"match-workers/internal/common/messaging"
	"match-workers/internal/common/metrics"
	"match-workers/internal/common/observability"
	"match-workers/internal/matching"
	"match-workers/internal/matching/batch"
	"match-workers/internal/matching/report"
	"match-workers/internal/matching/store"

	cms "match-workers/internal/workers/matching/calculate-match-score"
	gwm "match-workers/internal/workers/matching/generate-weekly-matches"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	bootLog := logger.New("info", "console")

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal("config load failed", zap.Error(err))
	}
	_ = bootLog.Sync()

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting match worker manager...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs, err := observability.New(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		JaegerEndpoint: cfg.Observability.JaegerEndpoint,
	})
	if err != nil {
		zapLog.Fatal("observability setup failed", zap.Error(err))
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			zapLog.Warn("observability shutdown failed", zap.Error(err))
		}
	}()

	ctx := context.Background()

	// --- Zeebe ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
		})
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- PostgreSQL ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	if cfg.Database.Postgres.RunMigrations {
		version, err := database.Migrate(pg.DB)
		if err != nil {
			zapLog.Fatal("schema migration failed", zap.Error(err))
		}
		zapLog.Info("schema migrated", zap.Uint("version", version))
	}

	// --- Elasticsearch ---
	var es *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return es.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	if created, err := es.EnsureIndex(ctx, cfg.Database.Elasticsearch.ProfileIndex, store.ProfileIndexMapping); err != nil {
		zapLog.Fatal("profile index setup failed", zap.Error(err))
	} else if created {
		zapLog.Info("profile index created", zap.String("index", cfg.Database.Elasticsearch.ProfileIndex))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Redis ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Matching engine ---
	m := cfg.Matching
	matchStore := store.NewPostgresStore(pg.DB, log)
	profiles := store.NewCachedProfileSource(matchStore, rdb.Client, config.GetDuration(m.ProfileCacheTTL), log)
	candidates := store.NewElasticsearchCandidateSource(es.Client, store.CandidateSourceConfig{
		Index:              cfg.Database.Elasticsearch.ProfileIndex,
		BreakerMaxFailures: m.BreakerMaxFailures,
		BreakerOpenTimeout: config.GetDuration(m.BreakerOpenTimeout),
	}, log)
	runState := store.NewRunStateStore(rdb.Client, config.GetDuration(m.LockTTL), config.GetDuration(m.ReportTTL))

	scorer := matching.NewScorer(matching.Weights{
		Interest:  m.InterestWeight,
		Proximity: m.ProximityWeight,
		Activity:  m.ActivityWeight,
	}, m.MaxRadiusKm)

	orchestrator, err := batch.NewOrchestrator(batch.Config{
		MatchesPerUser:          m.MatchesPerUser,
		BatchSize:               m.BatchSize,
		BatchPause:              config.GetDuration(m.BatchPause),
		MaxRadiusKm:             m.MaxRadiusKm,
		RecentLookbackCycles:    m.RecentLookbackCycles,
		ExclusionLookbackCycles: m.ExclusionLookback,
		CandidatePoolSize:       m.CandidatePoolSize,
		DefaultAgeMin:           m.DefaultAgeMin,
		DefaultAgeMax:           m.DefaultAgeMax,
	}, batch.Dependencies{
		Users:      matchStore,
		Profiles:   profiles,
		Candidates: candidates,
		Matches:    matchStore,
		Selector:   matching.NewSelector(scorer, matching.NewDiversityFilter(m.DiversityPenalty)),
		Recorder:   metrics.NewMatchMetrics(prometheus.DefaultRegisterer),
		Tracer:     obs.Tracer(),
		Logger:     log,
	})
	if err != nil {
		zapLog.Fatal("orchestrator setup failed", zap.Error(err))
	}

	publisher, closePublishers, err := buildPublishers(ctx, cfg, log)
	if err != nil {
		zapLog.Fatal("report publisher setup failed", zap.Error(err))
	}
	defer closePublishers()
	zapLog.Info("report publishers configured", zap.String("channels", publisher.Name()))

	// --- Workers ---
	var workers []*camunda.CamundaWorker

	if config.IsWorkerEnabled(cfg, gwm.TaskType) {
		wcfg := config.GetWorkerConfig(cfg, gwm.TaskType)
		hcfg := gwm.LoadConfig()
		hcfg.Timeout = config.GetDuration(m.RunTimeout)
		handler := gwm.NewHandler(hcfg, orchestrator, runState, publisher, obs, log)
		workers = append(workers, camunda.NewWorker(zeebe.GetClient(), gwm.TaskType, camunda.WorkerOptions{
			MaxJobsActive: wcfg.MaxJobsActive,
			Timeout:       config.GetDuration(wcfg.Timeout),
		}, handler.Handle, zapLog))
	}

	if config.IsWorkerEnabled(cfg, cms.TaskType) {
		wcfg := config.GetWorkerConfig(cfg, cms.TaskType)
		hcfg := cms.LoadConfig()
		hcfg.Timeout = config.GetDuration(wcfg.Timeout)
		hcfg.RecentLookbackCycles = m.RecentLookbackCycles
		hcfg.DiversityPenalty = m.DiversityPenalty
		handler := cms.NewHandler(hcfg, profiles, matchStore, scorer, log)
		workers = append(workers, camunda.NewWorker(zeebe.GetClient(), cms.TaskType, camunda.WorkerOptions{
			MaxJobsActive: wcfg.MaxJobsActive,
			Timeout:       config.GetDuration(wcfg.Timeout),
		}, handler.Handle, zapLog))
	}
	zapLog.Info("workers registered", zap.Int("count", len(workers)))

	// --- Health & Metrics Server ---
	server := &http.Server{
		Addr: cfg.App.HTTPAddress,
		Handler: newHTTPHandler(map[string]readinessCheck{
			"postgres": pg.Ping,
			"redis":    rdb.Ping,
			"search":   es.Ping,
			"zeebe":    zeebe.HealthCheck,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping HTTP server", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

// buildPublishers wires every enabled report channel. The returned func
// closes any connections it opened.
func buildPublishers(ctx context.Context, cfg *config.Config, log logger.Logger) (*report.MultiPublisher, func(), error) {
	var (
		publishers []report.Publisher
		closers    []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	rc := cfg.Reporting
	if rc.AWS.SNS.Enabled || rc.AWS.SES.Enabled {
		awsCfg, err := awsclient.LoadConfig(ctx, rc.AWS.Region)
		if err != nil {
			return nil, closeAll, err
		}
		if rc.AWS.SNS.Enabled {
			publishers = append(publishers, report.NewSNSPublisher(awsclient.NewSNSClient(awsCfg), rc.AWS.SNS.TopicARN))
		}
		if rc.AWS.SES.Enabled {
			publishers = append(publishers, report.NewSESPublisher(
				awsclient.NewSESClient(awsCfg), rc.AWS.SES.FromEmail, rc.AWS.SES.To, cfg.Matching.FailureAlertThreshold))
		}
	}

	if rc.NATS.Enabled {
		natsCfg := messaging.DefaultNATSConfig()
		natsCfg.URL = rc.NATS.URL
		natsCfg.Name = cfg.App.Name
		client, err := messaging.NewNATSClient(natsCfg, log)
		if err != nil {
			return nil, closeAll, err
		}
		closers = append(closers, client.Close)
		publishers = append(publishers, report.NewNATSPublisher(client, rc.NATS.Subject))
	}

	return report.NewMultiPublisher(log, publishers...), closeAll, nil
}
