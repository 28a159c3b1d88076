package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace-sync/internal/amazon"
	"github.com/Checker-Finance/marketplace-sync/internal/api"
	"github.com/Checker-Finance/marketplace-sync/internal/auth"
	"github.com/Checker-Finance/marketplace-sync/internal/engine"
	"github.com/Checker-Finance/marketplace-sync/internal/httpclient"
	"github.com/Checker-Finance/marketplace-sync/internal/integrity"
	"github.com/Checker-Finance/marketplace-sync/internal/jobs"
	"github.com/Checker-Finance/marketplace-sync/internal/mercadolibre"
	"github.com/Checker-Finance/marketplace-sync/internal/publisher"
	"github.com/Checker-Finance/marketplace-sync/internal/rate"
	internalsecrets "github.com/Checker-Finance/marketplace-sync/internal/secrets"
	"github.com/Checker-Finance/marketplace-sync/internal/store"
	"github.com/Checker-Finance/marketplace-sync/internal/syncer"
	"github.com/Checker-Finance/marketplace-sync/internal/workers"
	"github.com/Checker-Finance/marketplace-sync/pkg/config"
	"github.com/Checker-Finance/marketplace-sync/pkg/logger"
	"github.com/Checker-Finance/marketplace-sync/pkg/model"
	"github.com/Checker-Finance/marketplace-sync/pkg/secrets"
	"github.com/Checker-Finance/marketplace-sync/pkg/utils"
)

const mlGovernor = "mercadolivre.api"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Infof("starting [%s]...", cfg.ServiceName)
	logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))

	// --- Postgres ---
	pool, err := store.OpenPostgres(ctx, cfg.DatabaseURL, store.PGPoolConfig{
		MaxConns:          int32(cfg.PGMaxConns),
		MinConns:          int32(cfg.PGMinConns),
		MaxConnLifetime:   cfg.PGMaxConnLifetime,
		MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
		HealthCheckPeriod: cfg.PGHealthCheckPeriod,
	})
	if err != nil {
		logg.Fatalw("failed to connect to postgres", "error", err)
	}
	if cfg.AutoMigrate {
		if err := store.Migrate(ctx, pool); err != nil {
			logg.Fatalw("failed to apply schema", "error", err)
		}
	}

	// --- Redis checkpoint cache (optional) ---
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = store.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.RedisPass)
		if err != nil {
			logg.Fatalw("failed to connect to redis", "error", err)
		}
	}

	products := store.NewProductStore(pool, logger.Named("store"))
	mlInventory := store.NewMLInventoryStore(pool, logger.Named("store"))
	credentialStore := store.NewCredentialStore(pool, logger.Named("store"))
	pgProgress := store.NewPGProgressStore(pool, logger.Named("store"))
	var progress syncer.ProgressStore = pgProgress
	if rdb != nil {
		progress = store.NewHybridProgressStore(rdb, pgProgress, cfg.CheckpointTTL, logger.Named("store"))
	}

	// --- Marketplace credentials ---
	var base internalsecrets.Source
	stopCleaner := make(chan struct{})
	if cfg.SecretsSource == "aws" {
		awsProvider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
		}
		credCache := secrets.NewCache[internalsecrets.Credentials](cfg.CacheTTL)
		go credCache.StartCleaner(cfg.CleanupFreq, stopCleaner)
		base = internalsecrets.NewAWSResolver(logger.Named("secrets"), map[string]string{
			amazon.Marketplace:       cfg.AmazonSecretName,
			mercadolibre.Marketplace: cfg.MLSecretName,
		}, awsProvider, credCache)
	} else {
		base = internalsecrets.StaticSource{
			amazon.Marketplace: {
				ClientID:     cfg.AmazonClientID,
				ClientSecret: cfg.AmazonClientSecret,
				RefreshToken: cfg.AmazonRefreshToken,
			},
			mercadolibre.Marketplace: {
				ClientID:     cfg.MLClientID,
				ClientSecret: cfg.MLClientSecret,
				RefreshToken: cfg.MLRefreshToken,
				SellerID:     cfg.MLSellerID,
			},
		}
	}
	source := store.RotatingSource{Base: base, Store: credentialStore}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	amazonTokens := auth.NewCache(amazon.Marketplace, logger.Named("auth"),
		auth.NewRefreshGrantExchanger(amazon.Marketplace, auth.AmazonTokenURL, httpClient), source,
		auth.WithSafetyMargin(cfg.TokenSafetyMargin), auth.WithRefreshTokenSink(credentialStore))
	mlTokens := auth.NewCache(mercadolibre.Marketplace, logger.Named("auth"),
		auth.NewRefreshGrantExchanger(mercadolibre.Marketplace, auth.MercadoLivreTokenURL, httpClient), source,
		auth.WithSafetyMargin(cfg.TokenSafetyMargin), auth.WithRefreshTokenSink(credentialStore))

	// --- Rate governors ---
	rateMgr := rate.NewManager(rate.FromOptions(config.RateOptions{MaxRPM: 60, Safety: 0.8}))
	rateMgr.Register(amazon.GovCatalog, rate.FromOptions(cfg.CatalogRate))
	rateMgr.Register(amazon.GovInventory, rate.FromOptions(cfg.InventoryRate))
	rateMgr.Register(amazon.GovPricing, rate.FromOptions(cfg.PricingRate))
	rateMgr.Register(mlGovernor, rate.FromOptions(cfg.MLRate))

	// --- Upstream clients ---
	amazonURL, err := amazon.Endpoint(cfg.AmazonRegion)
	if err != nil {
		logg.Fatalw("invalid amazon region", "region", cfg.AmazonRegion, "error", err)
	}
	amazonClient := amazon.NewClient(
		httpclient.New(logger.Named("amazon"), httpClient, amazon.Marketplace, amazonTokens, httpclient.HeaderAuth("x-amz-access-token")),
		amazonURL,
		cfg.AmazonMarketplaceID,
		amazon.Governors{
			Catalog:   rateMgr.Governor(amazon.GovCatalog),
			Inventory: rateMgr.Governor(amazon.GovInventory),
			Pricing:   rateMgr.Governor(amazon.GovPricing),
		},
	)

	sellerID := cfg.MLSellerID
	if sellerID == "" {
		if creds, err := source.Credentials(ctx, mercadolibre.Marketplace); err == nil {
			sellerID = creds.SellerID
		}
	}
	mlClient := mercadolibre.NewClient(
		httpclient.New(logger.Named("mercadolivre"), httpClient, mercadolibre.Marketplace, mlTokens, httpclient.BearerAuth),
		mercadolibre.DefaultBaseURL,
		sellerID,
		rateMgr.Governor(mlGovernor),
	)

	// --- Event publisher ---
	var events syncer.EventPublisher
	var nc *nats.Conn
	var amqpPub *publisher.AMQPPublisher
	switch cfg.EventSink {
	case "nats":
		nc, err = nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
		if err != nil {
			logg.Fatalw("failed to connect to NATS", "error", err)
		}
		pub, err := publisher.New(nc, cfg.NATSSubject, cfg.ServiceName)
		if err != nil {
			logg.Fatalw("failed to init publisher", "error", err)
		}
		events = pub
	case "rabbitmq":
		amqpPub, err = publisher.NewAMQP(cfg.AMQPURL, cfg.AMQPExchange, cfg.ServiceName, logger.Named("publisher"))
		if err != nil {
			logg.Fatalw("failed to init rabbitmq publisher", "error", err)
		}
		events = amqpPub
	default:
		events = publisher.Nop{Logger: logger.Named("publisher")}
	}

	// --- Workers and orchestrators ---
	syncOpts := syncer.Options{
		BatchSize:       cfg.SyncBatchSize,
		CheckpointEvery: cfg.CheckpointEvery,
		MaxRetries:      cfg.SyncMaxRetries,
		BackoffBase:     cfg.SyncBackoffBase,
		MaxBackoff:      cfg.SyncMaxBackoff,
	}
	withTokens := func(tokens *auth.Cache) syncer.Options {
		o := syncOpts
		o.BeforeBatch = tokens.EnsureFresh
		return o
	}

	syncLog := logger.Named("syncer")
	workerLog := logger.Named("workers")
	amazonCreds := []engine.CredentialResetter{amazonTokens}
	all := map[string]engine.Domain{
		workers.DomainAmazonInventory: {
			Syncer:      syncer.New(workers.NewInventory(amazonClient, products, workerLog), progress, events, syncLog, withTokens(amazonTokens)),
			Credentials: amazonCreds,
		},
		workers.DomainAmazonPricing: {
			Syncer:      syncer.New(workers.NewPricing(amazonClient, products, workerLog), progress, events, syncLog, withTokens(amazonTokens)),
			Credentials: amazonCreds,
		},
		workers.DomainAmazonCatalog: {
			Syncer:      syncer.New(workers.NewCatalog(amazonClient, products, amazonClient.MarketplaceID(), cfg.ConsistencyLock, workerLog), progress, events, syncLog, withTokens(amazonTokens)),
			Credentials: amazonCreds,
		},
		workers.DomainMLInventory: {
			Syncer:      syncer.New(workers.NewMLStock(mlClient, mlInventory, workerLog), progress, events, syncLog, withTokens(mlTokens)),
			Credentials: []engine.CredentialResetter{mlTokens},
		},
	}
	var domains []engine.Domain
	for _, name := range cfg.SyncDomains {
		d, ok := all[name]
		if !ok {
			logg.Warnw("ignoring unknown sync domain", "domain", name)
			continue
		}
		domains = append(domains, d)
	}

	// --- Engine ---
	integrityDefaults := integrity.Options{
		WindowDays:      cfg.IntegrityWindowDays,
		MaxRecords:      cfg.IntegrityMaxRecords,
		Timeout:         cfg.IntegrityTimeout,
		SamplingEnabled: cfg.IntegritySamplingEnabled,
		SamplingPct:     cfg.IntegritySamplingPct,
	}
	eng := engine.New(ctx, engine.Config{
		Domains:  domains,
		Checker:  integrity.NewChecker(pool, logger.L()),
		Repairer: integrity.NewRepairer(pool, logger.L()),
		Sales:    products,
		Events:   events,
		Flags: engine.Flags{
			SimulatedDataEnabled: cfg.SimulatedDataEnabled,
			SchedulesDisabled:    cfg.DisableSchedules,
			ConsistencyLock:      cfg.ConsistencyLock,
		},
		IntegrityDefaults: integrityDefaults,
		RepairWindowDays:  30,
	}, logger.L())

	// --- Schedules ---
	var integrityJob *jobs.IntegrityJob
	var syncScheduler *jobs.SyncScheduler
	if !cfg.DisableSchedules {
		integrityJob = jobs.NewIntegrityJob(logger.L(), eng, integrityDefaults, cfg.IntegrityAutoRepair, 30, cfg.IntegrityInterval)
		go integrityJob.Start(ctx)
		syncScheduler = jobs.NewSyncScheduler(logger.L(), eng, eng.Domains(), cfg.SyncInterval)
		go syncScheduler.Start(ctx)
	} else {
		logg.Warn("DISABLE_SCHEDULES set; integrity checks and syncs run on demand only")
	}

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})

	checks := map[string]api.HealthCheck{
		"store": func(ctx context.Context) error { return store.HealthCheck(ctx, pool, rdb) },
	}
	if nc != nil {
		checks["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("disconnected")
			}
			return nc.FlushTimeout(time.Second)
		}
	}
	api.RegisterRoutes(app, api.NewHandler(logger.Named("api"), eng), checks)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	// --- Main process stays alive until interrupted ---
	logg.Infow("["+cfg.ServiceName+"] running",
		"env", cfg.Env,
		"event_sink", cfg.EventSink,
		"domains", eng.Domains(),
		"sync_interval", cfg.SyncInterval,
		"schedules_disabled", cfg.DisableSchedules)

	<-ctx.Done()
	logg.Infof("shutting down [%s]...", cfg.ServiceName)

	close(stopCleaner)
	if integrityJob != nil {
		integrityJob.Stop()
		syncScheduler.Stop()
	}

	// Running orchestrators observe the cancelled context and checkpoint as paused.
	for _, name := range eng.Domains() {
		if err := eng.PauseSync(name); err != nil {
			logg.Warnw("pause on shutdown failed", "domain", name, "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	waitForRuns(shutdownCtx, eng, logger.L())

	if nc != nil {
		if err := nc.Drain(); err != nil {
			logg.Warnw("nats.drain_failed", "error", err)
		}
	}
	if amqpPub != nil {
		if err := amqpPub.Close(); err != nil {
			logg.Warnw("rabbitmq.close_failed", "error", err)
		}
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	pool.Close()
}

// waitForRuns gives active runs until ctx expires to persist their paused checkpoint.
func waitForRuns(ctx context.Context, eng *engine.Engine, log *zap.Logger) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		statuses, err := eng.ListStatuses(ctx)
		if err != nil {
			log.Warn("shutdown.status_failed", zap.Error(err))
			return
		}
		running := 0
		for _, p := range statuses {
			if p.Status == model.SyncRunning {
				running++
			}
		}
		if running == 0 {
			return
		}
		select {
		case <-ctx.Done():
			log.Warn("shutdown.runs_still_active", zap.Int("running", running))
			return
		case <-ticker.C:
		}
	}
}
