package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	alarmapp "wellhead-monitor/internal/alarms/application"
	alarms "wellhead-monitor/internal/alarms/domain"
	alarmmemory "wellhead-monitor/internal/alarms/infrastructure/memory"
	alarmrepo "wellhead-monitor/internal/alarms/infrastructure/postgres"
	alarmhttp "wellhead-monitor/internal/alarms/interfaces/http"
	"wellhead-monitor/internal/analytics/application"
	"wellhead-monitor/internal/analytics/domain/rollup"
	analyticsmemory "wellhead-monitor/internal/analytics/infrastructure/memory"
	analyticsrepo "wellhead-monitor/internal/analytics/infrastructure/postgres"
	analyticshttp "wellhead-monitor/internal/analytics/interfaces/http"
	apihttp "wellhead-monitor/internal/api/http"
	"wellhead-monitor/internal/audit"
	"wellhead-monitor/internal/auth"
	"wellhead-monitor/internal/lock"
	masterapp "wellhead-monitor/internal/masterdata/application"
	masterdata "wellhead-monitor/internal/masterdata/domain"
	mastermemory "wellhead-monitor/internal/masterdata/infrastructure/memory"
	masterdatarepo "wellhead-monitor/internal/masterdata/infrastructure/postgres"
	masterhttp "wellhead-monitor/internal/masterdata/interfaces/http"
	"wellhead-monitor/internal/observability/metrics"
	readmodel "wellhead-monitor/internal/readmodel/application"
	telemetryapp "wellhead-monitor/internal/telemetry/application"
	telemetry "wellhead-monitor/internal/telemetry/domain"
	telemetrymemory "wellhead-monitor/internal/telemetry/infrastructure/memory"
	telemetrypostgres "wellhead-monitor/internal/telemetry/infrastructure/postgres"
	telemetryredis "wellhead-monitor/internal/telemetry/infrastructure/redis"
	ingesthttp "wellhead-monitor/internal/telemetry/interfaces/http"
	"wellhead-monitor/internal/telemetry/interfaces/stream"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
	} else {
		logger.Printf("storage: DATABASE_URL not set, using in-memory stores")
	}
	metrics.Init(db, logger)

	stores, err := buildStores(ctx, db, cfg, logger)
	if err != nil {
		logger.Fatalf("storage error: %v", err)
	}

	catalog, err := masterapp.NewCatalogService(stores.loader, masterapp.WithLogger(logger))
	if err != nil {
		logger.Fatalf("catalog service error: %v", err)
	}
	if _, err := catalog.Refresh(ctx); err != nil {
		logger.Fatalf("catalog load error: %v", err)
	}
	go catalog.StartAutoRefresh(ctx, cfg.CatalogRefreshInterval)

	var (
		latest       telemetry.LatestCache = telemetrymemory.NewLatestCache()
		deviceLocker lock.Locker           = lock.NewKeyedMutex()
		pairLocker   lock.Locker           = lock.NewKeyedMutex()
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatalf("redis ping error: %v", err)
		}
		redisLatest, err := telemetryredis.NewLatestCache(client, telemetryredis.WithTTL(cfg.LatestTTL))
		if err != nil {
			logger.Fatalf("redis latest cache error: %v", err)
		}
		redisLocker, err := lock.NewRedisLocker(client, lock.WithTTL(cfg.LockTTL), lock.WithLogger(logger))
		if err != nil {
			logger.Fatalf("redis locker error: %v", err)
		}
		latest = redisLatest
		deviceLocker = lock.Chain{deviceLocker, redisLocker}
		pairLocker = lock.Chain{pairLocker, redisLocker}
	}

	evaluator, err := alarmapp.NewEvaluator(catalog, stores.events,
		alarmapp.WithLocker(pairLocker),
		alarmapp.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("alarm evaluator error: %v", err)
	}
	intake, err := telemetryapp.NewIntake(catalog, stores.readings, evaluator,
		telemetryapp.WithLatestCache(latest),
		telemetryapp.WithDeviceLocker(deviceLocker),
		telemetryapp.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("intake error: %v", err)
	}

	defs := application.DefaultDefinitions()
	if cfg.RollupsConfig != "" {
		defs, err = application.LoadDefinitions(cfg.RollupsConfig)
		if err != nil {
			logger.Fatalf("rollup config error: %v", err)
		}
	}
	aggregator, err := application.NewAggregator(defs, stores.readings, stores.buckets, catalog,
		application.WithLogger(logger),
		application.WithUpsertChunks(cfg.RollupChunkSize, cfg.RollupParallelism),
	)
	if err != nil {
		logger.Fatalf("rollup aggregator error: %v", err)
	}
	scheduler := application.NewScheduler(aggregator, logger)
	scheduler.Start(ctx)

	if cfg.MQTTBroker != "" {
		subscriber, err := stream.NewMQTTSubscriber(stream.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Topic:    cfg.MQTTTopic,
			QoS:      byte(cfg.MQTTQoS),
		}, intake, logger)
		if err != nil {
			logger.Fatalf("mqtt subscriber error: %v", err)
		}
		if err := subscriber.Start(ctx); err != nil {
			logger.Fatalf("mqtt start error: %v", err)
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		consumer, err := stream.NewKafkaConsumer(stream.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		}, intake, logger)
		if err != nil {
			logger.Fatalf("kafka consumer error: %v", err)
		}
		go consumer.Run(ctx)
	}

	projector, err := readmodel.NewProjector(catalog)
	if err != nil {
		logger.Fatalf("projector error: %v", err)
	}
	readingService, err := readmodel.NewReadingService(stores.readings, latest, projector)
	if err != nil {
		logger.Fatalf("reading service error: %v", err)
	}
	alarmQuery, err := alarmapp.NewQueryService(stores.events)
	if err != nil {
		logger.Fatalf("alarm query service error: %v", err)
	}

	ingestHandler, err := ingesthttp.NewIngestHandler(intake, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	readingsHandler, err := apihttp.NewReadingsHandler(readingService, logger)
	if err != nil {
		logger.Fatalf("readings handler error: %v", err)
	}
	alarmsHandler, err := alarmhttp.NewHandler(alarmQuery, projector, logger)
	if err != nil {
		logger.Fatalf("alarms handler error: %v", err)
	}
	rollupsHandler, err := analyticshttp.NewHandler(aggregator, projector,
		analyticshttp.WithAuditLogger(stores.audit),
		analyticshttp.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("rollups handler error: %v", err)
	}
	catalogHandler, err := masterhttp.NewHandler(catalog, stores.audit, logger)
	if err != nil {
		logger.Fatalf("catalog handler error: %v", err)
	}
	auditHandler, err := audit.NewHandler(stores.audit)
	if err != nil {
		logger.Fatalf("audit handler error: %v", err)
	}

	healthChecks := map[string]apihttp.HealthCheck{
		"catalog": func(context.Context) error {
			if catalog.Current() == nil {
				return masterdata.ErrCatalogNotLoaded
			}
			return nil
		},
	}
	if db != nil {
		healthChecks["postgres"] = db.PingContext
	}

	var authMiddleware *auth.Middleware
	if cfg.JWTSecret != "" {
		authMiddleware = auth.NewMiddleware([]byte(cfg.JWTSecret), apihttp.DefaultPolicy())
	} else {
		logger.Printf("auth: AUTH_JWT_SECRET not set, read paths are unauthenticated")
	}
	handler := apihttp.NewRouter(apihttp.RouterConfig{
		Ingest:       ingestHandler,
		IngestAuth:   auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second),
		Auth:         authMiddleware,
		Routes:       []apihttp.Registrar{readingsHandler, alarmsHandler, rollupsHandler, catalogHandler},
		Audit:        auditHandler,
		HealthChecks: healthChecks,
		AccessLog:    logger.Writer(),
		Logger:       logger,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("http shutdown error: %v", err)
		}
	}()

	logger.Printf("http listening on %s", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal(err)
	}
	scheduler.Wait()
}

type storeSet struct {
	loader   masterdata.Loader
	readings telemetry.ReadingRepository
	events   alarms.EventStore
	buckets  rollup.BucketRepository
	audit    audit.Store
}

// buildStores selects Postgres repositories when db is set and in-memory
// ones otherwise. A catalog seed is upserted into Postgres before the first load.
func buildStores(ctx context.Context, db *sql.DB, cfg config, logger *log.Logger) (storeSet, error) {
	seed := mastermemory.DefaultCatalogData()
	if cfg.CatalogSeed != "" {
		loaded, err := mastermemory.LoadSeedFile(cfg.CatalogSeed)
		if err != nil {
			return storeSet{}, err
		}
		seed = loaded
	}

	if db == nil {
		return storeSet{
			loader:   mastermemory.NewStaticLoader(seed),
			readings: telemetrymemory.NewReadingRepository(),
			events:   alarmmemory.NewEventStore(),
			buckets:  analyticsmemory.NewBucketRepository(),
			audit:    audit.NewMemoryStore(),
		}, nil
	}

	loader, err := masterdatarepo.NewCatalogLoader(masterdatarepo.NewAssetRepository(db), alarmrepo.NewAlarmRuleRepository(db))
	if err != nil {
		return storeSet{}, err
	}
	if cfg.CatalogSeed != "" {
		if err := loader.Seed(ctx, seed); err != nil {
			return storeSet{}, err
		}
		logger.Printf("catalog seed applied: path=%s", cfg.CatalogSeed)
	}
	buckets, err := analyticsrepo.NewBucketRepository(db)
	if err != nil {
		return storeSet{}, err
	}
	auditRepo, err := audit.NewRepository(db)
	if err != nil {
		return storeSet{}, err
	}
	return storeSet{
		loader:   loader,
		readings: telemetrypostgres.NewReadingRepository(db),
		events:   alarmrepo.NewAlarmEventRepository(db),
		buckets:  buckets,
		audit:    auditRepo,
	}, nil
}

type config struct {
	DatabaseURL            string
	HTTPAddr               string
	JWTSecret              string
	IngestSecret           string
	IngestSkewSeconds      int
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	LockTTL                time.Duration
	LatestTTL              time.Duration
	MQTTBroker             string
	MQTTTopic              string
	MQTTClientID           string
	MQTTQoS                int
	KafkaBrokers           []string
	KafkaTopic             string
	KafkaGroupID           string
	CatalogRefreshInterval time.Duration
	CatalogSeed            string
	RollupsConfig          string
	RollupChunkSize        int
	RollupParallelism      int
}

func loadConfig() config {
	return config{
		DatabaseURL:            getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:               getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:              getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:           getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds:      getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
		RedisAddr:              getenvDefault("REDIS_ADDR", ""),
		RedisPassword:          getenvDefault("REDIS_PASSWORD", ""),
		RedisDB:                getenvIntDefault("REDIS_DB", 0),
		LockTTL:                getenvDuration("LOCK_TTL", 10*time.Second),
		LatestTTL:              getenvDuration("LATEST_TTL", 24*time.Hour),
		MQTTBroker:             getenvDefault("MQTT_BROKER", ""),
		MQTTTopic:              getenvDefault("MQTT_TOPIC", "wellhead/readings"),
		MQTTClientID:           getenvDefault("MQTT_CLIENT_ID", "wellhead-monitor"),
		MQTTQoS:                getenvIntDefault("MQTT_QOS", 1),
		KafkaBrokers:           getenvList("KAFKA_BROKERS"),
		KafkaTopic:             getenvDefault("KAFKA_TOPIC", "wellhead.readings"),
		KafkaGroupID:           getenvDefault("KAFKA_GROUP_ID", "wellhead-monitor"),
		CatalogRefreshInterval: getenvDuration("CATALOG_REFRESH_INTERVAL", 5*time.Minute),
		CatalogSeed:            getenvDefault("CATALOG_SEED", ""),
		RollupsConfig:          getenvDefault("ROLLUPS_CONFIG", ""),
		RollupChunkSize:        getenvIntDefault("ROLLUP_UPSERT_CHUNK", 500),
		RollupParallelism:      getenvIntDefault("ROLLUP_UPSERT_PARALLELISM", 4),
	}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
