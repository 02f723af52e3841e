// Точка входа Access Engine — реестр классифицированных документов
// с выдачей подотчётных копий.
// Загружает конфигурацию, поднимает хранилище (PostgreSQL или in-memory),
// восстанавливает журнал выдач, создаёт хранилище ключей, защиту от повтора,
// клиент оракула отзыва и диспетчер событий, затем запускает HTTP-сервер
// с JWT middleware, проверкой контракта и graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/goartstore/access-engine/internal/api/handlers"
	"github.com/bigkaa/goartstore/access-engine/internal/api/middleware"
	"github.com/bigkaa/goartstore/access-engine/internal/api/openapi"
	"github.com/bigkaa/goartstore/access-engine/internal/config"
	"github.com/bigkaa/goartstore/access-engine/internal/database"
	"github.com/bigkaa/goartstore/access-engine/internal/events"
	"github.com/bigkaa/goartstore/access-engine/internal/keystore"
	"github.com/bigkaa/goartstore/access-engine/internal/oracle"
	"github.com/bigkaa/goartstore/access-engine/internal/replay"
	"github.com/bigkaa/goartstore/access-engine/internal/repository"
	"github.com/bigkaa/goartstore/access-engine/internal/server"
	"github.com/bigkaa/goartstore/access-engine/internal/service"
	"github.com/bigkaa/goartstore/access-engine/internal/storage/blobstore"
	"github.com/bigkaa/goartstore/access-engine/internal/storage/journal"
	"github.com/bigkaa/goartstore/access-engine/internal/storage/memory"
)

// eventsPublishTimeout — таймаут публикации одного события диспетчером.
const eventsPublishTimeout = 5 * time.Second

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Access Engine запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("store_backend", cfg.StoreBackend),
	)

	if os.Getenv("AE_DEPHEALTH_GROUP") == "" {
		logger.Warn("AE_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	ctx := context.Background()

	// 3. Хранилище метаданных, журнала доступа и ключей
	var (
		store repository.Store
		pgDB  *sql.DB
	)
	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}

		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		store = repository.NewPostgresStore(pool)

		// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
		pgDB = stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()
	default:
		logger.Warn("Используется in-memory хранилище: данные не сохраняются между рестартами")
		store = memory.New()
	}
	defer store.Close()

	// 4. Хранилище зашифрованных блобов
	blobs, err := blobstore.New(cfg.BlobDir)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища блобов",
			slog.String("dir", cfg.BlobDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// 5. Журнал выдач и восстановление незавершённых выдач до приёма запросов
	grantJournal, err := journal.New(cfg.JournalDir, logger)
	if err != nil {
		logger.Error("Ошибка инициализации журнала выдач",
			slog.String("dir", cfg.JournalDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	recovery := service.NewJournalRecovery(grantJournal, store, cfg.JournalCleanInterval, logger)
	result, err := recovery.Recover(ctx)
	if err != nil {
		logger.Error("Ошибка восстановления журнала выдач", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Журнал выдач восстановлен",
		slog.Int("aborted", result.Aborted),
		slog.Int("already_logged", result.AlreadyLogged),
		slog.Int("errors", result.Errors),
	)

	// 6. Хранилище ключей шифрования
	keys, err := keystore.New(store, cfg.MasterKey, cfg.KeyCacheSize, cfg.KeyCacheTTL, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища ключей", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer keys.Purge()

	// 7. Защита от повтора nonce
	var guard replay.Guard
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		redisGuard := replay.NewRedisGuard(redisClient, cfg.NonceTTL, logger)
		if err := redisGuard.Ping(ctx); err != nil {
			logger.Warn("Redis недоступен при старте, запросы доступа будут отклоняться до его восстановления",
				slog.String("addr", cfg.RedisAddr),
				slog.String("error", err.Error()),
			)
		}
		defer redisGuard.Close()
		guard = redisGuard
		logger.Info("Защита от повтора через Redis", slog.String("addr", cfg.RedisAddr))
	} else {
		guard = replay.NewMemoryGuard(cfg.NonceCacheSize, cfg.NonceTTL)
	}

	// 8. Оракул отзыва удостоверений
	revocation, err := oracle.NewRevocationClient(cfg.RevocationURL, cfg.RevocationCACertPath, cfg.RevocationTimeout, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента оракула отзыва", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 9. События о записанных выдачах
	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		logger.Error("Ошибка создания приёмника событий",
			slog.String("sink", cfg.EventsSink),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	dispatcher := events.NewDispatcher(publisher, cfg.EventsBuffer, eventsPublishTimeout, logger)
	dispatcher.Start()

	// 10. Сервисы
	cryptoPool := service.NewWorkerPool("crypto", cfg.CryptoWorkers)
	oraclePool := service.NewWorkerPool("oracle", cfg.OracleWorkers)

	registrySvc := service.NewRegistryService(store, keys, blobs, cryptoPool, logger)
	accessSvc := service.NewAccessService(service.AccessDeps{
		Store:      store,
		Keys:       keys,
		Blobs:      blobs,
		Revocation: revocation,
		Replay:     guard,
		Journal:    grantJournal,
		Events:     dispatcher,
		CryptoPool: cryptoPool,
		OraclePool: oraclePool,
		Freshness:  cfg.RequestFreshness,
	}, logger)

	// 11. Фоновые задачи
	recovery.Start(ctx)

	// 11.1 topologymetrics — мониторинг зависимостей (PostgreSQL + оракул отзыва)
	var depHealth handlers.DependencyHealth
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"access-engine",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		revocation.BaseURL(),
		cfg.DephealthCheckInterval,
		cfg.DephealthIsEntry,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
	} else {
		depHealth = dephealthSvc
		defer dephealthSvc.Stop()
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 12. Health и API handlers
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(store, cfg.StoreBackend), depHealth)
	apiHandler := handlers.NewAPIHandler(healthHandler, registrySvc, accessSvc, logger)

	// 13. Rate limiting запросов доступа по субъекту
	limiter, err := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	if err != nil {
		logger.Error("Ошибка создания rate limiter", slog.String("error", err.Error()))
		os.Exit(1)
	}
	apiHandler.UseOnAccess(limiter.Middleware())

	// 14. JWT middleware (оракул идентичности и допуска)
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.JWTCACertPath,
		cfg.JWTIssuer,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 15. Проверка запросов по OpenAPI контракту
	doc, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}
	validator, err := openapi.NewValidator(doc, logger)
	if err != nil {
		logger.Error("Ошибка создания валидатора запросов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 16. HTTP-сервер: metrics → logging → JWT → контракт
	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
		server.JWTAuthWithExclusions(jwtAuth.Middleware(), "/health/", "/metrics", "/api/v1/openapi.yaml"),
		validator.Middleware(),
	)

	// 17. Запуск сервера (блокирующий вызов с graceful shutdown)
	runErr := srv.Run(ctx)

	// 18. Остановка фоновых задач после завершения начатых выдач
	recovery.Stop()

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := dispatcher.Stop(stopCtx); err != nil {
		logger.Warn("События не доставлены до завершения", slog.String("error", err.Error()))
	}

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}

	logger.Info("Access Engine остановлен")
}

// newPublisher создаёт приёмник событий по AE_EVENTS_SINK.
func newPublisher(cfg *config.Config, logger *slog.Logger) (events.Publisher, error) {
	switch cfg.EventsSink {
	case config.EventsSinkKafka:
		logger.Info("События публикуются в Kafka",
			slog.Any("brokers", cfg.KafkaBrokers),
			slog.String("topic", cfg.KafkaTopic),
		)
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case config.EventsSinkAMQP:
		logger.Info("События публикуются в AMQP", slog.String("exchange", cfg.AMQPExchange))
		return events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	default:
		return events.NewLogPublisher(logger), nil
	}
}
