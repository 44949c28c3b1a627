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

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"taskmaster/api"
	"taskmaster/config"
	"taskmaster/domain"
	"taskmaster/progress"
	"taskmaster/storage"
	"taskmaster/suggest"
	"taskmaster/tasksync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	remote, stats, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer closeStores()

	var (
		rc      *redis.Client
		pub     progress.Publisher
		feed    api.ProgressFeed
		deduper api.Deduper
	)
	if opts := cfg.RedisOptions(); opts != nil {
		rc = redis.NewClient(opts)
		defer rc.Close()
		if cfg.CacheTTL > 0 {
			remote = storage.NewCache(remote, rc, cfg.CacheTTL)
		}
		pub = progress.NewRedisPublisher(rc, cfg.ProgressChannel)
		feed = func(ctx context.Context, userID string) <-chan domain.UserStats {
			return progress.Subscribe(ctx, rc, cfg.ProgressChannel, userID, logger)
		}
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	} else {
		logger.Warn("REDIS_CONNECTION_STRING not set: cache, idempotency and progress stream disabled")
	}

	svc := progress.NewService(stats, pub, logger)

	var sink progress.Sink = svc
	if cfg.AwardQueue != "" {
		queue, err := progress.OpenQueue(cfg.ConnectionString, cfg.AwardQueue)
		if err != nil {
			log.Fatalf("award queue: %v", err)
		}
		sink = progress.NewQueueSink(queue)
		processor := progress.NewProcessor(queue, svc, logger)
		go func() {
			if err := processor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("award processor stopped")
			}
		}()
	}
	dispatcher := progress.NewDispatcher(sink, progress.DispatcherConfig{
		Workers:        cfg.AwardWorkers,
		Buffer:         cfg.AwardBuffer,
		Timeout:        cfg.AwardTimeout,
		HandoffTimeout: cfg.AwardHandoffTimeout,
	}, logger)
	defer dispatcher.Close()

	var gen suggest.Generator
	if cfg.GeminiAPIKey != "" {
		g, err := suggest.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Fatalf("gemini: %v", err)
		}
		gen = g
	}

	auth, err := newAuth(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.SonicSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.GzipRequestMiddleware())

	api.Register(e, api.Deps{
		Auth:     auth,
		Tasks:    tasksync.NewRegistry(remote, logger, tasksync.WithRewarder(dispatcher)),
		Progress: svc,
		Feed:     feed,
		Advisor:  suggest.NewAdvisor(gen, logger),
		Deduper:  deduper,
		Log:      logger,
	})

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server stopped")
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown")
	}
}

// openStores picks the task collection by driver and the store progression
// stats live in.
func openStores(ctx context.Context, cfg config.Config) (tasksync.Remote, progress.StatsStore, func(), error) {
	var (
		remote  tasksync.Remote
		stats   progress.StatsStore
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var tables *storage.TableStore
	if cfg.StatsOnTables() {
		t, err := storage.New(cfg.ConnectionString, cfg.TasksTable, cfg.StatsTable)
		if err != nil {
			return nil, nil, closeAll, err
		}
		tables = t
		stats = t
	}

	switch cfg.StorageDriver {
	case config.DriverTables:
		if tables != nil {
			remote = tables
		}
	case config.DriverNeo4j:
		g, err := storage.NewGraph(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			closeAll()
			return nil, nil, func() {}, fmt.Errorf("neo4j: %w", err)
		}
		closers = append(closers, func() { _ = g.Close(context.Background()) })
		remote = g
	}

	if remote == nil || stats == nil {
		db, err := storage.NewSQLite(cfg.SQLitePath)
		if err != nil {
			closeAll()
			return nil, nil, func() {}, fmt.Errorf("sqlite: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		if remote == nil {
			remote = db
		}
		if stats == nil {
			stats = db
		}
	}
	return remote, stats, closeAll, nil
}

func newAuth(cfg config.Config) (*api.Auth, error) {
	if cfg.AuthTestMode {
		return api.NewTestAuth([]byte(cfg.TestJWTSecret)), nil
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, cfg.Auth0Audience, "https://"+cfg.Auth0Domain+"/"), nil
}
