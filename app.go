package main

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"smlgpt/internal/config"
	"smlgpt/internal/gateway"
	"smlgpt/internal/logging"
	"smlgpt/internal/objectstore"
	"smlgpt/internal/pipeline"
	"smlgpt/internal/realtime"
	"smlgpt/internal/redis"
	"smlgpt/internal/registry"
	"smlgpt/internal/storage"
	"smlgpt/internal/worker"
)

// app holds the components shared by serve and worker. Redis clients are nil
// when no URL is configured; in-memory fallbacks take their place.
type app struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	redis    *redis.Client
	queueRDB *redis.Client
	db       *sql.DB
	registry registry.Registry
	objects  objectstore.Store
	gateway  *gateway.Gateway
	jobs     worker.Store
	queue    *worker.Queue
	flush    func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	_, flush := logging.Install(cfg.Server.LogLevel)
	a := &app{cfg: cfg, log: zap.S().Named("main"), flush: flush}

	if err := a.connectRedis(); err != nil {
		a.close()
		return nil, err
	}
	if err := a.openRegistry(); err != nil {
		a.close()
		return nil, err
	}
	if err := a.openObjects(ctx); err != nil {
		a.close()
		return nil, err
	}
	if a.gateway, err = gateway.New(ctx, cfg); err != nil {
		a.close()
		return nil, fmt.Errorf("init ai gateway: %w", err)
	}

	if a.queueRDB != nil {
		a.jobs = worker.NewRedisStore(a.queueRDB, pipeline.QueueName)
	} else {
		a.log.Warn("no queue redis configured, jobs are kept in memory")
		a.jobs = worker.NewMemoryStore()
	}
	a.queue = worker.NewQueue(a.jobs, cfg.Queue.MaxAttempts)
	return a, nil
}

func (a *app) connectRedis() error {
	if a.cfg.Redis.URL != "" {
		client, err := redis.NewRedisClient(redis.Options{
			URL:      a.cfg.Redis.URL,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
	}
	switch url := a.cfg.Queue.RedisURL; {
	case url == "":
	case url == a.cfg.Redis.URL:
		a.queueRDB = a.redis
	default:
		client, err := redis.NewRedisClient(redis.Options{URL: url, Password: a.cfg.Redis.Password})
		if err != nil {
			return fmt.Errorf("connect queue redis: %w", err)
		}
		a.queueRDB = client
	}
	return nil
}

func (a *app) openRegistry() error {
	driver := a.cfg.Database.Driver
	if driver == "" || driver == "memory" {
		a.registry = registry.NewMemory()
		return nil
	}
	db, err := storage.Open(driver, a.cfg.Database.DSN)
	if err != nil {
		return err
	}
	if err := storage.Migrate(db, driver); err != nil {
		db.Close()
		return fmt.Errorf("migrate database: %w", err)
	}
	a.db = db
	a.registry = registry.NewSQL(db, driver)
	if a.redis != nil {
		a.registry = registry.NewCached(a.registry, a.redis, a.cfg.CacheTTL())
	}
	return nil
}

func (a *app) openObjects(ctx context.Context) error {
	if a.cfg.Storage.Endpoint == "" {
		a.log.Warn("no object storage configured, uploads are kept in memory")
		base := a.cfg.Storage.PublicURL
		if base == "" {
			base = "http://localhost:" + a.cfg.Server.Port + "/files"
		}
		a.objects = objectstore.NewMemoryStore(base)
		return nil
	}
	store, err := objectstore.NewMinioStore(a.cfg.Storage)
	if err != nil {
		return err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return err
	}
	a.objects = store
	return nil
}

// dispatcher builds the worker side: the analysis pipeline behind a job
// dispatcher reading the shared store.
func (a *app) dispatcher(publisher realtime.Publisher) *worker.Dispatcher {
	p := pipeline.New(pipeline.Deps{
		Vision:    a.gateway.Vision,
		Tagger:    a.gateway.ComputerVision,
		Documents: a.gateway.Documents,
		Embedder:  a.gateway.Embeddings,
		Indexer:   a.gateway.Search,
		Publisher: publisher,
		Registry:  a.registry,
	})
	q := a.cfg.Queue
	d := worker.NewDispatcher(a.jobs, pipeline.NewJobProcessor(p), worker.DispatcherConfig{
		MaxWorkers:  q.Concurrency,
		MaxAttempts: q.MaxAttempts,
		Backoff:     a.cfg.Backoff(),
		JobTimeout:  q.JobTimeout,
		Retention:   q.Retention,
	})
	a.queue.OnEnqueue(d.Notify)
	return d
}

func (a *app) close() {
	if a.queueRDB != nil && a.queueRDB != a.redis {
		_ = a.queueRDB.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.flush != nil {
		a.flush()
	}
}
