package main

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docpipe/internal/broadcast"
	"github.com/sells-group/docpipe/internal/cache"
	"github.com/sells-group/docpipe/internal/ocr"
	"github.com/sells-group/docpipe/internal/pipeline"
	"github.com/sells-group/docpipe/internal/preprocess"
	"github.com/sells-group/docpipe/internal/queue"
	"github.com/sells-group/docpipe/internal/resilience"
	"github.com/sells-group/docpipe/internal/session"
	"github.com/sells-group/docpipe/internal/store"
)

// appEnv holds the wired pipeline components shared by the serve and
// process commands.
type appEnv struct {
	Store       store.Store
	Cache       cache.Cache
	Broadcaster *broadcast.Broadcaster
	Sessions    *session.Store
	Queue       *queue.Queue
	Executor    *pipeline.Executor
}

// Close stops the workers and releases held resources.
func (a *appEnv) Close() {
	if a.Queue != nil {
		a.Queue.Stop()
	}
	if a.Broadcaster != nil {
		a.Broadcaster.Close()
	}
	if a.Sessions != nil {
		a.Sessions.Close()
	}
	if c, ok := a.Cache.(io.Closer); ok {
		_ = c.Close()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
}

// initApp sets up the store, cache, broadcaster, session store, OCR engine,
// and job queue, and starts the workers. Callers should defer env.Close().
func initApp(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	// The database may still be coming up alongside the service.
	migrateRetry := resilience.DefaultRetryConfig()
	migrateRetry.ShouldRetry = func(error) bool { return true }
	migrateRetry.OnRetry = resilience.RetryLogger("store", "migrate")
	if err := resilience.Do(ctx, migrateRetry, st.Migrate); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	resultCache, err := initCache(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	engine, err := ocr.NewEngine(cfg.OCR)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	if err := os.MkdirAll(cfg.Pipeline.WorkDir, 0o755); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "create work dir")
	}

	broadcaster := broadcast.New(broadcast.Options{
		HeartbeatInterval: cfg.Broadcast.HeartbeatInterval,
		CloseGrace:        cfg.Broadcast.CloseGrace,
		SubscriberBuffer:  cfg.Broadcast.SubscriberBuffer,
	})
	sessions := session.NewStore(cfg.Session.DefaultTTL, cfg.Session.JanitorInterval)
	pre := preprocess.New(cfg.Pipeline.WorkDir)
	pre.PdftoppmPath = cfg.Pipeline.PdftoppmPath

	executor := pipeline.NewExecutor(st, resultCache, broadcaster, sessions, engine, pre, cfg)

	q := queue.New(st, executor, broadcaster, cfg.Queue)
	if err := q.Start(ctx); err != nil {
		broadcaster.Close()
		sessions.Close()
		_ = st.Close()
		return nil, eris.Wrap(err, "start queue")
	}

	return &appEnv{
		Store:       st,
		Cache:       resultCache,
		Broadcaster: broadcaster,
		Sessions:    sessions,
		Queue:       q,
		Executor:    executor,
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "docpipe.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initCache(ctx context.Context) (cache.Cache, error) {
	if cfg.Cache.RedisURL != "" {
		c, err := cache.NewRedis(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return nil, eris.Wrap(err, "init redis cache")
		}
		zap.L().Info("redis result cache enabled")
		return c, nil
	}
	return cache.NewMemory(cfg.Cache.MaxEntries), nil
}
