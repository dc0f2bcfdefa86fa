package jobkit

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/jobkit/pkg/httpserver"
	"github.com/dmitrymomot/jobkit/pkg/job"
	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/pg"
	"github.com/dmitrymomot/jobkit/pkg/pgqueue"
	"github.com/dmitrymomot/jobkit/pkg/queue"
	"github.com/dmitrymomot/jobkit/pkg/redis"
	"github.com/dmitrymomot/jobkit/pkg/redisqueue"
)

const defaultShutdownTimeout = 30 * time.Second

// Runtime bundles an open engine with the logger and work overrides it was
// configured with. Close releases the engine and its connection.
type Runtime struct {
	Engine    queue.Engine
	Logger    *slog.Logger
	Overrides queue.WorkOverrides

	kind EngineKind
	http httpserver.Config

	shutdownTimeout time.Duration
	checks          []func(context.Context) error
	closers         []func() error

	mu       sync.Mutex
	handlers []*job.Handlers
}

// OpenOption customizes Open
type OpenOption func(*openOptions)

type openOptions struct {
	logger     *slog.Logger
	engineOpts []queue.EngineOption
}

// WithLogger replaces the logger Open would build from Config
func WithLogger(l *slog.Logger) OpenOption {
	return func(o *openOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithEngineOptions appends engine options after the ones derived from Config
func WithEngineOptions(opts ...queue.EngineOption) OpenOption {
	return func(o *openOptions) {
		o.engineOpts = append(o.engineOpts, opts...)
	}
}

// Open builds the logger, loads work overrides and opens the engine selected by cfg.
// Postgres engines run the schema migrations before use.
func Open(ctx context.Context, cfg Config, opts ...OpenOption) (*Runtime, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	log := o.logger
	if log == nil {
		var err error
		if log, err = newLogger(cfg); err != nil {
			return nil, errors.Join(ErrFailedToOpen, err)
		}
	}

	rt := &Runtime{
		Logger: log,
		kind:   cfg.Engine,
		http:   cfg.HTTP,

		shutdownTimeout: cmp.Or(cfg.Queue.ShutdownTimeout, defaultShutdownTimeout),
	}

	if path := cfg.Queue.WorkOverridesFile; path != "" {
		overrides, err := queue.LoadWorkOverridesFile(path)
		if err != nil {
			return nil, errors.Join(ErrFailedToOpen, err)
		}
		rt.Overrides = overrides
	}

	engineOpts := append([]queue.EngineOption{
		queue.WithConfig(cfg.Queue),
		queue.WithLogger(log),
	}, o.engineOpts...)

	var err error
	switch cfg.Engine {
	case "", EngineMemory:
		rt.kind = EngineMemory
		engine := queue.NewMemoryEngine(engineOpts...)
		rt.Engine = engine
		rt.closers = append(rt.closers, engine.Close)
	case EnginePostgres:
		err = rt.openPostgres(ctx, cfg.Postgres, engineOpts)
	case EngineRedis:
		err = rt.openRedis(ctx, cfg.Redis, engineOpts)
	default:
		err = fmt.Errorf("%q: %w", cfg.Engine, ErrUnknownEngine)
	}
	if err != nil {
		return nil, errors.Join(ErrFailedToOpen, err)
	}

	log.Info("job runtime opened", slog.String("engine", string(rt.kind)))

	return rt, nil
}

func (rt *Runtime) openPostgres(ctx context.Context, cfg *pg.Config, engineOpts []queue.EngineOption) error {
	if cfg == nil {
		return ErrMissingEngineConfig
	}

	pool, err := pg.Connect(ctx, *cfg)
	if err != nil {
		return err
	}
	if err := pgqueue.Migrate(ctx, pool, cfg.MigrationsTable, rt.Logger); err != nil {
		pool.Close()
		return err
	}

	engine := pgqueue.New(pool, engineOpts...)
	rt.Engine = engine
	rt.checks = append(rt.checks, pg.Healthcheck(pool))
	rt.closers = append(rt.closers, engine.Close, closePool(pool))
	return nil
}

func (rt *Runtime) openRedis(ctx context.Context, cfg *redis.Config, engineOpts []queue.EngineOption) error {
	if cfg == nil {
		return ErrMissingEngineConfig
	}

	client, err := redis.Connect(ctx, *cfg)
	if err != nil {
		return err
	}

	engine := redisqueue.New(client, cfg.KeyPrefix, engineOpts...)
	rt.Engine = engine
	rt.checks = append(rt.checks, redis.Healthcheck(client))
	rt.closers = append(rt.closers, engine.Close, closeClient(client))
	return nil
}

// Kind reports which engine the runtime opened
func (rt *Runtime) Kind() EngineKind {
	return rt.kind
}

// Healthcheck pings the backing store. The memory engine has none and always passes.
func (rt *Runtime) Healthcheck(ctx context.Context) error {
	for _, check := range rt.checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Bootstrap registers handlers with the runtime's engine, logger and work overrides.
// Options given here are applied after those defaults.
func (rt *Runtime) Bootstrap(ctx context.Context, handlers *job.Handlers, opts ...job.BootstrapOption) error {
	defaults := []job.BootstrapOption{
		job.WithLogger(rt.Logger),
		job.WithWorkOverrides(rt.Overrides),
	}
	if err := handlers.Bootstrap(ctx, rt.Engine, append(defaults, opts...)...); err != nil {
		return err
	}

	rt.mu.Lock()
	rt.handlers = append(rt.handlers, handlers)
	rt.mu.Unlock()
	return nil
}

// Handlers returns the metadata of every handler bootstrapped through the
// runtime, with work overrides applied.
func (rt *Runtime) Handlers() []job.Metadata {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	var meta []job.Metadata
	for _, hs := range rt.handlers {
		for _, m := range hs.Metadata() {
			m.WorkOptions = rt.Overrides.Apply(m.JobName, m.WorkOptions)
			meta = append(meta, m)
		}
	}
	return meta
}

// inspector is implemented by the store-backed engines
type inspector interface {
	Job(ctx context.Context, id uuid.UUID) (queue.Job, error)
	Schedules(ctx context.Context) ([]queue.Schedule, error)
}

// Job looks a job up by id in whichever engine is open
func (rt *Runtime) Job(ctx context.Context, id uuid.UUID) (queue.Job, error) {
	switch e := rt.Engine.(type) {
	case *queue.MemoryEngine:
		return e.Job(id)
	case inspector:
		return e.Job(ctx, id)
	default:
		return queue.Job{}, queue.ErrJobNotFound
	}
}

// Schedules lists the cron schedules of the open engine
func (rt *Runtime) Schedules(ctx context.Context) ([]queue.Schedule, error) {
	switch e := rt.Engine.(type) {
	case *queue.MemoryEngine:
		return e.Schedules(), nil
	case inspector:
		return e.Schedules(ctx)
	default:
		return nil, nil
	}
}

// Serve bootstraps handlers and blocks until ctx is cancelled or the process
// receives SIGINT or SIGTERM. With JOBKIT_HTTP_ADDR set it also serves the
// operations endpoints. On return the workers are stopped and the runtime is closed.
func (rt *Runtime) Serve(ctx context.Context, handlers *job.Handlers, opts ...job.BootstrapOption) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rt.Bootstrap(ctx, handlers, opts...); err != nil {
		return errors.Join(err, rt.Close())
	}

	var serveErr error
	if rt.http.Enabled() {
		srv := httpserver.New(rt.http, rt.Logger)
		serveErr = srv.Run(ctx, httpserver.NewRouter(rt, rt.Logger))
	} else {
		<-ctx.Done()
	}

	rt.Logger.Info("shutting down job runtime")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rt.shutdownTimeout)
	defer cancel()

	return errors.Join(serveErr, handlers.Shutdown(shutdownCtx), rt.Close())
}

// Container creates a job container over the runtime's engine and registers providers
func (rt *Runtime) Container(providers ...job.Provider) (*job.Container, error) {
	c, err := job.NewContainer(rt.Engine)
	if err != nil {
		return nil, err
	}
	if err := c.Register(providers...); err != nil {
		return nil, err
	}
	return c, nil
}

// Close stops the engine, then closes its connection
func (rt *Runtime) Close() error {
	var errs []error
	for _, closer := range rt.closers {
		if err := closer(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil

	if err := errors.Join(errs...); err != nil {
		rt.Logger.Error("failed to close job runtime", logger.Error(err))
		return err
	}
	rt.Logger.Info("job runtime closed", slog.String("engine", string(rt.kind)))
	return nil
}

func newLogger(cfg Config) (*slog.Logger, error) {
	opts := []logger.Option{
		logger.WithEnvironment(cfg.Env, cfg.AppName),
		logger.WithContextExtractors(logger.JobExtractor()),
	}

	if cfg.LogFormat != "" {
		format := logger.Format(strings.ToLower(strings.TrimSpace(cfg.LogFormat)))
		if format != logger.FormatJSON && format != logger.FormatText {
			return nil, fmt.Errorf("invalid log format %q", cfg.LogFormat)
		}
		opts = append(opts, logger.WithFormat(format))
	}
	if cfg.LogLevel != "" {
		level, err := logger.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		opts = append(opts, logger.WithLevel(level))
	}

	return logger.New(opts...), nil
}

func closePool(pool *pgxpool.Pool) func() error {
	return func() error {
		pool.Close()
		return nil
	}
}

func closeClient(client goredis.UniversalClient) func() error {
	return client.Close
}
