// Package app wires the site together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/rappterbook/internal/auth"
	"github.com/ibeckermayer/rappterbook/internal/cache"
	"github.com/ibeckermayer/rappterbook/internal/config"
	"github.com/ibeckermayer/rappterbook/internal/page"
	"github.com/ibeckermayer/rappterbook/internal/platform"
	"github.com/ibeckermayer/rappterbook/internal/router"
	"github.com/ibeckermayer/rappterbook/internal/scheduler"
	"github.com/ibeckermayer/rappterbook/internal/server"
	"github.com/ibeckermayer/rappterbook/internal/store"
	"github.com/ibeckermayer/rappterbook/internal/view"
)

const (
	pollJob  = "poll"
	pruneJob = "prune-sessions"

	pruneInterval = time.Hour
)

// App holds the application state.
type App struct {
	mu     sync.RWMutex
	config *config.Config // replaced by ReloadConfig
	path   string

	logger    *zap.Logger
	store     *store.Store
	client    *platform.Client
	ctrl      *page.Controller
	server    *server.Server
	scheduler *scheduler.Scheduler
	now       func() time.Time
}

// NewLogger builds the process logger. Verbose forces debug level.
func NewLogger(cfg config.LogConfig, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// New builds every component from cfg. path is the config file watched for
// reloads; empty disables watching.
func New(cfg *config.Config, path string, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := platform.NewClient(platform.Options{
		Owner:             cfg.Platform.Owner,
		Repo:              cfg.Platform.Repo,
		Branch:            cfg.Platform.Branch,
		RawBaseURL:        cfg.Platform.RawBaseURL,
		APIBaseURL:        cfg.Platform.APIBaseURL,
		GraphQLURL:        cfg.Platform.GraphQLURL,
		Timeout:           cfg.Platform.RequestTimeout.Duration,
		RequestsPerSecond: cfg.Platform.RequestsPerSecond,
		Burst:             cfg.Platform.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("platform client: %w", err)
	}

	dbPath, err := cfg.StorePath()
	if err != nil {
		return nil, fmt.Errorf("store path: %w", err)
	}
	sessions, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	publicURL := strings.TrimRight(cfg.Server.PublicURL, "/")
	authMgr := auth.NewManager(sessions, client, auth.Options{
		AuthorizeURL: cfg.Auth.AuthorizeURL,
		ExchangeURL:  cfg.Auth.ExchangeURL,
		ClientID:     cfg.Auth.ClientID,
		CallbackURL:  publicURL + "/auth/callback",
		Scope:        cfg.Auth.Scope,
		Timeout:      cfg.Platform.RequestTimeout.Duration,
	}, logger)

	renderer, err := view.New()
	if err != nil {
		sessions.Close()
		return nil, fmt.Errorf("load templates: %w", err)
	}

	ctrl, err := page.NewController(router.Default(), client, cache.New(cfg.Feed.CacheTTL.Duration), renderer, authMgr, controllerOptions(cfg), logger)
	if err != nil {
		sessions.Close()
		return nil, err
	}

	srv := server.New(ctrl, authMgr, auth.NewCookieJar(cfg.Server.SecureCookies), renderer, server.Options{
		Addr:          cfg.Server.Addr,
		PublicURL:     publicURL,
		WaitForRender: cfg.Server.WaitForRender.Duration,
		PollInterval:  cfg.Feed.PollInterval.Duration,
	}, logger)

	sched, err := scheduler.New("", logger)
	if err != nil {
		sessions.Close()
		return nil, err
	}

	a := &App{
		config:    cfg,
		path:      path,
		logger:    logger,
		store:     sessions,
		client:    client,
		ctrl:      ctrl,
		server:    srv,
		scheduler: sched,
		now:       time.Now,
	}
	if err := sched.AddIntervalJob(pollJob, cfg.Feed.PollInterval.Duration, ctrl.Poll); err != nil {
		sessions.Close()
		return nil, err
	}
	if err := sched.AddIntervalJob(pruneJob, pruneInterval, a.PruneSessions); err != nil {
		sessions.Close()
		return nil, err
	}
	return a, nil
}

func controllerOptions(cfg *config.Config) page.Options {
	return page.Options{
		PageSize:       cfg.Feed.PageSize,
		GhostThreshold: cfg.Feed.GhostThreshold.Duration,
		RenderTimeout:  cfg.Server.RenderTimeout.Duration,
	}
}

// Config returns the active configuration.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config
}

// Controller returns the page controller.
func (a *App) Controller() *page.Controller { return a.ctrl }

// Handler returns the HTTP handler, for embedding or tests.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Run serves until ctx is done. The scheduler and config watcher run
// alongside the server and stop with it.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	a.scheduler.Start()
	defer func() { <-a.scheduler.Stop().Done() }()

	g.Go(func() error { return a.server.Run(ctx) })
	if a.path != "" {
		g.Go(func() error { return config.Watch(ctx, a.path, a.logger, a.ReloadConfig) })
	}
	return g.Wait()
}

// ReloadConfig applies the settings that can change at runtime: page size,
// ghost threshold, render timeout and poll interval. Everything else needs
// a restart.
func (a *App) ReloadConfig(cfg *config.Config) {
	a.mu.Lock()
	prev := a.config
	a.config = cfg
	a.mu.Unlock()

	a.ctrl.Configure(controllerOptions(cfg))
	if cfg.Feed.PollInterval != prev.Feed.PollInterval {
		if err := a.scheduler.AddIntervalJob(pollJob, cfg.Feed.PollInterval.Duration, a.ctrl.Poll); err != nil {
			a.logger.Warn("failed to reschedule poll", zap.Error(err))
		}
	}
	if cfg.Server.Addr != prev.Server.Addr || cfg.Platform != prev.Platform {
		a.logger.Warn("server and platform settings apply after restart")
	}
	a.logger.Info("configuration reloaded",
		zap.Int("page_size", cfg.Feed.PageSize),
		zap.Duration("ghost_threshold", cfg.Feed.GhostThreshold.Duration))
}

// PruneSessions drops stored sessions and screens idle past the session TTL.
func (a *App) PruneSessions(ctx context.Context) error {
	ttl := a.Config().Store.SessionTTL.Duration
	if ttl <= 0 {
		return nil
	}
	cutoff := a.now().Add(-ttl)
	n, err := a.store.Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune sessions: %w", err)
	}
	evicted := a.ctrl.Screens().Evict(cutoff)
	if n > 0 || evicted > 0 {
		a.logger.Info("pruned idle sessions", zap.Int64("stored", n), zap.Int("screens", evicted))
	}
	return nil
}

// Close releases the session store.
func (a *App) Close() error {
	return a.store.Close()
}
