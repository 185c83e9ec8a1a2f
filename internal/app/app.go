package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/pinbook/internal/bridge"
	"github.com/MrSnakeDoc/pinbook/internal/cache"
	"github.com/MrSnakeDoc/pinbook/internal/config"
	"github.com/MrSnakeDoc/pinbook/internal/httpserver"
	"github.com/MrSnakeDoc/pinbook/internal/httpserver/deps"
	"github.com/MrSnakeDoc/pinbook/internal/linking"
	"github.com/MrSnakeDoc/pinbook/internal/logger"
	"github.com/MrSnakeDoc/pinbook/internal/offline"
	"github.com/MrSnakeDoc/pinbook/internal/prefs"
	"github.com/MrSnakeDoc/pinbook/internal/redis"
	"github.com/MrSnakeDoc/pinbook/internal/scheduler"
	"github.com/MrSnakeDoc/pinbook/internal/session"
	"github.com/MrSnakeDoc/pinbook/internal/storage"
	"github.com/MrSnakeDoc/pinbook/internal/telegram"
	"github.com/MrSnakeDoc/pinbook/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	db          *storage.DB
	redisClient *goredis.Client
	sessions    *session.Manager
	telegram    *telegram.Client
	drainer     *scheduler.QueueDrainer
	probe       *scheduler.ConnectivityProbe
	gc          *scheduler.GarbageCollector
}

func New() (*App, error) {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	// Local state first: nothing works without the database
	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	res, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	loggerClient.Info("database ready",
		logger.String("path", cfg.DBPath),
		logger.Int("schema_version", int(res.Version)),
		logger.Bool("migrated", res.Changed))

	cacheKV, err := db.Bucket(storage.BucketCache)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshotKV, err := db.Bucket(storage.BucketSnapshots)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshots := storage.NewSnapshots(snapshotKV, time.Now)
	swr := cache.New(cacheKV, snapshots, cache.Options{
		MaxAge:         cfg.CacheMaxAge,
		StaleWindow:    cfg.CacheStaleWindow,
		RefreshTimeout: cfg.PinboardTimeout,
		Logger:         loggerClient,
	})

	state, err := prefs.Open(cfg.StateFile)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open state file: %w", err)
	}

	probeClient := &http.Client{Timeout: cfg.ProbeTimeout}
	monitor := offline.NewMonitor(offline.HTTPProber(probeClient, cfg.PinboardBaseURL), loggerClient)

	sessions := session.NewManager(session.Options{
		PinboardBaseURL: cfg.PinboardBaseURL,
		PinboardTimeout: cfg.PinboardTimeout,
		SnapshotMaxAge:  cfg.SnapshotMaxAge,
		QueueMaxRetries: cfg.QueueMaxRetries,
		Cache:           swr,
		Snapshots:       snapshots,
		Queue:           db.Queue(),
		Monitor:         monitor,
		Prefs:           state,
		Logger:          loggerClient,
	})
	if s, ok, err := sessions.Restore(); err != nil {
		loggerClient.Warn("failed to restore saved session", logger.Error(err))
	} else if ok {
		loggerClient.Info("restored saved session", logger.String("user", s.Username))
	}

	a := &App{
		cfg:      cfg,
		logger:   loggerClient,
		db:       db,
		sessions: sessions,
	}

	// Linking store: Redis when configured, process memory otherwise
	var (
		store       linking.Store
		sweeper     scheduler.Sweeper
		linkingMode string
	)
	if cfg.RedisEnabled() {
		loggerClient.Infof("Connecting to Redis at %s", cfg.RedisAddr)
		client, err := redis.New(redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			RedisDB:        cfg.RedisDB,
			DialTimeout:    cfg.RedisDT,
			ReadTimeout:    cfg.RedisRT,
			WriteTimeout:   cfg.RedisWT,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
			WarnThreshold:  cfg.RedisWarnThreshold,
		}, loggerClient)
		if err != nil {
			a.closeStorage()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.redisClient = client
		store = linking.NewRedisStore(client)
		linkingMode = "redis"
	} else {
		mem := linking.NewMemoryStore(time.Now)
		store, sweeper = mem, mem
		linkingMode = "memory"
		loggerClient.Warn("redis not configured, chat links are kept in memory and lost on restart")
	}

	var handler deps.UpdateHandler
	if cfg.TelegramEnabled() {
		tg, err := telegram.NewClient(cfg.TelegramAPIURL, cfg.TelegramBotToken, cfg.TelegramTimeout)
		if err != nil {
			a.closeStorage()
			return nil, fmt.Errorf("telegram client: %w", err)
		}
		a.telegram = tg
		handler = bridge.New(bridge.Options{
			Store:  store,
			Sender: tg,
			Clients: func(credential string) (bridge.Saver, error) {
				c, err := sessions.Client(credential)
				if err != nil {
					return nil, err
				}
				return c, nil
			},
			Titles: bridge.NewTitleFetcher(cfg.TitleFetchTimeout),
			Logger: loggerClient,
		})
		loggerClient.Info("telegram bridge enabled", logger.String("bot", cfg.TelegramBotUsername))
	} else {
		loggerClient.Info("telegram bot token not configured, chat bridge disabled")
	}

	drainTrigger := make(chan struct{}, 1)
	a.drainer = scheduler.NewQueueDrainer(sessions, monitor, loggerClient, cfg.QueueDrainInterval, drainTrigger)
	a.probe = scheduler.NewConnectivityProbe(monitor, loggerClient, cfg.ProbeInterval, cfg.ProbeTimeout)
	a.gc = scheduler.NewGarbageCollector(swr, sweeper, loggerClient, cfg.GCInterval)

	d := deps.Deps{
		Logger:         loggerClient,
		StartTime:      time.Now(),
		Version:        version.Version,
		Commit:         version.Commit,
		BuildDate:      version.BuildDate,
		GoVersion:      version.GoVersion,
		TimeNow:        time.Now,
		AllowedHosts:   cfg.AllowedHosts,
		AllowedCIDRS:   cfg.AllowedCIDRS,
		TrustProxy:     cfg.TrustProxy,
		Sessions:       sessions,
		Prefs:          state,
		Monitor:        monitor,
		Linking:        store,
		Bridge:         handler,
		BotUsername:    cfg.TelegramBotUsername,
		WebhookSecret:  cfg.TelegramWebhookSecret,
		WebhookTimeout: cfg.WebhookTimeout,
		DrainTrigger:   drainTrigger,
		LinkingMode:    linkingMode,
		Checks: []deps.Check{
			{Name: "storage", Ping: db.PingContext},
			{Name: "linking", Ping: store.Ping},
		},
	}

	a.server = httpserver.New(cfg, loggerClient, d)
	return a, nil
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting Pinbook v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("Pinbook %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.telegram != nil && a.cfg.TelegramWebhookURL != "" {
		hookCtx, cancel := context.WithTimeout(ctx, a.cfg.TelegramTimeout)
		err := a.telegram.SetWebhook(hookCtx, a.cfg.TelegramWebhookURL, a.cfg.TelegramWebhookSecret)
		cancel()
		if err != nil {
			// updates can still be delivered to a webhook registered earlier
			a.logger.Warn("failed to register telegram webhook", logger.Error(err))
		} else {
			a.logger.Info("telegram webhook registered", logger.String("url", a.cfg.TelegramWebhookURL))
		}
	}

	if err := a.probe.Start(ctx); err != nil {
		return fmt.Errorf("failed to start connectivity probe: %w", err)
	}
	a.logger.Info("connectivity probe started",
		logger.Duration("interval", a.cfg.ProbeInterval))

	if err := a.drainer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue drainer: %w", err)
	}
	a.logger.Info("queue drainer started",
		logger.Duration("interval", a.cfg.QueueDrainInterval))

	if err := a.gc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start garbage collector: %w", err)
	}
	a.logger.Info("garbage collector started",
		logger.Duration("interval", a.cfg.GCInterval))

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		a.shutdown()
		return err
	}

	a.probe.Stop()
	a.drainer.Stop()
	a.gc.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	a.shutdown()
	a.logger.Info("✅ Pinbook stopped cleanly")
	_ = a.logger.Sync()
	return nil
}

// shutdown releases sessions and storage once no request can reach them.
func (a *App) shutdown() {
	a.sessions.Close()
	a.closeStorage()
}

func (a *App) closeStorage() {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warnf("failed to close database: %v", err)
	}
}
