package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/robfig/cron/v3"

	"pushsync/config"
	"pushsync/internal/init/cache"
	"pushsync/internal/init/storage"
	"pushsync/internal/modules/host"
	hostC "pushsync/internal/modules/hostapi/controller"
	"pushsync/internal/modules/ledger"
	ledgerCache "pushsync/internal/modules/ledger/repo/cache"
	ledgerLevel "pushsync/internal/modules/ledger/repo/leveldb"
	ledgerMemory "pushsync/internal/modules/ledger/repo/memory"
	"pushsync/internal/modules/lifecycle"
	"pushsync/internal/session"
	"pushsync/pkg/lib/securestore"
	"pushsync/pkg/middleware/auth"
	"pushsync/pkg/middleware/logger"
)

const (
	passphraseEnv = "PUSHSYNC_STORE_PASSPHRASE"
	inboxSize     = 100
)

type App struct {
	Cache   *cache.Cache
	Session *session.Session
	Inbox   *host.Inbox
	Router  chi.Router
	Log     *slog.Logger
	Cfg     *config.Config
	Cron    *cron.Cron
}

func NewApp(cfg *config.Config, log *slog.Logger) (*App, error) {
	app := &App{
		Router: chi.NewRouter(),
		Log:    log,
		Cfg:    cfg,
	}

	store, err := app.ledgerStore()
	if err != nil {
		return nil, fmt.Errorf("ledger store init failed: %w", err)
	}

	var secure lifecycle.SecureStore
	if passphrase := os.Getenv(passphraseEnv); passphrase != "" {
		f, err := securestore.OpenFile(cfg.SecureStore.Path, passphrase, log)
		if err != nil {
			return nil, fmt.Errorf("secure store init failed: %w", err)
		}
		secure = f
	} else {
		log.Warn("secure store passphrase not set, token kept in memory only", slog.String("env", passphraseEnv))
		secure = securestore.NewMemory()
	}

	app.Inbox = host.NewInbox(inboxSize, cfg.Display.PermissionGranted, log)

	sess, err := session.New(cfg, session.Deps{
		Store:     store,
		Secure:    secure,
		Executor:  host.NewExecutor(cfg.Lifecycle.GrantBudget, log),
		Presenter: app.Inbox,
		Opener:    host.NewLogOpener(log),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("session init failed: %w", err)
	}
	app.Session = sess

	cronScheduler := cron.New()
	_, err = cronScheduler.AddFunc(cfg.TokenSync.Schedule, func() {
		if err := sess.ReloadToken(); err != nil {
			log.Warn("token sync failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("cron init failed: %w", err)
	}
	app.Cron = cronScheduler

	return app, nil
}

func (app *App) ledgerStore() (ledger.Store, error) {
	switch strings.ToLower(app.Cfg.Ledger.Backend) {
	case "leveldb":
		st, err := storage.NewStorage(app.Cfg.Ledger.Path)
		if err != nil {
			return nil, err
		}
		return ledgerLevel.NewLedgerLevel(st.Db, app.Log), nil
	case "redis":
		c, err := cache.NewCache(app.Cfg.CacheConfig)
		if err != nil {
			return nil, err
		}
		app.Cache = c
		return ledgerCache.NewLedgerCache(c, app.Cfg.Ledger.RedisKey, app.Log), nil
	case "memory", "":
		return ledgerMemory.NewLedgerMemory(), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", app.Cfg.Ledger.Backend)
	}
}

func (app *App) Start() error {
	ctx := context.Background()
	if err := app.Session.Start(ctx); err != nil {
		return fmt.Errorf("session start failed: %w", err)
	}
	app.Cron.Start()

	srv := &http.Server{
		Addr:         app.Cfg.ControlAPI.Address,
		Handler:      app.Router,
		ReadTimeout:  app.Cfg.ControlAPI.Timeout,
		WriteTimeout: app.Cfg.ControlAPI.Timeout,
		IdleTimeout:  app.Cfg.ControlAPI.IdleTimeout,
	}

	serverShutdown := make(chan error, 1)
	go func() {
		addr := app.Cfg.ControlAPI.Address
		app.Log.Info("control api starting", slog.String("address", addr))
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Log.Error("control api run failed", slog.String("error", err.Error()))
			serverShutdown <- err
			return
		}
		app.Log.Info("control api closed")
		serverShutdown <- nil
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case err := <-serverShutdown:
		if err != nil {
			runErr = fmt.Errorf("server runtime error: %w", err)
		}
	case sig := <-quit:
		app.Log.Info("Received OS signal, initiating graceful shutdown...", slog.String("signal", sig.String()))
	}

	app.Log.Info("Stopping cron scheduler...")
	cronCtx := app.Cron.Stop()
	select {
	case <-cronCtx.Done():
		app.Log.Info("Cron scheduler stopped.")
	case <-time.After(3 * time.Second):
		app.Log.Warn("Cron scheduler stop timed out.")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Log.Error("Server graceful shutdown failed", slog.String("error", err.Error()))
	}

	if err := app.Session.Close(); err != nil {
		app.Log.Error("session close failed", slog.String("error", err.Error()))
	}
	if app.Cache != nil {
		_ = app.Cache.Close()
	}
	app.Log.Info("pushsyncd stopped")
	return runErr
}

func (app *App) SetupRoutes() {
	app.Router.Use(
		middleware.Recoverer,
		middleware.RequestID,
		logger.New(app.Log),
		cors.Handler(cors.Options{
			AllowedOrigins: app.Cfg.ControlAPI.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}),
		httprate.LimitByIP(app.Cfg.ControlAPI.RatePerMinute, time.Minute),
	)

	apiVersion := "/v1"
	keyAuth := auth.NewKeyAuth(app.Cfg.ControlAPI.Key, app.Log)
	hostCtrl := hostC.NewHostController(app.Session, app.Inbox, app.Log)

	app.Router.Route(apiVersion, func(r chi.Router) {
		r.Use(keyAuth)
		r.Get("/status", hostCtrl.Status)
		r.Post("/lifecycle/{event}", hostCtrl.Lifecycle)
		r.Post("/connection/{action}", hostCtrl.Connection)

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", hostCtrl.Notifications)
			r.Post("/deliver", hostCtrl.Deliver)
			r.Post("/interaction", hostCtrl.Interaction)
		})

		r.Put("/token", hostCtrl.SetToken)
		r.Delete("/token", hostCtrl.ClearToken)
	})
}

func main() {
	cfg := config.MustLoad()
	log := SetupLogger(cfg.Env)
	slog.SetDefault(log)

	app, err := NewApp(cfg, log)
	if err != nil {
		log.Error("app init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	app.SetupRoutes()

	if err := app.Start(); err != nil {
		log.Error("application terminated with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func SetupLogger(env string) *slog.Logger {
	var log *slog.Logger
	level := slog.LevelInfo
	switch strings.ToLower(env) {
	case "local", "dev", "development":
		level = slog.LevelDebug
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level, AddSource: true}))
	case "prod", "production":
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level, AddSource: true}))
	default:
		level = slog.LevelDebug
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level, AddSource: true}))
		log.Warn("Unknown environment in SetupLogger, defaulting to 'local' text debug logger", slog.String("env", env))
	}
	return log
}
