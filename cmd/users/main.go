package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	users "github.com/homeharmony/go-users"
	"github.com/homeharmony/go-users/bus"
	"github.com/homeharmony/go-users/config"
	"github.com/homeharmony/go-users/provider/cognito"
	"github.com/homeharmony/go-users/relay"
	"github.com/homeharmony/go-users/repository"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

// App holds the long lived service dependencies.
type App struct {
	config *config.Config
	logger *zap.Logger

	db     *bun.DB
	repo   users.RepositoryManager
	keys   *cognito.KeyCache
	broker bus.Broker
	relay  *relay.Relay
	srv    *fiber.App
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()

	app := &App{config: cfg, logger: logger}
	defer app.Close()

	if err := WithPersistence(ctx, app); err != nil {
		return err
	}
	if err := WithBroker(app); err != nil {
		return err
	}
	if err := WithHTTPServer(app); err != nil {
		return err
	}

	return app.Serve(ctx)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if !cfg.IsProduction() {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse LOG_LEVEL: %w", err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger.Named("users"))
	return logger, nil
}

// WithPersistence opens the user store.
func WithPersistence(ctx context.Context, app *App) error {
	db, repo, err := repository.Setup(ctx, app.config.Repository())
	if err != nil {
		return fmt.Errorf("setup repository: %w", err)
	}
	app.db = db
	app.repo = repo
	return nil
}

// WithBroker connects the message bus. The "none" driver disables the relay.
func WithBroker(app *App) error {
	switch strings.ToLower(app.config.Bus.Driver) {
	case "kafka":
		kcfg := app.config.Kafka()
		kcfg.Logger = users.NewZapLoggerNamed(app.logger, "bus.kafka")
		broker, err := bus.NewKafka(kcfg)
		if err != nil {
			return err
		}
		app.broker = broker
	case "memory":
		app.broker = bus.NewMemory()
	default:
		app.logger.Warn("message bus disabled, relay not started")
	}
	return nil
}

// WithHTTPServer wires the provider, the reconciler and the routes.
func WithHTTPServer(app *App) error {
	cfg := app.config
	providerCfg := cfg.CognitoProvider()

	keys, err := cognito.NewKeyCache(providerCfg)
	if err != nil {
		return err
	}
	app.keys = keys.WithLogger(users.NewZapLoggerNamed(app.logger, "cognito.keys"))

	validator, err := cognito.NewTokenValidator(providerCfg, app.keys)
	if err != nil {
		return err
	}
	validator.WithLogger(users.NewZapLoggerNamed(app.logger, "cognito.tokens"))

	provider, err := cognito.NewIdentityProvider(providerCfg)
	if err != nil {
		return err
	}

	reconciler := users.NewReconciler(app.repo.Users()).
		WithLogger(users.NewZapLoggerNamed(app.logger, "reconciler"))

	if app.broker != nil {
		reconciler.WithActivitySink(relay.NewIdentityEvents(app.broker).
			WithLogger(users.NewZapLoggerNamed(app.logger, "relay.events")))

		app.relay = relay.New(app.broker, app.broker, validator, reconciler, app.repo.Users(),
			relay.WithLogger(users.NewZapLoggerNamed(app.logger, "relay")),
		)
	}

	sessionOpts := []users.SessionOption{
		users.WithSessionLogger(users.NewZapLoggerNamed(app.logger, "session")),
	}
	if cfg.SessionAutoProvision {
		sessionOpts = append(sessionOpts, users.WithAutoProvision(reconciler))
	}
	sessions := users.NewSessionManager(validator, app.repo.Users(), sessionOpts...)

	cookies := users.CookieConfig{Secure: cfg.CookieSecure}
	auth := users.NewAuthController(provider, reconciler, users.NewStateCodec(cfg.SessionSecret),
		users.WithAuthCookies(cookies),
		users.WithHomeURL(cfg.AppHomeURL),
		users.WithAuthLogger(users.NewZapLoggerNamed(app.logger, "auth")),
	)
	controller := users.NewUsersController(app.repo.Users(), users.NewZapLoggerNamed(app.logger, "users"))

	app.srv = fiber.New(fiber.Config{
		AppName:               "users",
		DisableStartupMessage: true,
		ErrorHandler:          users.NewErrorHandler(users.NewZapLoggerNamed(app.logger, "http")),
	})
	app.srv.Use(recover.New())
	users.RegisterRoutes(app.srv, auth, controller, users.SessionMiddleware(sessions, cookies.SessionName))

	return nil
}

// Serve runs the HTTP listener and the relay until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("http server listening", zap.String("addr", a.config.HTTPAddr))
		if err := a.srv.Listen(a.config.HTTPAddr); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.relay != nil {
		g.Go(func() error {
			if err := a.relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("relay: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down")
		return a.srv.ShutdownWithTimeout(a.config.ShutdownTimeout)
	})

	return g.Wait()
}

// Close releases the dependencies opened during startup.
func (a *App) Close() {
	if a.keys != nil {
		a.keys.Close()
	}
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			a.logger.Warn("close message bus", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close database", zap.Error(err))
		}
	}
}
