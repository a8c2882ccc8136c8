package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wordgate/apiserver/config"
	"github.com/wordgate/apiserver/internal/alert"
	"github.com/wordgate/apiserver/internal/billing"
	"github.com/wordgate/apiserver/internal/db"
	"github.com/wordgate/apiserver/internal/mq"
	"github.com/wordgate/apiserver/internal/services"
	"github.com/wordgate/apiserver/internal/storage"
	"github.com/wordgate/apiserver/internal/store"
	"github.com/wordgate/apiserver/internal/store/mongo"
	"github.com/wordgate/apiserver/types"
)

var (
	_ services.AccountRepository  = (*store.AccountRepository)(nil)
	_ services.ActivityRepository = (*store.ActivityRepository)(nil)
	_ services.AccountRepository  = (*mongo.AccountRepository)(nil)
	_ services.ActivityRepository = (*mongo.ActivityRepository)(nil)
	_ services.Alerter            = (*alert.Notifier)(nil)
	_ services.Publisher          = (*mq.MQ)(nil)
	_ billing.Accounts            = (*services.AccountService)(nil)
	_ billing.Lifecycle           = (*services.LifecycleService)(nil)
)

// App holds the services and infrastructure shared by the server and the
// CLI commands.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue   *mq.MQ
	Storage *storage.Storage

	Lifecycle  *services.LifecycleService
	Accounts   *services.AccountService
	Quota      *services.QuotaService
	Activities *services.ActivityService
	Billing    *billing.Processor

	notifier *alert.Notifier
	ping     func(context.Context) error
	closers  []func() error
}

// NewApp connects to the configured database, queue and object storage and
// builds the services over them.
func NewApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger}

	accounts, activities, err := app.openDatabase(ctx)
	if err != nil {
		return nil, err
	}

	app.Queue, err = mq.Open(ctx, cfg.MQ)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	if app.Queue != nil {
		app.closers = append(app.closers, app.Queue.Close)
	}

	app.Storage, err = storage.Open(ctx, cfg.Storage)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	if app.Storage != nil {
		app.closers = append(app.closers, app.Storage.Close)
	}

	policy := types.DefaultTierPolicy()
	if err := checkPlans(policy, cfg.Billing.Plans); err != nil {
		_ = app.Close()
		return nil, err
	}

	app.notifier = app.newNotifier()
	opts := []services.Option{
		services.WithLogger(logger),
		services.WithTierPolicy(policy),
		services.WithRewriteTimeout(cfg.Rewrite.Timeout),
		services.WithAlerter(app.notifier),
	}
	if app.Queue != nil {
		opts = append(opts, services.WithPublisher(app.Queue))
	}

	app.Lifecycle = services.NewLifecycleService(accounts, opts...)
	app.Accounts = services.NewAccountService(accounts, app.Lifecycle, opts...)
	app.Quota = services.NewQuotaService(accounts, app.Lifecycle, opts...)
	app.Activities = services.NewActivityService(activities, opts...)
	app.Billing = billing.NewProcessor(app.Accounts, app.Lifecycle, cfg.Billing.Plans, logger.With("component", "billing"))
	return app, nil
}

func (a *App) openDatabase(ctx context.Context) (services.AccountRepository, services.ActivityRepository, error) {
	switch a.Config.Database.Driver {
	case db.DriverMongo:
		ms, err := mongo.Connect(ctx, a.Config.Database.URI, a.Config.Database.DBName)
		if err != nil {
			return nil, nil, err
		}
		a.ping = ms.Ping
		a.closers = append(a.closers, ms.Close)
		return ms.Accounts(), ms.Activities(), nil
	default:
		conn, err := db.Open(ctx, a.Config.Database)
		if err != nil {
			return nil, nil, err
		}
		dialect := store.DialectFor(a.Config.Database.Driver)
		a.ping = conn.PingContext
		a.closers = append(a.closers, conn.Close)
		return store.NewAccountRepository(conn, dialect), store.NewActivityRepository(conn, dialect), nil
	}
}

func (a *App) newNotifier() *alert.Notifier {
	var (
		letters   alert.DeadLetterStore
		publisher alert.Publisher
		mailer    alert.Mailer
	)
	if a.Storage != nil {
		letters = a.Storage
	}
	if a.Queue != nil {
		publisher = a.Queue
	}
	if m := alert.NewSendgridMailer(a.Config.Alert); m != nil {
		mailer = m
	}
	return alert.NewNotifier(a.Logger.With("component", "alert"), letters, publisher, a.Config.Alert.Channel, mailer)
}

// ReplayDeadLetters re-records dead-lettered activities. It is nil when no
// object storage is configured.
func (a *App) ReplayDeadLetters() func(ctx context.Context) (alert.ReplayResult, error) {
	if a.Storage == nil {
		return nil
	}
	return func(ctx context.Context) (alert.ReplayResult, error) {
		return alert.Replay(ctx, a.Logger.With("component", "replay"), a.Storage, a.Activities)
	}
}

// Ping checks the database connection.
func (a *App) Ping(ctx context.Context) error {
	if a.ping == nil {
		return errors.New("database is not connected")
	}
	return a.ping(ctx)
}

// Close releases every connection in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// checkPlans rejects configured plans whose category the policy does not know.
func checkPlans(policy types.TierPolicy, plans []types.Plan) error {
	var errs []error
	for _, p := range plans {
		if _, err := policy.Terms(p.Category); err != nil {
			errs = append(errs, fmt.Errorf("billing plan %q: %w", p.Ref, err))
		}
	}
	return errors.Join(errs...)
}
