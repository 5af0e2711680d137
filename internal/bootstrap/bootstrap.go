// Package bootstrap holds the start-up sequence shared by every binary:
// environment and config loading, the root logger, infrastructure clients
// and ordered shutdown.
package bootstrap

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/keeply/keeply-backend/pkg/config"
	"github.com/keeply/keeply-backend/pkg/db"
	"github.com/keeply/keeply-backend/pkg/logger"
	"github.com/keeply/keeply-backend/pkg/migrate"
	"github.com/keeply/keeply-backend/pkg/pubsub"
	"github.com/keeply/keeply-backend/pkg/redis"
)

type closer struct {
	name string
	c    io.Closer
}

// Process is one running binary. Clients opened through it are closed in
// reverse order by Close, and by Fatal before the process exits.
type Process struct {
	Kind   string
	Config *config.Config
	Logger *logger.Logger

	closers []closer
	exit    func(int)
}

// Start loads .env (optional) and the KEEPLY_* config, then builds the logger
// the rest of the process uses. A config error is fatal.
func Start(kind string) *Process {
	p := &Process{
		Kind:   kind,
		Logger: logger.New(logger.Options{ServiceName: kind}),
		exit:   os.Exit,
	}
	if err := godotenv.Load(); err != nil {
		p.Logger.Debug(context.Background(), ".env not loaded, using process environment")
	}
	cfg, err := config.Load()
	if err != nil {
		p.Fatal(context.Background(), "config.invalid", err)
	}
	cfg.Service.Kind = kind
	p.Config = cfg
	p.Logger = NewLogger(kind, cfg.App)
	return p
}

func NewLogger(kind string, app config.AppConfig) *logger.Logger {
	return logger.New(logger.Options{
		ServiceName: kind,
		Level:       app.LogLevel,
		WarnStack:   app.LogWarnStack,
		Console:     app.LogConsole,
	})
}

// Context is cancelled on SIGINT or SIGTERM and carries env and service fields.
func (p *Process) Context() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	env := ""
	if p.Config != nil {
		env = p.Config.App.Env
	}
	return p.Logger.WithFields(ctx, map[string]any{"env": env, "serviceKind": p.Kind}), stop
}

func (p *Process) Defer(name string, c io.Closer) {
	p.closers = append(p.closers, closer{name: name, c: c})
}

// Close releases every deferred client, newest first.
func (p *Process) Close() error {
	var errs error
	for i := len(p.closers) - 1; i >= 0; i-- {
		cl := p.closers[i]
		if err := cl.c.Close(); err != nil {
			p.Logger.Error(p.Logger.WithField(context.Background(), "client", cl.name), "shutdown.close_failed", err)
			errs = multierr.Append(errs, err)
		}
	}
	p.closers = nil
	return errs
}

// Fatal logs err, closes what was opened and exits non-zero.
func (p *Process) Fatal(ctx context.Context, msg string, err error) {
	p.Logger.Error(ctx, msg, err)
	_ = p.Close()
	p.exit(1)
}

// Database connects and applies dev migrations when enabled.
func (p *Process) Database(ctx context.Context) *db.Client {
	client, err := db.New(ctx, p.Config.DB, p.Logger)
	if err != nil {
		p.Fatal(ctx, "bootstrap.database_failed", err)
		return nil
	}
	p.Defer("database", client)
	if err := migrate.MaybeRunDev(ctx, p.Config, p.Logger, client); err != nil {
		p.Fatal(ctx, "bootstrap.dev_migrations_failed", err)
		return nil
	}
	return client
}

func (p *Process) Redis(ctx context.Context) *redis.Client {
	client, err := redis.New(ctx, p.Config.Redis, p.Logger)
	if err != nil {
		p.Fatal(ctx, "bootstrap.redis_failed", err)
		return nil
	}
	p.Defer("redis", client)
	return client
}

func (p *Process) PubSub(ctx context.Context, role pubsub.Role) *pubsub.Client {
	client, err := pubsub.NewClient(ctx, p.Config.GCP, p.Config.PubSub, role, p.Logger)
	if err != nil {
		p.Fatal(ctx, "bootstrap.pubsub_failed", err)
		return nil
	}
	p.Defer("pubsub", client)
	return client
}

// Check is Fatal when err is non-nil.
func (p *Process) Check(ctx context.Context, what string, err error) {
	if err != nil {
		p.Fatal(p.Logger.WithField(ctx, "component", what), "bootstrap.failed", err)
	}
}
