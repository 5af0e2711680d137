package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pressly/goose/v3"

	"github.com/keeply/keeply-backend/pkg/logger"
)

// DefaultDir is where `migrate -cmd=create` writes new files.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Embedded returns the migrations compiled into the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Source prefers an on-disk directory when one is given.
func Source(dir string) fs.FS {
	if dir == "" {
		return Embedded()
	}
	return os.DirFS(dir)
}

// Runner applies goose migrations against Postgres.
type Runner struct {
	provider *goose.Provider
	logg     *logger.Logger
}

func NewRunner(db *sql.DB, migrations fs.FS, logg *logger.Logger) (*Runner, error) {
	if db == nil {
		return nil, errors.New("migrate: db is required")
	}
	if logg == nil {
		return nil, errors.New("migrate: logger is required")
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		return nil, fmt.Errorf("migrate: open goose provider: %w", err)
	}
	return &Runner{provider: provider, logg: logg}, nil
}

func (r *Runner) Run(ctx context.Context, command string) error {
	var (
		results []*goose.MigrationResult
		err     error
	)
	switch command {
	case "up":
		results, err = r.provider.Up(ctx)
	case "down":
		var res *goose.MigrationResult
		res, err = r.provider.Down(ctx)
		results = append(results, res)
	case "redo":
		var down, up *goose.MigrationResult
		if down, err = r.provider.Down(ctx); err == nil {
			up, err = r.provider.UpByOne(ctx)
		}
		results = append(results, down, up)
	case "status":
		return r.status(ctx)
	default:
		return fmt.Errorf("migrate: unknown command %q", command)
	}
	r.report(ctx, results)
	if err != nil {
		return fmt.Errorf("migrate: goose %s: %w", command, err)
	}
	return nil
}

// To moves the schema up or down until it sits at version.
func (r *Runner) To(ctx context.Context, version int64) error {
	current, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("migrate: read db version: %w", err)
	}
	var results []*goose.MigrationResult
	switch {
	case current == version:
		return nil
	case current < version:
		results, err = r.provider.UpTo(ctx, version)
	default:
		results, err = r.provider.DownTo(ctx, version)
	}
	r.report(ctx, results)
	if err != nil {
		return fmt.Errorf("migrate: move %d -> %d: %w", current, version, err)
	}
	return nil
}

func (r *Runner) status(ctx context.Context) error {
	statuses, err := r.provider.Status(ctx)
	if err != nil {
		return fmt.Errorf("migrate: status: %w", err)
	}
	for _, st := range statuses {
		fields := map[string]any{"version": st.Source.Version, "path": st.Source.Path, "state": string(st.State)}
		if !st.AppliedAt.IsZero() {
			fields["applied_at"] = st.AppliedAt
		}
		r.logg.Info(r.logg.WithFields(ctx, fields), "migrate.status")
	}
	return nil
}

func (r *Runner) report(ctx context.Context, results []*goose.MigrationResult) {
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		r.logg.Info(r.logg.WithFields(ctx, map[string]any{
			"version":     res.Source.Version,
			"direction":   res.Direction,
			"duration_ms": res.Duration.Milliseconds(),
		}), "migrate.applied")
	}
}
