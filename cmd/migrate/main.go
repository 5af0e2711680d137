package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/keeply/keeply-backend/internal/bootstrap"
	"github.com/keeply/keeply-backend/pkg/config"
	"github.com/keeply/keeply-backend/pkg/db"
	"github.com/keeply/keeply-backend/pkg/logger"
	"github.com/keeply/keeply-backend/pkg/migrate"
)

func main() {
	cmd := flag.String("cmd", "up", "up|down|redo|status|version|create|validate")
	dir := flag.String("dir", "", "migrations directory (defaults to the embedded set; create writes to "+migrate.DefaultDir+")")
	name := flag.String("name", "", "migration name for -cmd=create")
	target := flag.String("version", "", "target YYYYMMDDHHMMSS for -cmd=version")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logg := bootstrap.NewLogger("migrate", cfg.App)
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": *cmd})

	if err := run(ctx, cfg, logg, *cmd, *dir, *name, *target); err != nil {
		logg.Error(ctx, "migrate.failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migrate.finished")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, cmd, dir, name, target string) error {
	switch cmd {
	case "create":
		if dir == "" {
			dir = migrate.DefaultDir
		}
		path, err := migrate.Create(dir, name, time.Now())
		if err != nil {
			return err
		}
		logg.Info(logg.WithField(ctx, "path", path), "migrate.created")
		return nil
	case "validate":
		return migrate.Validate(migrate.Source(dir))
	}

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer client.Close()
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("unwrap sql.DB: %w", err)
	}
	runner, err := migrate.NewRunner(sqlDB, migrate.Source(dir), logg)
	if err != nil {
		return err
	}

	if cmd != "version" {
		return runner.Run(ctx, cmd)
	}
	version, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("-version %q: want YYYYMMDDHHMMSS", target)
	}
	return runner.To(ctx, version)
}
