package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/keeply/keeply-backend/api/controllers"
	"github.com/keeply/keeply-backend/api/routes"
	"github.com/keeply/keeply-backend/internal/bootstrap"
	"github.com/keeply/keeply-backend/internal/mail"
	"github.com/keeply/keeply-backend/pkg/auth"
)

const (
	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func main() {
	proc := bootstrap.Start("api")
	defer proc.Close()
	ctx, stop := proc.Context()
	defer stop()
	cfg, logg := proc.Config, proc.Logger

	dbClient := proc.Database(ctx)
	redisClient := proc.Redis(ctx)

	verifier, err := auth.NewVerifier(cfg.Auth)
	proc.Check(ctx, "token verifier", err)
	sender, err := mail.NewSender(ctx, cfg.Mail, logg)
	proc.Check(ctx, "mail sender", err)

	domain := proc.Domain(ctx, dbClient, mail.NewInviteMailer(sender))

	// Cloud Run injects PORT.
	addr := ":" + cfg.App.Port
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: readHeaderTimeout,
		Handler: routes.NewRouter(routes.Params{
			Config:     cfg,
			Logger:     logg,
			Verifier:   verifier,
			Profiles:   domain.Directory,
			Redis:      redisClient,
			Membership: domain.Membership,
			Avatars:    domain.Avatars,
			Gatherer:   prometheus.DefaultGatherer,
			Ready: map[string]controllers.Pinger{
				"database": dbClient,
				"redis":    redisClient,
				"gcs":      domain.Objects,
			},
		}),
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()
	logg.Info(logg.WithField(ctx, "addr", addr), "api.listening")

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			proc.Fatal(ctx, "api.crashed", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api.shutdown_failed", err)
		}
	}
	logg.Info(context.WithoutCancel(ctx), "api.stopped")
}
