package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keeply/keeply-backend/api/controllers"
	"github.com/keeply/keeply-backend/api/middleware"
	"github.com/keeply/keeply-backend/internal/membership"
	pkgauth "github.com/keeply/keeply-backend/pkg/auth"
	"github.com/keeply/keeply-backend/pkg/config"
	"github.com/keeply/keeply-backend/pkg/logger"
	pkgredis "github.com/keeply/keeply-backend/pkg/redis"
)

type tokenVerifier interface {
	Verify(string) (pkgauth.Identity, error)
}

type redisStore interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
}

// Params carries everything the HTTP surface is built from.
type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	Verifier   tokenVerifier
	Profiles   middleware.ProfileRecorder
	Redis      redisStore
	Membership membership.Service
	Avatars    controllers.AvatarService
	Gatherer   prometheus.Gatherer
	// Ready lists the dependencies probed by /health/ready, keyed by name.
	Ready map[string]controllers.Pinger
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, p.Ready, logg))
	})

	gatherer := p.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	var idem pkgredis.IdempotencyStore
	var limiter interface {
		IncrWithTTL(context.Context, string, time.Duration) (int64, error)
	}
	if p.Redis != nil {
		idem = p.Redis
		limiter = p.Redis
	}
	acceptPolicy := middleware.AcceptRateLimitPolicy(cfg.RateLimit)
	idempotent := middleware.Idempotency(idem, logg, middleware.IdempotencyPolicy{})
	keyRequired := middleware.Idempotency(idem, logg, middleware.IdempotencyPolicy{Required: true})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(p.Verifier, p.Profiles, logg))

		r.Route("/families", func(r chi.Router) {
			r.With(idempotent).Post("/", controllers.CreateFamily(p.Membership, logg))
			r.Get("/me", controllers.GetMyFamily(p.Membership, logg))

			r.Route("/{familyId}", func(r chi.Router) {
				r.Get("/", controllers.GetFamilyInfo(p.Membership, logg))
				r.Patch("/", controllers.UpdateFamily(p.Membership, logg))
				r.Delete("/", controllers.DeleteFamily(p.Membership, logg))

				r.Get("/members", controllers.ListMembers(p.Membership, logg))
				r.Delete("/members/{userId}", controllers.RemoveMember(p.Membership, logg))
				r.Put("/members/{userId}/role", controllers.SetMemberRole(p.Membership, logg))
				r.Get("/members/{userId}/avatar", controllers.MemberAvatarViewURL(p.Avatars, logg))

				r.Post("/leave", controllers.LeaveFamily(p.Membership, logg))
				r.With(idempotent).Post("/transfer", controllers.TransferOwnership(p.Membership, logg))

				r.With(keyRequired).Post("/invites", controllers.CreateInvite(p.Membership, logg))
				r.Get("/invites", controllers.ListPendingInvites(p.Membership, logg))
			})
		})

		r.Route("/invites", func(r chi.Router) {
			r.With(middleware.RateLimit(acceptPolicy, limiter, logg)).Post("/accept", controllers.AcceptInvite(p.Membership, logg))
			r.Delete("/{inviteId}", controllers.RevokeInvite(p.Membership, logg))
		})

		r.Route("/me/avatar", func(r chi.Router) {
			r.Post("/upload-url", controllers.AvatarUploadTarget(p.Avatars, logg))
			r.Put("/", controllers.SetAvatar(p.Avatars, logg))
			r.Get("/", controllers.AvatarViewURL(p.Avatars, logg))
		})
	})

	return r
}
