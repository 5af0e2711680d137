package middleware

import (
	"net/http"

	"github.com/go-chi/cors"

	"github.com/keeply/keeply-backend/pkg/config"
)

// CORS lets the Keeply web app call the API with the caller's bearer token.
func CORS(cfg config.CORSConfig) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:   []string{"Authorization", "Content-Type", IdempotencyHeader, requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader, ReplayedHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           int(cfg.MaxAge.Seconds()),
	})
}
