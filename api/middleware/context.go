package middleware

import (
	"context"

	"github.com/keeply/keeply-backend/internal/membership"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxCaller contextKey = "caller"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

// CallerFromContext returns the authenticated caller. The zero Caller is
// returned for anonymous requests.
func CallerFromContext(ctx context.Context) membership.Caller {
	if ctx == nil {
		return membership.Caller{}
	}
	if v, ok := ctx.Value(ctxCaller).(membership.Caller); ok {
		return v
	}
	return membership.Caller{}
}

// WithCaller injects the authenticated caller into the context.
func WithCaller(ctx context.Context, caller membership.Caller) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxUserID, caller.UserID)
	return context.WithValue(ctx, ctxCaller, caller)
}
