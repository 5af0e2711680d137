package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/keeply/keeply-backend/api/responses"
	pkgerrors "github.com/keeply/keeply-backend/pkg/errors"
	"github.com/keeply/keeply-backend/pkg/logger"
	pkgredis "github.com/keeply/keeply-backend/pkg/redis"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "Idempotent-Replayed"

	defaultReplayTTL  = 24 * time.Hour
	defaultPendingTTL = time.Minute
	maxKeyLength      = 255
	maxRecordedBody   = 1 << 20
)

// IdempotencyPolicy configures one idempotent route. A zero value accepts an
// optional key and remembers responses for a day.
type IdempotencyPolicy struct {
	Required bool
	TTL      time.Duration
	// PendingTTL bounds how long an in-flight claim blocks retries if the
	// process dies before recording the outcome.
	PendingTTL time.Duration
}

type replayState string

const (
	statePending  replayState = "pending"
	stateComplete replayState = "complete"
)

type replayRecord struct {
	State       replayState `json:"state"`
	Fingerprint string      `json:"fingerprint"`
	Status      int         `json:"status,omitempty"`
	ContentType string      `json:"content_type,omitempty"`
	Body        []byte      `json:"body,omitempty"`
}

// Idempotency claims the caller's key before the handler runs and stores the
// response afterwards. Retries with the same key and body get the stored
// response; a different body, or a retry racing the first attempt, is a
// conflict. Server errors release the claim so the client may retry.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger, policy IdempotencyPolicy) func(http.Handler) http.Handler {
	if policy.TTL <= 0 {
		policy.TTL = defaultReplayTTL
	}
	if policy.PendingTTL <= 0 {
		policy.PendingTTL = defaultPendingTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			switch {
			case key == "" && policy.Required:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, IdempotencyHeader+" header required"))
				return
			case key == "" || store == nil:
				next.ServeHTTP(w, r)
				return
			case len(key) > maxKeyLength:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, IdempotencyHeader+" header too long"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := fingerprintRequest(r, body)
			redisKey := store.IdempotencyKey(UserIDFromContext(ctx)+":"+r.Method+":"+r.URL.Path, key)

			claimed, err := claim(r, store, redisKey, fingerprint, policy.PendingTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency store unavailable"))
				return
			}
			if !claimed {
				existing, err := load(r, store, redisKey)
				if err != nil {
					responses.WriteError(ctx, logg, w, err)
					return
				}
				replay(ctx, logg, w, existing, fingerprint)
				return
			}

			var captured bytes.Buffer
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&captured)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError || captured.Len() > maxRecordedBody {
				if err := store.Del(ctx, redisKey); err != nil && logg != nil {
					logg.Warn(logg.WithField(ctx, "error", err.Error()), "idempotency.release_failed")
				}
				return
			}
			record := replayRecord{
				State:       stateComplete,
				Fingerprint: fingerprint,
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        captured.Bytes(),
			}
			payload, err := json.Marshal(record)
			if err == nil {
				err = store.Set(ctx, redisKey, string(payload), policy.TTL)
			}
			if err != nil && logg != nil {
				logg.Error(ctx, "idempotency.record_failed", err)
			}
		})
	}
}

func claim(r *http.Request, store pkgredis.IdempotencyStore, key, fingerprint string, ttl time.Duration) (bool, error) {
	payload, err := json.Marshal(replayRecord{State: statePending, Fingerprint: fingerprint})
	if err != nil {
		return false, err
	}
	return store.SetNX(r.Context(), key, string(payload), ttl)
}

func load(r *http.Request, store pkgredis.IdempotencyStore, key string) (*replayRecord, error) {
	raw, err := store.Get(r.Context(), key)
	if errors.Is(err, redis.Nil) {
		// the claim expired between SetNX and Get
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this key is still in progress")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency store unavailable")
	}
	var record replayRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "corrupt idempotency record")
	}
	return &record, nil
}

func replay(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, record *replayRecord, fingerprint string) {
	switch {
	case record.Fingerprint != fingerprint:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with a different request"))
	case record.State != stateComplete:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this key is still in progress"))
	default:
		if record.ContentType != "" {
			w.Header().Set("Content-Type", record.ContentType)
		}
		w.Header().Set(ReplayedHeader, "true")
		w.WriteHeader(record.Status)
		_, _ = w.Write(record.Body)
	}
}

// fingerprintRequest binds a key to the exact request it was first used with.
func fingerprintRequest(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
