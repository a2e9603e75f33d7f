package middleware

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/visionclass/backend/internal/api/response"
	"github.com/visionclass/backend/internal/auth"
	"github.com/visionclass/backend/internal/billing"
	"github.com/visionclass/backend/internal/metrics"
	"github.com/visionclass/backend/internal/models"
	"github.com/visionclass/backend/internal/ratelimit"
)

type meteredKeyCtx struct{}
type meteredSubCtx struct{}

// Meter wires API-key authentication, tier rate limiting, and usage logging
// around metered endpoints. Each route names the service type it bills as.
type Meter struct {
	keys    *auth.APIKeyService
	subs    billing.SubscriptionStore
	ledger  *billing.Ledger
	limiter *ratelimit.Limiter
}

func NewMeter(keys *auth.APIKeyService, subs billing.SubscriptionStore, ledger *billing.Ledger, limiter *ratelimit.Limiter) *Meter {
	return &Meter{keys: keys, subs: subs, ledger: ledger, limiter: limiter}
}

// Require returns middleware that meters requests under the given service
// type. Order is fixed: authenticate, rate limit, serve, log usage. A denied
// request is never billed.
func (m *Meter) Require(serviceType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get("X-API-Key")
			if rawKey == "" {
				response.Unauthorized(w, "API key required")
				return
			}

			apiKey, err := m.keys.Validate(r.Context(), rawKey)
			if err != nil {
				writeKeyError(w, err)
				return
			}

			sub, err := m.subs.GetByID(r.Context(), apiKey.SubscriptionID)
			if err != nil {
				log.Printf("[meter] no subscription for key %s: %v", apiKey.KeyPrefix, err)
				response.Forbidden(w, "No active subscription for this API key")
				return
			}
			if sub.Status != models.BillingActive {
				response.Forbidden(w, "Subscription is not active")
				return
			}

			limits := billing.LimitsFor(sub.Tier)
			rl := m.limiter.Check(r.Context(), apiKey.ID, limits)
			setRateLimitHeaders(w, limits, rl)
			if !rl.Allowed {
				metrics.RateLimitDenials.WithLabelValues(rl.Window).Inc()
				w.Header().Set("Retry-After", strconv.FormatInt(rl.RetryAfter(), 10))
				response.TooManyRequests(w, rl.Reason)
				return
			}

			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			ctx := context.WithValue(r.Context(), meteredKeyCtx{}, apiKey)
			ctx = context.WithValue(ctx, meteredSubCtx{}, sub)
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			m.keys.Touch(r.Context(), apiKey.ID)
			m.ledger.Log(r.Context(), billing.Request{
				MaskedKey:      auth.MaskKey(rawKey),
				UserID:         apiKey.UserID,
				SubscriptionID: sub.ID,
				ServiceType:    serviceType,
				Endpoint:       r.URL.Path,
				RequestSize:    requestSize(r),
				ProcessingTime: time.Since(start),
				Success:        wrapped.status < http.StatusBadRequest,
				Tier:           sub.Tier,
			})
		})
	}
}

// MeteredKey returns the validated API key for a metered request.
func MeteredKey(ctx context.Context) (*models.APIKey, bool) {
	k, ok := ctx.Value(meteredKeyCtx{}).(*models.APIKey)
	return k, ok
}

// MeteredSubscription returns the subscription attached to the request's key.
func MeteredSubscription(ctx context.Context) (*models.Subscription, bool) {
	s, ok := ctx.Value(meteredSubCtx{}).(*models.Subscription)
	return s, ok
}

func setRateLimitHeaders(w http.ResponseWriter, limits ratelimit.Limits, rl ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limits.PerMinute))
	remaining := rl.MinuteRemaining
	if remaining < 0 {
		remaining = 0
	}
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", rl.ResetTime.Unix()))
}

func requestSize(r *http.Request) int64 {
	if r.ContentLength > 0 {
		return r.ContentLength
	}
	return 0
}

func writeKeyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrAPIKeyRevoked):
		response.Unauthorized(w, "API key has been revoked")
	case errors.Is(err, auth.ErrAPIKeySuspended):
		response.Forbidden(w, "API key is suspended")
	case errors.Is(err, auth.ErrAPIKeyNotFound), errors.Is(err, auth.ErrAPIKeyInvalid):
		response.Unauthorized(w, "Invalid API key")
	default:
		log.Printf("[meter] key validation failed: %v", err)
		response.InternalError(w, "")
	}
}
