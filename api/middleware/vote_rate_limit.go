package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/beatdrop/battles-backend/api/responses"
	pkgerrors "github.com/beatdrop/battles-backend/pkg/errors"
	"github.com/beatdrop/battles-backend/pkg/logger"
	pkgredis "github.com/beatdrop/battles-backend/pkg/redis"
)

// VoteRateLimitPolicy defines the throttling parameters for vote requests.
type VoteRateLimitPolicy struct {
	window    time.Duration
	userLimit int
	ipLimit   int
}

// NewVoteRateLimitPolicy builds a policy with the supplied window and limits.
// A zero limit disables that scope.
func NewVoteRateLimitPolicy(window time.Duration, userLimit, ipLimit int) VoteRateLimitPolicy {
	return VoteRateLimitPolicy{window: window, userLimit: userLimit, ipLimit: ipLimit}
}

func (p VoteRateLimitPolicy) enabled() bool {
	return p.window > 0 && (p.userLimit > 0 || p.ipLimit > 0)
}

// VoteRateLimit enforces fixed-window counters per voter and per client IP.
// It must run after Auth so the voter is known.
func VoteRateLimit(policy VoteRateLimitPolicy, limiter pkgredis.RateLimiter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || limiter == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if userID := UserIDFromContext(ctx); userID != "" && policy.userLimit > 0 {
				if !checkLimit(ctx, w, limiter, logg, policy, "user", userID, policy.userLimit) {
					return
				}
			}
			if ip := clientIP(r); ip != "" && policy.ipLimit > 0 {
				if !checkLimit(ctx, w, limiter, logg, policy, "ip", ip, policy.ipLimit) {
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func checkLimit(ctx context.Context, w http.ResponseWriter, limiter pkgredis.RateLimiter, logg *logger.Logger, policy VoteRateLimitPolicy, scope, subject string, limit int) bool {
	decision, err := limiter.FixedWindowAllow(ctx, "vote:"+scope+":"+subject, int64(limit), policy.window)
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
		return false
	}
	if decision.Allowed {
		return true
	}
	retryAfter := decision.ResetIn
	if retryAfter <= 0 || retryAfter > policy.window {
		retryAfter = policy.window
	}
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if logg != nil {
		logg.Warn(logg.WithFields(ctx, map[string]any{
			"scope":       scope,
			"attempts":    decision.Count,
			"limit":       limit,
			"retry_after": seconds,
		}), "vote.rate_limit.blocked")
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded").
		WithDetails(map[string]any{"scope": scope, "retryAfterSeconds": seconds}))
	return false
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
