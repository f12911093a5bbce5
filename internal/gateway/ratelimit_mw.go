package gateway

import (
	"math"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/hlog"

	"github.com/AlexKimmel/fluxgate/internal/auth"
	"github.com/AlexKimmel/fluxgate/internal/ratelimit"
)

// RateLimitOptions tunes the RateLimit middleware. The zero value limits
// every path by auth.ClientKey and denies when the clock fails.
type RateLimitOptions struct {
	KeyFunc           func(*http.Request) string
	Skip              map[string]struct{}
	AllowOnClockError bool
	OnLimited         func(key string)
	OnError           func(err error)
}

func RateLimit(lim *ratelimit.Limiter[string], opts RateLimitOptions) Middleware {
	keyFn := opts.KeyFunc
	if keyFn == nil {
		keyFn = auth.ClientKey
	}
	cfg := lim.Config()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// allow ops endpoints without limits
			if _, ok := opts.Skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFn(r)
			dec, err := lim.CheckRequest(key)
			if err != nil {
				if opts.OnError != nil {
					opts.OnError(err)
				}
				if opts.AllowOnClockError {
					hlog.FromRequest(r).Warn().Err(err).Str("client", key).Msg("rate limit skipped")
					next.ServeHTTP(w, r)
					return
				}
				writeJSON(w, http.StatusServiceUnavailable, "rate_limiter_unavailable", "rate limiter clock unavailable")
				return
			}

			SetHeaders(w.Header(), dec, cfg)

			if !dec.Allowed {
				if opts.OnLimited != nil {
					opts.OnLimited(key)
				}
				writeJSON(w, http.StatusTooManyRequests, "rate_limited", "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SetHeaders writes the X-RateLimit-* headers for d, plus Retry-After when
// the request was denied.
func SetHeaders(h http.Header, d ratelimit.Decision, cfg ratelimit.Config) {
	h.Set("X-RateLimit-Limit", strconv.FormatFloat(cfg.RatePerSecond, 'f', -1, 64))
	h.Set("X-RateLimit-Burst", strconv.FormatFloat(cfg.Burst, 'f', -1, 64))
	h.Set("X-RateLimit-Remaining", strconv.FormatFloat(math.Floor(d.Remaining()), 'f', 0, 64))
	h.Set("X-RateLimit-Reset", strconv.FormatUint(ceilDiv(d.ResetTimeNanos, 1e9), 10))

	if d.Allowed {
		h.Del("Retry-After")
		return
	}
	secs := uint64(1)
	if d.RetryAfterSeconds != nil {
		if s := math.Ceil(*d.RetryAfterSeconds); s > 1 {
			secs = uint64(s)
		}
	}
	h.Set("Retry-After", strconv.FormatUint(secs, 10))
}

func ceilDiv(n, d uint64) uint64 {
	q := n / d
	if n%d != 0 {
		q++
	}
	return q
}

// local tiny JSON helper to avoid coupling to auth package
func writeJSON(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"code":"` + errCode + `","message":"` + msg + `"}}`))
}
