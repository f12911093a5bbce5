package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/AlexKimmel/fluxgate/internal/auth"
	"github.com/AlexKimmel/fluxgate/internal/ratelimit"
)

type decisionBody struct {
	Client            string   `json:"client"`
	Allowed           bool     `json:"allowed"`
	RetryAfterSeconds *float64 `json:"retry_after_seconds"`
	RemainingCapacity *float64 `json:"remaining_capacity"`
	ResetTimeNanos    uint64   `json:"reset_time_nanos"`
}

func Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func Version(v string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(v))
	}
}

// Echo answers requests that made it through the middleware chain with the
// client key they were charged to.
func Echo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"client": auth.ClientKey(r),
		"method": r.Method,
		"path":   r.URL.Path,
	})
}

// Check evaluates one request for the client named in the {client} path
// value and reports the decision as JSON: 200 when allowed, 429 when denied.
// The request is charged to that client. An authenticated caller may only
// check its own key id and shares its budget with the rate limit middleware;
// without auth the endpoint trusts its callers.
func Check(lim *ratelimit.Limiter[string]) http.HandlerFunc {
	cfg := lim.Config()
	return func(w http.ResponseWriter, r *http.Request) {
		client := r.PathValue("client")
		if client == "" {
			writeJSON(w, http.StatusBadRequest, "missing_client", "client id is required")
			return
		}

		key := client
		if id, ok := auth.KeyIDFrom(r.Context()); ok {
			if id != client {
				writeJSON(w, http.StatusForbidden, "client_mismatch", "API key may only check its own client id")
				return
			}
			key = auth.ClientKey(r)
		}

		dec, err := lim.CheckRequest(key)
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Str("client", client).Msg("check failed")
			writeJSON(w, http.StatusServiceUnavailable, "rate_limiter_unavailable", "rate limiter clock unavailable")
			return
		}

		SetHeaders(w.Header(), dec, cfg)
		w.Header().Set("Content-Type", "application/json")
		code := http.StatusOK
		if !dec.Allowed {
			code = http.StatusTooManyRequests
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(decisionBody{
			Client:            client,
			Allowed:           dec.Allowed,
			RetryAfterSeconds: dec.RetryAfterSeconds,
			RemainingCapacity: dec.RemainingCapacity,
			ResetTimeNanos:    dec.ResetTimeNanos,
		})
	}
}
