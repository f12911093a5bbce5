package auth

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/AlexKimmel/fluxgate/internal/config"
)

type ctxKey int

const keyID ctxKey = 0

// Store maps API key secrets to key ids. An empty Store authenticates
// nobody and its middleware lets every request through.
type Store struct {
	header   string
	bySecret map[string]string
}

// NewStatic returns a Store reading secrets from header (X-API-Key when
// empty). pairs maps secret to key id.
func NewStatic(header string, pairs map[string]string) *Store {
	h := header
	if h == "" {
		h = "X-API-Key"
	}
	if pairs == nil {
		pairs = map[string]string{}
	}
	return &Store{header: h, bySecret: pairs}
}

// FromConfig builds a Store from the auth section, dropping incomplete keys.
func FromConfig(c config.Auth) *Store {
	pairs := make(map[string]string, len(c.Keys))
	for _, k := range c.Keys {
		if k.Secret != "" && k.ID != "" {
			pairs[k.Secret] = k.ID
		}
	}
	return NewStatic(c.Header, pairs)
}

// Enabled reports whether any keys are configured.
func (s *Store) Enabled() bool { return len(s.bySecret) > 0 }

func (s *Store) keyIDFor(secret string) (string, bool) {
	id, ok := s.bySecret[secret]
	return id, ok
}

func WithKeyID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyID, id)
}

// KeyIDFrom returns the key id the middleware stored on ctx.
func KeyIDFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(keyID)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// ClientKey identifies the caller for rate limiting: the authenticated key id
// when present, otherwise the remote IP.
func ClientKey(r *http.Request) string {
	if id, ok := KeyIDFrom(r.Context()); ok && id != "" {
		return "key:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return "ip:" + host
}

// Middleware rejects requests without a known key with a 401 JSON error and
// puts the key id on the context of the rest. Paths in skipPaths are not
// checked.
func (s *Store) Middleware(skipPaths map[string]struct{}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !s.Enabled() {
			return next
		}
		hname := s.header

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skipPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			secret := strings.TrimSpace(r.Header.Get(hname))
			if secret == "" {
				writeJSON(w, http.StatusUnauthorized, "missing_api_key", "Provide API key in "+hname)
				return
			}
			id, ok := s.keyIDFor(secret)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, "invalid_api_key", "API key not recognized")
				return
			}
			ctx := WithKeyID(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"code":"` + errCode + `","message":"` + msg + `"}}`))
}
