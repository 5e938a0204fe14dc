// Package authmw provides HTTP middleware for bearer token authentication.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/linnemanlabs/go-core/xerrors"
)

const bearerPrefix = "Bearer "

// BearerTokens returns middleware that accepts a request when its
// Authorization header carries any of the given tokens. Several tokens may be
// active at once so a new one can be rolled out before the old one is
// retired. Blank tokens are ignored; at least one must remain.
//
// Every configured token is compared in constant time on each request, so the
// response time does not depend on which token matched.
func BearerTokens(tokens ...string) func(http.Handler) http.Handler {
	var expected [][]byte
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			expected = append(expected, []byte(t))
		}
	}
	if len(expected) == 0 {
		panic(xerrors.New("authmw: at least one bearer token is required"))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")

			if !strings.HasPrefix(auth, bearerPrefix) {
				unauthorized(w, "missing or malformed authorization header")
				return
			}

			got := []byte(auth[len(bearerPrefix):])

			match := 0
			for _, want := range expected {
				match |= subtle.ConstantTimeCompare(got, want)
			}
			if match != 1 {
				unauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="medroute"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
