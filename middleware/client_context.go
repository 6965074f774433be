package middleware

import (
	"net"
	"net/http"
	"strings"

	goMFA "github.com/MrEthical07/goMFA"
)

// FingerprintHeader is the request header carrying the client's device
// fingerprint. Clients compute it however they like; the engine only ever
// sees its hash.
const FingerprintHeader = "X-Device-Fingerprint"

// ClientContext threads the caller's IP address, user agent, and device
// fingerprint into the request context so session binding and device trust
// can see them. Mount it before any guard and before the auth handlers.
func ClientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if ip := clientIP(r); ip != "" {
			ctx = goMFA.WithClientIP(ctx, ip)
		}
		if ua := r.UserAgent(); ua != "" {
			ctx = goMFA.WithUserAgent(ctx, ua)
		}
		if fp := strings.TrimSpace(r.Header.Get(FingerprintHeader)); fp != "" {
			ctx = goMFA.WithDeviceFingerprint(ctx, fp)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP prefers the leftmost X-Forwarded-For hop, falling back to the
// socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
