package goMFA

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type fingerprintContextKey struct{}

// WithClientIP attaches the caller’s IP address to ctx. The Engine uses it
// for per-IP rate limiting, audit logging, and login history.
//
//	Docs: docs/rate_limiting.md
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx. Recorded in
// login history and hashed into the session for binding checks.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithDeviceFingerprint attaches the client-computed device fingerprint to
// ctx. The engine only ever stores a hash of it; the raw value never reaches
// Redis or the audit stream.
//
//	Docs: docs/device_trust.md
func WithDeviceFingerprint(ctx context.Context, fingerprint string) context.Context {
	return context.WithValue(ctx, fingerprintContextKey{}, fingerprint)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func fingerprintFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	fingerprint, _ := ctx.Value(fingerprintContextKey{}).(string)
	return fingerprint
}
