package gatekit

import "context"

type clientIPContextKey struct{}
type tenantIDContextKey struct{}
type userAgentContextKey struct{}
type requestIDContextKey struct{}
type sessionIDContextKey struct{}
type traceIDContextKey struct{}
type captchaVerifiedContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it
// for rate limiting, risk scoring, and audit enrichment.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithTenantID attaches a tenant identifier to ctx for multi-tenant policy
// and session isolation. When absent, the default tenant "0" is used.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDContextKey{}, tenantID)
}

// WithUserAgent attaches the caller's user agent to ctx. It feeds the device
// fingerprint and audit enrichment.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithRequestID attaches the transport request id to ctx so audit entries can
// be correlated back to a request.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// WithSessionID attaches the active session id, when the caller is already
// authenticated, for audit enrichment.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDContextKey{}, sessionID)
}

// WithTraceID attaches a distributed-tracing id for audit enrichment.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDContextKey{}, traceID)
}

// WithCaptchaVerified marks ctx as carrying a transport-verified captcha.
// Captcha verification itself is transport glue; the engine only checks the
// flag when policy demands it.
func WithCaptchaVerified(ctx context.Context) context.Context {
	return context.WithValue(ctx, captchaVerifiedContextKey{}, true)
}

func clientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func tenantIDFromContext(ctx context.Context) string {
	tenant, _ := ctx.Value(tenantIDContextKey{}).(string)
	if tenant == "" {
		return "0"
	}
	return tenant
}

func userAgentFromContext(ctx context.Context) string {
	ua, _ := ctx.Value(userAgentContextKey{}).(string)
	return ua
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}

func sessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDContextKey{}).(string)
	return id
}

func traceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceIDContextKey{}).(string)
	return id
}

func captchaVerifiedFromContext(ctx context.Context) bool {
	ok, _ := ctx.Value(captchaVerifiedContextKey{}).(bool)
	return ok
}
