package logging

import (
	"context"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	tenantKey    contextKey = "tenant"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey, tenant)
}

func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

func GetTenant(ctx context.Context) string {
	if tenant, ok := ctx.Value(tenantKey).(string); ok {
		return tenant
	}
	return ""
}

// GetLogFields returns the request-scoped fields to attach to every
// log line emitted under this context.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 4)

	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, "request_id", requestID)
	}
	if tenant := GetTenant(ctx); tenant != "" {
		fields = append(fields, "tenant", tenant)
	}
	return fields
}
