package types

import "context"

type ContextKey string

const (
	CtxTenantID  ContextKey = "ctx_tenant_id"
	CtxRequestID ContextKey = "ctx_request_id"

	DefaultTenantID = "tenant_default"
)

// GetTenantID returns the tenant id from the context, falling back to the
// default tenant for background jobs that run outside a request scope.
func GetTenantID(ctx context.Context) string {
	if id, ok := ctx.Value(CtxTenantID).(string); ok && id != "" {
		return id
	}
	return DefaultTenantID
}

func SetTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, CtxTenantID, tenantID)
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(CtxRequestID).(string); ok {
		return id
	}
	return ""
}
