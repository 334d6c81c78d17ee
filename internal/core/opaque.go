package core

import "context"

// OpaqueIDHeader is the header Elasticsearch-compatible clusters echo into
// task listings and slow logs.
const OpaqueIDHeader = "X-Opaque-Id"

type opaqueIDKey struct{}

// WithOpaqueID tags ctx so requests sent under it carry id as X-Opaque-Id.
func WithOpaqueID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, opaqueIDKey{}, id)
}

// OpaqueID returns the id set by WithOpaqueID, if any.
func OpaqueID(ctx context.Context) string {
	id, _ := ctx.Value(opaqueIDKey{}).(string)
	return id
}
