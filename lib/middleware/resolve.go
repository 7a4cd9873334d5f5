// Package middleware provides HTTP middleware for the vmconf API.
package middleware

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/onkernel/vmconf/lib/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ResourceVM is the resource kind of VMs resolved from /vms/{id} routes.
const ResourceVM = "vm"

// ResourceResolver is implemented by managers that support lookup by ID, name, or prefix.
type ResourceResolver interface {
	// Resolve looks up a resource by ID, name, or ID prefix and returns
	// its canonical ID and the resource.
	Resolve(ctx context.Context, idOrName string) (id string, resource any, err error)
}

// ErrorResponder handles resolver errors by writing HTTP responses.
type ErrorResponder func(w http.ResponseWriter, err error, lookup string)

// ResolvedResource holds the resolved resource ID and value.
type ResolvedResource struct {
	ID       string
	Resource any
}

type resolvedResourceKey struct{ kind string }

// ResolveParam returns middleware that resolves the chi URL parameter param
// to a resource of the given kind before handlers run. The result is stored
// in the request context, the request logger gains <kind>_id, and the
// current span is tagged with it. Requests without the parameter pass
// through unchanged.
func ResolveParam(kind, param string, resolver ResourceResolver, errResponder ErrorResponder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lookup := chi.URLParam(r, param)
			if lookup == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			id, resource, err := resolver.Resolve(ctx, lookup)
			if err != nil {
				errResponder(w, err, lookup)
				return
			}

			key := kind + "_id"
			trace.SpanFromContext(ctx).SetAttributes(attribute.String(key, id))
			ctx = WithResolved(ctx, kind, id, resource)
			ctx = logger.AddToContext(ctx, logger.FromContext(ctx).With(key, id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ResolveVM resolves the {id} parameter of VM routes.
func ResolveVM(resolver ResourceResolver, errResponder ErrorResponder) func(http.Handler) http.Handler {
	return ResolveParam(ResourceVM, "id", resolver, errResponder)
}

// GetResolvedVM retrieves the resolved VM from context.
// Returns nil if not found or wrong type.
func GetResolvedVM[T any](ctx context.Context) *T {
	return getResolved[T](ctx, ResourceVM)
}

// GetResolvedID retrieves just the resolved ID for a resource kind.
func GetResolvedID(ctx context.Context, kind string) string {
	if resolved, ok := ctx.Value(resolvedResourceKey{kind}).(ResolvedResource); ok {
		return resolved.ID
	}
	return ""
}

func getResolved[T any](ctx context.Context, kind string) *T {
	resolved, ok := ctx.Value(resolvedResourceKey{kind}).(ResolvedResource)
	if !ok {
		return nil
	}
	switch typed := resolved.Resource.(type) {
	case *T:
		return typed
	case T:
		return &typed
	}
	return nil
}

// WithResolved returns a context carrying resource as the resolved resource of kind.
func WithResolved(ctx context.Context, kind, id string, resource any) context.Context {
	return context.WithValue(ctx, resolvedResourceKey{kind}, ResolvedResource{ID: id, Resource: resource})
}
