package httpx

import "context"

// ownerKey is an unexported context key type to avoid collisions across packages.
type ownerKey struct{}

// WithOwner returns a child context carrying the caller's owner id.
func WithOwner(ctx context.Context, owner string) context.Context {
	if owner == "" {
		return ctx
	}
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFromContext returns the owner id set by RequireOwner.
func OwnerFromContext(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey{}).(string)
	return owner, ok && owner != ""
}
