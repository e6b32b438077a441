package identity

import "context"

type authContextKey struct{}

// ContextWithAuth stores the resolved caller identity in the request context.
func ContextWithAuth(ctx context.Context, actx AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, actx)
}

// AuthFromContext extracts the resolved caller identity, if any.
func AuthFromContext(ctx context.Context) (AuthContext, bool) {
	actx, ok := ctx.Value(authContextKey{}).(AuthContext)
	return actx, ok
}
