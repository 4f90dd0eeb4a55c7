package httpx

import (
	"context"

	domainauth "github.com/youthvoice/portal/internal/domain/auth"
)

// stateKey is an unexported context key type to avoid collisions across packages.
type stateKey struct{}

// SetStateInContext returns a child context carrying the settled session state the guard observed.
func SetStateInContext(ctx context.Context, s domainauth.State) context.Context {
	return context.WithValue(ctx, stateKey{}, s)
}

// StateFromContext returns the state stored by RequireSessionBrowser, if any.
func StateFromContext(ctx context.Context) (domainauth.State, bool) {
	s, ok := ctx.Value(stateKey{}).(domainauth.State)
	return s, ok
}
