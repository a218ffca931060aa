// Package auth establishes who is talking to the engine. Identity rides the
// request context as a Principal; every state transition downstream records
// the principal's ID as the acting party. The engine runs open by default:
// with no token and no operator header the actor is "anonymous", which keeps
// single-user deployments working while still attributing armed sessions and
// approvals when identity is available.
package auth

import "context"

// Source says how a principal's identity was established.
type Source string

const (
	SourceJWT    Source = "jwt"
	SourceHeader Source = "header"
	SourceAnon   Source = "anonymous"
)

// AnonymousID is the actor recorded when no identity was presented.
const AnonymousID = "anonymous"

// Principal identifies the requesting party.
type Principal struct {
	ID     string
	Source Source
}

// Anonymous is the identity used when nothing was presented.
func Anonymous() Principal { return Principal{ID: AnonymousID, Source: SourceAnon} }

type principalKey struct{}

// WithPrincipal attaches p to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal attached to ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ActorID returns the acting party for audit attribution, falling back to
// AnonymousID when the middleware put no principal on the context.
func ActorID(ctx context.Context) string {
	if p, ok := PrincipalFrom(ctx); ok && p.ID != "" {
		return p.ID
	}
	return AnonymousID
}
