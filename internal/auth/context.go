// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithParticipant/FromContext for propagating the caller via context

package auth

import (
	"context"

	"github.com/2389/coven-inbox/internal/identity"
)

// participantKey is the key type for storing the caller in context.Context.
type participantKey struct{}

// WithParticipant returns a new context carrying the authenticated caller.
func WithParticipant(ctx context.Context, p identity.Participant) context.Context {
	return context.WithValue(ctx, participantKey{}, p)
}

// FromContext returns the authenticated caller, or false when the request
// was not authenticated.
func FromContext(ctx context.Context) (identity.Participant, bool) {
	p, ok := ctx.Value(participantKey{}).(identity.Participant)
	if !ok || p.IsZero() {
		return identity.Participant{}, false
	}
	return p, true
}
