// ABOUTME: Unit tests for authentication context functions
// ABOUTME: Tests participant propagation through context.Context

package auth

import (
	"context"
	"testing"

	"github.com/2389/coven-inbox/internal/identity"
)

func TestFromContext_Present(t *testing.T) {
	ctx := WithParticipant(context.Background(), identity.Provider(9))

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("FromContext() ok = false, want true")
	}
	if got != identity.Provider(9) {
		t.Errorf("FromContext() = %s, want provider:9", got)
	}
}

func TestFromContext_Missing(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Error("FromContext() ok = true on empty context")
	}
}

func TestFromContext_ZeroParticipant(t *testing.T) {
	ctx := WithParticipant(context.Background(), identity.Participant{})
	if _, ok := FromContext(ctx); ok {
		t.Error("FromContext() ok = true for zero participant")
	}
}
