// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, query-parameter tokens and rejection responses

package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-inbox/internal/identity"
)

func serveWithAuth(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, identity.Participant, bool) {
	t.Helper()
	var (
		got    identity.Participant
		called bool
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, called = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	HTTPAuthMiddleware(newTestVerifier(t), nil)(handler).ServeHTTP(rec, req)
	return rec, got, called
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	token, err := newTestVerifier(t).Generate(identity.Customer(5), time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec, got, called := serveWithAuth(t, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
	assert.Equal(t, identity.Customer(5), got)
}

func TestHTTPAuthMiddleware_QueryToken(t *testing.T) {
	token, err := newTestVerifier(t).Generate(identity.Provider(9), time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)

	rec, got, _ := serveWithAuth(t, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, identity.Provider(9), got)
}

func TestHTTPAuthMiddleware_Rejects(t *testing.T) {
	expired, err := newTestVerifier(t).Generate(identity.Customer(5), -time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		wantMsg string
	}{
		{"missing header", "", "missing authorization header"},
		{"wrong scheme", "Basic abc", "invalid authorization header format"},
		{"empty token", "Bearer ", "empty token"},
		{"garbage", "Bearer nope", "invalid token"},
		{"expired", "Bearer " + expired, "invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			rec, _, called := serveWithAuth(t, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.False(t, called)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantMsg, body["error"])
		})
	}
}
