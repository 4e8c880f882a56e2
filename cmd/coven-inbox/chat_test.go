// ABOUTME: Tests for chat client input parsing and gateway URL handling
// ABOUTME: Pure functions only; the session itself is tested in its own package

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/identity"
)

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://127.0.0.1:8080", "ws://127.0.0.1:8080/ws"},
		{"https://inbox.example.com/", "wss://inbox.example.com/ws"},
		{"https://example.com/chat", "wss://example.com/chat/ws"},
	}
	for _, tt := range tests {
		got, err := websocketURL(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := websocketURL("ftp://example.com")
	assert.Error(t, err)
}

func TestParseCommand(t *testing.T) {
	assert.Equal(t, command{name: "send", arg: "hello there"}, parseCommand("  hello there "))
	assert.Equal(t, command{name: "open", arg: "2"}, parseCommand("/open 2"))
	assert.Equal(t, command{name: "list"}, parseCommand("/LIST"))
	assert.Equal(t, command{name: "name", arg: "Ada Lovelace"}, parseCommand("/name  Ada Lovelace"))
}

func TestParseNewConversation(t *testing.T) {
	req, err := parseNewConversation("provider:9 42 can you come tomorrow?")
	require.NoError(t, err)
	assert.Equal(t, identity.Provider(9), req.Receiver)
	assert.Equal(t, chat.JobRef(42), req.Job)
	assert.Equal(t, "can you come tomorrow?", req.Content)

	req, err = parseNewConversation("customer:5 hi")
	require.NoError(t, err)
	assert.Equal(t, chat.NoJob, req.Job)
	assert.Equal(t, "hi", req.Content)

	_, err = parseNewConversation("nobody hi")
	assert.Error(t, err)

	_, err = parseNewConversation("customer:5")
	assert.ErrorIs(t, err, chat.ErrValidation)
}
