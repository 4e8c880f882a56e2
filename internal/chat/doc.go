// Package chat defines the domain types shared by the client and the gateway.
//
// A Conversation pairs the local participant with one counterparty,
// optionally scoped to a job (JobRef). A Message is immutable except for its
// read state, which only moves from unread to read.
//
// The package also holds the JSON wire forms exchanged with the gateway API
// and the real-time hub, the outbound request types with their validation
// rules, and the error sentinels callers classify failures with:
// ErrNetwork, ErrTransport, ErrValidation and ErrStale.
package chat
