// Package session owns the chat state of one participant.
//
// A Session is created with New and driven by Run, which consumes a single
// queue of events: commands from the caller (Select, Send, MarkRead, ...),
// inbound events from the real-time bridge (it implements bridge.Sink) and
// completions of its own requests to the history service. Events are applied
// one at a time by the Run goroutine, so handlers never lock and never see a
// half-applied update.
//
// Network calls run in their own goroutines. Each is tagged with the
// selection epoch current when it was issued; when it completes under a
// different epoch its result is kept out of the active conversation.
//
// Readers call Snapshot for an immutable copy of the state and wait on
// Changes for updates.
package session
