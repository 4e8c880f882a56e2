// Package bridge connects a publish/subscribe transport to the chat session.
//
// The Bridge owns the connection state machine (connecting, connected,
// reconnecting, disconnected) and decodes inbound frames. Frames carrying a
// malformed identity are dropped at this boundary and never reach a Sink.
package bridge
