// Package gateway is the reference server the chat client talks to.
//
// # Overview
//
// The gateway owns the SQLite store, the JWT verifier, the moderator and the
// WebSocket hub, and serves them on one HTTP listener. Every route except
// /health authenticates the caller from an "Authorization: Bearer" header
// (or a "token" query parameter on /ws); the token subject is the
// participant, e.g. "customer:5".
//
// # HTTP API
//
//   - GET /health - Liveness check
//   - GET /api/conversations - Directory of the caller, most recent first
//   - GET /api/messages?job_id=&customer_id=&provider_id=&limit= - History
//   - POST /api/messages - Send a message
//   - POST /api/messages/read - Mark a batch read (all-or-nothing)
//   - GET /api/unread/count - Unread total of the caller
//   - GET /api/unread - Unread messages of the caller
//   - PUT /api/profile - Set the caller's display name and avatar
//   - GET /ws - WebSocket hub
//
// Errors are returned as {"error": "..."} with 400 for invalid input, 403
// for messages addressed to someone else and 404 for unknown ids.
//
// # Real-time Fan-out
//
// A conversation id doubles as its hub room. On send the gateway:
//
//  1. Stores the message (moderated when enabled)
//  2. Publishes it to the room
//  3. Pushes a "message" notification to the receiver's connections
//  4. Pushes the receiver's new "unread" total
//
// Clients may re-broadcast a confirmed message to the room. Relay accepts
// it only when it is a stored message of the caller in that room, and drops
// it when it was already fanned out.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // returns after ctx is canceled and shutdown completes
package gateway
