// Package realtime carries chat events over WebSocket.
//
// The Hub is the server side: it upgrades authenticated requests, tracks
// room membership per connection and fans out messages to rooms and
// notifications to every connection of a participant. The Client is the
// other end and implements bridge.Transport, redialing with exponential
// backoff whenever the connection drops.
package realtime
