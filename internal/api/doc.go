// Package api is the JSON-over-HTTP contract between the chat client and
// the gateway. Client implements session.Backend; the gateway serves the
// same paths with the envelope types declared here.
package api
