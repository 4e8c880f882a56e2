// ABOUTME: Error taxonomy shared by the messaging core and its collaborators
// ABOUTME: Callers classify failures with errors.Is against these sentinels

package chat

import "errors"

var (
	// ErrNetwork is a transient request/response failure. Retryable.
	ErrNetwork = errors.New("network failure")

	// ErrTransport is a failure of the real-time channel only. Core read
	// and send operations stay available through the request/response path.
	ErrTransport = errors.New("transport failure")

	// ErrValidation rejects a request before any network call is made.
	ErrValidation = errors.New("validation failure")

	// ErrStale marks a completion that no longer matches the current
	// selection. It is discarded and never surfaced to the user.
	ErrStale = errors.New("stale response")
)
