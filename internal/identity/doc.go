// Package identity models a chat participant as either a customer or a
// provider, never both and never neither.
package identity
