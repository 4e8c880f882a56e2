// Package moderation censors message content against a configured word
// list before the gateway stores it. A censored message keeps its length
// and spacing and is flagged as moderated.
package moderation
