// Package receipts decides when unread counters grow and which messages a
// mark-read request covers. Counters only drop once the server confirms.
package receipts
