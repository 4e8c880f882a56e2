// Package conversation maintains the conversation directory and resolves
// inbound messages to directory entries.
//
// # Directory
//
// A Directory is the ordered list of conversations seen by the current
// participant. It is a value: ApplyInbound, ApplyOutbound, SetUnread and
// DecrementUnread return a new Directory and never modify the receiver, so a
// snapshot handed to a reader stays valid while the owner moves on.
//
// Invariants kept by every operation:
//
//   - entries are ordered by last activity, most recent first
//   - no two entries share a (counterparty, job) pair
//   - unread counters are never negative
//   - the last-message snapshot only moves forward in time
//
// # Resolver
//
// A Resolver maps a message to a directory entry from the point of view of
// the current participant:
//
//  1. If the message carries a job reference and an entry has the same one,
//     that entry wins whatever the identities say (the job may have been
//     reassigned to another provider).
//  2. Otherwise the entry whose counterparty is the other side of the
//     message wins. Among several, the one with the same job reference is
//     preferred, then the most recently active one.
//
// Messages where neither side is the current participant resolve to Foreign
// and never match. Messages from self to self resolve to SelfChat and are
// rejected. Anything else without a match is Unknown, and the caller
// refreshes the directory rather than inventing an entry.
package conversation
