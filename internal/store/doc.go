// Package store provides persistent storage for the gateway using SQLite.
//
// # Data Models
//
//   - Conversation: a participant pair, optionally scoped to a job. The pair
//     is stored in canonical order and (pair, job) is unique.
//   - Message: one chat message with sender, receiver, content, moderation
//     flag and read timestamp. Ids are assigned by the database and increase
//     monotonically.
//   - Profile: display name and avatar of a participant, joined into the
//     directory listing.
//
// Participants are stored in their "kind:id" text form.
//
// # SQLite Configuration
//
// Pragmas are set through the DSN so every pooled connection gets them:
//
//	journal_mode=WAL
//	foreign_keys=ON
//	busy_timeout=5000
//
// Transactions start IMMEDIATE so a mark-read batch never fails halfway
// through a lock upgrade.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrNotAddressed: mark-read batch touches a message for someone else
//   - ErrSelfConversation: both sides are the same participant
//
// Validation failures wrap chat.ErrValidation. All methods accept
// context.Context for cancellation support.
//
// # Migrations
//
// Columns added after the first release are applied on open by
// runMigrations; each step checks pragma_table_info first.
package store
