// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message/profile persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	_ "modernc.org/sqlite"

	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/identity"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. ":memory:" opens a private
// in-memory database held on a single connection.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	inMemory := path == ":memory:"
	if !inMemory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if inMemory {
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
// Timestamps are unix nanoseconds so ordering by column is chronological.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id            TEXT PRIMARY KEY,
			participant_a TEXT NOT NULL,
			participant_b TEXT NOT NULL,
			job_id        INTEGER NOT NULL DEFAULT 0,
			created_at    INTEGER NOT NULL,
			updated_at    INTEGER NOT NULL,

			UNIQUE(participant_a, participant_b, job_id),
			CHECK (participant_a <> participant_b)
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_a ON conversations(participant_a);
		CREATE INDEX IF NOT EXISTS idx_conversations_b ON conversations(participant_b);

		CREATE TABLE IF NOT EXISTS messages (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			job_id          INTEGER NOT NULL DEFAULT 0,
			sender          TEXT NOT NULL,
			receiver        TEXT NOT NULL,
			content         TEXT NOT NULL,
			created_at      INTEGER NOT NULL,
			read_at         INTEGER,
			moderated       INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_job_created
			ON messages(job_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_receiver_unread
			ON messages(receiver, read_at);

		CREATE TABLE IF NOT EXISTS profiles (
			participant  TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			avatar_url   TEXT NOT NULL DEFAULT '',
			updated_at   INTEGER NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "messages",
			column: "moderated",
			apply:  `ALTER TABLE messages ADD COLUMN moderated INTEGER NOT NULL DEFAULT 0`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// EnsureConversation returns the conversation of the pair for job, creating
// it when it does not exist yet.
func (s *SQLiteStore) EnsureConversation(ctx context.Context, a, b identity.Participant, job chat.JobRef) (*Conversation, error) {
	if a.IsZero() || b.IsZero() {
		return nil, fmt.Errorf("%w: both participants are required", chat.ErrValidation)
	}
	if a == b {
		return nil, ErrSelfConversation
	}
	a, b = canonicalPair(a, b)
	now := toNanos(s.now())

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, participant_a, participant_b, job_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(participant_a, participant_b, job_id) DO NOTHING
	`, uuid.NewString(), a.String(), b.String(), int64(job), now, now)
	if err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, participant_a, participant_b, job_id, created_at, updated_at
		FROM conversations
		WHERE participant_a = ? AND participant_b = ? AND job_id = ?
	`, a.String(), b.String(), int64(job))
	return scanConversation(row)
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, participant_a, participant_b, job_id, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`, id)
	return scanConversation(row)
}

// IsMember reports whether p is one side of the conversation.
func (s *SQLiteStore) IsMember(ctx context.Context, conversationID string, p identity.Participant) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM conversations
		WHERE id = ? AND (participant_a = ? OR participant_b = ?)
	`, conversationID, p.String(), p.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking membership: %w", err)
	}
	return true, nil
}

// ListConversations returns the directory of p, most recent activity first.
func (s *SQLiteStore) ListConversations(ctx context.Context, p identity.Participant) ([]chat.Conversation, error) {
	self := p.String()
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.participant_a, c.participant_b, c.job_id, c.updated_at,
			(SELECT COUNT(*) FROM messages u
				WHERE u.conversation_id = c.id AND u.receiver = ? AND u.read_at IS NULL),
			COALESCE(pr.display_name, ''), COALESCE(pr.avatar_url, ''),
			lm.id, lm.sender, lm.content, lm.created_at
		FROM conversations c
		LEFT JOIN messages lm ON lm.id = (
			SELECT m.id FROM messages m
			WHERE m.conversation_id = c.id
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT 1
		)
		LEFT JOIN profiles pr ON pr.participant =
			CASE WHEN c.participant_a = ? THEN c.participant_b ELSE c.participant_a END
		WHERE c.participant_a = ? OR c.participant_b = ?
		ORDER BY c.updated_at DESC, c.id ASC
	`, self, self, self, self)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var out []chat.Conversation
	for rows.Next() {
		var (
			id, rawA, rawB    string
			job, updatedAt    int64
			unread            int
			name, avatar      string
			lastID, lastAt    sql.NullInt64
			lastSender, lastC sql.NullString
		)
		if err := rows.Scan(&id, &rawA, &rawB, &job, &updatedAt, &unread, &name, &avatar,
			&lastID, &lastSender, &lastC, &lastAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}

		counterparty := rawA
		if rawA == self {
			counterparty = rawB
		}
		cp, err := identity.Parse(counterparty)
		if err != nil {
			return nil, fmt.Errorf("conversation %s counterparty: %w", id, err)
		}

		conv := chat.Conversation{
			ID:           id,
			Job:          chat.JobRef(job),
			Counterparty: cp,
			Profile:      chat.Profile{DisplayName: name, AvatarURL: avatar},
			UnreadCount:  unread,
			LastActivity: fromNanos(updatedAt),
		}
		if lastID.Valid {
			sender, err := identity.Parse(lastSender.String)
			if err != nil {
				return nil, fmt.Errorf("conversation %s last sender: %w", id, err)
			}
			conv.LastMessage = &chat.Preview{
				MessageID: lastID.Int64,
				Sender:    sender,
				Content:   lastC.String,
				SentAt:    fromNanos(lastAt.Int64),
			}
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// CreateMessage stores m and bumps the conversation's activity time in the
// same transaction.
func (s *SQLiteStore) CreateMessage(ctx context.Context, conversationID string, m chat.Message) (chat.Message, error) {
	if m.SentAt.IsZero() {
		m.SentAt = s.now()
	}
	m.SentAt = m.SentAt.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Message{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var readAt any
	if m.ReadAt != nil {
		readAt = toNanos(*m.ReadAt)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, job_id, sender, receiver, content, created_at, read_at, moderated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, conversationID, int64(m.Job), m.Sender.String(), m.Receiver.String(), m.Content,
		toNanos(m.SentAt), readAt, m.Moderated)
	if err != nil {
		return chat.Message{}, fmt.Errorf("inserting message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return chat.Message{}, fmt.Errorf("reading message id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = MAX(updated_at, ?) WHERE id = ?
	`, toNanos(m.SentAt), conversationID); err != nil {
		return chat.Message{}, fmt.Errorf("touching conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return chat.Message{}, fmt.Errorf("committing message: %w", err)
	}

	m.ID = id
	s.logger.Debug("created message", "message_id", id, "conversation_id", conversationID)
	return m, nil
}

// GetMessage retrieves a message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*StoredMessage, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	sm, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sm, nil
}

// ListMessages returns the history of p selected by q: every message of the
// job when q has one, otherwise the job-less messages between p and the
// counterparty.
func (s *SQLiteStore) ListMessages(ctx context.Context, p identity.Participant, q chat.HistoryQuery, limit int) ([]chat.Message, error) {
	if p.IsZero() {
		return nil, fmt.Errorf("%w: participant is required", chat.ErrValidation)
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	var (
		where string
		args  []any
	)
	self := p.String()
	switch {
	case q.Job.Valid():
		where = `job_id = ? AND (sender = ? OR receiver = ?)`
		args = []any{int64(q.Job), self, self}
	case !q.Counterparty.IsZero():
		other := q.Counterparty.String()
		where = `job_id = 0 AND ((sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?))`
		args = []any{self, other, other, self}
	default:
		return nil, fmt.Errorf("%w: history query needs a job or a counterparty", chat.ErrValidation)
	}
	args = append(args, limit)

	query := `
		SELECT ` + messageColumns + ` FROM (
			SELECT ` + messageColumns + ` FROM messages
			WHERE ` + where + `
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) ORDER BY created_at ASC, id ASC
	`
	return s.queryMessages(ctx, query, args...)
}

// MarkRead marks ids read by reader. The batch is all-or-nothing: one
// missing id or one message addressed to someone else rolls it back.
func (s *SQLiteStore) MarkRead(ctx context.Context, reader identity.Participant, ids []int64, at time.Time) (int, error) {
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	if err := chat.ValidateIDs(ids); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := lo.Map(ids, func(id int64, _ int) any { return id })

	rows, err := tx.QueryContext(ctx, `SELECT id, receiver FROM messages WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("querying messages: %w", err)
	}
	found := make(map[int64]string, len(ids))
	for rows.Next() {
		var id int64
		var receiver string
		if err := rows.Scan(&id, &receiver); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning message: %w", err)
		}
		found[id] = receiver
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterating messages: %w", err)
	}

	for _, id := range ids {
		receiver, ok := found[id]
		if !ok {
			return 0, fmt.Errorf("message %d: %w", id, ErrNotFound)
		}
		if receiver != reader.String() {
			return 0, fmt.Errorf("message %d: %w", id, ErrNotAddressed)
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE messages SET read_at = ? WHERE read_at IS NULL AND id IN (`+placeholders+`)`,
		append([]any{toNanos(at)}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing mark-read: %w", err)
	}
	s.logger.Debug("marked messages read", "reader", reader.String(), "requested", len(ids), "updated", n)
	return int(n), nil
}

// UnreadCount returns how many messages addressed to p are unread.
func (s *SQLiteStore) UnreadCount(ctx context.Context, p identity.Participant) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE receiver = ? AND read_at IS NULL`, p.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unread: %w", err)
	}
	return n, nil
}

// UnreadMessages returns the unread messages addressed to p, oldest first.
func (s *SQLiteStore) UnreadMessages(ctx context.Context, p identity.Participant) ([]chat.Message, error) {
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE receiver = ? AND read_at IS NULL
		ORDER BY created_at ASC, id ASC
	`, p.String())
}

// UpsertProfile creates or replaces the display metadata of a participant.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, profile Profile) error {
	if profile.Participant.IsZero() {
		return fmt.Errorf("%w: participant is required", chat.ErrValidation)
	}
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (participant, display_name, avatar_url, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(participant) DO UPDATE SET
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url,
			updated_at = excluded.updated_at
	`, profile.Participant.String(), profile.DisplayName, profile.AvatarURL, toNanos(profile.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}
	return nil
}

// GetProfile retrieves the profile of p.
// Returns ErrNotFound if none was stored.
func (s *SQLiteStore) GetProfile(ctx context.Context, p identity.Participant) (*Profile, error) {
	profile := Profile{Participant: p}
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT display_name, avatar_url, updated_at FROM profiles WHERE participant = ?
	`, p.String()).Scan(&profile.DisplayName, &profile.AvatarURL, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}
	profile.UpdatedAt = fromNanos(updatedAt)
	return &profile, nil
}

const messageColumns = `id, conversation_id, job_id, sender, receiver, content, created_at, read_at, moderated`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		sm, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sm.Message)
	}
	return out, rows.Err()
}

func scanMessage(row rowScanner) (*StoredMessage, error) {
	var (
		sm                     StoredMessage
		job, createdAt         int64
		rawSender, rawReceiver string
		readAt                 sql.NullInt64
	)
	err := row.Scan(&sm.ID, &sm.ConversationID, &job, &rawSender, &rawReceiver,
		&sm.Content, &createdAt, &readAt, &sm.Moderated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	if sm.Sender, err = identity.Parse(rawSender); err != nil {
		return nil, fmt.Errorf("message %d sender: %w", sm.ID, err)
	}
	if sm.Receiver, err = identity.Parse(rawReceiver); err != nil {
		return nil, fmt.Errorf("message %d receiver: %w", sm.ID, err)
	}
	sm.Job = chat.JobRef(job)
	sm.SentAt = fromNanos(createdAt)
	if readAt.Valid {
		t := fromNanos(readAt.Int64)
		sm.ReadAt = &t
		sm.Read = true
	}
	return &sm, nil
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		c                    Conversation
		rawA, rawB           string
		job, created, update int64
	)
	err := row.Scan(&c.ID, &rawA, &rawB, &job, &created, &update)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}
	if c.A, err = identity.Parse(rawA); err != nil {
		return nil, fmt.Errorf("conversation %s: %w", c.ID, err)
	}
	if c.B, err = identity.Parse(rawB); err != nil {
		return nil, fmt.Errorf("conversation %s: %w", c.ID, err)
	}
	c.Job = chat.JobRef(job)
	c.CreatedAt = fromNanos(created)
	c.UpdatedAt = fromNanos(update)
	return &c, nil
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
