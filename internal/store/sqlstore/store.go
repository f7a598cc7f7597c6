package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/pkg/errors"

	"github.com/pliu/chatterbox/internal/store"
)

var _ store.Store = (*SQLStore)(nil)

type SQLStore struct {
	db         *sql.DB
	driverName string
	now        func() time.Time
}

func New(driverName, dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if driverName == "sqlite3" {
		// One connection: keeps ":memory:" databases alive and serializes
		// writers instead of failing with SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLStore{
		db:         db,
		driverName: driverName,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel TEXT UNIQUE NOT NULL,
		application_id TEXT NOT NULL DEFAULT '',
		last_seq BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS members (
		conversation_id BIGINT NOT NULL,
		user_id TEXT NOT NULL,
		read_seq BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (conversation_id, user_id),
		FOREIGN KEY (conversation_id) REFERENCES conversations(id)
	);

	CREATE INDEX IF NOT EXISTS idx_members_user ON members (user_id);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id BIGINT NOT NULL,
		seq BIGINT NOT NULL,
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL,
		content_type INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		UNIQUE (conversation_id, seq),
		FOREIGN KEY (conversation_id) REFERENCES conversations(id)
	);
	`

	if s.driverName == "postgres" {
		query = strings.ReplaceAll(query, "INTEGER PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY")
		query = strings.ReplaceAll(query, "DATETIME", "TIMESTAMP")
	}

	if _, err := s.db.Exec(query); err != nil {
		return errors.Wrap(err, "create tables")
	}
	return nil
}

// Helper to handle placeholders
func (s *SQLStore) rebind(query string) string {
	if s.driverName == "postgres" {
		// Replace ? with $1, $2, etc.
		n := strings.Count(query, "?")
		for i := 1; i <= n; i++ {
			query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
		}
	}
	return query
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable(err, "ping")
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction. Errors returned by fn are passed through
// unchanged so store sentinels survive; driver failures around the
// transaction itself are reported as unavailable storage.
func (s *SQLStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err, op)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable(err, op)
	}
	return nil
}

// conversationID resolves a session channel to the internal identifier.
func (s *SQLStore) conversationID(ctx context.Context, tx *sql.Tx, channel string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, s.rebind("SELECT id FROM conversations WHERE channel = ?"), channel).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrConversationNotFound
	}
	if err != nil {
		return 0, unavailable(err, "lookup conversation")
	}
	return id, nil
}

// readCursor returns the member's cursor, or ErrNotAMember.
func (s *SQLStore) readCursor(ctx context.Context, tx *sql.Tx, conversationID int64, user string) (int64, error) {
	var seq int64
	query := s.rebind("SELECT read_seq FROM members WHERE conversation_id = ? AND user_id = ?")
	err := tx.QueryRowContext(ctx, query, conversationID, user).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotAMember
	}
	if err != nil {
		return 0, unavailable(err, "lookup member")
	}
	return seq, nil
}

func unavailable(err error, op string) error {
	return errors.Wrapf(store.ErrStorageUnavailable, "%s: %v", op, err)
}
