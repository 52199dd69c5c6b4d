package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/chatvault/internal/domain"
)

// SQLiteRepository implements SessionRepository using SQLite.
type SQLiteRepository struct {
	db    *sql.DB
	locks *KeyedMutex
	now   Clock
}

// NewSQLiteRepository opens (and migrates) the SQLite database at dsn.
func NewSQLiteRepository(dsn string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	r := &SQLiteRepository{db: db, locks: NewKeyedMutex(), now: domain.Now}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return r, nil
}

// WithClock replaces the time source. Intended for tests.
func (r *SQLiteRepository) WithClock(now Clock) *SQLiteRepository {
	r.now = now
	return r
}

func (r *SQLiteRepository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
			content TEXT NOT NULL,
			ts INTEGER NOT NULL,
			PRIMARY KEY (session_id, seq),
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := r.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Databases created before records were versioned lack this column.
	return r.ensureColumn("sessions", "schema_version",
		fmt.Sprintf("ALTER TABLE sessions ADD COLUMN schema_version INTEGER NOT NULL DEFAULT %d", domain.SchemaVersion))
}

func (r *SQLiteRepository) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := r.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = r.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// CreateOrAppend appends msgs to the session, creating it if needed.
func (r *SQLiteRepository) CreateOrAppend(ctx context.Context, sessionID string, msgs []domain.Message) (*domain.Session, error) {
	if err := validateAppend(sessionID, msgs); err != nil {
		return nil, err
	}

	unlock, err := r.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, storageErr("wait for session lock", err)
	}
	defer unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin transaction", err)
	}
	defer tx.Rollback()

	current, err := loadSQLiteSession(ctx, tx, sessionID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	next := applyAppend(current, sessionID, msgs, r.now())
	seq := 0
	if current == nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sessions (session_id, created_at, updated_at, schema_version) VALUES (?, ?, ?, ?)`,
			sessionID, next.CreatedAt.UnixMilli(), next.UpdatedAt.UnixMilli(), domain.SchemaVersion)
	} else {
		seq = len(current.Messages)
		_, err = tx.ExecContext(ctx,
			`UPDATE sessions SET updated_at = ? WHERE session_id = ?`,
			next.UpdatedAt.UnixMilli(), sessionID)
	}
	if err != nil {
		return nil, storageErr("write session", err)
	}

	for i, m := range next.Messages[seq:] {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, seq, role, content, ts) VALUES (?, ?, ?, ?, ?)`,
			sessionID, seq+i, string(m.Role), m.Content, m.Timestamp.UnixMilli()); err != nil {
			return nil, storageErr("write message", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit", err)
	}
	return next, nil
}

// Get retrieves a session with all of its messages.
func (r *SQLiteRepository) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	if err := domain.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	// The session row and its messages are read in one transaction so a
	// concurrent append is seen either entirely or not at all.
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin transaction", err)
	}
	defer tx.Rollback()

	return loadSQLiteSession(ctx, tx, sessionID)
}

func loadSQLiteSession(ctx context.Context, tx *sql.Tx, sessionID string) (*domain.Session, error) {
	var createdAt, updatedAt int64
	err := tx.QueryRowContext(ctx,
		`SELECT created_at, updated_at FROM sessions WHERE session_id = ?`,
		sessionID).Scan(&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, notFound(sessionID)
	}
	if err != nil {
		return nil, storageErr("read session", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT role, content, ts FROM messages WHERE session_id = ? ORDER BY seq ASC`,
		sessionID)
	if err != nil {
		return nil, storageErr("read messages", err)
	}
	defer rows.Close()

	s := &domain.Session{
		SessionID: sessionID,
		CreatedAt: fromMillis(createdAt),
		UpdatedAt: fromMillis(updatedAt),
	}
	for rows.Next() {
		var role, content string
		var ts int64
		if err := rows.Scan(&role, &content, &ts); err != nil {
			return nil, storageErr("scan message", err)
		}
		s.Messages = append(s.Messages, domain.Message{
			Role:      domain.Role(role),
			Content:   content,
			Timestamp: fromMillis(ts),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("read messages", err)
	}
	return s, nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
