package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xiaot623/gogo/chatvault/internal/domain"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// PostgresRepository implements SessionRepository on PostgreSQL. Besides the
// in-process keyed lock it takes a transaction-scoped advisory lock per
// session, so several processes sharing a database still serialize appends.
type PostgresRepository struct {
	pool  *pgxpool.Pool
	locks *KeyedMutex
	now   Clock
}

// NewPostgresRepository connects to databaseURL and applies migrations.
func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	migrationsFS, err := fs.Sub(postgresMigrations, "migrations/postgres")
	if err != nil {
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}
	if err := RunMigrations(databaseURL, migrationsFS); err != nil {
		return nil, err
	}

	pool, err := NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &PostgresRepository{pool: pool, locks: NewKeyedMutex(), now: domain.Now}, nil
}

// NewPool creates a pgx connection pool and verifies connectivity.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations applies the migrations in migrationsFS to databaseURL.
func RunMigrations(databaseURL string, migrationsFS fs.FS) error {
	d, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	slog.Info("migrations applied", "version", version, "dirty", dirty)
	return nil
}

// WithClock replaces the time source. Intended for tests.
func (r *PostgresRepository) WithClock(now Clock) *PostgresRepository {
	r.now = now
	return r
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateOrAppend appends msgs to the session, creating it if needed.
func (r *PostgresRepository) CreateOrAppend(ctx context.Context, sessionID string, msgs []domain.Message) (*domain.Session, error) {
	if err := validateAppend(sessionID, msgs); err != nil {
		return nil, err
	}

	unlock, err := r.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, storageErr("wait for session lock", err)
	}
	defer unlock()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, storageErr("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, sessionID); err != nil {
		return nil, storageErr("advisory lock", err)
	}

	current, err := loadPostgresSession(ctx, tx, sessionID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	next := applyAppend(current, sessionID, msgs, r.now())
	seq := 0
	if current == nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO sessions (session_id, created_at, updated_at, schema_version) VALUES ($1, $2, $3, $4)`,
			sessionID, next.CreatedAt, next.UpdatedAt, domain.SchemaVersion)
	} else {
		seq = len(current.Messages)
		_, err = tx.Exec(ctx, `UPDATE sessions SET updated_at = $1 WHERE session_id = $2`, next.UpdatedAt, sessionID)
	}
	if err != nil {
		return nil, storageErr("write session", err)
	}

	batch := &pgx.Batch{}
	for i, m := range next.Messages[seq:] {
		batch.Queue(`INSERT INTO messages (session_id, seq, role, content, ts) VALUES ($1, $2, $3, $4, $5)`,
			sessionID, seq+i, string(m.Role), m.Content, m.Timestamp)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, storageErr("write messages", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit", err)
	}
	return next, nil
}

// Get retrieves a session with all of its messages.
func (r *PostgresRepository) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	if err := domain.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, storageErr("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	return loadPostgresSession(ctx, tx, sessionID)
}

func loadPostgresSession(ctx context.Context, tx pgx.Tx, sessionID string) (*domain.Session, error) {
	s := &domain.Session{SessionID: sessionID}
	err := tx.QueryRow(ctx,
		`SELECT created_at, updated_at FROM sessions WHERE session_id = $1`,
		sessionID).Scan(&s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(sessionID)
	}
	if err != nil {
		return nil, storageErr("read session", err)
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()

	rows, err := tx.Query(ctx,
		`SELECT role, content, ts FROM messages WHERE session_id = $1 ORDER BY seq ASC`,
		sessionID)
	if err != nil {
		return nil, storageErr("read messages", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.Message
		var role string
		if err := rows.Scan(&role, &m.Content, &m.Timestamp); err != nil {
			return nil, storageErr("scan message", err)
		}
		m.Role = domain.Role(role)
		m.Timestamp = m.Timestamp.UTC()
		s.Messages = append(s.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("read messages", err)
	}
	return s, nil
}
