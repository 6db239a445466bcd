package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"barberbook/internal/domain"
	"barberbook/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB is the SQLite implementation of every domain store.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var builder = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if path != ":memory:" {
		// Создаем директорию для БД, если её нет
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time; also keeps a :memory: database on a single connection
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: sqlDB, path: path, logger: logger}
	if err := db.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return db, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string { return db.path }

func (db *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS barbers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS customers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			chat_id INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS shop_closures (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			closed_dates TEXT NOT NULL DEFAULT '[]',
			closed_days TEXT NOT NULL DEFAULT '[]',
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS closure_rules (
			barber_id TEXT PRIMARY KEY,
			closed_weekdays TEXT NOT NULL DEFAULT '[]',
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS closure_exceptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			barber_id TEXT NOT NULL,
			date TEXT NOT NULL,
			closure_type TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE (barber_id, date, closure_type)
		)`,
		`CREATE TABLE IF NOT EXISTS removed_auto_closures (
			barber_id TEXT NOT NULL,
			date TEXT NOT NULL,
			closure_type TEXT NOT NULL,
			removed_at DATETIME NOT NULL,
			PRIMARY KEY (barber_id, date, closure_type)
		)`,
		`CREATE TABLE IF NOT EXISTS day_schedules (
			barber_id TEXT NOT NULL,
			date TEXT NOT NULL,
			slots TEXT NOT NULL DEFAULT '[]',
			unavailable_slots TEXT NOT NULL DEFAULT '[]',
			is_day_off INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (barber_id, date)
		)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			barber_id TEXT NOT NULL,
			date TEXT NOT NULL,
			time TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS waitlist (
			id TEXT PRIMARY KEY,
			barber_id TEXT NOT NULL,
			date TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			status TEXT NOT NULL,
			offered_time TEXT,
			offer_expires_at INTEGER,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notification_outbox (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			customer_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at DATETIME NOT NULL,
			processed_at DATETIME,
			next_retry_at DATETIME
		)`,

		`CREATE INDEX IF NOT EXISTS idx_exceptions_barber_date ON closure_exceptions(barber_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_barber_date ON bookings(barber_id, date)`,
		// не больше одной активной записи на слот
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_active_slot ON bookings(barber_id, date, time)
			WHERE status IN ('pending', 'confirmed')`,
		`CREATE INDEX IF NOT EXISTS idx_waitlist_key ON waitlist(barber_id, date, status, position)`,
		// не больше одного предложения на (barber, date)
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_waitlist_one_offer ON waitlist(barber_id, date)
			WHERE status = 'offered'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_waitlist_open_customer ON waitlist(barber_id, date, customer_id)
			WHERE status IN ('waiting', 'offered')`,
		`CREATE INDEX IF NOT EXISTS idx_waitlist_offer_expiry ON waitlist(status, offer_expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_status ON notification_outbox(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", firstLine(query), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// inTx runs fn in a transaction and commits when it returns nil.
func (db *DB) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Transient(op+": begin", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return domain.Transient(op+": commit", err)
	}
	return nil
}

// storeErr classifies a driver error. Domain errors pass through untouched.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{domain.ErrValidation, domain.ErrNotFound, domain.ErrConflict, domain.ErrState, domain.ErrTransientStore} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return domain.Transient(op, err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func parseDateColumn(raw string) (time.Time, error) {
	d, err := models.ParseDate(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt date column: %w", err)
	}
	return d, nil
}

func encodeJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeJSON(raw string, v any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}

func toMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}
