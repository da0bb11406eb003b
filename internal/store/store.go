// Package store provides the durable conversation store.
//
// One SQL implementation serves sqlite (default, tests), postgres and mysql.
// Queries are written with '?' placeholders and rebound per dialect.
// Timestamps are stored as unix nanoseconds so ordering does not depend on
// driver time handling.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-router/internal/model"
	"github.com/capitalize-ai/livechat-router/pkg/logger"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

type dialect struct {
	driver      string
	numbered    bool   // $1, $2 placeholders
	forUpdate   string // row lock suffix inside transactions
	extraSchema []string
}

var dialects = map[string]dialect{
	DriverSQLite: {
		driver: DriverSQLite,
		extraSchema: []string{
			`CREATE INDEX IF NOT EXISTS idx_conversations_contact ON conversations(channel, external_id, status)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_external ON messages(external_id)`,
		},
	},
	DriverPostgres: {
		driver:    DriverPostgres,
		numbered:  true,
		forUpdate: " FOR UPDATE",
		extraSchema: []string{
			`CREATE INDEX IF NOT EXISTS idx_conversations_contact ON conversations(channel, external_id, status)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_external ON messages(external_id)`,
		},
	},
	// MySQL has no CREATE INDEX IF NOT EXISTS; lookups fall back to table scans.
	DriverMySQL: {
		driver:    DriverMySQL,
		forUpdate: " FOR UPDATE",
	},
}

// SQLStore is the conversation store backed by database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *logger.Logger
	now     func() time.Time
}

// Open connects to the database, tunes the pool for the driver and runs migrations.
func Open(ctx context.Context, driver, dsn string, log *logger.Logger) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if driver == DriverSQLite && !strings.Contains(dsn, "?") {
		params := "?_busy_timeout=5000&_foreign_keys=on"
		if dsn != ":memory:" {
			params += "&_journal_mode=WAL"
		}
		dsn += params
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	switch driver {
	case DriverSQLite:
		// One writer; also keeps an in-memory database on a single connection.
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(20)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLStore{
		db:      db,
		dialect: d,
		logger:  log,
		now:     time.Now,
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("database ready", zap.String("driver", driver))
	return s, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) migrate(ctx context.Context) error {
	statements := append([]string{
		`CREATE TABLE IF NOT EXISTS agents (
id         VARCHAR(64) PRIMARY KEY,
name       VARCHAR(256) NOT NULL,
email      VARCHAR(256) NOT NULL DEFAULT '',
active     BOOLEAN NOT NULL DEFAULT TRUE,
created_at BIGINT NOT NULL,
updated_at BIGINT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS conversations (
id                VARCHAR(64) PRIMARY KEY,
customer_name     VARCHAR(256) NOT NULL,
customer_phone    VARCHAR(64) NOT NULL DEFAULT '',
customer_email    VARCHAR(256) NOT NULL DEFAULT '',
customer_company  VARCHAR(256) NOT NULL DEFAULT '',
channel           VARCHAR(32) NOT NULL,
external_id       VARCHAR(128) NOT NULL DEFAULT '',
status            VARCHAR(32) NOT NULL,
assigned_agent_id VARCHAR(64) NULL,
handler           VARCHAR(16) NOT NULL DEFAULT '',
needs_human       BOOLEAN NOT NULL DEFAULT FALSE,
unread_count      INTEGER NOT NULL DEFAULT 0,
message_count     INTEGER NOT NULL DEFAULT 0,
last_message_text TEXT NULL,
last_message_at   BIGINT NULL,
last_sender_type  VARCHAR(16) NULL,
created_at        BIGINT NOT NULL,
started_at        BIGINT NULL,
ended_at          BIGINT NULL,
updated_at        BIGINT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS messages (
id              VARCHAR(64) PRIMARY KEY,
conversation_id VARCHAR(64) NOT NULL REFERENCES conversations(id),
seq             BIGINT NOT NULL,
external_id     VARCHAR(128) NULL,
sender_type     VARCHAR(16) NOT NULL,
sender_name     VARCHAR(256) NOT NULL DEFAULT '',
sender_id       VARCHAR(64) NOT NULL DEFAULT '',
source          VARCHAR(16) NOT NULL,
body            TEXT NOT NULL,
content_type    VARCHAR(32) NOT NULL,
model           VARCHAR(128) NULL,
tokens_in       INTEGER NULL,
tokens_out      INTEGER NULL,
latency_ms      BIGINT NULL,
created_at      BIGINT NOT NULL,
UNIQUE (conversation_id, seq)
)`,
		`CREATE TABLE IF NOT EXISTS settings (
name       VARCHAR(64) PRIMARY KEY,
value      TEXT NOT NULL,
updated_at BIGINT NOT NULL
)`,
	}, s.dialect.extraSchema...)

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// rebind converts '?' placeholders to the dialect's syntax.
func (s *SQLStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

type scanner interface {
	Scan(dest ...any) error
}

// ErrNotFound aliases the model sentinel so callers may match either.
var ErrNotFound = model.ErrNotFound
