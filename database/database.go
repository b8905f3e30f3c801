package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver for small deployments and tests
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite3"

	operationTimeout = 10 * time.Second
	maxExecRetries   = 3
)

// schemaStatements is the portable archive schema. Queries are written
// with ? placeholders and rebound to $N on Postgres. Full-text search
// configuration and the gm_posts_90day materialized view are provisioned
// out of band; RefreshGMWindowView only refreshes an existing view.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS members(
		member_id     TEXT PRIMARY KEY,
		username      TEXT,
		display_name  TEXT,
		avatar_url    TEXT,
		is_bot        BOOLEAN,
		is_gm         BOOLEAN DEFAULT FALSE,
		joined_at     BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS channels(
		chan_id         TEXT PRIMARY KEY,
		guild_id        TEXT,
		parent_id       TEXT,
		name            TEXT,
		type            TEXT,
		topic           TEXT,
		accessible      BOOLEAN,
		last_message_id TEXT,
		created_ts      BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS posts(
		post_id      TEXT PRIMARY KEY,
		chan_id      TEXT NOT NULL,
		author_id    TEXT NOT NULL,
		content      TEXT,
		created_ts   BIGINT,
		edited_ts    BIGINT,
		pinned       BOOLEAN,
		deleted      BOOLEAN DEFAULT FALSE,
		reply_to_id  TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS post_revisions(
		post_id      TEXT,
		chan_id      TEXT,
		author_id    TEXT,
		content      TEXT,
		captured_ts  BIGINT,
		is_edit      BOOLEAN
	)`,
	`CREATE TABLE IF NOT EXISTS attachments(
		attach_id    TEXT PRIMARY KEY,
		post_id      TEXT NOT NULL,
		filename     TEXT,
		url          TEXT,
		content_type TEXT,
		size         INTEGER,
		width        INTEGER,
		height       INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS embeds(
		post_id    TEXT NOT NULL,
		type       TEXT,
		data_json  TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS gm_names(
		author_id  TEXT PRIMARY KEY,
		gm_name    TEXT NOT NULL,
		updated_at BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS bot_metadata(
		key        TEXT PRIMARY KEY,
		value      TEXT,
		updated_at BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS crawl_progress(
		chan_id      TEXT PRIMARY KEY,
		last_seen_id TEXT NOT NULL,
		updated_at   BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS repost_queue(
		post_id     TEXT PRIMARY KEY,
		chan_id     TEXT NOT NULL,
		enqueued_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_chan_ts   ON posts (chan_id, created_ts)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_author_ts ON posts (author_id, created_ts)`,
	`CREATE INDEX IF NOT EXISTS idx_revisions_post  ON post_revisions (post_id, captured_ts)`,
	`CREATE INDEX IF NOT EXISTS idx_members_is_gm   ON members (is_gm)`,
	`CREATE INDEX IF NOT EXISTS idx_channels_parent ON channels (parent_id)`,
	`CREATE INDEX IF NOT EXISTS idx_queue_enqueued  ON repost_queue (enqueued_at)`,
}

// DB wraps the archive store. All SQL in this package uses ? placeholders;
// they are rebound to $N when the underlying driver is Postgres.
type DB struct {
	sql    *sql.DB
	driver string
}

// Open connects to the archive store and ensures the schema exists.
// A postgres:// URL selects the Postgres driver; anything else is
// treated as a SQLite file path.
func Open(databaseURL string) (*DB, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("no database URL configured")
	}

	driver := driverSQLite
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		driver = driverPostgres
	} else {
		// Ensure the directory for the database file exists.
		if dir := filepath.Dir(databaseURL); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	sqlDB, err := sql.Open(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == driverSQLite {
		// SQLite serializes writers; a single connection avoids lock errors.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
	}

	db := &DB{sql: sqlDB, driver: driver}
	if err := db.ensureSchema(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to bootstrap schema: %w", err)
	}

	log.Printf("[DB] Connected (%s)", driver)
	return db, nil
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// IsPostgres reports whether the store runs on the Postgres driver.
func (d *DB) IsPostgres() bool {
	return d.driver == driverPostgres
}

func (d *DB) ensureSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := d.sql.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// rebind converts ? placeholders to $N for the Postgres driver.
func (d *DB) rebind(query string) string {
	if d.driver != driverPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	arg := 1
	for _, r := range query {
		if r == '?' {
			fmt.Fprintf(&b, "$%d", arg)
			arg++
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *DB) exec(query string, args ...any) (sql.Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()
	return d.sql.ExecContext(ctx, d.rebind(query), args...)
}

// execRetry retries transient failures with a short linear backoff.
func (d *DB) execRetry(query string, args ...any) error {
	var err error
	for attempt := 0; attempt < maxExecRetries; attempt++ {
		if _, err = d.exec(query, args...); err == nil {
			return nil
		}
		if attempt < maxExecRetries-1 {
			log.Printf("[DB] Retrying after error: %v", err)
			time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
		}
	}
	return err
}

// query runs without a per-call deadline: the returned rows are
// consumed by the caller after this returns, so a context scoped to
// this call would be canceled mid-iteration.
func (d *DB) query(query string, args ...any) (*sql.Rows, error) {
	return d.sql.Query(d.rebind(query), args...)
}

func (d *DB) queryRow(query string, args ...any) *sql.Row {
	return d.sql.QueryRow(d.rebind(query), args...)
}

// Health runs a quick sanity count and logs the result.
func (d *DB) Health() error {
	start := time.Now()
	var posts, members int64
	if err := d.queryRow("SELECT COUNT(*) FROM posts").Scan(&posts); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if err := d.queryRow("SELECT COUNT(*) FROM members").Scan(&members); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	elapsed := time.Since(start)
	if elapsed > 2*time.Second {
		log.Printf("[Health] Warning: slow count query took %s", elapsed)
	} else {
		log.Printf("[Health] OK: %d posts / %d members in %s", posts, members, elapsed)
	}
	return nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
