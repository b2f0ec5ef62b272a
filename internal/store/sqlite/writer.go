// Package sqlite is the default time-series store: price bars and security
// reference data in a single WAL-mode SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"stock-analyzerv1/internal/model"

	"github.com/mattn/go-sqlite3"
)

const defaultTimeout = 5 * time.Second

// Config configures the SQLite store.
type Config struct {
	Path    string        // e.g. "data/stocks.db"
	Timeout time.Duration // per-call bound; exceeded calls fail with ErrTransient
}

// Store implements model.Store on SQLite.
type Store struct {
	db      *sql.DB
	timeout time.Duration
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens (creating if needed) the database with WAL mode and schema.
func Open(cfg Config) (*Store, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// WAL: readers do not block the writer
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.Path)
	return &Store{db: db, timeout: cfg.Timeout}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS price_bars (
			security_id TEXT    NOT NULL,
			ts          INTEGER NOT NULL,
			open        REAL    NOT NULL,
			close       REAL    NOT NULL,
			high        REAL    NOT NULL,
			low         REAL    NOT NULL,
			volume      INTEGER NOT NULL DEFAULT 0,
			turnover    REAL    NOT NULL DEFAULT 0,
			PRIMARY KEY (security_id, ts)
		);

		CREATE TABLE IF NOT EXISTS security_info (
			security_id  TEXT PRIMARY KEY,
			display_name TEXT    NOT NULL DEFAULT '',
			lot_size     INTEGER NOT NULL DEFAULT 0,
			category     TEXT    NOT NULL DEFAULT '',
			sub_category TEXT    NOT NULL DEFAULT '',
			owner        TEXT    NOT NULL DEFAULT '',
			listing_date INTEGER,
			last_updated INTEGER NOT NULL
		);
	`)
	return err
}

// withTimeout bounds a store call by the configured timeout.
func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// classify marks timeouts and lock contention as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.Transient(err)
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return model.Transient(err)
	}
	return err
}

// UpsertBars writes bars in a single transaction. A bar with an existing
// (security_id, ts) key replaces the stored row.
func (s *Store) UpsertBars(ctx context.Context, securityID string, bars []model.PriceBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO price_bars (security_id, ts, open, close, high, low, volume, turnover)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return 0, classify(err)
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.ExecContext(ctx, securityID, b.TS.UTC().Unix(), b.Open, b.Close, b.High, b.Low, b.Volume, b.Turnover)
		if err != nil {
			tx.Rollback()
			return 0, classify(fmt.Errorf("sqlite upsert %s: %w", securityID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, classify(err)
	}
	return len(bars), nil
}

// UpsertSecurityInfo inserts or updates info by security id. An empty
// display name never overwrites a known one.
func (s *Store) UpsertSecurityInfo(ctx context.Context, info model.SecurityInfo) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if info.LastUpdated.IsZero() {
		info.LastUpdated = time.Now()
	}
	var listing sql.NullInt64
	if !info.ListingDate.IsZero() {
		listing = sql.NullInt64{Int64: info.ListingDate.UTC().Unix(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO security_info
			(security_id, display_name, lot_size, category, sub_category, owner, listing_date, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(security_id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name = '' THEN security_info.display_name ELSE excluded.display_name END,
			lot_size     = excluded.lot_size,
			category     = excluded.category,
			sub_category = excluded.sub_category,
			owner        = excluded.owner,
			listing_date = COALESCE(excluded.listing_date, security_info.listing_date),
			last_updated = excluded.last_updated
	`, info.SecurityID, info.DisplayName, info.LotSize, info.Category, info.SubCategory, info.Owner,
		listing, info.LastUpdated.UTC().Unix())
	if err != nil {
		return classify(fmt.Errorf("sqlite upsert info %s: %w", info.SecurityID, err))
	}
	return nil
}

// EnsureSecurity creates an empty info row when none exists.
func (s *Store) EnsureSecurity(ctx context.Context, securityID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO security_info (security_id, last_updated) VALUES (?, ?)`,
		securityID, time.Now().UTC().Unix())
	return classify(err)
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return classify(s.db.PingContext(ctx))
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
