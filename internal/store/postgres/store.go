// Package postgres is the PostgreSQL/TimescaleDB time-series store.
// price_bars becomes a hypertable when the timescaledb extension is present.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stock-analyzerv1/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultTimeout = 5 * time.Second

const schema = `
	CREATE TABLE IF NOT EXISTS price_bars (
		security_id TEXT             NOT NULL,
		ts          TIMESTAMPTZ      NOT NULL,
		open        DOUBLE PRECISION NOT NULL,
		close       DOUBLE PRECISION NOT NULL,
		high        DOUBLE PRECISION NOT NULL,
		low         DOUBLE PRECISION NOT NULL,
		volume      BIGINT           NOT NULL DEFAULT 0,
		turnover    DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (security_id, ts)
	);

	CREATE TABLE IF NOT EXISTS security_info (
		security_id  TEXT PRIMARY KEY,
		display_name TEXT        NOT NULL DEFAULT '',
		lot_size     BIGINT      NOT NULL DEFAULT 0,
		category     TEXT        NOT NULL DEFAULT '',
		sub_category TEXT        NOT NULL DEFAULT '',
		owner        TEXT        NOT NULL DEFAULT '',
		listing_date TIMESTAMPTZ,
		last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
	);
`

// Config configures the Postgres store.
type Config struct {
	DSN     string
	Timeout time.Duration
}

// Store implements model.Store on a pgx connection pool.
type Store struct {
	db      *pgxpool.Pool
	timeout time.Duration
	logger  *slog.Logger
}

// Open connects, verifies the connection and creates the schema.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	s := &Store{db: pool, timeout: cfg.Timeout, logger: logger}

	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	s.maybeHypertable(ctx)

	logger.Info("postgres store ready")
	return s, nil
}

func (s *Store) maybeHypertable(ctx context.Context) {
	var hasTimescale bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')`).Scan(&hasTimescale)
	if err != nil || !hasTimescale {
		return
	}
	_, err = s.db.Exec(ctx,
		`SELECT create_hypertable('price_bars', 'ts', if_not_exists => TRUE, migrate_data => TRUE)`)
	if err != nil {
		s.logger.Warn("create_hypertable failed", slog.Any("error", err))
	}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// classify marks timeouts and connection-level failures as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return model.Transient(err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08: connection exception; 57P01: admin shutdown
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" || pgErr.Code == "57P01" {
			return model.Transient(err)
		}
		return err
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return model.Transient(err)
	}
	return err
}

// UpsertBars writes bars in one batch; same-key bars are overwritten.
func (s *Store) UpsertBars(ctx context.Context, securityID string, bars []model.PriceBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(`
			INSERT INTO price_bars (security_id, ts, open, close, high, low, volume, turnover)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (security_id, ts) DO UPDATE SET
				open = EXCLUDED.open, close = EXCLUDED.close,
				high = EXCLUDED.high, low = EXCLUDED.low,
				volume = EXCLUDED.volume, turnover = EXCLUDED.turnover
		`, securityID, b.TS.UTC(), b.Open, b.Close, b.High, b.Low, b.Volume, b.Turnover)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, classify(err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, classify(fmt.Errorf("postgres upsert %s: %w", securityID, err))
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, classify(err)
	}
	return len(bars), nil
}

func scanBars(rows pgx.Rows) ([]model.PriceBar, error) {
	defer rows.Close()
	var bars []model.PriceBar
	for rows.Next() {
		var b model.PriceBar
		if err := rows.Scan(&b.SecurityID, &b.TS, &b.Open, &b.Close, &b.High, &b.Low, &b.Volume, &b.Turnover); err != nil {
			return nil, fmt.Errorf("postgres scan price_bars: %w", err)
		}
		b.TS = b.TS.UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// QueryBars returns bars with start <= ts <= end, ascending by time.
func (s *Store) QueryBars(ctx context.Context, securityID string, start, end time.Time) ([]model.PriceBar, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.Query(ctx, `
		SELECT security_id, ts, open, close, high, low, volume, turnover
		FROM price_bars
		WHERE security_id = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts ASC
	`, securityID, start.UTC(), end.UTC())
	if err != nil {
		return nil, classify(err)
	}
	bars, err := scanBars(rows)
	return bars, classify(err)
}

// LatestBars returns up to n most recent bars, ascending by time.
func (s *Store) LatestBars(ctx context.Context, securityID string, n int) ([]model.PriceBar, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.Query(ctx, `
		SELECT * FROM (
			SELECT security_id, ts, open, close, high, low, volume, turnover
			FROM price_bars
			WHERE security_id = $1
			ORDER BY ts DESC
			LIMIT $2
		) latest ORDER BY ts ASC
	`, securityID, n)
	if err != nil {
		return nil, classify(err)
	}
	bars, err := scanBars(rows)
	return bars, classify(err)
}

// QueryDistinctSecurities lists every security with stored bars, sorted.
func (s *Store) QueryDistinctSecurities(ctx context.Context) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.Query(ctx, `SELECT DISTINCT security_id FROM price_bars ORDER BY security_id`)
	if err != nil {
		return nil, classify(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, classify(err)
}

// SecurityStats summarizes one security's bars. ErrNotFound when it has none.
func (s *Store) SecurityStats(ctx context.Context, securityID string) (model.BarStats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		st               = model.BarStats{SecurityID: securityID}
		minC, maxC       *float64
		earliest, latest *time.Time
	)
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*), MIN(close), MAX(close), MIN(ts), MAX(ts)
		FROM price_bars WHERE security_id = $1
	`, securityID).Scan(&st.Count, &minC, &maxC, &earliest, &latest)
	if err != nil {
		return model.BarStats{}, classify(err)
	}
	if st.Count == 0 {
		return model.BarStats{}, fmt.Errorf("%s: %w", securityID, model.ErrNotFound)
	}
	st.MinClose, st.MaxClose = *minC, *maxC
	st.Earliest, st.Latest = earliest.UTC(), latest.UTC()
	return st, nil
}

// AggregateStats summarizes the whole store.
func (s *Store) AggregateStats(ctx context.Context) (model.StoreStats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		st               model.StoreStats
		earliest, latest *time.Time
	)
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(DISTINCT security_id), COUNT(*), MIN(ts), MAX(ts) FROM price_bars
	`).Scan(&st.SecurityCount, &st.TotalRecords, &earliest, &latest)
	if err != nil {
		return model.StoreStats{}, classify(err)
	}
	if earliest != nil {
		st.Earliest, st.Latest = earliest.UTC(), latest.UTC()
	}
	return st, nil
}

// UpsertSecurityInfo inserts or updates info; an empty name keeps the known one.
func (s *Store) UpsertSecurityInfo(ctx context.Context, info model.SecurityInfo) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if info.LastUpdated.IsZero() {
		info.LastUpdated = time.Now()
	}
	var listing *time.Time
	if !info.ListingDate.IsZero() {
		l := info.ListingDate.UTC()
		listing = &l
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO security_info
			(security_id, display_name, lot_size, category, sub_category, owner, listing_date, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (security_id) DO UPDATE SET
			display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), security_info.display_name),
			lot_size     = EXCLUDED.lot_size,
			category     = EXCLUDED.category,
			sub_category = EXCLUDED.sub_category,
			owner        = EXCLUDED.owner,
			listing_date = COALESCE(EXCLUDED.listing_date, security_info.listing_date),
			last_updated = EXCLUDED.last_updated
	`, info.SecurityID, info.DisplayName, info.LotSize, info.Category, info.SubCategory, info.Owner,
		listing, info.LastUpdated.UTC())
	if err != nil {
		s.logger.Error("failed to upsert security info", slog.String("code", info.SecurityID), slog.Any("error", err))
		return classify(err)
	}
	return nil
}

// EnsureSecurity creates an empty info row when none exists.
func (s *Store) EnsureSecurity(ctx context.Context, securityID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.db.Exec(ctx,
		`INSERT INTO security_info (security_id) VALUES ($1) ON CONFLICT (security_id) DO NOTHING`, securityID)
	return classify(err)
}

// GetSecurityInfo returns ErrNotFound when no row exists.
func (s *Store) GetSecurityInfo(ctx context.Context, securityID string) (model.SecurityInfo, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		info    model.SecurityInfo
		listing *time.Time
	)
	err := s.db.QueryRow(ctx, `
		SELECT security_id, display_name, lot_size, category, sub_category, owner, listing_date, last_updated
		FROM security_info WHERE security_id = $1
	`, securityID).Scan(&info.SecurityID, &info.DisplayName, &info.LotSize, &info.Category,
		&info.SubCategory, &info.Owner, &listing, &info.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.SecurityInfo{}, fmt.Errorf("%s: %w", securityID, model.ErrNotFound)
	}
	if err != nil {
		return model.SecurityInfo{}, classify(err)
	}
	if listing != nil {
		info.ListingDate = listing.UTC()
	}
	info.LastUpdated = info.LastUpdated.UTC()
	return info, nil
}

// SecuritiesMissingName lists ids whose display name is empty, sorted.
func (s *Store) SecuritiesMissingName(ctx context.Context) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.Query(ctx,
		`SELECT security_id FROM security_info WHERE display_name = '' ORDER BY security_id`)
	if err != nil {
		return nil, classify(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, classify(err)
}

// Names returns the non-empty display names of ids in one query.
func (s *Store) Names(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.Query(ctx, `
		SELECT security_id, display_name FROM security_info
		WHERE display_name <> '' AND security_id = ANY($1)
	`, ids)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = name
	}
	return out, classify(rows.Err())
}

// Ping checks the pool.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return classify(s.db.Ping(ctx))
}

// Close closes the pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

var _ model.Store = (*Store)(nil)
