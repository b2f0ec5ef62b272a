package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"stock-analyzerv1/internal/model"
)

const barColumns = `security_id, ts, open, close, high, low, volume, turnover`

func scanBars(rows *sql.Rows) ([]model.PriceBar, error) {
	var bars []model.PriceBar
	for rows.Next() {
		var b model.PriceBar
		var tsUnix int64
		if err := rows.Scan(&b.SecurityID, &tsUnix, &b.Open, &b.Close, &b.High, &b.Low, &b.Volume, &b.Turnover); err != nil {
			return nil, fmt.Errorf("sqlite scan price_bars: %w", err)
		}
		b.TS = time.Unix(tsUnix, 0).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// QueryBars returns bars with start <= ts <= end, ascending by time.
func (s *Store) QueryBars(ctx context.Context, securityID string, start, end time.Time) ([]model.PriceBar, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+barColumns+`
		FROM price_bars
		WHERE security_id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, securityID, start.UTC().Unix(), end.UTC().Unix())
	if err != nil {
		return nil, classify(fmt.Errorf("sqlite query price_bars: %w", err))
	}
	defer rows.Close()
	bars, err := scanBars(rows)
	return bars, classify(err)
}

// LatestBars returns up to n most recent bars, ascending by time.
func (s *Store) LatestBars(ctx context.Context, securityID string, n int) ([]model.PriceBar, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+barColumns+` FROM (
			SELECT `+barColumns+`
			FROM price_bars
			WHERE security_id = ?
			ORDER BY ts DESC
			LIMIT ?
		) ORDER BY ts ASC
	`, securityID, n)
	if err != nil {
		return nil, classify(fmt.Errorf("sqlite latest price_bars: %w", err))
	}
	defer rows.Close()
	bars, err := scanBars(rows)
	return bars, classify(err)
}

// QueryDistinctSecurities lists every security with stored bars, sorted.
func (s *Store) QueryDistinctSecurities(ctx context.Context) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT security_id FROM price_bars ORDER BY security_id`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, classify(rows.Err())
}

// SecurityStats summarizes one security's bars. ErrNotFound when it has none.
func (s *Store) SecurityStats(ctx context.Context, securityID string) (model.BarStats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		count            int64
		minC, maxC       sql.NullFloat64
		earliest, latest sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(close), MAX(close), MIN(ts), MAX(ts)
		FROM price_bars WHERE security_id = ?
	`, securityID).Scan(&count, &minC, &maxC, &earliest, &latest)
	if err != nil {
		return model.BarStats{}, classify(err)
	}
	if count == 0 {
		return model.BarStats{}, fmt.Errorf("%s: %w", securityID, model.ErrNotFound)
	}
	return model.BarStats{
		SecurityID: securityID,
		Count:      count,
		MinClose:   minC.Float64,
		MaxClose:   maxC.Float64,
		Earliest:   time.Unix(earliest.Int64, 0).UTC(),
		Latest:     time.Unix(latest.Int64, 0).UTC(),
	}, nil
}

// AggregateStats summarizes the whole store. Empty stores yield zero values.
func (s *Store) AggregateStats(ctx context.Context) (model.StoreStats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		st               model.StoreStats
		earliest, latest sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT security_id), COUNT(*), MIN(ts), MAX(ts) FROM price_bars
	`).Scan(&st.SecurityCount, &st.TotalRecords, &earliest, &latest)
	if err != nil {
		return model.StoreStats{}, classify(err)
	}
	if earliest.Valid {
		st.Earliest = time.Unix(earliest.Int64, 0).UTC()
		st.Latest = time.Unix(latest.Int64, 0).UTC()
	}
	return st, nil
}

// GetSecurityInfo returns ErrNotFound when no row exists.
func (s *Store) GetSecurityInfo(ctx context.Context, securityID string) (model.SecurityInfo, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		info    model.SecurityInfo
		listing sql.NullInt64
		updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT security_id, display_name, lot_size, category, sub_category, owner, listing_date, last_updated
		FROM security_info WHERE security_id = ?
	`, securityID).Scan(&info.SecurityID, &info.DisplayName, &info.LotSize, &info.Category,
		&info.SubCategory, &info.Owner, &listing, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SecurityInfo{}, fmt.Errorf("%s: %w", securityID, model.ErrNotFound)
	}
	if err != nil {
		return model.SecurityInfo{}, classify(err)
	}
	if listing.Valid {
		info.ListingDate = time.Unix(listing.Int64, 0).UTC()
	}
	info.LastUpdated = time.Unix(updated, 0).UTC()
	return info, nil
}

// SecuritiesMissingName lists ids whose display name is empty, sorted.
func (s *Store) SecuritiesMissingName(ctx context.Context) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT security_id FROM security_info WHERE display_name = '' ORDER BY security_id`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, classify(rows.Err())
}

// Names returns the non-empty display names of ids in one query.
func (s *Store) Names(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	rows, err := s.db.QueryContext(ctx,
		`SELECT security_id, display_name FROM security_info
		 WHERE display_name != '' AND security_id IN (`+placeholders+`)`, args...)
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

var _ model.Store = (*Store)(nil)
