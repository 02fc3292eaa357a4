package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"assetfeed/internal/errs"
	"assetfeed/internal/model"
)

// SQLite persists series and distribution events to a SQLite database.
type SQLite struct {
	db *sql.DB
	mu sync.Mutex
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (or creates) the database and runs migrations.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// WAL keeps concurrent readers cheap while the fetch path writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS price_points (
			symbol TEXT NOT NULL,
			date   TEXT NOT NULL,
			open   REAL NOT NULL,
			high   REAL NOT NULL,
			low    REAL NOT NULL,
			close  REAL NOT NULL,
			volume INTEGER NOT NULL,
			source TEXT NOT NULL,
			PRIMARY KEY (symbol, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_points_date ON price_points(date)`,

		`CREATE TABLE IF NOT EXISTS distribution_events (
			symbol   TEXT NOT NULL,
			ex_date  TEXT NOT NULL,
			pay_date TEXT,
			amount   REAL NOT NULL,
			source   TEXT NOT NULL,
			PRIMARY KEY (symbol, ex_date)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

func (s *SQLite) PersistSeries(ctx context.Context, symbol string, points []model.PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.New(errs.KindPersistenceError, errs.WithSymbol(symbol), errs.WithCause(err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO price_points
		(symbol, date, open, high, low, close, volume, source)
		VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		return errs.New(errs.KindPersistenceError, errs.WithSymbol(symbol), errs.WithCause(err))
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, symbol, p.Date.Format(model.DateLayout),
			p.Open, p.High, p.Low, p.Close, p.Volume, p.Source); err != nil {
			return errs.New(errs.KindPersistenceError, errs.WithSymbol(symbol), errs.WithCause(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.New(errs.KindPersistenceError, errs.WithSymbol(symbol), errs.WithCause(err))
	}
	return nil
}

func (s *SQLite) QuerySeries(ctx context.Context, symbol string, start, end time.Time) ([]model.PricePoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, date, open, high, low, close, volume, source
		FROM price_points WHERE symbol = ? AND date >= ? AND date <= ? ORDER BY date ASC`,
		symbol, start.Format(model.DateLayout), end.Format(model.DateLayout))
	if err != nil {
		return nil, errs.New(errs.KindPersistenceError, errs.WithSymbol(symbol), errs.WithCause(err))
	}
	defer rows.Close()

	var points []model.PricePoint
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, errs.New(errs.KindPersistenceError, errs.WithSymbol(symbol), errs.WithCause(err))
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.KindPersistenceError, errs.WithSymbol(symbol), errs.WithCause(err))
	}
	return points, nil
}

func (s *SQLite) LatestPoint(ctx context.Context, symbol string) (*model.PricePoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT symbol, date, open, high, low, close, volume, source
		FROM price_points WHERE symbol = ? ORDER BY date DESC LIMIT 1`, symbol)
	p, err := scanPoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.New(errs.KindPersistenceError, errs.WithSymbol(symbol), errs.WithCause(err))
	}
	return &p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPoint(row rowScanner) (model.PricePoint, error) {
	var p model.PricePoint
	var date string
	if err := row.Scan(&p.Symbol, &date, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume, &p.Source); err != nil {
		return model.PricePoint{}, err
	}
	d, err := time.Parse(model.DateLayout, date)
	if err != nil {
		return model.PricePoint{}, err
	}
	p.Date = d
	return p, nil
}

func (s *SQLite) PersistDistributions(ctx context.Context, symbol string, events []model.DistributionEvent) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.New(errs.KindPersistenceError, errs.WithSymbol(symbol), errs.WithCause(err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO distribution_events
		(symbol, ex_date, pay_date, amount, source) VALUES (?,?,?,?,?)`)
	if err != nil {
		return errs.New(errs.KindPersistenceError, errs.WithSymbol(symbol), errs.WithCause(err))
	}
	defer stmt.Close()

	for _, e := range events {
		var payDate any
		if !e.PayDate.IsZero() {
			payDate = e.PayDate.Format(model.DateLayout)
		}
		if _, err := stmt.ExecContext(ctx, symbol, e.ExDate.Format(model.DateLayout),
			payDate, e.Amount, e.Source); err != nil {
			return errs.New(errs.KindPersistenceError, errs.WithSymbol(symbol), errs.WithCause(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.New(errs.KindPersistenceError, errs.WithSymbol(symbol), errs.WithCause(err))
	}
	return nil
}

func (s *SQLite) QueryDistributions(ctx context.Context, symbol string) ([]model.DistributionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, ex_date, pay_date, amount, source
		FROM distribution_events WHERE symbol = ? ORDER BY ex_date ASC`, symbol)
	if err != nil {
		return nil, errs.New(errs.KindPersistenceError, errs.WithSymbol(symbol), errs.WithCause(err))
	}
	defer rows.Close()

	var events []model.DistributionEvent
	for rows.Next() {
		var e model.DistributionEvent
		var exDate string
		var payDate sql.NullString
		if err := rows.Scan(&e.Symbol, &exDate, &payDate, &e.Amount, &e.Source); err != nil {
			return nil, errs.New(errs.KindPersistenceError, errs.WithSymbol(symbol), errs.WithCause(err))
		}
		d, err := time.Parse(model.DateLayout, exDate)
		if err != nil {
			continue
		}
		e.ExDate = d
		if payDate.Valid {
			if pd, err := time.Parse(model.DateLayout, payDate.String); err == nil {
				e.PayDate = pd
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.KindPersistenceError, errs.WithSymbol(symbol), errs.WithCause(err))
	}
	return events, nil
}

func (s *SQLite) PurgeOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(model.DateLayout)
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM price_points WHERE date < ?`, cutoff)
	if err != nil {
		return 0, errs.New(errs.KindPersistenceError, errs.WithCause(err))
	}
	n, _ := res.RowsAffected()
	res, err = s.db.ExecContext(ctx, `DELETE FROM distribution_events WHERE ex_date < ?`, cutoff)
	if err != nil {
		return n, errs.New(errs.KindPersistenceError, errs.WithCause(err))
	}
	if m, err := res.RowsAffected(); err == nil {
		n += m
	}
	return n, nil
}

func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(DISTINCT symbol) FROM price_points`).
		Scan(&st.TotalRecords, &st.SymbolsCovered); err != nil {
		return st, errs.New(errs.KindPersistenceError, errs.WithCause(err))
	}
	var pages, pageSize int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pages); err == nil {
		if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err == nil {
			st.SizeEstimate = pages * pageSize
		}
	}
	return st, nil
}

func (s *SQLite) Close() error { return s.db.Close() }
