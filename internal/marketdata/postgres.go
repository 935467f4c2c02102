package marketdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mingdom/omninmo-sub001/internal/metrics"
)

// Schema creates the quote table read by PostgresSource. Prices are
// NUMERIC for exact decimal precision; beta is nullable.
const Schema = `CREATE TABLE IF NOT EXISTS instrument_quotes (
	ticker     TEXT PRIMARY KEY,
	price      NUMERIC NOT NULL,
	beta       DOUBLE PRECISION,
	as_of      TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresSource implements Source using PostgreSQL as the source of
// truth.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource creates a new PostgreSQL-backed source.
func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

// Migrate applies Schema.
func (s *PostgresSource) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate instrument_quotes: %w", err)
	}
	return nil
}

func (s *PostgresSource) GetPriceAndBeta(ctx context.Context, ticker string) (Quote, error) {
	q := Quote{Ticker: NormalizeTicker(ticker)}
	var price string

	err := s.pool.QueryRow(ctx,
		`SELECT price::TEXT, beta, as_of
		 FROM instrument_quotes WHERE ticker = $1`, q.Ticker).
		Scan(&price, &q.Beta, &q.AsOf)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.QuoteLookups.WithLabelValues("postgres", "unavailable").Inc()
		return Quote{}, fmt.Errorf("%w: %s", ErrDataUnavailable, q.Ticker)
	}
	if err != nil {
		metrics.QuoteLookups.WithLabelValues("postgres", "error").Inc()
		return Quote{}, fmt.Errorf("get quote %s: %w", q.Ticker, err)
	}

	q.Price, err = decimal.NewFromString(price)
	if err != nil {
		metrics.QuoteLookups.WithLabelValues("postgres", "error").Inc()
		return Quote{}, fmt.Errorf("get quote %s: parse price %q: %w", q.Ticker, price, err)
	}
	metrics.QuoteLookups.WithLabelValues("postgres", "ok").Inc()
	return q, nil
}

// UpsertQuote inserts or replaces the quote for q.Ticker.
func (s *PostgresSource) UpsertQuote(ctx context.Context, q Quote) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO instrument_quotes (ticker, price, beta, as_of)
		 VALUES ($1, $2::NUMERIC, $3, $4)
		 ON CONFLICT (ticker) DO UPDATE
		 SET price = EXCLUDED.price, beta = EXCLUDED.beta, as_of = EXCLUDED.as_of`,
		NormalizeTicker(q.Ticker), q.Price.String(), q.Beta, q.AsOf,
	)
	if err != nil {
		return fmt.Errorf("upsert quote %s: %w", q.Ticker, err)
	}
	return nil
}
