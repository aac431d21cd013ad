package price

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrNoQuote indicates that no stored quote exists at or before the requested time.
var ErrNoQuote = errors.New("no quote stored")

// Quote is a EUR price observation for an asset.
type Quote struct {
	AssetID  string          `json:"assetId"`
	PriceEUR decimal.Decimal `json:"priceEur"`
	QuotedAt time.Time       `json:"quotedAt"`
}

// QuoteRepository defines persistent storage for historical quotes.
type QuoteRepository interface {
	SaveQuote(ctx context.Context, q Quote) error
	// QuoteAt returns the latest quote with QuotedAt <= at, or ErrNoQuote.
	QuoteAt(ctx context.Context, assetID string, at time.Time) (Quote, error)
	ListQuotes(ctx context.Context, assetID string, from, to time.Time) ([]Quote, error)
}

// PgQuoteRepository implements QuoteRepository with PostgreSQL.
type PgQuoteRepository struct {
	pool *pgxpool.Pool
}

// NewPgQuoteRepository creates a new PostgreSQL quote repository.
func NewPgQuoteRepository(pool *pgxpool.Pool) *PgQuoteRepository {
	return &PgQuoteRepository{pool: pool}
}

func (r *PgQuoteRepository) SaveQuote(ctx context.Context, q Quote) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO price_quotes (asset_id, quoted_at, price_eur)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (asset_id, quoted_at) DO UPDATE SET price_eur = $3`,
		q.AssetID, q.QuotedAt.UTC(), q.PriceEUR)
	if err != nil {
		return fmt.Errorf("saving quote for %s: %w", q.AssetID, err)
	}
	return nil
}

func (r *PgQuoteRepository) QuoteAt(ctx context.Context, assetID string, at time.Time) (Quote, error) {
	var q Quote
	err := r.pool.QueryRow(ctx,
		`SELECT asset_id, price_eur, quoted_at FROM price_quotes
		 WHERE asset_id = $1 AND quoted_at <= $2
		 ORDER BY quoted_at DESC LIMIT 1`,
		assetID, at.UTC()).Scan(&q.AssetID, &q.PriceEUR, &q.QuotedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Quote{}, ErrNoQuote
	}
	if err != nil {
		return Quote{}, fmt.Errorf("getting quote for %s: %w", assetID, err)
	}
	return q, nil
}

func (r *PgQuoteRepository) ListQuotes(ctx context.Context, assetID string, from, to time.Time) ([]Quote, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT asset_id, price_eur, quoted_at FROM price_quotes
		 WHERE asset_id = $1 AND quoted_at >= $2 AND quoted_at < $3
		 ORDER BY quoted_at`,
		assetID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("listing quotes for %s: %w", assetID, err)
	}
	defer rows.Close()

	var quotes []Quote
	for rows.Next() {
		var q Quote
		if err := rows.Scan(&q.AssetID, &q.PriceEUR, &q.QuotedAt); err != nil {
			return nil, fmt.Errorf("scanning quote: %w", err)
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

// MemoryQuoteRepository keeps quotes in process, for tests and single-run CLI use.
type MemoryQuoteRepository struct {
	mu     sync.RWMutex
	quotes map[string][]Quote
}

// NewMemoryQuoteRepository creates an empty in-memory quote repository.
func NewMemoryQuoteRepository() *MemoryQuoteRepository {
	return &MemoryQuoteRepository{quotes: make(map[string][]Quote)}
}

func (r *MemoryQuoteRepository) SaveQuote(_ context.Context, q Quote) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	q.QuotedAt = q.QuotedAt.UTC()
	list := r.quotes[q.AssetID]
	i := sort.Search(len(list), func(i int) bool { return !list[i].QuotedAt.Before(q.QuotedAt) })
	if i < len(list) && list[i].QuotedAt.Equal(q.QuotedAt) {
		list[i] = q
	} else {
		list = slices.Insert(list, i, q)
	}
	r.quotes[q.AssetID] = list
	return nil
}

func (r *MemoryQuoteRepository) QuoteAt(_ context.Context, assetID string, at time.Time) (Quote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.quotes[assetID]
	i := sort.Search(len(list), func(i int) bool { return list[i].QuotedAt.After(at) })
	if i == 0 {
		return Quote{}, ErrNoQuote
	}
	return list[i-1], nil
}

func (r *MemoryQuoteRepository) ListQuotes(_ context.Context, assetID string, from, to time.Time) ([]Quote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Quote
	for _, q := range r.quotes[assetID] {
		if !q.QuotedAt.Before(from) && q.QuotedAt.Before(to) {
			out = append(out, q)
		}
	}
	return out, nil
}
