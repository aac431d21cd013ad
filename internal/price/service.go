// Package price resolves historical EUR prices from stored quotes.
package price

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/taxledger/internal/domain"
)

// Feed returns the EUR price of one unit of an asset at a point in time. Implementations
// return a *domain.PriceUnavailableError rather than guessing.
type Feed interface {
	PriceAt(ctx context.Context, assetID string, at time.Time) (decimal.Decimal, error)
}

// Service implements Feed over a QuoteRepository.
type Service struct {
	repo   QuoteRepository
	maxAge time.Duration
	cache  *priceCache
}

// NewService creates a new price Service. A quote older than maxAge at the requested time
// does not count as a price; maxAge <= 0 accepts any earlier quote.
func NewService(repo QuoteRepository, cacheTTL, maxAge time.Duration) *Service {
	return &Service{
		repo:   repo,
		maxAge: maxAge,
		cache:  newPriceCache(cacheTTL),
	}
}

// PriceAt returns the latest stored quote at or before at.
func (s *Service) PriceAt(ctx context.Context, assetID string, at time.Time) (decimal.Decimal, error) {
	assetID = domain.LookupAsset(assetID).Symbol
	if assetID == "EUR" {
		return decimal.NewFromInt(1), nil
	}

	key := cacheKey(assetID, at)
	if cached, ok := s.cache.get(key); ok {
		return cached, nil
	}

	q, err := s.repo.QuoteAt(ctx, assetID, at)
	if errors.Is(err, ErrNoQuote) {
		return decimal.Decimal{}, &domain.PriceUnavailableError{AssetID: assetID, At: at}
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("resolving price for %s: %w", assetID, err)
	}
	if s.maxAge > 0 && at.Sub(q.QuotedAt) > s.maxAge {
		slog.Warn("price: stored quote too old", "asset", assetID, "at", at, "quotedAt", q.QuotedAt)
		return decimal.Decimal{}, &domain.PriceUnavailableError{AssetID: assetID, At: at}
	}

	s.cache.set(key, q.PriceEUR)
	return q.PriceEUR, nil
}

// Record stores a quote. Cached lookups are not invalidated and expire with the TTL.
func (s *Service) Record(ctx context.Context, q Quote) error {
	if q.PriceEUR.IsNegative() {
		return fmt.Errorf("quote for %s must not be negative", q.AssetID)
	}
	q.AssetID = domain.LookupAsset(q.AssetID).Symbol
	return s.repo.SaveQuote(ctx, q)
}

// StaticFeed is a fixed price table keyed by asset symbol, independent of time.
type StaticFeed map[string]decimal.Decimal

func (f StaticFeed) PriceAt(_ context.Context, assetID string, at time.Time) (decimal.Decimal, error) {
	p, ok := f[domain.LookupAsset(assetID).Symbol]
	if !ok {
		return decimal.Decimal{}, &domain.PriceUnavailableError{AssetID: assetID, At: at}
	}
	return p, nil
}
