package price

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/taxledger/internal/domain"
)

func TestServicePriceAt(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryQuoteRepository()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, p := range []string{"40000", "41000", "39500"} {
		if err := repo.SaveQuote(ctx, Quote{AssetID: "BTC", PriceEUR: decimal.RequireFromString(p), QuotedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatal(err)
		}
	}
	svc := NewService(repo, time.Minute, 24*time.Hour)

	tests := []struct {
		name    string
		asset   string
		at      time.Time
		want    string
		wantErr bool
	}{
		{"exact", "BTC", base.Add(time.Hour), "41000", false},
		{"between", "btc", base.Add(90 * time.Minute), "41000", false},
		{"after last", "BTC", base.Add(5 * time.Hour), "39500", false},
		{"before first", "BTC", base.Add(-time.Minute), "", true},
		{"too old", "BTC", base.Add(48 * time.Hour), "", true},
		{"unknown asset", "ETH", base, "", true},
		{"euro", "EUR", base, "1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.PriceAt(ctx, tt.asset, tt.at)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrPriceUnavailable) {
					t.Fatalf("error = %v, want ErrPriceUnavailable", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("PriceAt = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMemoryQuoteRepositoryOverwritesSameInstant(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryQuoteRepository()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = repo.SaveQuote(ctx, Quote{AssetID: "ETH", PriceEUR: decimal.NewFromInt(1), QuotedAt: at})
	_ = repo.SaveQuote(ctx, Quote{AssetID: "ETH", PriceEUR: decimal.NewFromInt(2), QuotedAt: at})

	quotes, _ := repo.ListQuotes(ctx, "ETH", at, at.Add(time.Second))
	if len(quotes) != 1 || !quotes[0].PriceEUR.Equal(decimal.NewFromInt(2)) {
		t.Errorf("quotes = %+v, want single overwritten quote", quotes)
	}
}

func TestStaticFeed(t *testing.T) {
	f := StaticFeed{"BTC": decimal.NewFromInt(50000)}
	if p, err := f.PriceAt(context.Background(), "btc", time.Now()); err != nil || !p.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("PriceAt = %s, %v", p, err)
	}
	if _, err := f.PriceAt(context.Background(), "SOL", time.Now()); !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Errorf("error = %v, want ErrPriceUnavailable", err)
	}
}
