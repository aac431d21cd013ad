package predict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/taxledger/internal/domain"
	"github.com/mtlprog/taxledger/internal/ledger"
	"github.com/mtlprog/taxledger/internal/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func seededLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l := ledger.NewLedger(store.NewMemoryStore())
	for i, in := range []ledger.LotInput{
		{Quantity: dec("0.5"), UnitCostEUR: dec("30000"), AcquiredAt: day(2023, 1, 10)},
		{Quantity: dec("0.5"), UnitCostEUR: dec("35000"), AcquiredAt: day(2023, 3, 10)},
		{Quantity: dec("1.0"), UnitCostEUR: dec("40000"), AcquiredAt: day(2023, 6, 10)},
	} {
		in.SourceTransactionID = "buy-" + string(rune('a'+i))
		if _, err := l.CreateLot(context.Background(), "acme", "BTC", in); err != nil {
			t.Fatalf("CreateLot: %v", err)
		}
	}
	return l
}

func TestPredictMatchesConsume(t *testing.T) {
	ctx := context.Background()
	l := seededLedger(t)
	e := NewEngine(l)

	before, _ := l.Lots(ctx, "acme", "BTC")
	p, err := e.Predict(ctx, PredictionRequest{
		CompanyID: "acme", AssetID: "btc", Quantity: dec("1.2"), PriceEUR: dec("45000"),
		Type: domain.TxSell, AsOf: day(2024, 2, 1),
	})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	after, _ := l.Lots(ctx, "acme", "BTC")
	for i := range before {
		if !before[i].QuantityRemaining.Equal(after[i].QuantityRemaining) {
			t.Fatalf("Predict changed lot %s: %s -> %s", before[i].ID, before[i].QuantityRemaining, after[i].QuantityRemaining)
		}
	}

	event, err := l.Consume(ctx, "acme", "BTC", ledger.DisposalInput{
		Quantity: dec("1.2"), ProceedsEUR: dec("54000"), SaleDate: day(2024, 2, 1), SourceTransactionID: "sell-1",
	})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	if !p.TotalProceeds.Equal(event.ProceedsEUR) {
		t.Errorf("TotalProceeds = %s, Consume = %s", p.TotalProceeds, event.ProceedsEUR)
	}
	if !p.TotalAcquisitionCost.Equal(event.CostBasis()) || !p.TotalAcquisitionCost.Equal(dec("40500")) {
		t.Errorf("TotalAcquisitionCost = %s, Consume = %s", p.TotalAcquisitionCost, event.CostBasis())
	}
	if !p.CapitalGain.Equal(event.GainLoss()) || !p.CapitalGain.Equal(dec("13500")) {
		t.Errorf("CapitalGain = %s, Consume = %s", p.CapitalGain, event.GainLoss())
	}
	if len(p.LotsConsumed) != len(event.ConsumedLots) {
		t.Fatalf("LotsConsumed has %d entries, Consume %d", len(p.LotsConsumed), len(event.ConsumedLots))
	}
	for i, got := range p.LotsConsumed {
		want := event.ConsumedLots[i]
		if got.LotID != want.LotID ||
			!got.QuantityUsed.Equal(want.QuantityUsed) ||
			!got.CostBasis.Equal(want.CostBasis) ||
			!got.Proceeds.Equal(want.Proceeds) ||
			!got.GainLoss.Equal(want.GainLoss) ||
			got.HoldingDays != want.HoldingDays {
			t.Errorf("lot %d: predicted %+v, consumed %+v", i, got, want)
		}
	}

	if !p.TaxOwed.Equal(dec("2715")) {
		t.Errorf("TaxOwed = %s, want 2715", p.TaxOwed)
	}
	if !p.EffectiveTaxRate.Equal(dec("0.2011")) {
		t.Errorf("EffectiveTaxRate = %s, want 0.2011", p.EffectiveTaxRate)
	}
	if p.Recommendation != RecommendWaitLongTerm {
		t.Errorf("Recommendation = %s, want %s", p.Recommendation, RecommendWaitLongTerm)
	}
}

func TestPredictRecommendation(t *testing.T) {
	tests := []struct {
		name     string
		quantity string
		price    string
		asOf     time.Time
		want     Recommendation
	}{
		{"loss", "0.5", "20000", day(2024, 2, 1), RecommendLossHarvest},
		{"long-held gain", "0.5", "40000", day(2024, 6, 1), RecommendProceed},
		{"short-held gain", "1.2", "45000", day(2023, 9, 1), RecommendWaitLongTerm},
		{"break even", "0.5", "30000", day(2023, 2, 1), RecommendProceed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewEngine(seededLedger(t)).Predict(context.Background(), PredictionRequest{
				CompanyID: "acme", AssetID: "BTC", Quantity: dec(tt.quantity), PriceEUR: dec(tt.price), AsOf: tt.asOf,
			})
			if err != nil {
				t.Fatalf("Predict: %v", err)
			}
			if p.Recommendation != tt.want {
				t.Errorf("Recommendation = %s, want %s (gain %s)", p.Recommendation, tt.want, p.CapitalGain)
			}
			if !p.CapitalGain.IsPositive() && !p.TaxOwed.IsZero() {
				t.Errorf("TaxOwed = %s on gain %s, want 0", p.TaxOwed, p.CapitalGain)
			}
		})
	}
}

func TestPredictDefaultsToNow(t *testing.T) {
	e := NewEngine(seededLedger(t))
	e.now = func() time.Time { return day(2024, 6, 1) }

	p, err := e.Predict(context.Background(), PredictionRequest{
		CompanyID: "acme", AssetID: "BTC", Quantity: dec("0.1"), PriceEUR: dec("50000"),
	})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if !p.SaleDate.Equal(day(2024, 6, 1)) {
		t.Errorf("SaleDate = %s, want 2024-06-01", p.SaleDate)
	}
}

func TestPredictInsufficientHoldings(t *testing.T) {
	_, err := NewEngine(seededLedger(t)).Predict(context.Background(), PredictionRequest{
		CompanyID: "acme", AssetID: "BTC", Quantity: dec("5"), PriceEUR: dec("50000"), AsOf: day(2024, 6, 1),
	})
	var insufficient *domain.InsufficientCostBasisError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want *InsufficientCostBasisError", err)
	}
	if !insufficient.Available.Equal(dec("2")) {
		t.Errorf("Available = %s, want 2", insufficient.Available)
	}
}

func TestPredictValidation(t *testing.T) {
	_, err := NewEngine(seededLedger(t)).Predict(context.Background(), PredictionRequest{
		AssetID: "BTC", Quantity: dec("0"), PriceEUR: dec("-1"), Type: domain.TxBuy,
	})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if len(verr.Issues) != 4 {
		t.Errorf("got %d issues, want 4: %v", len(verr.Issues), verr.Issues)
	}
}

func TestTaxOnGain(t *testing.T) {
	tests := []struct {
		gain string
		want string
	}{
		{"-100", "0"},
		{"0", "0"},
		{"1000", "190"},
		{"6000", "1140"},
		{"10000", "1980"},
		{"50000", "10380"},
		{"250000", "58380"},
		{"400000", "99880"},
	}
	for _, tt := range tests {
		t.Run(tt.gain, func(t *testing.T) {
			if got := TaxOnGain(dec(tt.gain), SavingsBrackets); !got.Equal(dec(tt.want)) {
				t.Errorf("TaxOnGain(%s) = %s, want %s", tt.gain, got, tt.want)
			}
		})
	}
}
