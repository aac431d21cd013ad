package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/taxledger/internal/domain"
	"github.com/mtlprog/taxledger/internal/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var saleDate = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func scenarioBMapping() domain.AccountMapping {
	return domain.AccountMapping{
		Cash:         "BANK",
		CryptoAssets: "WALLET",
		RealizedGain: "GAIN",
		RealizedLoss: "LOSS",
	}
}

func disposal(proceeds, cost string) domain.DisposalEvent {
	return domain.DisposalEvent{
		ID:                  "d-1",
		CompanyID:           "acme",
		AssetID:             "BTC",
		QuantitySold:        dec("0.5"),
		ProceedsEUR:         dec(proceeds),
		SaleDate:            saleDate,
		SourceTransactionID: "tx-b",
		ConsumedLots: []domain.ConsumedLot{
			{LotID: "l1", QuantityUsed: dec("0.5"), UnitCostEUR: dec(cost).Div(dec("0.5")), CostBasis: dec(cost)},
		},
	}
}

func TestBuildDisposalEntryScenarioB(t *testing.T) {
	entry, err := BuildDisposalEntry(disposal("22500", "15000"), scenarioBMapping())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []struct {
		account       string
		debit, credit string
	}{
		{"BANK", "22500", "0"},
		{"WALLET", "0", "15000"},
		{"GAIN", "0", "7500"},
	}
	if len(entry.Lines) != len(want) {
		t.Fatalf("got %d lines, want %d", len(entry.Lines), len(want))
	}
	for i, w := range want {
		l := entry.Lines[i]
		if l.AccountCode != w.account || !l.Debit.Equal(dec(w.debit)) || !l.Credit.Equal(dec(w.credit)) {
			t.Errorf("line %d = %s Dr %s Cr %s, want %s Dr %s Cr %s", i, l.AccountCode, l.Debit, l.Credit, w.account, w.debit, w.credit)
		}
	}
	if entry.Lines[1].CryptoAmount == nil || !entry.Lines[1].CryptoAmount.Equal(dec("0.5")) || entry.Lines[1].CryptoAsset != "BTC" {
		t.Error("asset line should carry the crypto quantity")
	}
	if !entry.IsBalanced() {
		t.Error("entry not balanced")
	}
	if entry.Status != domain.EntryStatusDraft {
		t.Errorf("Status = %s, want DRAFT", entry.Status)
	}
}

func TestBuildDisposalEntryLossAndBreakEven(t *testing.T) {
	tests := []struct {
		name      string
		proceeds  string
		cost      string
		wantLines int
		lossLine  bool
	}{
		{"loss", "10000", "15000", 3, true},
		{"break even", "15000", "15000", 2, false},
		{"exact fractional", "22500.123456", "15000.000001", 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := BuildDisposalEntry(disposal(tt.proceeds, tt.cost), scenarioBMapping())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(entry.Lines) != tt.wantLines {
				t.Fatalf("got %d lines, want %d", len(entry.Lines), tt.wantLines)
			}
			if tt.lossLine {
				last := entry.Lines[2]
				if last.AccountCode != "LOSS" || !last.Debit.Equal(dec("5000")) {
					t.Errorf("loss line = %+v, want LOSS debit 5000", last)
				}
			}
			d, c := entry.Totals()
			if !d.Equal(c) {
				t.Errorf("debit %s != credit %s", d, c)
			}
		})
	}
}

func TestBuildIncomeEntry(t *testing.T) {
	m := domain.DefaultAccountMapping()
	entry, err := BuildIncomeEntry(IncomeEvent{
		CompanyID: "acme", AssetID: "ETH", Type: domain.TxStakingReward,
		Quantity: dec("0.05"), FairValueEUR: dec("150"), Date: saleDate, SourceID: "stake-1",
	}, m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Lines[0].AccountCode != m.CryptoAssets || !entry.Lines[0].Debit.Equal(dec("150")) {
		t.Errorf("debit line = %+v", entry.Lines[0])
	}
	if entry.Lines[1].AccountCode != "7690" || !entry.Lines[1].Credit.Equal(dec("150")) {
		t.Errorf("credit line = %+v, want staking income 7690", entry.Lines[1])
	}

	if _, err := BuildIncomeEntry(IncomeEvent{CompanyID: "acme", Type: domain.TxBuy, FairValueEUR: dec("1"), SourceID: "x"}, m); err == nil {
		t.Error("expected error for non-income type")
	}
	if _, err := BuildIncomeEntry(IncomeEvent{CompanyID: "acme", Type: domain.TxAirdrop, FairValueEUR: decimal.Zero, SourceID: "x"}, m); err == nil {
		t.Error("expected error for zero fair value")
	}
}

func TestPostDisposalIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p := NewPoster(store.NewMemoryStore())

	first, err := p.PostDisposal(ctx, disposal("22500", "15000"), scenarioBMapping())
	if err != nil {
		t.Fatalf("PostDisposal: %v", err)
	}
	if first.Status != domain.EntryStatusPosted {
		t.Errorf("Status = %s, want POSTED", first.Status)
	}
	second, err := p.PostDisposal(ctx, disposal("22500", "15000"), scenarioBMapping())
	if err != nil {
		t.Fatalf("second PostDisposal: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("replay produced a new entry: %s vs %s", first.ID, second.ID)
	}

	entries, err := p.Entries(ctx, "acme", saleDate.Add(-time.Hour), saleDate.Add(time.Hour))
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d entries, want 1", len(entries))
	}
}

func TestUnbalancedEntryHaltsSource(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	p := NewPoster(st)

	bad := func() (domain.JournalEntry, error) {
		return checked(domain.JournalEntry{
			ID: "e", CompanyID: "acme", SourceID: "tx-bad", Status: domain.EntryStatusDraft,
			Lines: []domain.JournalLine{
				domain.DebitLine("BANK", dec("100"), ""),
				domain.CreditLine("GAIN", dec("99.99"), ""),
			},
		})
	}
	err := st.InTx(ctx, func(_ store.LotRepository, j store.JournalRepository) error {
		_, err := p.post(ctx, j, "acme", "tx-bad", bad)
		return err
	})
	var ue *domain.UnbalancedError
	if !errors.As(err, &ue) || !errors.Is(err, domain.ErrUnbalancedJournalEntry) {
		t.Fatalf("error = %v, want *UnbalancedError", err)
	}
	if !ue.Debit.Equal(dec("100")) || !ue.Credit.Equal(dec("99.99")) {
		t.Errorf("totals = %s/%s", ue.Debit, ue.Credit)
	}
	if !p.Halted("acme", "tx-bad") {
		t.Fatal("source should be halted")
	}

	good := domain.DisposalEvent{ID: "d", CompanyID: "acme", AssetID: "BTC", QuantitySold: dec("1"),
		ProceedsEUR: dec("10"), SaleDate: saleDate, SourceTransactionID: "tx-bad"}
	if _, err := p.PostDisposal(ctx, good, scenarioBMapping()); !errors.Is(err, ErrPostingHalted) {
		t.Errorf("error = %v, want ErrPostingHalted", err)
	}

	p.Resume("acme", "tx-bad")
	if _, err := p.PostDisposal(ctx, good, scenarioBMapping()); err != nil {
		t.Errorf("after Resume: %v", err)
	}
}

func TestVoid(t *testing.T) {
	ctx := context.Background()
	p := NewPoster(store.NewMemoryStore())
	entry, err := p.PostDisposal(ctx, disposal("22500", "15000"), scenarioBMapping())
	if err != nil {
		t.Fatalf("PostDisposal: %v", err)
	}

	voidDate := saleDate.Add(48 * time.Hour)
	reversal, err := p.Void(ctx, "acme", entry.ID, "wrong price", voidDate)
	if err != nil {
		t.Fatalf("Void: %v", err)
	}
	if reversal.Reverses != entry.ID || reversal.Status != domain.EntryStatusPosted || reversal.Kind != domain.EntryKindReversal {
		t.Errorf("reversal = %+v", reversal)
	}
	if !reversal.Lines[0].Credit.Equal(dec("22500")) || !reversal.Lines[2].Debit.Equal(dec("7500")) {
		t.Error("reversal lines are not mirrored")
	}

	entries, _ := p.Entries(ctx, "acme", saleDate.Add(-time.Hour), voidDate.Add(time.Hour))
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want original and reversal retained", len(entries))
	}
	original := entries[0]
	if original.Status != domain.EntryStatusVoided || original.ReversedBy != reversal.ID || original.VoidReason != "wrong price" {
		t.Errorf("original = %+v", original)
	}
	if !original.Lines[0].Debit.Equal(dec("22500")) {
		t.Error("voided entry lines changed")
	}

	again, err := p.Void(ctx, "acme", entry.ID, "wrong price", voidDate)
	if err != nil || again.ID != reversal.ID {
		t.Errorf("second Void = %s, %v; want existing reversal", again.ID, err)
	}
	if _, err := p.Void(ctx, "acme", reversal.ID, "undo", voidDate); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("voiding a reversal: error = %v, want ErrInvalidTransition", err)
	}
	if _, err := p.Void(ctx, "acme", "missing", "x", voidDate); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing entry: error = %v, want ErrNotFound", err)
	}
}
