package ledger

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/taxledger/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func lotAt(id string, at time.Time, qty, cost string) domain.AcquisitionLot {
	return domain.AcquisitionLot{
		ID:                id,
		CompanyID:         "acme",
		AssetID:           "BTC",
		AcquiredAt:        at,
		OriginalQuantity:  dec(qty),
		QuantityRemaining: dec(qty),
		UnitCostEUR:       dec(cost),
	}
}

func scenarioALots() []domain.AcquisitionLot {
	return []domain.AcquisitionLot{
		lotAt("l1", day(2023, 1, 10), "0.5", "30000"),
		lotAt("l2", day(2023, 3, 10), "0.5", "35000"),
		lotAt("l3", day(2023, 6, 10), "1.0", "40000"),
	}
}

func TestPlanFIFOMultiLot(t *testing.T) {
	plan, err := PlanFIFO(scenarioALots(), dec("1.2"), dec("60000"), day(2024, 2, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantUsed := []struct {
		lot, qty, cost string
	}{
		{"l1", "0.5", "15000"},
		{"l2", "0.5", "17500"},
		{"l3", "0.2", "8000"},
	}
	if len(plan.Consumed) != len(wantUsed) {
		t.Fatalf("consumed %d lots, want %d", len(plan.Consumed), len(wantUsed))
	}
	for i, w := range wantUsed {
		c := plan.Consumed[i]
		if c.LotID != w.lot {
			t.Errorf("consumed[%d].LotID = %s, want %s", i, c.LotID, w.lot)
		}
		if !c.QuantityUsed.Equal(dec(w.qty)) {
			t.Errorf("consumed[%d].QuantityUsed = %s, want %s", i, c.QuantityUsed, w.qty)
		}
		if !c.CostBasis.Equal(dec(w.cost)) {
			t.Errorf("consumed[%d].CostBasis = %s, want %s", i, c.CostBasis, w.cost)
		}
	}
	if !plan.CostBasis.Equal(dec("40500")) {
		t.Errorf("CostBasis = %s, want 40500", plan.CostBasis)
	}
	if !plan.Remaining["l3"].Equal(dec("0.8")) {
		t.Errorf("remaining l3 = %s, want 0.8", plan.Remaining["l3"])
	}
	if !plan.Remaining["l1"].IsZero() || !plan.Remaining["l2"].IsZero() {
		t.Errorf("l1/l2 should be exhausted, got %s/%s", plan.Remaining["l1"], plan.Remaining["l2"])
	}
}

func TestPlanFIFOOrdersBySnapshotDateNotSliceOrder(t *testing.T) {
	lots := scenarioALots()
	reversed := []domain.AcquisitionLot{lots[2], lots[0], lots[1]}

	plan, err := PlanFIFO(reversed, dec("0.6"), dec("1"), day(2024, 1, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Consumed[0].LotID != "l1" || plan.Consumed[1].LotID != "l2" {
		t.Errorf("consumed order = %s,%s, want l1,l2", plan.Consumed[0].LotID, plan.Consumed[1].LotID)
	}
	if reversed[0].ID != "l3" {
		t.Error("PlanFIFO reordered the caller's slice")
	}
}

func TestPlanFIFOTieBreaksBySeq(t *testing.T) {
	a := lotAt("a", day(2023, 1, 1), "1", "100")
	b := lotAt("b", day(2023, 1, 1), "1", "200")
	a.Seq, b.Seq = 2, 1

	plan, err := PlanFIFO([]domain.AcquisitionLot{a, b}, dec("1"), dec("300"), day(2023, 2, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Consumed[0].LotID != "b" {
		t.Errorf("consumed %s first, want b (lower seq)", plan.Consumed[0].LotID)
	}
}

func TestPlanFIFONeverSkipsOlderOpenLot(t *testing.T) {
	// Property: for every quantity up to the total, consumed lots are a prefix of the
	// FIFO queue and sum exactly to the quantity.
	lots := []domain.AcquisitionLot{
		lotAt("a", day(2022, 1, 1), "0.12345678", "10000"),
		lotAt("b", day(2022, 2, 1), "1.5", "20000"),
		lotAt("c", day(2022, 3, 1), "0.00000001", "30000"),
		lotAt("d", day(2022, 4, 1), "2.25", "15000"),
	}
	order := []string{"a", "b", "c", "d"}

	for _, q := range []string{"0.00000001", "0.12345678", "0.2", "1.62345679", "3", "3.87345679"} {
		t.Run(q, func(t *testing.T) {
			plan, err := PlanFIFO(lots, dec(q), dec("1000"), day(2023, 1, 1))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			sum := decimal.Zero
			for i, c := range plan.Consumed {
				if c.LotID != order[i] {
					t.Errorf("consumed[%d] = %s, want %s", i, c.LotID, order[i])
				}
				if i < len(plan.Consumed)-1 && !plan.Remaining[c.LotID].IsZero() {
					t.Errorf("lot %s left open while younger lot consumed", c.LotID)
				}
				sum = sum.Add(c.QuantityUsed)
			}
			if !sum.Equal(dec(q)) {
				t.Errorf("consumed sum = %s, want %s", sum, q)
			}
		})
	}
}

func TestPlanFIFOInsufficient(t *testing.T) {
	lots := []domain.AcquisitionLot{lotAt("l1", day(2023, 1, 1), "0.3", "30000")}

	_, err := PlanFIFO(lots, dec("0.5"), dec("20000"), day(2024, 1, 1))
	if !errors.Is(err, domain.ErrInsufficientCostBasis) {
		t.Fatalf("error = %v, want ErrInsufficientCostBasis", err)
	}
	var ie *domain.InsufficientCostBasisError
	if !errors.As(err, &ie) {
		t.Fatal("error is not *InsufficientCostBasisError")
	}
	if !ie.Available.Equal(dec("0.3")) || !ie.Shortfall().Equal(dec("0.2")) {
		t.Errorf("available=%s shortfall=%s, want 0.3/0.2", ie.Available, ie.Shortfall())
	}
	if !lots[0].QuantityRemaining.Equal(dec("0.3")) {
		t.Error("input lot was mutated")
	}
}

func TestPlanFIFOIgnoresLotsAcquiredAfterSale(t *testing.T) {
	lots := []domain.AcquisitionLot{
		lotAt("early", day(2023, 1, 1), "0.5", "100"),
		lotAt("late", day(2023, 6, 1), "1", "200"),
	}
	_, err := PlanFIFO(lots, dec("1"), dec("300"), day(2023, 3, 1))
	if !errors.Is(err, domain.ErrInsufficientCostBasis) {
		t.Fatalf("error = %v, want ErrInsufficientCostBasis", err)
	}
}

func TestPlanFIFORejectsNonPositiveQuantity(t *testing.T) {
	for _, q := range []string{"0", "-1"} {
		if _, err := PlanFIFO(scenarioALots(), dec(q), dec("1"), day(2024, 1, 1)); err == nil {
			t.Errorf("quantity %s: expected error", q)
		}
	}
}

func TestPlanFIFOProceedsAllocationSumsExactly(t *testing.T) {
	lots := []domain.AcquisitionLot{
		lotAt("a", day(2023, 1, 1), "1", "100"),
		lotAt("b", day(2023, 1, 2), "1", "100"),
		lotAt("c", day(2023, 1, 3), "1", "100"),
	}
	plan, err := PlanFIFO(lots, dec("3"), dec("1000"), day(2023, 2, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	proceeds, gain := decimal.Zero, decimal.Zero
	for _, c := range plan.Consumed {
		proceeds = proceeds.Add(c.Proceeds)
		gain = gain.Add(c.GainLoss)
	}
	if !proceeds.Equal(dec("1000")) {
		t.Errorf("allocated proceeds = %s, want 1000", proceeds)
	}
	if !gain.Equal(plan.GainLoss()) {
		t.Errorf("per-lot gains = %s, want %s", gain, plan.GainLoss())
	}
	if got := plan.Consumed[0].Proceeds.String(); got != "333.33" {
		t.Errorf("first allocation = %s, want 333.33", got)
	}
}

func TestPlanFIFOHoldingDays(t *testing.T) {
	lots := []domain.AcquisitionLot{lotAt("a", time.Date(2023, 1, 1, 23, 0, 0, 0, time.UTC), "1", "1")}
	plan, err := PlanFIFO(lots, dec("1"), dec("1"), time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := plan.Consumed[0].HoldingDays; got != 365 {
		t.Errorf("HoldingDays = %d, want 365", got)
	}
}

func BenchmarkPlanFIFO(b *testing.B) {
	lots := make([]domain.AcquisitionLot, 0, 1000)
	for i := range 1000 {
		lots = append(lots, lotAt(fmt.Sprintf("l%d", i), day(2020, 1, 1).Add(time.Duration(i)*time.Hour), "0.01", "30000"))
	}
	for b.Loop() {
		_, _ = PlanFIFO(lots, dec("7.5"), dec("300000"), day(2024, 1, 1))
	}
}
