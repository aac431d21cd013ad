package ledger

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/taxledger/internal/domain"
)

// Plan is the outcome of walking the FIFO queue for one disposal. It is computed
// against a snapshot and describes the mutation without performing it.
type Plan struct {
	Quantity  decimal.Decimal
	Proceeds  decimal.Decimal
	SaleDate  time.Time
	Consumed  []domain.ConsumedLot
	CostBasis decimal.Decimal
	// Remaining holds the new QuantityRemaining of every touched lot, keyed by lot id.
	Remaining map[string]decimal.Decimal
}

// GainLoss is proceeds minus cost basis.
func (p Plan) GainLoss() decimal.Decimal {
	return p.Proceeds.Sub(p.CostBasis)
}

// PlanFIFO consumes quantity from lots oldest first. Lots acquired after saleDate are not
// eligible. The input slice is never modified. If the eligible lots hold less than quantity
// the result is an *domain.InsufficientCostBasisError and no plan.
//
// Proceeds are allocated to each consumed lot pro rata by quantity, rounded to cents; the
// last lot absorbs the rounding remainder so per-lot gains sum exactly to the total.
func PlanFIFO(lots []domain.AcquisitionLot, quantity, proceeds decimal.Decimal, saleDate time.Time) (Plan, error) {
	if !quantity.IsPositive() {
		return Plan{}, fmt.Errorf("disposal quantity must be positive, got %s", quantity)
	}
	if proceeds.IsNegative() {
		return Plan{}, fmt.Errorf("disposal proceeds must not be negative, got %s", proceeds)
	}

	queue := slices.Clone(lots)
	slices.SortStableFunc(queue, func(a, b domain.AcquisitionLot) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		}
		return 0
	})

	plan := Plan{
		Quantity:  quantity,
		Proceeds:  proceeds,
		SaleDate:  saleDate,
		CostBasis: decimal.Zero,
		Remaining: make(map[string]decimal.Decimal),
	}

	toConsume := quantity
	available := decimal.Zero
	for _, lot := range queue {
		if !lot.IsOpen() || lot.AcquiredAt.After(saleDate) {
			continue
		}
		available = available.Add(lot.QuantityRemaining)
		if toConsume.IsZero() {
			continue
		}

		use := decimal.Min(toConsume, lot.QuantityRemaining)
		cost := use.Mul(lot.UnitCostEUR)
		plan.Remaining[lot.ID] = lot.QuantityRemaining.Sub(use)
		plan.CostBasis = plan.CostBasis.Add(cost)
		plan.Consumed = append(plan.Consumed, domain.ConsumedLot{
			LotID:        lot.ID,
			AcquiredAt:   lot.AcquiredAt,
			QuantityUsed: use,
			UnitCostEUR:  lot.UnitCostEUR,
			CostBasis:    cost,
			HoldingDays:  domain.HoldingDays(lot.AcquiredAt, saleDate),
		})
		toConsume = toConsume.Sub(use)
	}

	if toConsume.IsPositive() {
		return Plan{}, &domain.InsufficientCostBasisError{
			CompanyID: companyOf(lots),
			AssetID:   assetOf(lots),
			Requested: quantity,
			Available: available,
		}
	}

	allocateProceeds(plan.Consumed, quantity, proceeds)
	return plan, nil
}

func allocateProceeds(consumed []domain.ConsumedLot, quantity, proceeds decimal.Decimal) {
	allocated := decimal.Zero
	for i := range consumed {
		c := &consumed[i]
		if i == len(consumed)-1 {
			c.Proceeds = proceeds.Sub(allocated)
		} else {
			c.Proceeds = domain.RoundEUR(proceeds.Mul(c.QuantityUsed).Div(quantity))
			allocated = allocated.Add(c.Proceeds)
		}
		c.GainLoss = c.Proceeds.Sub(c.CostBasis)
	}
}

func companyOf(lots []domain.AcquisitionLot) string {
	if len(lots) == 0 {
		return ""
	}
	return lots[0].CompanyID
}

func assetOf(lots []domain.AcquisitionLot) string {
	if len(lots) == 0 {
		return ""
	}
	return lots[0].AssetID
}
