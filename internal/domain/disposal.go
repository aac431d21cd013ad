package domain

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// ConsumedLot records how much of one lot a disposal used.
type ConsumedLot struct {
	LotID        string          `json:"lotId"`
	AcquiredAt   time.Time       `json:"acquiredAt"`
	QuantityUsed decimal.Decimal `json:"quantityUsed"`
	UnitCostEUR  decimal.Decimal `json:"unitCostEur"`
	CostBasis    decimal.Decimal `json:"costBasis"`
	Proceeds     decimal.Decimal `json:"proceeds"`
	GainLoss     decimal.Decimal `json:"gainLoss"`
	HoldingDays  int             `json:"holdingDays"`
}

// DisposalEvent is the immutable result of consuming lots for a SELL, SWAP or TRANSFER_OUT.
type DisposalEvent struct {
	ID                  string          `json:"id"`
	CompanyID           string          `json:"companyId"`
	AssetID             string          `json:"assetId"`
	QuantitySold        decimal.Decimal `json:"quantitySold"`
	ProceedsEUR         decimal.Decimal `json:"proceedsEur"`
	SaleDate            time.Time       `json:"saleDate"`
	SourceTransactionID string          `json:"sourceTransactionId"`
	ConsumedLots        []ConsumedLot   `json:"consumedLots"`
}

// CostBasis is the sum of the cost basis of every consumed lot.
func (d DisposalEvent) CostBasis() decimal.Decimal {
	return lo.Reduce(d.ConsumedLots, func(acc decimal.Decimal, c ConsumedLot, _ int) decimal.Decimal {
		return acc.Add(c.CostBasis)
	}, decimal.Zero)
}

// GainLoss is proceeds minus cost basis; negative for a loss.
func (d DisposalEvent) GainLoss() decimal.Decimal {
	return d.ProceedsEUR.Sub(d.CostBasis())
}
