package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AcquisitionLot is a discrete quantity of an asset acquired at a fixed unit cost.
// Only QuantityRemaining ever changes, and only downwards.
type AcquisitionLot struct {
	ID                  string          `json:"id"`
	CompanyID           string          `json:"companyId"`
	AssetID             string          `json:"assetId"`
	CustodianID         string          `json:"custodianId,omitempty"`
	AcquiredAt          time.Time       `json:"acquiredAt"`
	OriginalQuantity    decimal.Decimal `json:"originalQuantity"`
	QuantityRemaining   decimal.Decimal `json:"quantityRemaining"`
	UnitCostEUR         decimal.Decimal `json:"unitCostEur"`
	SourceTransactionID string          `json:"sourceTransactionId"`
	// Seq orders lots acquired at the same instant by creation order.
	Seq int64 `json:"seq"`
}

// RemainingCost is the cost basis still attached to the lot.
func (l AcquisitionLot) RemainingCost() decimal.Decimal {
	return l.QuantityRemaining.Mul(l.UnitCostEUR)
}

// IsOpen reports whether the lot still has quantity left.
func (l AcquisitionLot) IsOpen() bool {
	return l.QuantityRemaining.IsPositive()
}

// Before reports whether l is consumed before other under FIFO.
func (l AcquisitionLot) Before(other AcquisitionLot) bool {
	if !l.AcquiredAt.Equal(other.AcquiredAt) {
		return l.AcquiredAt.Before(other.AcquiredAt)
	}
	return l.Seq < other.Seq
}

// Position aggregates the open lots of one asset.
type Position struct {
	AssetID        string          `json:"assetId"`
	TotalQuantity  decimal.Decimal `json:"totalQuantity"`
	TotalCostBasis decimal.Decimal `json:"totalCostBasis"`
	AverageCost    decimal.Decimal `json:"averageCost"`
	OpenLots       int             `json:"openLots"`
}
