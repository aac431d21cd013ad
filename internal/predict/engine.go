// Package predict simulates prospective disposals against the current lots without
// changing them.
package predict

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/taxledger/internal/domain"
	"github.com/mtlprog/taxledger/internal/ledger"
)

// LongTermDays is the holding period after which waiting no longer changes the outcome.
const LongTermDays = 365

// Recommendation is the suggested course of action for a prospective disposal.
type Recommendation string

const (
	RecommendProceed      Recommendation = "PROCEED"
	RecommendWaitLongTerm Recommendation = "WAIT_LONG_TERM"
	RecommendLossHarvest  Recommendation = "LOSS_HARVEST"
)

// PredictionRequest describes a disposal that has not happened.
type PredictionRequest struct {
	CompanyID string          `json:"companyId"`
	AssetID   string          `json:"assetId"`
	Quantity  decimal.Decimal `json:"quantity"`
	PriceEUR  decimal.Decimal `json:"priceEur"`
	Type      domain.TxType   `json:"type"`
	// AsOf is the prospective sale date; zero means now.
	AsOf time.Time `json:"asOf"`
}

// Prediction is the simulated outcome of a disposal.
type Prediction struct {
	CompanyID            string               `json:"companyId"`
	AssetID              string               `json:"assetId"`
	Quantity             decimal.Decimal      `json:"quantity"`
	SaleDate             time.Time            `json:"saleDate"`
	TotalProceeds        decimal.Decimal      `json:"totalProceeds"`
	TotalAcquisitionCost decimal.Decimal      `json:"totalAcquisitionCost"`
	CapitalGain          decimal.Decimal      `json:"capitalGain"`
	TaxOwed              decimal.Decimal      `json:"taxOwed"`
	EffectiveTaxRate     decimal.Decimal      `json:"effectiveTaxRate"`
	LotsConsumed         []domain.ConsumedLot `json:"lotsConsumed"`
	Recommendation       Recommendation       `json:"recommendation"`
}

// LotReader provides a snapshot of the lots of one asset.
type LotReader interface {
	Lots(ctx context.Context, companyID, assetID string) ([]domain.AcquisitionLot, error)
}

// Engine answers what-if questions. It only reads lots.
type Engine struct {
	lots     LotReader
	brackets []Bracket
	now      func() time.Time
}

// NewEngine creates a new Engine using the Spanish savings brackets.
func NewEngine(lots LotReader) *Engine {
	return &Engine{lots: lots, brackets: SavingsBrackets, now: time.Now}
}

// Predict plans the disposal with the same FIFO walk Consume executes, so the breakdown
// equals what recording the sale right now would produce.
func (e *Engine) Predict(ctx context.Context, req PredictionRequest) (Prediction, error) {
	if err := validate(req); err != nil {
		return Prediction{}, err
	}
	saleDate := req.AsOf
	if saleDate.IsZero() {
		saleDate = e.now()
	}
	asset := domain.LookupAsset(req.AssetID)

	snapshot, err := e.lots.Lots(ctx, req.CompanyID, asset.Symbol)
	if err != nil {
		return Prediction{}, fmt.Errorf("loading lots: %w", err)
	}

	proceeds := req.PriceEUR.Mul(req.Quantity)
	plan, err := ledger.Preview(snapshot, req.CompanyID, asset.Symbol, req.Quantity, proceeds, saleDate)
	if err != nil {
		return Prediction{}, err
	}

	gain := plan.GainLoss()
	tax := TaxOnGain(gain, e.brackets)
	rate := decimal.Zero
	if gain.IsPositive() {
		rate = tax.DivRound(gain, 4)
	}

	return Prediction{
		CompanyID:            req.CompanyID,
		AssetID:              asset.Symbol,
		Quantity:             plan.Quantity,
		SaleDate:             plan.SaleDate,
		TotalProceeds:        plan.Proceeds,
		TotalAcquisitionCost: plan.CostBasis,
		CapitalGain:          gain,
		TaxOwed:              tax,
		EffectiveTaxRate:     rate,
		LotsConsumed:         plan.Consumed,
		Recommendation:       recommend(gain, plan.Consumed),
	}, nil
}

func recommend(gain decimal.Decimal, consumed []domain.ConsumedLot) Recommendation {
	switch {
	case gain.IsNegative():
		return RecommendLossHarvest
	case gain.IsPositive() && lo.SomeBy(consumed, func(c domain.ConsumedLot) bool { return c.HoldingDays < LongTermDays }):
		return RecommendWaitLongTerm
	}
	return RecommendProceed
}

func validate(req PredictionRequest) error {
	issues := &domain.ValidationError{}
	if req.CompanyID == "" {
		issues.Add("companyId", "is required")
	}
	if req.AssetID == "" {
		issues.Add("assetId", "is required")
	}
	if !req.Quantity.IsPositive() {
		issues.Add("quantity", "must be positive")
	}
	if req.PriceEUR.IsNegative() {
		issues.Add("priceEur", "must not be negative")
	}
	if req.Type != "" && !req.Type.ConsumesLots() {
		issues.Add("type", fmt.Sprintf("%s does not dispose of lots", req.Type))
	}
	return issues.OrNil()
}
