package domain

import (
	"github.com/shopspring/decimal"
)

// modelo721ThresholdCents is the statutory year-end value, in euro cents, above which
// Modelo 720/721 must be filed. It is a legal parameter, not configuration.
const modelo721ThresholdCents = 5_000_000

// Modelo721Threshold returns the declaration threshold in EUR.
func Modelo721Threshold() decimal.Decimal {
	return decimal.New(modelo721ThresholdCents, -2)
}

// ExceedsDeclarationThreshold compares with strict greater-than: exactly 50,000.00 does not oblige.
func ExceedsDeclarationThreshold(total decimal.Decimal) bool {
	return total.GreaterThan(Modelo721Threshold())
}

// Holding is one asset's year-end position and valuation.
type Holding struct {
	AssetID          string          `json:"assetId"`
	Quantity         decimal.Decimal `json:"quantity"`
	AcquisitionValue decimal.Decimal `json:"acquisitionValue"`
	YearEndPrice     decimal.Decimal `json:"yearEndPrice"`
	YearEndValue     decimal.Decimal `json:"yearEndValue"`
	PriceMissing     bool            `json:"priceMissing,omitempty"`
}

// Modelo720Line is one subgroup-8 line item: an asset held at one custodian.
type Modelo720Line struct {
	CustodianID      string          `json:"custodianId"`
	CustodianName    string          `json:"custodianName"`
	CustodianTaxID   string          `json:"custodianTaxId,omitempty"`
	CountryCode      string          `json:"countryCode"`
	AssetID          string          `json:"assetId"`
	Quantity         decimal.Decimal `json:"quantity"`
	AcquisitionValue decimal.Decimal `json:"acquisitionValue"`
	YearEndValue     decimal.Decimal `json:"yearEndValue"`
}

// TaxYearSummary aggregates a fiscal year for one company.
type TaxYearSummary struct {
	CompanyID             string          `json:"companyId"`
	Year                  int             `json:"year"`
	DisposalCount         int             `json:"disposalCount"`
	TotalProceeds         decimal.Decimal `json:"totalProceeds"`
	TotalCostBasis        decimal.Decimal `json:"totalCostBasis"`
	RealizedGainLoss      decimal.Decimal `json:"realizedGainLoss"`
	RealizedGains         decimal.Decimal `json:"realizedGains"`
	RealizedLosses        decimal.Decimal `json:"realizedLosses"`
	IncomeEUR             decimal.Decimal `json:"incomeEur"`
	Holdings              []Holding       `json:"holdings"`
	TotalAcquisitionValue decimal.Decimal `json:"totalAcquisitionValue"`
	TotalYearEndValue     decimal.Decimal `json:"totalYearEndValue"`
	Modelo720Lines        []Modelo720Line `json:"modelo720Lines"`
	Modelo721Required     bool            `json:"modelo721Required"`
	Modelo720Required     bool            `json:"modelo720Required"`
	// Incomplete is set when aggregation timed out or a year-end price was missing.
	// An incomplete summary must never be submitted.
	Incomplete       bool     `json:"incomplete"`
	IncompleteReason string   `json:"incompleteReason,omitempty"`
	MissingPrices    []string `json:"missingPrices,omitempty"`
}
