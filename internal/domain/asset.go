package domain

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Asset is immutable reference data for a tracked crypto asset.
type Asset struct {
	Symbol      string `json:"symbol"`
	Decimals    int32  `json:"decimals"`
	PriceFeedID string `json:"priceFeedId"`
}

// RoundQuantity truncates q to the asset's native precision.
// Quantities below one base unit (e.g. a fraction of a satoshi) cannot exist on chain.
func (a Asset) RoundQuantity(q decimal.Decimal) decimal.Decimal {
	return q.Truncate(a.Decimals)
}

// BaseUnit returns the smallest representable quantity of the asset.
func (a Asset) BaseUnit() decimal.Decimal {
	return decimal.New(1, -a.Decimals)
}

// knownAssets are unexported to prevent external mutation.
var knownAssets = []Asset{
	{Symbol: "BTC", Decimals: 8, PriceFeedID: "bitcoin"},
	{Symbol: "ETH", Decimals: 18, PriceFeedID: "ethereum"},
	{Symbol: "LTC", Decimals: 8, PriceFeedID: "litecoin"},
	{Symbol: "BCH", Decimals: 8, PriceFeedID: "bitcoin-cash"},
	{Symbol: "DOGE", Decimals: 8, PriceFeedID: "dogecoin"},
	{Symbol: "SOL", Decimals: 9, PriceFeedID: "solana"},
	{Symbol: "ADA", Decimals: 6, PriceFeedID: "cardano"},
	{Symbol: "DOT", Decimals: 10, PriceFeedID: "polkadot"},
	{Symbol: "MATIC", Decimals: 18, PriceFeedID: "matic-network"},
	{Symbol: "XLM", Decimals: 7, PriceFeedID: "stellar"},
	{Symbol: "USDC", Decimals: 6, PriceFeedID: "usd-coin"},
	{Symbol: "USDT", Decimals: 6, PriceFeedID: "tether"},
	{Symbol: "DAI", Decimals: 18, PriceFeedID: "dai"},
	{Symbol: "EURC", Decimals: 6, PriceFeedID: "euro-coin"},
}

// KnownAssets returns a copy of the built-in asset registry.
func KnownAssets() []Asset {
	out := make([]Asset, len(knownAssets))
	copy(out, knownAssets)
	return out
}

// AssetBySymbol looks up an asset by symbol, case-insensitively.
func AssetBySymbol(symbol string) (Asset, bool) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return lo.Find(knownAssets, func(a Asset) bool { return a.Symbol == s })
}

// LookupAsset returns the registered asset or a default 8-decimal asset for unknown symbols.
// Unknown assets still get a deterministic precision so FIFO arithmetic stays bounded.
func LookupAsset(symbol string) Asset {
	if a, ok := AssetBySymbol(symbol); ok {
		return a
	}
	return Asset{Symbol: strings.ToUpper(strings.TrimSpace(symbol)), Decimals: 8}
}

// IsStablecoin reports whether the asset tracks a fiat currency.
// Stablecoin legs of a trade are treated as the cash side when classifying BUY/SELL.
func IsStablecoin(symbol string) bool {
	switch strings.ToUpper(symbol) {
	case "USDC", "USDT", "DAI", "EURC", "BUSD", "TUSD", "EURT":
		return true
	}
	return false
}

// AssetKey identifies one FIFO queue: a company's holdings of one asset.
type AssetKey struct {
	CompanyID string
	AssetID   string
}

func (k AssetKey) String() string {
	return fmt.Sprintf("%s/%s", k.CompanyID, k.AssetID)
}
