package classifier

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/taxledger/internal/domain"
)

// UTXOTransaction is a Bitcoin-style transaction. Values are decimal strings in whole
// coins ("0.015"), not base units.
type UTXOTransaction struct {
	TxID     string       `json:"txid"`
	Asset    string       `json:"asset"`
	Inputs   []UTXOOutput `json:"inputs"`
	Outputs  []UTXOOutput `json:"outputs"`
	Fee      string       `json:"fee,omitempty"`
	Coinbase bool         `json:"coinbase,omitempty"`
}

// UTXOOutput is an output being created, or a previous output being spent.
type UTXOOutput struct {
	Address string `json:"address"`
	Value   string `json:"value"`
}

// bech32Prefixes are the human-readable parts of segwit addresses. Bech32 is
// case-insensitive; base58 addresses are not and are compared as given.
var bech32Prefixes = []string{"bc1", "tb1", "bcrt1", "ltc1", "tltc1"}

func utxoAddress(a string) string {
	a = strings.TrimSpace(a)
	lower := strings.ToLower(a)
	for _, p := range bech32Prefixes {
		if strings.HasPrefix(lower, p) {
			return lower
		}
	}
	return a
}

// sumOwned totals the outputs paid to wallet, which must already be normalized.
func sumOwned(outs []UTXOOutput, wallet string) (decimal.Decimal, error) {
	total := decimal.Zero
	for i, o := range outs {
		if utxoAddress(o.Address) != wallet {
			continue
		}
		v, err := decimal.NewFromString(o.Value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("output %d value %q: %w", i, o.Value, err)
		}
		if v.IsNegative() {
			return decimal.Zero, fmt.Errorf("output %d value %q is negative", i, o.Value)
		}
		total = total.Add(v)
	}
	return total, nil
}

func (c *Classifier) classifyUTXO(tx UTXOTransaction, wallet string) Classification {
	asset := domain.LookupAsset(tx.Asset).Symbol
	if asset == "" {
		asset = "BTC"
	}
	wallet = utxoAddress(wallet)
	if wallet == "" {
		return unparseable(tx.TxID, "no wallet address given")
	}

	in, err := sumOwned(tx.Inputs, wallet)
	if err != nil {
		return unparseable(tx.TxID, "inputs: "+err.Error())
	}
	out, err := sumOwned(tx.Outputs, wallet)
	if err != nil {
		return unparseable(tx.TxID, "outputs: "+err.Error())
	}

	res := Classification{TxID: tx.TxID}
	if in.IsPositive() && tx.Fee != "" {
		fee, err := decimal.NewFromString(tx.Fee)
		if err != nil {
			return unparseable(tx.TxID, fmt.Sprintf("fee %q: %v", tx.Fee, err))
		}
		res.FeeAsset, res.FeeAmount = asset, amount(fee)
	}

	switch {
	case tx.Coinbase && out.IsPositive():
		res.Type, res.Confidence = domain.TxMining, 1.0
		res.AssetIn, res.AmountIn = asset, amount(out)
		res.Reasoning = "coinbase output paid to this address"

	case in.IsPositive() && out.IsPositive():
		net := out.Sub(in)
		eps := c.Epsilon(asset)
		switch {
		case net.IsZero() || net.Abs().LessThan(eps):
			res.Type, res.Subtype, res.Confidence = domain.TxOther, SubtypeConsolidation, 0.95
			res.Reasoning = fmt.Sprintf("self-transfer, net change %s within epsilon %s", net, eps)
		case net.IsPositive():
			res.Type, res.Subtype, res.Confidence = domain.TxTransferOut, SubtypeChangeReturned, 0.9
			res.AssetOut, res.AmountOut = asset, amount(net.Abs())
			res.Reasoning = fmt.Sprintf("spent %s and received %s back, change returned", in, out)
		default:
			res.Type, res.Confidence = domain.TxTransferIn, 0.7
			res.AssetIn, res.AmountIn = asset, amount(net.Abs())
			res.Reasoning = fmt.Sprintf("self-transfer received %s more than it spent, which is unusual", net.Abs())
		}

	case in.IsPositive():
		res.Type, res.Confidence = domain.TxTransferOut, 1.0
		res.AssetOut, res.AmountOut = asset, amount(in)
		res.Reasoning = "spent outputs of this address with nothing paid back"

	case out.IsPositive():
		res.Type, res.Confidence = domain.TxTransferIn, 1.0
		res.AssetIn, res.AmountIn = asset, amount(out)
		res.Reasoning = "received outputs without spending any"

	default:
		res.Type, res.Confidence = domain.TxOther, 0.5
		res.Reasoning = "transaction does not involve this address"
	}
	return res
}
