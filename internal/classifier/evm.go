package classifier

import (
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/taxledger/internal/domain"
)

// EVMTransaction is an account-model transaction with its decoded token transfers and
// event names. Amounts are decimal strings in whole tokens.
type EVMTransaction struct {
	Hash        string          `json:"hash"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Value       string          `json:"value"`
	NativeAsset string          `json:"nativeAsset,omitempty"`
	Success     bool            `json:"success"`
	Fee         string          `json:"fee,omitempty"`
	BlockReward bool            `json:"blockReward,omitempty"`
	Transfers   []TokenTransfer `json:"transfers,omitempty"`
	Events      []string        `json:"events,omitempty"`
}

// TokenTransfer is a decoded token Transfer event.
type TokenTransfer struct {
	Token  string `json:"token"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

var (
	swapEvents    = []string{"swap", "tokenexchange", "trade"}
	airdropEvents = []string{"claimed", "airdropclaimed"}
)

type flow struct {
	asset  string
	amount decimal.Decimal
	// counterparty is the other side of the first transfer seen for this asset.
	counterparty string
}

// evmFlows nets transfers per asset into inbound and outbound legs, sorted by asset.
func evmFlows(tx EVMTransaction, wallet string) (in, out []flow, err error) {
	native := domain.LookupAsset(lo.CoalesceOrEmpty(tx.NativeAsset, "ETH")).Symbol
	inflows := map[string]*flow{}
	outflows := map[string]*flow{}

	add := func(asset, from, to, raw string) error {
		if raw == "" {
			return nil
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("%s amount %q: %w", asset, raw, err)
		}
		if !v.IsPositive() {
			return nil
		}
		from, to = normalizeAddress(from), normalizeAddress(to)
		switch {
		case to == wallet && from != wallet:
			accumulate(inflows, asset, v, from)
		case from == wallet && to != wallet:
			accumulate(outflows, asset, v, to)
		}
		return nil
	}

	if err := add(native, tx.From, tx.To, tx.Value); err != nil {
		return nil, nil, err
	}
	for _, t := range tx.Transfers {
		if err := add(domain.LookupAsset(t.Token).Symbol, t.From, t.To, t.Amount); err != nil {
			return nil, nil, err
		}
	}
	return sortedFlows(inflows), sortedFlows(outflows), nil
}

func accumulate(m map[string]*flow, asset string, v decimal.Decimal, counterparty string) {
	if f, ok := m[asset]; ok {
		f.amount = f.amount.Add(v)
		return
	}
	m[asset] = &flow{asset: asset, amount: v, counterparty: counterparty}
}

func sortedFlows(m map[string]*flow) []flow {
	out := lo.MapToSlice(m, func(_ string, f *flow) flow { return *f })
	slices.SortFunc(out, func(a, b flow) int { return strings.Compare(a.asset, b.asset) })
	return out
}

func hasEvent(events []string, names []string) bool {
	return lo.SomeBy(events, func(e string) bool { return slices.Contains(names, strings.ToLower(e)) })
}

func (c *Classifier) classifyEVM(tx EVMTransaction, wallet string) Classification {
	wallet = normalizeAddress(wallet)
	if wallet == "" {
		return unparseable(tx.Hash, "no wallet address given")
	}
	res := Classification{TxID: tx.Hash}
	native := domain.LookupAsset(lo.CoalesceOrEmpty(tx.NativeAsset, "ETH")).Symbol

	if normalizeAddress(tx.From) == wallet && tx.Fee != "" {
		fee, err := decimal.NewFromString(tx.Fee)
		if err != nil {
			return unparseable(tx.Hash, fmt.Sprintf("fee %q: %v", tx.Fee, err))
		}
		res.FeeAsset, res.FeeAmount = native, amount(fee)
	}

	if !tx.Success {
		res.Type, res.Subtype, res.Confidence = domain.TxOther, SubtypeReverted, 0.3
		res.Reasoning = "transaction reverted; only the fee left the wallet"
		return res
	}

	in, out, err := evmFlows(tx, wallet)
	if err != nil {
		return unparseable(tx.Hash, err.Error())
	}

	confidence := func(base float64) float64 {
		// Several assets on one side: the primary leg is only a summary.
		if len(in) > 1 || len(out) > 1 {
			return min(base, 0.6)
		}
		return base
	}
	if len(in) > 0 {
		res.AssetIn, res.AmountIn = in[0].asset, amount(in[0].amount)
	}
	if len(out) > 0 {
		res.AssetOut, res.AmountOut = out[0].asset, amount(out[0].amount)
	}

	switch {
	case tx.BlockReward && len(in) > 0:
		res.Type, res.Confidence = domain.TxMining, 1.0
		res.Reasoning = "block reward paid to this address"

	case len(in) > 0 && len(out) > 0:
		stableOut, stableIn := domain.IsStablecoin(out[0].asset), domain.IsStablecoin(in[0].asset)
		switch {
		case stableOut && !stableIn:
			res.Type, res.Confidence = domain.TxBuy, confidence(0.85)
			res.Reasoning = fmt.Sprintf("paid %s stablecoin for %s", out[0].asset, in[0].asset)
		case !stableOut && stableIn:
			res.Type, res.Confidence = domain.TxSell, confidence(0.85)
			res.Reasoning = fmt.Sprintf("sold %s for %s stablecoin", out[0].asset, in[0].asset)
		default:
			res.Type, res.Confidence = domain.TxSwap, confidence(0.9)
			res.Reasoning = fmt.Sprintf("exchanged %s for %s", out[0].asset, in[0].asset)
		}

	case hasEvent(tx.Events, swapEvents):
		res.Type, res.Confidence = domain.TxSwap, 0.6
		res.Reasoning = "swap event emitted but only one leg touches this wallet"

	case len(in) > 0 && (c.staking[in[0].counterparty] || c.staking[normalizeAddress(tx.To)] || c.staking[normalizeAddress(tx.From)]):
		res.Type, res.Confidence = domain.TxStakingReward, confidence(0.9)
		res.Reasoning = "inflow from a registered staking contract"

	case len(in) > 0 && (c.airdrops[in[0].counterparty] || c.airdrops[normalizeAddress(tx.To)] || hasEvent(tx.Events, airdropEvents)):
		res.Type, res.Confidence = domain.TxAirdrop, confidence(0.8)
		res.Reasoning = "tokens received from an airdrop distributor"

	case len(in) > 0:
		res.Type, res.Confidence = domain.TxTransferIn, confidence(1.0)
		res.Reasoning = "received without sending anything"

	case len(out) > 0:
		res.Type, res.Confidence = domain.TxTransferOut, confidence(1.0)
		res.Reasoning = "sent without receiving anything"

	case res.FeeAmount != nil:
		res.Type, res.Subtype, res.Confidence = domain.TxOther, SubtypeFeeOnly, 0.5
		res.Reasoning = "only gas left the wallet"

	default:
		res.Type, res.Confidence = domain.TxOther, 0.5
		res.Reasoning = "transaction does not involve this address"
	}
	return res
}
