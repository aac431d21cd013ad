// Package classifier labels raw chain transactions with an accounting type and a
// confidence score. Classification never fails: input it cannot interpret comes back
// as OTHER with low confidence and a reason, so it still reaches the review queue.
package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mtlprog/taxledger/internal/domain"
)

// Chain models the bookkeeping style of a blockchain.
type Chain string

const (
	ChainUTXO Chain = "utxo"
	ChainEVM  Chain = "evm"
)

// Subtypes refine a classification.
const (
	SubtypeConsolidation  = "consolidation"
	SubtypeChangeReturned = "change_returned"
	SubtypeFeeOnly        = "fee_only"
	SubtypeReverted       = "reverted"
	SubtypeUnparseable    = "unparseable"
)

// RawTransaction is one chain transaction as fetched from a node or explorer.
// Exactly one of UTXO or EVM is set, matching Chain.
type RawTransaction struct {
	Chain Chain            `json:"chain"`
	UTXO  *UTXOTransaction `json:"utxo,omitempty"`
	EVM   *EVMTransaction  `json:"evm,omitempty"`
}

// Classification is the outcome for one transaction, from the wallet's point of view.
type Classification struct {
	TxID       string           `json:"txId"`
	Type       domain.TxType    `json:"type"`
	Subtype    string           `json:"subtype,omitempty"`
	AssetIn    string           `json:"assetIn,omitempty"`
	AmountIn   *decimal.Decimal `json:"amountIn,omitempty"`
	AssetOut   string           `json:"assetOut,omitempty"`
	AmountOut  *decimal.Decimal `json:"amountOut,omitempty"`
	FeeAsset   string           `json:"feeAsset,omitempty"`
	FeeAmount  *decimal.Decimal `json:"feeAmount,omitempty"`
	Confidence float64          `json:"confidence"`
	Reasoning  string           `json:"reasoning"`
}

// Config holds the tunable parameters of the rules.
type Config struct {
	// Epsilons bounds |netChange| below which a self-transfer counts as a consolidation,
	// keyed by asset symbol. Assets without an entry require an exact match.
	Epsilons map[string]decimal.Decimal
	// StakingContracts and AirdropDistributors are lower-case EVM addresses.
	StakingContracts    []string
	AirdropDistributors []string
	// Concurrency bounds ClassifyBatch; zero means 8.
	Concurrency int
}

// Classifier applies the UTXO and EVM rules. It is safe for concurrent use.
type Classifier struct {
	epsilons    map[string]decimal.Decimal
	staking     map[string]bool
	airdrops    map[string]bool
	concurrency int
}

// New creates a Classifier from cfg.
func New(cfg Config) *Classifier {
	c := &Classifier{
		epsilons:    make(map[string]decimal.Decimal, len(cfg.Epsilons)),
		staking:     addressSet(cfg.StakingContracts),
		airdrops:    addressSet(cfg.AirdropDistributors),
		concurrency: cfg.Concurrency,
	}
	for asset, eps := range cfg.Epsilons {
		c.epsilons[domain.LookupAsset(asset).Symbol] = eps.Abs()
	}
	if c.concurrency <= 0 {
		c.concurrency = 8
	}
	return c
}

func addressSet(addrs []string) map[string]bool {
	set := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		set[normalizeAddress(a)] = true
	}
	return set
}

func normalizeAddress(a string) string {
	return strings.ToLower(strings.TrimSpace(a))
}

// Epsilon returns the consolidation tolerance for an asset.
func (c *Classifier) Epsilon(assetID string) decimal.Decimal {
	return c.epsilons[domain.LookupAsset(assetID).Symbol]
}

// Classify labels tx from the point of view of wallet.
func (c *Classifier) Classify(tx RawTransaction, wallet string) Classification {
	switch tx.Chain {
	case ChainUTXO:
		if tx.UTXO == nil {
			return unparseable("", "utxo transaction body missing")
		}
		return c.classifyUTXO(*tx.UTXO, wallet)
	case ChainEVM:
		if tx.EVM == nil {
			return unparseable("", "evm transaction body missing")
		}
		return c.classifyEVM(*tx.EVM, wallet)
	default:
		return unparseable("", fmt.Sprintf("unknown chain %q", tx.Chain))
	}
}

// ClassifyBatch classifies txs concurrently and returns results in input order.
// It only fails when ctx is cancelled.
func (c *Classifier) ClassifyBatch(ctx context.Context, txs []RawTransaction, wallet string) ([]Classification, error) {
	out := make([]Classification, len(txs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, tx := range txs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = c.Classify(tx, wallet)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("classifying batch: %w", err)
	}
	return out, nil
}

func unparseable(txID, reason string) Classification {
	return Classification{
		TxID:       txID,
		Type:       domain.TxOther,
		Subtype:    SubtypeUnparseable,
		Confidence: 0.1,
		Reasoning:  "could not interpret transaction: " + reason,
	}
}

func amount(d decimal.Decimal) *decimal.Decimal { return &d }
