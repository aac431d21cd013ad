// Package booking recognizes classified transactions: it resolves their EUR value,
// then mutates lots and posts the matching journal entry as one unit of work.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/taxledger/internal/domain"
	"github.com/mtlprog/taxledger/internal/journal"
	"github.com/mtlprog/taxledger/internal/ledger"
	"github.com/mtlprog/taxledger/internal/price"
	"github.com/mtlprog/taxledger/internal/store"
)

// Leg is the asset received in a swap.
type Leg struct {
	Asset    string          `json:"asset"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Transaction is a classified transaction ready to be booked.
type Transaction struct {
	Type     domain.TxType   `json:"type"`
	Asset    string          `json:"asset"`
	Quantity decimal.Decimal `json:"quantity"`
	// FiatValue is the EUR value of Quantity when known from the source (an exchange fill).
	// When nil the value is resolved from the price feed at Timestamp.
	FiatValue   *decimal.Decimal `json:"fiatValue,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	SourceID    string           `json:"sourceId"`
	CustodianID string           `json:"custodianId,omitempty"`
	// Received is the inbound leg of a SWAP.
	Received *Leg `json:"received,omitempty"`
}

// Result describes what booking a transaction produced.
type Result struct {
	Lot      *domain.AcquisitionLot `json:"lot,omitempty"`
	Disposal *domain.DisposalEvent  `json:"disposal,omitempty"`
	Entry    *domain.JournalEntry   `json:"entry,omitempty"`
	// Acquired is the lot opened for the inbound leg of a swap.
	Acquired *domain.AcquisitionLot `json:"acquired,omitempty"`
	Skipped  bool                   `json:"skipped,omitempty"`
}

// Booker wires the ledger, the journal and the price feed together.
type Booker struct {
	ledger *ledger.Ledger
	poster *journal.Poster
	feed   price.Feed
	refs   store.ReferenceRepository
}

// NewBooker creates a new Booker.
func NewBooker(l *ledger.Ledger, p *journal.Poster, feed price.Feed, refs store.ReferenceRepository) *Booker {
	return &Booker{ledger: l, poster: p, feed: feed, refs: refs}
}

// Record books one transaction for a company. Replaying a transaction with the same
// SourceID returns the records created the first time.
func (b *Booker) Record(ctx context.Context, companyID string, tx Transaction) (Result, error) {
	if err := validate(companyID, tx); err != nil {
		return Result{}, err
	}

	mapping, err := b.accountMapping(ctx, companyID)
	if err != nil {
		return Result{}, err
	}

	if tx.Type == domain.TxOther {
		slog.Info("booking: transaction has no accounting effect", "company", companyID, "source", tx.SourceID)
		return Result{Skipped: true}, nil
	}

	// Prices are resolved before the ledger lock is taken.
	value, err := b.value(ctx, tx)
	if err != nil {
		return Result{}, err
	}

	switch {
	case tx.Type.IsIncome():
		return b.recordIncome(ctx, companyID, tx, value, mapping)
	case tx.Type.CreatesLot():
		return b.recordAcquisition(ctx, companyID, tx, value)
	case tx.Type.ConsumesLots():
		return b.recordDisposal(ctx, companyID, tx, value, mapping)
	}
	return Result{}, fmt.Errorf("unsupported transaction type %q", tx.Type)
}

func validate(companyID string, tx Transaction) error {
	issues := &domain.ValidationError{}
	if companyID == "" {
		issues.Add("companyId", "is required")
	}
	if _, err := domain.ParseTxType(string(tx.Type)); err != nil {
		issues.Add("type", err.Error())
	}
	if tx.Type != domain.TxOther {
		if tx.Asset == "" {
			issues.Add("asset", "is required")
		}
		if !tx.Quantity.IsPositive() {
			issues.Add("quantity", "must be positive")
		} else if tx.Asset != "" && !roundsPositive(tx.Asset, tx.Quantity) {
			issues.Add("quantity", fmt.Sprintf("rounds to zero at %d decimals", domain.LookupAsset(tx.Asset).Decimals))
		}
		if tx.Timestamp.IsZero() {
			issues.Add("timestamp", "is required")
		}
	}
	if tx.SourceID == "" {
		issues.Add("sourceId", "is required")
	}
	if tx.FiatValue != nil && tx.FiatValue.IsNegative() {
		issues.Add("fiatValue", "must not be negative")
	}
	if tx.Received != nil {
		if tx.Type != domain.TxSwap {
			issues.Add("received", "only applies to SWAP")
		} else if tx.Received.Asset == "" || !tx.Received.Quantity.IsPositive() {
			issues.Add("received", "needs an asset and a positive quantity")
		} else if !roundsPositive(tx.Received.Asset, tx.Received.Quantity) {
			issues.Add("received.quantity", fmt.Sprintf("rounds to zero at %d decimals", domain.LookupAsset(tx.Received.Asset).Decimals))
		}
	}
	return issues.OrNil()
}

func roundsPositive(assetID string, q decimal.Decimal) bool {
	return domain.LookupAsset(assetID).RoundQuantity(q).IsPositive()
}

func (b *Booker) accountMapping(ctx context.Context, companyID string) (domain.AccountMapping, error) {
	company, err := b.refs.GetCompany(ctx, companyID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.DefaultAccountMapping(), nil
	}
	if err != nil {
		return domain.AccountMapping{}, fmt.Errorf("loading company %s: %w", companyID, err)
	}
	return company.AccountMapping(), nil
}

func (b *Booker) value(ctx context.Context, tx Transaction) (decimal.Decimal, error) {
	if tx.FiatValue != nil {
		return *tx.FiatValue, nil
	}
	unit, err := b.feed.PriceAt(ctx, tx.Asset, tx.Timestamp)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return unit.Mul(tx.Quantity), nil
}

func unitCost(value, quantity decimal.Decimal, assetID string) decimal.Decimal {
	qty := domain.LookupAsset(assetID).RoundQuantity(quantity)
	if qty.IsZero() {
		return decimal.Zero
	}
	return value.Div(qty)
}

func (b *Booker) recordAcquisition(ctx context.Context, companyID string, tx Transaction, value decimal.Decimal) (Result, error) {
	var lot domain.AcquisitionLot
	err := b.ledger.Atomically(ctx, ledger.KeyFor(companyID, tx.Asset),
		func(lots store.LotRepository, _ store.JournalRepository) error {
			var err error
			lot, err = ledger.CreateLotIn(ctx, lots, companyID, tx.Asset, ledger.LotInput{
				Quantity:            tx.Quantity,
				UnitCostEUR:         unitCost(value, tx.Quantity, tx.Asset),
				AcquiredAt:          tx.Timestamp,
				CustodianID:         tx.CustodianID,
				SourceTransactionID: tx.SourceID,
			})
			return err
		})
	if err != nil {
		return Result{}, fmt.Errorf("booking %s %s: %w", tx.Type, tx.SourceID, err)
	}
	return Result{Lot: &lot}, nil
}

func (b *Booker) recordIncome(ctx context.Context, companyID string, tx Transaction, value decimal.Decimal, m domain.AccountMapping) (Result, error) {
	var res Result
	err := b.ledger.Atomically(ctx, ledger.KeyFor(companyID, tx.Asset),
		func(lots store.LotRepository, journalRepo store.JournalRepository) error {
			lot, err := ledger.CreateLotIn(ctx, lots, companyID, tx.Asset, ledger.LotInput{
				Quantity:            tx.Quantity,
				UnitCostEUR:         unitCost(value, tx.Quantity, tx.Asset),
				AcquiredAt:          tx.Timestamp,
				CustodianID:         tx.CustodianID,
				SourceTransactionID: tx.SourceID,
			})
			if err != nil {
				return err
			}
			res.Lot = &lot

			if !value.IsPositive() {
				slog.Info("booking: zero-value income, no entry posted", "company", companyID, "source", tx.SourceID, "type", tx.Type)
				return nil
			}
			entry, err := b.poster.PostIncomeIn(ctx, journalRepo, journal.IncomeEvent{
				CompanyID:    companyID,
				AssetID:      lot.AssetID,
				Type:         tx.Type,
				Quantity:     lot.OriginalQuantity,
				FairValueEUR: value,
				Date:         tx.Timestamp,
				SourceID:     tx.SourceID,
			}, m)
			if err != nil {
				return err
			}
			res.Entry = &entry
			return nil
		})
	if err != nil {
		return Result{}, fmt.Errorf("booking %s %s: %w", tx.Type, tx.SourceID, err)
	}
	return res, nil
}

func (b *Booker) recordDisposal(ctx context.Context, companyID string, tx Transaction, proceeds decimal.Decimal, m domain.AccountMapping) (Result, error) {
	keys := []domain.AssetKey{ledger.KeyFor(companyID, tx.Asset)}
	if tx.Received != nil {
		keys = append(keys, ledger.KeyFor(companyID, tx.Received.Asset))
	}

	var res Result
	err := b.ledger.AtomicallyAll(ctx, keys,
		func(lots store.LotRepository, journalRepo store.JournalRepository) error {
			event, err := ledger.ConsumeIn(ctx, lots, companyID, tx.Asset, ledger.DisposalInput{
				Quantity:            tx.Quantity,
				ProceedsEUR:         proceeds,
				SaleDate:            tx.Timestamp,
				SourceTransactionID: tx.SourceID,
			})
			if err != nil {
				return err
			}
			res.Disposal = &event

			entry, err := b.poster.PostDisposalIn(ctx, journalRepo, event, m)
			if err != nil {
				return err
			}
			res.Entry = &entry

			if tx.Received == nil {
				return nil
			}
			// The inbound leg is acquired at the fair value given up.
			acquired, err := ledger.CreateLotIn(ctx, lots, companyID, tx.Received.Asset, ledger.LotInput{
				Quantity:            tx.Received.Quantity,
				UnitCostEUR:         unitCost(proceeds, tx.Received.Quantity, tx.Received.Asset),
				AcquiredAt:          tx.Timestamp,
				CustodianID:         tx.CustodianID,
				SourceTransactionID: tx.SourceID + ":in",
			})
			if err != nil {
				return fmt.Errorf("inbound leg: %w", err)
			}
			res.Acquired = &acquired
			return nil
		})
	if err != nil {
		return Result{}, fmt.Errorf("booking %s %s: %w", tx.Type, tx.SourceID, err)
	}
	return res, nil
}
