// Package ledger keeps the FIFO inventory of acquisition lots per company and asset.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/taxledger/internal/domain"
	"github.com/mtlprog/taxledger/internal/store"
)

// LotInput describes a new acquisition.
type LotInput struct {
	Quantity            decimal.Decimal
	UnitCostEUR         decimal.Decimal
	AcquiredAt          time.Time
	CustodianID         string
	SourceTransactionID string
}

// DisposalInput describes a disposal of held quantity.
type DisposalInput struct {
	Quantity            decimal.Decimal
	ProceedsEUR         decimal.Decimal
	SaleDate            time.Time
	SourceTransactionID string
}

// Ledger mutates lots. Writers for the same (company, asset) are serialized; the store's
// unit of work makes each mutation all-or-nothing.
type Ledger struct {
	store store.Store
	locks *keyedMutex
}

// NewLedger creates a new Ledger over the given store.
func NewLedger(st store.Store) *Ledger {
	return &Ledger{store: st, locks: newKeyedMutex()}
}

// Atomically runs fn inside the critical section for key and a single store unit of work.
// No network or price-feed call may happen inside fn.
func (l *Ledger) Atomically(ctx context.Context, key domain.AssetKey, fn func(lots store.LotRepository, journal store.JournalRepository) error) error {
	return l.AtomicallyAll(ctx, []domain.AssetKey{key}, fn)
}

// AtomicallyAll is Atomically for an event touching several assets, such as a swap.
// All keys are held for the whole unit of work.
func (l *Ledger) AtomicallyAll(ctx context.Context, keys []domain.AssetKey, fn func(lots store.LotRepository, journal store.JournalRepository) error) error {
	unlock := l.locks.LockAll(lo.Map(keys, func(k domain.AssetKey, _ int) string { return k.String() })...)
	defer unlock()
	return l.store.InTx(ctx, fn)
}

// CreateLot appends a lot to the FIFO queue and returns its id.
func (l *Ledger) CreateLot(ctx context.Context, companyID, assetID string, in LotInput) (string, error) {
	var id string
	err := l.Atomically(ctx, KeyFor(companyID, assetID),
		func(lots store.LotRepository, _ store.JournalRepository) error {
			lot, err := CreateLotIn(ctx, lots, companyID, assetID, in)
			id = lot.ID
			return err
		})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Consume disposes of quantity FIFO and records the DisposalEvent.
func (l *Ledger) Consume(ctx context.Context, companyID, assetID string, in DisposalInput) (domain.DisposalEvent, error) {
	var event domain.DisposalEvent
	err := l.Atomically(ctx, KeyFor(companyID, assetID),
		func(lots store.LotRepository, _ store.JournalRepository) error {
			var err error
			event, err = ConsumeIn(ctx, lots, companyID, assetID, in)
			return err
		})
	if err != nil {
		return domain.DisposalEvent{}, err
	}
	return event, nil
}

// Lots returns a snapshot of one asset's lots in FIFO order.
func (l *Ledger) Lots(ctx context.Context, companyID, assetID string) ([]domain.AcquisitionLot, error) {
	return l.store.Lots().ListLots(ctx, companyID, domain.LookupAsset(assetID).Symbol)
}

// KeyFor returns the critical-section key for an asset, normalizing the symbol.
func KeyFor(companyID, assetID string) domain.AssetKey {
	return domain.AssetKey{CompanyID: companyID, AssetID: domain.LookupAsset(assetID).Symbol}
}

// CreateLotIn inserts a lot using an open unit of work. A lot derived from a source
// transaction that already exists is returned unchanged, so replays are harmless.
func CreateLotIn(ctx context.Context, lots store.LotRepository, companyID, assetID string, in LotInput) (domain.AcquisitionLot, error) {
	asset := domain.LookupAsset(assetID)
	qty := asset.RoundQuantity(in.Quantity)
	if !qty.IsPositive() {
		return domain.AcquisitionLot{}, fmt.Errorf("lot quantity must be positive after rounding to %d decimals, got %s", asset.Decimals, in.Quantity)
	}
	if in.UnitCostEUR.IsNegative() {
		return domain.AcquisitionLot{}, fmt.Errorf("lot unit cost must not be negative, got %s", in.UnitCostEUR)
	}

	id := domain.NewID()
	if in.SourceTransactionID != "" {
		id = domain.DerivedID("lot", companyID, asset.Symbol, in.SourceTransactionID)
		existing, err := findLot(ctx, lots, companyID, asset.Symbol, id)
		if err == nil {
			slog.Info("ledger: lot already recorded for source", "company", companyID, "asset", asset.Symbol, "source", in.SourceTransactionID)
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return domain.AcquisitionLot{}, err
		}
	}

	lot := domain.AcquisitionLot{
		ID:                  id,
		CompanyID:           companyID,
		AssetID:             asset.Symbol,
		CustodianID:         in.CustodianID,
		AcquiredAt:          in.AcquiredAt.UTC(),
		OriginalQuantity:    qty,
		QuantityRemaining:   qty,
		UnitCostEUR:         in.UnitCostEUR,
		SourceTransactionID: in.SourceTransactionID,
	}

	seq, err := lots.InsertLot(ctx, lot)
	if err != nil {
		return domain.AcquisitionLot{}, fmt.Errorf("creating lot: %w", err)
	}
	lot.Seq = seq
	return lot, nil
}

func findLot(ctx context.Context, lots store.LotRepository, companyID, assetID, id string) (domain.AcquisitionLot, error) {
	all, err := lots.ListLots(ctx, companyID, assetID)
	if err != nil {
		return domain.AcquisitionLot{}, err
	}
	lot, ok := lo.Find(all, func(l domain.AcquisitionLot) bool { return l.ID == id })
	if !ok {
		return domain.AcquisitionLot{}, fmt.Errorf("lot %s: %w", id, store.ErrNotFound)
	}
	return lot, nil
}

// ConsumeIn plans the disposal against the current lots and writes the result using an
// open unit of work. A disposal already recorded for the same source is returned as is.
func ConsumeIn(ctx context.Context, lots store.LotRepository, companyID, assetID string, in DisposalInput) (domain.DisposalEvent, error) {
	asset := domain.LookupAsset(assetID)
	if in.SourceTransactionID != "" {
		prev, err := lots.GetDisposalBySource(ctx, companyID, in.SourceTransactionID)
		if err == nil {
			slog.Info("ledger: disposal already recorded for source", "company", companyID, "asset", asset.Symbol, "source", in.SourceTransactionID)
			return prev, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return domain.DisposalEvent{}, fmt.Errorf("checking previous disposal: %w", err)
		}
	}

	snapshot, err := lots.ListLots(ctx, companyID, asset.Symbol)
	if err != nil {
		return domain.DisposalEvent{}, fmt.Errorf("loading lots: %w", err)
	}

	plan, err := Preview(snapshot, companyID, asset.Symbol, in.Quantity, in.ProceedsEUR, in.SaleDate)
	if err != nil {
		return domain.DisposalEvent{}, err
	}

	// Apply in FIFO order so a failure part-way leaves the unit of work to roll back.
	for _, c := range plan.Consumed {
		if err := lots.SetRemaining(ctx, c.LotID, plan.Remaining[c.LotID]); err != nil {
			return domain.DisposalEvent{}, fmt.Errorf("consuming lot %s: %w", c.LotID, err)
		}
	}

	id := domain.NewID()
	if in.SourceTransactionID != "" {
		id = domain.DerivedID("disposal", companyID, in.SourceTransactionID)
	}
	event := EventFromPlan(plan, id, companyID, asset.Symbol, in.SourceTransactionID)
	if err := lots.InsertDisposal(ctx, event); err != nil {
		return domain.DisposalEvent{}, fmt.Errorf("recording disposal: %w", err)
	}
	return event, nil
}

// Preview computes the plan Consume would execute against snapshot, applying the same
// quantity rounding and date normalization, without touching storage.
func Preview(snapshot []domain.AcquisitionLot, companyID, assetID string, quantity, proceeds decimal.Decimal, saleDate time.Time) (Plan, error) {
	asset := domain.LookupAsset(assetID)
	plan, err := PlanFIFO(snapshot, asset.RoundQuantity(quantity), proceeds, saleDate.UTC())
	if err != nil {
		var insufficient *domain.InsufficientCostBasisError
		if errors.As(err, &insufficient) {
			insufficient.CompanyID, insufficient.AssetID = companyID, asset.Symbol
		}
		return Plan{}, err
	}
	return plan, nil
}

// EventFromPlan builds the DisposalEvent a plan produces.
func EventFromPlan(plan Plan, id, companyID, assetID, sourceID string) domain.DisposalEvent {
	return domain.DisposalEvent{
		ID:                  id,
		CompanyID:           companyID,
		AssetID:             assetID,
		QuantitySold:        plan.Quantity,
		ProceedsEUR:         plan.Proceeds,
		SaleDate:            plan.SaleDate,
		SourceTransactionID: sourceID,
		ConsumedLots:        plan.Consumed,
	}
}

// Positions aggregates open lots per asset, sorted by asset. Assets whose lots are fully
// consumed are omitted unless includeZero is set, in which case they report zeros.
func (l *Ledger) Positions(ctx context.Context, companyID string, includeZero bool) ([]domain.Position, error) {
	all, err := l.store.Lots().ListCompanyLots(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("loading lots: %w", err)
	}
	return positionsFromLots(all, includeZero), nil
}

func positionsFromLots(all []domain.AcquisitionLot, includeZero bool) []domain.Position {
	byAsset := lo.GroupBy(all, func(l domain.AcquisitionLot) string { return l.AssetID })

	positions := make([]domain.Position, 0, len(byAsset))
	for assetID, lots := range byAsset {
		open := lo.Filter(lots, func(l domain.AcquisitionLot, _ int) bool { return l.IsOpen() })
		qty := lo.Reduce(open, func(acc decimal.Decimal, l domain.AcquisitionLot, _ int) decimal.Decimal {
			return acc.Add(l.QuantityRemaining)
		}, decimal.Zero)
		cost := lo.Reduce(open, func(acc decimal.Decimal, l domain.AcquisitionLot, _ int) decimal.Decimal {
			return acc.Add(l.RemainingCost())
		}, decimal.Zero)

		if qty.IsZero() && !includeZero {
			continue
		}
		avg := decimal.Zero
		if !qty.IsZero() {
			avg = cost.Div(qty)
		}
		positions = append(positions, domain.Position{
			AssetID:        assetID,
			TotalQuantity:  qty,
			TotalCostBasis: cost,
			AverageCost:    avg,
			OpenLots:       len(open),
		})
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].AssetID < positions[j].AssetID })
	return positions
}
