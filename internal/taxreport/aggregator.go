// Package taxreport aggregates a company's fiscal year into the figures needed for the
// Spanish Modelo 720/721 declarations and exports them.
package taxreport

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mtlprog/taxledger/internal/domain"
	"github.com/mtlprog/taxledger/internal/price"
	"github.com/mtlprog/taxledger/internal/store"
)

const valuationConcurrency = 4

// Aggregator builds TaxYearSummary values from the ledger, the journal and the price feed.
type Aggregator struct {
	store     store.Store
	feed      price.Feed
	summaries Repository
	timeout   time.Duration
}

// NewAggregator creates a new Aggregator. A timeout <= 0 leaves aggregation bounded only
// by the caller's context.
func NewAggregator(st store.Store, feed price.Feed, summaries Repository, timeout time.Duration) *Aggregator {
	return &Aggregator{store: st, feed: feed, summaries: summaries, timeout: timeout}
}

// Summarize aggregates one fiscal year. When the timeout expires the partial result is
// returned with Incomplete set instead of an error. Complete summaries are persisted.
func (a *Aggregator) Summarize(ctx context.Context, companyID string, year int) (domain.TaxYearSummary, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	summary := domain.TaxYearSummary{
		CompanyID:             companyID,
		Year:                  year,
		TotalProceeds:         decimal.Zero,
		TotalCostBasis:        decimal.Zero,
		RealizedGainLoss:      decimal.Zero,
		RealizedGains:         decimal.Zero,
		RealizedLosses:        decimal.Zero,
		IncomeEUR:             decimal.Zero,
		TotalAcquisitionValue: decimal.Zero,
		TotalYearEndValue:     decimal.Zero,
		Holdings:              []domain.Holding{},
		Modelo720Lines:        []domain.Modelo720Line{},
	}

	err := a.aggregate(ctx, &summary)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		summary.Incomplete = true
		summary.IncompleteReason = "aggregation timed out"
		if a.timeout > 0 {
			summary.IncompleteReason = fmt.Sprintf("aggregation timed out after %s", a.timeout)
		}
		slog.Warn("taxreport: aggregation timed out", "company", companyID, "year", year, "timeout", a.timeout)
		return summary, nil
	case err != nil:
		return domain.TaxYearSummary{}, err
	}

	if summary.Incomplete {
		slog.Warn("taxreport: summary incomplete, not persisted", "company", companyID, "year", year, "reason", summary.IncompleteReason)
		return summary, nil
	}
	if a.summaries != nil {
		if err := a.summaries.Save(ctx, summary); err != nil {
			return domain.TaxYearSummary{}, fmt.Errorf("persisting summary: %w", err)
		}
	}
	return summary, nil
}

// Stored returns the last persisted summary for a company and year.
func (a *Aggregator) Stored(ctx context.Context, companyID string, year int) (*StoredSummary, error) {
	if a.summaries == nil {
		return nil, ErrNotFound
	}
	return a.summaries.Get(ctx, companyID, year)
}

func (a *Aggregator) aggregate(ctx context.Context, s *domain.TaxYearSummary) error {
	start, end := domain.YearBounds(s.Year)

	disposals, err := a.store.Lots().ListDisposals(ctx, s.CompanyID, start, end)
	if err != nil {
		return fmt.Errorf("loading disposals: %w", err)
	}
	addDisposals(s, disposals)

	entries, err := a.store.Journal().ListEntries(ctx, s.CompanyID, start, end)
	if err != nil {
		return fmt.Errorf("loading journal: %w", err)
	}
	s.IncomeEUR = recognizedIncome(entries)

	if err := ctx.Err(); err != nil {
		return err
	}

	lots, err := a.store.Lots().ListCompanyLots(ctx, s.CompanyID)
	if err != nil {
		return fmt.Errorf("loading lots: %w", err)
	}
	history, err := a.store.Lots().ListDisposals(ctx, s.CompanyID, time.Time{}, end)
	if err != nil {
		return fmt.Errorf("loading disposal history: %w", err)
	}
	positions := yearEndPositions(lots, history, end)

	prices, missing, err := a.yearEndPrices(ctx, positions, domain.YearEnd(s.Year))
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	custodians, err := a.store.ListCustodians(ctx, s.CompanyID)
	if err != nil {
		return fmt.Errorf("loading custodians: %w", err)
	}

	s.Holdings = buildHoldings(positions, prices)
	s.Modelo720Lines = buildLines(positions, prices, custodians)
	isForeign := lo.SliceToMap(lo.Filter(custodians, func(c domain.Custodian, _ int) bool { return c.IsForeign() }),
		func(c domain.Custodian) (string, bool) { return c.ID, true })

	// Totals are summed exactly and rounded to cents once; per-line rounding is display only.
	yearEnd := exactYearEndValue(positions, prices, func(position) bool { return true })
	foreignYearEnd := exactYearEndValue(positions, prices, func(p position) bool { return isForeign[p.custodianID] })
	s.TotalAcquisitionValue = domain.RoundEUR(lo.Reduce(positions, func(acc decimal.Decimal, p position, _ int) decimal.Decimal {
		return acc.Add(p.cost)
	}, decimal.Zero))
	s.TotalYearEndValue = domain.RoundEUR(yearEnd)

	s.Modelo721Required = domain.ExceedsDeclarationThreshold(s.TotalYearEndValue)
	s.Modelo720Required = domain.ExceedsDeclarationThreshold(domain.RoundEUR(foreignYearEnd))

	if len(missing) > 0 {
		s.Incomplete = true
		s.MissingPrices = missing
		s.IncompleteReason = fmt.Sprintf("no year-end price for %v", missing)
	}
	return nil
}

func addDisposals(s *domain.TaxYearSummary, disposals []domain.DisposalEvent) {
	for _, d := range disposals {
		gain := d.GainLoss()
		s.DisposalCount++
		s.TotalProceeds = s.TotalProceeds.Add(d.ProceedsEUR)
		s.TotalCostBasis = s.TotalCostBasis.Add(d.CostBasis())
		s.RealizedGainLoss = s.RealizedGainLoss.Add(gain)
		if gain.IsPositive() {
			s.RealizedGains = s.RealizedGains.Add(gain)
		} else {
			s.RealizedLosses = s.RealizedLosses.Add(gain.Neg())
		}
	}
}

// recognizedIncome sums posted income entries. Voided income and its reversal both drop out.
func recognizedIncome(entries []domain.JournalEntry) decimal.Decimal {
	return lo.Reduce(entries, func(acc decimal.Decimal, e domain.JournalEntry, _ int) decimal.Decimal {
		if e.Kind != domain.EntryKindIncome || e.Status != domain.EntryStatusPosted {
			return acc
		}
		debit, _ := e.Totals()
		return acc.Add(debit)
	}, decimal.Zero)
}

// position is what a company held of one asset at one custodian at year end.
type position struct {
	custodianID string
	assetID     string
	quantity    decimal.Decimal
	cost        decimal.Decimal
}

// yearEndPositions rebuilds holdings as of end from original lot quantities minus what
// disposals before end consumed, so later activity does not leak into the year.
func yearEndPositions(lots []domain.AcquisitionLot, history []domain.DisposalEvent, end time.Time) []position {
	consumed := map[string]decimal.Decimal{}
	for _, d := range history {
		for _, c := range d.ConsumedLots {
			consumed[c.LotID] = consumed[c.LotID].Add(c.QuantityUsed)
		}
	}

	byKey := map[[2]string]*position{}
	for _, l := range lots {
		if !l.AcquiredAt.Before(end) {
			continue
		}
		qty := l.OriginalQuantity.Sub(consumed[l.ID])
		if !qty.IsPositive() {
			continue
		}
		key := [2]string{l.CustodianID, l.AssetID}
		p, ok := byKey[key]
		if !ok {
			p = &position{custodianID: l.CustodianID, assetID: l.AssetID, quantity: decimal.Zero, cost: decimal.Zero}
			byKey[key] = p
		}
		p.quantity = p.quantity.Add(qty)
		p.cost = p.cost.Add(qty.Mul(l.UnitCostEUR))
	}

	out := lo.MapToSlice(byKey, func(_ [2]string, p *position) position { return *p })
	slices.SortFunc(out, func(a, b position) int {
		return cmp.Or(cmp.Compare(a.assetID, b.assetID), cmp.Compare(a.custodianID, b.custodianID))
	})
	return out
}

// yearEndPrices values every held asset concurrently. A missing price is reported, never
// replaced by a default.
func (a *Aggregator) yearEndPrices(ctx context.Context, positions []position, at time.Time) (map[string]decimal.Decimal, []string, error) {
	assets := lo.Uniq(lo.Map(positions, func(p position, _ int) string { return p.assetID }))
	results := make([]decimal.Decimal, len(assets))
	found := make([]bool, len(assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(valuationConcurrency)
	for i, assetID := range assets {
		g.Go(func() error {
			p, err := a.feed.PriceAt(gctx, assetID, at)
			switch {
			case errors.Is(err, domain.ErrPriceUnavailable):
				slog.Warn("taxreport: year-end price missing", "asset", assetID, "at", at)
				return nil
			case err != nil:
				return fmt.Errorf("pricing %s: %w", assetID, err)
			}
			results[i], found[i] = p, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	prices := make(map[string]decimal.Decimal, len(assets))
	var missing []string
	for i, assetID := range assets {
		if found[i] {
			prices[assetID] = results[i]
		} else {
			missing = append(missing, assetID)
		}
	}
	slices.Sort(missing)
	return prices, missing, nil
}

// exactYearEndValue sums quantity × price over the selected positions without rounding.
func exactYearEndValue(positions []position, prices map[string]decimal.Decimal, include func(position) bool) decimal.Decimal {
	return lo.Reduce(positions, func(acc decimal.Decimal, p position, _ int) decimal.Decimal {
		unit, ok := prices[p.assetID]
		if !ok || !include(p) {
			return acc
		}
		return acc.Add(p.quantity.Mul(unit))
	}, decimal.Zero)
}

func buildHoldings(positions []position, prices map[string]decimal.Decimal) []domain.Holding {
	byAsset := lo.GroupBy(positions, func(p position) string { return p.assetID })
	holdings := make([]domain.Holding, 0, len(byAsset))
	for assetID, ps := range byAsset {
		qty := lo.Reduce(ps, func(acc decimal.Decimal, p position, _ int) decimal.Decimal { return acc.Add(p.quantity) }, decimal.Zero)
		cost := lo.Reduce(ps, func(acc decimal.Decimal, p position, _ int) decimal.Decimal { return acc.Add(p.cost) }, decimal.Zero)
		h := domain.Holding{
			AssetID:          assetID,
			Quantity:         qty,
			AcquisitionValue: domain.RoundEUR(cost),
			YearEndPrice:     decimal.Zero,
			YearEndValue:     decimal.Zero,
		}
		if p, ok := prices[assetID]; ok {
			h.YearEndPrice = p
			h.YearEndValue = domain.RoundEUR(qty.Mul(p))
		} else {
			h.PriceMissing = true
		}
		holdings = append(holdings, h)
	}
	slices.SortFunc(holdings, func(a, b domain.Holding) int { return cmp.Compare(a.AssetID, b.AssetID) })
	return holdings
}

func buildLines(positions []position, prices map[string]decimal.Decimal, custodians []domain.Custodian) []domain.Modelo720Line {
	byID := lo.KeyBy(custodians, func(c domain.Custodian) string { return c.ID })
	lines := make([]domain.Modelo720Line, 0, len(positions))
	for _, p := range positions {
		c := byID[p.custodianID]
		line := domain.Modelo720Line{
			CustodianID:      p.custodianID,
			CustodianName:    c.Name,
			CustodianTaxID:   c.TaxID,
			CountryCode:      c.CountryCode,
			AssetID:          p.assetID,
			Quantity:         p.quantity,
			AcquisitionValue: domain.RoundEUR(p.cost),
			YearEndValue:     decimal.Zero,
		}
		if unit, ok := prices[p.assetID]; ok {
			line.YearEndValue = domain.RoundEUR(p.quantity.Mul(unit))
		}
		lines = append(lines, line)
	}
	slices.SortFunc(lines, func(a, b domain.Modelo720Line) int {
		return cmp.Or(cmp.Compare(a.CustodianID, b.CustodianID), cmp.Compare(a.AssetID, b.AssetID))
	})
	return lines
}
