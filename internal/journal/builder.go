// Package journal turns disposals and income recognitions into balanced double-entry
// journal entries and manages their DRAFT -> POSTED -> VOIDED lifecycle.
package journal

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/taxledger/internal/domain"
)

// IncomeEvent is an acquisition recognized as income at fair value
// (staking rewards, airdrops, mining).
type IncomeEvent struct {
	CompanyID    string
	AssetID      string
	Type         domain.TxType
	Quantity     decimal.Decimal
	FairValueEUR decimal.Decimal
	Date         time.Time
	SourceID     string
}

// BuildDisposalEntry builds the DRAFT entry for a disposal:
//
//	Dr cash          proceeds
//	Cr asset         cost basis (with crypto quantity)
//	Cr gain / Dr loss  |proceeds - cost basis|, omitted when zero
func BuildDisposalEntry(event domain.DisposalEvent, m domain.AccountMapping) (domain.JournalEntry, error) {
	if err := m.Validate(); err != nil {
		return domain.JournalEntry{}, err
	}
	sourceID := disposalSource(event)
	proceeds := event.ProceedsEUR
	cost := event.CostBasis()
	gain := proceeds.Sub(cost)

	var lines []domain.JournalLine
	if proceeds.IsPositive() {
		lines = append(lines, domain.DebitLine(m.Cash, proceeds, "proceeds"))
	}
	if cost.IsPositive() {
		lines = append(lines, domain.CreditLine(m.AssetAccount(event.AssetID), cost, "cost basis").
			WithCrypto(event.AssetID, event.QuantitySold))
	}
	switch {
	case gain.IsPositive():
		lines = append(lines, domain.CreditLine(m.RealizedGain, gain, "realized gain"))
	case gain.IsNegative():
		lines = append(lines, domain.DebitLine(m.LossAccount(), gain.Neg(), "realized loss"))
	}
	if len(lines) == 0 {
		return domain.JournalEntry{}, fmt.Errorf("disposal %s has neither proceeds nor cost basis", event.ID)
	}

	entry := domain.JournalEntry{
		ID:          domain.DerivedID("entry", event.CompanyID, sourceID),
		CompanyID:   event.CompanyID,
		Date:        event.SaleDate.UTC(),
		Status:      domain.EntryStatusDraft,
		Kind:        domain.EntryKindDisposal,
		SourceID:    sourceID,
		Description: fmt.Sprintf("Disposal of %s %s", event.QuantitySold, event.AssetID),
		Lines:       lines,
	}
	return checked(entry)
}

// BuildIncomeEntry debits the asset account and credits the income account at fair value.
func BuildIncomeEntry(event IncomeEvent, m domain.AccountMapping) (domain.JournalEntry, error) {
	if !event.Type.IsIncome() {
		return domain.JournalEntry{}, fmt.Errorf("%s is not an income type", event.Type)
	}
	if !event.FairValueEUR.IsPositive() {
		return domain.JournalEntry{}, fmt.Errorf("income %s has no positive fair value", event.SourceID)
	}
	if event.SourceID == "" {
		return domain.JournalEntry{}, fmt.Errorf("income event requires a source id")
	}
	if err := m.Validate(); err != nil {
		return domain.JournalEntry{}, err
	}

	entry := domain.JournalEntry{
		ID:          domain.DerivedID("entry", event.CompanyID, event.SourceID),
		CompanyID:   event.CompanyID,
		Date:        event.Date.UTC(),
		Status:      domain.EntryStatusDraft,
		Kind:        domain.EntryKindIncome,
		SourceID:    event.SourceID,
		Description: fmt.Sprintf("%s: %s %s", event.Type, event.Quantity, event.AssetID),
		Lines: []domain.JournalLine{
			domain.DebitLine(m.AssetAccount(event.AssetID), event.FairValueEUR, "fair value").
				WithCrypto(event.AssetID, event.Quantity),
			domain.CreditLine(m.IncomeAccount(event.Type), event.FairValueEUR, string(event.Type)),
		},
	}
	return checked(entry)
}

// BuildReversal mirrors every line of a posted entry so the pair nets to zero.
func BuildReversal(original domain.JournalEntry, reason string, date time.Time) (domain.JournalEntry, error) {
	lines := make([]domain.JournalLine, len(original.Lines))
	for i, l := range original.Lines {
		l.Debit, l.Credit = l.Credit, l.Debit
		lines[i] = l
	}
	sourceID := "void:" + original.ID
	entry := domain.JournalEntry{
		ID:          domain.DerivedID("entry", original.CompanyID, sourceID),
		CompanyID:   original.CompanyID,
		Date:        date.UTC(),
		Status:      domain.EntryStatusDraft,
		Kind:        domain.EntryKindReversal,
		SourceID:    sourceID,
		Description: fmt.Sprintf("Reversal of %s: %s", original.ID, reason),
		Lines:       lines,
		Reverses:    original.ID,
	}
	return checked(entry)
}

func disposalSource(event domain.DisposalEvent) string {
	if event.SourceTransactionID != "" {
		return event.SourceTransactionID
	}
	return event.ID
}

func checked(entry domain.JournalEntry) (domain.JournalEntry, error) {
	for _, l := range entry.Lines {
		if err := l.Validate(); err != nil {
			return domain.JournalEntry{}, fmt.Errorf("entry for source %s: %w", entry.SourceID, err)
		}
	}
	if err := entry.AssertBalanced(); err != nil {
		return domain.JournalEntry{}, err
	}
	return entry, nil
}
