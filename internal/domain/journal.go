package domain

import (
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// EntryStatus is the lifecycle state of a journal entry.
type EntryStatus string

const (
	EntryStatusDraft  EntryStatus = "DRAFT"
	EntryStatusPosted EntryStatus = "POSTED"
	EntryStatusVoided EntryStatus = "VOIDED"
)

// CanTransition reports whether the state machine allows moving from s to next.
// DRAFT -> POSTED -> VOIDED; nothing ever returns to DRAFT.
func (s EntryStatus) CanTransition(next EntryStatus) bool {
	switch s {
	case EntryStatusDraft:
		return next == EntryStatusPosted
	case EntryStatusPosted:
		return next == EntryStatusVoided
	default:
		return false
	}
}

// EntryKind records what produced an entry.
type EntryKind string

const (
	EntryKindDisposal EntryKind = "disposal"
	EntryKindIncome   EntryKind = "income"
	EntryKindReversal EntryKind = "reversal"
)

// JournalLine is one debit or credit against an account.
type JournalLine struct {
	AccountCode  string           `json:"accountCode"`
	Debit        decimal.Decimal  `json:"debit"`
	Credit       decimal.Decimal  `json:"credit"`
	CryptoAmount *decimal.Decimal `json:"cryptoAmount,omitempty"`
	CryptoAsset  string           `json:"cryptoAsset,omitempty"`
	Memo         string           `json:"memo,omitempty"`
}

// DebitLine builds a debit line.
func DebitLine(account string, amount decimal.Decimal, memo string) JournalLine {
	return JournalLine{AccountCode: account, Debit: amount, Credit: decimal.Zero, Memo: memo}
}

// CreditLine builds a credit line.
func CreditLine(account string, amount decimal.Decimal, memo string) JournalLine {
	return JournalLine{AccountCode: account, Debit: decimal.Zero, Credit: amount, Memo: memo}
}

// WithCrypto attaches the crypto quantity moved by the line for the audit trail.
func (l JournalLine) WithCrypto(asset string, amount decimal.Decimal) JournalLine {
	l.CryptoAsset = asset
	l.CryptoAmount = &amount
	return l
}

// Validate checks that exactly one side of the line is nonzero and neither is negative.
func (l JournalLine) Validate() error {
	if l.AccountCode == "" {
		return fmt.Errorf("journal line has no account code")
	}
	if l.Debit.IsNegative() || l.Credit.IsNegative() {
		return fmt.Errorf("journal line %s has a negative amount", l.AccountCode)
	}
	if l.Debit.IsZero() == l.Credit.IsZero() {
		return fmt.Errorf("journal line %s must have exactly one of debit or credit", l.AccountCode)
	}
	return nil
}

// JournalEntry is a balanced set of lines. Lines are immutable once the entry is POSTED.
type JournalEntry struct {
	ID          string        `json:"id"`
	CompanyID   string        `json:"companyId"`
	Date        time.Time     `json:"date"`
	Status      EntryStatus   `json:"status"`
	Kind        EntryKind     `json:"kind"`
	SourceID    string        `json:"sourceId"`
	Description string        `json:"description"`
	Lines       []JournalLine `json:"lines"`
	// Reverses is set on a reversal entry and points to the voided entry.
	Reverses string `json:"reverses,omitempty"`
	// ReversedBy is set on a voided entry and points to its reversal.
	ReversedBy string `json:"reversedBy,omitempty"`
	VoidReason string `json:"voidReason,omitempty"`
}

// Totals returns the sum of debits and the sum of credits.
func (e JournalEntry) Totals() (debit, credit decimal.Decimal) {
	debit = lo.Reduce(e.Lines, func(acc decimal.Decimal, l JournalLine, _ int) decimal.Decimal {
		return acc.Add(l.Debit)
	}, decimal.Zero)
	credit = lo.Reduce(e.Lines, func(acc decimal.Decimal, l JournalLine, _ int) decimal.Decimal {
		return acc.Add(l.Credit)
	}, decimal.Zero)
	return debit, credit
}

// IsBalanced reports exact decimal equality of debits and credits. There is no tolerance.
func (e JournalEntry) IsBalanced() bool {
	d, c := e.Totals()
	return d.Equal(c)
}

// AssertBalanced returns an *UnbalancedError when debits and credits differ.
func (e JournalEntry) AssertBalanced() error {
	d, c := e.Totals()
	if !d.Equal(c) {
		return &UnbalancedError{EntryID: e.ID, SourceID: e.SourceID, Debit: d, Credit: c}
	}
	return nil
}

// AccountMapping maps accounting roles to chart-of-accounts codes for one company.
type AccountMapping struct {
	Cash          string            `json:"cash"`
	CryptoAssets  string            `json:"cryptoAssets"`
	AssetAccounts map[string]string `json:"assetAccounts,omitempty"`
	RealizedGain  string            `json:"realizedGain"`
	RealizedLoss  string            `json:"realizedLoss"`
	// Income accounts keyed by STAKING_REWARD, AIRDROP, MINING.
	Income        map[TxType]string `json:"income,omitempty"`
	DefaultIncome string            `json:"defaultIncome"`
}

// DefaultAccountMapping uses Spanish PGC codes: 572 banks, 5400 short-term investments,
// 7660/6660 gains and losses on securities, 769 other financial income.
func DefaultAccountMapping() AccountMapping {
	return AccountMapping{
		Cash:          "572",
		CryptoAssets:  "5400",
		RealizedGain:  "7660",
		RealizedLoss:  "6660",
		DefaultIncome: "769",
		Income: map[TxType]string{
			TxStakingReward: "7690",
			TxAirdrop:       "7780",
			TxMining:        "7590",
		},
	}
}

// AssetAccount returns the holding account for an asset.
func (m AccountMapping) AssetAccount(assetID string) string {
	if code, ok := m.AssetAccounts[assetID]; ok && code != "" {
		return code
	}
	return m.CryptoAssets
}

// IncomeAccount returns the income account for an income type.
func (m AccountMapping) IncomeAccount(t TxType) string {
	if code, ok := m.Income[t]; ok && code != "" {
		return code
	}
	return m.DefaultIncome
}

// LossAccount returns the realized-loss account, falling back to the gain account.
func (m AccountMapping) LossAccount() string {
	if m.RealizedLoss != "" {
		return m.RealizedLoss
	}
	return m.RealizedGain
}

// Validate reports missing account codes.
func (m AccountMapping) Validate() error {
	var missing []string
	if m.Cash == "" {
		missing = append(missing, "cash")
	}
	if m.CryptoAssets == "" && len(m.AssetAccounts) == 0 {
		missing = append(missing, "cryptoAssets")
	}
	if m.RealizedGain == "" {
		missing = append(missing, "realizedGain")
	}
	if len(missing) > 0 {
		return fmt.Errorf("account mapping missing %v", missing)
	}
	return nil
}
