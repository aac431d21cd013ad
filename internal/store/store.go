// Package store defines the persistence capabilities the accounting core depends on
// and provides in-memory and PostgreSQL implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/taxledger/internal/domain"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate indicates a unique key (such as a journal source id) is already taken.
	ErrDuplicate = errors.New("duplicate record")
)

// LotRepository stores acquisition lots and the disposals that consume them.
type LotRepository interface {
	// ListLots returns every lot of one asset in FIFO order (acquiredAt, then seq).
	ListLots(ctx context.Context, companyID, assetID string) ([]domain.AcquisitionLot, error)
	// ListCompanyLots returns all lots of a company in FIFO order.
	ListCompanyLots(ctx context.Context, companyID string) ([]domain.AcquisitionLot, error)
	// InsertLot stores a new lot and returns its creation sequence number.
	InsertLot(ctx context.Context, lot domain.AcquisitionLot) (int64, error)
	// SetRemaining lowers a lot's remaining quantity.
	SetRemaining(ctx context.Context, lotID string, remaining decimal.Decimal) error
	InsertDisposal(ctx context.Context, d domain.DisposalEvent) error
	GetDisposalBySource(ctx context.Context, companyID, sourceID string) (domain.DisposalEvent, error)
	// ListDisposals returns disposals with from <= saleDate < to, ordered by saleDate.
	ListDisposals(ctx context.Context, companyID string, from, to time.Time) ([]domain.DisposalEvent, error)
}

// JournalRepository is append-only storage for journal entries.
// Entries are never deleted; only their status moves forward.
type JournalRepository interface {
	// InsertEntry fails with ErrDuplicate when (companyID, sourceID) already exists.
	InsertEntry(ctx context.Context, e domain.JournalEntry) error
	GetEntry(ctx context.Context, companyID, id string) (domain.JournalEntry, error)
	GetEntryBySource(ctx context.Context, companyID, sourceID string) (domain.JournalEntry, error)
	// TransitionEntry moves an entry from one status to another, failing with
	// domain.ErrInvalidTransition when the stored status is not from.
	TransitionEntry(ctx context.Context, companyID, id string, from, to domain.EntryStatus, reversedBy, reason string) error
	// ListEntries returns entries with from <= date < to, ordered by date then id.
	ListEntries(ctx context.Context, companyID string, from, to time.Time) ([]domain.JournalEntry, error)
}

// ReferenceRepository stores declarant and custodian reference data.
type ReferenceRepository interface {
	GetCompany(ctx context.Context, id string) (domain.Company, error)
	SaveCompany(ctx context.Context, c domain.Company) error
	ListCompanies(ctx context.Context) ([]domain.Company, error)
	ListCustodians(ctx context.Context, companyID string) ([]domain.Custodian, error)
	SaveCustodian(ctx context.Context, c domain.Custodian) error
}

// Store bundles the repositories and a unit of work spanning lots and journal.
type Store interface {
	ReferenceRepository
	Lots() LotRepository
	Journal() JournalRepository
	// InTx runs fn atomically. If fn returns an error nothing it wrote is kept.
	InTx(ctx context.Context, fn func(lots LotRepository, journal JournalRepository) error) error
}
