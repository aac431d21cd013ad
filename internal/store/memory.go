package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/taxledger/internal/domain"
)

type memState struct {
	seq        int64
	lots       map[string]domain.AcquisitionLot
	disposals  []domain.DisposalEvent
	entries    map[string]domain.JournalEntry
	bySource   map[string]string
	companies  map[string]domain.Company
	custodians map[string]domain.Custodian
}

func newMemState() *memState {
	return &memState{
		lots:       make(map[string]domain.AcquisitionLot),
		entries:    make(map[string]domain.JournalEntry),
		bySource:   make(map[string]string),
		companies:  make(map[string]domain.Company),
		custodians: make(map[string]domain.Custodian),
	}
}

// clone copies the mutable indexes. Stored values are treated as immutable and shared.
func (s *memState) clone() *memState {
	return &memState{
		seq:        s.seq,
		lots:       maps.Clone(s.lots),
		disposals:  slices.Clone(s.disposals),
		entries:    maps.Clone(s.entries),
		bySource:   maps.Clone(s.bySource),
		companies:  maps.Clone(s.companies),
		custodians: maps.Clone(s.custodians),
	}
}

// MemoryStore keeps all state in process. A unit of work runs against a copy of the
// state that replaces the original only when the work succeeds.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

// Lots returns a read-write view of lots that commits each call immediately.
func (m *MemoryStore) Lots() LotRepository { return &memLots{store: m} }

// Journal returns a read-write view of the journal that commits each call immediately.
func (m *MemoryStore) Journal() JournalRepository { return &memJournal{store: m} }

func (m *MemoryStore) InTx(ctx context.Context, fn func(lots LotRepository, journal JournalRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	view := &memTx{state: m.state.clone()}
	if err := fn(&memLots{tx: view}, &memJournal{tx: view}); err != nil {
		return err
	}
	m.state = view.state
	return nil
}

// memTx exposes a private state copy without locking.
type memTx struct {
	state *memState
}

// with runs f against either the transaction copy or the shared state under the right lock.
func with[T any](m *MemoryStore, tx *memTx, write bool, f func(s *memState) (T, error)) (T, error) {
	if tx != nil {
		return f(tx.state)
	}
	if write {
		m.mu.Lock()
		defer m.mu.Unlock()
	} else {
		m.mu.RLock()
		defer m.mu.RUnlock()
	}
	return f(m.state)
}

type memLots struct {
	store *MemoryStore
	tx    *memTx
}

func sortLots(lots []domain.AcquisitionLot) {
	sort.SliceStable(lots, func(i, j int) bool { return lots[i].Before(lots[j]) })
}

func (r *memLots) ListLots(_ context.Context, companyID, assetID string) ([]domain.AcquisitionLot, error) {
	return with(r.store, r.tx, false, func(s *memState) ([]domain.AcquisitionLot, error) {
		out := lo.Filter(lo.Values(s.lots), func(l domain.AcquisitionLot, _ int) bool {
			return l.CompanyID == companyID && l.AssetID == assetID
		})
		sortLots(out)
		return out, nil
	})
}

func (r *memLots) ListCompanyLots(_ context.Context, companyID string) ([]domain.AcquisitionLot, error) {
	return with(r.store, r.tx, false, func(s *memState) ([]domain.AcquisitionLot, error) {
		out := lo.Filter(lo.Values(s.lots), func(l domain.AcquisitionLot, _ int) bool {
			return l.CompanyID == companyID
		})
		sortLots(out)
		return out, nil
	})
}

func (r *memLots) InsertLot(_ context.Context, lot domain.AcquisitionLot) (int64, error) {
	return with(r.store, r.tx, true, func(s *memState) (int64, error) {
		if _, ok := s.lots[lot.ID]; ok {
			return 0, fmt.Errorf("lot %s: %w", lot.ID, ErrDuplicate)
		}
		s.seq++
		lot.Seq = s.seq
		s.lots[lot.ID] = lot
		return lot.Seq, nil
	})
}

func (r *memLots) SetRemaining(_ context.Context, lotID string, remaining decimal.Decimal) error {
	_, err := with(r.store, r.tx, true, func(s *memState) (struct{}, error) {
		lot, ok := s.lots[lotID]
		if !ok {
			return struct{}{}, fmt.Errorf("lot %s: %w", lotID, ErrNotFound)
		}
		if remaining.IsNegative() || remaining.GreaterThan(lot.QuantityRemaining) {
			return struct{}{}, fmt.Errorf("lot %s: remaining quantity may only decrease (have %s, got %s)",
				lotID, lot.QuantityRemaining, remaining)
		}
		lot.QuantityRemaining = remaining
		s.lots[lotID] = lot
		return struct{}{}, nil
	})
	return err
}

func (r *memLots) InsertDisposal(_ context.Context, d domain.DisposalEvent) error {
	_, err := with(r.store, r.tx, true, func(s *memState) (struct{}, error) {
		if _, dup := lo.Find(s.disposals, func(x domain.DisposalEvent) bool {
			return x.CompanyID == d.CompanyID && x.SourceTransactionID == d.SourceTransactionID
		}); dup && d.SourceTransactionID != "" {
			return struct{}{}, fmt.Errorf("disposal for source %s: %w", d.SourceTransactionID, ErrDuplicate)
		}
		d.ConsumedLots = slices.Clone(d.ConsumedLots)
		s.disposals = append(s.disposals, d)
		return struct{}{}, nil
	})
	return err
}

func (r *memLots) GetDisposalBySource(_ context.Context, companyID, sourceID string) (domain.DisposalEvent, error) {
	return with(r.store, r.tx, false, func(s *memState) (domain.DisposalEvent, error) {
		d, ok := lo.Find(s.disposals, func(x domain.DisposalEvent) bool {
			return x.CompanyID == companyID && x.SourceTransactionID == sourceID
		})
		if !ok {
			return domain.DisposalEvent{}, ErrNotFound
		}
		d.ConsumedLots = slices.Clone(d.ConsumedLots)
		return d, nil
	})
}

func (r *memLots) ListDisposals(_ context.Context, companyID string, from, to time.Time) ([]domain.DisposalEvent, error) {
	return with(r.store, r.tx, false, func(s *memState) ([]domain.DisposalEvent, error) {
		out := lo.FilterMap(s.disposals, func(d domain.DisposalEvent, _ int) (domain.DisposalEvent, bool) {
			if d.CompanyID != companyID || d.SaleDate.Before(from) || !d.SaleDate.Before(to) {
				return d, false
			}
			d.ConsumedLots = slices.Clone(d.ConsumedLots)
			return d, true
		})
		sort.SliceStable(out, func(i, j int) bool { return out[i].SaleDate.Before(out[j].SaleDate) })
		return out, nil
	})
}

type memJournal struct {
	store *MemoryStore
	tx    *memTx
}

func sourceKey(companyID, sourceID string) string { return companyID + "\x00" + sourceID }

func copyEntry(e domain.JournalEntry) domain.JournalEntry {
	e.Lines = slices.Clone(e.Lines)
	return e
}

func (r *memJournal) InsertEntry(_ context.Context, e domain.JournalEntry) error {
	_, err := with(r.store, r.tx, true, func(s *memState) (struct{}, error) {
		if _, ok := s.entries[e.ID]; ok {
			return struct{}{}, fmt.Errorf("entry %s: %w", e.ID, ErrDuplicate)
		}
		key := sourceKey(e.CompanyID, e.SourceID)
		if _, ok := s.bySource[key]; ok {
			return struct{}{}, fmt.Errorf("entry for source %s: %w", e.SourceID, ErrDuplicate)
		}
		s.entries[e.ID] = copyEntry(e)
		s.bySource[key] = e.ID
		return struct{}{}, nil
	})
	return err
}

func (r *memJournal) GetEntry(_ context.Context, companyID, id string) (domain.JournalEntry, error) {
	return with(r.store, r.tx, false, func(s *memState) (domain.JournalEntry, error) {
		e, ok := s.entries[id]
		if !ok || e.CompanyID != companyID {
			return domain.JournalEntry{}, ErrNotFound
		}
		return copyEntry(e), nil
	})
}

func (r *memJournal) GetEntryBySource(_ context.Context, companyID, sourceID string) (domain.JournalEntry, error) {
	return with(r.store, r.tx, false, func(s *memState) (domain.JournalEntry, error) {
		id, ok := s.bySource[sourceKey(companyID, sourceID)]
		if !ok {
			return domain.JournalEntry{}, ErrNotFound
		}
		return copyEntry(s.entries[id]), nil
	})
}

func (r *memJournal) TransitionEntry(_ context.Context, companyID, id string, from, to domain.EntryStatus, reversedBy, reason string) error {
	_, err := with(r.store, r.tx, true, func(s *memState) (struct{}, error) {
		e, ok := s.entries[id]
		if !ok || e.CompanyID != companyID {
			return struct{}{}, ErrNotFound
		}
		if e.Status != from || !from.CanTransition(to) {
			return struct{}{}, fmt.Errorf("entry %s is %s, cannot move %s -> %s: %w", id, e.Status, from, to, domain.ErrInvalidTransition)
		}
		e.Status = to
		if reversedBy != "" {
			e.ReversedBy = reversedBy
		}
		if reason != "" {
			e.VoidReason = reason
		}
		s.entries[id] = e
		return struct{}{}, nil
	})
	return err
}

func (r *memJournal) ListEntries(_ context.Context, companyID string, from, to time.Time) ([]domain.JournalEntry, error) {
	return with(r.store, r.tx, false, func(s *memState) ([]domain.JournalEntry, error) {
		out := lo.FilterMap(lo.Values(s.entries), func(e domain.JournalEntry, _ int) (domain.JournalEntry, bool) {
			if e.CompanyID != companyID || e.Date.Before(from) || !e.Date.Before(to) {
				return e, false
			}
			return copyEntry(e), true
		})
		sort.SliceStable(out, func(i, j int) bool {
			if !out[i].Date.Equal(out[j].Date) {
				return out[i].Date.Before(out[j].Date)
			}
			return out[i].ID < out[j].ID
		})
		return out, nil
	})
}

func (m *MemoryStore) GetCompany(_ context.Context, id string) (domain.Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.state.companies[id]
	if !ok {
		return domain.Company{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) SaveCompany(_ context.Context, c domain.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.companies[c.ID] = c
	return nil
}

func (m *MemoryStore) ListCompanies(_ context.Context) ([]domain.Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := lo.Values(m.state.companies)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListCustodians(_ context.Context, companyID string) ([]domain.Custodian, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := lo.Filter(lo.Values(m.state.custodians), func(c domain.Custodian, _ int) bool {
		return c.CompanyID == companyID
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SaveCustodian(_ context.Context, c domain.Custodian) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.custodians[c.ID] = c
	return nil
}
