package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mtlprog/taxledger/internal/domain"
	"github.com/mtlprog/taxledger/internal/store"
)

// ErrPostingHalted is returned for a source whose entry previously failed the balance
// assertion. Automated posting stays blocked until Resume is called.
var ErrPostingHalted = errors.New("posting halted for source")

// Poster persists journal entries. Posting is idempotent by (company, source id).
type Poster struct {
	store store.Store

	mu     sync.Mutex
	halted map[string]error
}

// NewPoster creates a new Poster.
func NewPoster(st store.Store) *Poster {
	return &Poster{store: st, halted: make(map[string]error)}
}

// PostDisposal records and posts the entry for a disposal in its own unit of work.
func (p *Poster) PostDisposal(ctx context.Context, event domain.DisposalEvent, m domain.AccountMapping) (domain.JournalEntry, error) {
	var entry domain.JournalEntry
	err := p.store.InTx(ctx, func(_ store.LotRepository, journal store.JournalRepository) error {
		var err error
		entry, err = p.PostDisposalIn(ctx, journal, event, m)
		return err
	})
	return entry, err
}

// PostIncome records and posts the entry for an income recognition in its own unit of work.
func (p *Poster) PostIncome(ctx context.Context, event IncomeEvent, m domain.AccountMapping) (domain.JournalEntry, error) {
	var entry domain.JournalEntry
	err := p.store.InTx(ctx, func(_ store.LotRepository, journal store.JournalRepository) error {
		var err error
		entry, err = p.PostIncomeIn(ctx, journal, event, m)
		return err
	})
	return entry, err
}

// PostDisposalIn posts a disposal entry using an open unit of work, so the caller can
// commit it together with the lot mutation that produced the disposal.
func (p *Poster) PostDisposalIn(ctx context.Context, journal store.JournalRepository, event domain.DisposalEvent, m domain.AccountMapping) (domain.JournalEntry, error) {
	return p.post(ctx, journal, event.CompanyID, disposalSource(event), func() (domain.JournalEntry, error) {
		return BuildDisposalEntry(event, m)
	})
}

// PostIncomeIn posts an income entry using an open unit of work.
func (p *Poster) PostIncomeIn(ctx context.Context, journal store.JournalRepository, event IncomeEvent, m domain.AccountMapping) (domain.JournalEntry, error) {
	return p.post(ctx, journal, event.CompanyID, event.SourceID, func() (domain.JournalEntry, error) {
		return BuildIncomeEntry(event, m)
	})
}

func (p *Poster) post(ctx context.Context, journal store.JournalRepository, companyID, sourceID string, build func() (domain.JournalEntry, error)) (domain.JournalEntry, error) {
	key := haltKey(companyID, sourceID)
	if cause := p.haltedCause(key); cause != nil {
		return domain.JournalEntry{}, fmt.Errorf("%w %s: %w", ErrPostingHalted, sourceID, cause)
	}

	existing, err := journal.GetEntryBySource(ctx, companyID, sourceID)
	if err == nil {
		slog.Info("journal: entry already posted for source", "company", companyID, "source", sourceID, "entry", existing.ID)
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.JournalEntry{}, fmt.Errorf("checking existing entry: %w", err)
	}

	entry, err := build()
	if err != nil {
		if errors.Is(err, domain.ErrUnbalancedJournalEntry) {
			p.halt(key, err)
			slog.Error("journal: unbalanced entry, posting halted", "company", companyID, "source", sourceID, "error", err)
		}
		return domain.JournalEntry{}, err
	}

	return postDraft(ctx, journal, entry)
}

func postDraft(ctx context.Context, journal store.JournalRepository, entry domain.JournalEntry) (domain.JournalEntry, error) {
	if err := journal.InsertEntry(ctx, entry); err != nil {
		return domain.JournalEntry{}, fmt.Errorf("inserting entry: %w", err)
	}
	if err := journal.TransitionEntry(ctx, entry.CompanyID, entry.ID, domain.EntryStatusDraft, domain.EntryStatusPosted, "", ""); err != nil {
		return domain.JournalEntry{}, fmt.Errorf("posting entry: %w", err)
	}
	entry.Status = domain.EntryStatusPosted
	return entry, nil
}

// Void appends an entry reversing entryID and marks the original VOIDED. Voiding an
// already voided entry returns its existing reversal.
func (p *Poster) Void(ctx context.Context, companyID, entryID, reason string, date time.Time) (domain.JournalEntry, error) {
	if reason == "" {
		issues := &domain.ValidationError{}
		issues.Add("reason", "is required to void an entry")
		return domain.JournalEntry{}, issues
	}
	var reversal domain.JournalEntry
	err := p.store.InTx(ctx, func(_ store.LotRepository, journal store.JournalRepository) error {
		original, err := journal.GetEntry(ctx, companyID, entryID)
		if err != nil {
			return fmt.Errorf("loading entry %s: %w", entryID, err)
		}

		switch original.Status {
		case domain.EntryStatusVoided:
			reversal, err = journal.GetEntry(ctx, companyID, original.ReversedBy)
			return err
		case domain.EntryStatusPosted:
		default:
			return fmt.Errorf("entry %s is %s: %w", entryID, original.Status, domain.ErrInvalidTransition)
		}
		if original.Kind == domain.EntryKindReversal {
			return fmt.Errorf("entry %s is itself a reversal: %w", entryID, domain.ErrInvalidTransition)
		}

		draft, err := BuildReversal(original, reason, date)
		if err != nil {
			return err
		}
		if reversal, err = postDraft(ctx, journal, draft); err != nil {
			return err
		}
		return journal.TransitionEntry(ctx, companyID, entryID, domain.EntryStatusPosted, domain.EntryStatusVoided, reversal.ID, reason)
	})
	if err != nil {
		return domain.JournalEntry{}, err
	}
	slog.Info("journal: entry voided", "company", companyID, "entry", entryID, "reversal", reversal.ID, "reason", reason)
	return reversal, nil
}

// Entries lists a company's entries with from <= date < to.
func (p *Poster) Entries(ctx context.Context, companyID string, from, to time.Time) ([]domain.JournalEntry, error) {
	return p.store.Journal().ListEntries(ctx, companyID, from, to)
}

// Halted reports whether automated posting for a source is blocked.
func (p *Poster) Halted(companyID, sourceID string) bool {
	return p.haltedCause(haltKey(companyID, sourceID)) != nil
}

// Resume lifts the block on a source after the upstream defect has been fixed.
func (p *Poster) Resume(companyID, sourceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.halted, haltKey(companyID, sourceID))
}

func (p *Poster) halt(key string, cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.halted[key] = cause
}

func (p *Poster) haltedCause(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted[key]
}

func haltKey(companyID, sourceID string) string { return companyID + "/" + sourceID }
