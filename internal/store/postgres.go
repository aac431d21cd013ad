package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/taxledger/internal/domain"
)

// serializationRetries bounds how often a unit of work is replayed after a
// serialization failure before the error is returned to the caller.
const serializationRetries = 3

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore implements Store with PostgreSQL. Units of work run at serializable isolation.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Lots() LotRepository       { return &pgLots{q: s.pool} }
func (s *PgStore) Journal() JournalRepository { return &pgJournal{q: s.pool} }

func (s *PgStore) InTx(ctx context.Context, fn func(lots LotRepository, journal JournalRepository) error) error {
	var err error
	for attempt := range serializationRetries {
		err = s.runTx(ctx, fn)
		if !isSerializationFailure(err) {
			return err
		}
		slog.Warn("store: serialization failure, retrying", "attempt", attempt+1, "error", err)
	}
	return err
}

func (s *PgStore) runTx(ctx context.Context, fn func(lots LotRepository, journal JournalRepository) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgLots{q: tx}, &pgJournal{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type pgLots struct {
	q querier
}

const lotColumns = `seq, id, company_id, asset_id, custodian_id, acquired_at, original_quantity,
	quantity_remaining, unit_cost_eur, source_transaction_id`

func scanLots(rows pgx.Rows) ([]domain.AcquisitionLot, error) {
	defer rows.Close()
	var lots []domain.AcquisitionLot
	for rows.Next() {
		var l domain.AcquisitionLot
		if err := rows.Scan(&l.Seq, &l.ID, &l.CompanyID, &l.AssetID, &l.CustodianID, &l.AcquiredAt,
			&l.OriginalQuantity, &l.QuantityRemaining, &l.UnitCostEUR, &l.SourceTransactionID); err != nil {
			return nil, fmt.Errorf("scanning lot: %w", err)
		}
		lots = append(lots, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lots: %w", err)
	}
	return lots, nil
}

func (r *pgLots) ListLots(ctx context.Context, companyID, assetID string) ([]domain.AcquisitionLot, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+lotColumns+` FROM acquisition_lots
		 WHERE company_id = $1 AND asset_id = $2
		 ORDER BY acquired_at, seq`, companyID, assetID)
	if err != nil {
		return nil, fmt.Errorf("listing lots: %w", err)
	}
	return scanLots(rows)
}

func (r *pgLots) ListCompanyLots(ctx context.Context, companyID string) ([]domain.AcquisitionLot, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+lotColumns+` FROM acquisition_lots
		 WHERE company_id = $1
		 ORDER BY acquired_at, seq`, companyID)
	if err != nil {
		return nil, fmt.Errorf("listing company lots: %w", err)
	}
	return scanLots(rows)
}

func (r *pgLots) InsertLot(ctx context.Context, l domain.AcquisitionLot) (int64, error) {
	var seq int64
	err := r.q.QueryRow(ctx,
		`INSERT INTO acquisition_lots (id, company_id, asset_id, custodian_id, acquired_at,
		   original_quantity, quantity_remaining, unit_cost_eur, source_transaction_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING seq`,
		l.ID, l.CompanyID, l.AssetID, l.CustodianID, l.AcquiredAt,
		l.OriginalQuantity, l.QuantityRemaining, l.UnitCostEUR, l.SourceTransactionID).Scan(&seq)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("lot %s: %w", l.ID, ErrDuplicate)
		}
		return 0, fmt.Errorf("inserting lot: %w", err)
	}
	return seq, nil
}

func (r *pgLots) SetRemaining(ctx context.Context, lotID string, remaining decimal.Decimal) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE acquisition_lots SET quantity_remaining = $2
		 WHERE id = $1 AND quantity_remaining >= $2 AND $2 >= 0`, lotID, remaining)
	if err != nil {
		return fmt.Errorf("updating lot %s: %w", lotID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("lot %s: not found or quantity would increase: %w", lotID, ErrNotFound)
	}
	return nil
}

func (r *pgLots) InsertDisposal(ctx context.Context, d domain.DisposalEvent) error {
	consumed, err := json.Marshal(d.ConsumedLots)
	if err != nil {
		return fmt.Errorf("marshaling consumed lots: %w", err)
	}
	_, err = r.q.Exec(ctx,
		`INSERT INTO disposals (id, company_id, asset_id, quantity_sold, proceeds_eur, sale_date,
		   source_transaction_id, consumed_lots)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)`,
		d.ID, d.CompanyID, d.AssetID, d.QuantitySold, d.ProceedsEUR, d.SaleDate,
		d.SourceTransactionID, consumed)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("disposal for source %s: %w", d.SourceTransactionID, ErrDuplicate)
		}
		return fmt.Errorf("inserting disposal: %w", err)
	}
	return nil
}

const disposalColumns = `id, company_id, asset_id, quantity_sold, proceeds_eur, sale_date,
	source_transaction_id, consumed_lots`

func scanDisposal(row pgx.Row) (domain.DisposalEvent, error) {
	var d domain.DisposalEvent
	var consumed []byte
	if err := row.Scan(&d.ID, &d.CompanyID, &d.AssetID, &d.QuantitySold, &d.ProceedsEUR, &d.SaleDate,
		&d.SourceTransactionID, &consumed); err != nil {
		return domain.DisposalEvent{}, err
	}
	if err := json.Unmarshal(consumed, &d.ConsumedLots); err != nil {
		return domain.DisposalEvent{}, fmt.Errorf("unmarshaling consumed lots: %w", err)
	}
	return d, nil
}

func (r *pgLots) GetDisposalBySource(ctx context.Context, companyID, sourceID string) (domain.DisposalEvent, error) {
	d, err := scanDisposal(r.q.QueryRow(ctx,
		`SELECT `+disposalColumns+` FROM disposals
		 WHERE company_id = $1 AND source_transaction_id = $2`, companyID, sourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DisposalEvent{}, ErrNotFound
		}
		return domain.DisposalEvent{}, fmt.Errorf("getting disposal by source: %w", err)
	}
	return d, nil
}

func (r *pgLots) ListDisposals(ctx context.Context, companyID string, from, to time.Time) ([]domain.DisposalEvent, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+disposalColumns+` FROM disposals
		 WHERE company_id = $1 AND sale_date >= $2 AND sale_date < $3
		 ORDER BY sale_date, id`, companyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing disposals: %w", err)
	}
	defer rows.Close()

	var out []domain.DisposalEvent
	for rows.Next() {
		d, err := scanDisposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning disposal: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type pgJournal struct {
	q querier
}

const entryColumns = `id, company_id, entry_date, status, kind, source_id, description, lines,
	reverses, reversed_by, void_reason`

func scanEntry(row pgx.Row) (domain.JournalEntry, error) {
	var e domain.JournalEntry
	var lines []byte
	if err := row.Scan(&e.ID, &e.CompanyID, &e.Date, &e.Status, &e.Kind, &e.SourceID, &e.Description,
		&lines, &e.Reverses, &e.ReversedBy, &e.VoidReason); err != nil {
		return domain.JournalEntry{}, err
	}
	if err := json.Unmarshal(lines, &e.Lines); err != nil {
		return domain.JournalEntry{}, fmt.Errorf("unmarshaling journal lines: %w", err)
	}
	return e, nil
}

func (r *pgJournal) InsertEntry(ctx context.Context, e domain.JournalEntry) error {
	lines, err := json.Marshal(e.Lines)
	if err != nil {
		return fmt.Errorf("marshaling journal lines: %w", err)
	}
	_, err = r.q.Exec(ctx,
		`INSERT INTO journal_entries (id, company_id, entry_date, status, kind, source_id,
		   description, lines, reverses, reversed_by, void_reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11)`,
		e.ID, e.CompanyID, e.Date, e.Status, e.Kind, e.SourceID, e.Description, lines,
		e.Reverses, e.ReversedBy, e.VoidReason)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("entry for source %s: %w", e.SourceID, ErrDuplicate)
		}
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

func (r *pgJournal) GetEntry(ctx context.Context, companyID, id string) (domain.JournalEntry, error) {
	e, err := scanEntry(r.q.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM journal_entries WHERE company_id = $1 AND id = $2`, companyID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.JournalEntry{}, ErrNotFound
		}
		return domain.JournalEntry{}, fmt.Errorf("getting journal entry: %w", err)
	}
	return e, nil
}

func (r *pgJournal) GetEntryBySource(ctx context.Context, companyID, sourceID string) (domain.JournalEntry, error) {
	e, err := scanEntry(r.q.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM journal_entries WHERE company_id = $1 AND source_id = $2`, companyID, sourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.JournalEntry{}, ErrNotFound
		}
		return domain.JournalEntry{}, fmt.Errorf("getting journal entry by source: %w", err)
	}
	return e, nil
}

func (r *pgJournal) TransitionEntry(ctx context.Context, companyID, id string, from, to domain.EntryStatus, reversedBy, reason string) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%s -> %s: %w", from, to, domain.ErrInvalidTransition)
	}
	tag, err := r.q.Exec(ctx,
		`UPDATE journal_entries
		 SET status = $4,
		     reversed_by = COALESCE(NULLIF($5, ''), reversed_by),
		     void_reason = COALESCE(NULLIF($6, ''), void_reason)
		 WHERE company_id = $1 AND id = $2 AND status = $3`,
		companyID, id, from, to, reversedBy, reason)
	if err != nil {
		return fmt.Errorf("updating journal entry status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetEntry(ctx, companyID, id); err != nil {
			return err
		}
		return fmt.Errorf("entry %s is not %s: %w", id, from, domain.ErrInvalidTransition)
	}
	return nil
}

func (r *pgJournal) ListEntries(ctx context.Context, companyID string, from, to time.Time) ([]domain.JournalEntry, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+entryColumns+` FROM journal_entries
		 WHERE company_id = $1 AND entry_date >= $2 AND entry_date < $3
		 ORDER BY entry_date, id`, companyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing journal entries: %w", err)
	}
	defer rows.Close()

	var out []domain.JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PgStore) GetCompany(ctx context.Context, id string) (domain.Company, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM companies WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Company{}, ErrNotFound
		}
		return domain.Company{}, fmt.Errorf("getting company %s: %w", id, err)
	}
	var c domain.Company
	if err := json.Unmarshal(data, &c); err != nil {
		return domain.Company{}, fmt.Errorf("unmarshaling company %s: %w", id, err)
	}
	return c, nil
}

func (s *PgStore) SaveCompany(ctx context.Context, c domain.Company) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling company: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO companies (id, data) VALUES ($1, $2::jsonb)
		 ON CONFLICT (id) DO UPDATE SET data = $2::jsonb`, c.ID, data)
	if err != nil {
		return fmt.Errorf("saving company %s: %w", c.ID, err)
	}
	return nil
}

func (s *PgStore) ListCompanies(ctx context.Context) ([]domain.Company, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM companies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing companies: %w", err)
	}
	return scanJSONRows[domain.Company](rows)
}

func (s *PgStore) ListCustodians(ctx context.Context, companyID string) ([]domain.Custodian, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM custodians WHERE company_id = $1 ORDER BY id`, companyID)
	if err != nil {
		return nil, fmt.Errorf("listing custodians: %w", err)
	}
	return scanJSONRows[domain.Custodian](rows)
}

func (s *PgStore) SaveCustodian(ctx context.Context, c domain.Custodian) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling custodian: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO custodians (id, company_id, data) VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (id) DO UPDATE SET company_id = $2, data = $3::jsonb`, c.ID, c.CompanyID, data)
	if err != nil {
		return fmt.Errorf("saving custodian %s: %w", c.ID, err)
	}
	return nil
}

func scanJSONRows[T any](rows pgx.Rows) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("unmarshaling row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
