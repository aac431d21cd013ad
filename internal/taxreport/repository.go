package taxreport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/taxledger/internal/domain"
)

// ErrNotFound indicates that no summary is stored for the company and year.
var ErrNotFound = errors.New("summary not found")

// StoredSummary is a persisted TaxYearSummary.
type StoredSummary struct {
	Summary   domain.TaxYearSummary `json:"summary"`
	CreatedAt time.Time             `json:"createdAt"`
}

// Repository defines persistent storage for year summaries.
type Repository interface {
	Save(ctx context.Context, s domain.TaxYearSummary) error
	Get(ctx context.Context, companyID string, year int) (*StoredSummary, error)
	List(ctx context.Context, companyID string) ([]StoredSummary, error)
}

// PgRepository implements Repository with PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a new PostgreSQL summary repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) Save(ctx context.Context, s domain.TaxYearSummary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO tax_summaries (company_id, year, data)
		 VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (company_id, year)
		 DO UPDATE SET data = $3::jsonb, created_at = NOW()`,
		s.CompanyID, s.Year, data)
	if err != nil {
		return fmt.Errorf("saving summary: %w", err)
	}
	return nil
}

func (r *PgRepository) Get(ctx context.Context, companyID string, year int) (*StoredSummary, error) {
	var data []byte
	var out StoredSummary
	err := r.pool.QueryRow(ctx,
		`SELECT data, created_at FROM tax_summaries
		 WHERE company_id = $1 AND year = $2`, companyID, year).Scan(&data, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting summary: %w", err)
	}
	if err := json.Unmarshal(data, &out.Summary); err != nil {
		return nil, fmt.Errorf("decoding summary: %w", err)
	}
	return &out, nil
}

func (r *PgRepository) List(ctx context.Context, companyID string) ([]StoredSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT data, created_at FROM tax_summaries
		 WHERE company_id = $1
		 ORDER BY year DESC`, companyID)
	if err != nil {
		return nil, fmt.Errorf("listing summaries: %w", err)
	}
	defer rows.Close()

	var out []StoredSummary
	for rows.Next() {
		var data []byte
		var s StoredSummary
		if err := rows.Scan(&data, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		if err := json.Unmarshal(data, &s.Summary); err != nil {
			return nil, fmt.Errorf("decoding summary: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating summaries: %w", err)
	}
	return out, nil
}

// MemoryRepository keeps summaries in process.
type MemoryRepository struct {
	mu        sync.RWMutex
	summaries map[string]StoredSummary
}

// NewMemoryRepository creates an empty in-memory summary repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{summaries: make(map[string]StoredSummary)}
}

func memKey(companyID string, year int) string { return fmt.Sprintf("%s/%d", companyID, year) }

func (r *MemoryRepository) Save(_ context.Context, s domain.TaxYearSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries[memKey(s.CompanyID, s.Year)] = StoredSummary{Summary: s, CreatedAt: time.Now().UTC()}
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, companyID string, year int) (*StoredSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.summaries[memKey(companyID, year)]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (r *MemoryRepository) List(_ context.Context, companyID string) ([]StoredSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []StoredSummary
	for _, s := range r.summaries {
		if s.Summary.CompanyID == companyID {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b StoredSummary) int { return b.Summary.Year - a.Summary.Year })
	return out, nil
}
