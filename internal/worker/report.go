// Package worker runs periodic background jobs.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/mtlprog/taxledger/internal/domain"
)

// Summarizer builds a fiscal-year tax summary.
type Summarizer interface {
	Summarize(ctx context.Context, companyID string, year int) (domain.TaxYearSummary, error)
}

// SummaryHook is called after each complete summary, for example to publish it.
type SummaryHook interface {
	Write(ctx context.Context, s domain.TaxYearSummary) error
}

// ReportWorker periodically regenerates the previous fiscal year's summary for a fixed set
// of companies.
type ReportWorker struct {
	summarizer Summarizer
	companies  []string
	interval   time.Duration
	hook       SummaryHook // optional
	now        func() time.Time
}

// NewReportWorker creates a new ReportWorker with an optional post-summary hook.
func NewReportWorker(summarizer Summarizer, companies []string, interval time.Duration, hook SummaryHook) *ReportWorker {
	return &ReportWorker{
		summarizer: summarizer,
		companies:  companies,
		interval:   interval,
		hook:       hook,
		now:        time.Now,
	}
}

// fiscalYear is the last closed year, the one being declared.
func (w *ReportWorker) fiscalYear() int {
	return w.now().UTC().Year() - 1
}

// runOnce summarizes every company; a failure for one does not stop the others.
func (w *ReportWorker) runOnce(ctx context.Context) {
	year := w.fiscalYear()
	for _, companyID := range w.companies {
		if ctx.Err() != nil {
			return
		}
		s, err := w.summarizer.Summarize(ctx, companyID, year)
		if err != nil {
			slog.Error("ReportWorker: summary failed", "company", companyID, "year", year, "error", err)
			continue
		}
		if s.Incomplete {
			slog.Warn("ReportWorker: summary incomplete", "company", companyID, "year", year, "reason", s.IncompleteReason)
			continue
		}
		slog.Info("ReportWorker: summary completed", "company", companyID, "year", year,
			"yearEndValue", domain.FormatEUR(s.TotalYearEndValue), "modelo721", s.Modelo721Required)
		w.runHook(ctx, s)
	}
}

// runHook calls the post-summary hook if one is configured.
func (w *ReportWorker) runHook(ctx context.Context, s domain.TaxYearSummary) {
	if w.hook == nil {
		return
	}
	if err := w.hook.Write(ctx, s); err != nil {
		slog.Error("ReportWorker: export hook failed", "company", s.CompanyID, "error", err)
	} else {
		slog.Info("ReportWorker: export hook completed", "company", s.CompanyID)
	}
}

// Run starts the report worker loop. It blocks until the context is cancelled.
func (w *ReportWorker) Run(ctx context.Context) {
	if len(w.companies) == 0 {
		slog.Info("ReportWorker: no companies configured, not starting")
		return
	}
	slog.Info("ReportWorker: starting", "companies", len(w.companies), "interval", w.interval)

	// Summarize immediately on startup
	w.runOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("ReportWorker: shutting down")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}
