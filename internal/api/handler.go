package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mtlprog/taxledger/internal/booking"
	"github.com/mtlprog/taxledger/internal/classifier"
	"github.com/mtlprog/taxledger/internal/domain"
	"github.com/mtlprog/taxledger/internal/journal"
	"github.com/mtlprog/taxledger/internal/ledger"
	"github.com/mtlprog/taxledger/internal/predict"
	"github.com/mtlprog/taxledger/internal/price"
	"github.com/mtlprog/taxledger/internal/store"
	"github.com/mtlprog/taxledger/internal/taxreport"
)

const maxBodyBytes = 4 << 20

// Services are the components exposed over HTTP. Prices may be nil.
type Services struct {
	Booker     *booking.Booker
	Ledger     *ledger.Ledger
	Poster     *journal.Poster
	Predictor  *predict.Engine
	Classifier *classifier.Classifier
	Reports    *taxreport.Aggregator
	Companies  store.ReferenceRepository
	Prices     *price.Service
}

// Handler provides HTTP endpoints for the accounting API.
type Handler struct {
	svc Services
}

// NewHandler creates a new API handler.
func NewHandler(svc Services) *Handler {
	return &Handler{svc: svc}
}

// RecordTransaction handles POST /api/v1/companies/{company}/transactions.
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	var tx booking.Transaction
	if !decodeJSON(w, r, &tx) {
		return
	}
	res, err := h.svc.Booker.Record(r.Context(), r.PathValue("company"), tx)
	if err != nil {
		writeFailure(w, "record transaction", err)
		return
	}
	status := http.StatusCreated
	if res.Skipped {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// GetPositions handles GET /api/v1/companies/{company}/positions.
func (h *Handler) GetPositions(w http.ResponseWriter, r *http.Request) {
	includeZero, _ := strconv.ParseBool(r.URL.Query().Get("includeZero"))
	positions, err := h.svc.Ledger.Positions(r.Context(), r.PathValue("company"), includeZero)
	if err != nil {
		writeFailure(w, "list positions", err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetLots handles GET /api/v1/companies/{company}/assets/{asset}/lots.
func (h *Handler) GetLots(w http.ResponseWriter, r *http.Request) {
	lots, err := h.svc.Ledger.Lots(r.Context(), r.PathValue("company"), r.PathValue("asset"))
	if err != nil {
		writeFailure(w, "list lots", err)
		return
	}
	writeJSON(w, http.StatusOK, lots)
}

// ListJournal handles GET /api/v1/companies/{company}/journal?from=YYYY-MM-DD&to=YYYY-MM-DD.
func (h *Handler) ListJournal(w http.ResponseWriter, r *http.Request) {
	from, ok := queryDate(w, r, "from", time.Time{})
	if !ok {
		return
	}
	to, ok := queryDate(w, r, "to", time.Now().UTC().AddDate(0, 0, 1))
	if !ok {
		return
	}
	entries, err := h.svc.Poster.Entries(r.Context(), r.PathValue("company"), from, to)
	if err != nil {
		writeFailure(w, "list journal", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type voidRequest struct {
	Reason string    `json:"reason"`
	Date   time.Time `json:"date"`
}

// VoidEntry handles POST /api/v1/companies/{company}/journal/{entry}/void.
func (h *Handler) VoidEntry(w http.ResponseWriter, r *http.Request) {
	var req voidRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Date.IsZero() {
		req.Date = time.Now().UTC()
	}
	reversal, err := h.svc.Poster.Void(r.Context(), r.PathValue("company"), r.PathValue("entry"), req.Reason, req.Date)
	if err != nil {
		writeFailure(w, "void entry", err)
		return
	}
	writeJSON(w, http.StatusOK, reversal)
}

type classifyRequest struct {
	Wallet       string                      `json:"wallet"`
	Transactions []classifier.RawTransaction `json:"transactions"`
}

// Classify handles POST /api/v1/classify.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet is required")
		return
	}
	out, err := h.svc.Classifier.ClassifyBatch(r.Context(), req.Transactions, req.Wallet)
	if err != nil {
		writeFailure(w, "classify", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// RecordQuote handles POST /api/v1/quotes.
func (h *Handler) RecordQuote(w http.ResponseWriter, r *http.Request) {
	var q price.Quote
	if !decodeJSON(w, r, &q) {
		return
	}
	if q.AssetID == "" || q.QuotedAt.IsZero() {
		writeError(w, http.StatusBadRequest, "assetId and quotedAt are required")
		return
	}
	if err := h.svc.Prices.Record(r.Context(), q); err != nil {
		writeFailure(w, "record quote", err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func queryDate(w http.ResponseWriter, r *http.Request, key string, fallback time.Time) (time.Time, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback, true
	}
	d, err := time.Parse("2006-01-02", v)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s, expected YYYY-MM-DD", key))
		return time.Time{}, false
	}
	return d, true
}

type errorBody struct {
	Error  string              `json:"error"`
	Issues []domain.FieldIssue `json:"issues,omitempty"`
}

// writeFailure maps domain errors to status codes; anything unexpected is logged as a 500.
func writeFailure(w http.ResponseWriter, op string, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "validation failed", Issues: verr.Issues})
	case errors.Is(err, domain.ErrInsufficientCostBasis),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, journal.ErrPostingHalted),
		errors.Is(err, taxreport.ErrIncompleteSummary):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrPriceUnavailable):
		writeError(w, http.StatusFailedDependency, err.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, taxreport.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrUnbalancedJournalEntry):
		slog.Error("api: unbalanced journal entry", "op", op, "error", err)
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("api: request failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal JSON response", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Warn("failed to write HTTP response body", "error", err)
		return
	}
	_, _ = w.Write([]byte("\n"))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
