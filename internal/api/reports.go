package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/mtlprog/taxledger/internal/domain"
	"github.com/mtlprog/taxledger/internal/predict"
	"github.com/mtlprog/taxledger/internal/taxreport"
)

// Predict handles POST /api/v1/companies/{company}/predictions.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	var req predict.PredictionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.CompanyID = r.PathValue("company")
	p, err := h.svc.Predictor.Predict(r.Context(), req)
	if err != nil {
		writeFailure(w, "predict", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetTaxSummary handles GET /api/v1/companies/{company}/tax/{year}.
func (h *Handler) GetTaxSummary(w http.ResponseWriter, r *http.Request) {
	year, ok := pathYear(w, r)
	if !ok {
		return
	}
	s, err := h.svc.Reports.Summarize(r.Context(), r.PathValue("company"), year)
	if err != nil {
		writeFailure(w, "summarize", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// GetStoredTaxSummary handles GET /api/v1/companies/{company}/tax/{year}/stored.
func (h *Handler) GetStoredTaxSummary(w http.ResponseWriter, r *http.Request) {
	year, ok := pathYear(w, r)
	if !ok {
		return
	}
	s, err := h.svc.Reports.Stored(r.Context(), r.PathValue("company"), year)
	if err != nil {
		writeFailure(w, "stored summary", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// ValidateTaxYear handles GET /api/v1/companies/{company}/tax/{year}/validation.
func (h *Handler) ValidateTaxYear(w http.ResponseWriter, r *http.Request) {
	year, ok := pathYear(w, r)
	if !ok {
		return
	}
	if err := h.svc.Reports.ValidateForSubmission(r.Context(), r.PathValue("company"), year); err != nil {
		writeFailure(w, "validate", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

var exportContentTypes = map[string]string{
	"xml":  "application/xml; charset=utf-8",
	"csv":  "text/csv; charset=utf-8",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// ExportTaxYear handles GET /api/v1/companies/{company}/tax/{year}/export/{format}.
func (h *Handler) ExportTaxYear(w http.ResponseWriter, r *http.Request) {
	year, ok := pathYear(w, r)
	if !ok {
		return
	}
	format := r.PathValue("format")
	contentType, ok := exportContentTypes[format]
	if !ok {
		writeError(w, http.StatusBadRequest, "format must be one of xml, csv, xlsx")
		return
	}

	companyID := r.PathValue("company")
	var data []byte
	var err error
	if format == "xml" {
		// The declaration itself is only rendered for a year that passes validation.
		data, err = h.svc.Reports.FilingXML(r.Context(), companyID, year)
	} else {
		var s domain.TaxYearSummary
		if s, err = h.svc.Reports.Summarize(r.Context(), companyID, year); err != nil {
			writeFailure(w, "summarize", err)
			return
		}
		if format == "csv" {
			data, err = taxreport.ExportCSV(s)
		} else {
			data, err = taxreport.ExportXLSX(s)
		}
	}
	if err != nil {
		writeFailure(w, "export "+format, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="modelo721_%s_%d.%s"`, companyID, year, format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func pathYear(w http.ResponseWriter, r *http.Request) (int, bool) {
	year, err := strconv.Atoi(r.PathValue("year"))
	if err != nil || year < 2009 || year > 9999 {
		writeError(w, http.StatusBadRequest, "invalid year")
		return 0, false
	}
	return year, true
}
