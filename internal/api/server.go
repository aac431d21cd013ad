// Package api exposes the accounting core over HTTP/JSON.
package api

import (
	"net/http"
	"time"
)

// NewServer creates an HTTP server with all routes configured.
func NewServer(port string, handler *Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      Routes(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Routes builds the request multiplexer.
func Routes(handler *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /api/v1/classify", handler.Classify)
	if handler.svc.Prices != nil {
		mux.HandleFunc("POST /api/v1/quotes", handler.RecordQuote)
	}

	const company = "/api/v1/companies/{company}"
	mux.HandleFunc("POST "+company+"/transactions", handler.RecordTransaction)
	mux.HandleFunc("GET "+company+"/positions", handler.GetPositions)
	mux.HandleFunc("GET "+company+"/assets/{asset}/lots", handler.GetLots)
	mux.HandleFunc("POST "+company+"/predictions", handler.Predict)
	mux.HandleFunc("GET "+company+"/journal", handler.ListJournal)
	mux.HandleFunc("POST "+company+"/journal/{entry}/void", handler.VoidEntry)
	mux.HandleFunc("GET "+company+"/tax/{year}", handler.GetTaxSummary)
	mux.HandleFunc("GET "+company+"/tax/{year}/stored", handler.GetStoredTaxSummary)
	mux.HandleFunc("GET "+company+"/tax/{year}/validation", handler.ValidateTaxYear)
	mux.HandleFunc("GET "+company+"/tax/{year}/export/{format}", handler.ExportTaxYear)

	return mux
}
