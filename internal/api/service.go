// Package api provides the HTTP handlers for building exposure summaries,
// running index-move simulations, and reading and storing quotes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mingdom/omninmo-sub001/internal/engine"
	"github.com/mingdom/omninmo-sub001/internal/loader"
	"github.com/mingdom/omninmo-sub001/internal/marketdata"
	"github.com/mingdom/omninmo-sub001/internal/portfolio"
)

// maxIndexChanges bounds the sweep a single request may ask for.
const maxIndexChanges = 1000

// Service serves the exposure endpoints. It holds no per-request state.
type Service struct {
	engine *engine.Engine
	source marketdata.Source
	writer marketdata.Writer
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new exposure service.
// Pass nil for hub if WebSocket broadcasting is not needed, nil for source
// if quotes are never looked up, and nil for writer to serve quotes
// read-only.
func NewService(e *engine.Engine, source marketdata.Source, writer marketdata.Writer, hub *WSHub) *Service {
	return &Service{engine: e, source: source, writer: writer, wsHub: hub}
}

// Routes mounts the service's endpoints on r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/exposure/summary", s.Summary)
	r.Post("/exposure/simulate", s.Simulate)
	r.Get("/quotes/{ticker}", s.GetQuote)
	if s.writer != nil {
		r.Put("/quotes/{ticker}", s.PutQuote)
	}
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}
}

// --- Request types ---

// SummaryRequest is the JSON body for POST /exposure/summary.
type SummaryRequest struct {
	Positions []loader.Row `json:"positions"`
}

// SimulateRequest is the JSON body for POST /exposure/simulate.
// An empty IndexChanges uses the default -30%..+30% sweep.
type SimulateRequest struct {
	Positions    []loader.Row `json:"positions"`
	IndexChanges []float64    `json:"index_changes,omitempty"`
}

// QuoteRequest is the JSON body for PUT /quotes/{ticker}. Beta may be
// omitted when none is known.
type QuoteRequest struct {
	Price decimal.Decimal `json:"price"`
	Beta  *float64        `json:"beta,omitempty"`
}

// --- HTTP Handlers ---

// Summary handles POST /api/v1/exposure/summary
func (s *Service) Summary(w http.ResponseWriter, r *http.Request) {
	var req SummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rep, err := s.engine.Summarize(r.Context(), req.Positions)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:                    "summary_built",
			ID:                      rep.Summary.ID,
			NetExposure:             rep.Summary.NetExposure,
			BetaAdjustedNetExposure: rep.Summary.BetaAdjustedNetExposure,
			PortfolioValue:          rep.Summary.PortfolioValue,
			PortfolioBeta:           rep.Summary.PortfolioBeta,
			Excluded:                rep.Summary.ExcludedCount(),
		})
	}

	writeJSON(w, http.StatusOK, rep)
}

// Simulate handles POST /api/v1/exposure/simulate
func (s *Service) Simulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.IndexChanges) > maxIndexChanges {
		writeError(w, "too many index changes", http.StatusBadRequest)
		return
	}

	curve, err := s.engine.Simulate(r.Context(), req.Positions, req.IndexChanges)
	if err != nil {
		slog.Warn("simulation request failed", "err", err, "completed", len(curve.Points))
		writeError(w, err.Error(), statusFor(err))
		return
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:           "simulation_completed",
			ID:             curve.ID,
			PortfolioValue: curve.BaseValue,
			Points:         len(curve.Points),
		})
	}

	writeJSON(w, http.StatusOK, curve)
}

// GetQuote handles GET /api/v1/quotes/{ticker}
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		writeError(w, "no market data source configured", http.StatusServiceUnavailable)
		return
	}
	ticker := marketdata.NormalizeTicker(chi.URLParam(r, "ticker"))

	q, err := s.source.GetPriceAndBeta(r.Context(), ticker)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// PutQuote handles PUT /api/v1/quotes/{ticker}
func (s *Service) PutQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Price.IsPositive() {
		writeError(w, "price must be positive", http.StatusBadRequest)
		return
	}

	q := marketdata.Quote{
		Ticker: marketdata.NormalizeTicker(chi.URLParam(r, "ticker")),
		Price:  req.Price,
		Beta:   req.Beta,
		AsOf:   time.Now().UTC(),
	}
	if err := s.writer.UpsertQuote(r.Context(), q); err != nil {
		slog.Error("quote upsert failed", "ticker", q.Ticker, "err", err)
		writeError(w, err.Error(), statusFor(err))
		return
	}
	slog.Info("quote stored", "ticker", q.Ticker, "price", q.Price.String())
	writeJSON(w, http.StatusOK, q)
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, marketdata.ErrDataUnavailable):
		return http.StatusNotFound
	case errors.Is(err, marketdata.ErrSourceOpen),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, portfolio.ErrInconsistent):
		return http.StatusInternalServerError
	case errors.Is(err, marketdata.ErrReadOnly):
		return http.StatusMethodNotAllowed
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
