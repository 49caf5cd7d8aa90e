// Package trade provides the HTTP and WebSocket surface over the round
// engine: spinning, stake selection, state polling, settlement history and
// cached feed prices.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/terminalspin/spin-engine/internal/catalog"
	"github.com/terminalspin/spin-engine/internal/engine"
	"github.com/terminalspin/spin-engine/internal/ledger"
	"github.com/terminalspin/spin-engine/internal/model"
)

// PriceReader exposes the feed's cached prices for the read-only endpoint.
type PriceReader interface {
	Prices() map[string]float64
	Connected() bool
}

// Service handles the round lifecycle endpoints. The engine serializes all
// state transitions internally; handlers stay thin.
type Service struct {
	engine *engine.Engine
	ledger *ledger.Ledger
	prices PriceReader
	hub    *WSHub // optional WebSocket hub for real-time broadcasts
	logger *slog.Logger
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(eng *engine.Engine, led *ledger.Ledger, prices PriceReader, hub *WSHub, logger *slog.Logger) *Service {
	return &Service{
		engine: eng,
		ledger: led,
		prices: prices,
		hub:    hub,
		logger: logger.With(slog.String("component", "trade")),
	}
}

// Routes returns the API router.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/state", s.State)
	r.Post("/spin", s.Spin)
	r.Post("/stake", s.SelectStake)
	r.Get("/history", s.History)
	r.Get("/prices", s.Prices)
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
	return r
}

// --- Request/Response types ---

// SpinRequest is the JSON body for POST /spin. An empty body means
// allow_simulated=false.
type SpinRequest struct {
	AllowSimulated bool `json:"allow_simulated"`
}

// StakeRequest is the JSON body for POST /stake.
type StakeRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// PricesResponse is the JSON body returned from GET /prices.
type PricesResponse struct {
	Connected bool               `json:"connected"`
	Prices    map[string]float64 `json:"prices"`
}

// --- HTTP Handlers ---

// State handles GET /api/v1/state
func (s *Service) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

// Spin handles POST /api/v1/spin
// Starts a new round with the selected stake. While the feed is offline the
// request must carry allow_simulated=true, otherwise it is rejected with
// 412 and nothing is debited.
func (s *Service) Spin(w http.ResponseWriter, r *http.Request) {
	var req SpinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.engine.StartRound(req.AllowSimulated); err != nil {
		switch {
		case errors.Is(err, engine.ErrRoundInProgress):
			writeError(w, "a round is already in progress", http.StatusConflict)
		case errors.Is(err, engine.ErrInsufficientBalance):
			writeError(w, "balance below stake", http.StatusPaymentRequired)
		case errors.Is(err, engine.ErrFeedOffline):
			writeError(w, "price feed offline; retry with allow_simulated to play on synthetic prices", http.StatusPreconditionFailed)
		default:
			writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

// SelectStake handles POST /api/v1/stake
func (s *Service) SelectStake(w http.ResponseWriter, r *http.Request) {
	var req StakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.engine.SelectStake(req.Amount); err != nil {
		switch {
		case errors.Is(err, catalog.ErrInvalidStake):
			writeError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, engine.ErrRoundInProgress):
			writeError(w, "stake is locked while a round is in progress", http.StatusConflict)
		default:
			writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	s.logger.Info("stake selected", slog.String("amount", req.Amount.String()))
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

// History handles GET /api/v1/history
// Returns settlement records, most recent first.
func (s *Service) History(w http.ResponseWriter, r *http.Request) {
	recs := s.ledger.Settlements()
	if recs == nil {
		recs = []model.SettlementRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// Prices handles GET /api/v1/prices
// Returns the feed's last-known price per symbol plus connection status.
func (s *Service) Prices(w http.ResponseWriter, r *http.Request) {
	prices := s.prices.Prices()
	if prices == nil {
		prices = map[string]float64{}
	}
	writeJSON(w, http.StatusOK, PricesResponse{
		Connected: s.prices.Connected(),
		Prices:    prices,
	})
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
