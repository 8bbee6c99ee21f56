package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/timberline/internal/ledger"
	"github.com/nidhogg/timberline/internal/market"
	"github.com/nidhogg/timberline/internal/report"
)

// Handler serves the read-only inspection API: the offer book, the
// trade ledger, agent accounts, and run aggregates. It never mutates
// market state; the simulation's single-writer rule stays intact.
type Handler struct {
	engine *market.Engine
	led    *ledger.Ledger
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(engine *market.Engine, led *ledger.Ledger, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, led: led, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/offers", h.listOffers)
		r.Get("/ledger", h.listTrades)
		r.Get("/agents", h.listAgents)
		r.Get("/snapshot", h.marketSnapshot)
		r.Get("/report", h.runReport)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"round":  h.engine.Round(),
	})
}

func (h *Handler) listOffers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Book().ListActive())
}

func (h *Handler) listTrades(w http.ResponseWriter, r *http.Request) {
	trades := h.led.All()
	if v := r.URL.Query().Get("tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "tail must be a non-negative integer")
			return
		}
		trades = h.led.Tail(n)
	}
	writeJSON(w, http.StatusOK, trades)
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Accounts())
}

func (h *Handler) marketSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Snapshot())
}

func (h *Handler) runReport(w http.ResponseWriter, r *http.Request) {
	trades := h.led.All()
	writeJSON(w, http.StatusOK, map[string]any{
		"summary":     report.Summarize(trades),
		"price_trend": report.PriceTrend(trades),
		"agents":      report.AgentActivity(trades),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
