package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nidhogg/timberline/internal/ledger"
	"github.com/nidhogg/timberline/internal/market"
)

func setupHandler(t *testing.T) (*Handler, *market.Engine, *ledger.Ledger) {
	t.Helper()
	logger := zap.NewNop()
	led := ledger.NewInMemory(logger)
	eng := market.NewEngine(market.NewBook(logger), led, 10, logger)
	return NewHandler(eng, led, logger), eng, led
}

func doGet(t *testing.T, h *Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	h, eng, _ := setupHandler(t)
	eng.BeginRound(7)

	rec := doGet(t, h, "/api/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
	if body["round"] != float64(7) {
		t.Errorf("expected round 7, got %v", body["round"])
	}
}

func TestListOffers(t *testing.T) {
	h, eng, _ := setupHandler(t)
	eng.RegisterAgent("tom", decimal.RequireFromString("30"), 50)
	eng.BeginRound(1)
	if _, err := eng.Execute(context.Background(), "tom", market.Action{
		Kind: market.ActionPost, UnitPrice: decimal.RequireFromString("5.0"), Quantity: 10,
	}); err != nil {
		t.Fatalf("post offer: %v", err)
	}

	rec := doGet(t, h, "/api/offers")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var offers []market.Offer
	decodeBody(t, rec, &offers)
	if len(offers) != 1 {
		t.Fatalf("expected 1 offer, got %d", len(offers))
	}
	if offers[0].SellerID != "tom" {
		t.Errorf("expected seller tom, got %s", offers[0].SellerID)
	}
}

func TestListTradesTail(t *testing.T) {
	h, _, led := setupHandler(t)
	for i := 1; i <= 5; i++ {
		err := led.Append(context.Background(), ledger.Trade{
			ID: string(rune('a' + i - 1)), Tick: int64(i),
			BuyerID: "ann", SellerID: "tom",
			UnitPrice:  decimal.RequireFromString("5"),
			Quantity:   1,
			TotalValue: decimal.RequireFromString("5"),
			Timestamp:  time.Now(),
		})
		if err != nil {
			t.Fatalf("append trade: %v", err)
		}
	}

	rec := doGet(t, h, "/api/ledger?tail=2")
	var trades []ledger.Trade
	decodeBody(t, rec, &trades)
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].ID != "d" || trades[1].ID != "e" {
		t.Errorf("expected most recent trades, got %s, %s", trades[0].ID, trades[1].ID)
	}

	rec = doGet(t, h, "/api/ledger?tail=bogus")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad tail, got %d", rec.Code)
	}
}

func TestListAgents(t *testing.T) {
	h, eng, _ := setupHandler(t)
	eng.RegisterAgent("tom", decimal.RequireFromString("30"), 50)
	eng.RegisterAgent("ann", decimal.RequireFromString("100"), 0)

	rec := doGet(t, h, "/api/agents")
	var accounts []market.Account
	decodeBody(t, rec, &accounts)
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
}

func TestMarketSnapshot(t *testing.T) {
	h, eng, _ := setupHandler(t)
	eng.BeginRound(3)

	rec := doGet(t, h, "/api/snapshot")
	var snap market.Snapshot
	decodeBody(t, rec, &snap)
	if snap.Round != 3 {
		t.Errorf("expected round 3, got %d", snap.Round)
	}
}

func TestRunReport(t *testing.T) {
	h, _, led := setupHandler(t)
	err := led.Append(context.Background(), ledger.Trade{
		ID: "t1", Tick: 1, BuyerID: "ann", SellerID: "tom",
		UnitPrice:  decimal.RequireFromString("4"),
		Quantity:   10,
		TotalValue: decimal.RequireFromString("40"),
		Timestamp:  time.Now(),
	})
	if err != nil {
		t.Fatalf("append trade: %v", err)
	}

	rec := doGet(t, h, "/api/report")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Summary struct {
			TotalTrades int `json:"total_trades"`
		} `json:"summary"`
		Agents []struct {
			AgentID string `json:"agent_id"`
		} `json:"agents"`
	}
	decodeBody(t, rec, &body)
	if body.Summary.TotalTrades != 1 {
		t.Errorf("expected 1 trade in summary, got %d", body.Summary.TotalTrades)
	}
	if len(body.Agents) != 2 {
		t.Errorf("expected 2 agents in report, got %d", len(body.Agents))
	}
}
