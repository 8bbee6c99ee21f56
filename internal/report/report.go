package report

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/nidhogg/timberline/internal/ledger"
)

// Summary aggregates a whole run's trading activity.
type Summary struct {
	TotalTrades int             `json:"total_trades"`
	TotalVolume int64           `json:"total_volume"`
	TotalValue  decimal.Decimal `json:"total_value"`
	// VWAP is the volume-weighted average unit price across all trades.
	VWAP     decimal.Decimal `json:"vwap"`
	MinPrice decimal.Decimal `json:"min_price"`
	MaxPrice decimal.Decimal `json:"max_price"`
}

// TickStats is per-tick trading activity.
type TickStats struct {
	Tick     int64           `json:"tick"`
	Trades   int             `json:"trades"`
	Volume   int64           `json:"volume"`
	Value    decimal.Decimal `json:"value"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// AgentStats is one agent's activity across the run.
type AgentStats struct {
	AgentID     string          `json:"agent_id"`
	Buys        int             `json:"buys"`
	Sells       int             `json:"sells"`
	BoughtUnits int64           `json:"bought_units"`
	SoldUnits   int64           `json:"sold_units"`
	Spent       decimal.Decimal `json:"spent"`
	Earned      decimal.Decimal `json:"earned"`
}

// Summarize computes run-level aggregates over the full ledger.
func Summarize(trades []ledger.Trade) Summary {
	s := Summary{TotalValue: decimal.Zero, VWAP: decimal.Zero}
	if len(trades) == 0 {
		return s
	}

	s.MinPrice = trades[0].UnitPrice
	s.MaxPrice = trades[0].UnitPrice
	for _, t := range trades {
		s.TotalTrades++
		s.TotalVolume += t.Quantity
		s.TotalValue = s.TotalValue.Add(t.TotalValue)
		if t.UnitPrice.LessThan(s.MinPrice) {
			s.MinPrice = t.UnitPrice
		}
		if t.UnitPrice.GreaterThan(s.MaxPrice) {
			s.MaxPrice = t.UnitPrice
		}
	}
	if s.TotalVolume > 0 {
		s.VWAP = s.TotalValue.Div(decimal.NewFromInt(s.TotalVolume))
	}
	return s
}

// PriceTrend returns per-tick stats in tick order.
func PriceTrend(trades []ledger.Trade) []TickStats {
	byTick := make(map[int64]*TickStats)
	for _, t := range trades {
		ts, ok := byTick[t.Tick]
		if !ok {
			ts = &TickStats{Tick: t.Tick, Value: decimal.Zero}
			byTick[t.Tick] = ts
		}
		ts.Trades++
		ts.Volume += t.Quantity
		ts.Value = ts.Value.Add(t.TotalValue)
	}

	out := make([]TickStats, 0, len(byTick))
	for _, ts := range byTick {
		if ts.Volume > 0 {
			ts.AvgPrice = ts.Value.Div(decimal.NewFromInt(ts.Volume))
		}
		out = append(out, *ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tick < out[j].Tick })
	return out
}

// AgentActivity returns per-agent aggregates sorted by agent ID.
func AgentActivity(trades []ledger.Trade) []AgentStats {
	byAgent := make(map[string]*AgentStats)
	get := func(id string) *AgentStats {
		a, ok := byAgent[id]
		if !ok {
			a = &AgentStats{AgentID: id, Spent: decimal.Zero, Earned: decimal.Zero}
			byAgent[id] = a
		}
		return a
	}

	for _, t := range trades {
		buyer := get(t.BuyerID)
		buyer.Buys++
		buyer.BoughtUnits += t.Quantity
		buyer.Spent = buyer.Spent.Add(t.TotalValue)

		seller := get(t.SellerID)
		seller.Sells++
		seller.SoldUnits += t.Quantity
		seller.Earned = seller.Earned.Add(t.TotalValue)
	}

	out := make([]AgentStats, 0, len(byAgent))
	for _, a := range byAgent {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}
