package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nidhogg/timberline/internal/agent"
	"github.com/nidhogg/timberline/internal/ledger"
	"github.com/nidhogg/timberline/internal/market"
	"github.com/nidhogg/timberline/internal/memory"
	"github.com/nidhogg/timberline/internal/provider"
)

// replayOracle plays a fixed script of completions per agent, round
// after round, then waits forever.
type replayOracle struct {
	scripts map[string][]string
	cursor  map[string]int
}

func (o *replayOracle) ID() string   { return "replay" }
func (o *replayOracle) Name() string { return "Replay" }

func (o *replayOracle) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	// The system message carries the persona name; scripts key on it.
	name := req.Messages[0].Content
	for key := range o.scripts {
		if strings.Contains(name, key) {
			i := o.cursor[key]
			if i >= len(o.scripts[key]) {
				return &provider.ChatResponse{Content: `{"command": "wait"}`}, nil
			}
			o.cursor[key] = i + 1
			return &provider.ChatResponse{Content: o.scripts[key][i]}, nil
		}
	}
	return &provider.ChatResponse{Content: `{"command": "wait"}`}, nil
}

func (o *replayOracle) HealthCheck(context.Context) error { return nil }

type harness struct {
	engine *market.Engine
	led    *ledger.Ledger
	shells []*agent.Shell
}

func newHarness(t *testing.T, oracle provider.Provider, personas ...agent.Persona) *harness {
	t.Helper()
	logger := zap.NewNop()

	led := ledger.NewInMemory(logger)
	eng := market.NewEngine(market.NewBook(logger), led, 10, logger)

	router := provider.NewRouter(logger)
	router.Register(oracle)

	shells := make([]*agent.Shell, 0, len(personas))
	for _, p := range personas {
		eng.RegisterAgent(p.ID, p.Budget, p.Inventory)
		mem := memory.NewStore(p.ID, 0, logger)
		shells = append(shells, agent.NewShell(p, eng, router, mem, time.Second, 3, logger))
	}
	return &harness{engine: eng, led: led, shells: shells}
}

func TestRunner_TradeAcrossTicks(t *testing.T) {
	// Tick 1: tom posts 10 units at 5.0. Tick 2: ann buys 4 of them.
	oracle := &replayOracle{
		scripts: map[string][]string{
			"Old_Tom": {
				`{"reasoning": "sell my stock", "command": "post_offer", "params": {"unit_price": 5.0, "quantity": 10}}`,
			},
			"Furniture_Maker_Ann": {
				`{"command": "wait"}`,
				`{"reasoning": "need planks", "command": "accept_offer", "params": {"offer_id": 1, "quantity": 4}}`,
			},
		},
		cursor: map[string]int{},
	}

	h := newHarness(t, oracle,
		agent.Persona{ID: "tom", Name: "Old_Tom", Budget: decimal.RequireFromString("30"), Inventory: 10},
		agent.Persona{ID: "ann", Name: "Furniture_Maker_Ann", Budget: decimal.RequireFromString("100")},
	)
	r := NewRunner(h.engine, h.led, h.shells, Options{TotalTicks: 2, Seed: 1}, zap.NewNop())

	require.NoError(t, r.Run(context.Background()))

	trades := h.led.All()
	require.Len(t, trades, 1)
	assert.Equal(t, "ann", trades[0].BuyerID)
	assert.Equal(t, "tom", trades[0].SellerID)
	assert.Equal(t, int64(4), trades[0].Quantity)
	assert.Equal(t, int64(2), trades[0].Tick)

	ann, _ := h.engine.Account("ann")
	assert.True(t, ann.Budget.Equal(decimal.RequireFromString("80")))
	assert.Equal(t, int64(4), ann.Inventory)

	// Both agents accumulated memories each tick.
	for _, sh := range h.shells {
		assert.Equal(t, 2, sh.Memory().Len(), sh.Persona().ID)
	}
}

func TestRunner_RejectionDoesNotStopRun(t *testing.T) {
	// ann tries to accept a nonexistent offer every tick; the run still
	// completes and she remembers the refusals.
	oracle := &replayOracle{
		scripts: map[string][]string{
			"Furniture_Maker_Ann": {
				`{"command": "accept_offer", "params": {"offer_id": 99}}`,
				`{"command": "accept_offer", "params": {"offer_id": 99}}`,
			},
		},
		cursor: map[string]int{},
	}

	h := newHarness(t, oracle,
		agent.Persona{ID: "ann", Name: "Furniture_Maker_Ann", Budget: decimal.RequireFromString("100")},
	)
	r := NewRunner(h.engine, h.led, h.shells, Options{TotalTicks: 2, Seed: 1}, zap.NewNop())

	require.NoError(t, r.Run(context.Background()))
	assert.Zero(t, h.led.Len())

	got := h.shells[0].Memory().Retrieve(memory.Query{TopK: 5, Now: 2})
	require.NotEmpty(t, got)
	assert.Equal(t, memory.EventRejection, got[0].Type)
}

func TestRunner_WritesOfferSnapshot(t *testing.T) {
	oracle := &replayOracle{
		scripts: map[string][]string{
			"Old_Tom": {
				`{"command": "post_offer", "params": {"unit_price": 7.5, "quantity": 3}}`,
			},
		},
		cursor: map[string]int{},
	}

	path := filepath.Join(t.TempDir(), "logs", "active_offers.json")
	h := newHarness(t, oracle,
		agent.Persona{ID: "tom", Name: "Old_Tom", Budget: decimal.RequireFromString("30"), Inventory: 10},
	)
	r := NewRunner(h.engine, h.led, h.shells, Options{TotalTicks: 1, Seed: 1, SnapshotPath: path}, zap.NewNop())

	require.NoError(t, r.Run(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var snap struct {
		Round  int64          `json:"round"`
		Offers []market.Offer `json:"offers"`
	}
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, int64(1), snap.Round)
	require.Len(t, snap.Offers, 1)
	assert.Equal(t, "tom", snap.Offers[0].SellerID)
	assert.Equal(t, int64(3), snap.Offers[0].Quantity)
}

type recordingSink struct {
	rounds []int64
	err    error
}

func (s *recordingSink) SaveOfferSnapshot(_ context.Context, round int64, _ []market.Offer) error {
	s.rounds = append(s.rounds, round)
	return s.err
}

func TestRunner_SinkFaultIsNonFatal(t *testing.T) {
	oracle := &replayOracle{scripts: map[string][]string{}, cursor: map[string]int{}}
	h := newHarness(t, oracle,
		agent.Persona{ID: "tom", Name: "Old_Tom", Budget: decimal.RequireFromString("30"), Inventory: 10},
	)
	r := NewRunner(h.engine, h.led, h.shells, Options{TotalTicks: 3, Seed: 1}, zap.NewNop())

	sink := &recordingSink{err: errors.New("pg down")}
	r.SetSnapshotSink(sink)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []int64{1, 2, 3}, sink.rounds)
}

func TestRunner_ContextCancellation(t *testing.T) {
	oracle := &replayOracle{scripts: map[string][]string{}, cursor: map[string]int{}}
	h := newHarness(t, oracle,
		agent.Persona{ID: "tom", Name: "Old_Tom", Budget: decimal.RequireFromString("30"), Inventory: 10},
	)
	r := NewRunner(h.engine, h.led, h.shells, Options{TotalTicks: 1000, Pacing: time.Millisecond, Seed: 1}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRunner_ShuffledOrderIsDeterministic(t *testing.T) {
	mkShells := func() *harness {
		oracle := &replayOracle{scripts: map[string][]string{}, cursor: map[string]int{}}
		personas := make([]agent.Persona, 0, 6)
		for i := 0; i < 6; i++ {
			id := fmt.Sprintf("agent%d", i)
			personas = append(personas, agent.Persona{ID: id, Name: id, Budget: decimal.Zero})
		}
		return newHarness(t, oracle, personas...)
	}

	order := func(h *harness) []string {
		r := NewRunner(h.engine, h.led, h.shells, Options{ShuffleEachTick: true, Seed: 42}, zap.NewNop())
		ids := make([]string, 0, 6)
		for _, sh := range r.turnOrder() {
			ids = append(ids, sh.Persona().ID)
		}
		return ids
	}

	assert.Equal(t, order(mkShells()), order(mkShells()))
}
