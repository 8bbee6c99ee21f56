package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/timberline/internal/market"
	"github.com/nidhogg/timberline/internal/memory"
	"github.com/nidhogg/timberline/internal/provider"
)

// Importance levels mirror what each outcome is worth remembering.
const (
	importanceTrade     = 7
	importanceRejection = 4
	importancePost      = 3
	importanceWait      = 1
)

// Shell wraps one persona: it assembles the market snapshot and memory
// digest, obtains an action from the reasoning oracle, and reports the
// settled outcome back into the agent's private memory.
type Shell struct {
	persona Persona
	engine  *market.Engine
	router  *provider.Router
	memory  *memory.Store
	timeout time.Duration
	topK    int
	logger  *zap.Logger
}

// NewShell creates the shell for one agent. timeout bounds each oracle
// call; topK sizes the memory digest.
func NewShell(p Persona, engine *market.Engine, router *provider.Router, mem *memory.Store,
	timeout time.Duration, topK int, logger *zap.Logger) *Shell {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if topK <= 0 {
		topK = 3
	}
	return &Shell{
		persona: p,
		engine:  engine,
		router:  router,
		memory:  mem,
		timeout: timeout,
		topK:    topK,
		logger:  logger,
	}
}

// Persona returns the agent's personality record.
func (s *Shell) Persona() Persona { return s.persona }

// Memory returns the agent's private memory store.
func (s *Shell) Memory() *memory.Store { return s.memory }

// Decide consults the reasoning oracle for this round's action. The
// oracle call is bounded by the shell's timeout; any failure — network,
// rate limit, malformed output — degrades to wait so one flaky agent
// can never stall the simulation.
func (s *Shell) Decide(ctx context.Context, snap market.Snapshot) market.Action {
	acct, ok := s.engine.Account(s.persona.ID)
	if !ok {
		s.logger.Error("agent has no account", zap.String("agent", s.persona.ID))
		return market.Wait("no account registered")
	}

	digest := s.memory.Retrieve(memory.Query{TopK: s.topK, Now: snap.Round})
	prompt := s.buildPrompt(snap, acct, digest)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.router.Route(callCtx, s.persona.ID, &provider.ChatRequest{
		Model: s.persona.Model,
		Messages: []provider.Message{
			{Role: "system", Content: s.systemPrompt()},
			{Role: "user", Content: prompt},
		},
		JSONMode: true,
	})
	if err != nil {
		s.logger.Warn("oracle call failed, waiting this round",
			zap.String("agent", s.persona.ID), zap.Error(err))
		return market.Wait("oracle unavailable")
	}

	action := ParseDecision(resp.Content)
	s.logger.Debug("agent decided",
		zap.String("agent", s.persona.ID),
		zap.String("kind", string(action.Kind)),
		zap.String("rationale", action.Rationale))
	return action
}

// Learn records the settled outcome of this turn into memory so the
// next decision can be conditioned on it. Rejections are remembered
// too; being refused is worth learning from.
func (s *Shell) Learn(snap market.Snapshot, action market.Action, result market.ActionResult) {
	switch result.Kind {
	case market.ResultTraded:
		s.memory.Record(
			fmt.Sprintf("Bought %d units from %s at %s each (total %s).",
				result.Filled, result.SellerID, result.UnitPrice, result.TotalValue),
			memory.EventTrade, importanceTrade, result.SellerID, snap.Round)
	case market.ResultPosted:
		s.memory.Record(
			fmt.Sprintf("Posted offer %d: %d units at %s each.",
				result.OfferID, result.Filled, result.UnitPrice),
			memory.EventOther, importancePost, "", snap.Round)
	case market.ResultRejected:
		s.memory.Record(
			fmt.Sprintf("Tried to %s but was refused: %s.", action.Kind, result.Reason),
			memory.EventRejection, importanceRejection, result.SellerID, snap.Round)
	default:
		s.memory.Record("Observed the market and waited.",
			memory.EventObservation, importanceWait, "", snap.Round)
	}
}

func (s *Shell) systemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a trader in a single-commodity market. %s", s.persona.Name, s.persona.Role)
	if s.persona.Strategy != "" {
		fmt.Fprintf(&b, " Your strategy: %s.", s.persona.Strategy)
	}
	return b.String()
}

func (s *Shell) buildPrompt(snap market.Snapshot, acct market.Account, digest []memory.Record) string {
	offers, _ := json.Marshal(snap.Offers)

	var b strings.Builder
	fmt.Fprintf(&b, "Round %d.\n", snap.Round)
	fmt.Fprintf(&b, "Your budget: %s. Your inventory: %d units.\n", acct.Budget, acct.Inventory)
	if snap.AvgSamples > 0 {
		fmt.Fprintf(&b, "Recent average price (last %d trades): %s.\n", snap.AvgSamples, snap.RecentAvgPrice)
	}
	fmt.Fprintf(&b, "Active offers: %s\n", offers)

	if len(digest) > 0 {
		b.WriteString("Relevant memories:\n")
		for _, r := range digest {
			fmt.Fprintf(&b, "- [round %d] %s\n", r.CreatedAt, r.Content)
		}
	}

	b.WriteString(`
Choose exactly one action. Respond ONLY with a JSON object:
{
  "reasoning": "why",
  "command": "post_offer" | "accept_offer" | "wait",
  "params": {
    "offer_id": <int, accept_offer only>,
    "quantity": <whole number of units>,
    "unit_price": <decimal, post_offer only>
  }
}
Quantities must be whole numbers. Do all arithmetic before writing the JSON; never put expressions in params.`)
	return b.String()
}
