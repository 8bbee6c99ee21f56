package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nidhogg/timberline/internal/ledger"
)

// Snapshot is an immutable view of the market handed to agents before
// they decide. Building it has no side effects; two snapshots taken
// without an intervening Execute are equal.
type Snapshot struct {
	Round          int64           `json:"round"`
	Offers         []Offer         `json:"offers"`
	RecentAvgPrice decimal.Decimal `json:"recent_avg_price"`
	AvgSamples     int             `json:"avg_samples"`
}

// Engine validates and settles agent actions against the offer book,
// mutating accounts and appending settled trades to the ledger. It is
// the single writer for all three; agents act strictly one at a time.
type Engine struct {
	book      *Book
	ledger    *ledger.Ledger
	accounts  map[string]*Account
	round     int64
	avgWindow int
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewEngine creates a market engine. avgWindow is the number of
// trailing ledger entries used for the snapshot's average price; zero
// disables the average.
func NewEngine(book *Book, led *ledger.Ledger, avgWindow int, logger *zap.Logger) *Engine {
	return &Engine{
		book:      book,
		ledger:    led,
		accounts:  make(map[string]*Account),
		avgWindow: avgWindow,
		logger:    logger,
	}
}

// RegisterAgent creates the economic state for an agent.
func (e *Engine) RegisterAgent(agentID string, budget decimal.Decimal, inventory int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accounts[agentID] = &Account{AgentID: agentID, Budget: budget, Inventory: inventory}
	e.logger.Info("registered agent",
		zap.String("agent", agentID),
		zap.String("budget", budget.String()),
		zap.Int64("inventory", inventory))
}

// Account returns a copy of an agent's economic state.
func (e *Engine) Account(agentID string) (Account, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.accounts[agentID]
	if !ok {
		return Account{}, false
	}
	return *a, true
}

// Accounts returns copies of all registered accounts.
func (e *Engine) Accounts() []Account {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Account, 0, len(e.accounts))
	for _, a := range e.accounts {
		out = append(out, *a)
	}
	return out
}

// Book exposes the offer book for read-side collaborators.
func (e *Engine) Book() *Book { return e.book }

// BeginRound advances the engine to the given tick.
func (e *Engine) BeginRound(tick int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.round = tick
}

// Round returns the current tick number.
func (e *Engine) Round() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.round
}

// Snapshot builds the immutable market view for the current round.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	round := e.round
	e.mu.RUnlock()

	snap := Snapshot{
		Round:  round,
		Offers: e.book.ListActive(),
	}
	if e.avgWindow > 0 {
		recent := e.ledger.Tail(e.avgWindow)
		if len(recent) > 0 {
			sum := decimal.Zero
			for _, t := range recent {
				sum = sum.Add(t.UnitPrice)
			}
			snap.RecentAvgPrice = sum.Div(decimal.NewFromInt(int64(len(recent))))
			snap.AvgSamples = len(recent)
		}
	}
	return snap
}

// Execute validates and settles one agent action. Rejections return a
// ResultRejected outcome together with the classifying error; callers
// use IsRejection to tell a refused action from a durability fault.
func (e *Engine) Execute(ctx context.Context, agentID string, action Action) (ActionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct, ok := e.accounts[agentID]
	if !ok {
		return ActionResult{}, fmt.Errorf("agent %s: %w", agentID, ErrAgentNotFound)
	}

	switch action.Kind {
	case ActionPost:
		return e.settlePost(agentID, acct, action)
	case ActionAccept:
		return e.settleAccept(ctx, agentID, acct, action)
	default:
		e.logger.Debug("agent waits", zap.String("agent", agentID))
		return ActionResult{Kind: ResultWaited}, nil
	}
}

// settlePost lists a sell offer, reserving the seller's inventory at
// post time so the same stock cannot back two offers.
func (e *Engine) settlePost(agentID string, acct *Account, action Action) (ActionResult, error) {
	if action.Quantity > 0 && action.Quantity > acct.Inventory {
		err := fmt.Errorf("post %d units with %d on hand: %w",
			action.Quantity, acct.Inventory, ErrInsufficientInventory)
		return e.reject(agentID, action, err), err
	}

	offerID, err := e.book.Post(agentID, action.UnitPrice, action.Quantity, e.round)
	if err != nil {
		return e.reject(agentID, action, err), err
	}

	acct.Inventory -= action.Quantity
	acct.VerifyInvariant()

	e.logger.Info("offer posted",
		zap.String("agent", agentID),
		zap.Int64("offer", offerID),
		zap.String("price", action.UnitPrice.String()),
		zap.Int64("quantity", action.Quantity))
	return ActionResult{
		Kind:      ResultPosted,
		OfferID:   offerID,
		Filled:    action.Quantity,
		UnitPrice: action.UnitPrice,
	}, nil
}

// settleAccept fills an offer, moves budget and inventory between the
// parties, and appends the trade to the ledger. Partial fills cap the
// requested quantity at what remains on the offer.
func (e *Engine) settleAccept(ctx context.Context, agentID string, buyer *Account, action Action) (ActionResult, error) {
	offer, err := e.book.Get(action.OfferID)
	if err != nil {
		return e.reject(agentID, action, err), err
	}
	if offer.SellerID == agentID {
		err := fmt.Errorf("offer %d: %w", offer.ID, ErrSelfTrade)
		return e.reject(agentID, action, err), err
	}

	seller, ok := e.accounts[offer.SellerID]
	if !ok {
		return ActionResult{}, fmt.Errorf("seller %s: %w", offer.SellerID, ErrAgentNotFound)
	}

	filled := action.Quantity
	if filled > offer.Quantity {
		filled = offer.Quantity
	}
	total := offer.UnitPrice.Mul(decimal.NewFromInt(filled))
	if buyer.Budget.LessThan(total) {
		err := fmt.Errorf("need %s, have %s: %w", total, buyer.Budget, ErrInsufficientBudget)
		res := e.reject(agentID, action, err)
		res.SellerID = offer.SellerID
		return res, err
	}

	unitPrice, filled, err := e.book.Accept(action.OfferID, action.Quantity)
	if err != nil {
		return e.reject(agentID, action, err), err
	}
	total = unitPrice.Mul(decimal.NewFromInt(filled))

	t := ledger.Trade{
		ID:         uuid.New().String(),
		Tick:       e.round,
		BuyerID:    agentID,
		SellerID:   offer.SellerID,
		UnitPrice:  unitPrice,
		Quantity:   filled,
		TotalValue: total,
		Timestamp:  time.Now(),
	}
	if err := e.ledger.Append(ctx, t); err != nil {
		// Durability fault. The run must not continue with a settled
		// trade missing from the audit record.
		return ActionResult{}, fmt.Errorf("record trade: %w", err)
	}

	buyer.Budget = buyer.Budget.Sub(total)
	buyer.Inventory += filled
	seller.Budget = seller.Budget.Add(total)
	buyer.VerifyInvariant()
	seller.VerifyInvariant()

	e.logger.Info("trade settled",
		zap.String("trade", t.ID),
		zap.String("buyer", agentID),
		zap.String("seller", offer.SellerID),
		zap.String("price", unitPrice.String()),
		zap.Int64("filled", filled),
		zap.String("total", total.String()))
	return ActionResult{
		Kind:       ResultTraded,
		OfferID:    action.OfferID,
		Filled:     filled,
		TradeID:    t.ID,
		SellerID:   offer.SellerID,
		UnitPrice:  unitPrice,
		TotalValue: total,
	}, nil
}

// Withdraw removes an agent's own offer and refunds the reserved
// inventory.
func (e *Engine) Withdraw(agentID string, offerID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct, ok := e.accounts[agentID]
	if !ok {
		return fmt.Errorf("agent %s: %w", agentID, ErrAgentNotFound)
	}
	qty, err := e.book.Withdraw(offerID, agentID)
	if err != nil {
		return err
	}
	acct.Inventory += qty
	acct.VerifyInvariant()
	return nil
}

func (e *Engine) reject(agentID string, action Action, err error) ActionResult {
	e.logger.Warn("action rejected",
		zap.String("agent", agentID),
		zap.String("kind", string(action.Kind)),
		zap.Error(err))
	return ActionResult{
		Kind:    ResultRejected,
		OfferID: action.OfferID,
		Reason:  err.Error(),
	}
}
