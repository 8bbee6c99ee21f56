package market

import (
	"math"

	"github.com/shopspring/decimal"
)

// QuantityAll requests everything remaining on an offer; the fill is
// capped at the offer's quantity like any other oversized request.
const QuantityAll int64 = math.MaxInt64

// ActionKind tags the variants an agent can play in its turn.
type ActionKind string

const (
	ActionWait   ActionKind = "wait"
	ActionPost   ActionKind = "post_offer"
	ActionAccept ActionKind = "accept_offer"
)

// Action is a fully typed, already-coerced agent decision. The
// defensive decoding of raw oracle output happens at the agent
// boundary; by the time an Action reaches the engine its fields carry
// the declared types, though domain rules are still validated here.
type Action struct {
	Kind      ActionKind      `json:"kind"`
	UnitPrice decimal.Decimal `json:"unit_price,omitempty"` // post_offer
	Quantity  int64           `json:"quantity,omitempty"`   // post_offer, accept_offer
	OfferID   int64           `json:"offer_id,omitempty"`   // accept_offer
	Rationale string          `json:"rationale,omitempty"`
}

// Wait returns the safe default action.
func Wait(rationale string) Action {
	return Action{Kind: ActionWait, Rationale: rationale}
}

// ResultKind describes how a turn ended.
type ResultKind string

const (
	ResultWaited   ResultKind = "waited"
	ResultPosted   ResultKind = "posted"
	ResultTraded   ResultKind = "traded"
	ResultRejected ResultKind = "rejected"
)

// ActionResult reports the settled outcome of one agent turn.
type ActionResult struct {
	Kind    ResultKind `json:"kind"`
	OfferID int64      `json:"offer_id,omitempty"`
	Filled  int64      `json:"filled,omitempty"`
	TradeID string     `json:"trade_id,omitempty"`
	// SellerID is the counterparty on a settled or rejected acceptance.
	SellerID string `json:"seller_id,omitempty"`
	// Reason explains a rejection in agent-readable terms.
	Reason     string          `json:"reason,omitempty"`
	TotalValue decimal.Decimal `json:"total_value"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}
