package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Account is an agent's economic state: spendable budget and on-hand
// inventory. Inventory committed to a posted offer is already deducted,
// so Inventory is always the freely sellable amount.
type Account struct {
	AgentID   string          `json:"agent_id"`
	Budget    decimal.Decimal `json:"budget"`
	Inventory int64           `json:"inventory"`
}

// VerifyInvariant panics if the account holds a negative budget or
// inventory. Validation runs before every mutation, so a trip here is a
// programming error in the engine, not a recoverable condition.
func (a *Account) VerifyInvariant() {
	if a.Budget.IsNegative() {
		panic(fmt.Sprintf("ACCOUNT_INVARIANT_NEGATIVE_BUDGET: %s = %s", a.AgentID, a.Budget))
	}
	if a.Inventory < 0 {
		panic(fmt.Sprintf("ACCOUNT_INVARIANT_NEGATIVE_INVENTORY: %s = %d", a.AgentID, a.Inventory))
	}
}
