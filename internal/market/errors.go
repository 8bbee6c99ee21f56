package market

import "errors"

var (
	// ErrOfferNotFound means the referenced offer is gone, usually
	// because another agent consumed it earlier in the same tick.
	// Contention is a normal outcome, not an anomaly.
	ErrOfferNotFound = errors.New("offer not found")

	// ErrInvalidOffer is returned for a non-positive quantity or a
	// negative unit price.
	ErrInvalidOffer = errors.New("invalid offer")

	// ErrSelfTrade is returned when an agent tries to accept its own offer.
	ErrSelfTrade = errors.New("self trade")

	// ErrNotOwner is returned when withdrawing an offer posted by
	// someone else.
	ErrNotOwner = errors.New("not offer owner")

	// ErrInsufficientBudget rejects an acceptance the buyer cannot pay for.
	ErrInsufficientBudget = errors.New("insufficient budget")

	// ErrInsufficientInventory rejects posting more units than the
	// seller holds.
	ErrInsufficientInventory = errors.New("insufficient inventory")

	// ErrAgentNotFound means the acting agent was never registered.
	ErrAgentNotFound = errors.New("agent not found")
)

// IsRejection reports whether err is a domain validation or contention
// failure: recoverable, the action becomes a no-op and the agent is
// told why. Anything else is a programming or durability error.
func IsRejection(err error) bool {
	return errors.Is(err, ErrOfferNotFound) ||
		errors.Is(err, ErrInvalidOffer) ||
		errors.Is(err, ErrSelfTrade) ||
		errors.Is(err, ErrNotOwner) ||
		errors.Is(err, ErrInsufficientBudget) ||
		errors.Is(err, ErrInsufficientInventory)
}
