package market

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Offer is a standing, partially fillable sell intent on the book.
// Quantity is always positive; an offer that reaches zero is removed,
// never kept around empty.
type Offer struct {
	ID        int64           `json:"offer_id"`
	SellerID  string          `json:"seller_id"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int64           `json:"quantity"`
	Tick      int64           `json:"tick"`
	Seq       int64           `json:"seq"` // sub-order within the tick
}

// Book tracks all currently active offers and answers "what can be
// bought now". Offers keep insertion order; equal prices tie-break
// first-posted-first-shown by construction.
type Book struct {
	offers []*Offer
	byID   map[int64]*Offer
	nextID int64
	seq    int64
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewBook creates an empty offer book.
func NewBook(logger *zap.Logger) *Book {
	return &Book{
		byID:   make(map[int64]*Offer),
		nextID: 1,
		logger: logger,
	}
}

// Post lists a new sell offer and returns its ID.
func (b *Book) Post(sellerID string, unitPrice decimal.Decimal, quantity, tick int64) (int64, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("%w: quantity %d must be positive", ErrInvalidOffer, quantity)
	}
	if unitPrice.IsNegative() {
		return 0, fmt.Errorf("%w: unit price %s is negative", ErrInvalidOffer, unitPrice)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	o := &Offer{
		ID:        b.nextID,
		SellerID:  sellerID,
		UnitPrice: unitPrice,
		Quantity:  quantity,
		Tick:      tick,
		Seq:       b.seq,
	}
	b.nextID++
	b.seq++
	b.offers = append(b.offers, o)
	b.byID[o.ID] = o

	b.logger.Debug("offer posted",
		zap.Int64("offer", o.ID),
		zap.String("seller", sellerID),
		zap.String("price", unitPrice.String()),
		zap.Int64("quantity", quantity))
	return o.ID, nil
}

// ListActive returns a copy of all active offers in insertion order.
// Read-only: mutating the result does not touch the book.
func (b *Book) ListActive() []Offer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Offer, 0, len(b.offers))
	for _, o := range b.offers {
		out = append(out, *o)
	}
	return out
}

// Get returns a copy of a single offer.
func (b *Book) Get(offerID int64) (Offer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.byID[offerID]
	if !ok {
		return Offer{}, fmt.Errorf("offer %d: %w", offerID, ErrOfferNotFound)
	}
	return *o, nil
}

// Accept fills up to requested units from the offer, capped at what
// remains. The offer is removed once its quantity reaches zero.
// A missing ID means the offer was already consumed or withdrawn.
func (b *Book) Accept(offerID, requested int64) (unitPrice decimal.Decimal, filled int64, err error) {
	if requested <= 0 {
		return decimal.Zero, 0, fmt.Errorf("%w: requested quantity %d must be positive", ErrInvalidOffer, requested)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.byID[offerID]
	if !ok {
		return decimal.Zero, 0, fmt.Errorf("offer %d: %w", offerID, ErrOfferNotFound)
	}

	filled = requested
	if filled > o.Quantity {
		filled = o.Quantity
	}
	o.Quantity -= filled
	if o.Quantity == 0 {
		b.remove(offerID)
	}
	return o.UnitPrice, filled, nil
}

// Withdraw removes an offer; only its poster may do so. Returns the
// withdrawn quantity so the seller's reserved inventory can be refunded.
func (b *Book) Withdraw(offerID int64, sellerID string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.byID[offerID]
	if !ok {
		return 0, fmt.Errorf("offer %d: %w", offerID, ErrOfferNotFound)
	}
	if o.SellerID != sellerID {
		return 0, fmt.Errorf("offer %d belongs to %s: %w", offerID, o.SellerID, ErrNotOwner)
	}
	qty := o.Quantity
	b.remove(offerID)
	b.logger.Debug("offer withdrawn", zap.Int64("offer", offerID), zap.String("seller", sellerID))
	return qty, nil
}

// Len returns the number of active offers.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.offers)
}

// remove drops an offer from both the ordered slice and the index.
// Caller holds the write lock.
func (b *Book) remove(offerID int64) {
	delete(b.byID, offerID)
	for i, o := range b.offers {
		if o.ID == offerID {
			b.offers = append(b.offers[:i], b.offers[i+1:]...)
			return
		}
	}
}
