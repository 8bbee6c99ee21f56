package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/timberline/internal/ledger"
	"github.com/nidhogg/timberline/internal/market"
)

// InsertTrade mirrors one settled trade. Implements ledger.Mirror.
func (s *Store) InsertTrade(ctx context.Context, t *ledger.Trade) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO trades (trade_id, tick, buyer_id, seller_id, unit_price, quantity, total_value, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.Tick, t.BuyerID, t.SellerID,
		t.UnitPrice.String(), t.Quantity, t.TotalValue.String(), t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// ListTrades returns mirrored trades in chronological order.
func (s *Store) ListTrades(ctx context.Context) ([]*ledger.Trade, error) {
	rows, err := s.db.Query(ctx,
		`SELECT trade_id, tick, buyer_id, seller_id, unit_price, quantity, total_value, executed_at
		 FROM trades ORDER BY executed_at`)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []*ledger.Trade
	for rows.Next() {
		var t ledger.Trade
		var unitPrice, totalValue string
		if err := rows.Scan(&t.ID, &t.Tick, &t.BuyerID, &t.SellerID,
			&unitPrice, &t.Quantity, &totalValue, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		if t.UnitPrice, err = parseDecimal(unitPrice); err != nil {
			return nil, err
		}
		if t.TotalValue, err = parseDecimal(totalValue); err != nil {
			return nil, err
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// SaveOfferSnapshot stores the round-boundary offer book as JSON.
func (s *Store) SaveOfferSnapshot(ctx context.Context, round int64, offers []market.Offer) error {
	payload, err := json.Marshal(offers)
	if err != nil {
		return fmt.Errorf("marshal offers: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO offer_snapshots (round, offers) VALUES ($1, $2)
		 ON CONFLICT (round) DO UPDATE SET offers = EXCLUDED.offers, captured_at = NOW()`,
		round, payload,
	)
	if err != nil {
		return fmt.Errorf("insert offer snapshot: %w", err)
	}
	return nil
}
