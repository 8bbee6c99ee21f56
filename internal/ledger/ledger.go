package ledger

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Trade is an immutable settlement record. Once appended it is never
// mutated or removed; the ledger is the audit-of-record for the run.
type Trade struct {
	ID         string          `json:"trade_id"`
	Tick       int64           `json:"tick"`
	BuyerID    string          `json:"buyer_id"`
	SellerID   string          `json:"seller_id"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int64           `json:"quantity"`
	TotalValue decimal.Decimal `json:"total_value"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Mirror receives a copy of every appended trade, e.g. a PostgreSQL
// store used for analytics. Mirror faults are treated as durability
// failures and propagate to the caller.
type Mirror interface {
	InsertTrade(ctx context.Context, t *Trade) error
}

var csvHeader = []string{
	"trade_id", "tick", "buyer_id", "seller_id",
	"unit_price", "quantity", "total_value", "timestamp",
}

// Ledger is the append-only trade log. Every append is flushed and
// synced to the backing CSV file before the call returns, so a crash
// cannot lose a settled trade.
type Ledger struct {
	trades []Trade
	file   *os.File
	w      *csv.Writer
	mirror Mirror
	mu     sync.RWMutex
	logger *zap.Logger
}

// Open creates a ledger backed by a CSV file at path, creating parent
// directories as needed. A header row is written when the file is new.
func Open(path string, logger *zap.Logger) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	info, statErr := os.Stat(path)
	fresh := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}

	l := &Ledger{file: f, w: csv.NewWriter(f), logger: logger}
	if fresh {
		if err := l.writeRow(csvHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("write ledger header: %w", err)
		}
	}
	logger.Info("ledger opened", zap.String("path", path), zap.Bool("fresh", fresh))
	return l, nil
}

// NewInMemory creates a ledger with no durable backing, for tests and
// dry runs.
func NewInMemory(logger *zap.Logger) *Ledger {
	return &Ledger{logger: logger}
}

// SetMirror attaches an optional persistence mirror.
func (l *Ledger) SetMirror(m Mirror) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mirror = m
}

// Append records a settled trade. The CSV row is flushed and synced
// before returning; any fault is returned to the caller and must halt
// the run (a settled trade without an audit record is unacceptable).
func (l *Ledger) Append(ctx context.Context, t Trade) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.w != nil {
		row := []string{
			t.ID,
			strconv.FormatInt(t.Tick, 10),
			t.BuyerID,
			t.SellerID,
			t.UnitPrice.String(),
			strconv.FormatInt(t.Quantity, 10),
			t.TotalValue.String(),
			t.Timestamp.UTC().Format(time.RFC3339Nano),
		}
		if err := l.writeRow(row); err != nil {
			return fmt.Errorf("append trade %s: %w", t.ID, err)
		}
	}

	if l.mirror != nil {
		if err := l.mirror.InsertTrade(ctx, &t); err != nil {
			return fmt.Errorf("mirror trade %s: %w", t.ID, err)
		}
	}

	l.trades = append(l.trades, t)
	return nil
}

func (l *Ledger) writeRow(row []string) error {
	if err := l.w.Write(row); err != nil {
		return err
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return err
	}
	return l.file.Sync()
}

// All returns every trade in chronological order. The slice is a copy;
// callers cannot reach the ledger's internal state through it.
func (l *Ledger) All() []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// Len returns the number of recorded trades.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.trades)
}

// Tail returns up to n most recent trades in chronological order.
func (l *Ledger) Tail(n int) []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || len(l.trades) == 0 {
		return nil
	}
	if n > len(l.trades) {
		n = len(l.trades)
	}
	out := make([]Trade, n)
	copy(out, l.trades[len(l.trades)-n:])
	return out
}

// Close flushes and closes the backing file, if any.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		l.file.Close()
		return fmt.Errorf("flush ledger: %w", err)
	}
	return l.file.Close()
}
