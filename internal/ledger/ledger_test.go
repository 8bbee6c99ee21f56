package ledger

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleTrade(id string, tick int64) Trade {
	return Trade{
		ID:         id,
		Tick:       tick,
		BuyerID:    "mark",
		SellerID:   "tom",
		UnitPrice:  decimal.RequireFromString("5.5"),
		Quantity:   4,
		TotalValue: decimal.RequireFromString("22"),
		Timestamp:  time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
}

func TestLedger_AppendOnlyGrowth(t *testing.T) {
	l := NewInMemory(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, sampleTrade("t1", 1)))
	require.NoError(t, l.Append(ctx, sampleTrade("t2", 1)))
	require.NoError(t, l.Append(ctx, sampleTrade("t3", 2)))

	all := l.All()
	require.Len(t, all, 3)
	assert.Equal(t, "t1", all[0].ID)
	assert.Equal(t, "t3", all[2].ID)

	// Mutating the returned slice must not touch the ledger.
	all[0].ID = "hacked"
	assert.Equal(t, "t1", l.All()[0].ID)
}

func TestLedger_Tail(t *testing.T) {
	l := NewInMemory(zap.NewNop())
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, l.Append(ctx, sampleTrade(string(rune('a'+i-1)), int64(i))))
	}

	tail := l.Tail(2)
	require.Len(t, tail, 2)
	assert.Equal(t, "d", tail[0].ID)
	assert.Equal(t, "e", tail[1].ID)

	assert.Len(t, l.Tail(100), 5)
	assert.Nil(t, l.Tail(0))
}

func TestLedger_CSVDurability(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "transaction_ledger.csv")
	l, err := Open(path, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, l.Append(ctx, sampleTrade("t1", 1)))
	require.NoError(t, l.Append(ctx, sampleTrade("t2", 2)))

	// Rows are synced per append; the file is readable before Close.
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "t1", rows[1][0])
	assert.Equal(t, "5.5", rows[1][4])
	assert.Equal(t, "22", rows[1][6])
	assert.Equal(t, "t2", rows[2][0])

	require.NoError(t, l.Close())
}

func TestLedger_ReopenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	ctx := context.Background()

	l, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, l.Append(ctx, sampleTrade("t1", 1)))
	require.NoError(t, l.Close())

	// Reopening an existing file must not rewrite the header or drop
	// prior rows.
	l2, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, l2.Append(ctx, sampleTrade("t2", 2)))
	require.NoError(t, l2.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "t1", rows[1][0])
	assert.Equal(t, "t2", rows[2][0])
}

type failingMirror struct{}

func (failingMirror) InsertTrade(context.Context, *Trade) error {
	return assert.AnError
}

func TestLedger_MirrorFaultPropagates(t *testing.T) {
	l := NewInMemory(zap.NewNop())
	l.SetMirror(failingMirror{})

	err := l.Append(context.Background(), sampleTrade("t1", 1))
	require.Error(t, err)
	// The in-memory view must not record a trade whose mirror write
	// failed.
	assert.Zero(t, l.Len())
}
