package sim

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/timberline/internal/market"
)

// offerSnapshot is the round-boundary dump of the active offer book,
// written for external inspection and reporting. The engine never
// reads it back.
type offerSnapshot struct {
	Round      int64          `json:"round"`
	CapturedAt time.Time      `json:"captured_at"`
	Offers     []market.Offer `json:"offers"`
}

// writeOfferSnapshot replaces the snapshot file with the current book.
// Inspection output is not the audit record, so a write fault is
// logged and the run continues.
func (r *Runner) writeOfferSnapshot(tick int64) {
	snap := offerSnapshot{
		Round:      tick,
		CapturedAt: time.Now().UTC(),
		Offers:     r.engine.Book().ListActive(),
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		r.logger.Warn("marshal offer snapshot", zap.Error(err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.opts.SnapshotPath), 0o755); err != nil {
		r.logger.Warn("create snapshot dir", zap.Error(err))
		return
	}
	if err := os.WriteFile(r.opts.SnapshotPath, data, 0o644); err != nil {
		r.logger.Warn("write offer snapshot",
			zap.String("path", r.opts.SnapshotPath), zap.Error(err))
	}
}
