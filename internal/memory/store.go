package memory

import (
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// EventType classifies what a memory is about.
type EventType string

const (
	EventTrade       EventType = "trade"
	EventObservation EventType = "observation"
	EventRejection   EventType = "rejection"
	EventOther       EventType = "other"
)

// Record is one scored, immutable entry in an agent's private history.
type Record struct {
	Content    string    `json:"content"`
	Type       EventType `json:"event_type"`
	Importance int       `json:"importance"` // 1..10
	PartnerID  string    `json:"partner_id,omitempty"`
	CreatedAt  int64     `json:"created_at"` // tick
}

// Query selects and ranks records for retrieval.
type Query struct {
	PartnerID string // optional counterparty for relevance matching
	TopK      int
	Now       int64 // current tick
}

// DefaultDecay is the per-tick exponential decay applied to recency.
const DefaultDecay = 0.99

// Store retains and ranks one agent's history. Each agent owns exactly
// one store; records are never shared across agents. Scores are
// recomputed per query rather than cached, so advancing Now naturally
// re-ranks history without any background maintenance.
type Store struct {
	agentID  string
	records  []Record
	capacity int // 0 = unbounded
	decay    float64
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewStore creates a memory store for one agent. capacity bounds the
// record count; zero disables pruning.
func NewStore(agentID string, capacity int, logger *zap.Logger) *Store {
	return &Store{
		agentID:  agentID,
		capacity: capacity,
		decay:    DefaultDecay,
		logger:   logger,
	}
}

// SetDecay overrides the recency decay factor. Values outside (0, 1]
// are ignored.
func (s *Store) SetDecay(decay float64) {
	if decay <= 0 || decay > 1 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decay = decay
}

// Record appends a new memory. Importance is clamped to [1, 10].
// No deduplication: remembering the same thing twice is allowed.
func (s *Store) Record(content string, et EventType, importance int, partnerID string, at int64) {
	if importance < 1 {
		importance = 1
	}
	if importance > 10 {
		importance = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, Record{
		Content:    content,
		Type:       et,
		Importance: importance,
		PartnerID:  partnerID,
		CreatedAt:  at,
	})
	s.logger.Debug("memory recorded",
		zap.String("agent", s.agentID),
		zap.String("type", string(et)),
		zap.Int("importance", importance))

	if s.capacity > 0 && len(s.records) > s.capacity {
		s.prune(at)
	}
}

// Retrieve returns up to TopK records ranked by final score, highest
// first; equal scores tie-break toward the most recent. Retrieval is
// read-only and never mutates decay state.
func (s *Store) Retrieve(q Query) []Record {
	if q.TopK <= 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		rec   Record
		score float64
	}
	candidates := make([]scored, len(s.records))
	for i, r := range s.records {
		candidates[i] = scored{rec: r, score: s.score(r, q.Now, q.PartnerID)}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].rec.CreatedAt > candidates[j].rec.CreatedAt
	})

	n := q.TopK
	if n > len(candidates) {
		n = len(candidates)
	}
	out := make([]Record, n)
	for i := 0; i < n; i++ {
		out[i] = candidates[i].rec
	}
	return out
}

// Len returns the number of retained records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// score sums the three independent components: exponential recency
// decay, normalized importance, and counterparty relevance.
func (s *Store) score(r Record, now int64, partnerID string) float64 {
	recency := math.Pow(s.decay, float64(now-r.CreatedAt))
	importance := float64(r.Importance) / 10
	relevance := 0.0
	if partnerID != "" && r.PartnerID == partnerID {
		relevance = 1.0
	}
	return recency + importance + relevance
}

// prune evicts the lowest-scoring records until the store fits its
// capacity, scoring at eviction time with no partner relevance.
// Caller holds the write lock.
func (s *Store) prune(now int64) {
	for len(s.records) > s.capacity {
		lowest := 0
		lowestScore := s.score(s.records[0], now, "")
		for i := 1; i < len(s.records); i++ {
			if sc := s.score(s.records[i], now, ""); sc < lowestScore {
				lowest = i
				lowestScore = sc
			}
		}
		s.records = append(s.records[:lowest], s.records[lowest+1:]...)
	}
	s.logger.Debug("memory pruned",
		zap.String("agent", s.agentID),
		zap.Int("retained", len(s.records)))
}
