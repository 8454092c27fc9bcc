package metrics

import "github.com/prometheus/client_golang/prometheus"

// BattleMetrics counts vote, settlement and standings activity.
type BattleMetrics struct {
	votes           *prometheus.CounterVec
	settlements     *prometheus.CounterVec
	cache           *prometheus.CounterVec
	winnerMismatch  prometheus.Counter
	outboxPublished *prometheus.CounterVec
}

// NewBattleMetrics registers the battle metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewBattleMetrics(reg prometheus.Registerer) *BattleMetrics {
	if reg == nil {
		return &BattleMetrics{}
	}
	votes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beatdrop_votes_total",
		Help: "Vote requests by result.",
	}, []string{"result"})
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beatdrop_battle_settlements_total",
		Help: "Battles moved to CLOSED, by outcome.",
	}, []string{"outcome"})
	cache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beatdrop_leaderboard_cache_total",
		Help: "Leaderboard cache lookups by result.",
	}, []string{"result"})
	mismatch := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beatdrop_leaderboard_winner_mismatch_total",
		Help: "Closed battles whose stored winner disagrees with their tallies.",
	})
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beatdrop_outbox_events_total",
		Help: "Outbox relay results.",
	}, []string{"result"})
	reg.MustRegister(votes, settlements, cache, mismatch, published)
	return &BattleMetrics{
		votes:           votes,
		settlements:     settlements,
		cache:           cache,
		winnerMismatch:  mismatch,
		outboxPublished: published,
	}
}

// IncVote records a vote attempt; result is cast, changed, unchanged or an error code.
func (m *BattleMetrics) IncVote(result string) {
	if m == nil || m.votes == nil {
		return
	}
	m.votes.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncSettlement records a terminal transition.
func (m *BattleMetrics) IncSettlement(outcome string) {
	if m == nil || m.settlements == nil {
		return
	}
	m.settlements.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncCacheHit records a leaderboard cache hit.
func (m *BattleMetrics) IncCacheHit() {
	if m == nil || m.cache == nil {
		return
	}
	m.cache.WithLabelValues("hit").Inc()
}

// IncCacheMiss records a leaderboard cache miss.
func (m *BattleMetrics) IncCacheMiss() {
	if m == nil || m.cache == nil {
		return
	}
	m.cache.WithLabelValues("miss").Inc()
}

// IncWinnerMismatch records a winner_id that disagrees with the tallies.
func (m *BattleMetrics) IncWinnerMismatch() {
	if m == nil || m.winnerMismatch == nil {
		return
	}
	m.winnerMismatch.Inc()
}

// IncOutbox records an outbox relay result: published, failed or dead_lettered.
func (m *BattleMetrics) IncOutbox(result string) {
	if m == nil || m.outboxPublished == nil {
		return
	}
	m.outboxPublished.WithLabelValues(normalizeLabel(result)).Inc()
}
