// Package monitor reports sync progress and flags reorder-buffer
// saturation (spec §4.9, component I), in the shape of the thin
// logger-backed progress reporters other chain indexers expose (e.g.
// other_examples/776957da_hc172808-gyd-chain__gydschain-indexer-service-indexer.go.go's
// Indexer state/config, other_examples/c0efef36_goran-ethernal-ChainIndexor__internal-reorg-reorg_detector.go.go's
// ReorgDetector) rather than printing directly.
package monitor

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// Monitor accumulates periodic progress samples and prints a summary
// every reportEvery calls, and rate-limits gap warnings so a sustained
// saturation doesn't flood the log.
type Monitor struct {
	mu sync.Mutex

	reportEvery  int
	gapCooldown  time.Duration
	events       int
	lastGapWarn  time.Time
	startedAt    time.Time
	firstSampled bool

	log log.Logger
}

// Option customizes a Monitor at construction time.
type Option func(*Monitor)

// WithReportEvery overrides how many log() calls elapse between printed
// summaries (default 100).
func WithReportEvery(n int) Option {
	return func(m *Monitor) { m.reportEvery = n }
}

// WithGapWarnCooldown overrides the minimum interval between printed gap
// warnings (default 10s).
func WithGapWarnCooldown(d time.Duration) Option {
	return func(m *Monitor) { m.gapCooldown = d }
}

// New constructs a Monitor.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		reportEvery: 100,
		gapCooldown: 10 * time.Second,
		log:         log.New("component", "sync-monitor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Sample is one periodic progress observation, taken after a batch lands
// on the persist stage (spec §4.9).
type Sample struct {
	Height      uint64
	Timestamp   time.Time
	Hash        string
	BatchLen    int
	TotalWeight uint64
	PendingLen  int
}

// Log records a progress sample, printing a human-readable summary every
// reportEvery calls.
func (m *Monitor) Log(s Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.firstSampled {
		m.startedAt = time.Now()
		m.firstSampled = true
	}
	m.events++
	if m.events%m.reportEvery != 0 {
		return
	}

	elapsed := time.Since(m.startedAt)
	rate := float64(0)
	if elapsed > 0 {
		rate = float64(m.events) / elapsed.Seconds()
	}
	m.log.Info("sync progress",
		"height", s.Height,
		"hash", s.Hash,
		"batch_len", s.BatchLen,
		"total_weight", s.TotalWeight,
		"pending_len", s.PendingLen,
		"events_per_sec", rate,
	)
}

// WarnGap reports reorder-buffer saturation (need, seen from gap_span(),
// and the buffer's pending length), rate-limited to at most one message
// per gapCooldown so a long-lived gap logs once, not per block.
func (m *Monitor) WarnGap(need, seen uint64, pendingLen int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if !m.lastGapWarn.IsZero() && now.Sub(m.lastGapWarn) < m.gapCooldown {
		return
	}
	m.lastGapWarn = now
	m.log.Warn("reorder buffer saturated",
		"need", need,
		"seen", seen,
		"pending_len", pendingLen,
	)
}
