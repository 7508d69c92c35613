// Package hunter implements MarketHunter: the agent that continuously
// samples the eight specialized data sources, scores them with a
// bandit, synthesizes Signals from what comes back, and broadcasts the
// ones worth acting on. Grounded on internal/workers/pool.go's
// bounded-fan-out pattern (teacher) for the concurrent per-cycle source
// queries, and internal/autonomous/agent.go's run-loop shape
// (select on ticker/stop) for Start.
package hunter

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/btcintel/internal/agent"
	"github.com/atlas-desktop/btcintel/internal/clock"
	"github.com/atlas-desktop/btcintel/internal/marketdata"
	"github.com/atlas-desktop/btcintel/internal/messagebus"
	"github.com/atlas-desktop/btcintel/internal/sentinelerr"
	"github.com/atlas-desktop/btcintel/internal/store"
	"github.com/atlas-desktop/btcintel/internal/workers"
	"github.com/atlas-desktop/btcintel/pkg/types"
)

// DefaultInterval is how often MarketHunter runs a full cycle absent an
// explicit override.
const DefaultInterval = 10 * time.Minute

// RetrySleep is how long MarketHunter waits after a cycle that errored
// before trying again, per spec.md §9's "60s retry-sleep on exception".
const RetrySleep = 60 * time.Second

// MaxSourcesPerCycle bounds how many of the eight sources a single
// cycle queries.
const MaxSourcesPerCycle = 5

// Literal signal-synthesis thresholds, named exactly as spec.md §4.3
// states them.
const (
	whaleTxThresholdBTC        = 100.0
	narrativeBullishThemeCount = 3
	institutionalHoldingsUsd   = 50_000_000_000.0
	extremeFundingRatePct      = 5.0
	fearGreedExtremeGreed      = 75
	fearGreedExtremeFear       = 25
)

// sourceWeights implements the bandit scoring formula:
//
//	score = 0.3*successRate + 0.3*avgSignalQuality + 0.2*recencyScore + 0.4*contextRelevance + explorationBonus
const (
	weightSuccessRate      = 0.3
	weightAvgSignalQuality = 0.3
	weightRecency          = 0.2
	weightContextRelevance = 0.4
)

// explorationBonus is the fixed score bonus a source receives when the
// epsilon-greedy draw fires, independent of explorationRate itself:
// explorationRate only sets the probability of the draw, not its size.
const explorationBonus = 0.2

// MarketHunter is a specialized agent embedding agent.BaseAgent, adding
// its own continuous sampling loop.
type MarketHunter struct {
	*agent.BaseAgent

	logger *zap.Logger
	clk    clock.Clock
	md     marketdata.MarketData
	bus    *messagebus.Bus
	st     store.Store

	interval        time.Duration
	maxSources      int
	explorationRate float64
	minConfidence   float64
	rng             *rand.Rand

	mu      sync.Mutex
	metrics map[types.SourceKind]types.SourceMetric

	pool *workers.Pool
}

// Config configures a MarketHunter.
type Config struct {
	Interval        time.Duration
	MaxSources      int
	ExplorationRate float64
	MinConfidence   float64
	Seed            int64
}

// New constructs a MarketHunter wired to the given collaborators.
func New(logger *zap.Logger, base *agent.BaseAgent, clk clock.Clock, md marketdata.MarketData, bus *messagebus.Bus, st store.Store, cfg Config) *MarketHunter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	maxSources := cfg.MaxSources
	if maxSources <= 0 {
		maxSources = MaxSourcesPerCycle
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	h := &MarketHunter{
		BaseAgent:       base,
		logger:          logger.Named("hunter"),
		clk:             clk,
		md:              md,
		bus:             bus,
		st:              st,
		interval:        interval,
		maxSources:      maxSources,
		explorationRate: cfg.ExplorationRate,
		minConfidence:   cfg.MinConfidence,
		rng:             rand.New(rand.NewSource(seed)),
		metrics:         make(map[types.SourceKind]types.SourceMetric),
	}
	poolCfg := workers.DefaultPoolConfig("hunter-sources", maxSources)
	poolCfg.TaskTimeout = 5 * time.Second
	h.pool = workers.NewPool(logger.Named("hunter.pool"), poolCfg)
	h.pool.Start()
	return h
}

// LoadHistoricalMetrics seeds the bandit's per-source metrics from the
// store, so a restart does not reset exploration/exploitation history.
func (h *MarketHunter) LoadHistoricalMetrics(ctx context.Context) error {
	m, err := h.st.ReadSourceMetrics(ctx)
	if err != nil {
		return sentinelerr.NewStoreError("read_source_metrics", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, v := range m {
		h.metrics[k] = v
	}
	return nil
}

// Start runs the continuous sampling loop until ctx is cancelled.
func (h *MarketHunter) Start(ctx context.Context) error {
	if err := h.LoadHistoricalMetrics(ctx); err != nil {
		h.logger.Warn("failed to load historical source metrics, starting cold", zap.Error(err))
	}

	ticker := h.clk.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if err := h.RunCycleOnce(ctx); err != nil {
			h.logger.Error("hunter cycle failed", zap.Error(err))
			if sleepErr := h.clk.Sleep(ctx, RetrySleep); sleepErr != nil {
				return nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}
	}
}

// RunCycleOnce executes exactly one sampling cycle: assess context,
// select sources, query them concurrently, synthesize and broadcast
// signals, update the bandit, persist.
func (h *MarketHunter) RunCycleOnce(ctx context.Context) error {
	market, err := h.AssessMarketContext(ctx)
	if err != nil {
		return err
	}

	selected := h.SelectSources(market)
	records := h.queryConcurrently(ctx, selected)

	var signals []types.Signal
	for kind, rec := range records {
		if rec.err != nil {
			h.recordOutcome(kind, false, 0)
			continue
		}
		sig, ok := synthesize(kind, rec.record, market)
		h.recordOutcome(kind, true, boolToQuality(ok))
		if !ok {
			continue
		}
		signals = append(signals, sig)
	}

	for _, sig := range signals {
		if sig.Confidence < h.minConfidence {
			continue
		}
		h.bus.PublishSignal(h.ID(), sig)
		if err := h.st.AppendSignal(ctx, sig.Kind, sig); err != nil {
			h.logger.Warn("failed to persist signal", zap.Error(sentinelerr.NewStoreError("append_signal", err)))
		}
	}

	h.mu.Lock()
	snapshot := make(map[types.SourceKind]types.SourceMetric, len(h.metrics))
	for k, v := range h.metrics {
		snapshot[k] = v
	}
	h.mu.Unlock()
	if err := h.st.WriteSourceMetrics(ctx, snapshot); err != nil {
		h.logger.Warn("failed to persist source metrics", zap.Error(sentinelerr.NewStoreError("write_source_metrics", err)))
	}

	return nil
}

// AssessMarketContext fetches the current price snapshot, the shared
// context every source-selection and signal-synthesis decision reads.
func (h *MarketHunter) AssessMarketContext(ctx context.Context) (types.MarketSnapshot, error) {
	snap, err := h.md.FetchPrice(ctx)
	if err != nil {
		return types.MarketSnapshot{}, err
	}
	return snap, nil
}

// SelectSources scores every source with the bandit formula and returns
// the top maxSources by score, breaking ties by source name for
// determinism. Each source independently receives explorationBonus
// with probability explorationRate, drawn from the seeded random
// source (so reproducible given the same seed).
func (h *MarketHunter) SelectSources(market types.MarketSnapshot) []types.SourceKind {
	type scored struct {
		kind  types.SourceKind
		score float64
	}

	h.mu.Lock()
	all := make([]scored, 0, len(types.AllSourceKinds()))
	now := h.clk.Now()
	for _, kind := range types.AllSourceKinds() {
		m := h.metrics[kind]
		recency := recencyScore(m.LastUsedAt, now)
		relevance := contextRelevance(kind, market)
		bonus := 0.0
		if h.rng.Float64() < h.explorationRate {
			bonus = explorationBonus
		}
		score := weightSuccessRate*m.SuccessRate +
			weightAvgSignalQuality*m.AvgSignalQuality +
			weightRecency*recency +
			weightContextRelevance*relevance +
			bonus
		all = append(all, scored{kind: kind, score: score})
	}
	h.mu.Unlock()

	// Stable sort descending by score, then ascending by name for a
	// deterministic tie-break.
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && (all[j].score > all[j-1].score ||
			(all[j].score == all[j-1].score && all[j].kind < all[j-1].kind)); j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}

	n := h.maxSources
	if n > len(all) {
		n = len(all)
	}
	out := make([]types.SourceKind, n)
	for i := 0; i < n; i++ {
		out[i] = all[i].kind
	}
	return out
}

// recencyScore decays linearly from 1 (just used) to 0 over 24h, and is
// 1 for a source never yet queried (maximally worth trying).
func recencyScore(lastUsed time.Time, now time.Time) float64 {
	if lastUsed.IsZero() {
		return 1
	}
	elapsed := now.Sub(lastUsed)
	if elapsed <= 0 {
		return 1
	}
	const window = 24 * time.Hour
	if elapsed >= window {
		return 0
	}
	return 1 - float64(elapsed)/float64(window)
}

// contextRelevance is a small heuristic: sources most informative when
// volatility is elevated (derivative, technical, whale) score higher as
// |change24h| grows; the rest hold a flat baseline relevance.
func contextRelevance(kind types.SourceKind, market types.MarketSnapshot) float64 {
	changeF, _ := market.Change24h.Float64()
	vol := clamp01(math.Abs(changeF) / 10.0)
	switch kind {
	case types.SourceDerivative, types.SourceTechnical, types.SourceWhale:
		return clamp01(0.4 + 0.6*vol)
	default:
		return 0.5
	}
}

type queryResult struct {
	record marketdata.SourceRecord
	err    error
}

// queryConcurrently fans the selected sources out across the hunter's
// worker pool, one task per source, and collects every result before
// returning. The pool bounds concurrency to maxSources workers and
// recovers a panicking source as an error, so a source cannot crash the
// cycle. SubmitWait returns only once FetchSource itself returns: the
// pool's per-task timeout does not cut a fetch short, so a source that
// hangs holds up the cycle until ctx or the provider call ends it.
func (h *MarketHunter) queryConcurrently(ctx context.Context, kinds []types.SourceKind) map[types.SourceKind]queryResult {
	out := make(map[types.SourceKind]queryResult, len(kinds))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, kind := range kinds {
		wg.Add(1)
		go func(kind types.SourceKind) {
			defer wg.Done()
			var rec marketdata.SourceRecord
			var fetchErr error
			err := h.pool.SubmitWait(workers.TaskFunc(func() error {
				rec, fetchErr = h.md.FetchSource(ctx, kind)
				return fetchErr
			}))
			if fetchErr == nil && err != nil {
				fetchErr = err
			}
			mu.Lock()
			out[kind] = queryResult{record: rec, err: fetchErr}
			mu.Unlock()
		}(kind)
	}
	wg.Wait()
	return out
}

// Close releases the hunter's worker pool. Safe to call once, after the
// sampling loop has stopped.
func (h *MarketHunter) Close() error {
	return h.pool.Stop()
}

func (h *MarketHunter) recordOutcome(kind types.SourceKind, success bool, quality float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m := h.metrics[kind]
	if m.Name == "" {
		m.Name = string(kind)
	}
	m.TotalCalls++
	if success {
		m.SuccessfulCalls++
	}
	m.LastUsedAt = h.clk.Now()

	const alpha = 0.2 // EWMA smoothing factor for per-source metrics
	successObs := 0.0
	if success {
		successObs = 1.0
	}
	m.SuccessRate = ewma(m.SuccessRate, successObs, alpha, m.TotalCalls)
	m.AvgSignalQuality = ewma(m.AvgSignalQuality, quality, alpha, m.TotalCalls)
	if quality > 0 {
		m.SignalsGenerated++
	}

	h.metrics[kind] = m
}

// ewma applies m ← (1-alpha)*m + alpha*observation, except on the very
// first call (count==1) where the observation alone seeds m.
func ewma(m, observation, alpha float64, count uint64) float64 {
	if count <= 1 {
		return observation
	}
	return (1-alpha)*m + alpha*observation
}

func boolToQuality(ok bool) float64 {
	if ok {
		return 1.0
	}
	return 0.0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// synthesize applies the five literal thresholds spec.md §4.3 specifies
// to one source's raw record, returning a Signal and true if the record
// crossed its threshold, or the zero Signal and false otherwise.
func synthesize(kind types.SourceKind, rec marketdata.SourceRecord, market types.MarketSnapshot) (types.Signal, bool) {
	now := market.At
	base := types.Signal{
		Kind:    types.SourceKindToSignalKind(kind),
		Targets: []types.AgentId{types.BroadcastTarget},
		Payload: map[string]any{},
		At:      now,
	}

	switch kind {
	case types.SourceWhale:
		if rec.WhaleTxBTC > whaleTxThresholdBTC {
			base.Severity = types.SeverityHigh
			base.Confidence = clamp01(0.5 + rec.WhaleTxBTC/1000.0)
			base.Payload["whaleTxBtc"] = rec.WhaleTxBTC
			return base, true
		}
	case types.SourceNarrative:
		if rec.BullishThemes >= narrativeBullishThemeCount {
			base.Severity = types.SeverityMedium
			base.Confidence = clamp01(0.4 + 0.1*float64(rec.BullishThemes))
			base.Payload["bullishThemes"] = rec.BullishThemes
			base.Payload["themes"] = rec.Themes
			return base, true
		}
	case types.SourceInstitutional:
		if rec.TotalHoldingsUsd > institutionalHoldingsUsd {
			base.Severity = types.SeverityHigh
			base.Confidence = 0.8
			base.Payload["totalHoldingsUsd"] = rec.TotalHoldingsUsd
			return base, true
		}
	case types.SourceDerivative:
		if math.Abs(rec.FundingRatePct) > extremeFundingRatePct {
			base.Severity = types.SeverityCritical
			base.Confidence = 0.9
			base.Payload["fundingRatePct"] = rec.FundingRatePct
			base.Payload["reason"] = "EXTREME_FUNDING"
			return base, true
		}
	case types.SourceMacro:
		switch {
		case rec.FearGreed > fearGreedExtremeGreed:
			base.Severity = types.SeverityMedium
			base.Confidence = 0.6
			base.Payload["fearGreed"] = rec.FearGreed
			base.Payload["reason"] = "EXTREME_GREED"
			return base, true
		case rec.FearGreed < fearGreedExtremeFear:
			base.Severity = types.SeverityMedium
			base.Confidence = 0.6
			base.Payload["fearGreed"] = rec.FearGreed
			base.Payload["reason"] = "EXTREME_FEAR"
			return base, true
		}
	default:
		return types.Signal{}, false
	}
	return types.Signal{}, false
}
