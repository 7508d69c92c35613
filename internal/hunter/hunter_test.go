package hunter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/btcintel/internal/agent"
	"github.com/atlas-desktop/btcintel/internal/clock"
	"github.com/atlas-desktop/btcintel/internal/marketdata"
	"github.com/atlas-desktop/btcintel/internal/messagebus"
	"github.com/atlas-desktop/btcintel/internal/store"
	"github.com/atlas-desktop/btcintel/pkg/types"
)

type fakeMarketData struct {
	price   types.MarketSnapshot
	priceErr error
	records map[types.SourceKind]marketdata.SourceRecord
	errs    map[types.SourceKind]error
}

func (f *fakeMarketData) FetchPrice(ctx context.Context) (types.MarketSnapshot, error) {
	return f.price, f.priceErr
}

func (f *fakeMarketData) FetchNews(ctx context.Context, limit int) ([]marketdata.NewsItem, error) {
	return nil, nil
}

func (f *fakeMarketData) FetchSource(ctx context.Context, kind types.SourceKind) (marketdata.SourceRecord, error) {
	if err, ok := f.errs[kind]; ok {
		return marketdata.SourceRecord{}, err
	}
	return f.records[kind], nil
}

func newTestHunter(t *testing.T, md marketdata.MarketData) (*MarketHunter, *store.MemStore) {
	t.Helper()
	logger := zap.NewNop()
	base := agent.NewBaseAgent(logger, "market-hunter", types.GoalTree{Primary: types.Goal{ID: "p"}}, nil, 0.5)
	clk := clock.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	bus := messagebus.New(logger, 0)
	st := store.NewMemStore()
	h := New(logger, base, clk, md, bus, st, Config{MaxSources: 5, Seed: 7})
	t.Cleanup(func() { h.Close() })
	return h, st
}

func TestEwmaSeedsOnFirstObservation(t *testing.T) {
	require.Equal(t, 0.8, ewma(0, 0.8, 0.2, 1))
}

func TestEwmaBlendsOnSubsequentObservations(t *testing.T) {
	got := ewma(0.5, 1.0, 0.2, 2)
	require.InDelta(t, 0.6, got, 1e-9)
}

func TestRecencyScoreNeverUsedIsOne(t *testing.T) {
	require.Equal(t, 1.0, recencyScore(time.Time{}, time.Now()))
}

func TestRecencyScoreDecaysLinearlyOverWindow(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	lastUsed := now.Add(-12 * time.Hour)
	require.InDelta(t, 0.5, recencyScore(lastUsed, now), 1e-9)
}

func TestRecencyScoreZeroPastWindow(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	lastUsed := now.Add(-48 * time.Hour)
	require.Zero(t, recencyScore(lastUsed, now))
}

func TestSynthesizeWhaleThreshold(t *testing.T) {
	market := types.MarketSnapshot{At: time.Now()}
	_, ok := synthesize(types.SourceWhale, marketdata.SourceRecord{WhaleTxBTC: 50}, market)
	require.False(t, ok)

	sig, ok := synthesize(types.SourceWhale, marketdata.SourceRecord{WhaleTxBTC: 150}, market)
	require.True(t, ok)
	require.Equal(t, types.SeverityHigh, sig.Severity)
}

func TestSynthesizeNarrativeThreshold(t *testing.T) {
	market := types.MarketSnapshot{At: time.Now()}
	_, ok := synthesize(types.SourceNarrative, marketdata.SourceRecord{BullishThemes: 2}, market)
	require.False(t, ok)

	sig, ok := synthesize(types.SourceNarrative, marketdata.SourceRecord{BullishThemes: 3}, market)
	require.True(t, ok)
	require.Equal(t, types.SeverityMedium, sig.Severity)
}

func TestSynthesizeInstitutionalThreshold(t *testing.T) {
	market := types.MarketSnapshot{At: time.Now()}
	_, ok := synthesize(types.SourceInstitutional, marketdata.SourceRecord{TotalHoldingsUsd: 1_000_000_000}, market)
	require.False(t, ok)

	sig, ok := synthesize(types.SourceInstitutional, marketdata.SourceRecord{TotalHoldingsUsd: 60_000_000_000}, market)
	require.True(t, ok)
	require.Equal(t, 0.8, sig.Confidence)
}

func TestSynthesizeDerivativeExtremeFunding(t *testing.T) {
	market := types.MarketSnapshot{At: time.Now()}
	sig, ok := synthesize(types.SourceDerivative, marketdata.SourceRecord{FundingRatePct: -6.0}, market)
	require.True(t, ok)
	require.Equal(t, types.SeverityCritical, sig.Severity)
}

func TestSynthesizeMacroExtremeGreedAndFear(t *testing.T) {
	market := types.MarketSnapshot{At: time.Now()}
	greed, ok := synthesize(types.SourceMacro, marketdata.SourceRecord{FearGreed: 90}, market)
	require.True(t, ok)
	require.Equal(t, "EXTREME_GREED", greed.Payload["reason"])

	fear, ok := synthesize(types.SourceMacro, marketdata.SourceRecord{FearGreed: 10}, market)
	require.True(t, ok)
	require.Equal(t, "EXTREME_FEAR", fear.Payload["reason"])

	_, ok = synthesize(types.SourceMacro, marketdata.SourceRecord{FearGreed: 50}, market)
	require.False(t, ok)
}

func TestSynthesizeArbitrageAndTechnicalNeverSignal(t *testing.T) {
	market := types.MarketSnapshot{At: time.Now()}
	_, ok := synthesize(types.SourceArbitrage, marketdata.SourceRecord{SpreadPct: 99}, market)
	require.False(t, ok)
	_, ok = synthesize(types.SourceTechnical, marketdata.SourceRecord{RSI: 99}, market)
	require.False(t, ok)
}

func TestSelectSourcesReturnsBoundedCountInStableOrder(t *testing.T) {
	md := &fakeMarketData{}
	h, _ := newTestHunter(t, md)

	selected := h.SelectSources(types.MarketSnapshot{})
	require.Len(t, selected, 5)

	again := h.SelectSources(types.MarketSnapshot{})
	require.Equal(t, selected, again, "scoring must be deterministic given the same metrics and seed")
}

func TestRunCycleOncePersistsSourceMetrics(t *testing.T) {
	md := &fakeMarketData{
		price: types.MarketSnapshot{At: time.Now()},
		records: map[types.SourceKind]marketdata.SourceRecord{
			types.SourceWhale: {WhaleTxBTC: 500},
		},
	}
	h, st := newTestHunter(t, md)

	require.NoError(t, h.RunCycleOnce(context.Background()))

	metrics, err := st.ReadSourceMetrics(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, metrics)
}

func TestRunCycleOncePropagatesPriceFetchFailure(t *testing.T) {
	md := &fakeMarketData{priceErr: context.DeadlineExceeded}
	h, _ := newTestHunter(t, md)
	require.Error(t, h.RunCycleOnce(context.Background()))
}
