package store

import (
	"context"
	"sync"
	"time"

	"github.com/atlas-desktop/btcintel/pkg/types"
)

// MemStore is the default Store: mutex-guarded in-memory slices and
// maps, mirroring the teacher's cache-then-persist convention
// (internal/data/store.go) but append-only throughout, as spec.md §3
// requires for history rows.
type MemStore struct {
	mu sync.RWMutex

	portfolio        types.Portfolio
	portfolioHistory []types.Portfolio

	executions []AgentExecution
	decisions  []types.DecisionRecord
	signals    map[types.SignalKind][]types.Signal

	sourceMetrics map[types.SourceKind]types.SourceMetric

	cycleSummaries []CycleSummary

	maxHistory int
}

// NewMemStore returns an empty MemStore. maxHistory bounds the
// in-memory append-only logs (0 means unbounded); DefaultMaxHistory is
// used by callers that don't care.
const DefaultMaxHistory = 10000

// NewMemStoreWithLimit constructs a MemStore bounding each append-only
// log to maxHistory entries (oldest dropped first), primarily so
// long-running processes don't grow memory unbounded.
func NewMemStoreWithLimit(maxHistory int) *MemStore {
	return &MemStore{
		portfolio:     types.Portfolio{UpdatedAt: time.Time{}},
		signals:       make(map[types.SignalKind][]types.Signal),
		sourceMetrics: make(map[types.SourceKind]types.SourceMetric),
		maxHistory:    maxHistory,
	}
}

// NewMemStore returns a MemStore bounded by DefaultMaxHistory.
func NewMemStore() *MemStore {
	return NewMemStoreWithLimit(DefaultMaxHistory)
}

func (s *MemStore) ReadPortfolio(ctx context.Context) (types.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.portfolio, nil
}

func (s *MemStore) WritePortfolio(ctx context.Context, p types.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portfolio = p
	return nil
}

func (s *MemStore) AppendPortfolioSnapshot(ctx context.Context, p types.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portfolioHistory = appendBounded(s.portfolioHistory, p, s.maxHistory)
	return nil
}

func (s *MemStore) AppendAgentExecution(ctx context.Context, e AgentExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = appendBounded(s.executions, e, s.maxHistory)
	return nil
}

func (s *MemStore) AppendDecision(ctx context.Context, d types.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = appendBounded(s.decisions, d, s.maxHistory)
	return nil
}

func (s *MemStore) AppendSignal(ctx context.Context, kind types.SignalKind, sig types.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[kind] = appendBounded(s.signals[kind], sig, s.maxHistory)
	return nil
}

func (s *MemStore) ReadSourceMetrics(ctx context.Context) (map[types.SourceKind]types.SourceMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[types.SourceKind]types.SourceMetric, len(s.sourceMetrics))
	for k, v := range s.sourceMetrics {
		out[k] = v
	}
	return out, nil
}

func (s *MemStore) WriteSourceMetrics(ctx context.Context, m map[types.SourceKind]types.SourceMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[types.SourceKind]types.SourceMetric, len(m))
	for k, v := range m {
		cp[k] = v
	}
	s.sourceMetrics = cp
	return nil
}

func (s *MemStore) ListAgentExecutions(ctx context.Context, agentId types.AgentId, limit int) ([]AgentExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []AgentExecution
	for i := len(s.executions) - 1; i >= 0; i-- {
		e := s.executions[i]
		if agentId != "" && e.AgentId != agentId {
			continue
		}
		filtered = append(filtered, e)
		if limit > 0 && len(filtered) >= limit {
			break
		}
	}
	return filtered, nil
}

func (s *MemStore) ListRecentTrades(ctx context.Context, limit int) ([]AgentExecution, error) {
	return s.ListAgentExecutions(ctx, "", limit)
}

func (s *MemStore) ReadPerformanceMetrics(ctx context.Context) (PerformanceMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var success, total int64
	for _, d := range s.decisions {
		if d.Execution == nil {
			continue
		}
		total++
		if d.Execution.Success {
			success++
		}
	}
	rate := 0.0
	if total > 0 {
		rate = float64(success) / float64(total)
	}
	return PerformanceMetrics{SuccessRate: rate, TotalCount: total}, nil
}

func (s *MemStore) AppendCycleSummary(ctx context.Context, c CycleSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycleSummaries = appendBounded(s.cycleSummaries, c, s.maxHistory)
	return nil
}

func (s *MemStore) ListRecentDecisions(ctx context.Context, limit int) ([]types.DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.decisions)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]types.DecisionRecord, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.decisions[n-limit+i]
	}
	return out, nil
}

func (s *MemStore) Close() error { return nil }

func appendBounded[T any](slice []T, item T, maxLen int) []T {
	slice = append(slice, item)
	if maxLen > 0 && len(slice) > maxLen {
		slice = slice[len(slice)-maxLen:]
	}
	return slice
}
