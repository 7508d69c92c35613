// Package decisionlog provides the append-only, full-provenance record
// of every autonomous decision the system emits. Grounded on
// internal/learning/feedback.go's batching/flush-on-shutdown pattern
// (FeedbackEngine periodically flushes accumulated records and drains
// on Close), adapted here to Decisions written through the store.Store
// interface instead of a JSON file.
package decisionlog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/btcintel/internal/sentinelerr"
	"github.com/atlas-desktop/btcintel/internal/store"
	"github.com/atlas-desktop/btcintel/pkg/types"
)

// DefaultFlushInterval is how often a batch of buffered records is
// flushed to the store.
const DefaultFlushInterval = 5 * time.Second

// DefaultBufferCap is the bounded in-memory buffer spec.md §7 mandates
// for StoreError recovery (decisions queue here while the store is
// unavailable, flushed on recovery).
const DefaultBufferCap = 1024

// Logger is the DecisionLogger: batched, append-only, survives a
// graceful shutdown by flushing whatever is buffered before returning
// from Close.
type Logger struct {
	logger *zap.Logger
	st     store.Store

	mu      sync.Mutex
	buffer  []types.DecisionRecord
	bufCap  int

	flushInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// New constructs a Logger writing through st, flushing at interval
// (DefaultFlushInterval if <= 0) and buffering up to capacity
// (DefaultBufferCap if <= 0) records while the store is unavailable.
func New(logger *zap.Logger, st store.Store, interval time.Duration, capacity int) *Logger {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if capacity <= 0 {
		capacity = DefaultBufferCap
	}
	l := &Logger{
		logger:        logger.Named("decisionlog"),
		st:            st,
		bufCap:        capacity,
		flushInterval: interval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go l.flushLoop()
	return l
}

// Record buffers a full-provenance decision record for the next flush.
// It never blocks: if the buffer is at capacity, the oldest buffered
// record is dropped (mirrors the StoreError recovery policy — see
// spec.md §7).
func (l *Logger) Record(d types.DecisionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buffer = append(l.buffer, d)
	if len(l.buffer) > l.bufCap {
		dropped := len(l.buffer) - l.bufCap
		l.buffer = l.buffer[dropped:]
		l.logger.Warn("decision log buffer overflow, dropping oldest records", zap.Int("dropped", dropped))
	}
}

func (l *Logger) flushLoop() {
	defer close(l.doneCh)
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.flush(context.Background())
		case <-l.stopCh:
			l.flush(context.Background())
			return
		}
	}
}

func (l *Logger) flush(ctx context.Context) {
	l.mu.Lock()
	pending := l.buffer
	l.buffer = nil
	l.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	var failed []types.DecisionRecord
	for _, d := range pending {
		if err := l.st.AppendDecision(ctx, d); err != nil {
			l.logger.Warn("store error appending decision, will retry", zap.Error(sentinelerr.NewStoreError("append_decision", err)))
			failed = append(failed, d)
		}
	}
	if len(failed) > 0 {
		l.mu.Lock()
		l.buffer = append(failed, l.buffer...)
		if len(l.buffer) > l.bufCap {
			l.buffer = l.buffer[len(l.buffer)-l.bufCap:]
		}
		l.mu.Unlock()
	}
}

// Close signals the flush loop to do one final flush and waits for it
// to finish, satisfying "writes are batched but must survive a
// graceful shutdown".
func (l *Logger) Close() {
	close(l.stopCh)
	<-l.doneCh
}
