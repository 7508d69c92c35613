// Package messagebus provides the typed, in-process, many-to-many
// channel agents use to exchange SignalMsg, AdaptationRequestMsg, and
// CoordinationMsg payloads. It generalizes the teacher event bus's
// "subscribe by type, broadcast to subscribers" model into addressed,
// per-recipient bounded mailboxes with drop-oldest backpressure.
package messagebus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atlas-desktop/btcintel/pkg/types"
)

// DefaultInboxSize is the default bound on a recipient's mailbox.
const DefaultInboxSize = 256

// Stats reports cumulative bus counters.
type Stats struct {
	Published int64
	Delivered int64
	Dropped   int64
}

type mailbox struct {
	mu sync.Mutex
	ch chan types.Message
}

// Bus is the MessageBus implementation. Each AgentId gets its own
// bounded channel, allocated lazily on first Subscribe or first publish
// addressed to it.
type Bus struct {
	logger *zap.Logger

	mu    sync.RWMutex
	boxes map[types.AgentId]*mailbox

	inboxSize int

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// New constructs a Bus with the given logger and per-recipient inbox
// bound (DefaultInboxSize if size <= 0).
func New(logger *zap.Logger, size int) *Bus {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Bus{
		logger:    logger.Named("messagebus"),
		boxes:     make(map[types.AgentId]*mailbox),
		inboxSize: size,
	}
}

func (b *Bus) boxFor(id types.AgentId) *mailbox {
	b.mu.RLock()
	mb, ok := b.boxes[id]
	b.mu.RUnlock()
	if ok {
		return mb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if mb, ok := b.boxes[id]; ok {
		return mb
	}
	mb = &mailbox{
		ch: make(chan types.Message, b.inboxSize),
	}
	b.boxes[id] = mb
	return mb
}

// Subscribe returns the (lazily-created) inbox channel for id. The
// caller drains it; this method never blocks.
func (b *Bus) Subscribe(id types.AgentId) <-chan types.Message {
	return b.boxFor(id).ch
}

// Publish delivers a message. If to is types.BroadcastTarget, the
// message is fanned out to every currently-subscribed agent except
// from. Publish never blocks: on a saturated inbox, the oldest pending
// message for that recipient is dropped and the drop counter
// incremented.
func (b *Bus) Publish(msg types.Message) {
	b.published.Add(1)
	if msg.At.IsZero() {
		msg.At = time.Now()
	}

	if msg.To == types.BroadcastTarget {
		b.mu.RLock()
		recipients := make([]types.AgentId, 0, len(b.boxes))
		for id := range b.boxes {
			if id != msg.From {
				recipients = append(recipients, id)
			}
		}
		b.mu.RUnlock()
		for _, id := range recipients {
			b.deliverTo(id, msg)
		}
		return
	}
	b.deliverTo(msg.To, msg)
}

func (b *Bus) deliverTo(id types.AgentId, msg types.Message) {
	mb := b.boxFor(id)
	mb.mu.Lock()
	defer mb.mu.Unlock()

	select {
	case mb.ch <- msg:
		b.delivered.Add(1)
	default:
		// Inbox saturated: drop the oldest pending message, then retry
		// once. This preserves FIFO-per-(from,to) for everything that
		// survives, at the cost of the oldest entry.
		select {
		case <-mb.ch:
			b.dropped.Add(1)
		default:
		}
		select {
		case mb.ch <- msg:
			b.delivered.Add(1)
		default:
			b.dropped.Add(1)
			b.logger.Warn("message dropped, inbox still saturated after eviction",
				zap.String("to", string(id)))
		}
	}
}

// PublishSignal is a convenience wrapper building a SIGNAL message from
// a Signal, targeted at each of sig.Targets (or broadcast if empty).
func (b *Bus) PublishSignal(from types.AgentId, sig types.Signal) {
	targets := sig.Targets
	if len(targets) == 0 {
		targets = []types.AgentId{types.BroadcastTarget}
	}
	for _, to := range targets {
		b.Publish(types.Message{
			From:    from,
			To:      to,
			Kind:    types.MessageSignal,
			Payload: types.SignalMsg{Signal: sig},
			At:      sig.At,
		})
	}
}

// PublishCoordination broadcasts a CoordinationMsg announcing a decision
// has been executed.
func (b *Bus) PublishCoordination(from types.AgentId, decisionId string, typ types.DecisionType, summary string) {
	b.Publish(types.Message{
		From: from,
		To:   types.BroadcastTarget,
		Kind: types.MessageCoordination,
		Payload: types.CoordinationMsg{
			DecisionId: decisionId,
			Type:       typ,
			Summary:    summary,
		},
		At: time.Now(),
	})
}

// PublishAdaptationRequest sends an agent a request to evolve its goals
// per decision.
func (b *Bus) PublishAdaptationRequest(from, to types.AgentId, decision types.Decision) {
	b.Publish(types.Message{
		From:    from,
		To:      to,
		Kind:    types.MessageAdaptationRequest,
		Payload: types.AdaptationRequestMsg{Decision: decision},
		At:      time.Now(),
	})
}

// Stats returns a snapshot of cumulative counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
	}
}

// NewMessageID generates an opaque id for correlating messages in logs;
// the Message type itself carries no id field (spec.md §3 defines none),
// this is purely a logging aid.
func NewMessageID() string { return uuid.NewString() }
