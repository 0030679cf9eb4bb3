// Package events provides the per-run event stream: durable append through
// the store's event log, plus live fan-out to subscribers via a polling
// broadcaster. Durable append succeeds with zero subscribers; a subscriber
// that falls behind recovers by replaying from its last seen sequence
// number.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/store"
)

// Subscriber receives the live events of one run.
type Subscriber struct {
	ID       string
	RunID    string
	Events   chan *model.Event
	done     chan struct{}
	isClosed bool
	mu       sync.Mutex
}

// Close closes the subscriber's event channel.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isClosed {
		s.isClosed = true
		close(s.done)
		close(s.Events)
	}
}

// Done returns a channel that's closed when the subscriber is closed.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Broker publishes run events. Events are persisted first; the poller picks
// them up and broadcasts to live subscribers.
type Broker struct {
	store  store.Store
	poller *Poller
}

// NewBroker creates a new event broker. The poller is started separately via
// poller.Start().
func NewBroker(s store.Store, poller *Poller) *Broker {
	return &Broker{store: s, poller: poller}
}

// Publish appends one event to a run's durable log and notifies the poller.
// The store assigns the sequence number; a closed log is a Conflict.
func (b *Broker) Publish(ctx context.Context, runID, threadID, eventType string, data any) (*model.Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	event := &model.Event{
		RunID:     runID,
		ThreadID:  threadID,
		EventType: eventType,
		EventData: payload,
	}
	if err := b.store.Events().Append(ctx, event); err != nil {
		return nil, err
	}
	b.poller.NotifyNewEvent()
	return event, nil
}

// Replay returns a run's durable log from the given sequence number
// (inclusive), in order.
func (b *Broker) Replay(ctx context.Context, runID string, fromSeq int64) ([]*model.Event, error) {
	return b.store.Events().Replay(ctx, runID, fromSeq)
}

// Subscribe creates a live subscription for one run's events.
func (b *Broker) Subscribe(runID string) *Subscriber {
	return b.poller.Subscribe(runID)
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.poller.Unsubscribe(sub)
}
