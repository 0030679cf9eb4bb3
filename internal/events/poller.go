package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/logger"
	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/store"
)

// PollerConfig contains configuration for the event poller.
type PollerConfig struct {
	// PollInterval is how often to poll for new events when there are no notifications.
	PollInterval time.Duration
	// BatchSize is the maximum number of events to fetch per poll.
	BatchSize int
}

// DefaultPollerConfig returns the default poller configuration.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		PollInterval: 100 * time.Millisecond,
		BatchSize:    100,
	}
}

// Poller polls the event log for new entries and broadcasts them to
// subscribers. A single poller serves all runs; delivery filters on the
// subscriber's run id.
type Poller struct {
	store  store.Store
	config PollerConfig
	log    *logger.Logger

	// Last seen global ordinal
	lastID   int64
	lastIDMu sync.Mutex

	subscribers   map[string]*Subscriber
	subscribersMu sync.RWMutex

	// Notification channel for immediate polling
	notifyCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a new event poller.
func NewPoller(s store.Store, config PollerConfig, log *logger.Logger) *Poller {
	return &Poller{
		store:       s,
		config:      config,
		log:         log,
		subscribers: make(map[string]*Subscriber),
		notifyCh:    make(chan struct{}, 100),
	}
}

// Start begins polling for events.
func (p *Poller) Start(parentCtx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(parentCtx)

	// Only events appended after startup are broadcast live; earlier ones
	// are served via Replay.
	maxID, err := p.store.Events().MaxID(p.ctx)
	if err != nil {
		return err
	}
	p.lastID = maxID

	p.log.Info("event poller starting", "last_id", p.lastID)

	p.wg.Add(1)
	go p.pollLoop()

	return nil
}

// Stop gracefully stops the poller.
func (p *Poller) Stop() {
	p.log.Info("event poller stopping")
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		p.log.Warn("timeout waiting for event poller to stop")
	}

	p.subscribersMu.Lock()
	for _, sub := range p.subscribers {
		sub.Close()
	}
	p.subscribers = make(map[string]*Subscriber)
	p.subscribersMu.Unlock()
}

// NotifyNewEvent triggers immediate polling instead of waiting for the next
// poll interval.
func (p *Poller) NotifyNewEvent() {
	select {
	case p.notifyCh <- struct{}{}:
	default:
		// Channel full, next poll will pick it up
	}
}

// Subscribe creates a new subscription for one run's events.
func (p *Poller) Subscribe(runID string) *Subscriber {
	p.subscribersMu.Lock()
	defer p.subscribersMu.Unlock()

	sub := &Subscriber{
		ID:     uuid.New().String(),
		RunID:  runID,
		Events: make(chan *model.Event, 100),
		done:   make(chan struct{}),
	}
	p.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription.
func (p *Poller) Unsubscribe(sub *Subscriber) {
	p.subscribersMu.Lock()
	defer p.subscribersMu.Unlock()

	delete(p.subscribers, sub.ID)
	sub.Close()
}

func (p *Poller) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAndBroadcast()
		case <-p.notifyCh:
			p.pollAndBroadcast()
		}
	}
}

func (p *Poller) pollAndBroadcast() {
	p.lastIDMu.Lock()
	afterID := p.lastID
	p.lastIDMu.Unlock()

	events, err := p.store.Events().ListAfter(p.ctx, afterID, p.config.BatchSize)
	if err != nil {
		p.log.Error("failed to poll events", "error", err)
		return
	}
	if len(events) == 0 {
		return
	}

	p.lastIDMu.Lock()
	p.lastID = events[len(events)-1].ID
	p.lastIDMu.Unlock()

	p.subscribersMu.RLock()
	defer p.subscribersMu.RUnlock()

	for _, event := range events {
		for _, sub := range p.subscribers {
			if sub.RunID != event.RunID {
				continue
			}
			sub.mu.Lock()
			if !sub.isClosed {
				select {
				case sub.Events <- event:
				default:
					// Channel full; the subscriber fills the gap via Replay.
					p.log.Warn("event channel full, dropping live event",
						"subscriber", sub.ID, "run_id", event.RunID, "sequence_num", event.SequenceNum)
				}
			}
			sub.mu.Unlock()
		}
	}
}

// LastID returns the last seen global ordinal.
func (p *Poller) LastID() int64 {
	p.lastIDMu.Lock()
	defer p.lastIDMu.Unlock()
	return p.lastID
}
