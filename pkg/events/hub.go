package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	subscriberBuffer = 64
	sinkQueueBuffer  = 1024
)

// Hub is the in-process Broadcaster. Subscribers receive events on buffered
// channels; a subscriber whose buffer is full misses events until it
// resynchronizes with a full-state fetch. Sinks receive every event in
// publish order through a single dispatch goroutine, keeping network calls
// off the publisher's path.
type Hub struct {
	channels  map[string]*channel
	sinks     []Sink
	sinkQueue chan Event
	logger    *zap.Logger
	wg        sync.WaitGroup
	closed    bool
	mu        sync.RWMutex
}

// channel is the per-session fan-out state.
type channel struct {
	seq         uint64
	subscribers map[int]chan Event
	nextID      int
	mu          sync.Mutex
}

var _ Broadcaster = (*Hub)(nil)

// NewHub creates a hub and starts its sink dispatcher.
func NewHub(logger *zap.Logger, sinks ...Sink) *Hub {
	h := &Hub{
		channels:  make(map[string]*channel),
		sinks:     sinks,
		sinkQueue: make(chan Event, sinkQueueBuffer),
		logger:    logger,
	}

	h.wg.Add(1)
	go h.dispatchSinks()

	return h
}

// Publish delivers an event to every subscriber of the session and enqueues
// it for the sinks. Never blocks: slow subscribers and a full sink queue both
// drop, matching the at-most-once contract.
func (h *Hub) Publish(sessionID string, eventType EventType, payload interface{}) {
	ch := h.channel(sessionID)

	ch.mu.Lock()
	ch.seq++
	event := Event{
		SessionID: sessionID,
		Type:      eventType,
		Seq:       ch.seq,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	for id, sub := range ch.subscribers {
		select {
		case sub <- event:
		default:
			h.logger.Warn("Dropping event for slow subscriber",
				zap.String("sessionID", sessionID),
				zap.String("type", string(eventType)),
				zap.Int("subscriber", id))
		}
	}
	ch.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	select {
	case h.sinkQueue <- event:
	default:
		h.logger.Warn("Sink queue full, dropping event",
			zap.String("sessionID", sessionID),
			zap.String("type", string(eventType)))
	}
}

// Subscribe registers for a session's events. The returned cancel function
// removes the subscription and closes the channel.
func (h *Hub) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := h.channel(sessionID)

	ch.mu.Lock()
	id := ch.nextID
	ch.nextID++
	sub := make(chan Event, subscriberBuffer)
	ch.subscribers[id] = sub
	ch.mu.Unlock()

	cancel := func() {
		ch.mu.Lock()
		if _, ok := ch.subscribers[id]; ok {
			delete(ch.subscribers, id)
			close(sub)
		}
		ch.mu.Unlock()
	}

	return sub, cancel
}

// Close stops the sink dispatcher after draining queued events.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.sinkQueue)
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Private methods

func (h *Hub) channel(sessionID string) *channel {
	h.mu.RLock()
	ch, exists := h.channels[sessionID]
	h.mu.RUnlock()
	if exists {
		return ch
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, exists = h.channels[sessionID]; exists {
		return ch
	}
	ch = &channel{subscribers: make(map[int]chan Event)}
	h.channels[sessionID] = ch
	return ch
}

func (h *Hub) dispatchSinks() {
	defer h.wg.Done()

	for event := range h.sinkQueue {
		for _, sink := range h.sinks {
			if err := sink.Emit(event); err != nil {
				h.logger.Warn("Sink emit failed",
					zap.String("sessionID", event.SessionID),
					zap.String("type", string(event.Type)),
					zap.Error(err))
			}
		}
	}
}
