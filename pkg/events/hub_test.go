package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestHub(t *testing.T, sinks ...Sink) *Hub {
	hub := NewHub(zaptest.NewLogger(t), sinks...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = hub.Close(ctx)
	})
	return hub
}

func collect(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		select {
		case event := <-ch:
			events = append(events, event)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
	return events
}

func TestHub_PerSessionOrdering(t *testing.T) {
	hub := newTestHub(t)

	ch, cancel := hub.Subscribe("sess-1")
	defer cancel()

	for i := 0; i < 5; i++ {
		hub.Publish("sess-1", EventVoteCast, map[string]int{"n": i})
	}

	events := collect(t, ch, 5)
	for i, event := range events {
		assert.Equal(t, uint64(i+1), event.Seq, "sequence is gapless and monotonic")
		assert.Equal(t, "sess-1", event.SessionID)
		assert.Equal(t, EventVoteCast, event.Type)
	}
}

func TestHub_SessionsAreIsolated(t *testing.T) {
	hub := newTestHub(t)

	ch1, cancel1 := hub.Subscribe("sess-1")
	defer cancel1()
	ch2, cancel2 := hub.Subscribe("sess-2")
	defer cancel2()

	hub.Publish("sess-1", EventSessionCreated, nil)
	hub.Publish("sess-2", EventSessionCreated, nil)
	hub.Publish("sess-2", EventVoteCast, nil)

	events1 := collect(t, ch1, 1)
	assert.Equal(t, uint64(1), events1[0].Seq)

	events2 := collect(t, ch2, 2)
	assert.Equal(t, uint64(1), events2[0].Seq)
	assert.Equal(t, uint64(2), events2[1].Seq, "each session numbers independently")

	select {
	case event := <-ch1:
		t.Fatalf("subscriber received foreign event: %+v", event)
	default:
	}
}

func TestHub_MultipleSubscribersEachReceive(t *testing.T) {
	hub := newTestHub(t)

	chA, cancelA := hub.Subscribe("sess-1")
	defer cancelA()
	chB, cancelB := hub.Subscribe("sess-1")
	defer cancelB()

	hub.Publish("sess-1", EventStageChanged, nil)

	assert.Equal(t, uint64(1), collect(t, chA, 1)[0].Seq)
	assert.Equal(t, uint64(1), collect(t, chB, 1)[0].Seq)
}

func TestHub_CancelStopsDelivery(t *testing.T) {
	hub := newTestHub(t)

	ch, cancel := hub.Subscribe("sess-1")
	cancel()
	cancel() // idempotent

	hub.Publish("sess-1", EventVoteCast, nil)

	_, open := <-ch
	assert.False(t, open, "cancelled subscription channel is closed")
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := newTestHub(t)

	ch, cancel := hub.Subscribe("sess-1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Overrun the subscriber buffer without draining it. Publish must
		// still return.
		for i := 0; i < subscriberBuffer*2; i++ {
			hub.Publish("sess-1", EventVoteCast, nil)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// The buffered prefix arrived in order; the overflow was dropped.
	events := collect(t, ch, subscriberBuffer)
	for i, event := range events {
		assert.Equal(t, uint64(i+1), event.Seq)
	}
}

func TestHub_ConcurrentPublishGaplessSequence(t *testing.T) {
	hub := newTestHub(t)

	const publishers = 8
	const perPublisher = 20

	// No subscribers yet, so nothing drops. Publish concurrently and make
	// sure the session counter never skips or repeats.
	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				hub.Publish("sess-1", EventVoteCast, nil)
			}
		}()
	}
	wg.Wait()

	sub, cancel := hub.Subscribe("sess-1")
	defer cancel()
	hub.Publish("sess-1", EventVoteCast, nil)
	final := collect(t, sub, 1)
	assert.Equal(t, uint64(publishers*perPublisher+1), final[0].Seq)
}

// recordingSink captures emitted events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
	fail   error
}

func (s *recordingSink) Emit(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestHub_SinksReceiveEveryEventInOrder(t *testing.T) {
	sink := &recordingSink{}
	hub := NewHub(zaptest.NewLogger(t), sink)

	for i := 0; i < 10; i++ {
		hub.Publish("sess-1", EventVoteCast, i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, hub.Close(ctx), "close drains the sink queue")

	events := sink.snapshot()
	require.Len(t, events, 10)
	for i, event := range events {
		assert.Equal(t, uint64(i+1), event.Seq)
	}
}

func TestHub_FailingSinkDoesNotStopDispatch(t *testing.T) {
	failing := &recordingSink{fail: fmt.Errorf("broker unavailable")}
	healthy := &recordingSink{}
	hub := NewHub(zaptest.NewLogger(t), failing, healthy)

	hub.Publish("sess-1", EventStageChanged, nil)
	hub.Publish("sess-1", EventVoteCast, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, hub.Close(ctx))

	assert.Len(t, healthy.snapshot(), 2, "failures in one sink are isolated")
}

func TestHub_PublishAfterCloseIsSafe(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, hub.Close(ctx))
	require.NoError(t, hub.Close(ctx), "close is idempotent")

	assert.NotPanics(t, func() {
		hub.Publish("sess-1", EventVoteCast, nil)
	})
}
