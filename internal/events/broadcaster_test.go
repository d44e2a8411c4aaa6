package events

import (
	"sync"
	"testing"
	"time"

	"autoforwardx/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroadcaster(buffer int) *Broadcaster {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewBroadcaster(buffer, logger)
}

func pairEvent(user, pairID string) models.Event {
	return models.Event{
		Type:    models.EventPairStatus,
		UserID:  user,
		Payload: models.PairStatusUpdate{PairID: pairID, Status: models.PairActive},
	}
}

func TestBroadcaster_TopicIsolation(t *testing.T) {
	b := newTestBroadcaster(4)
	alice := b.Subscribe("alice")
	bob := b.Subscribe("bob")

	b.Publish(pairEvent("alice", "p1"))

	select {
	case e := <-alice.Events():
		assert.Equal(t, "alice", e.UserID)
		assert.False(t, e.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("alice did not receive her event")
	}
	assert.Len(t, bob.Events(), 0)
}

func TestBroadcaster_FanOutToAllSubscribers(t *testing.T) {
	b := newTestBroadcaster(4)
	first := b.Subscribe("u1")
	second := b.Subscribe("u1")
	assert.Equal(t, 2, b.SubscriberCount("u1"))

	b.Publish(pairEvent("u1", "p1"))

	assert.Len(t, first.Events(), 1)
	assert.Len(t, second.Events(), 1)
}

func TestBroadcaster_FullBufferDropsOldest(t *testing.T) {
	b := newTestBroadcaster(2)
	sub := b.Subscribe("u1")

	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		b.Publish(pairEvent("u1", id))
	}

	require.Len(t, sub.Events(), 2)
	first := <-sub.Events()
	second := <-sub.Events()
	assert.Equal(t, "p3", first.Payload.(models.PairStatusUpdate).PairID)
	assert.Equal(t, "p4", second.Payload.(models.PairStatusUpdate).PairID)
	assert.Equal(t, uint64(2), sub.Dropped())
}

func TestBroadcaster_PublishNeverBlocks(t *testing.T) {
	b := newTestBroadcaster(1)
	b.Subscribe("u1") // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(pairEvent("u1", "p"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	b := newTestBroadcaster(2)
	sub := b.Subscribe("u1")

	sub.Close()
	sub.Close()

	_, open := <-sub.Events()
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount("u1"))

	b.Publish(pairEvent("u1", "p1"))
}

func TestBroadcaster_ConcurrentPublishAndClose(t *testing.T) {
	b := newTestBroadcaster(8)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		sub := b.Subscribe("u1")
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(pairEvent("u1", "p"))
			}
		}()
		go func(s *Subscription) {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			s.Close()
		}(sub)
	}
	wg.Wait()
	b.Close()
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *recordingSink) Forward(e models.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func TestBroadcaster_SinksSeeLocalPublishesOnly(t *testing.T) {
	b := newTestBroadcaster(2)
	sink := &recordingSink{}
	b.AddSink(sink)

	b.Publish(pairEvent("u1", "local"))
	b.PublishLocal(pairEvent("u1", "remote"))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 1)
	assert.Equal(t, "local", sink.events[0].Payload.(models.PairStatusUpdate).PairID)
}
