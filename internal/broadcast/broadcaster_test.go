package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docpipe/internal/model"
)

func newTestBroadcaster(t *testing.T) *Broadcaster {
	t.Helper()
	b := New(Options{CloseGrace: 20 * time.Millisecond, SubscriberBuffer: 32})
	t.Cleanup(b.Close)
	return b
}

// drain collects events until the channel closes or the timeout fires.
func drain(t *testing.T, sub *Subscriber) []model.ProgressEvent {
	t.Helper()
	var events []model.ProgressEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out draining subscriber")
		}
	}
}

func TestSubscribe_DeliversConnectedFirst(t *testing.T) {
	b := newTestBroadcaster(t)

	sub := b.Subscribe("doc-1")
	ev := <-sub.Events()
	assert.Equal(t, model.EventConnected, ev.Type)
	assert.Equal(t, "doc-1", ev.DocumentID)
}

func TestPublish_FanOutIdenticalOrder(t *testing.T) {
	b := newTestBroadcaster(t)

	sub1 := b.Subscribe("doc-1")
	sub2 := b.Subscribe("doc-1")

	steps := []string{"convert", "ocr", "persist"}
	for i, step := range steps {
		b.Publish("doc-1", model.ProgressEvent{Type: model.EventProgress, Step: step, Percentage: (i + 1) * 30})
	}
	b.Publish("doc-1", model.ProgressEvent{Type: model.EventComplete, Percentage: 100})

	ev1 := drain(t, sub1)
	ev2 := drain(t, sub2)

	require.Equal(t, len(ev1), len(ev2))
	assert.Equal(t, ev1, ev2, "both subscribers must observe the identical sequence")

	// connected + 3 progress + complete
	require.Len(t, ev1, 5)
	assert.Equal(t, model.EventConnected, ev1[0].Type)
	assert.Equal(t, model.EventComplete, ev1[4].Type)
	assert.Equal(t, 100, ev1[4].Percentage)
}

func TestPublish_NoCrossDocumentLeak(t *testing.T) {
	b := newTestBroadcaster(t)

	sub := b.Subscribe("doc-1")
	b.Publish("doc-2", model.ProgressEvent{Type: model.EventProgress, Step: "ocr", Percentage: 50})
	b.Publish("doc-1", model.ProgressEvent{Type: model.EventComplete, Percentage: 100})

	events := drain(t, sub)
	for _, ev := range events {
		assert.Equal(t, "doc-1", ev.DocumentID)
	}
}

func TestTerminalEvent_ClosesChannelAfterGrace(t *testing.T) {
	b := newTestBroadcaster(t)

	sub := b.Subscribe("doc-1")
	b.Publish("doc-1", model.ProgressEvent{Type: model.EventError, ErrorDetail: &model.ErrorDetail{Message: "boom"}})

	events := drain(t, sub)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventError, events[1].Type)
	assert.Equal(t, 0, b.SubscriberCount("doc-1"))
}

func TestSubscribe_DuringGraceWindowSeesTerminal(t *testing.T) {
	b := New(Options{CloseGrace: 100 * time.Millisecond, SubscriberBuffer: 8})
	defer b.Close()

	b.Subscribe("doc-1") // keep the document known
	b.Publish("doc-1", model.ProgressEvent{Type: model.EventComplete, Percentage: 100})

	late := b.Subscribe("doc-1")
	events := drain(t, late)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventConnected, events[0].Type)
	assert.Equal(t, model.EventComplete, events[1].Type)
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	b := newTestBroadcaster(t)

	sub := b.Subscribe("doc-1")
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	b.Unsubscribe(nil)

	assert.Equal(t, 0, b.SubscriberCount("doc-1"))

	// Publishing after unsubscribe must not panic.
	b.Publish("doc-1", model.ProgressEvent{Type: model.EventProgress, Percentage: 10})
}

func TestHeartbeat_DeliveredToLiveSubscribers(t *testing.T) {
	b := New(Options{HeartbeatInterval: 10 * time.Millisecond, CloseGrace: 20 * time.Millisecond, SubscriberBuffer: 8})
	defer b.Close()

	sub := b.Subscribe("doc-1")
	<-sub.Events() // connected

	select {
	case ev := <-sub.Events():
		assert.Equal(t, model.EventHeartbeat, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no heartbeat received")
	}
}

func TestSlowSubscriber_DoesNotBlockPublish(t *testing.T) {
	b := New(Options{CloseGrace: 10 * time.Millisecond, SubscriberBuffer: 1})
	defer b.Close()

	b.Subscribe("doc-1") // never drained; buffer fills after connected

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish("doc-1", model.ProgressEvent{Type: model.EventProgress, Percentage: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}
