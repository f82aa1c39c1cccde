// Package broadcast fans progress events out to the live observers of each
// document. One Broadcaster is constructed per process and passed by
// reference to every collaborator; it owns the documentID → subscriber-list
// registry.
package broadcast

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/docpipe/internal/model"
)

// Subscriber is one live observer of a single document's event stream. The
// stream is closed by the broadcaster after a terminal event, or by
// Unsubscribe.
type Subscriber struct {
	id     uint64
	docID  string
	ch     chan model.ProgressEvent
	closed bool // guarded by the broadcaster's mutex
}

// Events returns the subscriber's ordered event stream.
func (s *Subscriber) Events() <-chan model.ProgressEvent {
	return s.ch
}

// Options tunes broadcaster behavior.
type Options struct {
	// HeartbeatInterval is how often heartbeat events are sent to all live
	// subscribers. Zero disables heartbeats.
	HeartbeatInterval time.Duration

	// CloseGrace is how long after a terminal event the document's channel
	// stays open, so subscribers attached just before closure still observe
	// the terminal state.
	CloseGrace time.Duration

	// SubscriberBuffer is the per-subscriber channel capacity.
	SubscriberBuffer int
}

// Broadcaster delivers ordered progress events to every registered
// subscriber of a document. All live subscribers of one document observe an
// identical ordered sequence; there is no cross-document ordering. A
// subscriber that stops draining its channel is treated as dead and its
// events are dropped silently.
type Broadcaster struct {
	mu       sync.Mutex
	subs     map[string][]*Subscriber
	terminal map[string]model.ProgressEvent // terminal events within their grace window
	nextID   uint64

	opts     Options
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a Broadcaster and starts its heartbeat loop.
func New(opts Options) *Broadcaster {
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 16
	}
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = 500 * time.Millisecond
	}
	b := &Broadcaster{
		subs:     make(map[string][]*Subscriber),
		terminal: make(map[string]model.ProgressEvent),
		opts:     opts,
		stop:     make(chan struct{}),
	}
	if opts.HeartbeatInterval > 0 {
		go b.heartbeatLoop()
	}
	return b
}

// Subscribe registers an observer for a document and immediately delivers a
// connected event. If the document reached a terminal state within the
// grace window, the terminal event is replayed and the subscription closes
// with the rest of the document's channel.
func (b *Broadcaster) Subscribe(documentID string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscriber{
		id:    b.nextID,
		docID: documentID,
		ch:    make(chan model.ProgressEvent, b.opts.SubscriberBuffer),
	}
	b.subs[documentID] = append(b.subs[documentID], sub)

	b.send(sub, model.ProgressEvent{DocumentID: documentID, Type: model.EventConnected})
	if term, ok := b.terminal[documentID]; ok {
		b.send(sub, term)
	}
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Calling it more
// than once, or for an already-closed subscriber, is a no-op.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[sub.docID]
	for i, s := range list {
		if s.id == sub.id {
			b.subs[sub.docID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.docID]) == 0 {
		delete(b.subs, sub.docID)
	}
	b.closeSub(sub)
}

// Publish delivers an event to every current subscriber of the document in
// publish order. A terminal event additionally schedules closure of the
// document's channel after the grace delay.
func (b *Broadcaster) Publish(documentID string, event model.ProgressEvent) {
	event.DocumentID = documentID

	b.mu.Lock()
	for _, sub := range b.subs[documentID] {
		b.send(sub, event)
	}
	if event.Terminal() {
		b.terminal[documentID] = event
	}
	b.mu.Unlock()

	if event.Terminal() {
		time.AfterFunc(b.opts.CloseGrace, func() { b.closeDocument(documentID) })
	}
}

// SubscriberCount returns the number of live subscribers for a document.
func (b *Broadcaster) SubscriberCount(documentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[documentID])
}

// Close stops the heartbeat loop and closes every open subscription.
func (b *Broadcaster) Close() {
	b.stopOnce.Do(func() { close(b.stop) })

	b.mu.Lock()
	defer b.mu.Unlock()
	for docID, list := range b.subs {
		for _, sub := range list {
			b.closeSub(sub)
		}
		delete(b.subs, docID)
	}
}

// send delivers without blocking; callers hold b.mu. A full channel means
// the subscriber stopped draining, so the event is dropped.
func (b *Broadcaster) send(sub *Subscriber, event model.ProgressEvent) {
	if sub.closed {
		return
	}
	select {
	case sub.ch <- event:
	default:
		zap.L().Warn("broadcast: dropping event for slow subscriber",
			zap.String("document_id", sub.docID),
			zap.String("type", string(event.Type)),
		)
	}
}

func (b *Broadcaster) closeSub(sub *Subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
}

func (b *Broadcaster) closeDocument(documentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs[documentID] {
		b.closeSub(sub)
	}
	delete(b.subs, documentID)
	delete(b.terminal, documentID)
}

func (b *Broadcaster) heartbeatLoop() {
	ticker := time.NewTicker(b.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.mu.Lock()
			for docID, list := range b.subs {
				for _, sub := range list {
					b.send(sub, model.ProgressEvent{DocumentID: docID, Type: model.EventHeartbeat})
				}
			}
			b.mu.Unlock()
		}
	}
}
