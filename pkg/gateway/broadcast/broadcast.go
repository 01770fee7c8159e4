// Package broadcast fans analysis results and question/answer replies out to
// the subscribers of a session. Session IDs are topics; membership is managed
// by the connection handlers, not here.
package broadcast

import (
	"context"
	"sync"
)

// EventAnalysisResult and EventQnAResponse are the event names delivered to
// subscribers.
const (
	EventAnalysisResult = "analysis_result"
	EventQnAResponse    = "qna_response"
)

// Handle is one subscriber's delivery surface.
type Handle struct {
	Send  func(event string, payload any) error
	Close func()
}

// Broadcaster delivers payloads to every subscriber of a session that is
// connected at publish time. Late subscribers do not receive history.
type Broadcaster struct {
	mu     sync.Mutex
	nextID uint64
	topics map[string]map[uint64]*subscriber
	wg     sync.WaitGroup
}

type subscriber struct {
	handle Handle
	once   sync.Once
}

func New() *Broadcaster {
	return &Broadcaster{
		topics: make(map[string]map[uint64]*subscriber),
	}
}

// Subscribe adds a handle to the session topic and returns its unsubscribe
// func. Unsubscribing more than once is harmless.
func (b *Broadcaster) Subscribe(sessionID string, h Handle) (unsubscribe func()) {
	if b == nil {
		return func() {}
	}

	entry := &subscriber{handle: h}

	b.mu.Lock()
	if b.topics == nil {
		b.topics = make(map[string]map[uint64]*subscriber)
	}
	b.nextID++
	id := b.nextID
	topic := b.topics[sessionID]
	if topic == nil {
		topic = make(map[uint64]*subscriber)
		b.topics[sessionID] = topic
	}
	topic[id] = entry
	b.wg.Add(1)
	b.mu.Unlock()

	return func() { b.unsubscribe(sessionID, id, entry) }
}

func (b *Broadcaster) unsubscribe(sessionID string, id uint64, entry *subscriber) {
	if b == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		b.mu.Lock()
		if topic := b.topics[sessionID]; topic != nil && topic[id] == entry {
			delete(topic, id)
			if len(topic) == 0 {
				delete(b.topics, sessionID)
			}
		}
		b.mu.Unlock()
		b.wg.Done()
	})
}

// Publish delivers one event to every current subscriber of the session.
// Send errors are per-subscriber: a broken subscriber never blocks delivery
// to the rest. Returns the number of subscribers the event was handed to.
func (b *Broadcaster) Publish(sessionID, event string, payload any) (sent int) {
	if b == nil {
		return 0
	}

	var sends []func(event string, payload any) error
	b.mu.Lock()
	for _, entry := range b.topics[sessionID] {
		if entry == nil || entry.handle.Send == nil {
			continue
		}
		sends = append(sends, entry.handle.Send)
	}
	b.mu.Unlock()

	for _, send := range sends {
		_ = send(event, payload)
		sent++
	}
	return sent
}

// SubscriberCount reports how many handles are subscribed to the session.
func (b *Broadcaster) SubscriberCount(sessionID string) int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[sessionID])
}

// CloseAll invokes every subscriber's Close handle. Used when draining.
func (b *Broadcaster) CloseAll() (closed int) {
	if b == nil {
		return 0
	}

	var closes []func()
	b.mu.Lock()
	for _, topic := range b.topics {
		for _, entry := range topic {
			if entry == nil || entry.handle.Close == nil {
				continue
			}
			closes = append(closes, entry.handle.Close)
		}
	}
	b.mu.Unlock()

	for _, c := range closes {
		c()
		closed++
	}
	return closed
}

// Wait blocks until every subscriber has unsubscribed or ctx expires.
// Reports whether the wait completed.
func (b *Broadcaster) Wait(ctx context.Context) bool {
	if b == nil {
		return true
	}
	if ctx == nil {
		b.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
