// Package events fans session activity out to SSE clients so an operator UI
// can follow selections and captures live without polling.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/uiforensics/elementcap/internal/protocol"
)

const subscriberBufSize = 256

// Event is one outbound SSE event. Name is the SSE event type, Payload the
// serialized data line.
type Event struct {
	Name       string
	SessionKey string
	Payload    string
}

// Broker fans out events to all subscribed SSE clients.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
}

// NewBroker creates an SSE event broker.
func NewBroker() *Broker {
	return &Broker{subscribers: make(map[int64]chan Event)}
}

// Subscribe registers a new client. The channel is buffered; slow consumers
// have events dropped.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers without blocking.
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Record adapts the broker to the coordinator's journal hook so every routed
// message is also published as a live event. Image bytes are not forwarded;
// clients fetch them over the records API.
func (b *Broker) Record(direction string, msg protocol.Message) {
	payload := struct {
		Direction  string `json:"direction"`
		SessionKey string `json:"session_key"`
		NoticeCode string `json:"notice_code,omitempty"`
	}{
		Direction:  direction,
		SessionKey: msg.SessionKey,
	}
	if msg.Notice != nil {
		payload.NoticeCode = msg.Notice.Code
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	b.Publish(Event{Name: string(msg.Type), SessionKey: msg.SessionKey, Payload: string(data)})
}
