package fund

import (
	"sync"
	"time"
)

// EventType identifies a fund lifecycle or accounting event.
type EventType string

const (
	EventFundCreated     EventType = "FundCreated"
	EventFundShutDown    EventType = "FundShutDown"
	EventRequestCreated  EventType = "RequestCreated"
	EventRequestExecuted EventType = "RequestExecuted"
	EventRequestCanceled EventType = "RequestCanceled"
	EventFeesSettled     EventType = "FeesSettled"
	EventSharesRedeemed  EventType = "SharesRedeemed"
	EventTradeExecuted   EventType = "TradeExecuted"
	EventPolicyRejected  EventType = "PolicyRejected"
)

// Event is emitted for observability and indexing. Amounts are decimal
// strings so events survive JSON round-trips without precision loss.
type Event struct {
	Type      EventType `json:"type"`
	Fund      string    `json:"fund"`
	Owner     string    `json:"owner,omitempty"`
	Caller    string    `json:"caller,omitempty"`
	Asset     string    `json:"asset,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	Shares    string    `json:"shares,omitempty"`
	Incentive string    `json:"incentive,omitempty"`
	Adapter   string    `json:"adapter,omitempty"`
	Policy    string    `json:"policy,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// Publisher receives every emitted event.
type Publisher interface {
	Publish(Event)
}

// Broker fans events out to in-process subscribers. Slow subscribers are
// skipped rather than blocking the emitting call.
type Broker struct {
	subs []chan Event
	mu   sync.RWMutex
}

// NewBroker creates an event broker.
func NewBroker() *Broker {
	return &Broker{}
}

// Subscribe returns a channel receiving all subsequent events.
func (b *Broker) Subscribe() <-chan Event {
	ch := make(chan Event, 256)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish implements Publisher.
func (b *Broker) Publish(e Event) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixNano()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is not ready, skip
		}
	}
}

// MultiPublisher forwards events to several publishers.
type MultiPublisher []Publisher

// Publish implements Publisher.
func (m MultiPublisher) Publish(e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}
