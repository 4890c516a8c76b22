package marketdata

import (
	"sync"
)

const (
	EventTrade       = "trade"
	EventOrderExpiry = "order_expired"
)

type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// AssetEvent is implemented by payloads that belong to one asset so
// subscribers can filter on it.
type AssetEvent interface {
	EventAssetID() string
}

type subscription struct {
	assetID string
}

// Bus fans events out to in-process subscribers. Slow subscribers drop
// events rather than stall the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]subscription)}
}

// Subscribe returns a channel receiving every event, or only those of one
// asset when assetID is set.
func (b *Bus) Subscribe(assetID string) chan Event {
	ch := make(chan Event, 100)
	b.mu.Lock()
	b.subs[ch] = subscription{assetID: assetID}
	b.mu.Unlock()
	return ch
}

func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(evt Event) {
	assetID := ""
	if ae, ok := evt.Data.(AssetEvent); ok {
		assetID = ae.EventAssetID()
	}
	b.mu.RLock()
	for ch, sub := range b.subs {
		if sub.assetID != "" && sub.assetID != assetID {
			continue
		}
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.RUnlock()
}

type Publisher interface {
	Publish(evt Event)
}

// Fanout publishes each event to every target in order.
type Fanout []Publisher

func (f Fanout) Publish(evt Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(evt)
		}
	}
}
