package marketdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type assetPayload string

func (a assetPayload) EventAssetID() string { return string(a) }

func TestBus_AssetFilter(t *testing.T) {
	bus := NewBus()
	all := bus.Subscribe("")
	aapl := bus.Subscribe("aapl")
	defer bus.Unsubscribe(all)
	defer bus.Unsubscribe(aapl)

	bus.Publish(Event{Type: EventTrade, Data: assetPayload("msft")})
	bus.Publish(Event{Type: EventTrade, Data: assetPayload("aapl")})

	require.Len(t, all, 2)
	require.Len(t, aapl, 1)
	got := <-aapl
	assert.Equal(t, assetPayload("aapl"), got.Data)
}

func TestBus_FullSubscriberDropsEvents(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe("")
	for i := 0; i < cap(ch)+10; i++ {
		bus.Publish(Event{Type: EventTrade})
	}
	assert.Len(t, ch, cap(ch))
	bus.Unsubscribe(ch)
	bus.Unsubscribe(ch)
}

type recorder struct{ events []Event }

func (r *recorder) Publish(evt Event) { r.events = append(r.events, evt) }

func TestFanout(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Fanout{a, nil, b}.Publish(Event{Type: EventTrade})
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}
