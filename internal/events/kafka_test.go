package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"lv-tradecore/internal/marketdata"
	"lv-tradecore/internal/model"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func newTestProducer(w messageWriter) *Producer {
	return &Producer{writer: w, log: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestProducer_KeysTradesByAsset(t *testing.T) {
	w := &fakeWriter{}
	p := newTestProducer(w)
	exec := model.TradeExecution{ID: "e1", AssetID: "asset-1", Quantity: decimal.NewFromInt(3), Price: decimal.NewFromInt(7)}
	p.Publish(marketdata.Event{Type: marketdata.EventTrade, Data: exec})

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "asset-1", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "trade", string(msg.Headers[0].Value))

	var decoded struct {
		Type string               `json:"type"`
		Data model.TradeExecution `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "e1", decoded.Data.ID)
	assert.True(t, decoded.Data.Price.Equal(decimal.NewFromInt(7)))
}

func TestProducer_UnkeyedEvent(t *testing.T) {
	w := &fakeWriter{}
	newTestProducer(w).Publish(marketdata.Event{Type: marketdata.EventOrderExpiry, Data: map[string]string{"order_id": "o1"}})
	require.Len(t, w.msgs, 1)
	assert.Nil(t, w.msgs[0].Key)
}

func TestProducer_WriteErrorIsSwallowed(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	assert.NotPanics(t, func() {
		newTestProducer(w).Publish(marketdata.Event{Type: marketdata.EventTrade, Data: model.TradeExecution{AssetID: "a"}})
	})
}

func TestProducer_UnencodableEventIsDropped(t *testing.T) {
	w := &fakeWriter{}
	newTestProducer(w).Publish(marketdata.Event{Type: "bad", Data: make(chan int)})
	assert.Empty(t, w.msgs)
}
