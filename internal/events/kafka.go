// Package events forwards committed trading events to Kafka for
// downstream consumers such as settlement and reporting.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"lv-tradecore/internal/marketdata"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes bus events to one topic keyed by asset, so all events
// of an asset land on one partition in commit order.
type Producer struct {
	writer  messageWriter
	timeout time.Duration
	log     *slog.Logger
}

func NewProducer(brokers []string, topic string, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		BatchTimeout: 10 * time.Millisecond,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Error("kafka delivery failed", "topic", topic, "messages", len(msgs), "error", err)
			}
		},
	}
	return &Producer{writer: w, timeout: 5 * time.Second, log: logger}
}

func (p *Producer) Publish(evt marketdata.Event) {
	msg, err := message(evt)
	if err != nil {
		p.log.Error("encode event", "type", evt.Type, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("kafka write failed", "type", evt.Type, "error", err)
	}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func message(evt marketdata.Event) (kafka.Message, error) {
	value, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal %s event: %w", evt.Type, err)
	}
	var key []byte
	if ae, ok := evt.Data.(marketdata.AssetEvent); ok {
		key = []byte(ae.EventAssetID())
	}
	return kafka.Message{
		Key:   key,
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
		},
		Time: time.Now().UTC(),
	}, nil
}
