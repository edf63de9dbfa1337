package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaForwarder mirrors bus events onto a Kafka topic, keyed by event type.
type KafkaForwarder struct {
	bus    *Bus
	writer messageWriter
	logger *zap.Logger
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

func NewKafkaForwarder(bus *Bus, writer messageWriter, logger *zap.Logger) *KafkaForwarder {
	return &KafkaForwarder{bus: bus, writer: writer, logger: logger.With(zap.String("component", "kafka"))}
}

// Run forwards until ctx is done and then closes the writer.
func (f *KafkaForwarder) Run(ctx context.Context) {
	sub := f.bus.Subscribe()
	defer f.bus.Unsubscribe(sub)
	defer func() {
		if err := f.writer.Close(); err != nil {
			f.logger.Warn("kafka writer close failed", zap.Error(err))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			f.forward(ctx, evt)
		}
	}
}

func (f *KafkaForwarder) forward(ctx context.Context, evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		f.logger.Error("marshal event failed", zap.String("type", evt.Type), zap.Error(err))
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := f.writer.WriteMessages(writeCtx, kafka.Message{Key: []byte(evt.Type), Value: payload}); err != nil {
		f.logger.Warn("kafka publish failed", zap.String("type", evt.Type), zap.Error(err))
	}
}
