// Package events appends every row change to a Kafka change log so
// downstream consumers (notifications, search, audit) can follow it.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fathima-sithara/chat-client/internal/domain"
)

// Record is the change-log value. The Kafka key is the topic, so changes
// of one conversation land on one partition in order.
type Record struct {
	Topic string       `json:"topic"`
	Event domain.Event `json:"event"`
	At    time.Time    `json:"at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
	return &KafkaPublisher{writer: w, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, ev domain.Event) error {
	now := time.Now()
	b, err := json.Marshal(Record{Topic: topic, Event: ev, At: now})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(topic),
		Value: b,
		Time:  now,
	})
}

func (p *KafkaPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// Decode parses a change-log value.
func Decode(value []byte) (Record, error) {
	var r Record
	err := json.Unmarshal(value, &r)
	return r, err
}
