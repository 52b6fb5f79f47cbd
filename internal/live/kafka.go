package live

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/theraline/theraline/internal/chat"
)

// KafkaMirror copies live events onto a kafka topic so peer nodes can feed
// their own connected clients. Mirroring is fire-and-forget; a write
// failure is logged and the in-process path is unaffected.
type KafkaMirror struct {
	writer *kafka.Writer
}

// NewKafkaMirror builds a producer for the event topic. Messages are keyed
// by conversation id so one conversation's events stay ordered within a
// partition.
func NewKafkaMirror(brokers []string, topic string) *KafkaMirror {
	return &KafkaMirror{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: 5 * time.Second,
			RequiredAcks: kafka.RequireNone,
		},
	}
}

// Publish implements chat.Publisher.
func (m *KafkaMirror) Publish(ev chat.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error("failed to marshal event: %v", err)
		return
	}

	err = m.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(ev.ConversationID),
		Value: data,
	})
	if err != nil {
		log.Warn("kafka mirror write failed: %v", err)
	}
}

// Close shuts the producer down.
func (m *KafkaMirror) Close() error {
	return m.writer.Close()
}

// RunConsumer reads mirrored events from the topic and republishes them
// into sink until ctx is cancelled. sink is the node's local delivery
// fanout (bridge plus websocket hub); the kafka mirror itself must not be
// part of it, or consumed events would loop back onto the topic.
func RunConsumer(ctx context.Context, brokers []string, topic, groupID string, sink chat.Publisher) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
	})
	defer reader.Close()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		republish(sink, msg.Value, topic)
	}
}

// republish decodes one mirrored payload and hands it to the local sink.
func republish(sink chat.Publisher, value []byte, topic string) {
	var ev chat.Event
	if err := json.Unmarshal(value, &ev); err != nil {
		log.Warn("dropping undecodable event from topic %s: %v", topic, err)
		return
	}

	sink.Publish(ev)
}
