package events

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/chat-client/internal/domain"
)

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublishKeysByTopic(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, topic: "chat.changes"}
	ev := domain.NewMessageEvent(domain.EventInsert, domain.Message{ID: "m1", ConversationID: "r1", SenderID: "a", Body: "hi"})

	require.NoError(t, p.Publish(context.Background(), domain.ConversationTopic("r1"), ev))
	require.Len(t, w.msgs, 1)
	require.Equal(t, "conv:r1", string(w.msgs[0].Key))

	rec, err := Decode(w.msgs[0].Value)
	require.NoError(t, err)
	require.Equal(t, "conv:r1", rec.Topic)
	m, err := rec.Event.Message()
	require.NoError(t, err)
	require.Equal(t, "m1", m.ID)
}
