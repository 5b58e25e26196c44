package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/chat-client/internal/domain"
)

type recorder struct {
	mu  sync.Mutex
	got []domain.Event
}

func (r *recorder) handle(ev domain.Event) {
	r.mu.Lock()
	r.got = append(r.got, ev)
	r.mu.Unlock()
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func event(id string) domain.Event {
	return domain.NewMessageEvent(domain.EventInsert, domain.Message{ID: id, ConversationID: "c1", SenderID: "bob", Body: id})
}

func TestBridgeSwitchReleasesPreviousScope(t *testing.T) {
	ctx := context.Background()
	feed := NewMemoryFeed()
	b := NewBridge(feed, nil)
	first, second := &recorder{}, &recorder{}

	_, err := b.AttachConversation(ctx, domain.ConversationTopic("c1"), first.handle)
	require.NoError(t, err)
	require.Equal(t, 1, feed.Subscribers(domain.ConversationTopic("c1")))

	_, err = b.AttachConversation(ctx, domain.ConversationTopic("c2"), second.handle)
	require.NoError(t, err)
	require.Zero(t, feed.Subscribers(domain.ConversationTopic("c1")))
	require.Equal(t, []string{domain.ConversationTopic("c2")}, b.Topics())

	require.NoError(t, feed.Publish(ctx, domain.ConversationTopic("c1"), event("m1")))
	require.NoError(t, feed.Publish(ctx, domain.ConversationTopic("c2"), event("m2")))
	require.Eventually(t, func() bool { return second.len() == 1 }, time.Second, 5*time.Millisecond)
	require.Zero(t, first.len())
}

func TestBridgeCloseReleasesAll(t *testing.T) {
	ctx := context.Background()
	feed := NewMemoryFeed()
	b := NewBridge(feed, nil)
	r := &recorder{}

	_, err := b.AttachConversation(ctx, domain.ConversationTopic("c1"), r.handle)
	require.NoError(t, err)
	require.NoError(t, b.AttachMemberships(ctx, "me", r.handle))
	require.Equal(t, 2, feed.Total())

	b.Close()
	require.Zero(t, feed.Total())
	require.Empty(t, b.Topics())

	// closing twice is harmless
	b.Close()
	b.DetachConversation()
}

func TestScopeCloseStopsDelivery(t *testing.T) {
	ctx := context.Background()
	feed := NewMemoryFeed()
	b := NewBridge(feed, nil)
	r := &recorder{}

	s, err := b.AttachConversation(ctx, domain.ConversationTopic("c1"), r.handle)
	require.NoError(t, err)
	s.Close()
	s.Close()

	require.NoError(t, feed.Publish(ctx, domain.ConversationTopic("c1"), event("m1")))
	require.Never(t, func() bool { return r.len() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestMemoryFeedFaults(t *testing.T) {
	ctx := context.Background()
	feed := NewMemoryFeed(WithDuplicates(), WithReordering())
	ch, release, err := feed.Subscribe(ctx, "t")
	require.NoError(t, err)
	defer release()

	require.NoError(t, feed.Publish(ctx, "t", event("m1")))
	require.NoError(t, feed.Publish(ctx, "t", event("m2")))
	require.NoError(t, feed.Publish(ctx, "t", event("m3")))
	feed.Flush()

	var ids []string
	for range 6 {
		m, err := (<-ch).Message()
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}
	require.Equal(t, []string{"m2", "m2", "m1", "m1", "m3", "m3"}, ids)
}

func TestSubscribeCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewMemoryFeed().Subscribe(ctx, "t")
	require.ErrorIs(t, err, context.Canceled)
}
