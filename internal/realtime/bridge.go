package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-client/internal/domain"
	"github.com/fathima-sithara/chat-client/internal/logger"
	"github.com/fathima-sithara/chat-client/internal/metrics"
)

type Handler func(domain.Event)

// Scope is a live subscription. Closing it releases the underlying feed
// subscription; no handler call starts after Close returns.
type Scope struct {
	topic   string
	release func()
	closed  atomic.Bool
	once    sync.Once
}

func (s *Scope) Topic() string { return s.topic }

func (s *Scope) Close() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.release()
		metrics.ActiveSubscriptions.Dec()
	})
}

func (s *Scope) run(ch <-chan domain.Event, h Handler) {
	for ev := range ch {
		if s.closed.Load() {
			continue
		}
		metrics.RealtimeEvents.WithLabelValues(string(ev.Table), string(ev.Type)).Inc()
		h(ev)
	}
}

// Bridge holds at most one conversation scope and one membership scope.
type Bridge struct {
	feed Feed
	log  *zap.Logger

	mu     sync.Mutex
	conv   *Scope
	member *Scope
}

func NewBridge(feed Feed, log *zap.Logger) *Bridge {
	return &Bridge{feed: feed, log: logger.OrNop(log).Named("bridge")}
}

func (b *Bridge) open(ctx context.Context, topic string, h Handler) (*Scope, error) {
	ch, release, err := b.feed.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	s := &Scope{topic: topic, release: release}
	metrics.ActiveSubscriptions.Inc()
	go s.run(ch, h)
	return s, nil
}

// AttachConversation replaces the current conversation scope with one on
// topic. The previous scope is released first.
func (b *Bridge) AttachConversation(ctx context.Context, topic string, h Handler) (*Scope, error) {
	b.DetachConversation()
	s, err := b.open(ctx, topic, h)
	if err != nil {
		b.log.Warn("attach conversation failed", zap.String("topic", topic), zap.Error(err))
		return nil, err
	}
	b.mu.Lock()
	prev := b.conv
	b.conv = s
	b.mu.Unlock()
	// a concurrent attach may have raced in between
	if prev != nil {
		prev.Close()
	}
	b.log.Debug("conversation attached", zap.String("topic", topic))
	return s, nil
}

func (b *Bridge) DetachConversation() {
	b.mu.Lock()
	s := b.conv
	b.conv = nil
	b.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

// AttachMemberships subscribes to membership changes of userID.
func (b *Bridge) AttachMemberships(ctx context.Context, userID string, h Handler) error {
	b.DetachMemberships()
	s, err := b.open(ctx, domain.MembershipTopic(userID), h)
	if err != nil {
		return err
	}
	b.mu.Lock()
	prev := b.member
	b.member = s
	b.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return nil
}

func (b *Bridge) DetachMemberships() {
	b.mu.Lock()
	s := b.member
	b.member = nil
	b.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

// Topics returns the topics of the live scopes, conversation first.
func (b *Bridge) Topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	if b.conv != nil {
		out = append(out, b.conv.topic)
	}
	if b.member != nil {
		out = append(out, b.member.topic)
	}
	return out
}

// Close releases every scope.
func (b *Bridge) Close() {
	b.DetachConversation()
	b.DetachMemberships()
}
