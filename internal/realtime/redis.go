package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-client/internal/domain"
	"github.com/fathima-sithara/chat-client/internal/logger"
)

// RedisFeed carries row changes over Redis pub/sub. Channels are named
// <prefix>:<topic>, e.g. chat:conv:<roomID>.
type RedisFeed struct {
	client *redis.Client
	prefix string
	log    *zap.Logger
}

func NewRedisFeed(r *redis.Client, prefix string, log *zap.Logger) *RedisFeed {
	return &RedisFeed{client: r, prefix: prefix, log: logger.OrNop(log).Named("redis-feed")}
}

func (f *RedisFeed) channel(topic string) string { return fmt.Sprintf("%s:%s", f.prefix, topic) }

func (f *RedisFeed) Publish(ctx context.Context, topic string, ev domain.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.channel(topic), b).Err()
}

func (f *RedisFeed) Subscribe(ctx context.Context, topic string) (<-chan domain.Event, func(), error) {
	ps := f.client.Subscribe(ctx, f.channel(topic))
	// wait for the subscription confirmation so no event published after
	// Subscribe returns is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("%w: subscribe %s: %v", domain.ErrTransient, topic, err)
	}

	out := make(chan domain.Event, memoryBuffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ps.Channel():
				if !ok {
					return
				}
				var ev domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					f.log.Warn("invalid event payload", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
	return out, release, nil
}
