package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/fathima-sithara/chat-client/internal/domain"
)

const memoryBuffer = 256

type memorySub struct {
	ch   chan domain.Event
	held *domain.Event
}

// MemoryFeed is an in-process Feed and store.Publisher. It can simulate an
// at-least-once transport by duplicating or swapping deliveries.
type MemoryFeed struct {
	mu        sync.Mutex
	subs      map[string]map[*memorySub]struct{}
	dropped   atomic.Int64
	duplicate bool
	reorder   bool
}

type MemoryOption func(*MemoryFeed)

// WithDuplicates delivers every event twice.
func WithDuplicates() MemoryOption { return func(f *MemoryFeed) { f.duplicate = true } }

// WithReordering holds every other event back until the next one on the
// same subscription was delivered. Flush releases held events.
func WithReordering() MemoryOption { return func(f *MemoryFeed) { f.reorder = true } }

func NewMemoryFeed(opts ...MemoryOption) *MemoryFeed {
	f := &MemoryFeed{subs: make(map[string]map[*memorySub]struct{})}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *MemoryFeed) Subscribe(ctx context.Context, topic string) (<-chan domain.Event, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s := &memorySub{ch: make(chan domain.Event, memoryBuffer)}
	f.mu.Lock()
	if f.subs[topic] == nil {
		f.subs[topic] = make(map[*memorySub]struct{})
	}
	f.subs[topic][s] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			f.mu.Lock()
			if set, ok := f.subs[topic]; ok {
				delete(set, s)
				if len(set) == 0 {
					delete(f.subs, topic)
				}
			}
			close(s.ch)
			f.mu.Unlock()
		})
	}
	return s.ch, release, nil
}

func (f *MemoryFeed) Publish(ctx context.Context, topic string, ev domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subs[topic] {
		if f.reorder && s.held == nil {
			held := ev
			s.held = &held
			continue
		}
		f.deliver(s, ev)
		if s.held != nil {
			f.deliver(s, *s.held)
			s.held = nil
		}
	}
	return nil
}

func (f *MemoryFeed) deliver(s *memorySub, ev domain.Event) {
	n := 1
	if f.duplicate {
		n = 2
	}
	for range n {
		select {
		case s.ch <- ev:
		default:
			// slow subscriber
			f.dropped.Add(1)
		}
	}
}

// Flush delivers every held event.
func (f *MemoryFeed) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, set := range f.subs {
		for s := range set {
			if s.held != nil {
				f.deliver(s, *s.held)
				s.held = nil
			}
		}
	}
}

// Subscribers reports how many live subscriptions a topic has.
func (f *MemoryFeed) Subscribers(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[topic])
}

// Total reports the number of live subscriptions across all topics.
func (f *MemoryFeed) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, set := range f.subs {
		n += len(set)
	}
	return n
}

func (f *MemoryFeed) Dropped() int64 { return f.dropped.Load() }
