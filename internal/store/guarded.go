package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-client/internal/domain"
	"github.com/fathima-sithara/chat-client/internal/logger"
)

type BreakerConfig struct {
	MaxFailures uint32
	Interval    time.Duration
	Timeout     time.Duration
	CallTimeout time.Duration
}

// Guarded wraps a Store with a circuit breaker and a per-call deadline.
// Every error it returns carries one of the domain sentinels.
type Guarded struct {
	next    Store
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

func NewGuarded(next Store, cfg BreakerConfig, log *zap.Logger) *Guarded {
	log = logger.OrNop(log).Named("store")
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	st := gobreaker.Settings{
		Name:        "store",
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(domain.Classify(err), domain.ErrTransient)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &Guarded{next: next, cb: gobreaker.NewCircuitBreaker(st), timeout: cfg.CallTimeout}
}

func guard[T any](g *Guarded, ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	out, err := g.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%s: %w: %v", op, domain.ErrTransient, err)
		}
		return zero, fmt.Errorf("%s: %w", op, domain.Classify(err))
	}
	return out.(T), nil
}

type none struct{}

func (g *Guarded) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	return guard(g, ctx, "list conversations", func(ctx context.Context) ([]domain.Conversation, error) {
		return g.next.ListConversations(ctx, userID)
	})
}

func (g *Guarded) GetConversation(ctx context.Context, userID, id string) (domain.Conversation, error) {
	return guard(g, ctx, "get conversation", func(ctx context.Context) (domain.Conversation, error) {
		return g.next.GetConversation(ctx, userID, id)
	})
}

func (g *Guarded) CreateRoom(ctx context.Context, in RoomInput) (domain.Conversation, error) {
	return guard(g, ctx, "create room", func(ctx context.Context) (domain.Conversation, error) {
		return g.next.CreateRoom(ctx, in)
	})
}

func (g *Guarded) FindRoomsByCode(ctx context.Context, code string) ([]domain.Conversation, error) {
	return guard(g, ctx, "find rooms by code", func(ctx context.Context) ([]domain.Conversation, error) {
		return g.next.FindRoomsByCode(ctx, code)
	})
}

func (g *Guarded) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	return guard(g, ctx, "is member", func(ctx context.Context) (bool, error) {
		return g.next.IsMember(ctx, roomID, userID)
	})
}

func (g *Guarded) AddMember(ctx context.Context, roomID, userID string) error {
	_, err := guard(g, ctx, "add member", func(ctx context.Context) (none, error) {
		return none{}, g.next.AddMember(ctx, roomID, userID)
	})
	return err
}

func (g *Guarded) ListMembers(ctx context.Context, roomID string) ([]domain.Identity, error) {
	return guard(g, ctx, "list members", func(ctx context.Context) ([]domain.Identity, error) {
		return g.next.ListMembers(ctx, roomID)
	})
}

func (g *Guarded) ListMessages(ctx context.Context, userID, conversationID string) ([]domain.Message, error) {
	return guard(g, ctx, "list messages", func(ctx context.Context) ([]domain.Message, error) {
		return g.next.ListMessages(ctx, userID, conversationID)
	})
}

func (g *Guarded) InsertMessage(ctx context.Context, m domain.Message) (domain.Message, error) {
	return guard(g, ctx, "insert message", func(ctx context.Context) (domain.Message, error) {
		return g.next.InsertMessage(ctx, m)
	})
}

func (g *Guarded) MarkRead(ctx context.Context, conversationID string, ids []string) error {
	_, err := guard(g, ctx, "mark read", func(ctx context.Context) (none, error) {
		return none{}, g.next.MarkRead(ctx, conversationID, ids)
	})
	return err
}

func (g *Guarded) GetProfile(ctx context.Context, id string) (domain.Identity, error) {
	return guard(g, ctx, "get profile", func(ctx context.Context) (domain.Identity, error) {
		return g.next.GetProfile(ctx, id)
	})
}
