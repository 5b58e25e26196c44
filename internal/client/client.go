// Package client coordinates the session, conversation registry, message
// ledger, outbound dispatcher and realtime bridge into the single state a
// chat UI renders.
package client

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-client/internal/dispatcher"
	"github.com/fathima-sithara/chat-client/internal/domain"
	"github.com/fathima-sithara/chat-client/internal/ledger"
	"github.com/fathima-sithara/chat-client/internal/logger"
	"github.com/fathima-sithara/chat-client/internal/realtime"
	"github.com/fathima-sithara/chat-client/internal/registry"
	"github.com/fathima-sithara/chat-client/internal/session"
	"github.com/fathima-sithara/chat-client/internal/store"
)

const maxNotices = 50

type Config struct {
	EchoTolerance time.Duration
	Dispatcher    dispatcher.Config
	// MarkReadTimeout bounds the background read-receipt write.
	MarkReadTimeout time.Duration
}

type Client struct {
	session *session.Store
	store   store.Store
	reg     *registry.Registry
	ledger  *ledger.Ledger
	disp    *dispatcher.Dispatcher
	bridge  *realtime.Bridge
	cfg     Config
	log     *zap.Logger
	bg      sync.WaitGroup

	mu        sync.Mutex
	base      context.Context
	stop      context.CancelFunc
	uid       string
	gen       uint64
	cancel    context.CancelFunc
	loading   bool
	loadErr   error
	notices   []domain.Notice
	observers map[int]func()
	nextObs   int
}

func New(sess *session.Store, st store.Store, feed realtime.Feed, cfg Config, log *zap.Logger) *Client {
	log = logger.OrNop(log)
	if cfg.MarkReadTimeout <= 0 {
		cfg.MarkReadTimeout = 10 * time.Second
	}
	c := &Client{
		session:   sess,
		store:     st,
		cfg:       cfg,
		log:       log.Named("client"),
		bridge:    realtime.NewBridge(feed, log),
		base:      context.Background(),
		observers: make(map[int]func()),
	}
	c.ledger = ledger.New(st,
		ledger.WithEchoTolerance(cfg.EchoTolerance),
		ledger.WithLogger(log),
		ledger.OnChange(func(string) { c.changed() }),
	)
	c.reg = registry.New(st, sess, registry.WithNotifier(c), registry.WithLogger(log))
	c.disp = dispatcher.New(c.ledger, st, cfg.Dispatcher, dispatcher.WithNotifier(c), dispatcher.WithLogger(log))
	c.reg.OnSelect(c.onSelect)
	sess.OnChange(c.onIdentity)
	return c
}

// Start loads the conversation list of a rehydrated identity and attaches
// its membership feed. Work started later derives from ctx.
func (c *Client) Start(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	c.mu.Lock()
	c.base, c.stop = ctx, stop
	c.mu.Unlock()

	if c.session.UserID() == "" {
		return nil
	}
	return c.attach(ctx)
}

func (c *Client) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base
}

func (c *Client) attach(ctx context.Context) error {
	uid := c.session.UserID()
	c.mu.Lock()
	c.uid = uid
	c.mu.Unlock()
	if err := c.bridge.AttachMemberships(ctx, uid, c.onMembership); err != nil {
		c.log.Warn("membership feed unavailable", zap.String("user_id", uid), zap.Error(err))
	}
	_, err := c.reg.Refresh(ctx)
	c.changed()
	return err
}

func (c *Client) onIdentity(id *domain.Identity) {
	c.mu.Lock()
	prev := c.uid
	c.mu.Unlock()
	if id == nil || (prev != "" && prev != id.ID) {
		c.reset()
	}
	if id == nil {
		c.changed()
		return
	}
	if err := c.attach(c.context()); err != nil {
		c.log.Warn("initial refresh failed", zap.Error(err))
	}
}

// reset drops everything the previous identity could see.
func (c *Client) reset() {
	c.reg.Clear()
	c.bridge.Close()
	c.ledger.Reset()
	c.mu.Lock()
	c.uid = ""
	c.loadErr = nil
	c.mu.Unlock()
}

// Stop releases every subscription and waits for background work.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.stop != nil {
		c.stop()
	}
	c.mu.Unlock()
	c.bridge.Close()
	c.Wait()
}

// Wait blocks until in-flight sends and read receipts settled.
func (c *Client) Wait() {
	c.disp.Wait()
	c.bg.Wait()
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Client) onSelect(prev, next *domain.Conversation) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.loadErr = nil
	c.loading = next != nil
	var ctx context.Context
	if next != nil {
		ctx, c.cancel = context.WithCancel(c.base)
	}
	c.mu.Unlock()

	c.bridge.DetachConversation()
	if next == nil {
		c.changed()
		return
	}

	uid := c.session.UserID()
	conv := *next
	// subscribe before fetching so nothing between the two is lost
	if _, err := c.bridge.AttachConversation(ctx, domain.TopicFor(uid, conv), c.conversationHandler(ctx, gen, conv)); err != nil {
		c.Notify(domain.Error("Realtime updates unavailable"))
	}
	c.changed()

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		c.load(ctx, gen, uid, conv)
	}()
}

func (c *Client) load(ctx context.Context, gen uint64, uid string, conv domain.Conversation) {
	_, err := c.ledger.Load(ctx, uid, conv.ID)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.loading = false
	if err != nil && ctx.Err() == nil {
		c.loadErr = err
	}
	c.mu.Unlock()

	switch {
	case ctx.Err() != nil:
		return
	case err != nil:
		c.log.Warn("load messages failed", zap.String("conversation_id", conv.ID), zap.Error(err))
		c.Notify(domain.Error("Failed to load messages"))
	default:
		c.markViewed(ctx, gen, uid, conv)
	}
	c.changed()
}

// markViewed marks every peer message of the active conversation READ and
// persists the receipts in the background.
func (c *Client) markViewed(ctx context.Context, gen uint64, uid string, conv domain.Conversation) {
	if !c.current(gen) {
		return
	}
	last, ok := c.ledger.Last(conv.ID)
	if !ok {
		return
	}
	ids, err := c.ledger.MarkRead(conv.ID, last.ID, uid)
	if err != nil || len(ids) == 0 {
		return
	}
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.MarkReadTimeout)
		defer cancel()
		if err := c.store.MarkRead(wctx, conv.ID, ids); err != nil {
			c.log.Warn("mark read failed", zap.String("conversation_id", conv.ID), zap.Int("count", len(ids)), zap.Error(err))
		}
	}()
}

func (c *Client) conversationHandler(ctx context.Context, gen uint64, conv domain.Conversation) realtime.Handler {
	return func(ev domain.Event) {
		if !c.current(gen) {
			return
		}
		switch ev.Table {
		case domain.TableMessages:
			m, err := ev.Message()
			if err != nil {
				c.log.Warn("bad message event", zap.Error(err))
				return
			}
			m.ConversationID = conv.ID
			m.Provisional = false
			c.ledger.Append(m)
			uid := c.session.UserID()
			if ev.Type == domain.EventInsert && m.SenderID != uid {
				c.markViewed(ctx, gen, uid, conv)
			}
		case domain.TableMemberships:
			if err := c.reg.HandleMembership(ctx, ev); err != nil {
				c.log.Debug("membership change not applied", zap.Error(err))
			}
		}
	}
}

func (c *Client) onMembership(ev domain.Event) {
	if err := c.reg.HandleMembership(c.context(), ev); err != nil {
		c.log.Debug("membership change not applied", zap.Error(err))
	}
	c.changed()
}

// Notify records a notice and wakes observers.
func (c *Client) Notify(n domain.Notice) {
	c.mu.Lock()
	c.notices = append(c.notices, n)
	if len(c.notices) > maxNotices {
		c.notices = slices.Delete(c.notices, 0, len(c.notices)-maxNotices)
	}
	c.mu.Unlock()
	c.log.Debug("notice", zap.String("level", string(n.Level)), zap.String("text", n.Text))
	c.changed()
}

// Notices returns the retained notices, oldest first.
func (c *Client) Notices() []domain.Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.notices)
}

// Observe registers fn to run after any state change. The returned func
// removes it.
func (c *Client) Observe(fn func()) func() {
	c.mu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

func (c *Client) changed() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *Client) Identity() (domain.Identity, bool) { return c.session.Current() }

func (c *Client) SignIn(id domain.Identity) error { return c.session.SignIn(id) }

func (c *Client) SignOut() error { return c.session.SignOut() }

func (c *Client) Refresh(ctx context.Context) ([]domain.Conversation, error) {
	list, err := c.reg.Refresh(ctx)
	c.changed()
	return list, err
}

func (c *Client) Select(id string) error { return c.reg.Select(id) }

func (c *Client) Deselect() { c.reg.Deselect() }

func (c *Client) Active() (domain.Conversation, bool) { return c.reg.Active() }

func (c *Client) CreateRoom(ctx context.Context, name string, isPrivate bool) (domain.Conversation, error) {
	return c.reg.Create(ctx, name, isPrivate)
}

func (c *Client) JoinByCode(ctx context.Context, code string) (bool, error) {
	return c.reg.JoinByCode(ctx, code)
}

// Send posts text to the active conversation. It returns false when
// nothing was sent.
func (c *Client) Send(text string) (domain.Message, bool) {
	conv, ok := c.reg.Active()
	if !ok {
		return domain.Message{}, false
	}
	return c.disp.Send(conv.ID, c.session.UserID(), text)
}

func (c *Client) Retry(id string) error {
	conv, ok := c.reg.Active()
	if !ok {
		return fmt.Errorf("no active conversation: %w", domain.ErrNotFound)
	}
	return c.disp.Retry(conv.ID, id)
}

// Members lists the members of the active room, or the peer of a direct
// conversation.
func (c *Client) Members(ctx context.Context) ([]domain.Identity, error) {
	conv, ok := c.reg.Active()
	if !ok {
		return nil, fmt.Errorf("no active conversation: %w", domain.ErrNotFound)
	}
	if conv.IsRoom() {
		return c.store.ListMembers(ctx, conv.ID)
	}
	peer, err := c.store.GetProfile(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return []domain.Identity{peer}, nil
}
