// Package registry tracks the conversations visible to the signed-in
// identity and which one is active.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-client/internal/domain"
	"github.com/fathima-sithara/chat-client/internal/logger"
	"github.com/fathima-sithara/chat-client/internal/store"
)

const (
	codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	codeLength   = 6
	createTries  = 3
)

// Store is the slice of the backing store the registry needs.
type Store interface {
	ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error)
	GetConversation(ctx context.Context, userID, id string) (domain.Conversation, error)
	CreateRoom(ctx context.Context, in store.RoomInput) (domain.Conversation, error)
	FindRoomsByCode(ctx context.Context, code string) ([]domain.Conversation, error)
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	AddMember(ctx context.Context, roomID, userID string) error
}

// Identity reports the signed-in user id, "" when signed out.
type Identity interface {
	UserID() string
}

// SelectFunc observes active-conversation changes. next is nil when the
// selection was cleared.
type SelectFunc func(prev, next *domain.Conversation)

// NewCode returns a random 6-character alphanumeric join code.
func NewCode() (string, error) {
	return gonanoid.Generate(codeAlphabet, codeLength)
}

type Registry struct {
	store    Store
	identity Identity
	notify   domain.Notifier
	codes    func() (string, error)
	log      *zap.Logger

	// selMu orders selection changes and their listener calls
	selMu    sync.Mutex
	mu       sync.Mutex
	visible  []domain.Conversation
	active   string
	onSelect []SelectFunc
}

type Option func(*Registry)

func WithCodes(fn func() (string, error)) Option { return func(r *Registry) { r.codes = fn } }
func WithNotifier(n domain.Notifier) Option      { return func(r *Registry) { r.notify = n } }
func WithLogger(l *zap.Logger) Option            { return func(r *Registry) { r.log = logger.OrNop(l).Named("registry") } }

func New(s Store, id Identity, opts ...Option) *Registry {
	r := &Registry{
		store:    s,
		identity: id,
		codes:    NewCode,
		notify:   domain.NotifierFunc(func(domain.Notice) {}),
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// OnSelect registers fn. Listeners run outside the registry lock, one
// selection change at a time and in the order the changes were made.
func (r *Registry) OnSelect(fn SelectFunc) {
	r.mu.Lock()
	r.onSelect = append(r.onSelect, fn)
	r.mu.Unlock()
}

// Refresh replaces the visible list with the store's view. The active
// selection is cleared when it is no longer visible.
func (r *Registry) Refresh(ctx context.Context) ([]domain.Conversation, error) {
	uid := r.identity.UserID()
	if uid == "" {
		r.Clear()
		return nil, nil
	}
	list, err := r.store.ListConversations(ctx, uid)
	if err != nil {
		r.log.Warn("list conversations failed", zap.Error(err))
		r.notify.Notify(domain.Error("Failed to load rooms"))
		return r.Visible(), err
	}

	r.selMu.Lock()
	defer r.selMu.Unlock()
	r.mu.Lock()
	r.visible = dedupe(list)
	var prev *domain.Conversation
	if r.active != "" && r.indexOf(r.active) < 0 {
		prev = &domain.Conversation{ID: r.active}
		r.active = ""
	}
	out := slices.Clone(r.visible)
	fns := r.listeners()
	r.mu.Unlock()

	if prev != nil {
		for _, fn := range fns {
			fn(prev, nil)
		}
	}
	return out, nil
}

func dedupe(list []domain.Conversation) []domain.Conversation {
	seen := make(map[string]bool, len(list))
	out := make([]domain.Conversation, 0, len(list))
	for _, c := range list {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

func (r *Registry) indexOf(id string) int {
	return slices.IndexFunc(r.visible, func(c domain.Conversation) bool { return c.ID == id })
}

func (r *Registry) listeners() []SelectFunc { return slices.Clone(r.onSelect) }

func (r *Registry) Visible() []domain.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.visible)
}

func (r *Registry) Get(id string) (domain.Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexOf(id); i >= 0 {
		return r.visible[i], true
	}
	return domain.Conversation{}, false
}

func (r *Registry) Active() (domain.Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == "" {
		return domain.Conversation{}, false
	}
	if i := r.indexOf(r.active); i >= 0 {
		return r.visible[i], true
	}
	return domain.Conversation{}, false
}

// Select makes a visible conversation active. Selecting the active one
// again is a no-op.
func (r *Registry) Select(id string) error {
	r.selMu.Lock()
	defer r.selMu.Unlock()
	r.mu.Lock()
	i := r.indexOf(id)
	if i < 0 {
		r.mu.Unlock()
		return fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	if r.active == id {
		r.mu.Unlock()
		return nil
	}
	prev := r.activeLocked()
	r.active = id
	next := r.visible[i]
	fns := r.listeners()
	r.mu.Unlock()

	for _, fn := range fns {
		fn(prev, &next)
	}
	return nil
}

func (r *Registry) activeLocked() *domain.Conversation {
	if r.active == "" {
		return nil
	}
	if i := r.indexOf(r.active); i >= 0 {
		c := r.visible[i]
		return &c
	}
	return &domain.Conversation{ID: r.active}
}

// Deselect clears the active conversation.
func (r *Registry) Deselect() {
	r.selMu.Lock()
	defer r.selMu.Unlock()
	r.mu.Lock()
	prev := r.activeLocked()
	r.active = ""
	fns := r.listeners()
	r.mu.Unlock()

	if prev == nil {
		return
	}
	for _, fn := range fns {
		fn(prev, nil)
	}
}

// Clear empties the registry, e.g. on sign-out.
func (r *Registry) Clear() {
	r.Deselect()
	r.mu.Lock()
	r.visible = nil
	r.mu.Unlock()
}

// upsert adds c at the end of the visible list or replaces it in place.
func (r *Registry) upsert(c domain.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexOf(c.ID); i >= 0 {
		r.visible[i] = c
		return
	}
	r.visible = append(r.visible, c)
}

// Create registers a new room owned by the signed-in identity, makes it
// the sole member and selects it.
func (r *Registry) Create(ctx context.Context, name string, isPrivate bool) (domain.Conversation, error) {
	uid := r.identity.UserID()
	if uid == "" {
		r.notify.Notify(domain.Error("You must be logged in to create a room"))
		return domain.Conversation{}, domain.ErrAuthRequired
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Conversation{}, fmt.Errorf("%w: %w: room name required", domain.ErrCreateFailed, domain.ErrInvalidInput)
	}

	room, err := r.insertRoom(ctx, uid, name, isPrivate)
	if err != nil {
		r.log.Warn("create room failed", zap.String("name", name), zap.Error(err))
		r.notify.Notify(domain.Error("Failed to create room"))
		return domain.Conversation{}, err
	}
	if err := r.addCreator(ctx, room.ID, uid); err != nil {
		// the room row stays behind without members; its code is not reused
		r.log.Warn("creator membership failed", zap.String("room_id", room.ID), zap.Error(err))
		r.notify.Notify(domain.Error("Failed to create room"))
		return domain.Conversation{}, fmt.Errorf("%w: %w", domain.ErrCreateFailed, err)
	}
	room.MemberCount = 1

	r.upsert(room)
	if err := r.Select(room.ID); err != nil {
		return room, err
	}
	r.log.Info("room created", zap.String("room_id", room.ID), zap.String("code", room.InviteCode))
	r.notify.Notify(domain.Info(fmt.Sprintf("Room created; code: %s", room.InviteCode)))
	return room, nil
}

func (r *Registry) insertRoom(ctx context.Context, uid, name string, isPrivate bool) (domain.Conversation, error) {
	var last error
	for range createTries {
		code, err := r.codes()
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("%w: code: %v", domain.ErrCreateFailed, err)
		}
		room, err := r.store.CreateRoom(ctx, store.RoomInput{Name: name, Code: code, CreatedBy: uid, IsPrivate: isPrivate})
		if err == nil {
			return room, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.Conversation{}, fmt.Errorf("%w: %w", domain.ErrCreateFailed, err)
		}
		last = err
	}
	return domain.Conversation{}, fmt.Errorf("%w: %w", domain.ErrCreateFailed, last)
}

// addCreator registers the creator as first member, retrying transient
// failures.
func (r *Registry) addCreator(ctx context.Context, roomID, uid string) error {
	var err error
	for range createTries {
		err = r.store.AddMember(ctx, roomID, uid)
		if err == nil || errors.Is(err, domain.ErrConflict) {
			return nil
		}
		if !errors.Is(domain.Classify(err), domain.ErrTransient) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

// JoinByCode adds the signed-in identity to the room with the given code
// and selects it. Joining a room one already belongs to succeeds.
func (r *Registry) JoinByCode(ctx context.Context, code string) (bool, error) {
	uid := r.identity.UserID()
	if uid == "" {
		r.notify.Notify(domain.Error("You must be logged in to join a room"))
		return false, domain.ErrAuthRequired
	}
	code = strings.TrimSpace(code)
	if code == "" {
		r.notify.Notify(domain.Error("Invalid room code"))
		return false, fmt.Errorf("empty code: %w", domain.ErrNotFound)
	}

	rooms, err := r.store.FindRoomsByCode(ctx, code)
	if err != nil {
		return false, r.joinFailed(code, err)
	}
	switch len(rooms) {
	case 0:
		return false, r.joinFailed(code, fmt.Errorf("room code %s: %w", code, domain.ErrNotFound))
	case 1:
	default:
		return false, r.joinFailed(code, fmt.Errorf("room code %s matches %d rooms: %w", code, len(rooms), domain.ErrConflict))
	}
	room := rooms[0]

	member, err := r.store.IsMember(ctx, room.ID, uid)
	if err != nil {
		return false, r.joinFailed(code, err)
	}
	if member {
		r.notify.Notify(domain.Info("You are already a member of this room"))
	} else {
		err := r.store.AddMember(ctx, room.ID, uid)
		switch {
		case errors.Is(err, domain.ErrConflict):
			// joined concurrently from elsewhere
		case err != nil:
			return false, r.joinFailed(code, err)
		default:
			r.notify.Notify(domain.Info(fmt.Sprintf("Joined room: %s", room.DisplayName)))
		}
	}

	if fresh, err := r.store.GetConversation(ctx, uid, room.ID); err == nil {
		room = fresh
	} else {
		r.log.Warn("refetch joined room failed", zap.String("room_id", room.ID), zap.Error(err))
	}
	r.upsert(room)
	if err := r.Select(room.ID); err != nil {
		return false, err
	}
	r.log.Info("joined room", zap.String("room_id", room.ID), zap.String("user_id", uid))
	return true, nil
}

func (r *Registry) joinFailed(code string, err error) error {
	err = domain.Classify(err)
	r.log.Warn("join room failed", zap.String("code", code), zap.Error(err))
	r.notify.Notify(domain.Error(domain.UserMessage(err)))
	return err
}

// HandleMembership applies a membership change pushed by the realtime
// layer. Changes for the signed-in identity add or remove a room; changes
// for others refresh that room's member count.
func (r *Registry) HandleMembership(ctx context.Context, ev domain.Event) error {
	m, err := ev.Membership()
	if err != nil {
		return err
	}
	uid := r.identity.UserID()
	if uid == "" {
		return nil
	}

	if m.UserID == uid && ev.Type == domain.EventDelete {
		r.remove(m.ConversationID)
		return nil
	}
	if m.UserID != uid {
		if _, ok := r.Get(m.ConversationID); !ok {
			return nil
		}
	}
	room, err := r.store.GetConversation(ctx, uid, m.ConversationID)
	if err != nil {
		r.log.Warn("refetch room failed", zap.String("room_id", m.ConversationID), zap.Error(err))
		return err
	}
	r.upsert(room)
	return nil
}

func (r *Registry) remove(id string) {
	r.selMu.Lock()
	defer r.selMu.Unlock()
	r.mu.Lock()
	i := r.indexOf(id)
	if i < 0 {
		r.mu.Unlock()
		return
	}
	var prev *domain.Conversation
	if r.active == id {
		c := r.visible[i]
		prev = &c
		r.active = ""
	}
	r.visible = slices.Delete(r.visible, i, i+1)
	fns := r.listeners()
	r.mu.Unlock()

	if prev != nil {
		for _, fn := range fns {
			fn(prev, nil)
		}
	}
}
