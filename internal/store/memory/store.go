// Package memory is an in-process store used for the offline variant and
// in tests. Rooms are shared across identities; direct threads are keyed
// by the unordered pair of participants.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fathima-sithara/chat-client/internal/domain"
	"github.com/fathima-sithara/chat-client/internal/store"
)

// Hook runs before every operation, outside the store lock. A non-nil
// error is returned to the caller instead of running the operation.
type Hook func(ctx context.Context, op, arg string) error

type stored struct {
	msg domain.Message
	// room id, or the direct key for direct threads
	thread string
	direct bool
}

type Store struct {
	mu       sync.Mutex
	profiles map[string]domain.Identity
	rooms    map[string]domain.Conversation
	members  map[string][]domain.Membership
	contacts map[string][]string
	messages map[string]*stored
	threads  map[string][]string
	byClient map[string]string

	pub  store.Publisher
	hook Hook
	now  func() time.Time
}

type Option func(*Store)

func WithPublisher(p store.Publisher) Option { return func(s *Store) { s.pub = p } }
func WithHook(h Hook) Option                 { return func(s *Store) { s.hook = h } }
func WithClock(now func() time.Time) Option  { return func(s *Store) { s.now = now } }

func New(opts ...Option) *Store {
	s := &Store{
		profiles: make(map[string]domain.Identity),
		rooms:    make(map[string]domain.Conversation),
		members:  make(map[string][]domain.Membership),
		contacts: make(map[string][]string),
		messages: make(map[string]*stored),
		threads:  make(map[string][]string),
		byClient: make(map[string]string),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

type pending struct {
	topic string
	ev    domain.Event
}

func (s *Store) before(ctx context.Context, op, arg string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	if s.hook != nil {
		return s.hook(ctx, op, arg)
	}
	return nil
}

// flush publishes events collected under the lock. Callers must not hold s.mu.
func (s *Store) flush(ctx context.Context, out []pending) {
	if s.pub == nil {
		return
	}
	for _, p := range out {
		_ = s.pub.Publish(ctx, p.topic, p.ev)
	}
}

// PutProfile registers or replaces an identity profile.
func (s *Store) PutProfile(id domain.Identity) {
	s.mu.Lock()
	s.profiles[id.ID] = id
	s.mu.Unlock()
}

// AddContact makes peer visible to owner as a direct conversation.
func (s *Store) AddContact(owner string, peer domain.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[peer.ID]; !ok {
		s.profiles[peer.ID] = peer
	}
	if !slices.Contains(s.contacts[owner], peer.ID) {
		s.contacts[owner] = append(s.contacts[owner], peer.ID)
	}
}

func (s *Store) displayName(id string) string {
	if p, ok := s.profiles[id]; ok && p.DisplayName != "" {
		return p.DisplayName
	}
	return id
}

func (s *Store) roomView(r domain.Conversation) domain.Conversation {
	r.MemberCount = len(s.members[r.ID])
	return r
}

func (s *Store) directView(owner, peer string) domain.Conversation {
	return domain.Conversation{ID: peer, DisplayName: s.displayName(peer), Kind: domain.KindDirect}
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	if err := s.before(ctx, "ListConversations", userID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var joined []domain.Membership
	for _, ms := range s.members {
		for _, m := range ms {
			if m.UserID == userID {
				joined = append(joined, m)
			}
		}
	}
	sort.SliceStable(joined, func(i, j int) bool { return joined[i].JoinedAt.Before(joined[j].JoinedAt) })

	out := make([]domain.Conversation, 0, len(joined)+len(s.contacts[userID]))
	for _, m := range joined {
		out = append(out, s.roomView(s.rooms[m.ConversationID]))
	}
	for _, peer := range s.contacts[userID] {
		out = append(out, s.directView(userID, peer))
	}
	return out, nil
}

func (s *Store) GetConversation(ctx context.Context, userID, id string) (domain.Conversation, error) {
	if err := s.before(ctx, "GetConversation", id); err != nil {
		return domain.Conversation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[id]; ok {
		return s.roomView(r), nil
	}
	if slices.Contains(s.contacts[userID], id) {
		return s.directView(userID, id), nil
	}
	return domain.Conversation{}, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
}

func (s *Store) CreateRoom(ctx context.Context, in store.RoomInput) (domain.Conversation, error) {
	if err := s.before(ctx, "CreateRoom", in.Code); err != nil {
		return domain.Conversation{}, err
	}
	s.mu.Lock()
	for _, r := range s.rooms {
		if r.InviteCode == in.Code {
			s.mu.Unlock()
			return domain.Conversation{}, fmt.Errorf("room code %s: %w", in.Code, domain.ErrConflict)
		}
	}
	r := domain.Conversation{
		ID:          uuid.NewString(),
		DisplayName: in.Name,
		Kind:        domain.KindRoom,
		InviteCode:  in.Code,
		IsPrivate:   in.IsPrivate,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   s.now().UTC(),
	}
	s.rooms[r.ID] = r
	s.mu.Unlock()
	return r, nil
}

// PutRoom inserts a room as-is, without the unique code check. It exists to
// model backends that lack the constraint.
func (s *Store) PutRoom(r domain.Conversation) {
	r.Kind = domain.KindRoom
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	s.mu.Lock()
	s.rooms[r.ID] = r
	s.mu.Unlock()
}

func (s *Store) FindRoomsByCode(ctx context.Context, code string) ([]domain.Conversation, error) {
	if err := s.before(ctx, "FindRoomsByCode", code); err != nil {
		return nil, err
	}
	code = strings.TrimSpace(code)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Conversation
	for _, r := range s.rooms {
		if r.InviteCode == code {
			out = append(out, s.roomView(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) isMember(roomID, userID string) bool {
	return slices.ContainsFunc(s.members[roomID], func(m domain.Membership) bool { return m.UserID == userID })
}

func (s *Store) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	if err := s.before(ctx, "IsMember", roomID); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isMember(roomID, userID), nil
}

func (s *Store) AddMember(ctx context.Context, roomID, userID string) error {
	if err := s.before(ctx, "AddMember", roomID); err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.rooms[roomID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("room %s: %w", roomID, domain.ErrNotFound)
	}
	if s.isMember(roomID, userID) {
		s.mu.Unlock()
		return fmt.Errorf("member %s of %s: %w", userID, roomID, domain.ErrConflict)
	}
	m := domain.Membership{ConversationID: roomID, UserID: userID, JoinedAt: s.now().UTC()}
	s.members[roomID] = append(s.members[roomID], m)
	ev := domain.NewMembershipEvent(domain.EventInsert, m)
	out := []pending{{domain.MembershipTopic(userID), ev}, {domain.ConversationTopic(roomID), ev}}
	s.mu.Unlock()

	s.flush(ctx, out)
	return nil
}

// RemoveMember deletes a membership and publishes the DELETE change.
func (s *Store) RemoveMember(ctx context.Context, roomID, userID string) error {
	s.mu.Lock()
	ms := s.members[roomID]
	i := slices.IndexFunc(ms, func(m domain.Membership) bool { return m.UserID == userID })
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("member %s of %s: %w", userID, roomID, domain.ErrNotFound)
	}
	m := ms[i]
	s.members[roomID] = slices.Delete(ms, i, i+1)
	ev := domain.NewMembershipEvent(domain.EventDelete, m)
	out := []pending{{domain.MembershipTopic(userID), ev}, {domain.ConversationTopic(roomID), ev}}
	s.mu.Unlock()

	s.flush(ctx, out)
	return nil
}

func (s *Store) ListMembers(ctx context.Context, roomID string) ([]domain.Identity, error) {
	if err := s.before(ctx, "ListMembers", roomID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return nil, fmt.Errorf("room %s: %w", roomID, domain.ErrNotFound)
	}
	out := make([]domain.Identity, 0, len(s.members[roomID]))
	for _, m := range s.members[roomID] {
		p, ok := s.profiles[m.UserID]
		if !ok {
			p = domain.Identity{ID: m.UserID, DisplayName: m.UserID}
		}
		out = append(out, p)
	}
	return out, nil
}

// resolve maps a viewer-relative conversation id onto a thread key.
func (s *Store) resolve(userID, conversationID string) (thread string, direct bool, err error) {
	if _, ok := s.rooms[conversationID]; ok {
		return conversationID, false, nil
	}
	if slices.Contains(s.contacts[userID], conversationID) || slices.Contains(s.contacts[conversationID], userID) {
		return domain.DirectKey(userID, conversationID), true, nil
	}
	return "", false, fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
}

func topicOf(st *stored) string {
	if st.direct {
		return "dm:" + st.thread
	}
	return domain.ConversationTopic(st.thread)
}

func (s *Store) ListMessages(ctx context.Context, userID, conversationID string) ([]domain.Message, error) {
	if err := s.before(ctx, "ListMessages", conversationID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, _, err := s.resolve(userID, conversationID)
	if err != nil {
		return nil, err
	}
	ids := s.threads[thread]
	out := make([]domain.Message, 0, len(ids))
	for _, id := range ids {
		m := s.messages[id].msg
		m.ConversationID = conversationID
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out, nil
}

func (s *Store) InsertMessage(ctx context.Context, m domain.Message) (domain.Message, error) {
	if err := s.before(ctx, "InsertMessage", m.ConversationID); err != nil {
		return domain.Message{}, err
	}
	s.mu.Lock()
	if m.ClientID != "" {
		if id, ok := s.byClient[m.ClientID]; ok {
			existing := s.messages[id].msg
			existing.ConversationID = m.ConversationID
			s.mu.Unlock()
			return existing, nil
		}
	}
	thread, direct, err := s.resolve(m.SenderID, m.ConversationID)
	if err != nil {
		s.mu.Unlock()
		return domain.Message{}, err
	}
	if !direct && !s.isMember(thread, m.SenderID) {
		s.mu.Unlock()
		return domain.Message{}, fmt.Errorf("sender %s not in %s: %w", m.SenderID, thread, domain.ErrAuthRequired)
	}
	confirmed := domain.Message{
		ID:             uuid.NewString(),
		ClientID:       m.ClientID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		CreatedAt:      s.now().UTC(),
		Status:         domain.StatusSent,
	}
	st := &stored{msg: confirmed, thread: thread, direct: direct}
	s.messages[confirmed.ID] = st
	s.threads[thread] = append(s.threads[thread], confirmed.ID)
	if m.ClientID != "" {
		s.byClient[m.ClientID] = confirmed.ID
	}
	out := []pending{{topicOf(st), domain.NewMessageEvent(domain.EventInsert, confirmed)}}
	s.mu.Unlock()

	s.flush(ctx, out)
	return confirmed, nil
}

// Seed inserts a historical message verbatim without publishing it.
func (s *Store) Seed(userID string, m domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, direct, err := s.resolve(userID, m.ConversationID)
	if err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	s.messages[m.ID] = &stored{msg: m, thread: thread, direct: direct}
	s.threads[thread] = append(s.threads[thread], m.ID)
	return nil
}

func (s *Store) MarkRead(ctx context.Context, conversationID string, ids []string) error {
	if err := s.before(ctx, "MarkRead", conversationID); err != nil {
		return err
	}
	s.mu.Lock()
	var out []pending
	for _, id := range ids {
		st, ok := s.messages[id]
		if !ok || st.msg.Status >= domain.StatusRead {
			continue
		}
		st.msg.Status = domain.StatusRead
		out = append(out, pending{topicOf(st), domain.NewMessageEvent(domain.EventUpdate, st.msg)})
	}
	s.mu.Unlock()

	s.flush(ctx, out)
	return nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (domain.Identity, error) {
	if err := s.before(ctx, "GetProfile", id); err != nil {
		return domain.Identity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return domain.Identity{}, fmt.Errorf("profile %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}
