// Package mongo implements the backing store on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-client/internal/domain"
	"github.com/fathima-sithara/chat-client/internal/logger"
	"github.com/fathima-sithara/chat-client/internal/store"
)

const (
	roomsCollection    = "chat_rooms"
	membersCollection  = "room_members"
	messagesCollection = "messages"
	profilesCollection = "profiles"
	contactsCollection = "contacts"
)

type Store struct {
	rooms    *mongo.Collection
	members  *mongo.Collection
	messages *mongo.Collection
	profiles *mongo.Collection
	contacts *mongo.Collection
	pub      store.Publisher
	log      *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Connect dials uri and pings the primary.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return client, nil
}

func New(ctx context.Context, db *mongo.Database, pub store.Publisher, log *zap.Logger) (*Store, error) {
	s := &Store{
		rooms:    db.Collection(roomsCollection),
		members:  db.Collection(membersCollection),
		messages: db.Collection(messagesCollection),
		profiles: db.Collection(profilesCollection),
		contacts: db.Collection(contactsCollection),
		pub:      pub,
		log:      logger.OrNop(log).Named("mongo"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.rooms.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "code", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := s.members.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "joined_at", Value: 1}}},
	}); err != nil {
		return err
	}
	if _, err := s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "thread", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "client_id", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
	}); err != nil {
		return err
	}
	_, err := s.contacts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "peer_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// now is truncated to the precision BSON dates keep.
func now() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

func (s *Store) publish(ctx context.Context, topic string, ev domain.Event) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, topic, ev); err != nil {
		s.log.Warn("publish change failed", zap.String("topic", topic), zap.Error(err))
	}
}

func notFound(err error, what string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return err
}

func (s *Store) memberCounts(ctx context.Context, roomIDs []string) (map[string]int, error) {
	cur, err := s.members.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"room_id": bson.M{"$in": roomIDs}}}},
		{{Key: "$group", Value: bson.M{"_id": "$room_id", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ID    string `bson:"_id"`
		Count int    `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.ID] = r.Count
	}
	return out, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	cur, err := s.members.Find(ctx, bson.M{"user_id": userID}, options.Find().SetSort(bson.D{{Key: "joined_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var joined []memberDoc
	if err := cur.All(ctx, &joined); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(joined))
	for _, m := range joined {
		ids = append(ids, m.RoomID)
	}

	out := []domain.Conversation{}
	if len(ids) > 0 {
		cur, err := s.rooms.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
		if err != nil {
			return nil, err
		}
		var rooms []roomDoc
		if err := cur.All(ctx, &rooms); err != nil {
			return nil, err
		}
		counts, err := s.memberCounts(ctx, ids)
		if err != nil {
			return nil, err
		}
		byID := make(map[string]roomDoc, len(rooms))
		for _, r := range rooms {
			byID[r.ID] = r
		}
		for _, id := range ids {
			if r, ok := byID[id]; ok {
				out = append(out, r.conversation(counts[id]))
			}
		}
	}

	direct, err := s.directConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append(out, direct...), nil
}

func (s *Store) directConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	cur, err := s.contacts.Find(ctx, bson.M{"owner_id": userID}, options.Find().SetSort(bson.D{{Key: "added_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var contacts []contactDoc
	if err := cur.All(ctx, &contacts); err != nil {
		return nil, err
	}
	out := make([]domain.Conversation, 0, len(contacts))
	for _, c := range contacts {
		name := c.PeerID
		if p, err := s.GetProfile(ctx, c.PeerID); err == nil && p.DisplayName != "" {
			name = p.DisplayName
		}
		out = append(out, domain.Conversation{ID: c.PeerID, DisplayName: name, Kind: domain.KindDirect})
	}
	return out, nil
}

func (s *Store) room(ctx context.Context, id string) (domain.Conversation, error) {
	var d roomDoc
	if err := s.rooms.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		return domain.Conversation{}, notFound(err, "room "+id)
	}
	n, err := s.members.CountDocuments(ctx, bson.M{"room_id": id})
	if err != nil {
		return domain.Conversation{}, err
	}
	return d.conversation(int(n)), nil
}

func (s *Store) GetConversation(ctx context.Context, userID, id string) (domain.Conversation, error) {
	c, err := s.room(ctx, id)
	if !errors.Is(err, domain.ErrNotFound) {
		return c, err
	}
	if err := s.contacts.FindOne(ctx, bson.M{"owner_id": userID, "peer_id": id}).Err(); err != nil {
		return domain.Conversation{}, notFound(err, "conversation "+id)
	}
	name := id
	if p, err := s.GetProfile(ctx, id); err == nil && p.DisplayName != "" {
		name = p.DisplayName
	}
	return domain.Conversation{ID: id, DisplayName: name, Kind: domain.KindDirect}, nil
}

func (s *Store) CreateRoom(ctx context.Context, in store.RoomInput) (domain.Conversation, error) {
	d := roomDoc{
		ID:        uuid.NewString(),
		Name:      in.Name,
		Code:      in.Code,
		IsPrivate: in.IsPrivate,
		CreatedBy: in.CreatedBy,
		CreatedAt: now(),
	}
	if _, err := s.rooms.InsertOne(ctx, d); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.Conversation{}, fmt.Errorf("room code %s: %w", in.Code, domain.ErrConflict)
		}
		return domain.Conversation{}, err
	}
	return d.conversation(0), nil
}

func (s *Store) FindRoomsByCode(ctx context.Context, code string) ([]domain.Conversation, error) {
	cur, err := s.rooms.Find(ctx, bson.M{"code": code}, options.Find().SetLimit(2))
	if err != nil {
		return nil, err
	}
	var rooms []roomDoc
	if err := cur.All(ctx, &rooms); err != nil {
		return nil, err
	}
	out := make([]domain.Conversation, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.conversation(0))
	}
	return out, nil
}

func (s *Store) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	n, err := s.members.CountDocuments(ctx, bson.M{"room_id": roomID, "user_id": userID}, options.Count().SetLimit(1))
	return n > 0, err
}

func (s *Store) AddMember(ctx context.Context, roomID, userID string) error {
	if err := s.rooms.FindOne(ctx, bson.M{"_id": roomID}).Err(); err != nil {
		return notFound(err, "room "+roomID)
	}
	d := memberDoc{RoomID: roomID, UserID: userID, JoinedAt: now()}
	if _, err := s.members.InsertOne(ctx, d); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("member %s of %s: %w", userID, roomID, domain.ErrConflict)
		}
		return err
	}
	ev := domain.NewMembershipEvent(domain.EventInsert, d.membership())
	s.publish(ctx, domain.MembershipTopic(userID), ev)
	s.publish(ctx, domain.ConversationTopic(roomID), ev)
	return nil
}

func (s *Store) ListMembers(ctx context.Context, roomID string) ([]domain.Identity, error) {
	cur, err := s.members.Find(ctx, bson.M{"room_id": roomID}, options.Find().SetSort(bson.D{{Key: "joined_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var ms []memberDoc
	if err := cur.All(ctx, &ms); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(ms))
	for _, m := range ms {
		ids = append(ids, m.UserID)
	}
	profiles := map[string]domain.Identity{}
	if len(ids) > 0 {
		cur, err := s.profiles.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
		if err != nil {
			return nil, err
		}
		var docs []profileDoc
		if err := cur.All(ctx, &docs); err != nil {
			return nil, err
		}
		for _, d := range docs {
			profiles[d.ID] = d.identity()
		}
	}
	out := make([]domain.Identity, 0, len(ids))
	for _, id := range ids {
		p, ok := profiles[id]
		if !ok {
			p = domain.Identity{ID: id, DisplayName: id}
		}
		out = append(out, p)
	}
	return out, nil
}

// thread resolves a viewer-relative conversation id onto its thread key.
func (s *Store) thread(ctx context.Context, userID, conversationID string) (string, bool, error) {
	n, err := s.rooms.CountDocuments(ctx, bson.M{"_id": conversationID}, options.Count().SetLimit(1))
	if err != nil {
		return "", false, err
	}
	if n > 0 {
		return conversationID, false, nil
	}
	n, err = s.contacts.CountDocuments(ctx, bson.M{"$or": bson.A{
		bson.M{"owner_id": userID, "peer_id": conversationID},
		bson.M{"owner_id": conversationID, "peer_id": userID},
	}}, options.Count().SetLimit(1))
	if err != nil {
		return "", false, err
	}
	if n == 0 {
		return "", false, fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}
	return domain.DirectKey(userID, conversationID), true, nil
}

func (s *Store) ListMessages(ctx context.Context, userID, conversationID string) ([]domain.Message, error) {
	thread, _, err := s.thread(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.messages.Find(ctx, bson.M{"thread": thread}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []domain.Message{}
	for cur.Next(ctx) {
		var d messageDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("%w: decode message: %v", domain.ErrFatal, err)
		}
		m, err := d.message(conversationID)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, cur.Err()
}

// InsertMessage is idempotent on ClientID: a retried write returns the row
// stored by the first attempt.
func (s *Store) InsertMessage(ctx context.Context, m domain.Message) (domain.Message, error) {
	thread, direct, err := s.thread(ctx, m.SenderID, m.ConversationID)
	if err != nil {
		return domain.Message{}, err
	}
	if !direct {
		ok, err := s.IsMember(ctx, thread, m.SenderID)
		if err != nil {
			return domain.Message{}, err
		}
		if !ok {
			return domain.Message{}, fmt.Errorf("sender %s not in %s: %w", m.SenderID, thread, domain.ErrAuthRequired)
		}
	}

	d := messageDoc{
		ID:        uuid.NewString(),
		ClientID:  m.ClientID,
		Thread:    thread,
		Direct:    direct,
		SenderID:  m.SenderID,
		Content:   m.Body,
		Status:    domain.StatusSent.String(),
		CreatedAt: now(),
	}
	if d.ClientID == "" {
		if _, err := s.messages.InsertOne(ctx, d); err != nil {
			return domain.Message{}, err
		}
	} else {
		res, err := s.messages.UpdateOne(ctx, bson.M{"client_id": d.ClientID}, bson.M{"$setOnInsert": d}, options.Update().SetUpsert(true))
		if err != nil {
			return domain.Message{}, err
		}
		if res.UpsertedCount == 0 {
			var existing messageDoc
			if err := s.messages.FindOne(ctx, bson.M{"client_id": d.ClientID}).Decode(&existing); err != nil {
				return domain.Message{}, notFound(err, "message "+d.ClientID)
			}
			return existing.message(m.ConversationID)
		}
	}

	confirmed, err := d.message(m.ConversationID)
	if err != nil {
		return domain.Message{}, err
	}
	s.publish(ctx, d.topic(), domain.NewMessageEvent(domain.EventInsert, confirmed))
	return confirmed, nil
}

func (s *Store) MarkRead(ctx context.Context, conversationID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	read := domain.StatusRead.String()
	filter := bson.M{"_id": bson.M{"$in": ids}, "status": bson.M{"$ne": read}}
	cur, err := s.messages.Find(ctx, filter)
	if err != nil {
		return err
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	changed := make([]string, 0, len(docs))
	for _, d := range docs {
		changed = append(changed, d.ID)
	}
	if _, err := s.messages.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": changed}}, bson.M{"$set": bson.M{"status": read}}); err != nil {
		return err
	}
	for _, d := range docs {
		d.Status = read
		m, err := d.message(conversationID)
		if err != nil {
			continue
		}
		s.publish(ctx, d.topic(), domain.NewMessageEvent(domain.EventUpdate, m))
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (domain.Identity, error) {
	var d profileDoc
	if err := s.profiles.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		return domain.Identity{}, notFound(err, "profile "+id)
	}
	return d.identity(), nil
}

// UpsertProfile records an identity, e.g. on sign-in.
func (s *Store) UpsertProfile(ctx context.Context, id domain.Identity) error {
	d := profileDoc{ID: id.ID, Name: id.DisplayName, Avatar: id.AvatarRef, Status: id.PresenceStatus, Online: id.Online, LastSeen: id.LastSeenAt}
	_, err := s.profiles.ReplaceOne(ctx, bson.M{"_id": id.ID}, d, options.Replace().SetUpsert(true))
	return err
}

// AddContact makes peerID visible to ownerID as a direct conversation.
func (s *Store) AddContact(ctx context.Context, ownerID, peerID string) error {
	d := contactDoc{OwnerID: ownerID, PeerID: peerID, AddedAt: now()}
	_, err := s.contacts.UpdateOne(ctx, bson.M{"owner_id": ownerID, "peer_id": peerID}, bson.M{"$setOnInsert": d}, options.Update().SetUpsert(true))
	return err
}
