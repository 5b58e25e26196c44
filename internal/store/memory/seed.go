package memory

import (
	"fmt"
	"time"

	"github.com/fathima-sithara/chat-client/internal/domain"
)

func avatar(seed string) string {
	return fmt.Sprintf("https://api.dicebear.com/7.x/avataaars/svg?seed=%s", seed)
}

// DemoContacts are the peers every identity sees in the offline variant.
func DemoContacts(now time.Time) []domain.Identity {
	earlier := now.Add(-3 * time.Hour)
	yesterday := now.Add(-26 * time.Hour)
	return []domain.Identity{
		{ID: "user1", DisplayName: "John Doe", AvatarRef: avatar("John"), PresenceStatus: "Available", Online: true},
		{ID: "user2", DisplayName: "Jane Smith", AvatarRef: avatar("Jane"), PresenceStatus: "At work", Online: true},
		{ID: "user3", DisplayName: "Mike Johnson", AvatarRef: avatar("Mike"), PresenceStatus: "Busy", LastSeenAt: &earlier},
		{ID: "user4", DisplayName: "Sarah Williams", AvatarRef: avatar("Sarah"), PresenceStatus: "Hey there! I'm using ChatterVerse", Online: true},
		{ID: "user5", DisplayName: "David Brown", AvatarRef: avatar("David"), PresenceStatus: "In a meeting", LastSeenAt: &yesterday},
	}
}

// SeedDemo gives owner the demo contacts and a short history with the
// first two of them. It is idempotent per owner.
func (s *Store) SeedDemo(owner string) {
	now := s.now().UTC()
	s.mu.Lock()
	seeded := len(s.contacts[owner]) > 0
	s.mu.Unlock()
	if seeded {
		return
	}
	for _, c := range DemoContacts(now) {
		s.AddContact(owner, c)
	}

	base := now.Add(-24 * time.Hour)
	history := []struct {
		peer, from, body string
		at               time.Duration
		status           domain.Status
	}{
		{"user1", "user1", "Hey there! How are you?", 0, domain.StatusRead},
		{"user1", owner, "I'm good! How about you?", 2 * time.Minute, domain.StatusRead},
		{"user1", "user1", "Doing great! Just wanted to check in.", 3 * time.Minute, domain.StatusRead},
		{"user2", "user2", "Hello! Did you get the documents I sent?", 20 * time.Hour, domain.StatusRead},
		{"user2", owner, "Yes, I'll review them today.", 20*time.Hour + 5*time.Minute, domain.StatusDelivered},
		{"user2", "user2", "Thanks! Let me know if anything is missing.", 23 * time.Hour, domain.StatusDelivered},
	}
	for i, h := range history {
		_ = s.Seed(owner, domain.Message{
			ID:             fmt.Sprintf("seed-%s-%d", owner, i),
			ConversationID: h.peer,
			SenderID:       h.from,
			Body:           h.body,
			CreatedAt:      base.Add(h.at),
			Status:         h.status,
		})
	}
}
