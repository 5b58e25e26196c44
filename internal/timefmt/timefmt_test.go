package timefmt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fathima-sithara/chat-client/internal/domain"
)

var now = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

func TestMessageTime(t *testing.T) {
	assert.Equal(t, "08:05", MessageTime(time.Date(2025, 3, 10, 8, 5, 0, 0, time.UTC), now))
	assert.Equal(t, "Yesterday", MessageTime(time.Date(2025, 3, 9, 23, 59, 0, 0, time.UTC), now))
	assert.Equal(t, "Mar 8", MessageTime(time.Date(2025, 3, 8, 12, 0, 0, 0, time.UTC), now))
}

func TestDetailedTime(t *testing.T) {
	assert.Equal(t, "Mar 8, 2025 at 14:07", DetailedTime(time.Date(2025, 3, 8, 14, 7, 0, 0, time.UTC)))
}

func TestLastSeen(t *testing.T) {
	at := func(ts time.Time) domain.Identity { return domain.Identity{LastSeenAt: &ts} }

	assert.Equal(t, "Online", LastSeen(domain.Identity{Online: true}, now))
	assert.Equal(t, "Offline", LastSeen(domain.Identity{}, now))
	assert.Equal(t, "Last seen today at 07:15", LastSeen(at(time.Date(2025, 3, 10, 7, 15, 0, 0, time.UTC)), now))
	assert.Equal(t, "Last seen yesterday at 21:00", LastSeen(at(time.Date(2025, 3, 9, 21, 0, 0, 0, time.UTC)), now))
	assert.Equal(t, "Last seen 3 days ago", LastSeen(at(time.Date(2025, 3, 7, 9, 30, 0, 0, time.UTC)), now))
}
