// Package timefmt renders message and presence timestamps for display.
// All functions take the reference time explicitly and compare calendar
// days in now's location.
package timefmt

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/fathima-sithara/chat-client/internal/domain"
)

func day(t time.Time) (int, time.Month, int) { return t.Date() }

func sameDay(a, b time.Time) bool {
	ay, am, ad := day(a)
	by, bm, bd := day(b)
	return ay == by && am == bm && ad == bd
}

// MessageTime is "15:04" today, "Yesterday" the day before and "Jan 2"
// otherwise.
func MessageTime(t, now time.Time) string {
	t = t.In(now.Location())
	switch {
	case sameDay(t, now):
		return t.Format("15:04")
	case sameDay(t, now.AddDate(0, 0, -1)):
		return "Yesterday"
	}
	return t.Format("Jan 2")
}

func DetailedTime(t time.Time) string {
	return t.Format("Jan 2, 2006 at 15:04")
}

// LastSeen describes an identity's presence.
func LastSeen(id domain.Identity, now time.Time) string {
	if id.Online {
		return "Online"
	}
	if id.LastSeenAt == nil {
		return "Offline"
	}
	t := id.LastSeenAt.In(now.Location())
	switch {
	case sameDay(t, now):
		return fmt.Sprintf("Last seen today at %s", t.Format("15:04"))
	case sameDay(t, now.AddDate(0, 0, -1)):
		return fmt.Sprintf("Last seen yesterday at %s", t.Format("15:04"))
	}
	return "Last seen " + humanize.RelTime(t, now, "ago", "from now")
}
