package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/chat-client/internal/domain"
	"github.com/fathima-sithara/chat-client/internal/ledger"
)

type nopFetcher struct{}

func (nopFetcher) ListMessages(context.Context, string, string) ([]domain.Message, error) {
	return nil, nil
}

type fakeWriter struct {
	mu    sync.Mutex
	calls int
	errs  []error
	gate  chan struct{}
	at    time.Time
}

func (w *fakeWriter) InsertMessage(ctx context.Context, m domain.Message) (domain.Message, error) {
	w.mu.Lock()
	w.calls++
	n := w.calls
	var err error
	if len(w.errs) > 0 {
		err, w.errs = w.errs[0], w.errs[1:]
	}
	gate := w.gate
	w.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return domain.Message{}, err
	}
	m.ID = "srv-" + string(rune('0'+n))
	m.CreatedAt = w.at
	m.Status = domain.StatusSent
	return m, nil
}

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newDispatcher(w Writer, l *ledger.Ledger, cfg Config) *Dispatcher {
	return New(l, w, cfg, WithClock(func() time.Time { return now }))
}

func TestSendBlankIsNoop(t *testing.T) {
	l := ledger.New(nopFetcher{})
	d := newDispatcher(&fakeWriter{}, l, Config{})

	_, ok := d.Send("c1", "me", "   \n\t")
	require.False(t, ok)
	_, ok = d.Send("", "me", "hi")
	require.False(t, ok)
	_, ok = d.Send("c1", "", "hi")
	require.False(t, ok)
	require.Empty(t, l.Messages("c1"))
}

func TestSendConfirmsInPlace(t *testing.T) {
	l := ledger.New(nopFetcher{})
	l.Append(domain.Message{ID: "old", ConversationID: "c1", SenderID: "bob", Body: "yo", CreatedAt: now.Add(-time.Minute), Status: domain.StatusRead})
	w := &fakeWriter{gate: make(chan struct{}), at: now.Add(300 * time.Millisecond)}
	d := newDispatcher(w, l, Config{})

	p, ok := d.Send("c1", "me", "  hello ")
	require.True(t, ok)
	require.Equal(t, "hello", p.Body)

	msgs := l.Messages("c1")
	require.Len(t, msgs, 2)
	require.Equal(t, domain.StatusPending, msgs[1].Status)
	require.True(t, msgs[1].Provisional)

	close(w.gate)
	d.Wait()

	msgs = l.Messages("c1")
	require.Len(t, msgs, 2)
	require.Equal(t, "srv-1", msgs[1].ID)
	require.Equal(t, p.ClientID, msgs[1].ClientID)
	require.Equal(t, domain.StatusSent, msgs[1].Status)
	require.False(t, msgs[1].Provisional)
}

func TestSendFailureMarksFailed(t *testing.T) {
	l := ledger.New(nopFetcher{})
	w := &fakeWriter{errs: []error{domain.ErrAuthRequired}}
	var got []domain.Notice
	d := New(l, w, Config{RetryMaxElapsed: time.Second}, WithNotifier(domain.NotifierFunc(func(n domain.Notice) { got = append(got, n) })))

	p, ok := d.Send("c1", "me", "hello")
	require.True(t, ok)
	d.Wait()

	m, found := l.Get("c1", p.ID)
	require.True(t, found)
	require.Equal(t, domain.StatusFailed, m.Status)
	require.Len(t, got, 1)
	require.Equal(t, domain.LevelError, got[0].Level)
	// permanent errors are not retried
	require.Equal(t, 1, w.calls)
}

func TestSendRetriesTransient(t *testing.T) {
	l := ledger.New(nopFetcher{})
	w := &fakeWriter{errs: []error{errors.New("connection reset")}, at: now}
	d := newDispatcher(w, l, Config{RetryMaxElapsed: 2 * time.Second})

	d.Send("c1", "me", "hello")
	d.Wait()

	msgs := l.Messages("c1")
	require.Len(t, msgs, 1)
	require.Equal(t, domain.StatusSent, msgs[0].Status)
	require.Equal(t, 2, w.calls)
}

func TestRetryFailedMessage(t *testing.T) {
	l := ledger.New(nopFetcher{})
	w := &fakeWriter{errs: []error{domain.ErrFatal}, at: now}
	d := newDispatcher(w, l, Config{})

	p, _ := d.Send("c1", "me", "hello")
	d.Wait()
	require.ErrorIs(t, d.Retry("c1", "missing"), domain.ErrNotFound)

	require.NoError(t, d.Retry("c1", p.ID))
	d.Wait()

	msgs := l.Messages("c1")
	require.Len(t, msgs, 1)
	require.Equal(t, domain.StatusSent, msgs[0].Status)
	require.ErrorIs(t, d.Retry("c1", msgs[0].ID), domain.ErrInvalidInput)
}

func TestConfirmationAfterResetDropped(t *testing.T) {
	l := ledger.New(nopFetcher{})
	w := &fakeWriter{gate: make(chan struct{}), at: now}
	d := newDispatcher(w, l, Config{})

	_, ok := d.Send("c1", "me", "hello")
	require.True(t, ok)
	// signed out while the write is in flight
	l.Reset()
	close(w.gate)
	d.Wait()

	require.Empty(t, l.Messages("c1"))
}
