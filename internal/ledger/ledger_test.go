package ledger

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/chat-client/internal/domain"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	history map[string][]domain.Message
	gate    chan struct{}
	err     error
}

func (f *fakeFetcher) ListMessages(ctx context.Context, userID, conversationID string) ([]domain.Message, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return slices.Clone(f.history[conversationID]), nil
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id, sender string, offset time.Duration, st domain.Status) domain.Message {
	return domain.Message{ID: id, ConversationID: "c1", SenderID: sender, Body: "body " + id, CreatedAt: t0.Add(offset), Status: st}
}

func ids(msgs []domain.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func permutations(in []domain.Message) [][]domain.Message {
	if len(in) <= 1 {
		return [][]domain.Message{slices.Clone(in)}
	}
	var out [][]domain.Message
	for i := range in {
		rest := slices.Concat(in[:i:i], in[i+1:])
		for _, p := range permutations(rest) {
			out = append(out, append([]domain.Message{in[i]}, p...))
		}
	}
	return out
}

func TestAppendOrderIndependent(t *testing.T) {
	input := []domain.Message{
		msg("b", "alice", time.Second, domain.StatusSent),
		msg("a", "bob", time.Second, domain.StatusDelivered),
		msg("c", "alice", 0, domain.StatusSent),
		msg("b", "alice", time.Second, domain.StatusRead),
	}

	var want []domain.Message
	for _, order := range permutations(input) {
		l := New(&fakeFetcher{})
		for _, m := range order {
			l.Append(m)
		}
		got := l.Messages("c1")
		if want == nil {
			want = got
			continue
		}
		require.Equal(t, want, got)
	}
	require.Equal(t, []string{"c", "a", "b"}, ids(want))
	require.Equal(t, domain.StatusRead, want[2].Status)
}

func provisional(id, clientID, body string, offset time.Duration) domain.Message {
	return domain.Message{ID: id, ClientID: clientID, ConversationID: "c1", SenderID: "me", Body: body, CreatedAt: t0.Add(offset), Status: domain.StatusPending, Provisional: true}
}

func confirmed(id, clientID, body string, offset time.Duration, st domain.Status) domain.Message {
	return domain.Message{ID: id, ClientID: clientID, ConversationID: "c1", SenderID: "me", Body: body, CreatedAt: t0.Add(offset), Status: st}
}

func TestAppendOrderIndependentWithEchoes(t *testing.T) {
	input := []domain.Message{
		provisional("local-1", "cid-1", "hi", 0),
		// echo without a client id, matched on sender and body
		confirmed("srv-1", "", "hi", 300*time.Millisecond, domain.StatusSent),
		confirmed("srv-1", "", "hi", 300*time.Millisecond, domain.StatusRead),
		provisional("local-2", "cid-2", "yo", 2*time.Second),
		confirmed("srv-2", "cid-2", "yo", 2100*time.Millisecond, domain.StatusDelivered),
		msg("a", "bob", 5*time.Second, domain.StatusSent),
		msg("a", "bob", 5*time.Second, domain.StatusRead),
	}

	var want []domain.Message
	for _, order := range permutations(input) {
		l := New(&fakeFetcher{})
		for _, m := range order {
			l.Append(m)
		}
		got := l.Messages("c1")
		if want == nil {
			want = got
			continue
		}
		require.Equal(t, want, got, "order %v", ids(order))
	}
	require.Equal(t, []string{"srv-1", "srv-2", "a"}, ids(want))
	require.Equal(t, []string{"cid-1", "cid-2", ""}, []string{want[0].ClientID, want[1].ClientID, want[2].ClientID})
	require.Equal(t, []domain.Status{domain.StatusRead, domain.StatusDelivered, domain.StatusRead},
		[]domain.Status{want[0].Status, want[1].Status, want[2].Status})
	for _, m := range want {
		require.False(t, m.Provisional)
	}
}

func TestEchoBeforeProvisional(t *testing.T) {
	l := New(&fakeFetcher{})
	require.Equal(t, Inserted, l.Append(confirmed("srv-1", "", "hi", 200*time.Millisecond, domain.StatusSent)))
	require.Equal(t, Duplicate, l.Append(provisional("local-1", "cid-1", "hi", 0)))

	// a second send of the same text is its own message
	require.Equal(t, Inserted, l.Append(provisional("local-2", "cid-2", "hi", time.Second)))
	require.Equal(t, []string{"srv-1", "local-2"}, ids(l.Messages("c1")))
}

func TestLoadAfterEchoKeepsOneEntry(t *testing.T) {
	f := &fakeFetcher{history: map[string][]domain.Message{
		"c1": {confirmed("srv-1", "", "hi", 100*time.Millisecond, domain.StatusSent)},
	}}
	l := New(f)
	l.Append(provisional("local-1", "cid-1", "hi", 0))

	_, err := l.Load(context.Background(), "me", "c1")
	require.NoError(t, err)
	require.Equal(t, []string{"srv-1"}, ids(l.Messages("c1")))

	// the write result lands after the history
	l.Append(confirmed("srv-1", "cid-1", "hi", 100*time.Millisecond, domain.StatusSent))
	got := l.Messages("c1")
	require.Equal(t, []string{"srv-1"}, ids(got))
	require.Equal(t, "cid-1", got[0].ClientID)
}

func TestLoadKeyedByUser(t *testing.T) {
	f := &fakeFetcher{
		gate:    make(chan struct{}),
		history: map[string][]domain.Message{"c1": {msg("h1", "bob", 0, domain.StatusSent)}},
	}
	l := New(f)

	var wg sync.WaitGroup
	for _, uid := range []string{"me", "other"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Load(context.Background(), uid, "c1")
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.calls == 2
	}, time.Second, 5*time.Millisecond)
	close(f.gate)
	wg.Wait()
}

func TestAppendIdempotent(t *testing.T) {
	l := New(&fakeFetcher{})
	m := msg("m1", "bob", 0, domain.StatusSent)

	require.Equal(t, Inserted, l.Append(m))
	require.Equal(t, Duplicate, l.Append(m))
	require.Equal(t, Duplicate, l.Append(m))
	require.Len(t, l.Messages("c1"), 1)
}

func TestStatusNeverRegresses(t *testing.T) {
	l := New(&fakeFetcher{})
	l.Append(msg("m1", "bob", 0, domain.StatusRead))

	require.Equal(t, Duplicate, l.Append(msg("m1", "bob", 0, domain.StatusSent)))
	require.True(t, l.SetStatus("c1", "m1", domain.StatusDelivered))

	got, ok := l.Get("c1", "m1")
	require.True(t, ok)
	require.Equal(t, domain.StatusRead, got.Status)
}

func TestConfirmedPendingNormalisedToSent(t *testing.T) {
	l := New(&fakeFetcher{})
	l.Append(msg("m1", "bob", 0, domain.StatusPending))

	got, _ := l.Get("c1", "m1")
	require.Equal(t, domain.StatusSent, got.Status)
}

func TestEchoReconcilesByClientID(t *testing.T) {
	l := New(&fakeFetcher{})
	l.Append(msg("m0", "bob", -time.Minute, domain.StatusRead))
	p := domain.Message{ID: "local-1", ClientID: "cid-1", ConversationID: "c1", SenderID: "me", Body: "hi", CreatedAt: t0, Status: domain.StatusPending, Provisional: true}
	require.Equal(t, Inserted, l.Append(p))

	echo := domain.Message{ID: "srv-1", ClientID: "cid-1", ConversationID: "c1", SenderID: "me", Body: "hi", CreatedAt: t0.Add(200 * time.Millisecond), Status: domain.StatusSent}
	require.Equal(t, Reconciled, l.Append(echo))
	// the write result for the same row arrives after the echo
	require.Equal(t, Duplicate, l.Append(echo))

	got := l.Messages("c1")
	require.Equal(t, []string{"m0", "srv-1"}, ids(got))
	require.False(t, got[1].Provisional)
	require.Equal(t, domain.StatusSent, got[1].Status)
}

func TestEchoReconcilesByHeuristic(t *testing.T) {
	l := New(&fakeFetcher{}, WithEchoTolerance(5*time.Second))
	l.Append(domain.Message{ID: "local-1", ClientID: "cid-1", ConversationID: "c1", SenderID: "me", Body: "hi", CreatedAt: t0, Provisional: true})

	far := domain.Message{ID: "srv-0", ConversationID: "c1", SenderID: "me", Body: "hi", CreatedAt: t0.Add(time.Minute), Status: domain.StatusSent}
	require.Equal(t, Inserted, l.Append(far))

	near := domain.Message{ID: "srv-1", ConversationID: "c1", SenderID: "me", Body: "hi", CreatedAt: t0.Add(2 * time.Second), Status: domain.StatusSent}
	require.Equal(t, Reconciled, l.Append(near))

	got := l.Messages("c1")
	require.Equal(t, []string{"srv-1", "srv-0"}, ids(got))
	require.Equal(t, "cid-1", got[0].ClientID)
}

func TestLateProvisionalIgnoredAfterConfirmation(t *testing.T) {
	l := New(&fakeFetcher{})
	l.Append(domain.Message{ID: "srv-1", ClientID: "cid-1", ConversationID: "c1", SenderID: "me", Body: "hi", CreatedAt: t0, Status: domain.StatusSent})

	r := l.Append(domain.Message{ID: "local-1", ClientID: "cid-1", ConversationID: "c1", SenderID: "me", Body: "hi", CreatedAt: t0, Provisional: true})
	require.Equal(t, Duplicate, r)
	require.Len(t, l.Messages("c1"), 1)
}

func TestFailedKeptUntilConfirmed(t *testing.T) {
	l := New(&fakeFetcher{})
	p := domain.Message{ID: "local-1", ClientID: "cid-1", ConversationID: "c1", SenderID: "me", Body: "hi", CreatedAt: t0, Provisional: true}
	l.Append(p)
	require.True(t, l.SetStatus("c1", "local-1", domain.StatusFailed))
	require.True(t, l.SetStatus("c1", "local-1", domain.StatusPending))

	got, _ := l.Get("c1", "local-1")
	require.Equal(t, domain.StatusFailed, got.Status)

	l.Append(domain.Message{ID: "srv-1", ClientID: "cid-1", ConversationID: "c1", SenderID: "me", Body: "hi", CreatedAt: t0, Status: domain.StatusSent})
	got, ok := l.Get("c1", "srv-1")
	require.True(t, ok)
	require.Equal(t, domain.StatusSent, got.Status)
}

func TestMarkRead(t *testing.T) {
	l := New(&fakeFetcher{})
	l.Append(msg("m1", "bob", 0, domain.StatusDelivered))
	l.Append(msg("m2", "me", time.Second, domain.StatusSent))
	l.Append(msg("m3", "bob", 2*time.Second, domain.StatusRead))
	l.Append(msg("m4", "bob", 3*time.Second, domain.StatusSent))
	l.Append(msg("m5", "bob", 4*time.Second, domain.StatusSent))

	require.Equal(t, 3, l.Unread("c1", "me"))

	changed, err := l.MarkRead("c1", "m4", "me")
	require.NoError(t, err)
	require.Equal(t, []string{"m1", "m4"}, changed)
	require.Equal(t, 1, l.Unread("c1", "me"))

	own, _ := l.Get("c1", "m2")
	require.Equal(t, domain.StatusSent, own.Status)

	_, err = l.MarkRead("c1", "missing", "me")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLoadMergesWithLocalEntries(t *testing.T) {
	f := &fakeFetcher{history: map[string][]domain.Message{
		"c1": {msg("h1", "bob", 0, domain.StatusRead), msg("h2", "me", time.Second, domain.StatusDelivered)},
	}}
	l := New(f)
	// realtime arrival racing the history query
	l.Append(msg("h2", "me", time.Second, domain.StatusRead))
	l.Append(msg("r1", "bob", time.Minute, domain.StatusSent))

	seq, err := l.Load(context.Background(), "me", "c1")
	require.NoError(t, err)

	var got []domain.Message
	for m := range seq {
		got = append(got, m)
	}
	require.Equal(t, []string{"h1", "h2", "r1"}, ids(got))
	require.Equal(t, domain.StatusRead, got[1].Status)
	require.True(t, l.Loaded("c1"))

	// one-shot
	n := 0
	for range seq {
		n++
	}
	require.Zero(t, n)
}

func TestLoadCoalescesConcurrentCalls(t *testing.T) {
	f := &fakeFetcher{
		gate:    make(chan struct{}),
		history: map[string][]domain.Message{"c1": {msg("h1", "bob", 0, domain.StatusSent)}},
	}
	l := New(f)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Load(context.Background(), "me", "c1")
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.calls == 1
	}, time.Second, 5*time.Millisecond)
	close(f.gate)
	wg.Wait()

	require.Len(t, l.Messages("c1"), 1)
}

func TestLoadDiscardsStaleResult(t *testing.T) {
	f := &fakeFetcher{
		gate:    make(chan struct{}),
		history: map[string][]domain.Message{"team": {msg("t1", "bob", 0, domain.StatusSent)}},
	}
	l := New(f)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := l.Load(ctx, "me", "team")
		done <- err
	}()
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	close(f.gate)

	require.Never(t, func() bool { return len(l.Messages("team")) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	require.False(t, l.Loaded("team"))
}

func TestLoadError(t *testing.T) {
	l := New(&fakeFetcher{err: domain.ErrTransient})
	_, err := l.Load(context.Background(), "me", "c1")
	require.True(t, errors.Is(err, domain.ErrTransient))
	require.False(t, l.Loaded("c1"))
}

func TestOnChange(t *testing.T) {
	var got []string
	l := New(&fakeFetcher{}, OnChange(func(id string) { got = append(got, id) }))
	m := msg("m1", "bob", 0, domain.StatusSent)
	l.Append(m)
	l.Append(m)
	require.Equal(t, []string{"c1"}, got)
}
