// Package ledger keeps the ordered, de-duplicated message sequence of every
// conversation the client has seen and merges history, realtime echoes and
// local sends into it.
package ledger

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fathima-sithara/chat-client/internal/domain"
	"github.com/fathima-sithara/chat-client/internal/logger"
	"github.com/fathima-sithara/chat-client/internal/metrics"
)

const DefaultEchoTolerance = 10 * time.Second

// Fetcher loads conversation history.
type Fetcher interface {
	ListMessages(ctx context.Context, userID, conversationID string) ([]domain.Message, error)
}

// Result of a merge.
type Result string

const (
	Inserted   Result = "insert"
	Updated    Result = "update"
	Reconciled Result = "reconcile"
	Duplicate  Result = "duplicate"
)

type thread struct {
	entries []domain.Message
	loaded  bool
}

type Ledger struct {
	mu        sync.Mutex
	threads   map[string]*thread
	fetch     Fetcher
	group     singleflight.Group
	tolerance time.Duration
	log       *zap.Logger
	onChange  func(conversationID string)
}

type Option func(*Ledger)

// WithEchoTolerance bounds the created_at distance for matching an echo
// that carries no client id against a provisional entry.
func WithEchoTolerance(d time.Duration) Option { return func(l *Ledger) { l.tolerance = d } }

func WithLogger(log *zap.Logger) Option { return func(l *Ledger) { l.log = logger.OrNop(log).Named("ledger") } }

// OnChange registers fn to run, outside the ledger lock, after a
// conversation's sequence changed.
func OnChange(fn func(conversationID string)) Option { return func(l *Ledger) { l.onChange = fn } }

func New(fetch Fetcher, opts ...Option) *Ledger {
	l := &Ledger{
		threads:   make(map[string]*thread),
		fetch:     fetch,
		tolerance: DefaultEchoTolerance,
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Ledger) thread(id string) *thread {
	t, ok := l.threads[id]
	if !ok {
		t = &thread{}
		l.threads[id] = t
	}
	return t
}

func (l *Ledger) changed(id string) {
	if l.onChange != nil {
		l.onChange(id)
	}
}

// Append merges m into its conversation. Merging is idempotent and
// order-independent: the same set of messages yields the same sequence
// whatever order they arrive in.
func (l *Ledger) Append(m domain.Message) Result {
	l.mu.Lock()
	r := l.merge(l.thread(m.ConversationID), m)
	l.mu.Unlock()

	metrics.LedgerMerges.WithLabelValues(string(r)).Inc()
	if r != Duplicate {
		l.changed(m.ConversationID)
	}
	return r
}

func (l *Ledger) merge(t *thread, m domain.Message) Result {
	if !m.Provisional && m.Status == domain.StatusPending {
		m.Status = domain.StatusSent
	}

	if i := slices.IndexFunc(t.entries, func(e domain.Message) bool { return e.ID == m.ID }); i >= 0 {
		cur := t.entries[i]
		next := cur.Status.Advance(m.Status)
		if next == cur.Status {
			return Duplicate
		}
		t.entries[i].Status = next
		return Updated
	}

	if m.Provisional {
		// the confirmation already landed
		if j := l.matchConfirmed(t, m); j >= 0 {
			if t.entries[j].ClientID == "" {
				t.entries[j].ClientID = m.ClientID
			}
			return Duplicate
		}
	} else if j := l.matchProvisional(t, m); j >= 0 {
		prev := t.entries[j]
		m.Status = prev.Status.Advance(m.Status)
		if m.ClientID == "" {
			m.ClientID = prev.ClientID
		}
		m.Provisional = false
		t.entries[j] = m
		t.reposition(j)
		return Reconciled
	}

	i, _ := slices.BinarySearchFunc(t.entries, m, compare)
	t.entries = slices.Insert(t.entries, i, m)
	return Inserted
}

// matchProvisional finds the provisional entry confirmed by m: an exact
// client id match, or else the earliest provisional entry with the same
// sender and body created within the echo tolerance.
func (l *Ledger) matchProvisional(t *thread, m domain.Message) int {
	if m.ClientID != "" {
		if i := slices.IndexFunc(t.entries, func(e domain.Message) bool {
			return e.Provisional && e.ClientID == m.ClientID
		}); i >= 0 {
			return i
		}
	}
	return slices.IndexFunc(t.entries, func(e domain.Message) bool {
		if !e.Provisional || e.SenderID != m.SenderID || e.Body != m.Body {
			return false
		}
		if m.ClientID != "" && e.ClientID != "" && e.ClientID != m.ClientID {
			return false
		}
		return l.within(e.CreatedAt, m.CreatedAt)
	})
}

// matchConfirmed is the reverse of matchProvisional: it finds the confirmed
// entry that already stands for the provisional message p. A confirmed
// entry carrying another client id belongs to a different send.
func (l *Ledger) matchConfirmed(t *thread, p domain.Message) int {
	if p.ClientID != "" {
		if i := slices.IndexFunc(t.entries, func(e domain.Message) bool {
			return !e.Provisional && e.ClientID == p.ClientID
		}); i >= 0 {
			return i
		}
	}
	return slices.IndexFunc(t.entries, func(e domain.Message) bool {
		if e.Provisional || e.SenderID != p.SenderID || e.Body != p.Body {
			return false
		}
		if p.ClientID != "" && e.ClientID != "" && e.ClientID != p.ClientID {
			return false
		}
		return l.within(e.CreatedAt, p.CreatedAt)
	})
}

func (l *Ledger) within(a, b time.Time) bool {
	d := a.Sub(b)
	return d <= l.tolerance && d >= -l.tolerance
}

func compare(a, b domain.Message) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}

// reposition moves entry i to keep the sequence sorted after its
// timestamp changed. An entry already in order stays where it is.
func (t *thread) reposition(i int) {
	e := t.entries[i]
	if (i == 0 || !e.Less(t.entries[i-1])) && (i == len(t.entries)-1 || !t.entries[i+1].Less(e)) {
		return
	}
	t.entries = slices.Delete(t.entries, i, i+1)
	j, _ := slices.BinarySearchFunc(t.entries, e, compare)
	t.entries = slices.Insert(t.entries, j, e)
}

// SetStatus advances the status of an entry. It reports whether the entry
// exists.
func (l *Ledger) SetStatus(conversationID, id string, s domain.Status) bool {
	l.mu.Lock()
	t, ok := l.threads[conversationID]
	if !ok {
		l.mu.Unlock()
		return false
	}
	i := slices.IndexFunc(t.entries, func(e domain.Message) bool { return e.ID == id })
	if i < 0 {
		l.mu.Unlock()
		return false
	}
	prev := t.entries[i].Status
	t.entries[i].Status = prev.Advance(s)
	changed := t.entries[i].Status != prev
	l.mu.Unlock()

	if changed {
		l.changed(conversationID)
	}
	return true
}

// MarkRead advances every peer message up to and including upToID to READ
// and returns the ids it changed.
func (l *Ledger) MarkRead(conversationID, upToID, viewerID string) ([]string, error) {
	l.mu.Lock()
	t, ok := l.threads[conversationID]
	if !ok {
		l.mu.Unlock()
		return nil, fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}
	end := slices.IndexFunc(t.entries, func(e domain.Message) bool { return e.ID == upToID })
	if end < 0 {
		l.mu.Unlock()
		return nil, fmt.Errorf("message %s: %w", upToID, domain.ErrNotFound)
	}
	var ids []string
	for i := 0; i <= end; i++ {
		e := &t.entries[i]
		if e.SenderID == viewerID || e.Provisional || e.Status == domain.StatusRead {
			continue
		}
		e.Status = domain.StatusRead
		ids = append(ids, e.ID)
	}
	l.mu.Unlock()

	if len(ids) > 0 {
		l.changed(conversationID)
	}
	return ids, nil
}

// Load fetches the history of a conversation and merges it. Concurrent
// loads of one conversation by the same user share a single fetch. A
// result that arrives after ctx is done is discarded and ctx's error
// returned.
//
// The returned sequence is a snapshot that can be ranged over once.
func (l *Ledger) Load(ctx context.Context, userID, conversationID string) (iter.Seq[domain.Message], error) {
	ch := l.group.DoChan(userID+"\x00"+conversationID, func() (any, error) {
		return l.fetch.ListMessages(context.WithoutCancel(ctx), userID, conversationID)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if err := ctx.Err(); err != nil {
		l.log.Debug("stale history discarded", zap.String("conversation_id", conversationID))
		return nil, err
	}
	if res.Err != nil {
		return nil, res.Err
	}

	fetched := res.Val.([]domain.Message)
	l.mu.Lock()
	// a Reset may have raced the fetch
	if err := ctx.Err(); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	t := l.thread(conversationID)
	local := t.entries
	t.entries = make([]domain.Message, 0, len(fetched)+len(local))
	for _, m := range fetched {
		m.ConversationID = conversationID
		l.merge(t, m)
	}
	// entries the fetch could not have seen: local sends and realtime
	// arrivals that raced the query
	for _, m := range local {
		l.merge(t, m)
	}
	t.loaded = true
	snapshot := slices.Clone(t.entries)
	l.mu.Unlock()

	l.changed(conversationID)
	return once(snapshot), nil
}

func once(msgs []domain.Message) iter.Seq[domain.Message] {
	var used atomic.Bool
	return func(yield func(domain.Message) bool) {
		if used.Swap(true) {
			return
		}
		for _, m := range msgs {
			if !yield(m) {
				return
			}
		}
	}
}

// Messages returns a copy of the conversation's sequence.
func (l *Ledger) Messages(conversationID string) []domain.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.threads[conversationID]; ok {
		return slices.Clone(t.entries)
	}
	return nil
}

func (l *Ledger) Get(conversationID, id string) (domain.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.threads[conversationID]
	if !ok {
		return domain.Message{}, false
	}
	i := slices.IndexFunc(t.entries, func(e domain.Message) bool { return e.ID == id })
	if i < 0 {
		return domain.Message{}, false
	}
	return t.entries[i], true
}

// Loaded reports whether history for the conversation has been merged.
func (l *Ledger) Loaded(conversationID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.threads[conversationID]
	return ok && t.loaded
}

func (l *Ledger) Last(conversationID string) (domain.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.threads[conversationID]
	if !ok || len(t.entries) == 0 {
		return domain.Message{}, false
	}
	return t.entries[len(t.entries)-1], true
}

// Unread counts peer messages not yet READ.
func (l *Ledger) Unread(conversationID, viewerID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.threads[conversationID]
	if !ok {
		return 0
	}
	n := 0
	for _, e := range t.entries {
		if e.SenderID != viewerID && e.Status != domain.StatusRead {
			n++
		}
	}
	return n
}

// Reset drops every conversation, e.g. on sign-out.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.threads = make(map[string]*thread)
	l.mu.Unlock()
}
