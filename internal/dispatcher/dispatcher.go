// Package dispatcher sends user-authored messages: it shows them at once
// as provisional entries and reconciles them when the write settles.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fathima-sithara/chat-client/internal/domain"
	"github.com/fathima-sithara/chat-client/internal/ledger"
	"github.com/fathima-sithara/chat-client/internal/logger"
	"github.com/fathima-sithara/chat-client/internal/metrics"
)

// Ledger is where provisional and confirmed messages are merged.
type Ledger interface {
	Append(m domain.Message) ledger.Result
	SetStatus(conversationID, id string, s domain.Status) bool
	Get(conversationID, id string) (domain.Message, bool)
}

type Writer interface {
	InsertMessage(ctx context.Context, m domain.Message) (domain.Message, error)
}

type Config struct {
	WriteTimeout    time.Duration
	RetryMaxElapsed time.Duration
	SendsPerSecond  float64
	Burst           int
}

type Dispatcher struct {
	ledger  Ledger
	writer  Writer
	notify  domain.Notifier
	limiter *rate.Limiter
	cfg     Config
	now     func() time.Time
	log     *zap.Logger

	wg sync.WaitGroup
}

type Option func(*Dispatcher)

func WithNotifier(n domain.Notifier) Option { return func(d *Dispatcher) { d.notify = n } }
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }
func WithLogger(l *zap.Logger) Option       { return func(d *Dispatcher) { d.log = logger.OrNop(l).Named("dispatcher") } }

func New(l Ledger, w Writer, cfg Config, opts ...Option) *Dispatcher {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.SendsPerSecond <= 0 {
		cfg.SendsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	d := &Dispatcher{
		ledger:  l,
		writer:  w,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendsPerSecond), cfg.Burst),
		notify:  domain.NotifierFunc(func(domain.Notice) {}),
		now:     time.Now,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Send appends a PENDING provisional message to conversationID and starts
// the durable write. It returns false, doing nothing, when the text is
// blank or there is no sender or conversation.
func (d *Dispatcher) Send(conversationID, senderID, text string) (domain.Message, bool) {
	body := strings.TrimSpace(text)
	if body == "" || conversationID == "" || senderID == "" {
		return domain.Message{}, false
	}
	cid := uuid.NewString()
	p := domain.Message{
		ID:             "local-" + cid,
		ClientID:       cid,
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      d.now().UTC(),
		Status:         domain.StatusPending,
		Provisional:    true,
	}
	d.ledger.Append(p)
	d.write(p)
	return p, true
}

// Retry re-sends a provisional message whose write failed. The entry stays
// FAILED until a confirmation advances it.
func (d *Dispatcher) Retry(conversationID, id string) error {
	p, ok := d.ledger.Get(conversationID, id)
	if !ok {
		return fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	if !p.Provisional || p.Status != domain.StatusFailed {
		return fmt.Errorf("%w: message %s is %s", domain.ErrInvalidInput, id, p.Status)
	}
	d.write(p)
	return nil
}

func (d *Dispatcher) write(p domain.Message) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.WriteTimeout)
		defer cancel()

		confirmed, err := d.insert(ctx, p)
		if err != nil {
			d.ledger.SetStatus(p.ConversationID, p.ID, domain.StatusFailed)
			metrics.Sends.WithLabelValues("failed").Inc()
			d.log.Warn("send failed", zap.String("conversation_id", p.ConversationID), zap.String("client_id", p.ClientID), zap.Error(err))
			d.notify.Notify(domain.Error("Failed to send message"))
			return
		}
		if _, ok := d.ledger.Get(p.ConversationID, p.ID); !ok {
			// reconciled by its echo already, or the ledger was reset
			// for another identity
			metrics.Sends.WithLabelValues("sent").Inc()
			return
		}
		if confirmed.ClientID == "" {
			confirmed.ClientID = p.ClientID
		}
		confirmed.ConversationID = p.ConversationID
		confirmed.Provisional = false
		d.ledger.Append(confirmed)
		metrics.Sends.WithLabelValues("sent").Inc()
		d.log.Debug("message sent", zap.String("id", confirmed.ID), zap.String("client_id", p.ClientID))
	}()
}

func (d *Dispatcher) insert(ctx context.Context, p domain.Message) (domain.Message, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	out := domain.Message{
		ClientID:       p.ClientID,
		ConversationID: p.ConversationID,
		SenderID:       p.SenderID,
		Body:           p.Body,
		CreatedAt:      p.CreatedAt,
	}

	var confirmed domain.Message
	op := func() error {
		m, err := d.writer.InsertMessage(ctx, out)
		if err != nil {
			if errors.Is(domain.Classify(err), domain.ErrTransient) {
				return err
			}
			return backoff.Permanent(err)
		}
		confirmed = m
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = d.cfg.RetryMaxElapsed
	var err error
	if d.cfg.RetryMaxElapsed <= 0 {
		err = op()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
	} else {
		err = backoff.Retry(op, backoff.WithContext(b, ctx))
	}
	return confirmed, err
}

// Wait blocks until every in-flight write settled.
func (d *Dispatcher) Wait() { d.wg.Wait() }
