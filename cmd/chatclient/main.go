package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-client/internal/api"
	"github.com/fathima-sithara/chat-client/internal/client"
	"github.com/fathima-sithara/chat-client/internal/config"
	"github.com/fathima-sithara/chat-client/internal/dispatcher"
	"github.com/fathima-sithara/chat-client/internal/domain"
	"github.com/fathima-sithara/chat-client/internal/events"
	"github.com/fathima-sithara/chat-client/internal/logger"
	"github.com/fathima-sithara/chat-client/internal/metrics"
	"github.com/fathima-sithara/chat-client/internal/realtime"
	"github.com/fathima-sithara/chat-client/internal/session"
	"github.com/fathima-sithara/chat-client/internal/store"
	"github.com/fathima-sithara/chat-client/internal/store/memory"
	mongostore "github.com/fathima-sithara/chat-client/internal/store/mongo"
)

func main() {
	cfg, err := config.Load(os.Getenv("CHAT_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Config{Development: cfg.Development(), Level: cfg.App.LogLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("chat client stopped", zap.Error(err))
	}
}

// backend is the storage and feed pair selected by app.backend. onSignIn
// runs before the client reacts to a new identity.
type backend struct {
	store    store.Store
	feed     realtime.Feed
	closers  []func()
	onSignIn func(domain.Identity)
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	metrics.Init()

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range be.closers {
			c()
		}
	}()

	sess := session.New(session.NewFileCache(cfg.Session.CacheFile), log)
	sess.OnChange(func(id *domain.Identity) {
		if id != nil && be.onSignIn != nil {
			be.onSignIn(*id)
		}
	})

	if err := sess.Rehydrate(); err != nil {
		log.Warn("session cache unreadable", zap.Error(err))
	}

	guarded := store.NewGuarded(be.store, store.BreakerConfig{
		MaxFailures: cfg.Breaker.MaxFailures,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		CallTimeout: cfg.CallTimeout,
	}, log)

	c := client.New(sess, guarded, be.feed, client.Config{
		EchoTolerance: cfg.EchoTolerance,
		Dispatcher: dispatcher.Config{
			WriteTimeout:    cfg.WriteTimeout,
			RetryMaxElapsed: cfg.RetryMaxElapsed,
			SendsPerSecond:  cfg.Dispatcher.SendsPerSecond,
			Burst:           cfg.Dispatcher.SendBurst,
		},
	}, log)
	if err := c.Start(ctx); err != nil {
		log.Warn("initial conversation load failed", zap.Error(err))
	}
	defer c.Stop()

	var tokens *session.TokenParser
	if cfg.Session.JWTSecret != "" {
		tokens = session.NewTokenParser(cfg.Session.JWTSecret)
	}
	app := api.NewServer(c, tokens, log)

	errs := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.App.Port)
		log.Info("starting chat client", zap.String("addr", addr), zap.String("backend", cfg.App.Backend))
		errs <- app.Listen(addr)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		log.Info("shutting down")
	}
	return app.ShutdownWithTimeout(10 * time.Second)
}

func openBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backend, error) {
	switch cfg.App.Backend {
	case "memory", "":
		feed := realtime.NewMemoryFeed()
		st := memory.New(memory.WithPublisher(feed))
		return &backend{
			store: st,
			feed:  feed,
			onSignIn: func(id domain.Identity) {
				st.PutProfile(id)
				st.SeedDemo(id.ID)
			},
		}, nil

	case "mongo":
		be := &backend{}
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		be.closers = append(be.closers, func() { _ = rdb.Close() })
		feed := realtime.NewRedisFeed(rdb, cfg.Redis.Prefix, log)
		be.feed = feed

		pubs := store.Publishers{feed}
		if len(cfg.Kafka.Brokers) > 0 {
			kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
			be.closers = append(be.closers, func() { _ = kp.Close() })
			pubs = append(pubs, kp)
		}

		mc, err := mongostore.Connect(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, fmt.Errorf("mongo connect: %w", err)
		}
		be.closers = append(be.closers, func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mc.Disconnect(dctx)
		})
		st, err := mongostore.New(ctx, mc.Database(cfg.Mongo.Database), pubs, log)
		if err != nil {
			return nil, err
		}
		be.store = st
		be.onSignIn = func(id domain.Identity) {
			uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := st.UpsertProfile(uctx, id); err != nil {
				log.Warn("profile upsert failed", zap.String("user_id", id.ID), zap.Error(err))
			}
		}
		return be, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.App.Backend)
}
