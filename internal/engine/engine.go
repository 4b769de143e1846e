// Package engine assembles the keyspace, expiry sweeper, blocking-read
// notifier, pub/sub hub and command handler into one embeddable instance.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mnorrsken/memkeys/internal/config"
	"github.com/mnorrsken/memkeys/internal/handler"
	"github.com/mnorrsken/memkeys/internal/metrics"
	"github.com/mnorrsken/memkeys/internal/notify"
	"github.com/mnorrsken/memkeys/internal/pubsub"
	"github.com/mnorrsken/memkeys/internal/resp"
	"github.com/mnorrsken/memkeys/internal/storage"
)

// relayConnectTimeout bounds the initial connection to the relay database.
const relayConnectTimeout = 10 * time.Second

// Engine is one independent memkeys instance.
type Engine struct {
	store    *storage.Store
	sweeper  *storage.Sweeper
	notifier *notify.Notifier
	hub      *pubsub.Hub
	handler  *handler.Handler
	relay    *pubsub.PGRelay
	logger   hclog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// New builds an engine from cfg and starts its background work: the expiry
// sweeper and, when pubsub.relay_dsn is set, the PostgreSQL relay.
func New(cfg config.Config, logger hclog.Logger) (*Engine, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	e := &Engine{
		notifier: notify.New(),
		logger:   logger,
		done:     make(chan struct{}),
	}
	e.store = storage.NewStore(storage.WithExpireHook(func(string) {
		metrics.ExpiredKeys.Inc()
	}))
	e.hub = pubsub.NewHub(logger.Named("pubsub"))
	e.handler = handler.New(e.store, handler.Options{
		Password: cfg.Server.Password,
		Notifier: e.notifier,
		Hub:      e.hub,
		Logger:   logger.Named("handler"),
	})

	if cfg.PubSub.RelayDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), relayConnectTimeout)
		defer cancel()

		relay, err := pubsub.NewPGRelay(ctx, cfg.PubSub.RelayDSN, logger.Named("relay"))
		if err != nil {
			return nil, fmt.Errorf("failed to create pub/sub relay: %w", err)
		}
		if err := relay.Start(ctx, e.hub); err != nil {
			relay.Stop()
			return nil, fmt.Errorf("failed to start pub/sub relay: %w", err)
		}
		e.hub.SetRelay(relay)
		e.relay = relay
		logger.Info("pub/sub relay started", "origin", relay.Origin())
	}

	e.sweeper = storage.NewSweeper(e.store, cfg.Expiry.SweepInterval, cfg.Expiry.SweepSamples, logger)
	e.sweeper.Start(context.Background())

	return e, nil
}

// Handler returns the command handler, for the TCP server.
func (e *Engine) Handler() *handler.Handler {
	return e.handler
}

// Hub returns the pub/sub hub.
func (e *Engine) Hub() *pubsub.Hub {
	return e.hub
}

// DBSize returns the number of keys, counting expired ones not yet reclaimed.
func (e *Engine) DBSize() int64 {
	return int64(e.store.Len())
}

// Execute runs one command and returns its reply. Errors are reported as
// error replies, never as Go errors.
func (e *Engine) Execute(ctx context.Context, name string, args ...string) resp.Value {
	return e.handler.Execute(ctx, name, args...)
}

// Publish delivers message to the channel's subscribers and returns how many
// received it. With a relay configured a relay failure is also returned.
func (e *Engine) Publish(ctx context.Context, channel, message string) (int64, error) {
	return e.hub.Publish(ctx, channel, message)
}

// Subscribe returns a subscriber for channels. It is closed when ctx is
// done, when the engine is closed or by calling its Close method.
func (e *Engine) Subscribe(ctx context.Context, channels ...string) *pubsub.ChannelSubscriber {
	sub := pubsub.NewChannelSubscriber(e.hub, pubsub.DefaultBufferSize)
	if len(channels) > 0 {
		sub.Subscribe(channels...)
	}
	go func() {
		select {
		case <-ctx.Done():
		case <-e.done:
		case <-sub.Done():
			return
		}
		sub.Close()
	}()
	return sub
}

// Close stops background work and releases blocked readers. The engine must
// not be used afterwards.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.done)
		e.sweeper.Stop()
		e.notifier.Stop()
		if e.relay != nil {
			e.hub.SetRelay(nil)
			e.relay.Stop()
		}
		e.logger.Debug("engine closed")
	})
	return nil
}
