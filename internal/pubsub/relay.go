package pubsub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// DefaultRelayChannel is the PostgreSQL channel relayed messages travel on.
const DefaultRelayChannel = "memkeys_pubsub"

// maxNotifyPayload is PostgreSQL's NOTIFY payload limit (8000 bytes, minus
// the terminator).
const maxNotifyPayload = 7999

// ErrPayloadTooLarge is returned when an encoded message does not fit a
// NOTIFY payload. Local subscribers still receive it.
var ErrPayloadTooLarge = errors.New("message too large for relay")

// envelope wraps a publication. Every instance listens on one PostgreSQL
// channel, so the Redis channel travels in the payload and patterns work.
type envelope struct {
	Origin  string `json:"o"`
	Channel string `json:"c"`
	Message string `json:"m"` // base64, messages are binary safe
}

func encodeEnvelope(origin, channel, message string) (string, error) {
	b, err := json.Marshal(envelope{
		Origin:  origin,
		Channel: channel,
		Message: base64.StdEncoding.EncodeToString([]byte(message)),
	})
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	if len(b) > maxNotifyPayload {
		return "", ErrPayloadTooLarge
	}
	return string(b), nil
}

func decodeEnvelope(payload string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return env, fmt.Errorf("decode payload: %w", err)
	}
	msg, err := base64.StdEncoding.DecodeString(env.Message)
	if err != nil {
		return env, fmt.Errorf("decode message: %w", err)
	}
	env.Message = string(msg)
	return env, nil
}

// PGRelay relays PUBLISH between memkeys instances sharing a PostgreSQL
// database, through LISTEN/NOTIFY.
type PGRelay struct {
	pool    *pgxpool.Pool
	dsn     string
	channel string
	origin  string
	logger  hclog.Logger

	listenerConn *pgx.Conn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPGRelay connects the publishing pool. Call Start to begin listening.
func NewPGRelay(ctx context.Context, dsn string, logger hclog.Logger) (*PGRelay, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach relay database: %w", err)
	}
	rctx, cancel := context.WithCancel(context.Background())
	return &PGRelay{
		pool:    pool,
		dsn:     dsn,
		channel: DefaultRelayChannel,
		origin:  ulid.Make().String(),
		logger:  logger,
		ctx:     rctx,
		cancel:  cancel,
	}, nil
}

// Origin identifies this instance in relayed payloads.
func (r *PGRelay) Origin() string {
	return r.origin
}

// Publish sends a message to the other instances.
func (r *PGRelay) Publish(ctx context.Context, channel, message string) error {
	payload, err := encodeEnvelope(r.origin, channel, message)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, "SELECT pg_notify($1, $2)", r.channel, payload); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}
	return nil
}

// Start opens the dedicated LISTEN connection and delivers messages from
// other instances to hub.
func (r *PGRelay) Start(ctx context.Context, hub *Hub) error {
	if err := r.connect(ctx); err != nil {
		return err
	}
	r.wg.Add(1)
	go r.listenLoop(hub)
	return nil
}

func (r *PGRelay) connect(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, r.dsn)
	if err != nil {
		return fmt.Errorf("failed to create listener connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{r.channel}.Sanitize()); err != nil {
		conn.Close(context.Background())
		return fmt.Errorf("failed to LISTEN on %s: %w", r.channel, err)
	}
	r.listenerConn = conn
	return nil
}

func (r *PGRelay) listenLoop(hub *Hub) {
	defer r.wg.Done()

	const (
		minBackoff = 50 * time.Millisecond
		maxBackoff = 5 * time.Second
	)
	backoff := minBackoff

	for {
		if r.listenerConn == nil || r.listenerConn.IsClosed() {
			if err := r.connect(r.ctx); err != nil {
				if r.ctx.Err() != nil {
					return
				}
				r.logger.Warn("relay reconnect failed", "error", err, "retry_in", backoff)
				select {
				case <-time.After(backoff):
				case <-r.ctx.Done():
					return
				}
				backoff = min(backoff*2, maxBackoff)
				continue
			}
			backoff = minBackoff
		}

		notification, err := r.listenerConn.WaitForNotification(r.ctx)
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			r.logger.Warn("relay listen failed", "error", err)
			r.listenerConn.Close(context.Background())
			continue
		}

		env, err := decodeEnvelope(notification.Payload)
		if err != nil {
			r.logger.Warn("dropping malformed relay payload", "error", err)
			continue
		}
		if env.Origin == r.origin {
			continue
		}
		r.logger.Trace("relayed message", "channel", env.Channel, "origin", env.Origin)
		hub.Deliver(env.Channel, env.Message)
	}
}

// Stop ends the listener and closes both connections.
func (r *PGRelay) Stop() {
	r.cancel()
	r.wg.Wait()
	if r.listenerConn != nil {
		r.listenerConn.Close(context.Background())
	}
	r.pool.Close()
}
