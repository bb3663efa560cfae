package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/workspace-core/internal/platform/logger"
	"github.com/yungbote/workspace-core/internal/realtime"
)

const (
	DefaultRedisChannel = "workspace:changes"

	// forwardBuffer bounds messages queued between redis and onMsg.
	forwardBuffer = 256
	dialTimeout   = 5 * time.Second
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Channel is the single Pub/Sub channel every instance shares.
	Channel string
}

// redisBus fans events out across instances over one Pub/Sub channel. Each
// instance publishes and also forwards everything it receives, its own
// events included, so a single instance behaves like the local bus.
type redisBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string

	mu     sync.Mutex
	closed bool
	stops  []context.CancelFunc
	wg     sync.WaitGroup
}

func NewRedisBus(log *logger.Logger, cfg RedisConfig) (Bus, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis bus: missing addr")
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = DefaultRedisChannel
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis bus ping %s: %w", addr, err)
	}
	return &redisBus{
		log:     log.With("service", "RedisBus", "channel", channel),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (b *redisBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *redisBus) Publish(ctx context.Context, ev realtime.ChangeEvent) error {
	if b.isClosed() {
		return ErrClosed
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *redisBus) StartForwarder(ctx context.Context, onMsg func(ev realtime.ChangeEvent)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	fctx, stop := context.WithCancel(ctx)
	b.stops = append(b.stops, stop)
	b.wg.Add(1)
	b.mu.Unlock()

	sub := b.rdb.Subscribe(fctx, b.channel)
	// The first reply confirms the subscription is live.
	if _, err := sub.Receive(fctx); err != nil {
		_ = sub.Close()
		stop()
		b.wg.Done()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer b.wg.Done()
		defer sub.Close()
		msgs := sub.Channel(goredis.WithChannelSize(forwardBuffer))
		for {
			select {
			case <-fctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				if ev, ok := b.decode(m); ok {
					onMsg(ev)
				}
			}
		}
	}()
	return nil
}

// decode drops anything that is not a ChangeEvent with a channel; other
// writers may share the redis channel.
func (b *redisBus) decode(m *goredis.Message) (realtime.ChangeEvent, bool) {
	var ev realtime.ChangeEvent
	if m == nil {
		return ev, false
	}
	if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil || ev.Channel == "" {
		b.log.Warn("dropping malformed change event", "error", err, "bytes", len(m.Payload))
		return ev, false
	}
	return ev, true
}

func (b *redisBus) Ping(ctx context.Context) error {
	if b.isClosed() {
		return ErrClosed
	}
	return b.rdb.Ping(ctx).Err()
}

// Close stops every forwarder, waits for them to exit and releases the
// client.
func (b *redisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	stops := b.stops
	b.stops = nil
	b.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	b.wg.Wait()
	return b.rdb.Close()
}
