package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/yungbote/workspace-core/internal/platform/logger"
	"github.com/yungbote/workspace-core/internal/realtime"
)

// localBus serves a single process.
type localBus struct {
	log *logger.Logger

	mu       sync.RWMutex
	closed   bool
	handlers map[int]func(realtime.ChangeEvent)
	nextID   int
}

func NewLocalBus(log *logger.Logger) Bus {
	return &localBus{
		log:      log.With("service", "LocalBus"),
		handlers: make(map[int]func(realtime.ChangeEvent)),
	}
}

func (b *localBus) Publish(ctx context.Context, ev realtime.ChangeEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, h := range b.handlers {
		h(ev)
	}
	return nil
}

func (b *localBus) StartForwarder(ctx context.Context, onMsg func(ev realtime.ChangeEvent)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	id := b.nextID
	b.nextID++
	b.handlers[id] = onMsg
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}()
	return nil
}

func (b *localBus) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

func (b *localBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[int]func(realtime.ChangeEvent))
	return nil
}
