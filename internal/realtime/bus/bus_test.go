package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/workspace-core/internal/platform/logger"
	"github.com/yungbote/workspace-core/internal/realtime"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return log
}

func collect(t *testing.T, b Bus, ctx context.Context) <-chan realtime.ChangeEvent {
	t.Helper()
	out := make(chan realtime.ChangeEvent, 8)
	require.NoError(t, b.StartForwarder(ctx, func(ev realtime.ChangeEvent) { out <- ev }))
	return out
}

func waitEvent(t *testing.T, ch <-chan realtime.ChangeEvent) realtime.ChangeEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for forwarded event")
	}
	return realtime.ChangeEvent{}
}

func TestLocalBusForwardsToEveryForwarder(t *testing.T) {
	b := NewLocalBus(testLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := collect(t, b, ctx)
	second := collect(t, b, ctx)

	ev := realtime.ChangeEvent{Channel: realtime.ChannelNewTask, Payload: json.RawMessage(`{"id":"t1"}`)}
	require.NoError(t, b.Publish(ctx, ev))
	require.Equal(t, ev.Channel, waitEvent(t, first).Channel)
	require.JSONEq(t, `{"id":"t1"}`, string(waitEvent(t, second).Payload))

	require.NoError(t, b.Ping(ctx))
	require.NoError(t, b.Close())
	require.ErrorIs(t, b.Publish(ctx, ev), ErrClosed)
	require.ErrorIs(t, b.Ping(ctx), ErrClosed)
}

func TestRedisBusRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	log := testLogger(t)

	publisher, err := NewRedisBus(log, RedisConfig{Addr: mr.Addr(), Channel: "test:changes"})
	require.NoError(t, err)
	defer publisher.Close()
	subscriber, err := NewRedisBus(log, RedisConfig{Addr: mr.Addr(), Channel: "test:changes"})
	require.NoError(t, err)
	defer subscriber.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := collect(t, subscriber, ctx)

	ev, err := realtime.NewEvent(realtime.ChannelNewMessage, map[string]string{"id": "n1", "op": "UPDATE"})
	require.NoError(t, err)
	require.NoError(t, publisher.Publish(ctx, ev))

	out := waitEvent(t, got)
	require.Equal(t, realtime.ChannelNewMessage, out.Channel)
	require.JSONEq(t, `{"id":"n1","op":"UPDATE"}`, string(out.Payload))
	require.NoError(t, subscriber.Ping(ctx))
}

func TestRedisBusSkipsMalformedMessages(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := NewRedisBus(testLogger(t), RedisConfig{Addr: mr.Addr(), Channel: "test:changes"})
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := collect(t, b, ctx)

	mr.Publish("test:changes", "not json")
	mr.Publish("test:changes", `{"payload":{"id":"x"}}`)
	require.NoError(t, b.Publish(ctx, realtime.ChangeEvent{Channel: realtime.ChannelNewMessage}))

	require.Equal(t, realtime.ChannelNewMessage, waitEvent(t, got).Channel)
}

func TestRedisBusCloseStopsForwarders(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := NewRedisBus(testLogger(t), RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)

	_ = collect(t, b, context.Background())
	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels(DefaultRedisChannel)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	require.ErrorIs(t, b.Publish(context.Background(), realtime.ChangeEvent{Channel: realtime.ChannelNewTask}), ErrClosed)
	require.ErrorIs(t, b.StartForwarder(context.Background(), func(realtime.ChangeEvent) {}), ErrClosed)
}

func TestRedisBusRequiresAddr(t *testing.T) {
	_, err := NewRedisBus(testLogger(t), RedisConfig{})
	require.Error(t, err)
}
