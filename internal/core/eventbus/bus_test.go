package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-notifnet/config"
	"github.com/dep2p/go-notifnet/internal/core/metrics"
	"github.com/dep2p/go-notifnet/pkg/types"
)

func closedEvent(i int) types.Event {
	var id types.PeerID
	id[0], id[1] = byte(i>>8), byte(i)
	return types.StreamClosed{Remote: id, Protocol: "/test"}
}

func indexOf(ev types.Event) int {
	id := ev.(types.StreamClosed).Remote
	return int(id[0])<<8 | int(id[1])
}

func TestSubscribersSeeSameOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a, err := bus.Subscribe("a")
	require.NoError(t, err)
	b, err := bus.Subscribe("b")
	require.NoError(t, err)

	const n = 1000
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < n; i += 4 {
				bus.Emit(closedEvent(i))
			}
		}(w)
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := 0; i < n; i++ {
		ea, err := a.Next(ctx)
		require.NoError(t, err)
		eb, err := b.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, indexOf(ea), indexOf(eb))
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	slow, err := bus.Subscribe("slow")
	require.NoError(t, err)
	fast, err := bus.Subscribe("fast")
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		bus.Emit(closedEvent(i))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < 100; i++ {
		ev, err := fast.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, indexOf(ev))
	}

	// slow 从未读取，事件仍按序等待
	for i := 0; i < 100; i++ {
		ev, err := slow.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, indexOf(ev))
	}
}

func TestOverflowTerminatesOnlyThatSubscriber(t *testing.T) {
	var overflows atomic.Int32
	bus := NewBus(WithBacklog(4), WithOverflowHook(func(string) { overflows.Add(1) }))
	defer bus.Close()

	victim, err := bus.Subscribe("victim")
	require.NoError(t, err)

	// 积压 4 个，投递 goroutine 最多持有 1 个在途事件
	for i := 0; i < 10; i++ {
		bus.Emit(closedEvent(i))
	}
	assert.Equal(t, int32(1), overflows.Load())
	assert.Equal(t, 0, bus.NumSubscribers())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, err := victim.Next(ctx)
		if err != nil {
			assert.ErrorIs(t, err, ErrSubscriberOverflow)
			break
		}
	}
	assert.ErrorIs(t, victim.Err(), ErrSubscriberOverflow)

	// 新订阅不受影响
	other, err := bus.Subscribe("other")
	require.NoError(t, err)
	bus.Emit(closedEvent(42))
	ev, err := other.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, indexOf(ev))
}

func TestTryNext(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	s, err := bus.Subscribe("s")
	require.NoError(t, err)

	_, ok := s.TryNext()
	assert.False(t, ok)

	bus.Emit(closedEvent(1))
	require.Eventually(t, func() bool {
		ev, ok := s.TryNext()
		return ok && indexOf(ev) == 1
	}, 5*time.Second, time.Millisecond)
}

func TestCloseDeliversBacklog(t *testing.T) {
	bus := NewBus()
	s, err := bus.Subscribe("s")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		bus.Emit(closedEvent(i))
	}
	require.NoError(t, bus.Close())
	bus.Emit(closedEvent(99))

	var got []int
	for ev := range s.Out() {
		got = append(got, indexOf(ev))
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)

	_, err = bus.Subscribe("late")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	s, err := bus.Subscribe("s")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Equal(t, 0, bus.NumSubscribers())

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, s.Err())
}

func TestModule(t *testing.T) {
	cfg := config.NewLocalConfig()
	cfg.Events.SubscriberBacklog = 8

	var bus *Bus
	app := fxtest.New(t,
		fx.Supply(cfg),
		fx.Provide(func() (*metrics.Metrics, error) { return metrics.New(nil) }),
		Module(),
		fx.Populate(&bus),
	)
	app.RequireStart()
	assert.Equal(t, 8, bus.backlog)

	s, err := bus.Subscribe("s")
	require.NoError(t, err)
	app.RequireStop()

	_, ok := <-s.Out()
	assert.False(t, ok)
}
