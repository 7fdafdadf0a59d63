package notifications

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	muxer "github.com/dep2p/go-notifnet/internal/core/muxer/yamux"
	"github.com/dep2p/go-notifnet/internal/core/protocol"
	"github.com/dep2p/go-notifnet/pkg/types"
)

const waitFor = 5 * time.Second

type fakePeerSet struct {
	mu       sync.Mutex
	refuse   bool
	incoming int
	dropped  []types.DropReason
}

func (f *fakePeerSet) Incoming(types.SetID, types.PeerID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incoming++
	return !f.refuse
}

func (f *fakePeerSet) Dropped(_ types.SetID, _ types.PeerID, reason types.DropReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, reason)
}

func (f *fakePeerSet) drops() []types.DropReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.DropReason(nil), f.dropped...)
}

func (f *fakePeerSet) incomingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.incoming
}

type recorder struct {
	ch chan types.Event
}

func (r *recorder) Emit(ev types.Event) { r.ch <- ev }

func (r *recorder) next(t *testing.T) types.Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func (r *recorder) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("unexpected event %T", ev)
	case <-time.After(d):
	}
}

type testSide struct {
	id      types.PeerID
	h       *Handler
	ps      *fakePeerSet
	ev      *recorder
	queues  *QueueTable
	clk     *clock.Mock
	session *muxer.Session
	started bool
}

func (s *testSide) start() {
	s.started = true
	go s.h.Run()
}

func (s *testSide) state(t *testing.T) types.SubstreamState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	return s.h.State(ctx, 0)
}

func testConfig() Config {
	return Config{
		QueueSize:        16,
		HandshakeTimeout: 10 * time.Second,
		MaxHandshakeSize: 1024,
	}
}

func registry(t *testing.T, descs ...protocol.Descriptor) *protocol.Registry {
	t.Helper()
	r, err := protocol.NewRegistry(descs)
	require.NoError(t, err)
	return r
}

func newTestPair(t *testing.T, regA, regB *protocol.Registry, cfg Config) (*testSide, *testSide) {
	t.Helper()
	c1, c2 := net.Pipe()
	sa, err := muxer.NewSession(c1, false, muxer.DefaultConfig())
	require.NoError(t, err)
	sb, err := muxer.NewSession(c2, true, muxer.DefaultConfig())
	require.NoError(t, err)

	a := &testSide{id: types.RandomPeerID(), session: sa}
	b := &testSide{id: types.RandomPeerID(), session: sb}
	build := func(s *testSide, remote types.PeerID, reg *protocol.Registry) {
		s.ps = &fakePeerSet{}
		s.ev = &recorder{ch: make(chan types.Event, 1024)}
		s.queues = NewQueueTable()
		s.clk = clock.NewMock()
		s.h = NewHandler(HandlerParams{
			ConnID:     "test",
			Remote:     remote,
			Session:    s.session,
			Registry:   reg,
			Negotiator: protocol.NewNegotiator(reg),
			PeerSet:    s.ps,
			Events:     s.ev,
			Queues:     s.queues,
			Clock:      s.clk,
			Config:     cfg,
		})
	}
	build(a, b.id, regA)
	build(b, a.id, regB)

	t.Cleanup(func() {
		for _, s := range []*testSide{a, b} {
			s.h.Shutdown()
			if s.started {
				select {
				case <-s.h.Done():
				case <-time.After(waitFor):
					t.Error("handler did not exit")
				}
			}
		}
	})
	return a, b
}

func desc(name string, max uint64, hs string) protocol.Descriptor {
	return protocol.Descriptor{Name: types.ProtocolName(name), MaxNotificationSize: max, Handshake: []byte(hs)}
}

func TestOpenSendClose(t *testing.T) {
	a, b := newTestPair(t,
		registry(t, desc("/test/1", 1024, "hs-a")),
		registry(t, desc("/test/1", 1024, "hs-b")),
		testConfig())
	a.start()
	b.start()

	require.True(t, a.h.Open(0))

	opened := a.ev.next(t).(types.StreamOpened)
	assert.Equal(t, b.id, opened.Remote)
	assert.Equal(t, types.ProtocolName("/test/1"), opened.Protocol)
	assert.False(t, opened.HasFallback())
	assert.Equal(t, []byte("hs-b"), opened.ReceivedHandshake)

	opened = b.ev.next(t).(types.StreamOpened)
	assert.Equal(t, a.id, opened.Remote)
	assert.Equal(t, []byte("hs-a"), opened.ReceivedHandshake)
	assert.Equal(t, 1, b.ps.incomingCount())

	q := a.queues.Get(b.id, 0)
	require.NotNil(t, q)
	assert.True(t, q.TryPush([]byte("hello")))

	s, err := NewSender(a.queues, b.id, 0)
	require.NoError(t, err)
	r, err := s.Ready(context.Background())
	require.NoError(t, err)
	require.NoError(t, r.Send([]byte("world")))

	for _, want := range []string{"hello", "world"} {
		recv := b.ev.next(t).(types.NotificationsReceived)
		require.Len(t, recv.Messages, 1)
		assert.Equal(t, types.ProtocolName("/test/1"), recv.Messages[0].Protocol)
		assert.Equal(t, []byte(want), recv.Messages[0].Payload)
	}

	// 反方向
	qb := b.queues.Get(a.id, 0)
	require.NotNil(t, qb)
	assert.True(t, qb.TryPush([]byte("back")))
	recv := a.ev.next(t).(types.NotificationsReceived)
	assert.Equal(t, []byte("back"), recv.Messages[0].Payload)

	require.True(t, a.h.Disconnect(0))
	assert.Equal(t, types.StreamClosed{Remote: b.id, Protocol: "/test/1"}, a.ev.next(t))
	assert.Equal(t, types.StreamClosed{Remote: a.id, Protocol: "/test/1"}, b.ev.next(t))

	assert.Equal(t, []types.DropReason{types.DropLocalDisconnect}, a.ps.drops())
	assert.Equal(t, []types.DropReason{types.DropRemoteClosed}, b.ps.drops())
	assert.Nil(t, a.queues.Get(b.id, 0))
	assert.True(t, s.IsClosed())
	assert.Equal(t, types.StateClosed, a.state(t))
}

func TestReopenAfterClose(t *testing.T) {
	a, b := newTestPair(t,
		registry(t, desc("/test/1", 1024, "")),
		registry(t, desc("/test/1", 1024, "")),
		testConfig())
	a.start()
	b.start()

	for i := 0; i < 3; i++ {
		require.True(t, a.h.Open(0))
		assert.IsType(t, types.StreamOpened{}, a.ev.next(t))
		assert.IsType(t, types.StreamOpened{}, b.ev.next(t))

		require.True(t, a.h.Disconnect(0))
		assert.IsType(t, types.StreamClosed{}, a.ev.next(t))
		assert.IsType(t, types.StreamClosed{}, b.ev.next(t))
	}
	assert.Len(t, a.ps.drops(), 3)
	assert.Len(t, b.ps.drops(), 3)
}

func TestAdmissionRefused(t *testing.T) {
	a, b := newTestPair(t,
		registry(t, desc("/test/1", 1024, "")),
		registry(t, desc("/test/1", 1024, "")),
		testConfig())
	b.ps.refuse = true
	a.start()
	b.start()

	require.True(t, a.h.Open(0))
	require.Eventually(t, func() bool {
		return len(a.ps.drops()) == 1
	}, waitFor, 5*time.Millisecond)

	assert.Equal(t, []types.DropReason{types.DropRefused}, a.ps.drops())
	assert.Equal(t, 1, b.ps.incomingCount())
	assert.Empty(t, b.ps.drops(), "refusal creates no state")
	assert.Equal(t, types.StateClosed, a.state(t))
	a.ev.none(t, 50*time.Millisecond)
	b.ev.none(t, 0)
}

func TestNoCommonProtocolName(t *testing.T) {
	a, b := newTestPair(t,
		registry(t, desc("/a/1", 1024, "")),
		registry(t, desc("/b/1", 1024, "")),
		testConfig())
	a.start()
	b.start()

	require.True(t, a.h.Open(0))
	require.Eventually(t, func() bool {
		return len(a.ps.drops()) == 1
	}, waitFor, 5*time.Millisecond)

	assert.Equal(t, []types.DropReason{types.DropRefused}, a.ps.drops())
	assert.Equal(t, 0, b.ps.incomingCount())
	a.ev.none(t, 50*time.Millisecond)
	b.ev.none(t, 0)
}

func TestFallbackName(t *testing.T) {
	newer := protocol.Descriptor{
		Name:                "/new",
		FallbackNames:       []types.ProtocolName{"/old"},
		MaxNotificationSize: 1024,
	}
	a, b := newTestPair(t,
		registry(t, newer),
		registry(t, desc("/old", 1024, "")),
		testConfig())
	a.start()
	b.start()

	require.True(t, a.h.Open(0))

	opened := a.ev.next(t).(types.StreamOpened)
	assert.Equal(t, types.ProtocolName("/new"), opened.Protocol)
	assert.Equal(t, types.ProtocolName("/old"), opened.NegotiatedFallback)

	opened = b.ev.next(t).(types.StreamOpened)
	assert.Equal(t, types.ProtocolName("/old"), opened.Protocol)
	assert.False(t, opened.HasFallback())
}

func TestHandshakeTimeout(t *testing.T) {
	cfg := testConfig()
	a, _ := newTestPair(t,
		registry(t, desc("/test/1", 1024, "")),
		registry(t, desc("/test/1", 1024, "")),
		cfg)
	// 对端不运行 Handler，协商永远得不到应答
	a.start()

	require.True(t, a.h.Open(0))
	require.Equal(t, types.StateOpening, a.state(t))

	a.clk.Add(cfg.HandshakeTimeout)
	require.Eventually(t, func() bool {
		return len(a.ps.drops()) == 1
	}, waitFor, 5*time.Millisecond)

	assert.Equal(t, []types.DropReason{types.DropTimeout}, a.ps.drops())
	assert.Equal(t, types.StateClosed, a.state(t))
	a.ev.none(t, 50*time.Millisecond)
}

func TestDisconnectWhileOpening(t *testing.T) {
	a, _ := newTestPair(t,
		registry(t, desc("/test/1", 1024, "")),
		registry(t, desc("/test/1", 1024, "")),
		testConfig())
	a.start()

	require.True(t, a.h.Open(0))
	require.Equal(t, types.StateOpening, a.state(t))
	require.True(t, a.h.Disconnect(0))

	assert.Equal(t, types.StateClosed, a.state(t))
	assert.Equal(t, []types.DropReason{types.DropLocalDisconnect}, a.ps.drops())
	a.ev.none(t, 50*time.Millisecond)
}

func TestDisconnectClosedIsNoop(t *testing.T) {
	a, _ := newTestPair(t,
		registry(t, desc("/test/1", 1024, "")),
		registry(t, desc("/test/1", 1024, "")),
		testConfig())
	a.start()

	require.True(t, a.h.Disconnect(0))
	require.True(t, a.h.Disconnect(7))
	assert.Equal(t, types.StateClosed, a.state(t))
	assert.Empty(t, a.ps.drops())
	a.ev.none(t, 20*time.Millisecond)
}

func TestOversizedInboundFrame(t *testing.T) {
	a, b := newTestPair(t,
		registry(t, desc("/test/1", 16, "")),
		registry(t, desc("/test/1", 1024, "")),
		testConfig())
	a.start()
	b.start()

	require.True(t, a.h.Open(0))
	a.ev.next(t)
	b.ev.next(t)

	q := b.queues.Get(a.id, 0)
	require.NotNil(t, q)
	require.True(t, q.TryPush(make([]byte, 100)))

	assert.Equal(t, types.StreamClosed{Remote: b.id, Protocol: "/test/1"}, a.ev.next(t))
	assert.Equal(t, []types.DropReason{types.DropProtocolViolation}, a.ps.drops())
	assert.IsType(t, types.StreamClosed{}, b.ev.next(t))
}

func TestConnectionLoss(t *testing.T) {
	a, b := newTestPair(t,
		registry(t, desc("/test/1", 1024, "")),
		registry(t, desc("/test/1", 1024, "")),
		testConfig())
	a.start()
	b.start()

	require.True(t, a.h.Open(0))
	a.ev.next(t)
	b.ev.next(t)

	require.NoError(t, b.session.Close())

	assert.IsType(t, types.StreamClosed{}, a.ev.next(t))
	assert.IsType(t, types.StreamClosed{}, b.ev.next(t))
	for _, s := range []*testSide{a, b} {
		select {
		case <-s.h.Done():
		case <-time.After(waitFor):
			t.Fatal("handler did not exit")
		}
		assert.Len(t, s.ps.drops(), 1)
	}

	// 已退出的 Handler 不再接受打开请求
	assert.False(t, a.h.Open(0))
	assert.Equal(t, types.StateClosed, a.state(t))
}

func TestIdleConnectionClosed(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = time.Second
	a, b := newTestPair(t,
		registry(t, desc("/test/1", 1024, "")),
		registry(t, desc("/test/1", 1024, "")),
		cfg)
	a.start()
	b.start()

	require.Equal(t, types.StateClosed, a.state(t))
	a.clk.Add(2 * time.Second)

	select {
	case <-a.h.Done():
	case <-time.After(waitFor):
		t.Fatal("idle connection not closed")
	}
	select {
	case <-b.h.Done():
	case <-time.After(waitFor):
		t.Fatal("remote handler did not exit")
	}
	assert.Empty(t, a.ps.drops())
}
