package peerset

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-notifnet/config"
	"github.com/dep2p/go-notifnet/internal/core/identity"
	"github.com/dep2p/go-notifnet/internal/core/metrics"
	"github.com/dep2p/go-notifnet/pkg/types"
)

func testConfig(sets ...SetConfig) Config {
	return Config{
		Local:              types.RandomPeerID(),
		Sets:               sets,
		ReservedBackoff:    time.Second,
		RegularBackoff:     10 * time.Second,
		AllocationInterval: time.Second,
		CandidateCacheSize: 16,
	}
}

func startManager(t *testing.T, cfg Config) (*Manager, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	m, err := New(cfg, clk, nil)
	require.NoError(t, err)
	m.Start()
	t.Cleanup(m.Stop)
	return m, clk
}

func nextAction(t *testing.T, m *Manager) Action {
	t.Helper()
	select {
	case a := <-m.Actions():
		return a
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for action")
		return Action{}
	}
}

func noAction(t *testing.T, m *Manager) {
	t.Helper()
	select {
	case a := <-m.Actions():
		t.Fatalf("unexpected action %s", a)
	case <-time.After(50 * time.Millisecond):
	}
}

func snapshot(t *testing.T, m *Manager, set types.SetID) Snapshot {
	t.Helper()
	s, err := m.Snapshot(set)
	require.NoError(t, err)
	return s
}

func TestReservedPeersDialed(t *testing.T) {
	r := types.RandomPeerID()
	m, _ := startManager(t, testConfig(SetConfig{Name: "/a", Reserved: []types.PeerID{r}, OutPeers: 0}))

	assert.Equal(t, Action{Kind: ActionConnect, Set: 0, Peer: r}, nextAction(t, m))
	noAction(t, m)

	snap := snapshot(t, m, 0)
	assert.Equal(t, types.SlotReserved, snap.Connected[r])
	assert.Equal(t, 0, snap.OutUsed, "reserved peers are exempt")
}

func TestOutSlotsFilledFromCandidates(t *testing.T) {
	cfg := testConfig(SetConfig{Name: "/a", OutPeers: 2})
	b1, b2, b3 := types.RandomPeerID(), types.RandomPeerID(), types.RandomPeerID()
	cfg.BootNodes = []types.PeerID{b1, b2, b3, cfg.Local}
	m, clk := startManager(t, cfg)

	assert.Equal(t, b1, nextAction(t, m).Peer)
	assert.Equal(t, b2, nextAction(t, m).Peer)
	noAction(t, m)
	assert.Equal(t, 2, snapshot(t, m, 0).OutUsed)

	// 释放后由下一个候选补上，被释放的节点进入退避
	m.Dropped(0, b1, types.DropRemoteClosed)
	assert.Equal(t, Action{Kind: ActionConnect, Set: 0, Peer: b3}, nextAction(t, m))

	m.Dropped(0, b2, types.DropRemoteClosed)
	noAction(t, m)
	assert.Equal(t, 1, snapshot(t, m, 0).OutUsed)

	clk.Add(16 * time.Second)
	a := nextAction(t, m)
	assert.Equal(t, ActionConnect, a.Kind)
	assert.Contains(t, []types.PeerID{b1, b2}, a.Peer)
	assert.Equal(t, 2, snapshot(t, m, 0).OutUsed)
}

func TestIncomingCapacity(t *testing.T) {
	r := types.RandomPeerID()
	m, _ := startManager(t, testConfig(SetConfig{Name: "/a", Reserved: []types.PeerID{r}, InPeers: 2}))
	nextAction(t, m) // 保留节点拨号

	p1, p2, p3 := types.RandomPeerID(), types.RandomPeerID(), types.RandomPeerID()
	assert.True(t, m.Incoming(0, p1))
	assert.True(t, m.Incoming(0, p2))
	assert.False(t, m.Incoming(0, p3))
	assert.True(t, m.Incoming(0, p1), "already counted")
	assert.True(t, m.Incoming(0, r), "reserved always accepted")
	assert.False(t, m.Incoming(5, p1), "unknown set")

	snap := snapshot(t, m, 0)
	assert.Equal(t, 2, snap.InUsed)
	assert.NotContains(t, snap.Connected, p3, "refusal creates no state")

	assert.False(t, m.CanAccept(p3))
	assert.True(t, m.CanAccept(p1))
	assert.True(t, m.CanAccept(r))

	m.Dropped(0, p1, types.DropRemoteClosed)
	m.Dropped(0, p1, types.DropRemoteClosed)
	assert.Equal(t, 1, snapshot(t, m, 0).InUsed)
	assert.True(t, m.Incoming(0, p3))
}

func TestReservedOnly(t *testing.T) {
	r := types.RandomPeerID()
	m, _ := startManager(t, testConfig(SetConfig{Name: "/a", Reserved: []types.PeerID{r}, InPeers: 4}))
	nextAction(t, m)

	p1, p2 := types.RandomPeerID(), types.RandomPeerID()
	require.True(t, m.Incoming(0, p1))
	require.True(t, m.Incoming(0, p2))

	m.SetReservedOnly(0, true)
	drops := map[types.PeerID]bool{}
	for i := 0; i < 2; i++ {
		a := nextAction(t, m)
		assert.Equal(t, ActionDrop, a.Kind)
		drops[a.Peer] = true
	}
	assert.Equal(t, map[types.PeerID]bool{p1: true, p2: true}, drops)

	snap := snapshot(t, m, 0)
	assert.True(t, snap.ReservedOnly)
	assert.Equal(t, 0, snap.InUsed)
	assert.False(t, m.Incoming(0, types.RandomPeerID()))
	assert.True(t, m.Incoming(0, r))
}

func TestRemoveReserved(t *testing.T) {
	r1, r2 := types.RandomPeerID(), types.RandomPeerID()
	m, _ := startManager(t, testConfig(SetConfig{Name: "/a", InPeers: 1}))

	m.AddReserved(0, r1)
	m.AddReserved(0, r2)
	assert.Equal(t, ActionConnect, nextAction(t, m).Kind)
	assert.Equal(t, ActionConnect, nextAction(t, m).Kind)

	// 出站槽位为 0，无法转为普通节点，被断开
	m.RemoveReserved(0, r1)
	assert.Equal(t, Action{Kind: ActionDrop, Set: 0, Peer: r1}, nextAction(t, m))

	snap := snapshot(t, m, 0)
	assert.NotContains(t, snap.Connected, r1)
	assert.Equal(t, []types.PeerID{r2}, snap.Reserved)

	// 之后的 Dropped 是空操作
	m.Dropped(0, r1, types.DropLocalDisconnect)
	assert.Len(t, snapshot(t, m, 0).Connected, 1)
}

func TestAddReservedConvertsRegular(t *testing.T) {
	m, _ := startManager(t, testConfig(SetConfig{Name: "/a", InPeers: 1}))
	p := types.RandomPeerID()
	require.True(t, m.Incoming(0, p))
	assert.Equal(t, 1, snapshot(t, m, 0).InUsed)

	m.AddReserved(0, p)
	snap := snapshot(t, m, 0)
	assert.Equal(t, 0, snap.InUsed)
	assert.Equal(t, types.SlotReserved, snap.Connected[p])
	noAction(t, m)
}

func TestDiscoveredCandidates(t *testing.T) {
	m, _ := startManager(t, testConfig(SetConfig{Name: "/a", OutPeers: 1}, SetConfig{Name: "/b", OutPeers: 1}))
	p := types.RandomPeerID()
	m.Discovered(p)

	got := map[types.SetID]types.PeerID{}
	for i := 0; i < 2; i++ {
		a := nextAction(t, m)
		got[a.Set] = a.Peer
	}
	assert.Equal(t, map[types.SetID]types.PeerID{0: p, 1: p}, got)
}

func TestConcurrentAdmissionRespectsCapacity(t *testing.T) {
	const capacity = 5
	m, _ := startManager(t, testConfig(SetConfig{Name: "/a", InPeers: capacity}))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				p := types.RandomPeerID()
				if m.Incoming(0, p) {
					m.Dropped(0, p, types.DropRemoteClosed)
				}
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		snap := snapshot(t, m, 0)
		require.LessOrEqual(t, snap.InUsed, capacity)
		select {
		case <-done:
			assert.Equal(t, 0, snapshot(t, m, 0).InUsed)
			return
		default:
		}
	}
}

func TestStoppedManager(t *testing.T) {
	m, err := New(testConfig(SetConfig{Name: "/a", InPeers: 1}), clock.NewMock(), nil)
	require.NoError(t, err)
	m.Start()
	m.Stop()

	assert.False(t, m.Incoming(0, types.RandomPeerID()))
	assert.False(t, m.CanAccept(types.RandomPeerID()))
	m.Dropped(0, types.RandomPeerID(), types.DropRemoteClosed)
	_, err = m.Snapshot(0)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestConfigFrom(t *testing.T) {
	cfg := config.NewLocalConfig()
	r := types.MultiaddrWithPeerID{Multiaddr: types.NewMemoryMultiaddr(9), PeerID: types.RandomPeerID()}
	cfg.DefaultPeersSet.ReservedNodes = []types.MultiaddrWithPeerID{r}
	cfg.ExtraSets = []config.NonDefaultSetConfig{
		config.NewNonDefaultSetConfig("/a", 1024),
		{NotificationsProtocol: "/b", MaxNotificationSize: 1024, SetConfig: &config.SetConfig{InPeers: 1, OutPeers: 2, ReservedOnly: true}},
	}
	boot := types.MultiaddrWithPeerID{Multiaddr: types.NewMemoryMultiaddr(10), PeerID: types.RandomPeerID()}
	cfg.BootNodes = []types.MultiaddrWithPeerID{boot}

	local := types.RandomPeerID()
	c := ConfigFrom(cfg, local)
	require.Len(t, c.Sets, 2)
	assert.Equal(t, []types.PeerID{r.PeerID}, c.Sets[0].Reserved)
	assert.Equal(t, 25, c.Sets[0].InPeers)
	assert.Equal(t, 75, c.Sets[0].OutPeers)
	assert.Equal(t, SetConfig{Name: "/b", InPeers: 1, OutPeers: 2, ReservedOnly: true}, c.Sets[1])
	assert.Equal(t, []types.PeerID{boot.PeerID}, c.BootNodes)
	assert.Equal(t, local, c.Local)
	assert.Equal(t, cfg.PeerSet.RegularBackoff.Duration(), c.RegularBackoff)
}

func TestModule(t *testing.T) {
	cfg := config.NewLocalConfig()
	cfg.ExtraSets = []config.NonDefaultSetConfig{config.NewNonDefaultSetConfig("/a", 1024)}

	var m *Manager
	app := fxtest.New(t,
		fx.Supply(cfg),
		fx.Provide(
			func() clock.Clock { return clock.NewMock() },
			func() (*metrics.Metrics, error) { return metrics.New(nil) },
		),
		identity.Module(),
		Module(),
		fx.Populate(&m),
	)
	app.RequireStart()
	assert.Equal(t, 1, m.NumSets())
	assert.True(t, m.Incoming(0, types.RandomPeerID()))
	app.RequireStop()
	assert.False(t, m.Incoming(0, types.RandomPeerID()))
}
