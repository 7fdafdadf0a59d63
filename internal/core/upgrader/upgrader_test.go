package upgrader

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-notifnet/config"
	"github.com/dep2p/go-notifnet/internal/core/identity"
	"github.com/dep2p/go-notifnet/pkg/types"
)

type result struct {
	conn *Conn
	err  error
}

func newUpgrader(t *testing.T) *Upgrader {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	return New(id, DefaultConfig())
}

// upgradePair 在 net.Pipe 两端并发升级
func upgradePair(t *testing.T, client, server *Upgrader, expected types.PeerID) (result, result) {
	t.Helper()
	cc, sc := net.Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := make(chan result, 1)
	go func() {
		c, err := server.Upgrade(ctx, sc, types.DirInbound, types.PeerID{}, "")
		srv <- result{c, err}
	}()
	c, err := client.Upgrade(ctx, cc, types.DirOutbound, expected, "/memory/7")
	cli := result{c, err}
	s := <-srv

	t.Cleanup(func() {
		for _, r := range []result{cli, s} {
			if r.conn != nil {
				r.conn.Close()
			}
		}
	})
	return cli, s
}

func TestUpgrade(t *testing.T) {
	client, server := newUpgrader(t), newUpgrader(t)

	cli, srv := upgradePair(t, client, server, server.LocalPeer())
	require.NoError(t, cli.err)
	require.NoError(t, srv.err)

	assert.Equal(t, server.LocalPeer(), cli.conn.RemotePeer())
	assert.Equal(t, client.LocalPeer(), srv.conn.RemotePeer())
	assert.Equal(t, types.DirOutbound, cli.conn.Direction())
	assert.Equal(t, types.DirInbound, srv.conn.Direction())
	assert.Equal(t, client.LocalPeer(), cli.conn.Dialer())
	assert.Equal(t, client.LocalPeer(), srv.conn.Dialer())
	assert.Equal(t, types.Multiaddr("/memory/7"), cli.conn.RemoteMultiaddr())
	assert.NotEmpty(t, cli.conn.ID())
	assert.NotEqual(t, cli.conn.ID(), srv.conn.ID())

	// 会话可用
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	accepted := make(chan []byte, 1)
	go func() {
		s, err := srv.conn.Session().AcceptStream()
		if err != nil {
			return
		}
		buf := make([]byte, 5)
		if _, err := s.Read(buf); err == nil {
			accepted <- buf
		}
	}()
	s, err := cli.conn.Session().OpenStream(ctx)
	require.NoError(t, err)
	_, err = s.Write([]byte("hello"))
	require.NoError(t, err)
	select {
	case got := <-accepted:
		assert.Equal(t, []byte("hello"), got)
	case <-ctx.Done():
		t.Fatal("stream data not received")
	}
}

func TestUpgradePeerIDMismatch(t *testing.T) {
	client, server := newUpgrader(t), newUpgrader(t)

	cli, srv := upgradePair(t, client, server, types.RandomPeerID())
	assert.ErrorIs(t, cli.err, ErrPeerIDMismatch)
	assert.Error(t, srv.err)
}

func TestUpgradeSelfConnection(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)
	a, b := New(id, DefaultConfig()), New(id, DefaultConfig())

	cli, srv := upgradePair(t, a, b, id.PeerID())
	assert.ErrorIs(t, cli.err, ErrSelfConnection)
	assert.ErrorIs(t, srv.err, ErrSelfConnection)
}

func TestUpgradeRequiresPeerID(t *testing.T) {
	u := newUpgrader(t)
	c, _ := net.Pipe()
	_, err := u.Upgrade(context.Background(), c, types.DirOutbound, types.PeerID{}, "")
	assert.ErrorIs(t, err, ErrNoPeerID)
}

func TestUpgradeTimeout(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)
	u := New(id, Config{HandshakeTimeout: 50 * time.Millisecond, Muxer: DefaultConfig().Muxer})

	c, peer := net.Pipe()
	defer peer.Close()
	_, err = u.Upgrade(context.Background(), c, types.DirInbound, types.PeerID{}, "")
	assert.ErrorIs(t, err, ErrHandshakeFailed)
}

func TestModule(t *testing.T) {
	cfg := config.NewLocalConfig()
	var u *Upgrader
	app := fxtest.New(t,
		fx.Supply(cfg),
		identity.Module(),
		Module(),
		fx.Populate(&u),
	)
	app.RequireStart()
	defer app.RequireStop()
	assert.Equal(t, cfg.Notifications.HandshakeTimeout.Duration(), u.cfg.HandshakeTimeout)
	assert.False(t, u.LocalPeer().IsEmpty())
}
